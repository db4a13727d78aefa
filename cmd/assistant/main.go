package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "assistant",
	Short: "SpaceAI desktop assistant",
	Long: `assistant turns free-text requests into plans of tool calls, executes them
under a permission authority and reports progress. Run "assistant serve" for the
HTTP console or "assistant ask" for a one-shot request in the terminal.`,
	SilenceUsage: true,
}

var (
	configPath string
	apiAddr    string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:8080", "console API address")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(permissionsCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(toolsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
