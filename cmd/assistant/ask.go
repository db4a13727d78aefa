package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/xela07ax/spaceai-assistant/internal/domain"
	"github.com/xela07ax/spaceai-assistant/internal/infra"
)

var askCmd = &cobra.Command{
	Use:   "ask [request]",
	Short: "Process one request in the terminal",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var (
	askSession string
	askUser    string
	askJSON    bool
)

func init() {
	askCmd.Flags().StringVar(&askSession, "session", "cli", "conversation session id")
	askCmd.Flags().StringVar(&askUser, "user", os.Getenv("USER"), "user id")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the full response as JSON")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := loadApp(ctx, terminal{in: os.Stdin, out: os.Stderr})
	if err != nil {
		return err
	}
	defer a.close()

	// прогресс в stderr, ответ в stdout
	a.engine.AddProgressCallback(func(ev domain.ProgressEvent) error {
		if ev.TotalSteps == 0 {
			return nil
		}
		_, err := fmt.Fprintf(os.Stderr, "[%s] %s %3.0f%% (step %d/%d)\n",
			ev.TaskID[:8], ev.Status, ev.Progress*100, min(ev.CurrentStep+1, ev.TotalSteps), ev.TotalSteps)
		return err
	})

	// один trace id на запрос, попадает в аудит разрешений
	ctx = infra.WithTraceID(ctx, uuid.New().String())
	resp := a.engine.ProcessRequest(ctx, strings.Join(args, " "), map[string]any{"client": "cli"}, askUser, askSession)
	if askJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.Text)
	if resp.TaskID != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "task %s: %s (%.0f%%)\n", resp.TaskID, resp.TaskStatus, resp.Progress*100)
	}
	return nil
}
