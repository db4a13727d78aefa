package main

import (
	"fmt"
	"net/http"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/xela07ax/spaceai-assistant/internal/domain"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and control tasks of a running assistant",
}

var tasksActiveOnly bool

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/v1/tasks"
		if tasksActiveOnly {
			path += "?active=true"
		}
		var tasks []domain.Task
		if err := apiGet(path, &tasks); err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tPROGRESS\tSTEPS\tREQUEST")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%.0f%%\t%d\t%s\n", t.ID, t.Status, t.Progress()*100, len(t.Steps), truncate(t.UserRequest, 60))
		}
		return w.Flush()
	},
}

var tasksShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show task steps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var t domain.Task
		if err := apiGet("/v1/tasks/"+args[0], &t); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Task %s [%s] %.0f%%\n%s\n\n", t.ID, t.Status, t.Progress()*100, t.Description)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STEP\tTOOL\tACTION\tSTATUS\tRETRIES\tERROR")
		for _, s := range t.Steps {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n", s.ID, s.ToolName, s.Action, s.Status, s.RetryCount, s.MaxRetries, s.Error)
		}
		return w.Flush()
	},
}

// taskAction: POST /v1/tasks/{id}/{action}
func taskAction(action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " [task-id]",
		Short: action + " a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := apiDo(http.MethodPost, "/v1/tasks/"+args[0]+"/"+action, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
			return nil
		},
	}
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List tools and flip the kill-switch of a running assistant",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		var list []struct {
			Name      string           `json:"name"`
			Category  string           `json:"category"`
			RiskLevel domain.RiskLevel `json:"risk_level"`
			Enabled   bool             `json:"enabled"`
		}
		if err := apiGet("/v1/tools", &list); err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tCATEGORY\tRISK\tENABLED")
		for _, t := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", t.Name, t.Category, t.RiskLevel, t.Enabled)
		}
		return w.Flush()
	},
}

var toolsHelpCmd = &cobra.Command{
	Use:   "show [tool]",
	Short: "Show tool parameters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := apiDo(http.MethodGet, "/v1/tools/"+args[0], nil)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(raw)
		return err
	},
}

func toolSwitch(action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " [tool]",
		Short: action + " a tool on every node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := apiDo(http.MethodPost, "/v1/tools/"+args[0]+"/"+action, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %sd\n", args[0], action)
			return nil
		},
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	tasksListCmd.Flags().BoolVar(&tasksActiveOnly, "active", false, "only unfinished tasks")
	tasksCmd.AddCommand(tasksListCmd, tasksShowCmd, taskAction("cancel"), taskAction("pause"), taskAction("resume"))
	toolsCmd.AddCommand(toolsListCmd, toolsHelpCmd, toolSwitch("disable"), toolSwitch("enable"))
}
