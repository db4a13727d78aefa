package main

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/xela07ax/spaceai-assistant/internal/permission"
)

var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "Inspect and revoke stored permission grants",
}

var permissionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List permanent grants",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context(), terminal{in: os.Stdin, out: os.Stderr})
		if err != nil {
			return err
		}
		defer a.close()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SIGNATURE\tLEVEL\tTOOL\tACTION\tRISK\tGRANTED")
		for _, g := range a.authority.ListPermissions() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", g.Signature, g.Level,
				g.Metadata["tool_name"], g.Metadata["action"], g.Metadata["risk_level"], g.GrantedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var permissionsRevokeCmd = &cobra.Command{
	Use:   "revoke [signature]",
	Short: "Revoke a grant by signature",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context(), terminal{in: os.Stdin, out: os.Stderr})
		if err != nil {
			return err
		}
		defer a.close()

		if !a.authority.RevokePermission(cmd.Context(), args[0]) {
			return fmt.Errorf("grant %s not found", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
		return nil
	},
}

var permissionsPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List prompts waiting for an answer on a running assistant",
	RunE: func(cmd *cobra.Command, args []string) error {
		var list []permission.PendingRequest
		if err := apiGet("/v1/permissions/pending", &list); err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTOOL\tACTION\tRISK\tEXPIRES")
		for _, p := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Request.ToolName, p.Request.Action,
				p.Request.RiskLevel, p.ExpiresAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var permissionsRespondCmd = &cobra.Command{
	Use:   "respond [request-id] [once|session|always|deny]",
	Short: "Answer a pending prompt",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := apiDo(http.MethodPost, "/v1/permissions/prompts/"+args[0]+"/respond",
			map[string]string{"response": args[1]})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), gjson.GetBytes(raw, "decision").String())
		return nil
	},
}

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent permission decisions from the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd.Context(), terminal{in: os.Stdin, out: os.Stderr})
		if err != nil {
			return err
		}
		defer a.close()

		events, err := a.store.audit.Recent(cmd.Context(), auditLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tTOOL\tACTION\tRISK\tDECISION\tOUTCOME\tREASON")
		for _, e := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339),
				e.ToolName, e.Action, e.RiskLevel, e.Decision, e.Outcome, e.Reason)
		}
		return w.Flush()
	},
}

func init() {
	permissionsCmd.AddCommand(permissionsListCmd, permissionsRevokeCmd, permissionsPendingCmd, permissionsRespondCmd)
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "number of events")
}
