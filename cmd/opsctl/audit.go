package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/opsdesk/internal/models"
	"github.com/p-blackswan/opsdesk/internal/store"
)

func newAuditCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the policy audit trail",
	}

	var (
		approvalID, action string
		limit              int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List policy audit entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, svc, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := svc.ListAudit(cmd.Context(), store.AuditFilter{
				ApprovalID: approvalID,
				Action:     models.PolicyAction(action),
				Limit:      limit,
			})
			if err != nil {
				return err
			}
			if c.jsonOutput {
				if entries == nil {
					entries = []models.PolicyAuditEntry{}
				}
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No audit entries.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tACTION\tAPPROVAL\tESCALATION\tREASON")
			for _, e := range entries {
				esc := e.EscalationID
				if esc == "" {
					esc = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Format(time.RFC3339), e.Action, e.ApprovalID, esc, e.Reason)
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&approvalID, "approval", "", "Filter by approval ID")
	list.Flags().StringVar(&action, "action", "", "Filter by action (blocked, auto_escalated)")
	list.Flags().IntVar(&limit, "limit", 50, "Maximum rows")

	cmd.AddCommand(list)
	return cmd
}
