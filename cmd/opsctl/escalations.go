package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/opsdesk/internal/escalation"
	"github.com/p-blackswan/opsdesk/internal/models"
	"github.com/p-blackswan/opsdesk/internal/store"
)

func newEscalationsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "escalations",
		Aliases: []string{"esc"},
		Short:   "List and resolve escalations",
	}
	cmd.AddCommand(newEscalationsListCmd(c), newEscalationsResolveCmd(c))
	return cmd
}

func newEscalationsListCmd(c *cli) *cobra.Command {
	var (
		status, projectID string
		limit             int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List escalations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, svc, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			escs, err := svc.ListEscalations(cmd.Context(), store.EscalationFilter{
				Status:    models.EscalationStatus(strings.ToUpper(status)),
				ProjectID: projectID,
				Limit:     limit,
			})
			if err != nil {
				return err
			}
			if c.jsonOutput {
				if escs == nil {
					escs = []models.Escalation{}
				}
				return writeJSON(cmd.OutOrStdout(), escs)
			}
			if len(escs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No escalations.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tLEVEL\tCATEGORY\tSTATUS\tPROJECT\tTITLE")
			for _, e := range escs {
				project := e.ProjectID
				if project == "" {
					project = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", e.ID, e.Level, e.Category, e.Status, project, e.Title)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (OPEN, RESOLVED, HALTED)")
	cmd.Flags().StringVar(&projectID, "project", "", "Filter by project ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	return cmd
}

func newEscalationsResolveCmd(c *cli) *cobra.Command {
	var (
		notes   string
		halt    bool
		unpause bool
	)
	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Resolve or halt an open escalation",
		Long: `Close an open escalation.

An L3 escalation paused its project. Pass --unpause to set the project back to
ACTIVE when resolving; halting always leaves the project paused.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, svc, err := c.open(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			status := models.EscalationResolved
			if halt {
				status = models.EscalationHalted
			}
			out, err := svc.ResolveEscalation(cmd.Context(), escalation.CloseInput{
				ID:       args[0],
				Status:   status,
				Notes:    notes,
				Resolver: c.actor,
				Unpause:  unpause,
			})
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), out.Escalation)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Escalation %s is %s\n", out.Escalation.ID, out.Escalation.Status)
			if out.ProjectChanged && out.Project != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Project %s is %s\n", out.Project.ID, out.Project.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "Decision notes")
	cmd.Flags().BoolVar(&halt, "halt", false, "Halt instead of resolve")
	cmd.Flags().BoolVar(&unpause, "unpause", false, "Reactivate the project paused by an L3 escalation")
	return cmd
}
