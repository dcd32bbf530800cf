package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/opsdesk/internal/models"
	"github.com/p-blackswan/opsdesk/internal/stage"
)

// errTransitionRefused makes `stage check` exit non-zero for scripts.
var errTransitionRefused = errors.New("transition refused")

func newStageCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Pipeline stage tools",
	}

	var (
		from, to, projectID, rationale string
		override                       bool
	)
	check := &cobra.Command{
		Use:   "check",
		Short: "Dry-run the stage guard for a transition",
		Long: `Evaluate a stage transition without changing anything.

The current stage comes from --from, or from the project named by --project.

Examples:
  opsctl stage check --from LEAD --to QUALIFIED
  opsctl stage check --project <id> --to ONBOARDING --override --rationale "signed early"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			current := models.Stage(strings.ToUpper(from))
			if projectID != "" {
				db, svc, err := c.open(cmd)
				if err != nil {
					return err
				}
				defer db.Close()
				p, err := svc.GetProject(cmd.Context(), projectID)
				if err != nil {
					return err
				}
				current = p.Stage
			}
			if current == "" {
				return fmt.Errorf("one of --from or --project is required")
			}
			target, _ := models.ParseStage(to)

			d := stage.Check(stage.Request{
				From:      current,
				To:        target,
				Override:  override,
				Rationale: rationale,
			})

			if c.jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), d); err != nil {
					return err
				}
			} else {
				printDecision(cmd, current, target, d)
			}
			if d.Verdict == stage.Blocked || d.Verdict == stage.RejectedCheckpoint {
				return errTransitionRefused
			}
			return nil
		},
	}
	check.Flags().StringVar(&from, "from", "", "Current stage")
	check.Flags().StringVar(&projectID, "project", "", "Read the current stage from this project")
	check.Flags().StringVar(&to, "to", "", "Requested stage")
	check.Flags().BoolVar(&override, "override", false, "Request an explicit override")
	check.Flags().StringVar(&rationale, "rationale", "", "Rationale for the move")
	_ = check.MarkFlagRequired("to")

	cmd.AddCommand(check)
	return cmd
}

func printDecision(cmd *cobra.Command, from, to models.Stage, d stage.Decision) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s -> %s: %s\n", from, to, d.Verdict)
	fmt.Fprintf(out, "  %s\n", d.Reason)
	if len(d.Skipped) > 0 {
		names := make([]string, len(d.Skipped))
		for i, s := range d.Skipped {
			names[i] = string(s)
		}
		fmt.Fprintf(out, "  skipped: %s\n", strings.Join(names, ", "))
	}
	if d.Escalation != nil {
		fmt.Fprintf(out, "  opens %s %s escalation: %s\n", d.Escalation.Level, d.Escalation.Category, d.Escalation.Title)
	}
}
