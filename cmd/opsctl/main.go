// Package main provides opsctl, an operator CLI that works directly against
// an opsdesk SQLite database.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/opsdesk/internal/policy"
	"github.com/p-blackswan/opsdesk/internal/store"
	"github.com/p-blackswan/opsdesk/internal/workflow"
)

// cli holds the persistent flags shared by every subcommand.
type cli struct {
	dbPath     string
	jsonOutput bool
	actor      string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "opsctl",
		Short: "Operate an opsdesk database from the command line",
		Long: `opsctl inspects and resolves opsdesk state without going through the API.

Examples:
  opsctl stage check --from DISCOVERY --to PROPOSAL       # Dry-run the stage guard
  opsctl escalations list --status OPEN                   # Open escalations
  opsctl escalations resolve <id> --notes "call booked"   # Resolve one
  opsctl audit list --approval <id>                       # Policy audit trail
  opsctl token issue --subject ops@example.com --role operator`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&c.dbPath, "db", envOr("DB_PATH", "opsdesk.db"), "Path to the SQLite database")
	root.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "Output in JSON format")
	root.PersistentFlags().StringVar(&c.actor, "actor", envOr("USER", "opsctl"), "Actor recorded on changes")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(newStageCmd(c))
	root.AddCommand(newEscalationsCmd(c))
	root.AddCommand(newAuditCmd(c))
	root.AddCommand(newTokenCmd(c))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		os.Exit(1)
	}
}

func (c *cli) logger(cmd *cobra.Command) zerolog.Logger {
	level := zerolog.WarnLevel
	if c.verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr()}).Level(level).With().Timestamp().Logger()
}

// open opens the store and builds a workflow service over it. Escalation
// notices go to the log; no events are published.
func (c *cli) open(cmd *cobra.Command) (*store.Store, *workflow.Service, error) {
	logger := c.logger(cmd)
	db, err := store.New(c.dbPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", c.dbPath, err)
	}
	svc := workflow.New(workflow.Deps{
		Store:  db,
		Engine: policy.NewEngine(policy.DefaultConfig(), logger),
		Logger: logger,
	})
	return db, svc, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
