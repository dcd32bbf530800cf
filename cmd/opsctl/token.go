package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/opsdesk/internal/api"
)

func newTokenCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue API tokens for AUTH_MODE=jwt",
	}

	var (
		subject, role string
		ttl           time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a token with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			tok, err := api.SignToken(secret, subject, api.Role(role), ttl)
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"token":      tok,
					"subject":    subject,
					"role":       role,
					"expires_at": time.Now().Add(ttl).UTC().Format(time.RFC3339),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	issue.Flags().StringVar(&subject, "subject", "", "Actor the token identifies")
	issue.Flags().StringVar(&role, "role", string(api.RoleOperator), "Role (admin, operator, readonly)")
	issue.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = issue.MarkFlagRequired("subject")

	cmd.AddCommand(issue)
	return cmd
}
