package cli

import (
	"fmt"
	"time"

	"github.com/promptcraft/promptcraft-hybrid/auth"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue access tokens for the security API",
	}

	var (
		subject string
		email   string
		roles   []string
		ttl     time.Duration
	)
	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a JWT with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := loadConfig(cmd.Context())
			validator, err := auth.NewValidator(auth.Config{
				Secret:   cfg.Security.JWTSecret,
				Issuer:   cfg.Security.JWTIssuer,
				Audience: cfg.Security.JWTAudience,
				Leeway:   cfg.Security.JWTLeeway,
			})
			if err != nil {
				return fmt.Errorf("cannot issue tokens: %w", err)
			}
			if len(roles) == 0 {
				roles = []string{cfg.Security.AdminRole}
			}

			token, err := validator.Issue(subject, email, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	issueCmd.Flags().StringVar(&subject, "subject", "", "token subject (required)")
	issueCmd.Flags().StringVar(&email, "email", "", "email claim")
	issueCmd.Flags().StringSliceVar(&roles, "role", nil, "role claim, repeatable (default: the admin role)")
	issueCmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = issueCmd.MarkFlagRequired("subject")

	cmd.AddCommand(issueCmd)
	return cmd
}
