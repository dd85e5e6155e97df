package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/promptcraft/promptcraft-hybrid/app"
	"github.com/promptcraft/promptcraft-hybrid/services/retention"
	"github.com/spf13/cobra"
)

func newSecurityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "security",
		Short: "Security maintenance tasks",
	}

	var olderThanDays int
	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete old security events and acknowledged alerts",
		Long: `Delete security events and acknowledged alerts older than the retention
period. Without --older-than-days the configured SECURITY_RETENTION_DAYS
is used. The purge itself is recorded as a config_changed event.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThanDays < 0 {
				return fmt.Errorf("--older-than-days must not be negative")
			}
			return purge(cmd, olderThanDays)
		},
	}
	purgeCmd.Flags().IntVar(&olderThanDays, "older-than-days", 0, "retention in days (0 uses the configured value)")

	cmd.AddCommand(purgeCmd)
	return cmd
}

func purge(cmd *cobra.Command, olderThanDays int) error {
	ctx := cmd.Context()
	cfg, _ := loadConfig(ctx)
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	deps, err := app.NewDependencies(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	if err := deps.Start(ctx); err != nil {
		_ = deps.Close(context.Background())
		return err
	}

	actor := retention.Actor{UserID: cliActor()}
	result, purgeErr := deps.Retention.Purge(ctx, olderThanDays, actor)

	// Close drains the audit event for the purge
	closeErr := deps.Close(context.Background())
	if purgeErr != nil {
		return purgeErr
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	return closeErr
}

func cliActor() string {
	if user := os.Getenv("USER"); user != "" {
		return "cli:" + user
	}
	return "cli"
}
