package cli

import (
	"fmt"

	"github.com/promptcraft/promptcraft-hybrid/repositories/sqlstore"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the event store",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the security event and alert schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := loadConfig(cmd.Context())
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, err := sqlstore.NewDB(cfg.Database, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.InitSchema(cmd.Context()); err != nil {
				return fmt.Errorf("failed to initialize schema: %w", err)
			}
			logger.Info("schema initialized", zap.String("driver", db.Driver()))
			fmt.Fprintf(cmd.OutOrStdout(), "schema initialized (%s)\n", cfg.Database.LogString())
			return nil
		},
	})
	return cmd
}
