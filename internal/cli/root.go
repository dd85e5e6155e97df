// Package cli implements the promptcraft command line.
package cli

import (
	"context"
	"fmt"

	"github.com/promptcraft/promptcraft-hybrid/config"
	"github.com/promptcraft/promptcraft-hybrid/internal/observability"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	appVersion = "dev"
	appCommit  = "none"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit string) {
	appVersion = version
	appCommit = commit
}

// loadConfig is replaced in tests
var loadConfig = func(ctx context.Context) (*config.Config, error) {
	return config.New(ctx)
}

// newLogger builds the process logger from configuration
var newLogger = func(cfg *config.Config) (*zap.Logger, error) {
	return observability.NewLogger(cfg.Observability)
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "promptcraft",
		Short: "PromptCraft-Hybrid security and configuration service",
		Long: `promptcraft serves the PromptCraft-Hybrid health and security APIs.

It records security events, detects brute force and enumeration attempts,
raises alerts and exposes dashboards for operators.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newConfigCmd(),
		newDBCmd(),
		newSecurityCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "promptcraft %s\ncommit: %s\n", appVersion, appCommit)
		},
	}
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
