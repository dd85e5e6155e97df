package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/promptcraft/promptcraft-hybrid/config"
	"github.com/spf13/cobra"
)

// errInvalidConfig makes the process exit non-zero after the status was printed
var errInvalidConfig = errors.New("configuration is invalid")

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	var asJSON bool
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and print its status",
		Long: `Load configuration from the environment and .env files, validate it and
print a status report. Secret values are never printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, validationErr := loadConfig(cmd.Context())
			status := cfg.Status(validationErr)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(status); err != nil {
					return err
				}
			} else {
				printStatus(cmd, status)
			}

			if !status.Healthy() {
				return errInvalidConfig
			}
			return nil
		},
	}
	validateCmd.Flags().BoolVar(&asJSON, "json", false, "print the status as JSON")

	cmd.AddCommand(validateCmd)
	return cmd
}

func printStatus(cmd *cobra.Command, status config.ConfigurationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "environment:        %s\n", status.Environment)
	fmt.Fprintf(out, "version:            %s\n", status.Version)
	fmt.Fprintf(out, "debug:              %t\n", status.Debug)
	fmt.Fprintf(out, "source:             %s\n", status.ConfigSource)
	fmt.Fprintf(out, "api:                %s:%d\n", status.APIHost, status.APIPort)
	fmt.Fprintf(out, "secrets configured: %d\n", status.SecretsConfigured)
	fmt.Fprintf(out, "validation:         %s\n", status.ValidationStatus)
	for _, e := range status.ValidationErrors {
		fmt.Fprintf(out, "  - %s\n", e)
	}
}
