package cmd

import (
	"github.com/spf13/cobra"

	"github.com/opsgate/releasegate/internal/shared/config"
)

var (
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "gatectl",
	Short: "releasegate CLI for compliance-gated deployments",
	Long: `gatectl is a command-line tool for operators to interact with gated,
the releasegate deployment gate server.

It allows you to:
  - List managed services and available image versions
  - Run compliance-gated deployments
  - Roll back to a previous version
  - View deployment history, compliance reports and the audit trail

Configuration:
  Environment variables:
    GATED_URL          - gated API endpoint (required)
    GATED_API_KEY      - gated API authentication key (required)

  Config file (~/.releasegate/config.yaml):
    url: https://gated.example.com
    apiKey: rg_live_abc123

  CLI flags override environment variables and config file.

Example usage:
  gatectl services
  gatectl versions payment-service
  gatectl deploy payment-service v2.1.0 --change-control CC-1042 --validated-by jdoe`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	config.InitConfig()
	config.AddFlags(rootCmd)

	// Add gatectl-specific flags
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, json, yaml)")
}

// GetGatedURL returns the configured gated URL
func GetGatedURL() string {
	return config.GetGatedURL()
}

// GetGatedAPIKey returns the configured gated API key
func GetGatedAPIKey() string {
	return config.GetGatedAPIKey()
}

// GetOutputFormat returns the output format
func GetOutputFormat() string {
	return outputFormat
}

// ValidateConfig validates that required configuration is present
func ValidateConfig() error {
	return config.ValidateConfig()
}
