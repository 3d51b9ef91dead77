package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opsgate/releasegate/internal/gatectl/client"
	"github.com/opsgate/releasegate/internal/gatectl/output"
	"github.com/opsgate/releasegate/models"
)

var deployCmd = &cobra.Command{
	Use:   "deploy [service] [version]",
	Short: "Run a compliance-gated deployment",
	Long: `Run the full deployment gate pipeline for a service version.

The server validates change control, checks production state, sensors and
batch integrity, applies the deployment, and validates the result. A failure
after the configuration has been applied triggers an automatic rollback.

This command blocks until the pipeline finishes, which includes waiting for
the rollout and post-deployment validation.

Example:
  gatectl deploy payment-service v2.1.0 --change-control CC-1042 --validated-by jdoe
  gatectl deploy payment-service v2.1.0 --change-control CC-1042 --validated-by jdoe --strategy blue-green --confirm`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Validate configuration
		if err := ValidateConfig(); err != nil {
			return err
		}

		service := args[0]
		version := args[1]
		changeControl, _ := cmd.Flags().GetString("change-control")
		validatedBy, _ := cmd.Flags().GetString("validated-by")
		strategy, _ := cmd.Flags().GetString("strategy")
		environment, _ := cmd.Flags().GetString("env")
		skipValidation, _ := cmd.Flags().GetBool("skip-validation")
		skipConfirm, _ := cmd.Flags().GetBool("confirm")

		if changeControl == "" {
			return fmt.Errorf("--change-control is required")
		}
		if validatedBy == "" {
			return fmt.Errorf("--validated-by is required")
		}

		// Show confirmation prompt unless --confirm is used
		if !skipConfirm {
			fmt.Println("You are about to deploy:")
			fmt.Println()
			fmt.Printf("  Service:        %s\n", service)
			fmt.Printf("  Version:        %s\n", version)
			fmt.Printf("  Environment:    %s\n", environment)
			fmt.Printf("  Strategy:       %s\n", strategy)
			fmt.Printf("  Change Control: %s\n", changeControl)
			if skipValidation {
				fmt.Println()
				fmt.Println("  WARNING: pre-deployment validation will be SKIPPED.")
				fmt.Println("  The skip is recorded in the audit trail.")
			}
			fmt.Println()
			fmt.Println("The server will run every compliance gate before applying the change.")
			fmt.Println()
			fmt.Print("Continue? (y/n): ")

			reader := bufio.NewReader(os.Stdin)
			response, _ := reader.ReadString('\n')
			response = strings.TrimSpace(strings.ToLower(response))

			if response != "y" && response != "yes" {
				output.Info("Deployment cancelled")
				os.Exit(2)
			}
		}

		// Create API client
		c := client.NewClient(GetGatedURL(), GetGatedAPIKey())

		output.Info("Running deployment gate pipeline (this can take several minutes)...")
		resp, err := c.Deploy(service, models.DeployAPIRequest{
			Version:        version,
			ChangeControl:  changeControl,
			ValidatedBy:    validatedBy,
			Strategy:       strategy,
			Environment:    environment,
			SkipValidation: skipValidation,
		})
		if err != nil {
			return reportPipelineFailure(err)
		}

		output.Success("Deployment compliant")
		fmt.Println()
		output.PrintReport(resp.Report)
		return nil
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback [service] [version]",
	Short: "Roll back a service to a previous version",
	Long: `Roll back a service to a previous version under change control.

If no version is given, the server restores the previous successful
deployment. Rollbacks skip the pre-deployment gates but still run
post-deployment validation against the restored version.

Example:
  gatectl rollback payment-service --change-control CC-1043 --validated-by jdoe
  gatectl rollback payment-service v2.0.4 --change-control CC-1043 --validated-by jdoe`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Validate configuration
		if err := ValidateConfig(); err != nil {
			return err
		}

		service := args[0]
		version := ""
		if len(args) == 2 {
			version = args[1]
		}
		changeControl, _ := cmd.Flags().GetString("change-control")
		validatedBy, _ := cmd.Flags().GetString("validated-by")
		environment, _ := cmd.Flags().GetString("env")

		if changeControl == "" {
			return fmt.Errorf("--change-control is required")
		}
		if validatedBy == "" {
			return fmt.Errorf("--validated-by is required")
		}

		// Create API client
		c := client.NewClient(GetGatedURL(), GetGatedAPIKey())

		if version == "" {
			output.Info("Rolling back to the previous successful version...")
		} else {
			fmt.Printf("Rolling back to version %s...\n", version)
		}

		resp, err := c.Rollback(service, models.RollbackAPIRequest{
			Version:       version,
			ChangeControl: changeControl,
			ValidatedBy:   validatedBy,
			Environment:   environment,
		})
		if err != nil {
			return reportPipelineFailure(err)
		}

		output.Success("Rollback complete")
		fmt.Println()
		output.PrintReport(resp.Report)
		return nil
	},
}

// reportPipelineFailure renders the compliance report attached to a failed
// run, then returns a short error for the exit status.
func reportPipelineFailure(err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Report != nil {
		output.Error(fmt.Sprintf("pipeline failed: %s", apiErr.FailureKind))
		fmt.Println()
		output.PrintReport(apiErr.Report)
		return fmt.Errorf("deployment not compliant")
	}
	return err
}

func init() {
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(rollbackCmd)

	// Flags for deploy
	deployCmd.Flags().String("change-control", "", "Change control number (required)")
	deployCmd.Flags().String("validated-by", "", "Identity of the validating operator (required)")
	deployCmd.Flags().String("strategy", "rolling", "Deployment strategy (rolling, blue-green)")
	deployCmd.Flags().String("env", "production", "Target environment")
	deployCmd.Flags().Bool("skip-validation", false, "Skip pre-deployment gates (recorded in the audit trail)")
	deployCmd.Flags().Bool("confirm", false, "Skip confirmation prompt")

	// Flags for rollback
	rollbackCmd.Flags().String("change-control", "", "Change control number (required)")
	rollbackCmd.Flags().String("validated-by", "", "Identity of the validating operator (required)")
	rollbackCmd.Flags().String("env", "production", "Target environment")
}
