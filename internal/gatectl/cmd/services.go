package cmd

import (
	"github.com/spf13/cobra"

	"github.com/opsgate/releasegate/internal/gatectl/client"
	"github.com/opsgate/releasegate/internal/gatectl/output"
)

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List managed services",
	Long: `List the services managed by gated with their currently deployed
production versions.

Example:
  gatectl services
  gatectl services -o json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		c := client.NewClient(GetGatedURL(), GetGatedAPIKey())

		resp, err := c.ListServices()
		if err != nil {
			return err
		}

		return output.Print(output.Format(GetOutputFormat()), resp, func() {
			rows := make([][]string, 0, len(resp.Services))
			for _, svc := range resp.Services {
				current := svc.CurrentVersion
				if current == "" {
					current = "-"
				}
				rows = append(rows, []string{svc.Name, svc.Namespace, svc.ImageRepository, current})
			}
			output.PrintTable([]string{"NAME", "NAMESPACE", "IMAGE", "CURRENT"}, rows)
		})
	},
}

var versionsCmd = &cobra.Command{
	Use:   "versions [service]",
	Short: "List available image versions for a service",
	Long: `List the image versions available in the registry for a service.

Example:
  gatectl versions payment-service
  gatectl versions payment-service --limit 50`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")

		c := client.NewClient(GetGatedURL(), GetGatedAPIKey())

		resp, err := c.ListVersions(args[0], limit)
		if err != nil {
			return err
		}

		return output.Print(output.Format(GetOutputFormat()), resp, func() {
			rows := make([][]string, 0, len(resp.Versions))
			for _, v := range resp.Versions {
				rows = append(rows, []string{v.Tag, v.Digest, v.CreatedAt})
			}
			output.PrintTable([]string{"TAG", "DIGEST", "CREATED"}, rows)
		})
	},
}

func init() {
	rootCmd.AddCommand(servicesCmd)
	rootCmd.AddCommand(versionsCmd)

	versionsCmd.Flags().Int("limit", 20, "Maximum number of versions to list")
}
