package cmd

import (
	"github.com/spf13/cobra"

	"github.com/opsgate/releasegate/internal/gatectl/client"
	"github.com/opsgate/releasegate/internal/gatectl/output"
)

var deploymentsCmd = &cobra.Command{
	Use:   "deployments [service]",
	Short: "Show deployment history for a service",
	Long: `Show the deployment history for a service, most recent first.

Example:
  gatectl deployments payment-service
  gatectl deployments payment-service --limit 50`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		c := client.NewClient(GetGatedURL(), GetGatedAPIKey())

		resp, err := c.ListDeployments(args[0], limit, offset)
		if err != nil {
			return err
		}

		return output.Print(output.Format(GetOutputFormat()), resp, func() {
			rows := make([][]string, 0, len(resp.Deployments))
			for _, d := range resp.Deployments {
				rows = append(rows, []string{
					d.ID,
					d.Version,
					string(d.Environment),
					d.ChangeControl,
					d.Status,
					output.FormatTimeAgo(d.DeployedAt),
				})
			}
			output.PrintTable([]string{"ID", "VERSION", "ENV", "CHANGE CONTROL", "STATUS", "DEPLOYED"}, rows)
		})
	},
}

var reportsCmd = &cobra.Command{
	Use:   "reports [service]",
	Short: "List compliance reports for a service",
	Long: `List the compliance reports generated for a service.

Example:
  gatectl reports payment-service`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		c := client.NewClient(GetGatedURL(), GetGatedAPIKey())

		resp, err := c.ListReports(args[0], limit, offset)
		if err != nil {
			return err
		}

		return output.Print(output.Format(GetOutputFormat()), resp, func() {
			rows := make([][]string, 0, len(resp.Reports))
			for _, r := range resp.Reports {
				rows = append(rows, []string{
					r.ID,
					r.Version,
					r.ChangeControl,
					r.ComplianceStatus,
					output.FormatTime(r.CompletedAt),
				})
			}
			output.PrintTable([]string{"ID", "VERSION", "CHANGE CONTROL", "STATUS", "COMPLETED"}, rows)
		})
	},
}

var reportCmd = &cobra.Command{
	Use:   "report [report-id]",
	Short: "Show one compliance report",
	Long: `Show a single compliance report with every gate check result.

Example:
  gatectl report 5f0c2a7e-...
  gatectl report 5f0c2a7e-... -o json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		c := client.NewClient(GetGatedURL(), GetGatedAPIKey())

		report, err := c.GetReport(args[0])
		if err != nil {
			return err
		}

		return output.Print(output.Format(GetOutputFormat()), report, func() {
			output.PrintReport(report)
		})
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the audit trail",
	Long: `Show the append-only audit trail, optionally filtered by change
control number.

Example:
  gatectl audit
  gatectl audit --change-control CC-1042`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateConfig(); err != nil {
			return err
		}

		changeControl, _ := cmd.Flags().GetString("change-control")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		c := client.NewClient(GetGatedURL(), GetGatedAPIKey())

		resp, err := c.ListAudit(changeControl, limit, offset)
		if err != nil {
			return err
		}

		return output.Print(output.Format(GetOutputFormat()), resp, func() {
			rows := make([][]string, 0, len(resp.Entries))
			for _, e := range resp.Entries {
				rows = append(rows, []string{
					output.FormatTime(e.Timestamp),
					e.Action,
					e.ChangeControl,
					e.Actor,
					e.Details,
				})
			}
			output.PrintTable([]string{"TIMESTAMP", "ACTION", "CHANGE CONTROL", "ACTOR", "DETAILS"}, rows)
		})
	},
}

func init() {
	rootCmd.AddCommand(deploymentsCmd)
	rootCmd.AddCommand(reportsCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(auditCmd)

	deploymentsCmd.Flags().Int("limit", 20, "Maximum number of deployments to list")
	deploymentsCmd.Flags().Int("offset", 0, "Offset into the deployment history")

	reportsCmd.Flags().Int("limit", 20, "Maximum number of reports to list")
	reportsCmd.Flags().Int("offset", 0, "Offset into the report list")

	auditCmd.Flags().String("change-control", "", "Filter by change control number")
	auditCmd.Flags().Int("limit", 50, "Maximum number of entries to list")
	auditCmd.Flags().Int("offset", 0, "Offset into the audit trail")
}
