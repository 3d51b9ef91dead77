package output

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opsgate/releasegate/models"
)

// Format represents an output format
type Format string

const (
	// FormatTable is the table output format
	FormatTable Format = "table"
	// FormatJSON is the JSON output format
	FormatJSON Format = "json"
	// FormatYAML is the YAML output format
	FormatYAML Format = "yaml"
)

// PrintTable prints data in table format
func PrintTable(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)

	// Print headers
	fmt.Fprintln(w, strings.Join(headers, "\t"))

	// Print rows
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}

	w.Flush()
}

// PrintJSON prints data in JSON format
func PrintJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// PrintYAML prints data in YAML format
func PrintYAML(data interface{}) error {
	encoder := yaml.NewEncoder(os.Stdout)
	encoder.SetIndent(2)
	return encoder.Encode(data)
}

// Print prints data in the specified format
func Print(format Format, data interface{}, tableFunc func()) error {
	switch format {
	case FormatJSON:
		return PrintJSON(data)
	case FormatYAML:
		return PrintYAML(data)
	case FormatTable:
		tableFunc()
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// PrintReport renders a compliance report as human-readable text: the
// request metadata, every check with its outcome, and any warnings.
func PrintReport(report *models.ComplianceReport) {
	fmt.Printf("Compliance Report %s\n", report.ID)
	fmt.Printf("  Deployment:     %s\n", report.DeploymentID)
	fmt.Printf("  Service:        %s\n", report.Service)
	fmt.Printf("  Version:        %s\n", report.Version)
	fmt.Printf("  Change Control: %s\n", report.ChangeControl)
	fmt.Printf("  Validated By:   %s\n", report.ValidatedBy)
	fmt.Printf("  Environment:    %s (%s)\n", report.Environment, report.Strategy)
	fmt.Printf("  Status:         %s\n", report.ComplianceStatus)
	if report.RolledBack {
		fmt.Println("  Rolled Back:    yes")
	}
	if report.FailureKind != "" {
		fmt.Printf("  Failure:        %s\n", report.FailureKind)
	}
	fmt.Printf("  Started:        %s\n", FormatTime(report.StartedAt))
	fmt.Printf("  Completed:      %s\n", FormatTime(report.CompletedAt))

	if len(report.Checks) > 0 {
		fmt.Println("\nChecks:")
		rows := make([][]string, 0, len(report.Checks))
		for _, check := range report.Checks {
			detail := check.Detail
			if detail == "" && check.Observed != "" {
				detail = fmt.Sprintf("observed %s (threshold %s)", check.Observed, check.Threshold)
			}
			rows = append(rows, []string{"  " + check.Stage, check.Name, outcomeSymbol(check.Outcome), detail})
		}
		PrintTable([]string{"  STAGE", "CHECK", "OUTCOME", "DETAIL"}, rows)
	}

	if len(report.Warnings) > 0 {
		fmt.Println("\nWarnings:")
		for _, warning := range report.Warnings {
			fmt.Printf("  - %s\n", warning)
		}
	}
}

func outcomeSymbol(outcome models.Outcome) string {
	switch outcome {
	case models.OutcomePass:
		return "✓ pass"
	case models.OutcomeFail:
		return "✗ fail"
	case models.OutcomeWarn:
		return "! warn"
	case models.OutcomeSkipped:
		return "- skipped"
	default:
		return string(outcome)
	}
}

// FormatTime formats a time for display
func FormatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// FormatTimeAgo formats a time as "X ago"
func FormatTimeAgo(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return "just now"
	} else if duration < time.Hour {
		minutes := int(duration.Minutes())
		if minutes == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", minutes)
	} else if duration < 24*time.Hour {
		hours := int(duration.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

// Success prints a success message
func Success(message string) {
	fmt.Printf("✓ %s\n", message)
}

// Error prints an error message
func Error(message string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
}

// Info prints an info message
func Info(message string) {
	fmt.Println(message)
}

// Warn prints a warning message
func Warn(message string) {
	fmt.Printf("Warning: %s\n", message)
}
