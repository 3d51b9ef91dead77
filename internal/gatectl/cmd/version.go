package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opsgate/releasegate/internal/gatectl/client"
)

var (
	// Version is the semantic version of gatectl
	Version = "dev"
	// GitCommit is the git commit hash
	GitCommit = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show gatectl and server version",
	Long:  `Display the version information for gatectl and, if reachable, the gated server.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gatectl version %s\n", Version)
		fmt.Printf("commit: %s\n", GitCommit)
		fmt.Printf("built: %s\n", BuildTime)

		if GetGatedURL() == "" {
			return
		}

		c := client.NewClient(GetGatedURL(), GetGatedAPIKey())
		health, err := c.Health()
		if err != nil {
			fmt.Printf("server: unreachable (%v)\n", err)
			return
		}
		fmt.Printf("server: %s (%s)\n", health.Version, health.Status)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
