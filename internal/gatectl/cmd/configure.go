package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/opsgate/releasegate/internal/gatectl/output"
	"github.com/opsgate/releasegate/internal/shared/config"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Configure gatectl settings",
	Long: `Configure the gated endpoint and API key, interactively or via flags.
Settings are saved to ~/.releasegate/config.yaml.

Example:
  gatectl configure
  gatectl configure --url https://gated.example.com --api-key rg_live_abc123`,
	RunE: runConfigure,
}

var (
	configureURL    string
	configureAPIKey string
)

func init() {
	rootCmd.AddCommand(configureCmd)

	configureCmd.Flags().StringVar(&configureURL, "url", "", "gated API endpoint")
	configureCmd.Flags().StringVar(&configureAPIKey, "api-key", "", "gated API key")
}

func runConfigure(cmd *cobra.Command, args []string) error {
	url := configureURL
	apiKey := configureAPIKey

	// Prompt for whatever the flags did not provide, keeping current values
	// as defaults.
	if url == "" {
		var err error
		url, err = promptString("gated URL", viper.GetString("url"))
		if err != nil {
			return err
		}
	}
	if apiKey == "" {
		var err error
		apiKey, err = promptSecret("gated API key", viper.GetString("apiKey"))
		if err != nil {
			return err
		}
	}

	if url == "" {
		return fmt.Errorf("URL is required")
	}
	if apiKey == "" {
		return fmt.Errorf("API key is required")
	}

	path, err := config.Save(url, apiKey)
	if err != nil {
		return err
	}

	output.Success(fmt.Sprintf("Configuration saved to %s", path))
	output.Info(fmt.Sprintf("  URL: %s", url))
	output.Info(fmt.Sprintf("  API key: %s", maskAPIKey(apiKey)))
	return nil
}

func promptString(label, current string) (string, error) {
	if current != "" {
		fmt.Printf("%s [%s]: ", label, current)
	} else {
		fmt.Printf("%s: ", label)
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}

	value := strings.TrimSpace(line)
	if value == "" {
		return current, nil
	}
	return value, nil
}

func promptSecret(label, current string) (string, error) {
	if current != "" {
		fmt.Printf("%s [unchanged]: ", label)
	} else {
		fmt.Printf("%s: ", label)
	}

	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read API key: %w", err)
	}

	value := strings.TrimSpace(string(raw))
	if value == "" {
		return current, nil
	}
	return value, nil
}

// maskAPIKey keeps just enough of the key to recognize it.
func maskAPIKey(key string) string {
	if len(key) <= 12 {
		return "[hidden]"
	}
	return key[:8] + "..." + key[len(key)-4:]
}
