// Package config holds the CLI-side configuration plumbing shared by gatectl
// commands: flag and environment binding, the config file under
// ~/.releasegate, and persistence of configured settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const configDirName = ".releasegate"

var (
	cfgFile     string
	gatedURL    string
	gatedAPIKey string
)

// InitConfig wires config loading into cobra's initialization.
func InitConfig() {
	cobra.OnInitialize(loadConfig)
}

// AddFlags registers the shared connection flags on the root command and
// binds them into viper.
func AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.releasegate/config.yaml)")
	cmd.PersistentFlags().StringVar(&gatedURL, "url", "", "gated API endpoint")
	cmd.PersistentFlags().StringVar(&gatedAPIKey, "api-key", "", "gated API key")

	viper.BindPFlag("url", cmd.PersistentFlags().Lookup("url"))
	viper.BindPFlag("apiKey", cmd.PersistentFlags().Lookup("api-key"))
}

func loadConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		viper.AddConfigPath(filepath.Join(home, configDirName))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("GATED")
	viper.AutomaticEnv()

	// Missing config file is fine; flags and environment may carry
	// everything needed.
	_ = viper.ReadInConfig()
}

// GetGatedURL returns the configured gated URL. An explicit flag wins over
// config file and environment.
func GetGatedURL() string {
	if gatedURL != "" {
		return gatedURL
	}
	return viper.GetString("url")
}

// GetGatedAPIKey returns the configured gated API key.
func GetGatedAPIKey() string {
	if gatedAPIKey != "" {
		return gatedAPIKey
	}
	return viper.GetString("apiKey")
}

// ValidateConfig checks the required connection settings are present.
func ValidateConfig() error {
	if GetGatedURL() == "" {
		return fmt.Errorf("gated URL is required (set GATED_URL env var, --url flag, or url in config file)")
	}
	if GetGatedAPIKey() == "" {
		return fmt.Errorf("gated API key is required (set GATED_API_KEY env var, --api-key flag, or apiKey in config file)")
	}
	return nil
}

// Save persists the connection settings to the default config file and
// returns the path written.
func Save(url, apiKey string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(home, configDirName)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	viper.Set("url", url)
	viper.Set("apiKey", apiKey)

	configFile := filepath.Join(configDir, "config.yaml")
	if err := viper.WriteConfigAs(configFile); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}

	return configFile, nil
}
