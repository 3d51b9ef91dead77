package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Platform PlatformConfig  `yaml:"platform"`
	Registry RegistryConfig  `yaml:"registry"`
	Audit    AuditConfig     `yaml:"audit"`
	Reports  ReportsConfig   `yaml:"reports"`
	Services []ServiceConfig `yaml:"services"`
	Database DatabaseConfig  `yaml:"database"`
	Logging  LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port    int      `yaml:"port"`
	APIKeys []APIKey `yaml:"api_keys"`
}

type APIKey struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

// PlatformConfig selects and configures the control-plane driver.
type PlatformConfig struct {
	Type   string        `yaml:"type"` // "ecs", "gitops"
	ECS    *ECSConfig    `yaml:"ecs,omitempty"`
	GitOps *GitOpsConfig `yaml:"gitops,omitempty"`
}

type ECSConfig struct {
	Region          string `yaml:"region"`
	Cluster         string `yaml:"cluster"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	// SigningSecretName is the Secrets Manager entry that must exist before
	// any deployment is allowed (audit signing credential).
	SigningSecretName string `yaml:"signing_secret_name"`
}

type GitOpsConfig struct {
	RepositoryURL string `yaml:"repository_url"`
	Branch        string `yaml:"branch"`
	Username      string `yaml:"username"`
	Token         string `yaml:"token"`
	LocalPath     string `yaml:"local_path"`
	AuthorName    string `yaml:"author_name"`
	AuthorEmail   string `yaml:"author_email"`
	// SigningKeyPath is the manifest that must exist in the repo before any
	// deployment is allowed (sealed audit signing key).
	SigningKeyPath string `yaml:"signing_key_path"`
}

type RegistryConfig struct {
	Type            string `yaml:"type"` // "docker", "ecr"
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type AuditConfig struct {
	// SinkURL is an optional external audit sink. Delivery is best effort;
	// the SQLite trail is authoritative.
	SinkURL string `yaml:"sink_url"`
	Token   string `yaml:"token"`
}

type ReportsConfig struct {
	// Dir is where compliance report artifacts are written as JSON files.
	Dir string `yaml:"dir"`
	// Archive enables long-term retention of report artifacts in S3.
	Archive *ArchiveConfig `yaml:"archive,omitempty"`
}

type ArchiveConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

type ServiceConfig struct {
	Name            string        `yaml:"name"`
	Namespace       string        `yaml:"namespace"`
	ManifestPath    string        `yaml:"manifest_path"`
	ImageRepository string        `yaml:"image_repository"`
	StatusURL       string        `yaml:"status_url"`
	StatusToken     string        `yaml:"status_token"`
	Gates           GatesConfig   `yaml:"gates"`
	RegistryAuth    *RegistryAuth `yaml:"registry_auth,omitempty"`
}

// GatesConfig holds the per-service gate thresholds. Zero values are filled
// with the regulated defaults in Load.
type GatesConfig struct {
	EfficiencyThreshold float64       `yaml:"efficiency_threshold"`
	TemperatureMin      float64       `yaml:"temperature_min"`
	TemperatureMax      float64       `yaml:"temperature_max"`
	PressureMin         float64       `yaml:"pressure_min"`
	PressureMax         float64       `yaml:"pressure_max"`
	MinIntegrityScore   int           `yaml:"min_integrity_score"`
	RolloutTimeout      time.Duration `yaml:"rollout_timeout"`
	ReadinessTimeout    time.Duration `yaml:"readiness_timeout"`
	EfficiencyAttempts  int           `yaml:"efficiency_attempts"`
	EfficiencyInterval  time.Duration `yaml:"efficiency_interval"`
	HealthComponents    []string      `yaml:"health_components"`
}

type RegistryAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	dataStr := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(dataStr), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Platform.Type == "" {
		cfg.Platform.Type = "ecs"
	}
	if cfg.Platform.GitOps != nil {
		if cfg.Platform.GitOps.Branch == "" {
			cfg.Platform.GitOps.Branch = "main"
		}
		if cfg.Platform.GitOps.LocalPath == "" {
			cfg.Platform.GitOps.LocalPath = "/data/gitops-repo"
		}
	}
	if cfg.Registry.Type == "" {
		cfg.Registry.Type = "docker"
	}
	if cfg.Reports.Dir == "" {
		cfg.Reports.Dir = "/data/compliance-reports"
	}
	if cfg.Reports.Archive != nil && cfg.Reports.Archive.Prefix == "" {
		cfg.Reports.Archive.Prefix = "compliance-reports"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/data/releasegate.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	for i := range cfg.Services {
		applyGateDefaults(&cfg.Services[i].Gates)
	}

	return &cfg, nil
}

// applyGateDefaults fills zero thresholds with the regulated defaults.
func applyGateDefaults(g *GatesConfig) {
	if g.EfficiencyThreshold == 0 {
		g.EfficiencyThreshold = 98.0
	}
	if g.TemperatureMin == 0 {
		g.TemperatureMin = 18.0
	}
	if g.TemperatureMax == 0 {
		g.TemperatureMax = 25.0
	}
	if g.PressureMin == 0 {
		g.PressureMin = 0.8
	}
	if g.PressureMax == 0 {
		g.PressureMax = 2.5
	}
	if g.MinIntegrityScore == 0 {
		g.MinIntegrityScore = 100
	}
	if g.RolloutTimeout == 0 {
		g.RolloutTimeout = 600 * time.Second
	}
	if g.ReadinessTimeout == 0 {
		g.ReadinessTimeout = 300 * time.Second
	}
	if g.EfficiencyAttempts == 0 {
		g.EfficiencyAttempts = 12
	}
	if g.EfficiencyInterval == 0 {
		g.EfficiencyInterval = 10 * time.Second
	}
	if len(g.HealthComponents) == 0 {
		g.HealthComponents = []string{"database", "cache", "message_queue", "sensor_bus"}
	}
}

func (c *Config) GetService(name string) *ServiceConfig {
	for _, svc := range c.Services {
		if svc.Name == name {
			return &svc
		}
	}
	return nil
}

func (c *Config) ValidateAPIKey(key string) bool {
	for _, ak := range c.Server.APIKeys {
		if ak.Key == key {
			return true
		}
	}
	return false
}
