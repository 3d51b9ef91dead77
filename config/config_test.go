package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  api_keys:
    - name: ops
      key: rg_test_key
services:
  - name: filler-line
    namespace: production
    image_repository: registry.example.com/filler-line
    status_url: https://filler-line.example.com
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "ecs", cfg.Platform.Type)
	assert.Equal(t, "docker", cfg.Registry.Type)
	assert.Equal(t, "/data/compliance-reports", cfg.Reports.Dir)
	assert.Equal(t, "/data/releasegate.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	require.Len(t, cfg.Services, 1)
	gates := cfg.Services[0].Gates
	assert.Equal(t, 98.0, gates.EfficiencyThreshold)
	assert.Equal(t, 18.0, gates.TemperatureMin)
	assert.Equal(t, 25.0, gates.TemperatureMax)
	assert.Equal(t, 0.8, gates.PressureMin)
	assert.Equal(t, 2.5, gates.PressureMax)
	assert.Equal(t, 100, gates.MinIntegrityScore)
	assert.Equal(t, 600*time.Second, gates.RolloutTimeout)
	assert.Equal(t, 300*time.Second, gates.ReadinessTimeout)
	assert.Equal(t, 12, gates.EfficiencyAttempts)
	assert.Equal(t, 10*time.Second, gates.EfficiencyInterval)
	assert.Equal(t, []string{"database", "cache", "message_queue", "sensor_bus"}, gates.HealthComponents)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
platform:
  type: gitops
  gitops:
    repository_url: https://git.example.com/deploy.git
    username: bot
    token: secret
logging:
  level: debug
  format: text
services:
  - name: filler-line
    manifest_path: apps/filler-line/deployment.yaml
    gates:
      efficiency_threshold: 95.5
      min_integrity_score: 99
      efficiency_attempts: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "gitops", cfg.Platform.Type)
	require.NotNil(t, cfg.Platform.GitOps)
	assert.Equal(t, "main", cfg.Platform.GitOps.Branch)
	assert.Equal(t, "/data/gitops-repo", cfg.Platform.GitOps.LocalPath)
	assert.Equal(t, "debug", cfg.Logging.Level)

	gates := cfg.Services[0].Gates
	assert.Equal(t, 95.5, gates.EfficiencyThreshold)
	assert.Equal(t, 99, gates.MinIntegrityScore)
	assert.Equal(t, 3, gates.EfficiencyAttempts)
	// Untouched thresholds still get the defaults.
	assert.Equal(t, 18.0, gates.TemperatureMin)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("RG_TEST_TOKEN", "tok-123")

	path := writeConfig(t, `
audit:
  sink_url: https://audit.example.com
  token: ${RG_TEST_TOKEN}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", cfg.Audit.Token)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not: valid")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestGetService(t *testing.T) {
	cfg := &Config{
		Services: []ServiceConfig{
			{Name: "filler-line"},
			{Name: "labeler"},
		},
	}

	svc := cfg.GetService("labeler")
	require.NotNil(t, svc)
	assert.Equal(t, "labeler", svc.Name)

	assert.Nil(t, cfg.GetService("unknown"))
}

func TestValidateAPIKey(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			APIKeys: []APIKey{
				{Name: "ops", Key: "rg_key_one"},
				{Name: "ci", Key: "rg_key_two"},
			},
		},
	}

	assert.True(t, cfg.ValidateAPIKey("rg_key_one"))
	assert.True(t, cfg.ValidateAPIKey("rg_key_two"))
	assert.False(t, cfg.ValidateAPIKey("rg_key_three"))
	assert.False(t, cfg.ValidateAPIKey(""))
}

func TestLoadArchiveDefaults(t *testing.T) {
	path := writeConfig(t, `
reports:
  archive:
    bucket: compliance-archive
    region: eu-west-1
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.Reports.Archive)
	assert.Equal(t, "compliance-archive", cfg.Reports.Archive.Bucket)
	assert.Equal(t, "compliance-reports", cfg.Reports.Archive.Prefix)
	assert.Equal(t, "eu-west-1", cfg.Reports.Archive.Region)
}
