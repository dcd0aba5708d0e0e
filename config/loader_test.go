package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 5*time.Minute, cfg.Engine.DefaultWorkflowTimeout)
	assert.Equal(t, 16, cfg.Bus.Workers)
	assert.Equal(t, "registration-order", cfg.Registry.SelectionPolicy)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "certflow.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s
  rate_limit_rps: 50

engine:
  default_workflow_timeout: 2m
  max_completed_executions: 500
  cycle_multiplier: 5

bus:
  history_capacity: 256
  workers: 8

registry:
  selection_policy: "least-busy"
  monitor_interval: 30s

log:
  level: "debug"
  format: "console"

telemetry:
  enabled: true
  otlp_endpoint: "collector:4317"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, float64(50), cfg.Server.RateLimitRPS)

	assert.Equal(t, 2*time.Minute, cfg.Engine.DefaultWorkflowTimeout)
	assert.Equal(t, 500, cfg.Engine.MaxCompletedExecutions)
	assert.Equal(t, 5, cfg.Engine.CycleMultiplier)

	assert.Equal(t, 256, cfg.Bus.HistoryCapacity)
	assert.Equal(t, 8, cfg.Bus.Workers)
	// Untouched sections keep their defaults.
	assert.Equal(t, 1024, cfg.Bus.QueueSize)

	assert.Equal(t, "least-busy", cfg.Registry.SelectionPolicy)
	assert.Equal(t, 30*time.Second, cfg.Registry.MonitorInterval)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)

	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
}

func TestLoader_MissingFileKeepsDefaults(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).
		Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_MalformedYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "broken.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [nope"), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	envVars := map[string]string{
		"CERTFLOW_SERVER_HTTP_PORT":                "7777",
		"CERTFLOW_ENGINE_DEFAULT_WORKFLOW_TIMEOUT": "90s",
		"CERTFLOW_ENGINE_CYCLE_MULTIPLIER":         "3",
		"CERTFLOW_BUS_WORKERS":                     "4",
		"CERTFLOW_REGISTRY_SELECTION_POLICY":       "round-robin",
		"CERTFLOW_LOG_LEVEL":                       "warn",
		"CERTFLOW_LOG_OUTPUT_PATHS":                "stdout, /var/log/certflow.log",
		"CERTFLOW_METRICS_ENABLED":                 "false",
		"CERTFLOW_TELEMETRY_SAMPLE_RATE":           "0.5",
	}
	for k, v := range envVars {
		os.Setenv(k, v)
	}
	defer func() {
		for k := range envVars {
			os.Unsetenv(k)
		}
	}()

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, 90*time.Second, cfg.Engine.DefaultWorkflowTimeout)
	assert.Equal(t, 3, cfg.Engine.CycleMultiplier)
	assert.Equal(t, 4, cfg.Bus.Workers)
	assert.Equal(t, "round-robin", cfg.Registry.SelectionPolicy)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []string{"stdout", "/var/log/certflow.log"}, cfg.Log.OutputPaths)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, 0.5, cfg.Telemetry.SampleRate)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "certflow.yaml")
	yamlContent := `
server:
  http_port: 8888
log:
  level: "debug"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	os.Setenv("CERTFLOW_SERVER_HTTP_PORT", "9999")
	defer os.Unsetenv("CERTFLOW_SERVER_HTTP_PORT")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	// YAML still applies where no env override exists.
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	os.Setenv("HALAL_SERVER_HTTP_PORT", "6666")
	defer os.Unsetenv("HALAL_SERVER_HTTP_PORT")

	cfg, err := NewLoader().WithEnvPrefix("HALAL").Load()
	require.NoError(t, err)
	assert.Equal(t, 6666, cfg.Server.HTTPPort)
}

func TestLoader_BadEnvValue(t *testing.T) {
	os.Setenv("CERTFLOW_SERVER_HTTP_PORT", "not-a-port")
	defer os.Unsetenv("CERTFLOW_SERVER_HTTP_PORT")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestLoader_CustomValidator(t *testing.T) {
	wantErr := errors.New("needs at least one output path")
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			if len(c.Log.OutputPaths) == 0 {
				return wantErr
			}
			return nil
		}).
		Load()
	require.NoError(t, err)

	_, err = NewLoader().
		WithValidator(func(c *Config) error { return wantErr }).
		Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
}

func TestMustLoad_PanicsOnBadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "broken.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("log: {level: silly}"), 0644))

	assert.Panics(t, func() { MustLoad(configPath) })
}
