package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete certflow configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Engine    EngineConfig    `yaml:"engine" env:"ENGINE"`
	Bus       BusConfig       `yaml:"bus" env:"BUS"`
	Registry  RegistryConfig  `yaml:"registry" env:"REGISTRY"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Metrics   MetricsConfig   `yaml:"metrics" env:"METRICS"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig tunes the ops HTTP server.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// RateLimitRPS and RateLimitBurst shape the request rate limiter.
	// Zero RPS disables limiting.
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// CORSOrigins lists origins allowed to call the API and the event
	// stream from a browser. Empty means same-origin only.
	CORSOrigins []string `yaml:"cors_origins" env:"CORS_ORIGINS"`
}

// EngineConfig tunes the workflow engine.
type EngineConfig struct {
	// DefaultWorkflowTimeout bounds executions whose definition sets none.
	DefaultWorkflowTimeout time.Duration `yaml:"default_workflow_timeout" env:"DEFAULT_WORKFLOW_TIMEOUT"`
	// DefaultStepTimeout bounds agent calls for steps without their own
	// timeout. Zero leaves them unbounded.
	DefaultStepTimeout time.Duration `yaml:"default_step_timeout" env:"DEFAULT_STEP_TIMEOUT"`
	// MaxCompletedExecutions caps the in-memory completed store.
	MaxCompletedExecutions int `yaml:"max_completed_executions" env:"MAX_COMPLETED_EXECUTIONS"`
	// CycleMultiplier sets the visit ceiling to len(steps) * multiplier.
	CycleMultiplier int `yaml:"cycle_multiplier" env:"CYCLE_MULTIPLIER"`
}

// BusConfig tunes the message bus.
type BusConfig struct {
	HistoryCapacity int           `yaml:"history_capacity" env:"HISTORY_CAPACITY"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout" env:"DELIVERY_TIMEOUT"`
	Workers         int           `yaml:"workers" env:"WORKERS"`
	QueueSize       int           `yaml:"queue_size" env:"QUEUE_SIZE"`
}

// RegistryConfig tunes the agent registry.
type RegistryConfig struct {
	HealthCheckTimeout time.Duration `yaml:"health_check_timeout" env:"HEALTH_CHECK_TIMEOUT"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	UnhealthyThreshold int           `yaml:"unhealthy_threshold" env:"UNHEALTHY_THRESHOLD"`
	// MonitorInterval is the background health sweep interval. Zero
	// disables the monitor.
	MonitorInterval time.Duration `yaml:"monitor_interval" env:"MONITOR_INTERVAL"`
	// SelectionPolicy picks agents among capability candidates:
	// registration-order, round-robin, least-busy or sticky.
	SelectionPolicy string `yaml:"selection_policy" env:"SELECTION_POLICY"`
}

// LogConfig tunes the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// MetricsConfig tunes the Prometheus surface.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Path is where the HTTP server mounts the metrics handler.
	Path string `yaml:"path" env:"PATH"`
}

// TelemetryConfig tunes OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Validate rejects values the runtime cannot start with.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "server.http_port must be in 1..65535")
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, "server.rate_limit_rps must not be negative")
	}

	if c.Engine.MaxCompletedExecutions < 1 {
		errs = append(errs, "engine.max_completed_executions must be at least 1")
	}
	if c.Engine.CycleMultiplier < 1 {
		errs = append(errs, "engine.cycle_multiplier must be at least 1")
	}
	if c.Engine.DefaultWorkflowTimeout <= 0 {
		errs = append(errs, "engine.default_workflow_timeout must be positive")
	}

	if c.Bus.HistoryCapacity < 1 {
		errs = append(errs, "bus.history_capacity must be at least 1")
	}
	if c.Bus.Workers < 1 {
		errs = append(errs, "bus.workers must be at least 1")
	}
	if c.Bus.QueueSize < 1 {
		errs = append(errs, "bus.queue_size must be at least 1")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not json or console", c.Log.Format))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
