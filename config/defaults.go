package config

import "time"

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Engine:    DefaultEngineConfig(),
		Bus:       DefaultBusConfig(),
		Registry:  DefaultRegistryConfig(),
		Log:       DefaultLogConfig(),
		Metrics:   DefaultMetricsConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the HTTP server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultEngineConfig returns the workflow engine defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultWorkflowTimeout: 5 * time.Minute,
		DefaultStepTimeout:     0,
		MaxCompletedExecutions: 100,
		CycleMultiplier:        10,
	}
}

// DefaultBusConfig returns the message bus defaults.
func DefaultBusConfig() BusConfig {
	return BusConfig{
		HistoryCapacity: 100,
		DeliveryTimeout: 30 * time.Second,
		Workers:         16,
		QueueSize:       1024,
	}
}

// DefaultRegistryConfig returns the agent registry defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		HealthCheckTimeout: 5 * time.Second,
		ShutdownTimeout:    10 * time.Second,
		UnhealthyThreshold: 3,
		MonitorInterval:    0,
		SelectionPolicy:    "registration-order",
	}
}

// DefaultLogConfig returns the logging defaults.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultMetricsConfig returns the metrics defaults.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled: true,
		Path:    "/metrics",
	}
}

// DefaultTelemetryConfig returns the telemetry defaults.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "certflow",
		SampleRate:   0.1,
	}
}
