// Package config loads certflow configuration from defaults, an optional
// YAML file and environment variable overrides, in that order.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("certflow.yaml").
//	    WithEnvPrefix("CERTFLOW").
//	    Load()
//
// Environment keys follow the struct layout: CERTFLOW_SERVER_HTTP_PORT,
// CERTFLOW_ENGINE_CYCLE_MULTIPLIER, CERTFLOW_LOG_LEVEL and so on.
package config
