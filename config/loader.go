package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader assembles a Config from defaults, an optional YAML file and
// environment overrides.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the CERTFLOW env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "CERTFLOW"}
}

// WithConfigPath points the loader at a YAML file. A missing file is not an
// error; the defaults simply stand.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix replaces the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds an extra validation pass run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration. Precedence: defaults, then the YAML
// file, then environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config from file: %w", err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	// Decode into a generic mapping first so scalar values can be coerced
	// the same way env overrides are. Durations in the file may then be
	// written as "30s" rather than nanosecond integers.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if err := setFieldsFromYAML(reflect.ValueOf(cfg).Elem(), raw); err != nil {
		return fmt.Errorf("apply config file: %w", err)
	}
	return nil
}

// setFieldsFromYAML overlays a decoded YAML mapping onto a struct by its
// yaml tags.
func setFieldsFromYAML(v reflect.Value, raw map[string]any) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		name := strings.Split(fieldType.Tag.Get("yaml"), ",")[0]
		if name == "" || name == "-" {
			continue
		}
		value, ok := raw[name]
		if !ok || value == nil {
			continue
		}

		if field.Kind() == reflect.Struct {
			sub, ok := value.(map[string]any)
			if !ok {
				return fmt.Errorf("%s: expected a mapping", name)
			}
			if err := setFieldsFromYAML(field, sub); err != nil {
				return err
			}
			continue
		}

		if items, ok := value.([]any); ok {
			if field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String {
				parts := make([]string, len(items))
				for j, item := range items {
					parts[j] = fmt.Sprintf("%v", item)
				}
				field.Set(reflect.ValueOf(parts))
			}
			continue
		}

		if err := setFieldValue(field, fmt.Sprintf("%v", value)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	return nil
}

// setFieldsFromEnv walks the struct and applies PREFIX_SECTION_FIELD
// environment values by their env tags.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// Durations accept forms like "30s" and "5m".
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// Comma separated lists for string slices.
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads from a path and panics on failure. Meant for main
// functions where a bad config should stop the process.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads defaults plus environment overrides only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}
