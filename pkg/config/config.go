// Package config provides unified configuration for the vermittler gateway.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (VERMITTLER_ prefix)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the vermittler gateway.
type Config struct {
	Server        ServerConfig           `yaml:"server"`
	Models        map[string]ModelConfig `yaml:"models"`
	Retry         RetryConfig            `yaml:"retry"`
	Auth          AuthConfig             `yaml:"auth"`
	Usage         UsageConfig            `yaml:"usage"`
	Observability ObservabilityConfig    `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`             // default: 3000
	ReadTimeout     Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    Duration `yaml:"write_timeout"`    // default: 0 (unlimited, required for SSE)
	ShutdownTimeout Duration `yaml:"shutdown_timeout"` // default: 10s
}

// ModelConfig lists the backends serving a single model name.
type ModelConfig struct {
	Backends []Backend `yaml:"backends"`
}

// Backend describes one Azure OpenAI deployment.
type Backend struct {
	Endpoint   string `yaml:"endpoint"`     // e.g. https://myresource.openai.azure.com
	APIKey     string `yaml:"api_key"`      // backend credential
	APIKeyFile string `yaml:"api_key_file"` // _file variant for api_key
	Deployment string `yaml:"deployment"`   // Azure deployment name
	APIVersion string `yaml:"api_version"`  // default: 2024-02-01
}

// RetryConfig controls backend failover.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"` // default: 3
	Timeout     Duration `yaml:"timeout"`      // per-request backend timeout, default: 30s
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type    string         `yaml:"type"`     // "none", "apikey", "jwt", default: "none"
	APIKeys []APIKeyConfig `yaml:"api_keys"` // API key entries for type=apikey
	JWT     JWTConfig      `yaml:"jwt"`      // JWT settings for type=jwt
}

// APIKeyConfig describes a single client API key entry.
type APIKeyConfig struct {
	Name    string `yaml:"name"`
	Key     string `yaml:"key"`
	KeyFile string `yaml:"key_file"` // _file variant for key
}

// JWTConfig holds JWT/OIDC validation settings.
type JWTConfig struct {
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
	JWKSURL  string `yaml:"jwks_url"`
}

// UsageConfig holds token usage accounting settings.
type UsageConfig struct {
	Type       string         `yaml:"type"`        // "none", "memory", "postgres", default: "memory"
	MaxRecords int            `yaml:"max_records"` // for memory recorder, default: 10000
	Postgres   PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"` // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Duration wraps time.Duration so YAML values like "30s" parse naturally.
type Duration time.Duration

// UnmarshalYAML parses either a duration string ("30s", "2m") or an
// integer number of seconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var asInt int64
	if err := node.Decode(&asInt); err == nil {
		*d = Duration(time.Duration(asInt) * time.Second)
		return nil
	}

	var asString string
	if err := node.Decode(&asString); err != nil {
		return fmt.Errorf("duration must be a string or integer seconds: %w", err)
	}

	parsed, err := time.ParseDuration(asString)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", asString, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultAPIVersion is used when a backend does not configure api_version.
const DefaultAPIVersion = "2024-02-01"

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            3000,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    0,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			Timeout:     Duration(30 * time.Second),
		},
		Auth: AuthConfig{
			Type: "none",
		},
		Usage: UsageConfig{
			Type:       "memory",
			MaxRecords: 10000,
			Postgres: PostgresConfig{
				MaxConns: 25,
			},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// BackendsForModel returns the backends configured for a model name,
// or nil when the model is unknown.
func (c *Config) BackendsForModel(model string) []Backend {
	if mc, ok := c.Models[model]; ok {
		return mc.Backends
	}
	return nil
}
