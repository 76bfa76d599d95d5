package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for consistency. It is called as the
// last step of Load, after all layers have been applied.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model must be configured under models")
	}
	for name, mc := range c.Models {
		if len(mc.Backends) == 0 {
			return fmt.Errorf("models.%s: at least one backend is required", name)
		}
		for i, b := range mc.Backends {
			if b.Endpoint == "" {
				return fmt.Errorf("models.%s.backends[%d]: endpoint is required", name, i)
			}
			if b.Deployment == "" {
				return fmt.Errorf("models.%s.backends[%d]: deployment is required", name, i)
			}
		}
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			return fmt.Errorf("auth.type is apikey but no auth.api_keys are configured")
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" {
				return fmt.Errorf("auth.api_keys[%d]: key is empty", i)
			}
		}
	case "jwt":
		if c.Auth.JWT.JWKSURL == "" {
			return fmt.Errorf("auth.type is jwt but auth.jwt.jwks_url is not set")
		}
	default:
		return fmt.Errorf("auth.type must be one of none, apikey, jwt; got %q", c.Auth.Type)
	}

	switch c.Usage.Type {
	case "none", "memory":
	case "postgres":
		if c.Usage.Postgres.DSN == "" {
			return fmt.Errorf("usage.type is postgres but usage.postgres.dsn is not set")
		}
	default:
		return fmt.Errorf("usage.type must be one of none, memory, postgres; got %q", c.Usage.Type)
	}

	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		return fmt.Errorf("observability.metrics.path must start with /, got %q", c.Observability.Metrics.Path)
	}

	return nil
}
