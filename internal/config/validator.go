package config

import (
	"fmt"
	"strconv"

	"aiproxy-go/internal/constants"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s=%s]: %s", e.Field, e.Value, e.Message)
}

// ValidationResult holds the results of configuration validation
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
	Valid    bool
}

func (r *ValidationResult) addError(field, value, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Value: value, Message: message})
	r.Valid = false
}

func (r *ValidationResult) addWarning(field, value, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Value: value, Message: message})
}

// Validate checks value ranges. Recoverable problems are clamped and
// reported as warnings.
func (c *Config) Validate() ValidationResult {
	res := ValidationResult{Valid: true}

	if c.Server.Addr == "" {
		res.addError("server.addr", "", "listen address is required")
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			res.addError("cache.redis_addr", "", "redis backend requires an address")
		}
	default:
		res.addError("cache.backend", c.Cache.Backend, "must be memory or redis")
	}

	if ttl := c.Proxy.DefaultCacheTTL; ttl < constants.MinCacheTTL || ttl > constants.MaxCacheTTL {
		res.addWarning("proxy.default_cache_ttl", strconv.Itoa(ttl), "out of range; clamped")
		if ttl < constants.MinCacheTTL {
			c.Proxy.DefaultCacheTTL = constants.MinCacheTTL
		} else {
			c.Proxy.DefaultCacheTTL = constants.MaxCacheTTL
		}
	}
	if c.Proxy.MaxCachedResponseBytes <= 0 {
		c.Proxy.MaxCachedResponseBytes = constants.MaxCachedResponse
	}
	if c.Retry.WaitBudgetMS < 0 {
		res.addError("retry.wait_budget_ms", strconv.Itoa(c.Retry.WaitBudgetMS), "must not be negative")
	}
	if c.Retry.MaxBackoffMS <= 0 {
		c.Retry.MaxBackoffMS = int(constants.RetryMaxBackoff.Milliseconds())
	}
	if c.Retry.BaseBackoffMS <= 0 {
		c.Retry.BaseBackoffMS = int(constants.RetryBaseBackoff.Milliseconds())
	}
	if c.Proxy.TempCredentials && c.Proxy.TempCredentialSecret == "" {
		res.addWarning("proxy.temp_credential_secret", "", "unset; temporary credentials do not survive a restart")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		res.addWarning("rate_limit", fmt.Sprintf("%d/%d", c.RateLimit.RPS, c.RateLimit.Burst), "non-positive limits; middleware defaults apply")
	}
	return res
}
