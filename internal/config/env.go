package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use the GATEWAY_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "GATEWAY_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "GATEWAY_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "GATEWAY_ADMIN_METRICS_API_KEY")

	// Normalize route prefix: ensure it starts with / and doesn't end with /
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	if v := os.Getenv("GATEWAY_CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		c.Server.CORSAllowedOrigins = origins
	}

	// Logging config
	setIfEnv(&c.Logging.Level, "GATEWAY_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "GATEWAY_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "GATEWAY_ENVIRONMENT")

	// Chain config
	setUint64IfEnv(&c.Chain.ID, "GATEWAY_CHAIN_ID")
	setIfEnv(&c.Chain.Name, "GATEWAY_CHAIN_NAME")
	setIfEnv(&c.Chain.RPCURL, "GATEWAY_RPC_URL")

	// Token config
	setIfEnv(&c.Token.Symbol, "GATEWAY_TOKEN_SYMBOL")
	setIfEnv(&c.Token.Address, "GATEWAY_TOKEN_ADDRESS")
	setUint8IfEnv(&c.Token.Decimals, "GATEWAY_TOKEN_DECIMALS")

	// Paywall config
	setIfEnv(&c.Paywall.Recipient, "GATEWAY_RECIPIENT")
	setDurationIfEnv(&c.Paywall.ExpiryWindow, "GATEWAY_EXPIRY_WINDOW")
	setDurationIfEnv(&c.Paywall.UsedReferenceRetention, "GATEWAY_USED_REFERENCE_RETENTION")

	// Rate limit config
	setBoolIfEnv(&c.RateLimit.GlobalEnabled, "GATEWAY_RATE_LIMIT_GLOBAL_ENABLED")
	setIntIfEnv(&c.RateLimit.GlobalLimit, "GATEWAY_RATE_LIMIT_GLOBAL_LIMIT")
	setBoolIfEnv(&c.RateLimit.PerWalletEnabled, "GATEWAY_RATE_LIMIT_PER_WALLET_ENABLED")
	setIntIfEnv(&c.RateLimit.PerWalletLimit, "GATEWAY_RATE_LIMIT_PER_WALLET_LIMIT")
	setBoolIfEnv(&c.RateLimit.PerIPEnabled, "GATEWAY_RATE_LIMIT_PER_IP_ENABLED")
	setIntIfEnv(&c.RateLimit.PerIPLimit, "GATEWAY_RATE_LIMIT_PER_IP_LIMIT")

	// Circuit breaker config
	setBoolIfEnv(&c.CircuitBreaker.Enabled, "GATEWAY_CIRCUIT_BREAKER_ENABLED")
}

// setIfEnv sets the target string if the environment variable is non-empty.
func setIfEnv(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// setBoolIfEnv sets the target bool if the environment variable parses as one.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*target = parsed
		}
	}
}

// setIntIfEnv sets the target int if the environment variable parses as one.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*target = parsed
		}
	}
}

// setUint64IfEnv sets the target uint64 if the environment variable parses as one.
func setUint64IfEnv(target *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseUint(v, 10, 64); err == nil {
			*target = parsed
		}
	}
}

// setUint8IfEnv sets the target uint8 if the environment variable parses as one.
func setUint8IfEnv(target *uint8, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseUint(v, 10, 8); err == nil {
			*target = uint8(parsed)
		}
	}
}

// setDurationIfEnv sets the target duration if the environment variable parses as one.
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: parsed}
		}
	}
}

// normalizeRoutePrefix ensures the prefix starts with "/" and has no trailing "/".
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || prefix == "/" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimRight(prefix, "/")
}
