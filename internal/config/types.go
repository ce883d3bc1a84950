package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Chain          ChainConfig          `yaml:"chain"`
	Token          TokenConfig          `yaml:"token"`
	Paywall        PaywallConfig        `yaml:"paywall"`
	Discovery      DiscoveryConfig      `yaml:"discovery"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g., "/api")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional API key to protect /metrics (empty = unprotected)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// ChainConfig identifies the ledger the gateway verifies settlements against.
type ChainConfig struct {
	ID     uint64 `yaml:"id"`      // EVM chain id, e.g. 8453 for Base
	Name   string `yaml:"name"`    // Human-readable name for discovery
	RPCURL string `yaml:"rpc_url"` // JSON-RPC endpoint
}

// TokenConfig describes the payment token.
type TokenConfig struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"` // ERC-20 contract address, 0x-prefixed
	Decimals uint8  `yaml:"decimals"`
}

// PaywallConfig holds paywall middleware configuration.
type PaywallConfig struct {
	Recipient              string                    `yaml:"recipient"`                // Payment recipient address
	ExpiryWindow           Duration                  `yaml:"expiry_window"`            // Requirement lifetime (default: 300s)
	UsedReferenceRetention Duration                  `yaml:"used_reference_retention"` // How long claimed settlement references are remembered; must cover ExpiryWindow
	Endpoints              map[string]PricedEndpoint `yaml:"endpoints"`                // Keyed by "METHOD path", exact match
}

// PricedEndpoint defines the price of a single endpoint.
// Price is a decimal string in the token's display unit ("0.005"), scaled to
// smallest units at challenge time to avoid floating point.
type PricedEndpoint struct {
	Price       string       `yaml:"price"`
	Description string       `yaml:"description"`
	Token       *TokenConfig `yaml:"token"` // Optional per-endpoint token override
}

// DiscoveryConfig feeds the /.well-known discovery document.
type DiscoveryConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// RateLimitConfig holds rate limiting configuration.
// Provides multi-tier rate limiting to prevent spam while allowing legitimate use.
type RateLimitConfig struct {
	// Global rate limiting (across all users)
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	// Per-wallet rate limiting (identified by X-Wallet header)
	PerWalletEnabled bool     `yaml:"per_wallet_enabled"`
	PerWalletLimit   int      `yaml:"per_wallet_limit"`
	PerWalletWindow  Duration `yaml:"per_wallet_window"`

	// Per-IP rate limiting (fallback when wallet not identified)
	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
// Prevents cascading failures by failing fast when external services are degraded.
type CircuitBreakerConfig struct {
	Enabled    bool                 `yaml:"enabled"`     // Enable circuit breakers (default: true)
	EVMRPC     BreakerServiceConfig `yaml:"evm_rpc"`     // Ledger RPC circuit breaker
	CustodyAPI BreakerServiceConfig `yaml:"custody_api"` // Remote custody API circuit breaker
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}
