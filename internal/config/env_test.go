package config

import (
	"os"
	"testing"
	"time"
)

func TestEnvOverrides(t *testing.T) {
	defer os.Clearenv()

	tests := []struct {
		name      string
		envVars   map[string]string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name:    "GATEWAY_SERVER_ADDRESS overrides default",
			envVars: map[string]string{"GATEWAY_SERVER_ADDRESS": ":3000"},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.Address != ":3000" {
					t.Errorf("expected :3000, got %s", cfg.Server.Address)
				}
			},
		},
		{
			name:    "GATEWAY_ROUTE_PREFIX is normalized",
			envVars: map[string]string{"GATEWAY_ROUTE_PREFIX": "api/"},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Server.RoutePrefix != "/api" {
					t.Errorf("expected /api, got %s", cfg.Server.RoutePrefix)
				}
			},
		},
		{
			name:    "GATEWAY_CHAIN_ID overrides default",
			envVars: map[string]string{"GATEWAY_CHAIN_ID": "84532"},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Chain.ID != 84532 {
					t.Errorf("expected 84532, got %d", cfg.Chain.ID)
				}
			},
		},
		{
			name:    "GATEWAY_CHAIN_ID ignores garbage",
			envVars: map[string]string{"GATEWAY_CHAIN_ID": "not-a-number"},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Chain.ID != 8453 {
					t.Errorf("expected default 8453, got %d", cfg.Chain.ID)
				}
			},
		},
		{
			name:    "GATEWAY_TOKEN_DECIMALS override",
			envVars: map[string]string{"GATEWAY_TOKEN_DECIMALS": "18"},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Token.Decimals != 18 {
					t.Errorf("expected 18, got %d", cfg.Token.Decimals)
				}
			},
		},
		{
			name:    "GATEWAY_EXPIRY_WINDOW override",
			envVars: map[string]string{"GATEWAY_EXPIRY_WINDOW": "90s"},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Paywall.ExpiryWindow.Duration != 90*time.Second {
					t.Errorf("expected 90s, got %v", cfg.Paywall.ExpiryWindow.Duration)
				}
			},
		},
		{
			name:    "GATEWAY_RATE_LIMIT_GLOBAL_ENABLED disables",
			envVars: map[string]string{"GATEWAY_RATE_LIMIT_GLOBAL_ENABLED": "false"},
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.RateLimit.GlobalEnabled {
					t.Error("expected global rate limiting disabled")
				}
			},
		},
		{
			name:    "GATEWAY_CORS_ALLOWED_ORIGINS splits on comma",
			envVars: map[string]string{"GATEWAY_CORS_ALLOWED_ORIGINS": "https://a.example, https://b.example"},
			checkFunc: func(t *testing.T, cfg *Config) {
				if len(cfg.Server.CORSAllowedOrigins) != 2 || cfg.Server.CORSAllowedOrigins[1] != "https://b.example" {
					t.Errorf("unexpected origins: %v", cfg.Server.CORSAllowedOrigins)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg := defaultConfig()
			cfg.applyEnvOverrides()
			tt.checkFunc(t, cfg)
		})
	}
}

func TestNormalizeRoutePrefix(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{"api/v1/", "/api/v1"},
		{"/", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeRoutePrefix(tt.in); got != tt.want {
			t.Errorf("normalizeRoutePrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
