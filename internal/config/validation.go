package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/agentgate/gateway/pkg/x402"
)

// httpMethods lists the request methods accepted in pricing table keys.
var httpMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true, "HEAD": true, "OPTIONS": true,
}

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	// Apply defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Paywall.ExpiryWindow.Duration <= 0 {
		c.Paywall.ExpiryWindow = Duration{Duration: 5 * time.Minute}
	}
	// Replay defense must outlive every outstanding requirement, otherwise an
	// expired-and-forgotten reference could be replayed inside its window.
	if c.Paywall.UsedReferenceRetention.Duration < c.Paywall.ExpiryWindow.Duration {
		c.Paywall.UsedReferenceRetention = Duration{Duration: 2 * c.Paywall.ExpiryWindow.Duration}
	}
	if c.Discovery.Name == "" {
		c.Discovery.Name = "agentgate"
	}
	if c.Discovery.Version == "" {
		c.Discovery.Version = "1"
	}

	// Validate
	if c.Chain.ID == 0 {
		return fmt.Errorf("config: chain.id is required")
	}
	if err := validateRPCURL(c.Chain.RPCURL); err != nil {
		return err
	}
	if !common.IsHexAddress(c.Token.Address) {
		return fmt.Errorf("config: token.address %q is not a valid hex address", c.Token.Address)
	}
	if c.Token.Symbol == "" {
		return fmt.Errorf("config: token.symbol is required")
	}
	if !common.IsHexAddress(c.Paywall.Recipient) {
		return fmt.Errorf("config: paywall.recipient %q is not a valid hex address", c.Paywall.Recipient)
	}

	for key, endpoint := range c.Paywall.Endpoints {
		if err := validateEndpointKey(key); err != nil {
			return err
		}
		token := c.Token
		if endpoint.Token != nil {
			token = *endpoint.Token
			if !common.IsHexAddress(token.Address) {
				return fmt.Errorf("config: endpoint %q token override address %q is not a valid hex address", key, token.Address)
			}
		}
		if _, err := x402.ScaleAmount(endpoint.Price, token.Decimals); err != nil {
			return fmt.Errorf("config: endpoint %q price %q: %w", key, endpoint.Price, err)
		}
	}

	return nil
}

// validateEndpointKey checks that a pricing table key is "METHOD path".
func validateEndpointKey(key string) error {
	parts := strings.SplitN(key, " ", 2)
	if len(parts) != 2 {
		return fmt.Errorf("config: endpoint key %q must be \"METHOD path\"", key)
	}
	if !httpMethods[parts[0]] {
		return fmt.Errorf("config: endpoint key %q has unknown method %q", key, parts[0])
	}
	if !strings.HasPrefix(parts[1], "/") {
		return fmt.Errorf("config: endpoint key %q path must start with /", key)
	}
	return nil
}

// validateRPCURL checks the ledger RPC endpoint is a well-formed http(s) or
// ws(s) URL.
func validateRPCURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("config: chain.rpc_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("config: chain.rpc_url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("config: chain.rpc_url %q has unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("config: chain.rpc_url %q missing host", raw)
	}
	return nil
}
