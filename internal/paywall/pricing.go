package paywall

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/agentgate/gateway/internal/config"
)

// Price is a single pricing table entry. Amount is a decimal string in the
// token's display unit; scaling to smallest units happens at challenge time
// with exact integer math.
type Price struct {
	Amount      string
	Description string
	Token       *TokenInfo // optional override of the service default
}

// PricingTable maps "METHOD path" keys to prices. Lookup is exact match;
// path parameters are not wildcarded, and unlisted paths bypass the
// paywall entirely. The table is immutable after construction.
type PricingTable map[string]Price

// PricingFromConfig converts the configured endpoint map into a table.
// Config validation has already checked keys and amounts.
func PricingFromConfig(cfg config.PaywallConfig) PricingTable {
	table := make(PricingTable, len(cfg.Endpoints))
	for key, endpoint := range cfg.Endpoints {
		price := Price{
			Amount:      endpoint.Price,
			Description: endpoint.Description,
		}
		if endpoint.Token != nil {
			price.Token = &TokenInfo{
				Symbol:   endpoint.Token.Symbol,
				Address:  common.HexToAddress(endpoint.Token.Address),
				Decimals: endpoint.Token.Decimals,
			}
		}
		table[key] = price
	}
	return table
}

// Lookup resolves the price for an endpoint identifier.
func (t PricingTable) Lookup(endpoint string) (Price, bool) {
	price, ok := t[endpoint]
	return price, ok
}

// Endpoints returns the priced endpoint identifiers in stable order.
func (t PricingTable) Endpoints() []string {
	keys := make([]string, 0, len(t))
	for key := range t {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
