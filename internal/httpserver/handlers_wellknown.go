package httpserver

import (
	"net/http"

	"github.com/agentgate/gateway/pkg/responders"
)

// WellKnownDocument is the /.well-known/x-agentgate.json discovery response.
// It serves humans and agents alike; prices are decimal strings in the
// token's display unit.
type WellKnownDocument struct {
	Name      string              `json:"name"`
	Version   string              `json:"version"`
	Chain     WellKnownChain      `json:"chain"`
	Token     WellKnownToken      `json:"token"`
	Recipient string              `json:"recipient"`
	Endpoints []WellKnownEndpoint `json:"endpoints"`
}

// WellKnownChain identifies the settlement ledger.
type WellKnownChain struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// WellKnownToken describes the payment token.
type WellKnownToken struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
}

// WellKnownEndpoint is one priced endpoint in the discovery document.
type WellKnownEndpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Price       string `json:"price"`
	Description string `json:"description,omitempty"`
}

// wellKnownDiscovery handles GET /.well-known/x-agentgate.json, the
// RFC 8615 style endpoint agents use to discover what this gateway charges.
func (h *handlers) wellKnownDiscovery(w http.ResponseWriter, r *http.Request) {
	pricing := h.paywall.Pricing()
	token := h.paywall.Token()

	endpoints := make([]WellKnownEndpoint, 0, len(pricing))
	for _, key := range pricing.Endpoints() {
		price, _ := pricing.Lookup(key)
		method, path, ok := splitEndpointKey(key)
		if !ok {
			continue
		}
		endpoints = append(endpoints, WellKnownEndpoint{
			Method:      method,
			Path:        path,
			Price:       price.Amount,
			Description: price.Description,
		})
	}

	doc := WellKnownDocument{
		Name:    h.cfg.Discovery.Name,
		Version: h.cfg.Discovery.Version,
		Chain: WellKnownChain{
			ID:   h.paywall.ChainID(),
			Name: h.cfg.Chain.Name,
		},
		Token: WellKnownToken{
			Symbol:   token.Symbol,
			Address:  token.Address.Hex(),
			Decimals: token.Decimals,
		},
		Recipient: h.paywall.Recipient().Hex(),
		Endpoints: endpoints,
	}

	responders.JSON(w, http.StatusOK, doc)
}
