package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/agentgate/gateway/internal/config"
	"github.com/agentgate/gateway/internal/observability"
	"github.com/agentgate/gateway/internal/paywall"
	"github.com/agentgate/gateway/pkg/x402"
)

type allowAllVerifier struct{}

func (allowAllVerifier) Verify(_ context.Context, ref x402.SettlementReference, requirement x402.Requirement) ([]x402.Verification, error) {
	return []x402.Verification{{
		From:   common.HexToAddress("0x4444444444444444444444444444444444444444"),
		To:     requirement.Recipient,
		Amount: requirement.Amount,
		TxHash: ref.TxHash,
	}}, nil
}

func testDeps(t *testing.T) Deps {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.Address = ":0"
	cfg.Chain.ID = 8453
	cfg.Chain.Name = "base"
	cfg.Discovery.Name = "agentgate"
	cfg.Discovery.Version = "1"

	usedRefs := paywall.NewUsedReferenceSet(time.Hour)
	t.Cleanup(func() { usedRefs.Close() })

	service := paywall.NewService(paywall.Params{
		Recipient: common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Token: paywall.TokenInfo{
			Symbol:   "USDC",
			Address:  common.HexToAddress("0x2222222222222222222222222222222222222222"),
			Decimals: 6,
		},
		ChainID: 8453,
		Pricing: paywall.PricingTable{
			"POST /api/chat": {Amount: "0.005", Description: "Chat completion"},
		},
		Verifier:       allowAllVerifier{},
		UsedReferences: usedRefs,
		Hooks:          observability.NewRegistry(zerolog.Nop()),
		Logger:         zerolog.Nop(),
	})

	return Deps{
		Config:  cfg,
		Paywall: service,
		Revenue: paywall.NewRevenueCounters(),
		Logger:  zerolog.Nop(),
		Endpoints: map[string]http.Handler{
			"POST /api/chat": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, "chat")
			}),
			"GET /public": http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, "public")
			}),
		},
	}
}

func newTestRouter(t *testing.T) chi.Router {
	router := chi.NewRouter()
	ConfigureRouter(router, testDeps(t))
	return router
}

func TestRoutes_Discovery(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/.well-known/x-agentgate.json", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var doc WellKnownDocument
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode discovery: %v", err)
	}
	if doc.Name != "agentgate" {
		t.Errorf("name = %q", doc.Name)
	}
	if doc.Chain.ID != 8453 || doc.Chain.Name != "base" {
		t.Errorf("chain = %+v", doc.Chain)
	}
	if doc.Token.Symbol != "USDC" || doc.Token.Decimals != 6 {
		t.Errorf("token = %+v", doc.Token)
	}
	if len(doc.Endpoints) != 1 {
		t.Fatalf("endpoints = %d, want 1", len(doc.Endpoints))
	}
	endpoint := doc.Endpoints[0]
	if endpoint.Method != "POST" || endpoint.Path != "/api/chat" || endpoint.Price != "0.005" {
		t.Errorf("endpoint = %+v", endpoint)
	}
}

func TestRoutes_Health(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/gateway-health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
}

func TestRoutes_PricedEndpointChallengesAndAdmits(t *testing.T) {
	router := newTestRouter(t)

	// no header: 402 challenge
	req := httptest.NewRequest("POST", "/api/chat", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", w.Code)
	}

	// with header: verified and handled
	header := x402.FormatSettlementHeader(x402.SettlementReference{
		TxHash:  common.HexToHash("0xcccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"),
		ChainID: big.NewInt(8453),
	})
	req = httptest.NewRequest("POST", "/api/chat", nil)
	req.Header.Set(x402.HeaderName, header)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "chat" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestRoutes_UnpricedEndpointServedDirectly(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/public", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "public" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestAdminMetricsAuth(t *testing.T) {
	protected := adminMetricsAuth("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	protected.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("without key: status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest("GET", "/metrics", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	protected.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("with key: status = %d, want 200", w.Code)
	}
}
