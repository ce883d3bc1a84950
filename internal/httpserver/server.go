package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/agentgate/gateway/internal/config"
	"github.com/agentgate/gateway/internal/logger"
	"github.com/agentgate/gateway/internal/metrics"
	"github.com/agentgate/gateway/internal/paywall"
	"github.com/agentgate/gateway/internal/ratelimit"
)

var serverStartTime = time.Now()

// HealthProbe reports whether the ledger RPC endpoint is reachable.
type HealthProbe func(ctx context.Context) bool

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg      *config.Config
	paywall  *paywall.Service
	revenue  *paywall.RevenueCounters
	rpcProbe HealthProbe
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// Deps collects the dependencies the HTTP layer needs.
type Deps struct {
	Config   *config.Config
	Paywall  *paywall.Service
	Revenue  *paywall.RevenueCounters
	RPCProbe HealthProbe
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger

	// Endpoints are the priced (and unpriced) business handlers, keyed by
	// "METHOD path". The gateway treats them as opaque: each is mounted
	// behind the paywall middleware, which admits the request only once a
	// settlement for it has been verified.
	Endpoints map[string]http.Handler
}

// New builds the HTTP server with configured router.
func New(deps Deps) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:      deps.Config,
			paywall:  deps.Paywall,
			revenue:  deps.Revenue,
			rpcProbe: deps.RPCProbe,
			metrics:  deps.Metrics,
			logger:   deps.Logger,
		},
		httpServer: &http.Server{
			Addr:         deps.Config.Server.Address,
			ReadTimeout:  deps.Config.Server.ReadTimeout.Duration,
			WriteTimeout: deps.Config.Server.WriteTimeout.Duration,
			IdleTimeout:  deps.Config.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	ConfigureRouter(router, deps)

	return s
}

// ConfigureRouter attaches gateway routes to an existing router, so the
// paywall can be embedded into a host application's own chi router.
func ConfigureRouter(router chi.Router, deps Deps) {
	if router == nil {
		return
	}

	cfg := deps.Config
	handler := handlers{
		cfg:      cfg,
		paywall:  deps.Paywall,
		revenue:  deps.Revenue,
		rpcProbe: deps.RPCProbe,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"X-Payment-Amount", "X-Payment-Token", "X-Payment-Recipient"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	// Security headers middleware (applied after CORS, for all responses)
	router.Use(securityHeadersMiddleware)

	// Structured logging middleware (BEFORE RequestID for context propagation)
	router.Use(logger.Middleware(deps.Logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	// Rate limiting middleware (applied globally)
	rateLimitCfg := ratelimit.Config{
		GlobalEnabled:    cfg.RateLimit.GlobalEnabled,
		GlobalLimit:      cfg.RateLimit.GlobalLimit,
		GlobalWindow:     cfg.RateLimit.GlobalWindow.Duration,
		GlobalBurst:      cfg.RateLimit.GlobalLimit / 10,
		PerWalletEnabled: cfg.RateLimit.PerWalletEnabled,
		PerWalletLimit:   cfg.RateLimit.PerWalletLimit,
		PerWalletWindow:  cfg.RateLimit.PerWalletWindow.Duration,
		PerWalletBurst:   cfg.RateLimit.PerWalletLimit / 6,
		PerIPEnabled:     cfg.RateLimit.PerIPEnabled,
		PerIPLimit:       cfg.RateLimit.PerIPLimit,
		PerIPWindow:      cfg.RateLimit.PerIPWindow.Duration,
		PerIPBurst:       cfg.RateLimit.PerIPLimit / 6,
		Metrics:          deps.Metrics,
	}
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))
	router.Use(ratelimit.WalletLimiter(rateLimitCfg))
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints with 5s timeout (health, discovery, metrics).
	// The paywall never prices these.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get("/gateway-health", handler.health)
		r.Get("/.well-known/x-agentgate.json", handler.wellKnownDiscovery)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Get(prefix+"/gateway/v1/revenue", handler.revenueSnapshot)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle(prefix+"/metrics", promhttp.Handler())
	})

	// Priced endpoints with 60s timeout (a ledger read per verification).
	paywallMW := deps.Paywall.Middleware()
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(paywallMW)
		for key, endpoint := range deps.Endpoints {
			method, path, ok := splitEndpointKey(key)
			if !ok {
				deps.Logger.Error().Str("endpoint", key).Msg("httpserver.invalid_endpoint_key")
				continue
			}
			r.Method(method, prefix+path, endpoint)
		}
	})
}

// splitEndpointKey splits a "METHOD path" key.
func splitEndpointKey(key string) (method, path string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == ' ' {
			return key[:i], key[i+1:], i > 0 && i < len(key)-1
		}
	}
	return "", "", false
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
