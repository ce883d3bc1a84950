// Package gateway wires the paywall components for reuse or standalone
// serving: a host application can mount the gateway onto its own router,
// or run it as a server of its own.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/agentgate/gateway/internal/circuitbreaker"
	"github.com/agentgate/gateway/internal/config"
	"github.com/agentgate/gateway/internal/httpserver"
	"github.com/agentgate/gateway/internal/lifecycle"
	"github.com/agentgate/gateway/internal/logger"
	"github.com/agentgate/gateway/internal/metrics"
	"github.com/agentgate/gateway/internal/observability"
	"github.com/agentgate/gateway/internal/paywall"
	"github.com/agentgate/gateway/pkg/x402/evm"
)

// Version is stamped into logs at build time. The discovery document
// advertises discovery.version from the config instead.
var Version = "dev"

// App assembles the gateway's components.
type App struct {
	Config         *config.Config
	Logger         zerolog.Logger
	Paywall        *paywall.Service
	Verifier       evm.Verifier
	UsedReferences *paywall.UsedReferenceSet
	Revenue        *paywall.RevenueCounters
	Hooks          *observability.Registry
	Metrics        *metrics.Metrics

	server    *httpserver.Server
	router    chi.Router
	resources *lifecycle.Manager
	ledger    *ethclient.Client
}

// Option configures App construction.
type Option func(*options)

type options struct {
	verifier   evm.Verifier
	router     chi.Router
	endpoints  map[string]http.Handler
	hooks      []observability.PaymentHook
	registerer prometheus.Registerer
}

// WithVerifier injects a custom settlement verifier instead of dialing the
// configured ledger RPC.
func WithVerifier(verifier evm.Verifier) Option {
	return func(o *options) { o.verifier = verifier }
}

// WithRouter registers routes onto an existing chi.Router instead of a new one.
func WithRouter(router chi.Router) Option {
	return func(o *options) { o.router = router }
}

// WithEndpoint mounts a business handler behind the paywall. Key is
// "METHOD path" and should match a pricing table entry; unpriced keys are
// served without challenge.
func WithEndpoint(key string, handler http.Handler) Option {
	return func(o *options) {
		if o.endpoints == nil {
			o.endpoints = make(map[string]http.Handler)
		}
		o.endpoints[key] = handler
	}
}

// WithPaymentHook registers an additional payment-observed hook.
func WithPaymentHook(hook observability.PaymentHook) Option {
	return func(o *options) { o.hooks = append(o.hooks, hook) }
}

// WithMetricsRegisterer overrides the Prometheus registerer, mainly for
// per-test isolation.
func WithMetricsRegisterer(registerer prometheus.Registerer) Option {
	return func(o *options) { o.registerer = registerer }
}

// NewApp assembles the gateway.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("gateway: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	app := &App{
		Config:    cfg,
		resources: lifecycle.NewManager(),
	}

	app.Logger = logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     cfg.Discovery.Name,
		Version:     Version,
		Environment: cfg.Logging.Environment,
	})

	registerer := optState.registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	app.Metrics = metrics.New(registerer)

	app.Hooks = observability.NewRegistry(app.Logger)
	app.Hooks.RegisterPaymentHook(observability.NewPrometheusHook(app.Metrics))
	app.Hooks.RegisterRPCHook(observability.NewPrometheusHook(app.Metrics))
	app.Revenue = paywall.NewRevenueCounters()
	app.Hooks.RegisterPaymentHook(app.Revenue)
	for _, hook := range optState.hooks {
		app.Hooks.RegisterPaymentHook(hook)
	}

	breaker := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)

	if optState.verifier != nil {
		app.Verifier = optState.verifier
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ledger, err := evm.Dial(ctx, cfg.Chain.RPCURL)
		if err != nil {
			return nil, err
		}
		app.ledger = ledger
		app.resources.RegisterFunc("ledger_rpc", func() error {
			ledger.Close()
			return nil
		})
		app.Verifier = evm.NewRPCVerifier(ledger, evm.WithBreaker(breaker), evm.WithHooks(app.Hooks))
	}

	app.UsedReferences = paywall.NewUsedReferenceSet(cfg.Paywall.UsedReferenceRetention.Duration)
	app.resources.Register("used_references", app.UsedReferences)

	app.Paywall = paywall.NewService(paywall.Params{
		Recipient: common.HexToAddress(cfg.Paywall.Recipient),
		Token: paywall.TokenInfo{
			Symbol:   cfg.Token.Symbol,
			Address:  common.HexToAddress(cfg.Token.Address),
			Decimals: cfg.Token.Decimals,
		},
		ChainID:        cfg.Chain.ID,
		ExpiryWindow:   cfg.Paywall.ExpiryWindow.Duration,
		RoutePrefix:    cfg.Server.RoutePrefix,
		Pricing:        paywall.PricingFromConfig(cfg.Paywall),
		Verifier:       app.Verifier,
		UsedReferences: app.UsedReferences,
		Hooks:          app.Hooks,
		Metrics:        app.Metrics,
		Logger:         app.Logger,
	})

	deps := httpserver.Deps{
		Config:    cfg,
		Paywall:   app.Paywall,
		Revenue:   app.Revenue,
		RPCProbe:  app.rpcProbe(),
		Metrics:   app.Metrics,
		Logger:    app.Logger,
		Endpoints: optState.endpoints,
	}

	if optState.router != nil {
		app.router = optState.router
		httpserver.ConfigureRouter(app.router, deps)
	} else {
		app.server = httpserver.New(deps)
	}

	return app, nil
}

// rpcProbe reports ledger connectivity for the health endpoint.
func (a *App) rpcProbe() httpserver.HealthProbe {
	if a.ledger == nil {
		return nil
	}
	return func(ctx context.Context) bool {
		_, err := a.ledger.ChainID(ctx)
		return err == nil
	}
}

// Run serves HTTP until the context is canceled, then shuts down
// gracefully and releases resources.
func (a *App) Run(ctx context.Context) error {
	if a.server == nil {
		return errors.New("gateway: app was built onto an external router; serve that router instead")
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.server.ListenAndServe()
	}()

	a.Logger.Info().
		Str("address", a.Config.Server.Address).
		Uint64("chain_id", a.Config.Chain.ID).
		Int("priced_endpoints", len(a.Paywall.Pricing())).
		Msg("gateway.started")

	select {
	case err := <-serveErr:
		a.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := a.server.Shutdown(shutdownCtx)

	if closeErr := a.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Close releases the app's resources (used-reference sweeper, RPC client).
func (a *App) Close() error {
	return a.resources.Close()
}
