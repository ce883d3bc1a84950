package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// Payment metrics (C3 revenue counters, exposed operationally)
	PaymentsTotal         *prometheus.CounterVec
	PaymentsAdmittedTotal *prometheus.CounterVec
	PaymentsRejectedTotal *prometheus.CounterVec
	PaymentAmountTotal    *prometheus.CounterVec
	PaymentDuration       *prometheus.HistogramVec

	// Ledger RPC metrics (C2)
	RPCCallsTotal   *prometheus.CounterVec
	RPCCallDuration *prometheus.HistogramVec
	RPCErrorsTotal  *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Replay defense metrics
	ReplayRejectionsTotal prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		PaymentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_gateway_payments_total",
				Help: "Total number of priced requests seen (challenges issued)",
			},
			[]string{"endpoint"},
		),
		PaymentsAdmittedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_gateway_payments_admitted_total",
				Help: "Total number of requests admitted after settlement verification",
			},
			[]string{"endpoint"},
		),
		PaymentsRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_gateway_payments_rejected_total",
				Help: "Total number of settlement verifications that failed",
			},
			[]string{"endpoint", "reason"},
		),
		PaymentAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_gateway_payment_amount_total",
				Help: "Cumulative admitted payment amount in smallest units",
			},
			[]string{"token"},
		),
		PaymentDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "x402_gateway_payment_duration_seconds",
				Help:    "Time from settlement header parse to admission (supports p50, p95, p99)",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"endpoint"},
		),
		RPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_gateway_rpc_calls_total",
				Help: "Total number of ledger RPC calls",
			},
			[]string{"method"},
		),
		RPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "x402_gateway_rpc_call_duration_seconds",
				Help:    "Duration of ledger RPC calls (supports p50, p95, p99)",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method"},
		),
		RPCErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_gateway_rpc_errors_total",
				Help: "Total number of ledger RPC errors",
			},
			[]string{"method", "error_type"},
		),
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_gateway_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"limit_type", "identifier"},
		),
		ReplayRejectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "x402_gateway_replay_rejections_total",
				Help: "Total number of requests rejected as settlement-reference replays",
			},
		),
	}
}

// ObserveRPCCall records a ledger RPC call outcome, categorizing the error
// into a coarse bucket for dashboarding.
func (m *Metrics) ObserveRPCCall(method string, duration time.Duration, err error) {
	m.RPCCallsTotal.WithLabelValues(method).Inc()
	m.RPCCallDuration.WithLabelValues(method).Observe(duration.Seconds())

	if err != nil {
		m.RPCErrorsTotal.WithLabelValues(method, classifyRPCError(err)).Inc()
	}
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType, identifier string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType, identifier).Inc()
}

func classifyRPCError(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return "rate_limit"
	case strings.Contains(msg, "connection"):
		return "connection"
	case strings.Contains(msg, "not found"):
		return "not_found"
	case strings.Contains(msg, "breaker"):
		return "breaker_open"
	default:
		return "other"
	}
}
