package observability

import (
	"context"
	"strconv"

	"github.com/agentgate/gateway/internal/metrics"
)

// PrometheusHook records payment and RPC events as Prometheus metrics.
// It is registered alongside any other PaymentHook/RPCHook implementation;
// the registry dispatches to all of them independently.
type PrometheusHook struct {
	metrics *metrics.Metrics
}

// NewPrometheusHook creates a hook backed by the given metrics collector.
func NewPrometheusHook(m *metrics.Metrics) *PrometheusHook {
	return &PrometheusHook{metrics: m}
}

func (h *PrometheusHook) Name() string { return "prometheus" }

func (h *PrometheusHook) OnPaymentStarted(_ context.Context, event PaymentStartedEvent) {
	h.metrics.PaymentsTotal.WithLabelValues(event.Endpoint).Inc()
}

func (h *PrometheusHook) OnPaymentAdmitted(_ context.Context, event PaymentAdmittedEvent) {
	h.metrics.PaymentsAdmittedTotal.WithLabelValues(event.Endpoint).Inc()
	h.metrics.PaymentDuration.WithLabelValues(event.Endpoint).Observe(event.Duration.Seconds())

	// Smallest-unit amounts fit comfortably in a float64 counter at
	// stablecoin scale; exact totals live in the revenue counters.
	if amount, err := strconv.ParseFloat(event.Amount, 64); err == nil {
		h.metrics.PaymentAmountTotal.WithLabelValues(event.Token).Add(amount)
	}
}

func (h *PrometheusHook) OnPaymentRejected(_ context.Context, event PaymentRejectedEvent) {
	h.metrics.PaymentsRejectedTotal.WithLabelValues(event.Endpoint, event.Reason).Inc()
}

func (h *PrometheusHook) OnRPCCall(_ context.Context, event RPCCallEvent) {
	h.metrics.RPCCallDuration.WithLabelValues(event.Method).Observe(event.Duration.Seconds())
	if !event.Success {
		h.metrics.RPCErrorsTotal.WithLabelValues(event.Method, event.ErrorType).Inc()
	}
}
