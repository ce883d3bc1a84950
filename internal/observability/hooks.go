package observability

import (
	"context"
	"time"
)

// Hook is the base interface for all observability hooks.
// Implementations can emit events to DataDog, New Relic, OpenTelemetry, etc.
type Hook interface {
	// Name returns the hook's identifier for logging/debugging
	Name() string
}

// PaymentHook receives events during the payment lifecycle. This is the
// "payment-observed hook" the paywall middleware invokes once per admitted
// request, strictly after the settlement reference has been claimed and
// strictly before the downstream handler runs.
type PaymentHook interface {
	Hook

	// OnPaymentStarted is called when a priced request without a
	// settlement header arrives and a 402 challenge is about to be issued.
	OnPaymentStarted(ctx context.Context, event PaymentStartedEvent)

	// OnPaymentAdmitted is called once per admitted request.
	OnPaymentAdmitted(ctx context.Context, event PaymentAdmittedEvent)

	// OnPaymentRejected is called when verification fails.
	OnPaymentRejected(ctx context.Context, event PaymentRejectedEvent)
}

// RPCHook receives events from ledger RPC calls.
type RPCHook interface {
	Hook

	// OnRPCCall is called after a ledger RPC call completes.
	OnRPCCall(ctx context.Context, event RPCCallEvent)
}

// PaymentStartedEvent is emitted when a priced request without proof of
// payment is seen.
type PaymentStartedEvent struct {
	Timestamp time.Time
	Endpoint  string // "METHOD path"
	Amount    string // smallest-unit decimal
	Token     string
}

// PaymentAdmittedEvent is emitted once per admitted request.
type PaymentAdmittedEvent struct {
	Timestamp time.Time
	Endpoint  string
	From      string // payer address
	Amount    string // smallest-unit decimal
	Token     string
	TxHash    string
	LogIndex  uint
	Duration  time.Duration
}

// PaymentRejectedEvent is emitted when verification fails.
type PaymentRejectedEvent struct {
	Timestamp time.Time
	Endpoint  string
	Reason    string // error code
	Duration  time.Duration
}

// RPCCallEvent is emitted for ledger RPC calls.
type RPCCallEvent struct {
	Timestamp time.Time
	Method    string // "TransactionReceipt", etc.
	ChainID   uint64
	Duration  time.Duration
	Success   bool
	ErrorType string // "timeout", "not_found", "breaker_open", "other"
}
