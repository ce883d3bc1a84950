package observability

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Registry manages a collection of observability hooks.
// It safely dispatches events to all registered hooks with error handling.
type Registry struct {
	paymentHooks []PaymentHook
	rpcHooks     []RPCHook
	logger       zerolog.Logger
	mu           sync.RWMutex
}

// NewRegistry creates a new hook registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger: logger,
	}
}

// RegisterPaymentHook adds a payment hook to the registry.
func (r *Registry) RegisterPaymentHook(hook PaymentHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paymentHooks = append(r.paymentHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered payment hook")
}

// RegisterRPCHook adds an RPC hook to the registry.
func (r *Registry) RegisterRPCHook(hook RPCHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rpcHooks = append(r.rpcHooks, hook)
	r.logger.Info().Str("hook", hook.Name()).Msg("registered RPC hook")
}

// EmitPaymentStarted dispatches the event to all payment hooks.
func (r *Registry) EmitPaymentStarted(ctx context.Context, event PaymentStartedEvent) {
	r.mu.RLock()
	hooks := r.paymentHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnPaymentStarted", hook.Name())
			hook.OnPaymentStarted(ctx, event)
		}()
	}
}

// EmitPaymentAdmitted dispatches the event to all payment hooks. Errors or
// panics inside a hook are logged and swallowed — a misbehaving hook must
// never re-reject an already-admitted request.
func (r *Registry) EmitPaymentAdmitted(ctx context.Context, event PaymentAdmittedEvent) {
	r.mu.RLock()
	hooks := r.paymentHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnPaymentAdmitted", hook.Name())
			hook.OnPaymentAdmitted(ctx, event)
		}()
	}
}

// EmitPaymentRejected dispatches the event to all payment hooks.
func (r *Registry) EmitPaymentRejected(ctx context.Context, event PaymentRejectedEvent) {
	r.mu.RLock()
	hooks := r.paymentHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnPaymentRejected", hook.Name())
			hook.OnPaymentRejected(ctx, event)
		}()
	}
}

// EmitRPCCall dispatches the event to all RPC hooks.
func (r *Registry) EmitRPCCall(ctx context.Context, event RPCCallEvent) {
	r.mu.RLock()
	hooks := r.rpcHooks
	r.mu.RUnlock()

	for _, hook := range hooks {
		func() {
			defer r.recoverPanic("OnRPCCall", hook.Name())
			hook.OnRPCCall(ctx, event)
		}()
	}
}

// recoverPanic recovers from panics in hook implementations.
// This ensures one bad hook doesn't crash the entire system.
func (r *Registry) recoverPanic(method, hookName string) {
	if err := recover(); err != nil {
		r.logger.Error().
			Str("hook", hookName).
			Str("method", method).
			Interface("panic", err).
			Msg("observability hook panicked (recovered)")
	}
}
