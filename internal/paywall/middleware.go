package paywall

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	apierrors "github.com/agentgate/gateway/internal/errors"
	"github.com/agentgate/gateway/internal/logger"
	"github.com/agentgate/gateway/internal/observability"
	"github.com/agentgate/gateway/pkg/responders"
	"github.com/agentgate/gateway/pkg/x402"
)

type contextKey string

const contextKeyVerification contextKey = "paywall.verification"

// maxChallengeBodyBytes bounds how much of a request body is read when
// fingerprinting it into the challenge memo.
const maxChallengeBodyBytes = 1 << 20

// Middleware gates the downstream handler behind verified payment.
//
// Per-request states: unpriced paths pass straight through; a priced
// request without a settlement header gets a 402 challenge; a malformed
// header gets 400; a reference whose every matching log is already claimed
// gets 409; a failed verification gets 402 with a machine-readable reason;
// a verified reference is claimed, announced to the payment hook, and the
// handler runs. The claim must happen before the hook and before the
// handler: two concurrent retries of the same reference can both pass
// verification, and only the claim decides which one admits.
func (s *Service) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if s.routePrefix != "" {
				path = strings.TrimPrefix(path, s.routePrefix)
			}
			endpoint := r.Method + " " + path
			price, priced := s.pricing.Lookup(endpoint)
			if !priced {
				next.ServeHTTP(w, r)
				return
			}

			header := strings.TrimSpace(r.Header.Get(x402.HeaderName))
			if header == "" {
				s.issueChallenge(w, r, endpoint, price)
				return
			}

			ref, ok := x402.ParseSettlementHeader(header)
			if !ok {
				apierrors.WriteError(w, apierrors.ErrCodeInvalidHeader,
					"Invalid "+x402.HeaderName+" header; expected <txHash>:<chainId>", nil)
				return
			}

			s.verifyAndAdmit(w, r, next, endpoint, price, ref)
		})
	}
}

// issueChallenge emits the 402 body plus the flat-value shortcut headers.
func (s *Service) issueChallenge(w http.ResponseWriter, r *http.Request, endpoint string, price Price) {
	bodyHash, err := fingerprintBody(r)
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeInvalidField, "failed to read request body", nil)
		return
	}

	requirement, err := s.buildChallenge(endpoint, price, bodyHash)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("endpoint", endpoint).Msg("paywall.challenge_build_failed")
		apierrors.WriteError(w, apierrors.ErrCodeInternalError, "failed to build payment requirement", nil)
		return
	}

	s.hooks.EmitPaymentStarted(r.Context(), observability.PaymentStartedEvent{
		Timestamp: s.now(),
		Endpoint:  endpoint,
		Amount:    requirement.Amount.String(),
		Token:     requirement.TokenSymbol,
	})

	w.Header().Set("X-Payment-Amount", requirement.Amount.String())
	w.Header().Set("X-Payment-Token", requirement.Token.Hex())
	w.Header().Set("X-Payment-Recipient", requirement.Recipient.Hex())
	responders.JSON(w, http.StatusPaymentRequired, requirement.Challenge())
}

// verifyAndAdmit drives the verification path. The RPC round trip runs
// outside any lock; only the check-and-claim is a critical section.
func (s *Service) verifyAndAdmit(w http.ResponseWriter, r *http.Request, next http.Handler, endpoint string, price Price, ref x402.SettlementReference) {
	log := logger.FromContext(r.Context())
	start := s.now()

	requirement, err := s.verificationRequirement(endpoint, price)
	if err != nil {
		log.Error().Err(err).Str("endpoint", endpoint).Msg("paywall.requirement_build_failed")
		apierrors.WriteError(w, apierrors.ErrCodeInternalError, "failed to build payment requirement", nil)
		return
	}

	candidates, err := s.verifier.Verify(r.Context(), ref, requirement)
	if err != nil {
		// Request cancellation aborts verification with no response and no
		// used-set mutation.
		if r.Context().Err() != nil {
			return
		}
		s.rejectVerification(w, r, endpoint, err, start)
		return
	}

	// A batch transaction settles several requests with one txHash; claim
	// the first matching log nobody has used yet.
	var claimed *x402.Verification
	for i := range candidates {
		if s.usedRefs.CheckAndClaim(RefKey{TxHash: candidates[i].TxHash, LogIndex: candidates[i].LogIndex}) {
			claimed = &candidates[i]
			break
		}
	}
	if claimed == nil {
		if s.metrics != nil {
			s.metrics.ReplayRejectionsTotal.Inc()
		}
		log.Warn().
			Str("tx", logger.TruncateAddress(ref.TxHash.Hex())).
			Str("endpoint", endpoint).
			Msg("paywall.replay_rejected")
		apierrors.WriteError(w, apierrors.ErrCodeReplay,
			"settlement reference already used", map[string]interface{}{
				"txHash": ref.TxHash.Hex(),
			})
		return
	}

	s.hooks.EmitPaymentAdmitted(r.Context(), observability.PaymentAdmittedEvent{
		Timestamp: s.now(),
		Endpoint:  endpoint,
		From:      claimed.From.Hex(),
		Amount:    claimed.Amount.String(),
		Token:     s.tokenFor(price).Symbol,
		TxHash:    claimed.TxHash.Hex(),
		LogIndex:  claimed.LogIndex,
		Duration:  s.now().Sub(start),
	})

	log.Info().
		Str("endpoint", endpoint).
		Str("payer", logger.TruncateAddress(claimed.From.Hex())).
		Str("tx", logger.TruncateAddress(claimed.TxHash.Hex())).
		Uint("log_index", claimed.LogIndex).
		Str("amount", claimed.Amount.String()).
		Msg("paywall.admitted")

	ctx := context.WithValue(r.Context(), contextKeyVerification, *claimed)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// rejectVerification translates a verification failure into a retryable
// 402 rather than a 5xx: the gateway is up, the payment just didn't check
// out, and the client should re-pay or resubmit.
func (s *Service) rejectVerification(w http.ResponseWriter, r *http.Request, endpoint string, err error, start time.Time) {
	code := apierrors.ErrCodeRpcUnavailable
	message := err.Error()
	var vErr x402.VerificationError
	if errors.As(err, &vErr) {
		code = vErr.Code
		message = vErr.Error()
	}

	s.hooks.EmitPaymentRejected(r.Context(), observability.PaymentRejectedEvent{
		Timestamp: s.now(),
		Endpoint:  endpoint,
		Reason:    string(code),
		Duration:  s.now().Sub(start),
	})

	log := logger.FromContext(r.Context())
	log.Warn().
		Str("endpoint", endpoint).
		Str("reason", string(code)).
		Msg("paywall.verification_failed")

	apierrors.WriteError(w, code, message, map[string]interface{}{
		"protocolCode": code.ProtocolCode(),
	})
}

// fingerprintBody hashes the request body for the challenge memo and
// restores it so a later reader is unaffected.
func fingerprintBody(r *http.Request) ([32]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return x402.HashBody(nil), nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxChallengeBodyBytes))
	if err != nil {
		return [32]byte{}, err
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	return x402.HashBody(body), nil
}

// VerificationFromContext retrieves the settlement that admitted the
// request, for handlers that want payer metadata.
func VerificationFromContext(ctx context.Context) (x402.Verification, bool) {
	val := ctx.Value(contextKeyVerification)
	if val == nil {
		return x402.Verification{}, false
	}
	verification, ok := val.(x402.Verification)
	return verification, ok
}
