package x402

import (
	"errors"
	"fmt"

	apierrors "github.com/agentgate/gateway/internal/errors"
)

// ErrInvalidAmount is returned by BuildRequirement/ScaleAmount when the
// amount is non-positive or carries more fractional digits than the
// token's decimals allow.
var ErrInvalidAmount = errors.New("x402: invalid amount")

// ErrInvalidHeader is returned when a settlement header cannot be parsed.
var ErrInvalidHeader = errors.New("x402: invalid settlement header")

// VerificationError classifies a failure encountered while verifying a
// settlement reference against the ledger (C2). The paywall middleware
// translates it directly into a 402 body carrying Code.ProtocolCode(); the
// server never retries a verification locally.
type VerificationError struct {
	Code    apierrors.ErrorCode
	Message string
	Err     error
}

func (e VerificationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e VerificationError) Unwrap() error {
	return e.Err
}

// NewVerificationError wraps an underlying error with a protocol error code.
func NewVerificationError(code apierrors.ErrorCode, message string, err error) VerificationError {
	return VerificationError{Code: code, Message: message, Err: err}
}
