package client

import (
	"fmt"

	apierrors "github.com/agentgate/gateway/internal/errors"
)

// Error is a settlement failure with a machine-readable code from the
// protocol taxonomy. InsufficientBalance and InvalidChallenge are
// non-retryable; everything else is retried under the backoff schedule
// until the deadline or the attempt budget runs out.
type Error struct {
	Code    apierrors.ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("client: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("client: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth another attempt.
func (e *Error) Retryable() bool { return e.Code.IsRetryable() }

func newError(code apierrors.ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}
