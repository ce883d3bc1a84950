package errors

// ErrorCode is a machine-readable error identifier carried in every JSON
// error envelope.
type ErrorCode string

// Protocol error taxonomy.
const (
	// ErrCodeInvalidChallenge is returned by the client library when a 402
	// body is missing required fields.
	ErrCodeInvalidChallenge ErrorCode = "invalid_challenge"

	// ErrCodeInvalidHeader is returned by the server when the X-Payment
	// header cannot be parsed.
	ErrCodeInvalidHeader ErrorCode = "invalid_header"

	// ErrCodeReplay is returned when a settlement reference has already
	// been claimed.
	ErrCodeReplay ErrorCode = "replay"

	// ErrCodeExpired is returned when the requirement's expiry has passed.
	ErrCodeExpired ErrorCode = "expired"

	// ErrCodeTxReverted is returned when the receipt's execution status
	// is not success.
	ErrCodeTxReverted ErrorCode = "tx_reverted"

	// ErrCodeNoMatchingTransfer is returned when no log in the receipt
	// matches the requirement's token/recipient.
	ErrCodeNoMatchingTransfer ErrorCode = "no_matching_transfer"

	// ErrCodeInsufficient is returned when the matched transfer's value is
	// below the required amount.
	ErrCodeInsufficient ErrorCode = "insufficient"

	// ErrCodeMemoMismatch is returned when a TransferWithMemo log's memo
	// differs from the required one.
	ErrCodeMemoMismatch ErrorCode = "memo_mismatch"

	// ErrCodeRpcUnavailable covers all ledger-read failures: RPC
	// unreachable, receipt not found, decode failure, breaker open.
	ErrCodeRpcUnavailable ErrorCode = "rpc_unavailable"

	// ErrCodeInsufficientBalance is client-only: the signer's balance is
	// below the requirement before a transfer is even attempted.
	ErrCodeInsufficientBalance ErrorCode = "insufficient_balance"

	// ErrCodeTimeout is client-only: the fetch deadline elapsed.
	ErrCodeTimeout ErrorCode = "timeout"

	// ErrCodeSignerFailed covers signer-side submission failures (local
	// signing error, remote custody rejection after sponsorship retry).
	ErrCodeSignerFailed ErrorCode = "signer_failed"

	// ErrCodeExhausted is client-only: all retry attempts were spent
	// without landing a successful settlement.
	ErrCodeExhausted ErrorCode = "exhausted"
)

// Validation errors, unrelated to the payment protocol, retained for
// request input validation at the gateway's edges.
const (
	ErrCodeMissingField ErrorCode = "missing_field"
	ErrCodeInvalidField ErrorCode = "invalid_field"
)

// Internal/system errors.
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeConfigError   ErrorCode = "config_error"
)

// IsRetryable returns whether a client encountering this code should retry.
// The server never retries a verification locally; only the client consults
// this.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeInsufficientBalance, ErrCodeInvalidChallenge:
		return false
	case ErrCodeExpired, ErrCodeTxReverted, ErrCodeNoMatchingTransfer,
		ErrCodeInsufficient, ErrCodeMemoMismatch, ErrCodeRpcUnavailable,
		ErrCodeTimeout, ErrCodeSignerFailed:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the HTTP status code a server response carrying this
// error code should use.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrCodeInvalidHeader, ErrCodeMissingField, ErrCodeInvalidField:
		return 400
	case ErrCodeReplay:
		return 409
	case ErrCodeExpired, ErrCodeTxReverted, ErrCodeNoMatchingTransfer,
		ErrCodeInsufficient, ErrCodeMemoMismatch, ErrCodeRpcUnavailable,
		ErrCodeInvalidChallenge, ErrCodeInsufficientBalance,
		ErrCodeTimeout, ErrCodeSignerFailed, ErrCodeExhausted:
		return 402
	default:
		return 500
	}
}

// ProtocolCode is the short upper-snake code embedded in 402 bodies per the
// wire format (PAYMENT_EXPIRED, TX_REVERTED, ...), distinct from the
// lowercase machine code used elsewhere in the error envelope.
func (e ErrorCode) ProtocolCode() string {
	switch e {
	case ErrCodeExpired:
		return "PAYMENT_EXPIRED"
	case ErrCodeTxReverted:
		return "TX_REVERTED"
	case ErrCodeInsufficient:
		return "INSUFFICIENT"
	case ErrCodeNoMatchingTransfer:
		return "NO_MATCH"
	case ErrCodeRpcUnavailable:
		return "RPC_UNAVAILABLE"
	case ErrCodeMemoMismatch:
		return "MEMO_MISMATCH"
	case ErrCodeReplay:
		return "REPLAY"
	case ErrCodeInvalidHeader:
		return "INVALID_HEADER"
	default:
		return string(e)
	}
}
