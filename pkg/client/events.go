// Package client wraps a plain HTTP transport with transparent 402
// settlement: it detects payment challenges, submits the ledger transfer
// through a Signer, and retries the request carrying the settlement
// reference.
package client

// EventType identifies a step in the settlement lifecycle.
type EventType string

const (
	// EventPaymentRequired fires when a 402 challenge has been parsed.
	EventPaymentRequired EventType = "payment_required"
	// EventPaymentSending fires just before the ledger transfer is submitted.
	EventPaymentSending EventType = "payment_sending"
	// EventPaymentConfirmed fires once the transfer has a confirmation.
	EventPaymentConfirmed EventType = "payment_confirmed"
	// EventRetrying fires before a backoff sleep after a retryable failure.
	EventRetrying EventType = "retrying"
)

// Event is one entry in the structured settlement event stream.
type Event struct {
	Type     EventType
	Endpoint string // "METHOD path" from the challenge
	Amount   string // smallest units
	Token    string // token symbol
	TxHash   string // set on payment_confirmed
	Attempt  int    // set on retrying
	Err      error  // set on retrying
}

// EventHandler receives settlement events. Handlers run synchronously on
// the fetch path and must be fast; nil handlers are allowed.
type EventHandler func(Event)

func (c *Client) emit(event Event) {
	if c.events != nil {
		c.events(event)
	}
}
