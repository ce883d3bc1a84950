package paywall

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/agentgate/gateway/internal/observability"
)

// recentSettlementCap bounds the introspection ring buffer.
const recentSettlementCap = 100

// SettlementRecord is one admitted payment, kept for introspection.
type SettlementRecord struct {
	Time     time.Time `json:"time"`
	Endpoint string    `json:"endpoint"`
	From     string    `json:"from"`
	TxHash   string    `json:"txHash"`
	LogIndex uint      `json:"logIndex"`
	Amount   string    `json:"amount"` // smallest units
	Token    string    `json:"token"`
}

// RevenueCounters tracks operational payment totals plus a bounded ring of
// the most recent settlements. It observes the payment hook stream, so it
// runs after admission and can never fail a request.
type RevenueCounters struct {
	mu         sync.Mutex
	challenges uint64
	admitted   uint64
	rejected   uint64
	total      *big.Int
	recent     []SettlementRecord
	next       int
}

// NewRevenueCounters creates zeroed counters.
func NewRevenueCounters() *RevenueCounters {
	return &RevenueCounters{
		total:  new(big.Int),
		recent: make([]SettlementRecord, 0, recentSettlementCap),
	}
}

// RevenueSnapshot is a point-in-time copy of the counters.
type RevenueSnapshot struct {
	Challenges uint64             `json:"challenges"`
	Admitted   uint64             `json:"admitted"`
	Rejected   uint64             `json:"rejected"`
	Total      string             `json:"total"` // smallest units
	Recent     []SettlementRecord `json:"recent"`
}

// Snapshot copies the counters; Recent is ordered oldest first.
func (c *RevenueCounters) Snapshot() RevenueSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	recent := make([]SettlementRecord, 0, len(c.recent))
	if len(c.recent) == recentSettlementCap {
		recent = append(recent, c.recent[c.next:]...)
		recent = append(recent, c.recent[:c.next]...)
	} else {
		recent = append(recent, c.recent...)
	}

	return RevenueSnapshot{
		Challenges: c.challenges,
		Admitted:   c.admitted,
		Rejected:   c.rejected,
		Total:      new(big.Int).Set(c.total).String(),
		Recent:     recent,
	}
}

// Name implements observability.Hook.
func (c *RevenueCounters) Name() string { return "revenue" }

// OnPaymentStarted counts an issued challenge.
func (c *RevenueCounters) OnPaymentStarted(_ context.Context, _ observability.PaymentStartedEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.challenges++
}

// OnPaymentAdmitted counts an admitted settlement and records it in the ring.
func (c *RevenueCounters) OnPaymentAdmitted(_ context.Context, event observability.PaymentAdmittedEvent) {
	amount, ok := new(big.Int).SetString(event.Amount, 10)
	if !ok {
		amount = new(big.Int)
	}

	record := SettlementRecord{
		Time:     event.Timestamp,
		Endpoint: event.Endpoint,
		From:     event.From,
		TxHash:   event.TxHash,
		LogIndex: event.LogIndex,
		Amount:   event.Amount,
		Token:    event.Token,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.admitted++
	c.total.Add(c.total, amount)

	if len(c.recent) < recentSettlementCap {
		c.recent = append(c.recent, record)
		return
	}
	c.recent[c.next] = record
	c.next = (c.next + 1) % recentSettlementCap
}

// OnPaymentRejected counts a failed verification.
func (c *RevenueCounters) OnPaymentRejected(_ context.Context, _ observability.PaymentRejectedEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejected++
}
