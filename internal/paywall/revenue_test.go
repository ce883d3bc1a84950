package paywall

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/agentgate/gateway/internal/observability"
)

func admittedEvent(amount string, n int) observability.PaymentAdmittedEvent {
	return observability.PaymentAdmittedEvent{
		Timestamp: time.Unix(int64(1764000000+n), 0),
		Endpoint:  "POST /api/chat",
		From:      "0x4444444444444444444444444444444444444444",
		Amount:    amount,
		Token:     "USDC",
		TxHash:    fmt.Sprintf("0x%064x", n),
		LogIndex:  0,
	}
}

func TestRevenueCounters_Totals(t *testing.T) {
	c := NewRevenueCounters()
	ctx := context.Background()

	c.OnPaymentStarted(ctx, observability.PaymentStartedEvent{})
	c.OnPaymentStarted(ctx, observability.PaymentStartedEvent{})
	c.OnPaymentAdmitted(ctx, admittedEvent("5000", 1))
	c.OnPaymentAdmitted(ctx, admittedEvent("10000", 2))
	c.OnPaymentRejected(ctx, observability.PaymentRejectedEvent{})

	snap := c.Snapshot()
	if snap.Challenges != 2 {
		t.Errorf("challenges = %d, want 2", snap.Challenges)
	}
	if snap.Admitted != 2 {
		t.Errorf("admitted = %d, want 2", snap.Admitted)
	}
	if snap.Rejected != 1 {
		t.Errorf("rejected = %d, want 1", snap.Rejected)
	}
	if snap.Total != "15000" {
		t.Errorf("total = %s, want 15000", snap.Total)
	}
	if len(snap.Recent) != 2 {
		t.Errorf("recent = %d, want 2", len(snap.Recent))
	}
}

func TestRevenueCounters_RingBufferBounded(t *testing.T) {
	c := NewRevenueCounters()
	ctx := context.Background()

	for i := 0; i < recentSettlementCap+25; i++ {
		c.OnPaymentAdmitted(ctx, admittedEvent("1", i))
	}

	snap := c.Snapshot()
	if len(snap.Recent) != recentSettlementCap {
		t.Fatalf("recent = %d, want %d", len(snap.Recent), recentSettlementCap)
	}
	// Oldest surviving record is number 25, newest is the last admitted.
	if snap.Recent[0].TxHash != fmt.Sprintf("0x%064x", 25) {
		t.Errorf("oldest record = %s, want record 25", snap.Recent[0].TxHash)
	}
	if snap.Recent[len(snap.Recent)-1].TxHash != fmt.Sprintf("0x%064x", recentSettlementCap+24) {
		t.Errorf("newest record = %s", snap.Recent[len(snap.Recent)-1].TxHash)
	}
	if snap.Admitted != uint64(recentSettlementCap+25) {
		t.Errorf("admitted = %d", snap.Admitted)
	}
}
