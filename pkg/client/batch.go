package client

import (
	"context"
	"math/big"
	"net/http"

	"golang.org/x/sync/errgroup"

	apierrors "github.com/agentgate/gateway/internal/errors"
	"github.com/agentgate/gateway/pkg/signer"
	"github.com/agentgate/gateway/pkg/x402"
)

// FetchBatch performs all requests concurrently and settles every 402
// among them with ONE atomic multi-transfer transaction when the signer
// supports it: all pending requests are then retried carrying the same
// settlement header, and the server binds each to a distinct transfer log
// inside the shared receipt. Either every settlement lands or none does.
//
// Signers without batch capability (remote custody) fall back to the
// per-request concurrent settlement of FetchMany.
func (c *Client) FetchBatch(ctx context.Context, reqs []*http.Request) ([]*http.Response, error) {
	if !c.signer.SupportsBatch() {
		return c.FetchMany(ctx, reqs)
	}

	responses, pending, errs := c.fanOut(ctx, reqs)
	if len(pending) == 0 {
		return responses, errs.join()
	}

	transfers := make([]signer.TransferInput, len(pending))
	for i, p := range pending {
		transfers[i] = signer.TransferInput{
			Token:     p.challenge.token,
			Recipient: p.challenge.recipient,
			Amount:    p.challenge.amount,
			Memo:      p.challenge.memo,
		}
		c.emit(Event{Type: EventPaymentSending, Endpoint: p.challenge.endpoint, Amount: p.challenge.amount.String(), Token: p.challenge.tokenSymbol})
	}

	txHash, err := c.signer.SubmitBatchTransfer(ctx, transfers)
	if err != nil {
		settleErr := newError(apierrors.ErrCodeSignerFailed, "batch transfer submission failed", err)
		for _, p := range pending {
			errs.set(p.index, settleErr)
		}
		return responses, errs.join()
	}

	for _, p := range pending {
		c.emit(Event{Type: EventPaymentConfirmed, Endpoint: p.challenge.endpoint, Amount: p.challenge.amount.String(), Token: p.challenge.tokenSymbol, TxHash: txHash.Hex()})
	}

	// One header serves every request; the chain id comes from the first
	// challenge since a batch settles on a single chain.
	header := x402.FormatSettlementHeader(x402.SettlementReference{
		TxHash:  txHash,
		ChainID: new(big.Int).SetUint64(pending[0].challenge.chainID),
	})

	group, groupCtx := errgroup.WithContext(ctx)
	for _, p := range pending {
		group.Go(func() error {
			resp, err := c.httpClient.Do(p.request.build(groupCtx, header))
			if err != nil {
				errs.set(p.index, err)
				return nil
			}
			responses[p.index] = resp
			return nil
		})
	}
	group.Wait()

	return responses, errs.join()
}
