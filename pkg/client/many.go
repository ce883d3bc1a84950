package client

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/agentgate/gateway/pkg/x402"
)

// pendingSettlement is one 402 awaiting payment in a fan-out call.
type pendingSettlement struct {
	index     int
	request   *replayableRequest
	challenge *challenge
}

// FetchMany performs all requests concurrently, settles every 402 among
// them concurrently, and returns the responses preserving input order:
// output index i always corresponds to input index i. The order in which
// the on-chain transfers land is undefined and callers must not depend on
// it; the design assumes the ledger admits multiple pending transactions
// from one account in a short window.
//
// Per-request failures leave a nil slot in the result and are joined into
// the returned error.
func (c *Client) FetchMany(ctx context.Context, reqs []*http.Request) ([]*http.Response, error) {
	responses, pending, errs := c.fanOut(ctx, reqs)

	// Phase 3: settle concurrently, each settlement followed by its own
	// header-bearing resubmit.
	group, groupCtx := errgroup.WithContext(ctx)
	for _, p := range pending {
		group.Go(func() error {
			resp, err := c.settleAndResubmit(groupCtx, p)
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

// fanOut runs phases 1 and 2: concurrent initial submits, then a partition
// into done responses and pending settlements.
func (c *Client) fanOut(ctx context.Context, reqs []*http.Request) ([]*http.Response, []pendingSettlement, *indexedErrors) {
	responses := make([]*http.Response, len(reqs))
	replayables := make([]*replayableRequest, len(reqs))
	errs := newIndexedErrors(len(reqs))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		group.Go(func() error {
			replayable, err := bufferRequest(req)
			if err != nil {
				errs.set(i, fmt.Errorf("request %d: %w", i, err))
				return nil
			}
			replayables[i] = replayable

			resp, err := c.httpClient.Do(replayable.build(groupCtx, ""))
			if err != nil {
				errs.set(i, fmt.Errorf("request %d: %w", i, err))
				return nil
			}
			responses[i] = resp
			return nil
		})
	}
	group.Wait()

	var pending []pendingSettlement
	for i, resp := range responses {
		if resp == nil || resp.StatusCode != http.StatusPaymentRequired {
			continue
		}
		parsed, err := parseChallenge(resp)
		if err != nil {
			responses[i] = nil
			errs.set(i, fmt.Errorf("request %d: %w", i, err))
			continue
		}
		responses[i] = nil
		c.emit(Event{Type: EventPaymentRequired, Endpoint: parsed.endpoint, Amount: parsed.amount.String(), Token: parsed.tokenSymbol})
		pending = append(pending, pendingSettlement{index: i, request: replayables[i], challenge: parsed})
	}

	return responses, pending, errs
}

// settleAndResubmit pays one pending challenge and retries its request.
func (c *Client) settleAndResubmit(ctx context.Context, p pendingSettlement) (*http.Response, error) {
	if err := c.precheckBalance(ctx, p.challenge); err != nil {
		return nil, err
	}

	txHash, err := c.settle(ctx, p.challenge)
	if err != nil {
		return nil, err
	}

	header := x402.FormatSettlementHeader(x402.SettlementReference{
		TxHash:  txHash,
		ChainID: new(big.Int).SetUint64(p.challenge.chainID),
	})
	return c.httpClient.Do(p.request.build(ctx, header))
}

// indexedErrors accumulates per-request failures without losing which
// input they belong to.
type indexedErrors struct {
	errs []error
}

func newIndexedErrors(n int) *indexedErrors {
	return &indexedErrors{errs: make([]error, n)}
}

func (e *indexedErrors) set(i int, err error) { e.errs[i] = err }

func (e *indexedErrors) join() error {
	return errors.Join(e.errs...)
}
