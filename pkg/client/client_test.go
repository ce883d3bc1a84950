package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/agentgate/gateway/internal/errors"
	"github.com/agentgate/gateway/pkg/responders"
	"github.com/agentgate/gateway/pkg/signer"
	"github.com/agentgate/gateway/pkg/x402"
)

var (
	testRecipient = common.HexToAddress("0x3333333333333333333333333333333333333333")
	testToken     = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// fakeSigner confirms transfers instantly with deterministic hashes.
type fakeSigner struct {
	mu        sync.Mutex
	balance   *big.Int
	batchable bool
	failures  int // fail this many submissions before succeeding
	submitted []signer.TransferInput
	batches   [][]signer.TransferInput
	counter   int
}

func (s *fakeSigner) nextHash() common.Hash {
	s.counter++
	return common.HexToHash(fmt.Sprintf("0x%064x", s.counter))
}

func (s *fakeSigner) SubmitTransfer(_ context.Context, in signer.TransferInput) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return common.Hash{}, errors.New("nonce too low")
	}
	s.submitted = append(s.submitted, in)
	return s.nextHash(), nil
}

func (s *fakeSigner) SubmitBatchTransfer(_ context.Context, transfers []signer.TransferInput) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.batchable {
		return common.Hash{}, signer.ErrBatchUnsupported
	}
	s.batches = append(s.batches, transfers)
	return s.nextHash(), nil
}

func (s *fakeSigner) ResolveAddress(context.Context) (common.Address, error) {
	return common.HexToAddress("0x4444444444444444444444444444444444444444"), nil
}

func (s *fakeSigner) GetBalance(context.Context, common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balance == nil {
		return big.NewInt(1_000_000), nil
	}
	return new(big.Int).Set(s.balance), nil
}

func (s *fakeSigner) SupportsBatch() bool { return s.batchable }

func (s *fakeSigner) submittedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submitted)
}

// paywalledServer mimics the gateway: priced paths challenge until a
// settlement header arrives; each (txHash, path) pair admits once.
type paywalledServer struct {
	t      *testing.T
	prices map[string]string // path -> display amount
	mu     sync.Mutex
	seen   map[string]bool // "tx path" claims
}

func newPaywalledServer(t *testing.T, prices map[string]string) (*paywalledServer, *httptest.Server) {
	p := &paywalledServer{t: t, prices: prices, seen: make(map[string]bool)}
	server := httptest.NewServer(p)
	t.Cleanup(server.Close)
	return p, server
}

func (p *paywalledServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	price, priced := p.prices[r.URL.Path]
	if !priced {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "public")
		return
	}

	header := r.Header.Get(x402.HeaderName)
	if header != "" {
		ref, ok := x402.ParseSettlementHeader(header)
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		claim := ref.TxHash.Hex() + " " + r.URL.Path
		p.mu.Lock()
		replay := p.seen[claim]
		p.seen[claim] = true
		p.mu.Unlock()
		if replay {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "paid:"+r.URL.Path)
		return
	}

	requirement, err := x402.BuildRequirement(x402.BuildRequirementInput{
		Recipient:     testRecipient,
		Token:         testToken,
		TokenSymbol:   "USDC",
		TokenDecimals: 6,
		AmountHuman:   price,
		Endpoint:      r.Method + " " + r.URL.Path,
		Nonce:         "nonce",
		ExpirySeconds: 300,
		ChainID:       8453,
	})
	require.NoError(p.t, err)
	responders.JSON(w, http.StatusPaymentRequired, requirement.Challenge())
}

func newTestClient(s *fakeSigner, opts ...Option) *Client {
	c := New(s, opts...)
	c.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return c
}

func mustRequest(t *testing.T, method, url string, body string) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	return req
}

func TestFetch_PassthroughWithoutChallenge(t *testing.T) {
	_, server := newPaywalledServer(t, map[string]string{})
	s := &fakeSigner{}
	c := newTestClient(s)

	resp, err := c.Fetch(context.Background(), mustRequest(t, "GET", server.URL+"/public", ""))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, s.submittedCount(), "no transfer for unpriced path")
}

func TestFetch_SettlesChallenge(t *testing.T) {
	_, server := newPaywalledServer(t, map[string]string{"/api/chat": "0.005"})
	s := &fakeSigner{}

	var events []EventType
	c := newTestClient(s, WithEventHandler(func(e Event) { events = append(events, e.Type) }))

	resp, err := c.Fetch(context.Background(), mustRequest(t, "POST", server.URL+"/api/chat", `{"prompt":"hi"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "paid:/api/chat", string(body))

	require.Equal(t, 1, s.submittedCount())
	assert.Equal(t, "5000", s.submitted[0].Amount.String())
	assert.Equal(t, testRecipient, s.submitted[0].Recipient)
	assert.Equal(t, testToken, s.submitted[0].Token)

	assert.Equal(t, []EventType{EventPaymentRequired, EventPaymentSending, EventPaymentConfirmed}, events)
}

func TestFetch_InvalidChallengeNotRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusPaymentRequired)
		io.WriteString(w, `{"error":"Payment Required","payment":{}}`)
	}))
	t.Cleanup(server.Close)

	c := newTestClient(&fakeSigner{})
	_, err := c.Fetch(context.Background(), mustRequest(t, "GET", server.URL+"/x", ""))

	var cErr *Error
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, apierrors.ErrCodeInvalidChallenge, cErr.Code)
	assert.Equal(t, 1, attempts)
}

func TestFetch_InsufficientBalanceNotRetried(t *testing.T) {
	_, server := newPaywalledServer(t, map[string]string{"/api/chat": "0.005"})
	s := &fakeSigner{balance: big.NewInt(10)} // needs 5000
	c := newTestClient(s, WithBalancePrecheck())

	_, err := c.Fetch(context.Background(), mustRequest(t, "POST", server.URL+"/api/chat", ""))

	var cErr *Error
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, apierrors.ErrCodeInsufficientBalance, cErr.Code)
	assert.Equal(t, 0, s.submittedCount(), "no transfer after failed precheck")
}

func TestFetch_RetriesSignerFailure(t *testing.T) {
	_, server := newPaywalledServer(t, map[string]string{"/api/chat": "0.005"})
	s := &fakeSigner{failures: 1}

	var retries int
	c := newTestClient(s, WithEventHandler(func(e Event) {
		if e.Type == EventRetrying {
			retries++
		}
	}))

	resp, err := c.Fetch(context.Background(), mustRequest(t, "POST", server.URL+"/api/chat", ""))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, retries)
}

func TestFetch_Exhausted(t *testing.T) {
	_, server := newPaywalledServer(t, map[string]string{"/api/chat": "0.005"})
	s := &fakeSigner{failures: 100}
	c := newTestClient(s, WithMaxRetries(2))

	_, err := c.Fetch(context.Background(), mustRequest(t, "POST", server.URL+"/api/chat", ""))

	var cErr *Error
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, apierrors.ErrCodeExhausted, cErr.Code)
}

func TestFetchMany_PreservesOrder(t *testing.T) {
	_, server := newPaywalledServer(t, map[string]string{
		"/api/chat":   "0.005",
		"/api/scrape": "0.01",
	})
	s := &fakeSigner{}
	c := newTestClient(s)

	reqs := []*http.Request{
		mustRequest(t, "POST", server.URL+"/api/chat", ""),
		mustRequest(t, "GET", server.URL+"/public", ""),
		mustRequest(t, "GET", server.URL+"/api/scrape", ""),
	}

	responses, err := c.FetchMany(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, responses, 3)

	bodies := make([]string, 3)
	for i, resp := range responses {
		require.NotNil(t, resp, "response %d missing", i)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		bodies[i] = string(raw)
	}

	assert.Equal(t, "paid:/api/chat", bodies[0])
	assert.Equal(t, "public", bodies[1])
	assert.Equal(t, "paid:/api/scrape", bodies[2])
	assert.Equal(t, 2, s.submittedCount(), "one transfer per priced request")
}

func TestFetchBatch_SingleTransactionManyRequests(t *testing.T) {
	p, server := newPaywalledServer(t, map[string]string{
		"/api/chat":   "0.005",
		"/api/scrape": "0.01",
		"/api/deploy": "0.02",
	})
	s := &fakeSigner{batchable: true}
	c := newTestClient(s)

	reqs := []*http.Request{
		mustRequest(t, "POST", server.URL+"/api/chat", ""),
		mustRequest(t, "GET", server.URL+"/api/scrape", ""),
		mustRequest(t, "POST", server.URL+"/api/deploy", ""),
	}

	responses, err := c.FetchBatch(context.Background(), reqs)
	require.NoError(t, err)

	for i, resp := range responses {
		require.NotNil(t, resp, "response %d missing", i)
		assert.Equal(t, http.StatusOK, resp.StatusCode, "response %d", i)
		resp.Body.Close()
	}

	require.Len(t, s.batches, 1, "exactly one batch submission")
	assert.Len(t, s.batches[0], 3)
	assert.Equal(t, 0, s.submittedCount(), "no individual transfers in batch mode")

	// all three claims share one txHash
	p.mu.Lock()
	defer p.mu.Unlock()
	txes := make(map[string]bool)
	for claim := range p.seen {
		txes[strings.Fields(claim)[0]] = true
	}
	assert.Len(t, txes, 1, "all requests settled by the same transaction")
}

func TestFetchBatch_FallsBackWithoutBatchSupport(t *testing.T) {
	_, server := newPaywalledServer(t, map[string]string{
		"/api/chat":   "0.005",
		"/api/scrape": "0.01",
	})
	s := &fakeSigner{batchable: false}
	c := newTestClient(s)

	reqs := []*http.Request{
		mustRequest(t, "POST", server.URL+"/api/chat", ""),
		mustRequest(t, "GET", server.URL+"/api/scrape", ""),
	}

	responses, err := c.FetchBatch(context.Background(), reqs)
	require.NoError(t, err)

	for _, resp := range responses {
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}
	assert.Equal(t, 2, s.submittedCount(), "fell back to per-request settlement")
	assert.Empty(t, s.batches)
}
