package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	apierrors "github.com/agentgate/gateway/internal/errors"
	"github.com/agentgate/gateway/internal/httputil"
	"github.com/agentgate/gateway/pkg/signer"
	"github.com/agentgate/gateway/pkg/x402"
)

const (
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 3

	backoffBase = time.Second
	backoffCap  = 10 * time.Second

	maxResponseBody = 1 << 20
)

// Client performs HTTP requests and settles 402 challenges transparently.
type Client struct {
	httpClient *http.Client
	signer     signer.Signer

	timeout    time.Duration
	maxRetries int
	precheck   bool
	events     EventHandler
	logger     zerolog.Logger

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithTimeout sets the overall deadline for one Fetch call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMaxRetries sets the retry budget for retryable failures.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithBalancePrecheck checks the signer's balance against the challenge
// before submitting a transfer, failing fast on InsufficientBalance.
func WithBalancePrecheck() Option {
	return func(c *Client) { c.precheck = true }
}

// WithEventHandler streams settlement lifecycle events to the handler.
func WithEventHandler(handler EventHandler) Option {
	return func(c *Client) { c.events = handler }
}

// WithLogger attaches a structured logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a settlement-aware HTTP client paying through the given signer.
func New(paySigner signer.Signer, opts ...Option) *Client {
	c := &Client{
		httpClient: httputil.NewClient(defaultTimeout),
		signer:     paySigner,
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
		logger:     zerolog.Nop(),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// challenge is a parsed 402 body plus the fields settlement needs.
type challenge struct {
	endpoint    string
	tokenSymbol string
	token       common.Address
	recipient   common.Address
	amount      *big.Int
	chainID     uint64
	memo        common.Hash
}

// Fetch performs the request, settling a 402 challenge if one comes back.
//
// The final response is returned regardless of status once a settlement
// retry has been submitted; deciding what a second 402 means is the
// caller's business. Non-retryable failures (InsufficientBalance,
// InvalidChallenge) abort immediately; transport and signer failures are
// retried under exponential backoff until the deadline.
func (c *Client) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	replayable, err := bufferRequest(req)
	if err != nil {
		return nil, newError(apierrors.ErrCodeInvalidField, "request body not replayable", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// A settled reference survives transport failures on the retry submit:
	// the next attempt resends the header instead of paying again.
	settledHeader := ""

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, newError(apierrors.ErrCodeTimeout, "fetch deadline exceeded", ctx.Err())
		}

		resp, err := c.httpClient.Do(replayable.build(ctx, settledHeader))
		if err != nil {
			if ctx.Err() != nil {
				return nil, newError(apierrors.ErrCodeTimeout, "fetch deadline exceeded", ctx.Err())
			}
			if backoffErr := c.backoff(ctx, attempt, err); backoffErr != nil {
				return nil, backoffErr
			}
			continue
		}
		if resp.StatusCode != http.StatusPaymentRequired {
			return resp, nil
		}

		parsed, err := parseChallenge(resp)
		if err != nil {
			return nil, err
		}
		c.emit(Event{Type: EventPaymentRequired, Endpoint: parsed.endpoint, Amount: parsed.amount.String(), Token: parsed.tokenSymbol})

		if err := c.precheckBalance(ctx, parsed); err != nil {
			return nil, err
		}

		txHash, err := c.settle(ctx, parsed)
		if err != nil {
			if backoffErr := c.backoff(ctx, attempt, err); backoffErr != nil {
				return nil, backoffErr
			}
			continue
		}

		settledHeader = x402.FormatSettlementHeader(x402.SettlementReference{
			TxHash:  txHash,
			ChainID: new(big.Int).SetUint64(parsed.chainID),
		})

		retryResp, err := c.httpClient.Do(replayable.build(ctx, settledHeader))
		if err != nil {
			if ctx.Err() != nil {
				return nil, newError(apierrors.ErrCodeTimeout, "fetch deadline exceeded", ctx.Err())
			}
			if backoffErr := c.backoff(ctx, attempt, err); backoffErr != nil {
				return nil, backoffErr
			}
			continue
		}
		// The settlement already happened; hand back whatever came of it.
		return retryResp, nil
	}

	return nil, newError(apierrors.ErrCodeExhausted, fmt.Sprintf("no success after %d attempts", c.maxRetries+1), nil)
}

// settle submits the transfer for a parsed challenge and returns the
// confirmed transaction hash.
func (c *Client) settle(ctx context.Context, parsed *challenge) (common.Hash, error) {
	c.emit(Event{Type: EventPaymentSending, Endpoint: parsed.endpoint, Amount: parsed.amount.String(), Token: parsed.tokenSymbol})

	txHash, err := c.signer.SubmitTransfer(ctx, signer.TransferInput{
		Token:     parsed.token,
		Recipient: parsed.recipient,
		Amount:    parsed.amount,
		Memo:      parsed.memo,
	})
	if err != nil {
		return common.Hash{}, newError(apierrors.ErrCodeSignerFailed, "transfer submission failed", err)
	}

	c.emit(Event{Type: EventPaymentConfirmed, Endpoint: parsed.endpoint, Amount: parsed.amount.String(), Token: parsed.tokenSymbol, TxHash: txHash.Hex()})
	c.logger.Debug().
		Str("endpoint", parsed.endpoint).
		Str("tx", txHash.Hex()).
		Str("amount", parsed.amount.String()).
		Msg("client.payment_confirmed")

	return txHash, nil
}

// precheckBalance fails fast when the signer cannot cover the challenge.
func (c *Client) precheckBalance(ctx context.Context, parsed *challenge) error {
	if !c.precheck {
		return nil
	}

	balance, err := c.signer.GetBalance(ctx, parsed.token)
	if err != nil {
		// A failed balance read is not proof of insufficiency; let the
		// transfer attempt decide.
		c.logger.Warn().Err(err).Msg("client.balance_precheck_failed")
		return nil
	}
	if balance.Cmp(parsed.amount) < 0 {
		return newError(apierrors.ErrCodeInsufficientBalance,
			fmt.Sprintf("balance %s below required %s", balance.String(), parsed.amount.String()), nil)
	}
	return nil
}

// backoff sleeps min(1s * 2^attempt, 10s) unless the error is
// non-retryable or the deadline expires first.
func (c *Client) backoff(ctx context.Context, attempt int, cause error) error {
	if cErr, ok := cause.(*Error); ok && !cErr.Retryable() {
		return cErr
	}

	delay := backoffBase << uint(attempt)
	if delay > backoffCap {
		delay = backoffCap
	}

	c.emit(Event{Type: EventRetrying, Attempt: attempt, Err: cause})
	c.logger.Warn().Err(cause).Int("attempt", attempt).Dur("delay", delay).Msg("client.retrying")

	if err := c.sleep(ctx, delay); err != nil {
		return newError(apierrors.ErrCodeTimeout, "fetch deadline exceeded", err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseChallenge decodes a 402 body, closing it. Missing required fields
// make the challenge invalid and the fetch non-retryable.
func parseChallenge(resp *http.Response) (*challenge, error) {
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, newError(apierrors.ErrCodeInvalidChallenge, "unreadable 402 body", err)
	}

	var body x402.ChallengeBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, newError(apierrors.ErrCodeInvalidChallenge, "402 body is not a payment challenge", err)
	}

	payment := body.Payment
	if payment.RecipientAddress == "" || payment.TokenAddress == "" || payment.AmountRequired == "" || payment.ChainID == 0 {
		return nil, newError(apierrors.ErrCodeInvalidChallenge, "402 body missing required payment fields", nil)
	}
	if !common.IsHexAddress(payment.RecipientAddress) || !common.IsHexAddress(payment.TokenAddress) {
		return nil, newError(apierrors.ErrCodeInvalidChallenge, "402 body carries malformed addresses", nil)
	}
	amount, ok := new(big.Int).SetString(payment.AmountRequired, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, newError(apierrors.ErrCodeInvalidChallenge, "402 body carries invalid amount", nil)
	}

	parsed := &challenge{
		endpoint:    payment.Endpoint,
		tokenSymbol: payment.TokenSymbol,
		token:       common.HexToAddress(payment.TokenAddress),
		recipient:   common.HexToAddress(payment.RecipientAddress),
		amount:      amount,
		chainID:     payment.ChainID,
	}
	if payment.Memo != "" {
		parsed.memo = common.HexToHash(payment.Memo)
	}
	return parsed, nil
}

// replayableRequest buffers a request so it can be rebuilt for retries.
type replayableRequest struct {
	method string
	url    string
	header http.Header
	body   []byte
}

func bufferRequest(req *http.Request) (*replayableRequest, error) {
	r := &replayableRequest{
		method: req.Method,
		url:    req.URL.String(),
		header: req.Header.Clone(),
	}
	if req.Body != nil && req.Body != http.NoBody {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		r.body = body
	}
	return r, nil
}

// build materializes the request, attaching the settlement header when set.
func (r *replayableRequest) build(ctx context.Context, settlementHeader string) *http.Request {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		// The original request parsed once already; rebuilding it cannot fail.
		panic(fmt.Sprintf("client: rebuild request: %v", err))
	}
	req.Header = r.header.Clone()
	if settlementHeader != "" {
		req.Header.Set(x402.HeaderName, settlementHeader)
	}
	return req
}
