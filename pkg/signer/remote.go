package signer

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

	"github.com/agentgate/gateway/internal/circuitbreaker"
	"github.com/agentgate/gateway/internal/httputil"
	"github.com/agentgate/gateway/internal/rpcutil"
)

// RemoteCustodySigner delegates signing to an external custody API
// identified by (app id, app secret, wallet id). The custody service holds
// the key material; the signer only posts submission requests over HTTPS
// with basic credentials.
//
// The custody API is expected to confirm transactions before responding,
// so a returned hash is already settled. Batch submission is not offered
// by custody backends; SupportsBatch is always false.
type RemoteCustodySigner struct {
	baseURL   string
	appID     string
	appSecret string
	walletID  string

	// sponsorFees asks the custody service to cover gas. A rejected
	// sponsorship is retried once without it.
	sponsorFees bool

	httpClient *http.Client
	breaker    *circuitbreaker.Manager

	address common.Address // cached after first resolution
}

// RemoteOption configures a RemoteCustodySigner.
type RemoteOption func(*RemoteCustodySigner)

// WithSponsorFees requests gas sponsorship from the custody service.
func WithSponsorFees() RemoteOption {
	return func(s *RemoteCustodySigner) { s.sponsorFees = true }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) RemoteOption {
	return func(s *RemoteCustodySigner) { s.httpClient = client }
}

// WithCustodyBreaker guards custody API calls with a circuit breaker.
func WithCustodyBreaker(m *circuitbreaker.Manager) RemoteOption {
	return func(s *RemoteCustodySigner) { s.breaker = m }
}

// NewRemoteCustodySigner creates a custody-backed signer.
func NewRemoteCustodySigner(baseURL, appID, appSecret, walletID string, opts ...RemoteOption) *RemoteCustodySigner {
	s := &RemoteCustodySigner{
		baseURL:    baseURL,
		appID:      appID,
		appSecret:  appSecret,
		walletID:   walletID,
		httpClient: httputil.NewClient(90 * time.Second),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type custodyTransferRequest struct {
	WalletID    string `json:"walletId"`
	Token       string `json:"token"`
	Recipient   string `json:"recipient"`
	Amount      string `json:"amount"`
	Memo        string `json:"memo,omitempty"`
	SponsorFees bool   `json:"sponsorFees"`
}

type custodyTransferResponse struct {
	TxHash string `json:"txHash"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

// custodyCodeSponsorshipRejected is the custody error code for a declined
// gas sponsorship; the submission is retried once unsponsored.
const custodyCodeSponsorshipRejected = "sponsorship_rejected"

// SubmitTransfer posts the transfer to the custody API and returns the
// confirmed transaction hash.
func (s *RemoteCustodySigner) SubmitTransfer(ctx context.Context, in TransferInput) (common.Hash, error) {
	request := custodyTransferRequest{
		WalletID:    s.walletID,
		Token:       in.Token.Hex(),
		Recipient:   in.Recipient.Hex(),
		Amount:      in.Amount.String(),
		SponsorFees: s.sponsorFees,
	}
	if in.Memo != (common.Hash{}) {
		request.Memo = in.Memo.Hex()
	}

	response, err := s.postTransfer(ctx, request)
	if err == nil {
		return common.HexToHash(response.TxHash), nil
	}

	// Sponsorship can be rejected per-wallet or per-token; retry once
	// paying our own gas before giving up.
	if request.SponsorFees && isSponsorshipRejected(err) {
		request.SponsorFees = false
		response, retryErr := s.postTransfer(ctx, request)
		if retryErr != nil {
			return common.Hash{}, retryErr
		}
		return common.HexToHash(response.TxHash), nil
	}

	return common.Hash{}, err
}

// SubmitBatchTransfer is unavailable on custody backends.
func (s *RemoteCustodySigner) SubmitBatchTransfer(_ context.Context, _ []TransferInput) (common.Hash, error) {
	return common.Hash{}, ErrBatchUnsupported
}

// SupportsBatch always reports false for custody backends.
func (s *RemoteCustodySigner) SupportsBatch() bool { return false }

// ResolveAddress fetches (and caches) the wallet's on-chain address.
func (s *RemoteCustodySigner) ResolveAddress(ctx context.Context) (common.Address, error) {
	if s.address != (common.Address{}) {
		return s.address, nil
	}

	var response struct {
		Address string `json:"address"`
	}
	if err := s.get(ctx, fmt.Sprintf("/v1/wallets/%s", s.walletID), &response); err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(response.Address) {
		return common.Address{}, fmt.Errorf("signer: custody returned invalid address %q", response.Address)
	}

	s.address = common.HexToAddress(response.Address)
	return s.address, nil
}

// GetBalance reads the wallet's token balance from the custody API.
func (s *RemoteCustodySigner) GetBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	var response struct {
		Balance string `json:"balance"`
	}
	path := fmt.Sprintf("/v1/wallets/%s/balance?token=%s", s.walletID, token.Hex())
	if err := s.get(ctx, path, &response); err != nil {
		return nil, err
	}

	balance, ok := new(big.Int).SetString(response.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("signer: custody returned invalid balance %q", response.Balance)
	}
	return balance, nil
}

// custodyError carries the API's machine-readable error code.
type custodyError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *custodyError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("signer: custody api: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("signer: custody api: status %d", e.StatusCode)
}

func isSponsorshipRejected(err error) bool {
	cErr, ok := err.(*custodyError)
	return ok && cErr.Code == custodyCodeSponsorshipRejected
}

func (s *RemoteCustodySigner) postTransfer(ctx context.Context, request custodyTransferRequest) (*custodyTransferResponse, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("signer: marshal transfer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/transfers", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("signer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(s.appID, s.appSecret)

	body, status, err := s.do(req)
	if err != nil {
		return nil, err
	}

	var response custodyTransferResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("signer: decode custody response: %w", err)
	}
	if status != http.StatusOK || response.Error != "" {
		return nil, &custodyError{StatusCode: status, Code: response.Code, Message: response.Error}
	}
	if response.TxHash == "" {
		return nil, fmt.Errorf("signer: custody response missing txHash")
	}
	return &response, nil
}

// get performs an idempotent read against the custody API. Reads are safe
// to retry on transient failures, unlike transfer submissions.
func (s *RemoteCustodySigner) get(ctx context.Context, path string, out any) error {
	result, err := rpcutil.WithRetry(ctx, func() (*httpResult, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
		if err != nil {
			return nil, fmt.Errorf("signer: build request: %w", err)
		}
		req.SetBasicAuth(s.appID, s.appSecret)

		body, status, err := s.do(req)
		if err != nil {
			return nil, err
		}
		return &httpResult{body: body, status: status}, nil
	})
	if err != nil {
		return err
	}
	body, status := result.body, result.status
	if status != http.StatusOK {
		return &custodyError{StatusCode: status}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("signer: decode custody response: %w", err)
	}
	return nil
}

// do executes the request through the circuit breaker when one is set.
func (s *RemoteCustodySigner) do(req *http.Request) ([]byte, int, error) {
	call := func() (interface{}, error) {
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("signer: custody request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("signer: read custody response: %w", err)
		}
		return &httpResult{body: body, status: resp.StatusCode}, nil
	}

	var (
		result interface{}
		err    error
	)
	if s.breaker != nil {
		result, err = s.breaker.Execute(circuitbreaker.ServiceCustodyAPI, call)
	} else {
		result, err = call()
	}
	if err != nil {
		return nil, 0, err
	}

	r := result.(*httpResult)
	return r.body, r.status, nil
}

type httpResult struct {
	body   []byte
	status int
}
