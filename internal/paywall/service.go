// Package paywall implements the 402 challenge/settle state machine that
// gates priced endpoints behind verified on-chain payment.
package paywall

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentgate/gateway/internal/metrics"
	"github.com/agentgate/gateway/internal/observability"
	"github.com/agentgate/gateway/pkg/x402"
	"github.com/agentgate/gateway/pkg/x402/evm"
)

// TokenInfo is a payment token as the middleware needs it: symbol for
// display, contract address for log matching, decimals for amount scaling.
type TokenInfo struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
}

// Params collects the dependencies of a paywall Service. Verifier,
// UsedReferences, and Pricing are required; the rest default sensibly.
type Params struct {
	Recipient      common.Address
	Token          TokenInfo
	ChainID        uint64
	ExpiryWindow   time.Duration // default 300s
	RoutePrefix    string        // stripped from request paths before pricing lookup
	Pricing        PricingTable
	Verifier       evm.Verifier
	UsedReferences *UsedReferenceSet
	Hooks          *observability.Registry
	Metrics        *metrics.Metrics
	Logger         zerolog.Logger

	// Clock and Nonce override time and nonce generation for tests.
	Clock func() time.Time
	Nonce func() string
}

// Service holds the shared state of the paywall middleware. The pricing
// table is read-only during request service; the used-reference set is the
// only shared mutable state and is claimed under its own lock.
type Service struct {
	recipient    common.Address
	token        TokenInfo
	chainID      uint64
	expiryWindow time.Duration
	routePrefix  string
	pricing      PricingTable
	verifier     evm.Verifier
	usedRefs     *UsedReferenceSet
	hooks        *observability.Registry
	metrics      *metrics.Metrics
	logger       zerolog.Logger
	now          func() time.Time
	nonce        func() string
}

// NewService constructs a paywall service.
func NewService(p Params) *Service {
	if p.ExpiryWindow <= 0 {
		p.ExpiryWindow = 300 * time.Second
	}
	if p.Clock == nil {
		p.Clock = time.Now
	}
	if p.Nonce == nil {
		p.Nonce = uuid.NewString
	}
	if p.Hooks == nil {
		p.Hooks = observability.NewRegistry(p.Logger)
	}

	return &Service{
		recipient:    p.Recipient,
		token:        p.Token,
		chainID:      p.ChainID,
		expiryWindow: p.ExpiryWindow,
		routePrefix:  p.RoutePrefix,
		pricing:      p.Pricing,
		verifier:     p.Verifier,
		usedRefs:     p.UsedReferences,
		hooks:        p.Hooks,
		metrics:      p.Metrics,
		logger:       p.Logger,
		now:          p.Clock,
		nonce:        p.Nonce,
	}
}

// Pricing exposes the pricing table for the discovery endpoint.
func (s *Service) Pricing() PricingTable { return s.pricing }

// Token returns the default payment token.
func (s *Service) Token() TokenInfo { return s.token }

// Recipient returns the payment recipient address.
func (s *Service) Recipient() common.Address { return s.recipient }

// ChainID returns the ledger chain id settlements must land on.
func (s *Service) ChainID() uint64 { return s.chainID }

// tokenFor resolves the token an endpoint is priced in.
func (s *Service) tokenFor(price Price) TokenInfo {
	if price.Token != nil {
		return *price.Token
	}
	return s.token
}

// buildChallenge assembles the requirement issued in a 402 body.
func (s *Service) buildChallenge(endpoint string, price Price, bodyHash [32]byte) (x402.Requirement, error) {
	token := s.tokenFor(price)
	return x402.BuildRequirement(x402.BuildRequirementInput{
		Recipient:     s.recipient,
		Token:         token.Address,
		TokenSymbol:   token.Symbol,
		TokenDecimals: token.Decimals,
		AmountHuman:   price.Amount,
		Endpoint:      endpoint,
		Nonce:         s.nonce(),
		ExpirySeconds: int64(s.expiryWindow / time.Second),
		ChainID:       s.chainID,
		Description:   price.Description,
		BodyHash:      bodyHash,
		Now:           s.now(),
	})
}

// verificationRequirement reconstructs what must be true of a settlement
// for the given endpoint. Verification is stateless: the original
// challenge's nonce is not stored server-side, so its memo cannot be
// recomputed and the requirement carries a zero memo (the permissive
// reading; the memo is a reconciliation aid, not a security primitive).
// The verifier rediscovers payer, amount, and token from the receipt.
func (s *Service) verificationRequirement(endpoint string, price Price) (x402.Requirement, error) {
	token := s.tokenFor(price)
	amount, err := x402.ScaleAmount(price.Amount, token.Decimals)
	if err != nil {
		return x402.Requirement{}, err
	}

	return x402.Requirement{
		Recipient:     s.recipient,
		Token:         token.Address,
		TokenSymbol:   token.Symbol,
		TokenDecimals: token.Decimals,
		Amount:        amount,
		AmountHuman:   price.Amount,
		Endpoint:      endpoint,
		Expiry:        s.now().Add(s.expiryWindow).Unix(),
		ChainID:       new(big.Int).SetUint64(s.chainID),
	}, nil
}
