// Package evm verifies settlement references against an EVM-compatible
// ledger by reading transaction receipts and decoding ERC-20 transfer logs.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sony/gobreaker"

	"github.com/agentgate/gateway/internal/circuitbreaker"
	apierrors "github.com/agentgate/gateway/internal/errors"
	"github.com/agentgate/gateway/internal/observability"
	"github.com/agentgate/gateway/pkg/x402"
)

// Event signatures recognized in receipts. TransferWithMemo is the extended
// form emitted by memo-aware tokens; the memo is a reconciliation aid, so
// plain Transfer logs remain acceptable even when a requirement carries one.
var (
	transferEventID         = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	transferWithMemoEventID = crypto.Keccak256Hash([]byte("TransferWithMemo(address,address,uint256,bytes32)"))

	transferDataArgs         abi.Arguments
	transferWithMemoDataArgs abi.Arguments
)

func init() {
	uint256Type, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	bytes32Type, err := abi.NewType("bytes32", "", nil)
	if err != nil {
		panic(err)
	}
	transferDataArgs = abi.Arguments{{Name: "value", Type: uint256Type}}
	transferWithMemoDataArgs = abi.Arguments{{Name: "value", Type: uint256Type}, {Name: "memo", Type: bytes32Type}}
}

// ReceiptFetcher is the slice of the ledger RPC client the verifier needs.
// *ethclient.Client satisfies it.
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Verifier checks a settlement reference against a requirement.
//
// Verify is stateless with respect to prior requirements: it reconstructs
// what must be true from the supplied requirement and checks the on-chain
// receipt against it. It returns every log in the receipt that satisfies
// the requirement, preference-ordered (memo-bearing logs first, then by
// log index). Callers that only admit a single settlement use the first
// candidate; the paywall middleware walks the slice and claims the first
// candidate whose (txHash, logIndex) has not been used, which lets one
// batch transaction settle several distinct requests.
type Verifier interface {
	Verify(ctx context.Context, ref x402.SettlementReference, requirement x402.Requirement) ([]x402.Verification, error)
}

// RPCVerifier verifies settlements by fetching receipts over JSON-RPC.
type RPCVerifier struct {
	client  ReceiptFetcher
	breaker *circuitbreaker.Manager
	hooks   *observability.Registry
	now     func() time.Time
}

// Option configures an RPCVerifier.
type Option func(*RPCVerifier)

// WithBreaker guards receipt fetches with the given circuit breaker manager.
func WithBreaker(m *circuitbreaker.Manager) Option {
	return func(v *RPCVerifier) { v.breaker = m }
}

// WithHooks emits RPC call events to the given registry.
func WithHooks(r *observability.Registry) Option {
	return func(v *RPCVerifier) { v.hooks = r }
}

// WithClock overrides the wall clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(v *RPCVerifier) { v.now = now }
}

// NewRPCVerifier wraps a receipt fetcher as a Verifier.
func NewRPCVerifier(client ReceiptFetcher, opts ...Option) *RPCVerifier {
	v := &RPCVerifier{
		client: client,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Dial connects to the ledger RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	return client, nil
}

// Verify implements the Verifier contract.
func (v *RPCVerifier) Verify(ctx context.Context, ref x402.SettlementReference, requirement x402.Requirement) ([]x402.Verification, error) {
	if requirement.ChainID != nil && ref.ChainID != nil && requirement.ChainID.Cmp(ref.ChainID) != 0 {
		return nil, x402.NewVerificationError(apierrors.ErrCodeNoMatchingTransfer,
			fmt.Sprintf("settlement references chain %s, requirement is for chain %s", ref.ChainID, requirement.ChainID), nil)
	}

	if requirement.IsExpired(v.now()) {
		return nil, x402.NewVerificationError(apierrors.ErrCodeExpired, "payment requirement has expired", nil)
	}

	receipt, err := v.fetchReceipt(ctx, ref.TxHash)
	if err != nil {
		return nil, x402.NewVerificationError(apierrors.ErrCodeRpcUnavailable, "", err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, x402.NewVerificationError(apierrors.ErrCodeTxReverted, "settlement transaction reverted", nil)
	}

	return matchLogs(receipt, ref.TxHash, requirement)
}

// fetchReceipt reads the receipt through the circuit breaker, recording the
// call for observability. No lock is held across this await.
func (v *RPCVerifier) fetchReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	start := time.Now()
	result, err := v.execute(func() (interface{}, error) {
		return v.client.TransactionReceipt(ctx, txHash)
	})

	if v.hooks != nil {
		event := observability.RPCCallEvent{
			Timestamp: start,
			Method:    "TransactionReceipt",
			Duration:  time.Since(start),
			Success:   err == nil,
		}
		if err != nil {
			event.ErrorType = classifyFetchError(ctx, err)
		}
		v.hooks.EmitRPCCall(ctx, event)
	}

	if err != nil {
		return nil, fmt.Errorf("fetch receipt %s: %w", txHash.Hex(), err)
	}
	return result.(*types.Receipt), nil
}

func (v *RPCVerifier) execute(fn func() (interface{}, error)) (interface{}, error) {
	if v.breaker == nil {
		return fn()
	}
	return v.breaker.Execute(circuitbreaker.ServiceEVMRPC, fn)
}

// matchLogs walks the receipt's logs and returns the candidates that
// satisfy the requirement, preference-ordered.
func matchLogs(receipt *types.Receipt, txHash common.Hash, requirement x402.Requirement) ([]x402.Verification, error) {
	type candidate struct {
		verification x402.Verification
		hasMemo      bool
		memo         common.Hash
	}

	var matched []candidate
	for _, lg := range receipt.Logs {
		if lg.Address != requirement.Token {
			continue
		}
		if len(lg.Topics) != 3 {
			continue
		}

		var (
			value   *big.Int
			memo    common.Hash
			hasMemo bool
		)
		switch lg.Topics[0] {
		case transferWithMemoEventID:
			vals, err := transferWithMemoDataArgs.Unpack(lg.Data)
			if err != nil {
				continue
			}
			value = vals[0].(*big.Int)
			memo = common.Hash(vals[1].([32]byte))
			hasMemo = true
		case transferEventID:
			vals, err := transferDataArgs.Unpack(lg.Data)
			if err != nil {
				continue
			}
			value = vals[0].(*big.Int)
		default:
			continue
		}

		to := common.BytesToAddress(lg.Topics[2].Bytes())
		if to != requirement.Recipient {
			continue
		}

		blockNumber := uint64(0)
		if lg.BlockNumber != 0 {
			blockNumber = lg.BlockNumber
		} else if receipt.BlockNumber != nil {
			blockNumber = receipt.BlockNumber.Uint64()
		}

		matched = append(matched, candidate{
			verification: x402.Verification{
				From:        common.BytesToAddress(lg.Topics[1].Bytes()),
				To:          to,
				Amount:      value,
				TxHash:      txHash,
				LogIndex:    lg.Index,
				BlockNumber: blockNumber,
			},
			hasMemo: hasMemo,
			memo:    memo,
		})
	}

	if len(matched) == 0 {
		return nil, x402.NewVerificationError(apierrors.ErrCodeNoMatchingTransfer,
			"no transfer to the required recipient found in receipt", nil)
	}

	requireMemo := requirement.Memo != (common.Hash{})

	// Memo-bearing logs must carry the required memo when one is set. A
	// plain Transfer without memo stays acceptable; the memo is an optional
	// reconciliation aid, not a security primitive.
	var (
		insufficient bool
		accepted     []candidate
	)
	for _, c := range matched {
		if requireMemo && c.hasMemo && c.memo != requirement.Memo {
			continue
		}
		if c.verification.Amount.Cmp(requirement.Amount) < 0 {
			insufficient = true
			continue
		}
		c.verification.MemoMatched = requireMemo && c.hasMemo && c.memo == requirement.Memo
		accepted = append(accepted, c)
	}

	if len(accepted) == 0 {
		if insufficient {
			return nil, x402.NewVerificationError(apierrors.ErrCodeInsufficient,
				"transfer value below required amount", nil)
		}
		return nil, x402.NewVerificationError(apierrors.ErrCodeMemoMismatch,
			"transfer memo does not match requirement", nil)
	}

	// Prefer TransferWithMemo matches over plain transfers; within each
	// class, the earliest log index wins.
	sort.SliceStable(accepted, func(i, j int) bool {
		if accepted[i].hasMemo != accepted[j].hasMemo {
			return accepted[i].hasMemo
		}
		return accepted[i].verification.LogIndex < accepted[j].verification.LogIndex
	})

	out := make([]x402.Verification, len(accepted))
	for i, c := range accepted {
		out[i] = c.verification
	}
	return out, nil
}

// classifyFetchError buckets an RPC failure for metrics.
func classifyFetchError(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil:
		return "timeout"
	case errors.Is(err, ethereum.NotFound):
		return "not_found"
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	default:
		return "other"
	}
}
