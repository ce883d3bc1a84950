// Package signer abstracts transaction submission over two backends: a
// local in-memory key that signs and broadcasts directly against the
// ledger RPC, and a remote custody API that signs on the caller's behalf.
// Callers never branch on the variant; batch support is an optional
// capability probed via SupportsBatch.
package signer

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrBatchUnsupported is returned by SubmitBatchTransfer on signers
// without atomic multi-call capability.
var ErrBatchUnsupported = errors.New("signer: batch transfers not supported")

// TransferInput describes one token transfer to submit.
type TransferInput struct {
	Token     common.Address
	Recipient common.Address
	Amount    *big.Int // smallest units

	// Memo optionally embeds the request fingerprint in the transfer.
	// Zero means no memo; the plain Transfer event is emitted instead.
	Memo common.Hash
}

// Signer submits token transfers on behalf of one account.
//
// SubmitTransfer and SubmitBatchTransfer block until the transaction has
// at least one confirmation, so a returned hash can immediately be handed
// to a verifying gateway.
type Signer interface {
	// SubmitTransfer submits a single token transfer and returns the
	// transaction hash once confirmed.
	SubmitTransfer(ctx context.Context, in TransferInput) (common.Hash, error)

	// SubmitBatchTransfer packs all transfers into one atomic transaction:
	// either every transfer lands or none does. Returns ErrBatchUnsupported
	// when SupportsBatch is false.
	SubmitBatchTransfer(ctx context.Context, transfers []TransferInput) (common.Hash, error)

	// ResolveAddress returns the account this signer pays from.
	ResolveAddress(ctx context.Context) (common.Address, error)

	// GetBalance returns the account's balance of the given token in
	// smallest units.
	GetBalance(ctx context.Context, token common.Address) (*big.Int, error)

	// SupportsBatch reports whether SubmitBatchTransfer is available.
	SupportsBatch() bool
}
