package signer

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// erc20ABI covers the calls the local signer makes against the token, plus
// the memo-extended transfer for tokens that support it.
const erc20ABI = `[
	{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transferWithMemo","type":"function","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"memo","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"balanceOf","type":"function","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"}
]`

// batchTransferABI is the disperse-style batch contract interface. The
// contract pulls the total via transferFrom and fans it out, emitting one
// Transfer log per recipient inside a single atomic transaction.
const batchTransferABI = `[
	{"name":"batchTransfer","type":"function","inputs":[{"name":"token","type":"address"},{"name":"recipients","type":"address[]"},{"name":"values","type":"uint256[]"}],"outputs":[]}
]`

var (
	erc20        abi.ABI
	batchABI     abi.ABI
	transferFnID []byte
)

func init() {
	var err error
	erc20, err = abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(err)
	}
	batchABI, err = abi.JSON(strings.NewReader(batchTransferABI))
	if err != nil {
		panic(err)
	}
	transferFnID = erc20.Methods["transfer"].ID
}

// Backend is the slice of the ledger RPC client the local signer needs.
// *ethclient.Client satisfies it.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// LocalKeySigner holds a private key in memory and submits EIP-1559
// transactions directly against the ledger RPC.
type LocalKeySigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	backend    Backend

	// batchContract, when set, enables atomic multi-transfer submission.
	batchContract *common.Address

	confirmPoll time.Duration
	useMemo     bool
}

// LocalOption configures a LocalKeySigner.
type LocalOption func(*LocalKeySigner)

// WithBatchContract enables batch submission through a deployed
// disperse-style contract. The signer's account must have approved the
// contract to spend the payment token.
func WithBatchContract(addr common.Address) LocalOption {
	return func(s *LocalKeySigner) { s.batchContract = &addr }
}

// WithMemoTransfers makes single transfers use transferWithMemo when the
// input carries a memo. Requires a memo-aware token contract.
func WithMemoTransfers() LocalOption {
	return func(s *LocalKeySigner) { s.useMemo = true }
}

// WithConfirmPollInterval overrides the receipt polling cadence.
func WithConfirmPollInterval(d time.Duration) LocalOption {
	return func(s *LocalKeySigner) { s.confirmPoll = d }
}

// NewLocalKeySigner creates a signer from a hex-encoded private key.
func NewLocalKeySigner(privateKeyHex string, chainID uint64, backend Backend, opts ...LocalOption) (*LocalKeySigner, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimPrefix(privateKeyHex, "0x"), "0X")
	keyBytes, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("signer: invalid private key hex: %w", err)
	}
	key, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("signer: invalid private key: %w", err)
	}
	return newLocalKeySigner(key, chainID, backend, opts...), nil
}

// NewLocalKeySignerFromKeystore loads an encrypted keystore file.
func NewLocalKeySignerFromKeystore(path, password string, chainID uint64, backend Backend, opts ...LocalOption) (*LocalKeySigner, error) {
	encrypted, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signer: read keystore: %w", err)
	}
	key, err := keystore.DecryptKey(encrypted, password)
	if err != nil {
		return nil, fmt.Errorf("signer: decrypt keystore: %w", err)
	}
	return newLocalKeySigner(key.PrivateKey, chainID, backend, opts...), nil
}

func newLocalKeySigner(key *ecdsa.PrivateKey, chainID uint64, backend Backend, opts ...LocalOption) *LocalKeySigner {
	s := &LocalKeySigner{
		privateKey:  key,
		address:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:     new(big.Int).SetUint64(chainID),
		backend:     backend,
		confirmPoll: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveAddress returns the address derived from the private key.
func (s *LocalKeySigner) ResolveAddress(_ context.Context) (common.Address, error) {
	return s.address, nil
}

// SupportsBatch reports whether a batch contract has been configured.
func (s *LocalKeySigner) SupportsBatch() bool {
	return s.batchContract != nil
}

// SubmitTransfer signs and broadcasts one token transfer and waits for a
// confirmation.
func (s *LocalKeySigner) SubmitTransfer(ctx context.Context, in TransferInput) (common.Hash, error) {
	var (
		data []byte
		err  error
	)
	if s.useMemo && in.Memo != (common.Hash{}) {
		data, err = erc20.Pack("transferWithMemo", in.Recipient, in.Amount, [32]byte(in.Memo))
	} else {
		data, err = erc20.Pack("transfer", in.Recipient, in.Amount)
	}
	if err != nil {
		return common.Hash{}, fmt.Errorf("signer: pack transfer: %w", err)
	}

	return s.submit(ctx, in.Token, data)
}

// SubmitBatchTransfer packs all transfers into one call to the batch
// contract. Every transfer must use the same token; either all land in one
// transaction or the transaction reverts as a whole.
func (s *LocalKeySigner) SubmitBatchTransfer(ctx context.Context, transfers []TransferInput) (common.Hash, error) {
	if s.batchContract == nil {
		return common.Hash{}, ErrBatchUnsupported
	}
	if len(transfers) == 0 {
		return common.Hash{}, fmt.Errorf("signer: empty batch")
	}

	token := transfers[0].Token
	recipients := make([]common.Address, len(transfers))
	values := make([]*big.Int, len(transfers))
	for i, t := range transfers {
		if t.Token != token {
			return common.Hash{}, fmt.Errorf("signer: batch mixes tokens %s and %s", token.Hex(), t.Token.Hex())
		}
		recipients[i] = t.Recipient
		values[i] = t.Amount
	}

	data, err := batchABI.Pack("batchTransfer", token, recipients, values)
	if err != nil {
		return common.Hash{}, fmt.Errorf("signer: pack batch: %w", err)
	}

	return s.submit(ctx, *s.batchContract, data)
}

// GetBalance reads the account's token balance via eth_call.
func (s *LocalKeySigner) GetBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	data, err := erc20.Pack("balanceOf", s.address)
	if err != nil {
		return nil, fmt.Errorf("signer: pack balanceOf: %w", err)
	}

	out, err := s.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("signer: balanceOf call: %w", err)
	}

	results, err := erc20.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("signer: unpack balanceOf: %w", err)
	}
	return results[0].(*big.Int), nil
}

// submit builds, signs, broadcasts, and confirms an EIP-1559 transaction
// carrying the given call data.
func (s *LocalKeySigner) submit(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	nonce, err := s.backend.PendingNonceAt(ctx, s.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("signer: nonce: %w", err)
	}

	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("signer: head: %w", err)
	}
	tip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("signer: gas tip: %w", err)
	}
	// feeCap = 2*baseFee + tip absorbs base fee growth across a few blocks
	feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)

	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: s.address,
		To:   &to,
		Data: data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("signer: estimate gas: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Data:      data,
	})

	signed, err := types.SignTx(tx, types.NewLondonSigner(s.chainID), s.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("signer: sign: %w", err)
	}

	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("signer: broadcast: %w", err)
	}

	if err := s.waitConfirmed(ctx, signed.Hash()); err != nil {
		return common.Hash{}, err
	}
	return signed.Hash(), nil
}

// waitConfirmed polls for the receipt until the transaction lands or the
// context expires.
func (s *LocalKeySigner) waitConfirmed(ctx context.Context, txHash common.Hash) error {
	ticker := time.NewTicker(s.confirmPoll)
	defer ticker.Stop()

	for {
		receipt, err := s.backend.TransactionReceipt(ctx, txHash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("signer: transaction %s reverted", txHash.Hex())
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("signer: confirmation wait: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
