// Package x402 defines the wire protocol shared by the paywall middleware
// and the settlement client: payment requirements, settlement references,
// memo derivation, and the header encoding that carries a reference between
// the two.
package x402

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Requirement is the payment requirement issued by the server in a 402
// body. It is self-describing: the verifier rediscovers the paying
// account, the transferred amount, and the token by reading the
// transaction's emitted events, so a requirement never needs to be stored
// server-side between the 402 and the retry.
type Requirement struct {
	Recipient     common.Address
	Token         common.Address
	TokenSymbol   string
	TokenDecimals uint8

	// Amount is the required payment in the token's smallest unit.
	Amount *big.Int
	// AmountHuman is Amount rendered in the token's display unit.
	AmountHuman string

	Endpoint    string // "METHOD path"
	Nonce       string
	Expiry      int64 // unix seconds
	ChainID     *big.Int
	Memo        common.Hash
	Description string
}

// SettlementReference is the decoded form of the X-Payment header: a
// pointer at an on-chain transaction, nothing more. The verifier derives
// everything else (recipient, amount, token) from the receipt itself.
type SettlementReference struct {
	TxHash  common.Hash
	ChainID *big.Int
}

// Verification is a transfer log inside a receipt that satisfies a
// requirement. LogIndex distinguishes multiple settlements packed into one
// batch transaction; replay defense keys on (TxHash, LogIndex) so a single
// batch receipt can pay for several distinct requests.
type Verification struct {
	From        common.Address
	To          common.Address
	Amount      *big.Int
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
	MemoMatched bool
}

// ChallengeBody is the JSON body of a 402 response.
type ChallengeBody struct {
	Error        string           `json:"error"`
	Payment      ChallengePayment `json:"payment"`
	Instructions ChallengeSteps   `json:"instructions"`
}

// ChallengePayment is the JSON projection of Requirement for the wire.
type ChallengePayment struct {
	RecipientAddress string `json:"recipientAddress"`
	TokenAddress     string `json:"tokenAddress"`
	TokenSymbol      string `json:"tokenSymbol"`
	AmountRequired   string `json:"amountRequired"`
	AmountHuman      string `json:"amountHuman"`
	Endpoint         string `json:"endpoint"`
	Nonce            string `json:"nonce"`
	Expiry           int64  `json:"expiry"`
	ChainID          uint64 `json:"chainId"`
	Memo             string `json:"memo"`
	Description      string `json:"description,omitempty"`
}

// ChallengeSteps is the human-readable settlement guide embedded in a 402
// body for clients that do not implement the protocol natively.
type ChallengeSteps struct {
	Header string   `json:"header"`
	Format string   `json:"format"`
	Steps  []string `json:"steps"`
}

// ToPayload renders a Requirement as the JSON-facing ChallengePayment.
func (r Requirement) ToPayload() ChallengePayment {
	return ChallengePayment{
		RecipientAddress: r.Recipient.Hex(),
		TokenAddress:     r.Token.Hex(),
		TokenSymbol:      r.TokenSymbol,
		AmountRequired:   r.Amount.String(),
		AmountHuman:      r.AmountHuman,
		Endpoint:         r.Endpoint,
		Nonce:            r.Nonce,
		Expiry:           r.Expiry,
		ChainID:          r.ChainID.Uint64(),
		Memo:             r.Memo.Hex(),
		Description:      r.Description,
	}
}

// Challenge builds the full 402 body for this requirement.
func (r Requirement) Challenge() ChallengeBody {
	return ChallengeBody{
		Error:   "Payment Required",
		Payment: r.ToPayload(),
		Instructions: ChallengeSteps{
			Header: HeaderName,
			Format: "<txHash>:<chainId>",
			Steps: []string{
				"Transfer " + r.AmountHuman + " " + r.TokenSymbol + " to " + r.Recipient.Hex(),
				"Include " + HeaderName + ": <txHash>:<chainId> on the retry",
				"Retry the original request",
			},
		},
	}
}

// HeaderName is the request header carrying a settlement reference.
const HeaderName = "X-Payment"
