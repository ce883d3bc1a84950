package x402

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BuildRequirementInput collects the parameters needed to price a single
// call and turn it into a Requirement.
type BuildRequirementInput struct {
	Recipient     common.Address
	Token         common.Address
	TokenSymbol   string
	TokenDecimals uint8
	AmountHuman   string // decimal string, e.g. "0.01"
	Endpoint      string // "METHOD path"
	Nonce         string
	ExpirySeconds int64
	ChainID       uint64
	Description   string
	BodyHash      [32]byte

	// Now overrides the clock; zero means time.Now().
	Now time.Time
}

// BuildRequirement scales the human amount to smallest units with exact
// integer math, derives the memo, and returns the populated Requirement
// ready to serialize into a 402 body.
func BuildRequirement(in BuildRequirementInput) (Requirement, error) {
	amount, err := ScaleAmount(in.AmountHuman, in.TokenDecimals)
	if err != nil {
		return Requirement{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	expiry := now.Add(time.Duration(in.ExpirySeconds) * time.Second).Unix()
	memo := ComputeMemo(in.Endpoint, in.BodyHash, in.Nonce, expiry)

	return Requirement{
		Recipient:     in.Recipient,
		Token:         in.Token,
		TokenSymbol:   in.TokenSymbol,
		TokenDecimals: in.TokenDecimals,
		Amount:        amount,
		AmountHuman:   DisplayAmount(amount, in.TokenDecimals),
		Endpoint:      in.Endpoint,
		Nonce:         in.Nonce,
		Expiry:        expiry,
		ChainID:       new(big.Int).SetUint64(in.ChainID),
		Memo:          memo,
		Description:   in.Description,
	}, nil
}

// IsExpired reports whether the requirement's expiry has passed as of now.
func (r Requirement) IsExpired(now time.Time) bool {
	return now.Unix() > r.Expiry
}
