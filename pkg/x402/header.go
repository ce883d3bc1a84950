package x402

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ParseSettlementHeader decodes the X-Payment header value "<txHash>:<chainId>".
// It splits on the LAST colon since a 32-byte hex tx hash never contains
// one. Returns ok=false for anything malformed rather than an error, since
// a malformed header is routed straight to the HEADER_MALFORMED state
// rather than treated as an internal failure.
func ParseSettlementHeader(value string) (SettlementReference, bool) {
	value = strings.TrimSpace(value)
	idx := strings.LastIndex(value, ":")
	if idx < 0 {
		return SettlementReference{}, false
	}

	txPart, chainPart := value[:idx], value[idx+1:]
	if len(txPart) != 66 || !strings.HasPrefix(txPart, "0x") && !strings.HasPrefix(txPart, "0X") {
		return SettlementReference{}, false
	}
	for _, c := range txPart[2:] {
		if !isHexDigit(c) {
			return SettlementReference{}, false
		}
	}
	if chainPart == "" {
		return SettlementReference{}, false
	}
	chainID, ok := new(big.Int).SetString(chainPart, 10)
	if !ok || chainID.Sign() < 0 {
		return SettlementReference{}, false
	}

	return SettlementReference{TxHash: common.HexToHash(txPart), ChainID: chainID}, true
}

// FormatSettlementHeader is the inverse of ParseSettlementHeader.
func FormatSettlementHeader(ref SettlementReference) string {
	return ref.TxHash.Hex() + ":" + ref.ChainID.String()
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
