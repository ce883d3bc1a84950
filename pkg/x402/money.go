package x402

import (
	"fmt"
	"math/big"
	"strings"
)

// ScaleAmount converts a human decimal amount string (e.g. "0.01") into the
// token's smallest-unit integer representation using exact integer
// arithmetic — never binary floating point, so a price like "0.1" USDC
// never drifts. Fails with ErrInvalidAmount when the amount is
// non-positive, malformed, or carries more fractional digits than decimals
// allows.
func ScaleAmount(amountHuman string, decimals uint8) (*big.Int, error) {
	amountHuman = strings.TrimSpace(amountHuman)
	if amountHuman == "" {
		return nil, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}
	if strings.HasPrefix(amountHuman, "-") {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, amountHuman)
	}

	parts := strings.SplitN(amountHuman, ".", 2)
	integerPart := parts[0]
	fractionalPart := ""
	if len(parts) == 2 {
		fractionalPart = parts[1]
	}
	if integerPart == "" {
		integerPart = "0"
	}
	if len(fractionalPart) > int(decimals) {
		return nil, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalidAmount, amountHuman, decimals)
	}
	fractionalPart += strings.Repeat("0", int(decimals)-len(fractionalPart))

	combined := strings.TrimLeft(integerPart+fractionalPart, "0")
	if combined == "" {
		combined = "0"
	}

	scaled, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidAmount, amountHuman)
	}
	if scaled.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	return scaled, nil
}

// DisplayAmount renders a smallest-unit integer back to its human decimal
// form at the given decimals. Inverse of ScaleAmount for valid input.
func DisplayAmount(smallest *big.Int, decimals uint8) string {
	if decimals == 0 {
		return smallest.String()
	}

	s := smallest.String()
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	for len(s) <= int(decimals) {
		s = "0" + s
	}

	cut := len(s) - int(decimals)
	out := strings.TrimRight(s[:cut]+"."+s[cut:], "0")
	out = strings.TrimSuffix(out, ".")
	if neg {
		out = "-" + out
	}
	return out
}
