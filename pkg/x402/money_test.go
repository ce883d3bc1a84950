package x402

import (
	"math/big"
	"testing"
)

func TestScaleAmount(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		decimals uint8
		want     string
		wantErr  bool
	}{
		{"USDC 1.5", "1.5", 6, "1500000", false},
		{"USDC 10", "10", 6, "10000000", false},
		{"USDC smallest unit", "0.000001", 6, "1", false},
		{"USD-like 0.01", "0.01", 2, "1", false},
		{"no fractional part", "100", 2, "10000", false},
		{"leading dot", ".5", 2, "50", false},

		{"too many fractional digits", "0.0000001", 6, "", true},
		{"negative", "-1", 6, "", true},
		{"zero", "0", 6, "", true},
		{"double dot", "1.2.3", 6, "", true},
		{"not a number", "abc", 6, "", true},
		{"empty", "", 6, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ScaleAmount(tt.amount, tt.decimals)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ScaleAmount() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.String() != tt.want {
				t.Errorf("ScaleAmount() = %v, want %v", got.String(), tt.want)
			}
		})
	}
}

func TestDisplayAmount(t *testing.T) {
	tests := []struct {
		name     string
		smallest string
		decimals uint8
		want     string
	}{
		{"USDC 1.5", "1500000", 6, "1.5"},
		{"USDC 10", "10000000", 6, "10"},
		{"USDC smallest unit", "1", 6, "0.000001"},
		{"zero decimals", "42", 0, "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, ok := new(big.Int).SetString(tt.smallest, 10)
			if !ok {
				t.Fatalf("bad fixture %q", tt.smallest)
			}
			got := DisplayAmount(amount, tt.decimals)
			if got != tt.want {
				t.Errorf("DisplayAmount() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScaleAmountDisplayAmountRoundTrip(t *testing.T) {
	for _, amount := range []string{"1.5", "10", "0.000001", "123.456789"} {
		scaled, err := ScaleAmount(amount, 6)
		if err != nil {
			t.Fatalf("ScaleAmount(%q) error: %v", amount, err)
		}
		if got := DisplayAmount(scaled, 6); got != amount {
			t.Errorf("round trip %q -> %q", amount, got)
		}
	}
}
