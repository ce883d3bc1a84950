package x402

import (
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestComputeMemo_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 100; i++ {
		endpoint := randomEndpoint(rng)
		var bodyHash [32]byte
		rng.Read(bodyHash[:])
		nonce := randomString(rng, 36)
		expiry := int64(rng.Uint32())

		first := ComputeMemo(endpoint, bodyHash, nonce, expiry)
		second := ComputeMemo(endpoint, bodyHash, nonce, expiry)
		if first != second {
			t.Fatalf("memo not deterministic for (%q, %x, %q, %d)", endpoint, bodyHash, nonce, expiry)
		}
	}
}

func TestComputeMemo_FieldSensitivity(t *testing.T) {
	endpoint := "POST /api/chat"
	bodyHash := HashBody([]byte(`{"prompt":"hello"}`))
	nonce := "3e9c7a4e-7a61-4f7b-bb1e-1d2f3a4b5c6d"
	expiry := int64(1764000000)

	base := ComputeMemo(endpoint, bodyHash, nonce, expiry)

	perturbed := []struct {
		name string
		memo common.Hash
	}{
		{"endpoint", ComputeMemo("POST /api/chat2", bodyHash, nonce, expiry)},
		{"body hash", ComputeMemo(endpoint, HashBody([]byte(`{"prompt":"hellp"}`)), nonce, expiry)},
		{"nonce", ComputeMemo(endpoint, bodyHash, nonce+"x", expiry)},
		{"expiry", ComputeMemo(endpoint, bodyHash, nonce, expiry+1)},
	}

	for _, tt := range perturbed {
		if tt.memo == base {
			t.Errorf("changing %s did not change the memo", tt.name)
		}
	}
}

// Concatenation across field boundaries must not collide: moving a byte from
// the end of the endpoint to the start of the nonce is a different memo.
func TestComputeMemo_FramingResistsShifts(t *testing.T) {
	var bodyHash [32]byte
	a := ComputeMemo("POST /api/chatX", bodyHash, "nonce", 1)
	b := ComputeMemo("POST /api/chat", bodyHash, "Xnonce", 1)
	if a == b {
		t.Fatal("field framing collision between shifted inputs")
	}
}

func TestHashBody_Stable(t *testing.T) {
	body := []byte(`{"a":1}`)
	if HashBody(body) != HashBody([]byte(`{"a":1}`)) {
		t.Fatal("HashBody not stable for equal bodies")
	}
	if HashBody(body) == HashBody([]byte(`{"a":2}`)) {
		t.Fatal("HashBody equal for different bodies")
	}
}

func randomEndpoint(rng *rand.Rand) string {
	methods := []string{"GET", "POST", "PUT", "DELETE"}
	return methods[rng.Intn(len(methods))] + " /api/" + randomString(rng, 1+rng.Intn(20))
}

func randomString(rng *rand.Rand, n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789-"
	out := make([]byte, n)
	for i := range out {
		out[i] = alphabet[rng.Intn(len(alphabet))]
	}
	return string(out)
}
