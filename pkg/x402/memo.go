package x402

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ComputeMemo derives the deterministic request fingerprint embedded in the
// memo field of a settlement: keccak256 over the endpoint, the request body
// hash, the nonce, and the expiry, each framed with a type tag and a
// big-endian length prefix so concatenation can never produce a collision
// between differently-shaped inputs. Identical inputs always produce an
// identical memo; changing any one field changes it.
func ComputeMemo(endpoint string, bodyHash [32]byte, nonce string, expiry int64) common.Hash {
	buf := make([]byte, 0, 128)
	buf = appendField(buf, 0x01, []byte(endpoint))
	buf = appendField(buf, 0x02, bodyHash[:])
	buf = appendField(buf, 0x03, []byte(nonce))

	var expiryBytes [8]byte
	binary.BigEndian.PutUint64(expiryBytes[:], uint64(expiry))
	buf = appendField(buf, 0x04, expiryBytes[:])

	return crypto.Keccak256Hash(buf)
}

func appendField(buf []byte, tag byte, field []byte) []byte {
	buf = append(buf, tag)
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(field)))
	buf = append(buf, lenBytes[:]...)
	buf = append(buf, field...)
	return buf
}

// HashBody fingerprints a request body for inclusion in ComputeMemo. Using
// a fixed-size digest here, rather than the raw body, keeps memo inputs
// bounded regardless of payload size.
func HashBody(body []byte) [32]byte {
	return sha256.Sum256(body)
}
