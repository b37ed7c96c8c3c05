package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Hash represents a 32-byte hash, used for both Bitcoin and Monero
// transaction ids and for commitment/proof digests.
type Hash [32]byte

// EmptyHash is an empty Hash.
var EmptyHash = Hash{}

// IsHashZero returns true if the hash is all zeros, otherwise false.
func IsHashZero(h Hash) bool {
	return h == EmptyHash
}

// String returns the hex-encoded hash, "0x"-prefixed.
func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// MarshalJSON encodes the hash as a hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return []byte(`"` + h.String() + `"`), nil
}

// UnmarshalJSON decodes a hex string into the hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	decoded, err := HexToHash(s)
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}

// HexToHash decodes a hex-encoded string into a Hash.
func HexToHash(s string) (Hash, error) {
	if s == "" {
		return EmptyHash, nil
	}

	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return Hash{}, err
	}

	if len(b) != len(Hash{}) {
		return Hash{}, fmt.Errorf("invalid len=%d hash", len(b))
	}

	var h Hash
	copy(h[:], b)
	return h, nil
}
