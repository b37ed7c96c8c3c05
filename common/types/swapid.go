package types

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// SwapID is an opaque 128-bit identifier minted at swap start, stable for
// the swap's life (spec §3).
type SwapID [16]byte

// EmptySwapID is the zero-value SwapID.
var EmptySwapID = SwapID{}

// NewSwapID mints a new random SwapID.
func NewSwapID() (SwapID, error) {
	var id SwapID
	if _, err := rand.Read(id[:]); err != nil {
		return id, fmt.Errorf("failed to generate swap id: %w", err)
	}
	return id, nil
}

// String returns the hex-encoded id, "0x"-prefixed.
func (id SwapID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// MarshalJSON encodes the id as a hex string.
func (id SwapID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON decodes a hex string into the id.
func (id *SwapID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	decoded, err := SwapIDFromString(s)
	if err != nil {
		return err
	}
	*id = decoded
	return nil
}

// SwapIDFromString parses a hex-encoded SwapID.
func SwapIDFromString(s string) (SwapID, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return SwapID{}, err
	}
	if len(b) != len(SwapID{}) {
		return SwapID{}, fmt.Errorf("invalid len=%d swap id", len(b))
	}
	var id SwapID
	copy(id[:], b)
	return id, nil
}

// Role identifies which of the two swap parties the local instance is
// playing for a given swap (spec §3).
type Role byte

const (
	// Maker sells XMR for BTC (Alice).
	Maker Role = iota
	// Taker buys XMR with BTC (Bob).
	Taker
)

func (r Role) String() string {
	switch r {
	case Maker:
		return "maker"
	case Taker:
		return "taker"
	default:
		return "unknown"
	}
}
