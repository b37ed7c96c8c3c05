// Package secp256k1 wraps btcec secp256k1 scalar/point values with the
// operations the swap protocol needs: key generation, public-key summation
// (for the 2-of-2 spend key (S_a + S_b)), and serialisation used in wire
// messages and DLEQ proofs.
package secp256k1

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// PrivateKey wraps a secp256k1 scalar.
type PrivateKey struct {
	key *btcec.PrivateKey
}

// PublicKey wraps a secp256k1 point.
type PublicKey struct {
	key *btcec.PublicKey
}

// GenerateKey returns a new random PrivateKey.
func GenerateKey() (*PrivateKey, error) {
	k, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate secp256k1 key: %w", err)
	}
	return &PrivateKey{key: k}, nil
}

// NewPrivateKeyFromScalar constructs a PrivateKey from a 32-byte scalar.
func NewPrivateKeyFromScalar(b [32]byte) *PrivateKey {
	k := secp256k1PrivKeyFromBytes(b[:])
	return &PrivateKey{key: k}
}

func secp256k1PrivKeyFromBytes(b []byte) *btcec.PrivateKey {
	priv, _ := btcec.PrivKeyFromBytes(b)
	return priv
}

// Bytes returns the 32-byte scalar.
func (k *PrivateKey) Bytes() [32]byte {
	var out [32]byte
	copy(out[:], k.key.Serialize())
	return out
}

// Public returns the associated PublicKey.
func (k *PrivateKey) Public() *PublicKey {
	return &PublicKey{key: k.key.PubKey()}
}

// Add returns the scalar sum of two private keys modulo the group order,
// used to combine the maker's and taker's shares of the 2-of-2 spend key.
func (k *PrivateKey) Add(other *PrivateKey) *PrivateKey {
	var sum btcec.ModNScalar
	sum.Set(&k.key.Key)
	sum.Add(&other.key.Key)
	b := sum.Bytes()
	return NewPrivateKeyFromScalar(b)
}

// Underlying exposes the btcec key for signing/ECDH operations performed by
// the bitcoin and adaptor packages.
func (k *PrivateKey) Underlying() *btcec.PrivateKey {
	return k.key
}

// Add returns the point sum of two public keys, S_a + S_b.
func (p *PublicKey) Add(other *PublicKey) *PublicKey {
	x, y := btcec.S256().Add(p.key.X(), p.key.Y(), other.key.X(), other.key.Y())
	return &PublicKey{key: btcec.NewPublicKey(x, y)}
}

// MulPoint returns scalar*p, where scalar is k's private scalar. Used by the
// DLEQ verifier to compute challenge*publicKey without assuming the scalar
// is itself a key the caller should otherwise use for signing.
func (k *PrivateKey) MulPoint(p *PublicKey) *PublicKey {
	x, y := btcec.S256().ScalarMult(p.key.X(), p.key.Y(), k.key.Serialize())
	return &PublicKey{key: btcec.NewPublicKey(x, y)}
}

// SerializeCompressed returns the 33-byte compressed encoding.
func (p *PublicKey) SerializeCompressed() []byte {
	return p.key.SerializeCompressed()
}

// String returns the hex-encoded compressed public key.
func (p *PublicKey) String() string {
	return hex.EncodeToString(p.SerializeCompressed())
}

// Underlying exposes the btcec key.
func (p *PublicKey) Underlying() *btcec.PublicKey {
	return p.key
}

// MarshalJSON encodes the public key as a hex string, for use as a wire
// message field.
func (p *PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a hex-encoded compressed public key.
func (p *PublicKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid secp256k1 public key hex: %w", err)
	}
	pk, err := ParsePublicKey(b)
	if err != nil {
		return err
	}
	*p = *pk
	return nil
}

// ParsePublicKey decodes a compressed public key.
func ParsePublicKey(b []byte) (*PublicKey, error) {
	k, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, err
	}
	return &PublicKey{key: k}, nil
}

// RandomScalar returns a uniformly random 32-byte scalar.
func RandomScalar() ([32]byte, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return b, err
	}
	return b, nil
}
