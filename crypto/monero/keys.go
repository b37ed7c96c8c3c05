// Package monero implements the Ed25519 scalar/point arithmetic the swap
// protocol needs over Monero's key pairs: combining the maker's and taker's
// spend-key shares into the shared (S_a + S_b) swap output, and deriving the
// view key needed to watch for (but not yet spend) that output.
package monero

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/sha3"
)

// PrivateSpendKey is one party's share s_x of the shared Monero spend key.
type PrivateSpendKey struct {
	scalar *edwards25519.Scalar
}

// PrivateViewKey is one party's share of the shared Monero view key.
type PrivateViewKey struct {
	scalar *edwards25519.Scalar
}

// PublicKey is an Ed25519 point: a spend or view public key share.
type PublicKey struct {
	point *edwards25519.Point
}

// PrivateKeyPair bundles a spend and view private key share.
type PrivateKeyPair struct {
	sk *PrivateSpendKey
	vk *PrivateViewKey
}

// PublicKeyPair bundles a spend and view public key share.
type PublicKeyPair struct {
	sk *PublicKey
	vk *PublicKey
}

// NewPrivateSpendKey wraps a 32-byte little-endian scalar.
func NewPrivateSpendKey(b [32]byte) (*PrivateSpendKey, error) {
	s, err := new(edwards25519.Scalar).SetCanonicalBytes(b[:])
	if err != nil {
		return nil, fmt.Errorf("invalid monero spend scalar: %w", err)
	}
	return &PrivateSpendKey{scalar: s}, nil
}

// GenerateKeyPair generates a fresh random spend/view key pair share.
func GenerateKeyPair() (*PrivateKeyPair, error) {
	skBytes, err := randomScalarBytes()
	if err != nil {
		return nil, err
	}
	sk, err := NewPrivateSpendKey(skBytes)
	if err != nil {
		return nil, err
	}

	// The view key is deterministically derived from the spend key by
	// hashing, matching how Monero wallets derive v from s.
	wide := sha3.NewLegacyKeccak256()
	wide.Write(skBytes[:])
	var digest [64]byte
	copy(digest[:32], wide.Sum(nil))
	vkScalar, err := new(edwards25519.Scalar).SetUniformBytes(digest[:])
	if err != nil {
		return nil, err
	}

	return &PrivateKeyPair{
		sk: sk,
		vk: &PrivateViewKey{scalar: vkScalar},
	}, nil
}

func randomScalarBytes() ([32]byte, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return b, err
	}
	// Clear the top bits so the bytes are always a canonical little-endian
	// scalar representation.
	b[31] &= 0x0f
	return b, nil
}

// SpendKey returns the private spend key share.
func (p *PrivateKeyPair) SpendKey() *PrivateSpendKey { return p.sk }

// ViewKey returns the private view key share.
func (p *PrivateKeyPair) ViewKey() *PrivateViewKey { return p.vk }

// SpendKeyBytes returns the 32-byte canonical scalar encoding.
func (k *PrivateSpendKey) SpendKeyBytes() []byte {
	return k.scalar.Bytes()
}

// Public returns g^s, the public spend key share.
func (k *PrivateSpendKey) Public() *PublicKey {
	return &PublicKey{point: new(edwards25519.Point).ScalarBaseMult(k.scalar)}
}

// Public returns g^v, the public view key share.
func (k *PrivateViewKey) Public() *PublicKey {
	return &PublicKey{point: new(edwards25519.Point).ScalarBaseMult(k.scalar)}
}

// Bytes returns the canonical scalar encoding of the view key.
func (k *PrivateViewKey) Bytes() [32]byte {
	var out [32]byte
	copy(out[:], k.scalar.Bytes())
	return out
}

// PublicKeyPair returns the public counterpart of a PrivateKeyPair.
func (p *PrivateKeyPair) PublicKeyPair() *PublicKeyPair {
	return &PublicKeyPair{sk: p.sk.Public(), vk: p.vk.Public()}
}

// NewPublicKeyPair bundles a spend and view public key.
func NewPublicKeyPair(sk, vk *PublicKey) *PublicKeyPair {
	return &PublicKeyPair{sk: sk, vk: vk}
}

// NewPrivateKeyPair bundles a spend and view private key share, the
// private-key counterpart of NewPublicKeyPair. Used to rebuild a party's key
// share from persisted scalars on swap recovery.
func NewPrivateKeyPair(sk *PrivateSpendKey, vk *PrivateViewKey) *PrivateKeyPair {
	return &PrivateKeyPair{sk: sk, vk: vk}
}

// SpendKey returns the public spend key share.
func (p *PublicKeyPair) SpendKey() *PublicKey { return p.sk }

// ViewKey returns the public view key share.
func (p *PublicKeyPair) ViewKey() *PublicKey { return p.vk }

// Add returns the point sum of two public keys.
func (k *PublicKey) Add(other *PublicKey) *PublicKey {
	return &PublicKey{point: new(edwards25519.Point).Add(k.point, other.point)}
}

// Bytes returns the 32-byte compressed point encoding.
func (k *PublicKey) Bytes() []byte {
	return k.point.Bytes()
}

// ScalarMult returns scalar*k.
func (k *PublicKey) ScalarMult(scalar *edwards25519.Scalar) *PublicKey {
	return &PublicKey{point: new(edwards25519.Point).ScalarMult(scalar, k.point)}
}

// String returns the hex-encoded public key.
func (k *PublicKey) String() string {
	return hex.EncodeToString(k.Bytes())
}

// SumSpendAndViewKeys combines two public key pairs into the shared 2-of-2
// Monero output key (S_a + S_b, V_a + V_b), matching the construction used
// by the lockFunds step of both roles (spec §4.3).
func SumSpendAndViewKeys(a, b *PublicKeyPair) *PublicKeyPair {
	return &PublicKeyPair{
		sk: a.SpendKey().Add(b.SpendKey()),
		vk: a.ViewKey().Add(b.ViewKey()),
	}
}

// NewPublicKeyFromBytes decodes a 32-byte compressed Ed25519 point.
func NewPublicKeyFromBytes(b []byte) (*PublicKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("invalid monero public key length %d", len(b))
	}
	p, err := new(edwards25519.Point).SetBytes(b)
	if err != nil {
		return nil, fmt.Errorf("invalid monero public key: %w", err)
	}
	return &PublicKey{point: p}, nil
}

// NewPrivateViewKeyFromBytes wraps a 32-byte little-endian view key scalar.
func NewPrivateViewKeyFromBytes(b [32]byte) (*PrivateViewKey, error) {
	s, err := new(edwards25519.Scalar).SetCanonicalBytes(b[:])
	if err != nil {
		return nil, fmt.Errorf("invalid monero view scalar: %w", err)
	}
	return &PrivateViewKey{scalar: s}, nil
}

// MarshalJSON encodes the public key as a hex string, for use as a wire
// message field.
func (k *PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a hex-encoded public key.
func (k *PublicKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid monero public key hex: %w", err)
	}
	pk, err := NewPublicKeyFromBytes(b)
	if err != nil {
		return err
	}
	*k = *pk
	return nil
}

// MarshalJSON encodes the view key as a hex string, for use as a wire
// message field.
func (k *PrivateViewKey) MarshalJSON() ([]byte, error) {
	b := k.Bytes()
	return json.Marshal(hex.EncodeToString(b[:]))
}

// UnmarshalJSON decodes a hex-encoded view key.
func (k *PrivateViewKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid monero view key hex: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("invalid monero view key length %d", len(raw))
	}
	var b [32]byte
	copy(b[:], raw)
	vk, err := NewPrivateViewKeyFromBytes(b)
	if err != nil {
		return err
	}
	*k = *vk
	return nil
}

// SumPrivateKeyPairs combines the two parties' private spend/view key shares
// into the full keypair needed to spend the shared 2-of-2 Monero output,
// once both secrets are known (spec §4.3, the post-redeem claim step).
func SumPrivateKeyPairs(skA, skB *PrivateSpendKey, vkA, vkB *PrivateViewKey) *PrivateKeyPair {
	sk := new(edwards25519.Scalar).Add(skA.scalar, skB.scalar)
	vk := new(edwards25519.Scalar).Add(vkA.scalar, vkB.scalar)
	return &PrivateKeyPair{
		sk: &PrivateSpendKey{scalar: sk},
		vk: &PrivateViewKey{scalar: vk},
	}
}
