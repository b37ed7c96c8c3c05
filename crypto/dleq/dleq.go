// Package dleq implements a cross-group discrete-log equality proof: a
// proof that a commitment on secp256k1 and a commitment on Ed25519 share
// the same underlying scalar, without revealing it. This lets each party
// prove that the secp256k1 key it will use to co-sign the Bitcoin 2-of-2
// output is tied to the same secret as the Ed25519 key it will use to
// co-sign the Monero 2-of-2 output (spec §4.1).
package dleq

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"filippo.io/edwards25519"

	mcrypto "github.com/monero-btc-swap/swapd/crypto/monero"
	"github.com/monero-btc-swap/swapd/crypto/secp256k1"
)

// ErrVerifyFailed is returned when a proof does not verify.
var ErrVerifyFailed = errors.New("dleq: proof does not verify")

// Proof is a non-interactive cross-group DLEQ proof. It is a Chaum-Pedersen
// style sigma protocol run in parallel over both groups and bound together
// with a single Fiat-Shamir challenge derived from both groups' commitments.
type Proof struct {
	secret [32]byte // only populated on the proving side

	// Fiat-Shamir challenge and the two per-group responses.
	challenge [32]byte
	respSecp  [32]byte
	respEd    [32]byte

	// Per-group nonce commitments, needed by the verifier.
	nonceSecp *secp256k1.PublicKey
	nonceEd   *mcrypto.PublicKey
}

// Secret returns the 32-byte scalar the proof was generated for. Only
// populated on the proving side.
func (p *Proof) Secret() [32]byte {
	return p.secret
}

// proofEncodedLen is challenge + respSecp + respEd + compressed secp point
// + compressed ed25519 point.
const proofEncodedLen = 32 + 32 + 32 + 33 + 32

// Proof serialises the proof (without the secret) for transmission in a
// SendKeysMessage.
func (p *Proof) Proof() []byte {
	out := make([]byte, 0, proofEncodedLen)
	out = append(out, p.challenge[:]...)
	out = append(out, p.respSecp[:]...)
	out = append(out, p.respEd[:]...)
	out = append(out, p.nonceSecp.SerializeCompressed()...)
	out = append(out, p.nonceEd.Bytes()...)
	return out
}

// NewProofFromBytes decodes a proof previously serialised with Proof, for
// verification on the receiving side (the secret is never transmitted).
func NewProofFromBytes(b []byte) (*Proof, error) {
	if len(b) != proofEncodedLen {
		return nil, fmt.Errorf("dleq: invalid proof length %d", len(b))
	}

	p := &Proof{}
	copy(p.challenge[:], b[0:32])
	copy(p.respSecp[:], b[32:64])
	copy(p.respEd[:], b[64:96])

	nonceSecp, err := secp256k1.ParsePublicKey(b[96:129])
	if err != nil {
		return nil, fmt.Errorf("dleq: invalid secp256k1 nonce point: %w", err)
	}
	p.nonceSecp = nonceSecp

	nonceEd, err := mcrypto.NewPublicKeyFromBytes(b[129:161])
	if err != nil {
		return nil, fmt.Errorf("dleq: invalid ed25519 nonce point: %w", err)
	}
	p.nonceEd = nonceEd

	return p, nil
}

// VerifyResult contains the public keys resulting from verifying a proof.
type VerifyResult struct {
	Secp256k1PublicKey *secp256k1.PublicKey
	Ed25519PublicKey   *mcrypto.PublicKey
}

// Prove generates a Proof that secpPub = secret*G_secp and edPub =
// secret*G_ed share the same secret scalar.
func Prove(secret [32]byte) (*Proof, *secp256k1.PublicKey, *mcrypto.PublicKey, error) {
	secpPriv := secp256k1.NewPrivateKeyFromScalar(secret)
	edPriv, err := mcrypto.NewPrivateSpendKey(secret)
	if err != nil {
		return nil, nil, nil, err
	}

	secpPub := secpPriv.Public()
	edPub := edPriv.Public()

	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, nil, nil, err
	}
	// Clear the top bits so the nonce is below l and valid on the Ed25519
	// side too.
	nonce[31] &= 0x0f

	nonceSecpPriv := secp256k1.NewPrivateKeyFromScalar(nonce)
	nonceEdPriv, err := mcrypto.NewPrivateSpendKey(nonce)
	if err != nil {
		return nil, nil, nil, err
	}

	nonceSecpPub := nonceSecpPriv.Public()
	nonceEdPub := nonceEdPriv.Public()

	challenge := fiatShamir(secpPub, edPub, nonceSecpPub, nonceEdPub)

	respSecp := scalarRespSecp(nonce, challenge, secret)
	respEd, err := scalarRespEd(nonce, challenge, secret)
	if err != nil {
		return nil, nil, nil, err
	}

	proof := &Proof{
		secret:    secret,
		challenge: challenge,
		respSecp:  respSecp,
		respEd:    respEd,
		nonceSecp: nonceSecpPub,
		nonceEd:   nonceEdPub,
	}

	return proof, secpPub, edPub, nil
}

// Verify checks that the proof is valid for the given claimed public keys.
func Verify(p *Proof, secpPub *secp256k1.PublicKey, edPub *mcrypto.PublicKey) (*VerifyResult, error) {
	expected := fiatShamir(secpPub, edPub, p.nonceSecp, p.nonceEd)
	if expected != p.challenge {
		return nil, ErrVerifyFailed
	}

	// secp256k1 side: resp*G =?= nonceSecp + challenge*secpPub
	lhs := secp256k1.NewPrivateKeyFromScalar(p.respSecp).Public()
	rhs := p.nonceSecp.Add(scalarMulSecp(secpPub, p.challenge))
	if lhs.String() != rhs.String() {
		return nil, ErrVerifyFailed
	}

	// Ed25519 side: resp*G =?= nonceEd + challenge*edPub
	lhsEd, err := mcrypto.NewPrivateSpendKey(p.respEd)
	if err != nil {
		return nil, err
	}
	rhsEd := p.nonceEd.Add(scalarMulEd(edPub, p.challenge))
	if lhsEd.Public().String() != rhsEd.String() {
		return nil, ErrVerifyFailed
	}

	return &VerifyResult{Secp256k1PublicKey: secpPub, Ed25519PublicKey: edPub}, nil
}

func fiatShamir(secpPub *secp256k1.PublicKey, edPub *mcrypto.PublicKey, nonceSecp *secp256k1.PublicKey, nonceEd *mcrypto.PublicKey) [32]byte {
	h := sha256.New()
	h.Write(secpPub.SerializeCompressed())
	h.Write(edPub.Bytes())
	h.Write(nonceSecp.SerializeCompressed())
	h.Write(nonceEd.Bytes())
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func scalarRespSecp(nonce, challenge, secret [32]byte) [32]byte {
	var n, c, s btcec.ModNScalar
	n.SetBytes(&nonce)
	c.SetBytes(&challenge)
	s.SetBytes(&secret)
	c.Mul(&s)
	n.Add(&c)
	return n.Bytes()
}

func scalarRespEd(nonce, challenge, secret [32]byte) ([32]byte, error) {
	n, err := new(edwards25519.Scalar).SetCanonicalBytes(nonce[:])
	if err != nil {
		return [32]byte{}, err
	}
	c, err := edwardsScalarFromWide(challenge)
	if err != nil {
		return [32]byte{}, err
	}
	s, err := new(edwards25519.Scalar).SetCanonicalBytes(secret[:])
	if err != nil {
		return [32]byte{}, err
	}
	cs := new(edwards25519.Scalar).Multiply(c, s)
	resp := new(edwards25519.Scalar).Add(n, cs)
	var out [32]byte
	copy(out[:], resp.Bytes())
	return out, nil
}

func edwardsScalarFromWide(b [32]byte) (*edwards25519.Scalar, error) {
	var wide [64]byte
	copy(wide[:32], b[:])
	return new(edwards25519.Scalar).SetUniformBytes(wide[:])
}

func scalarMulSecp(pub *secp256k1.PublicKey, scalar [32]byte) *secp256k1.PublicKey {
	return secp256k1.NewPrivateKeyFromScalar(scalar).MulPoint(pub)
}

func scalarMulEd(pub *mcrypto.PublicKey, scalar [32]byte) *mcrypto.PublicKey {
	s, _ := edwardsScalarFromWide(scalar)
	return pub.ScalarMult(s)
}
