// Package adaptor implements Schnorr adaptor signatures over secp256k1 (this
// file) and their ECDSA counterpart (ecdsa.go). TxRedeem is pre-signed with
// the ECDSA variant so that publishing it reveals the Monero-side spend
// secret (spec §4.1, the "swap pivot"); the plain Schnorr Sign/Verify here
// back the cooperative early-refund grant.
//
// Given a secret key sk, message m, and adaptor point T = t*G, EncSign
// produces an EncryptedSignature that verifies against T but cannot be
// turned into a valid signature without knowledge of t. Whoever learns t
// can call Decrypt to recover a valid signature; whoever sees both the
// encrypted and decrypted signature can call Recover to extract t.
package adaptor

import (
	"crypto/sha256"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/monero-btc-swap/swapd/crypto/secp256k1"
)

// ErrInvalidSignature is returned when a signature fails its Schnorr check.
var ErrInvalidSignature = errors.New("adaptor: invalid signature")

// EncryptedSignature is a Schnorr pre-signature encrypted under an adaptor
// point T.
type EncryptedSignature struct {
	RPrime *secp256k1.PublicKey // R' = r*G + T
	SHat   [32]byte             // ŝ = r + e*x  (mod n)
}

// Signature is a standard two-element Schnorr signature.
type Signature struct {
	R *secp256k1.PublicKey
	S [32]byte
}

// EncSign produces an EncryptedSignature over msg under sk, encrypted to
// the adaptor point tPub. The signer needs only tPub, never the discrete
// log of the adaptor point itself -- that secret belongs to whoever the
// encrypted signature is meant to be useless to until they reveal it by
// completing and publishing the signature (spec §4.1, §4.3's "atomic swap
// pivot").
func EncSign(sk *secp256k1.PrivateKey, msg [32]byte, tPub *secp256k1.PublicKey) (*EncryptedSignature, error) {
	r, err := secp256k1.GenerateKey()
	if err != nil {
		return nil, err
	}

	rPrime := r.Public().Add(tPub)
	e := challenge(rPrime, sk.Public(), msg)

	var rn, en, xn btcec.ModNScalar
	rBytes := r.Bytes()
	eBytes := e
	xBytes := sk.Bytes()
	rn.SetBytes(&rBytes)
	en.SetBytes(&eBytes)
	xn.SetBytes(&xBytes)

	en.Mul(&xn)
	rn.Add(&en)
	sHat := rn.Bytes()

	return &EncryptedSignature{RPrime: rPrime, SHat: sHat}, nil
}

// Sign produces a plain Schnorr signature over msg under sk, with no
// adaptor point involved. Used for ordinary authorisation signatures (e.g.
// the cooperative early-refund grant) that don't encrypt a secret.
func Sign(sk *secp256k1.PrivateKey, msg [32]byte) (*Signature, error) {
	r, err := secp256k1.GenerateKey()
	if err != nil {
		return nil, err
	}

	e := challenge(r.Public(), sk.Public(), msg)

	var rn, en, xn btcec.ModNScalar
	rBytes := r.Bytes()
	eBytes := e
	xBytes := sk.Bytes()
	rn.SetBytes(&rBytes)
	en.SetBytes(&eBytes)
	xn.SetBytes(&xBytes)

	en.Mul(&xn)
	rn.Add(&en)

	return &Signature{R: r.Public(), S: rn.Bytes()}, nil
}

// Decrypt turns an EncryptedSignature into a valid Signature given the
// adaptor secret t = dlog(T).
func Decrypt(enc *EncryptedSignature, t *secp256k1.PrivateKey) *Signature {
	var sHat, tScalar btcec.ModNScalar
	sHatBytes := enc.SHat
	tBytes := t.Bytes()
	sHat.SetBytes(&sHatBytes)
	tScalar.SetBytes(&tBytes)
	sHat.Add(&tScalar)

	return &Signature{R: enc.RPrime, S: sHat.Bytes()}
}

// Recover extracts the adaptor secret t given the encrypted signature and
// its decrypted counterpart. The taker learns the Monero spend secret from a
// published TxRedeem with the ECDSA counterpart, RecoverECDSA (spec §4.3,
// EncSigSent -> BtcRedeemed).
func Recover(enc *EncryptedSignature, sig *Signature) [32]byte {
	var s, sHat, t btcec.ModNScalar
	sBytes := sig.S
	sHatBytes := enc.SHat
	s.SetBytes(&sBytes)
	sHat.SetBytes(&sHatBytes)

	sHat.Negate()
	t.Add2(&s, &sHat)
	return t.Bytes()
}

// VerifyEncSig checks that enc is a validly-formed encrypted signature over
// msg under pub, encrypted to adaptor point tPub, without needing t itself.
//
// Since R' = r*G + T, a valid ŝ satisfies ŝ*G + T == R' + e*P.
func VerifyEncSig(enc *EncryptedSignature, pub *secp256k1.PublicKey, msg [32]byte, tPub *secp256k1.PublicKey) error {
	e := challenge(enc.RPrime, pub, msg)
	ePriv := secp256k1.NewPrivateKeyFromScalar(e)

	lhs := secp256k1.NewPrivateKeyFromScalar(enc.SHat).Public().Add(tPub)
	rhs := enc.RPrime.Add(ePriv.MulPoint(pub))
	if lhs.String() != rhs.String() {
		return ErrInvalidSignature
	}
	return nil
}

// Verify checks a decrypted Signature the normal Schnorr way.
func Verify(sig *Signature, pub *secp256k1.PublicKey, msg [32]byte) error {
	e := challenge(sig.R, pub, msg)
	ePriv := secp256k1.NewPrivateKeyFromScalar(e)

	lhs := secp256k1.NewPrivateKeyFromScalar(sig.S).Public()
	rhs := sig.R.Add(ePriv.MulPoint(pub))
	if lhs.String() != rhs.String() {
		return ErrInvalidSignature
	}
	return nil
}

func challenge(r, pub *secp256k1.PublicKey, msg [32]byte) [32]byte {
	h := sha256.New()
	h.Write(r.SerializeCompressed())
	h.Write(pub.SerializeCompressed())
	h.Write(msg[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
