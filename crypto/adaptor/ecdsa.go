package adaptor

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/monero-btc-swap/swapd/crypto/secp256k1"
)

// ECDSAEncryptedSignature is an adaptor-encrypted ECDSA signature: the
// Bitcoin-witness-compatible counterpart to EncryptedSignature, which is
// Schnorr and so cannot appear in a legacy OP_CHECKMULTISIG witness.
// Decrypting it yields a standard ECDSA signature, serialisable to DER and
// usable directly in a TxRedeem witness (spec §4.1, §4.3's "swap pivot").
type ECDSAEncryptedSignature struct {
	R    *secp256k1.PublicKey // R' = k*T
	SHat [32]byte             // s' = k^-1 * (H(m) + r*x)  (mod n)
}

type ecdsaEncSigJSON struct {
	R    *secp256k1.PublicKey `json:"r"`
	SHat string               `json:"sHat"`
}

// MarshalJSON encodes the signature as a wire-friendly hex pair.
func (e *ECDSAEncryptedSignature) MarshalJSON() ([]byte, error) {
	return json.Marshal(ecdsaEncSigJSON{R: e.R, SHat: hex.EncodeToString(e.SHat[:])})
}

// UnmarshalJSON decodes a wire-encoded ECDSAEncryptedSignature.
func (e *ECDSAEncryptedSignature) UnmarshalJSON(data []byte) error {
	var wire ecdsaEncSigJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	b, err := hex.DecodeString(wire.SHat)
	if err != nil {
		return fmt.Errorf("invalid sHat hex: %w", err)
	}
	if len(b) != 32 {
		return fmt.Errorf("sHat must be 32 bytes, got %d", len(b))
	}
	e.R = wire.R
	copy(e.SHat[:], b)
	return nil
}

// EncSignECDSA produces an ECDSAEncryptedSignature over msgHash under sk,
// encrypted to the adaptor point tPub. Completing it (DecryptECDSA) behaves
// as if the nonce had been k*t instead of k, so only whoever knows dlog(tPub)
// can turn it into a valid signature for sk.Public().
func EncSignECDSA(sk *secp256k1.PrivateKey, msgHash [32]byte, tPub *secp256k1.PublicKey) (*ECDSAEncryptedSignature, error) {
	k, err := secp256k1.GenerateKey()
	if err != nil {
		return nil, err
	}

	rPrime := k.MulPoint(tPub)
	r := xCoordScalar(rPrime)

	var kInv, hm, x, sHat btcec.ModNScalar
	kBytes := k.Bytes()
	kInv.SetBytes(&kBytes)
	kInv.InverseNonConst()

	hm.SetBytes(&msgHash)
	xBytes := sk.Bytes()
	x.SetBytes(&xBytes)

	rx := new(btcec.ModNScalar).Set(&r).Mul(&x)
	hm.Add(rx)
	sHat.Set(&kInv).Mul(&hm)

	return &ECDSAEncryptedSignature{R: rPrime, SHat: sHat.Bytes()}, nil
}

// DecryptECDSA completes enc into a standard ECDSA signature given the
// adaptor secret t.
func DecryptECDSA(enc *ECDSAEncryptedSignature, t *secp256k1.PrivateKey) *btcecdsa.Signature {
	var sHat, tInv, s btcec.ModNScalar
	sHatBytes := enc.SHat
	sHat.SetBytes(&sHatBytes)
	tBytes := t.Bytes()
	tInv.SetBytes(&tBytes)
	tInv.InverseNonConst()
	s.Set(&sHat).Mul(&tInv)

	r := xCoordScalar(enc.R)
	return btcecdsa.NewSignature(&r, &s)
}

// RecoverECDSA extracts the adaptor secret t given the original encrypted
// signature and the decrypted signature observed on chain: t = s' * s^-1.
// This is how the taker learns the Monero-side spend secret once the maker
// broadcasts TxRedeem (spec §4.3, EncSigSent -> BtcRedeemed).
func RecoverECDSA(enc *ECDSAEncryptedSignature, sig *btcecdsa.Signature) [32]byte {
	s := sig.S()

	var sHat, sInv, t btcec.ModNScalar
	sHatBytes := enc.SHat
	sHat.SetBytes(&sHatBytes)
	sInv.Set(&s)
	sInv.InverseNonConst()
	t.Set(&sHat).Mul(&sInv)
	return t.Bytes()
}

// VerifyEncSigECDSA checks that enc is a validly-formed ECDSA adaptor
// signature over msgHash under pub, encrypted to adaptor point tPub, without
// needing t: s'*R' == k*T implies R' == sHat^-1*(H(m)*T + r*pub).
func VerifyEncSigECDSA(enc *ECDSAEncryptedSignature, pub *secp256k1.PublicKey, msgHash [32]byte, tPub *secp256k1.PublicKey) error {
	r := xCoordScalar(enc.R)

	var sHat, sHatInv, hm btcec.ModNScalar
	sHatBytes := enc.SHat
	sHat.SetBytes(&sHatBytes)
	sHatInv.Set(&sHat)
	sHatInv.InverseNonConst()
	hm.SetBytes(&msgHash)

	hmT := scalarMult(hm, tPub)
	rPub := scalarMult(r, pub)
	candidate := scalarMult(sHatInv, hmT.Add(rPub))

	if xCoordScalar(candidate) != r {
		return ErrInvalidSignature
	}
	return nil
}

func scalarMult(s btcec.ModNScalar, p *secp256k1.PublicKey) *secp256k1.PublicKey {
	priv := secp256k1.NewPrivateKeyFromScalar(s.Bytes())
	return priv.MulPoint(p)
}

// xCoordScalar reduces a public key's x-coordinate into a scalar mod the
// curve order, matching ECDSA's definition of r.
func xCoordScalar(p *secp256k1.PublicKey) btcec.ModNScalar {
	fv := p.Underlying().X()
	var b [32]byte
	fv.PutBytesUnchecked(b[:])
	var s btcec.ModNScalar
	s.SetBytes(&b)
	return s
}
