package bitcoin

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// WitnessSigHash computes the BIP-143 sighash for the inputIndex'th input of
// tx, spending a P2WSH output locked by redeemScript carrying amount
// satoshis. Exported so the adaptor-signature layer can sign the same digest
// SignWitnessInput would, without duplicating the sighash plumbing.
func WitnessSigHash(tx *wire.MsgTx, inputIndex int, redeemScript []byte, amount int64) ([32]byte, error) {
	var out [32]byte
	sigHashes := txscript.NewTxSigHashes(tx, singleOutputFetcher(amount, redeemScript))
	hash, err := txscript.CalcWitnessSigHash(redeemScript, sigHashes, txscript.SigHashAll, tx, inputIndex, amount)
	if err != nil {
		return out, err
	}
	copy(out[:], hash)
	return out, nil
}

// SignWitnessInput produces a DER-encoded, SIGHASH_ALL-suffixed ECDSA
// signature for the inputIndex'th input of tx, spending a P2WSH output
// locked by redeemScript carrying amount satoshis.
func SignWitnessInput(
	tx *wire.MsgTx,
	inputIndex int,
	redeemScript []byte,
	amount int64,
	priv *btcec.PrivateKey,
) ([]byte, error) {
	hash, err := WitnessSigHash(tx, inputIndex, redeemScript, amount)
	if err != nil {
		return nil, err
	}

	sig := ecdsa.Sign(priv, hash[:])
	return SerializeSignature(sig), nil
}

// SerializeSignature DER-encodes sig and appends the SIGHASH_ALL byte,
// matching the witness format SignWitnessInput produces -- used to finish an
// adaptor signature into a witness-ready signature once decrypted.
func SerializeSignature(sig *ecdsa.Signature) []byte {
	return append(sig.Serialize(), byte(txscript.SigHashAll))
}

// VerifyWitnessSignature checks a DER+hashtype signature against pub for the
// given input, without needing the private key.
func VerifyWitnessSignature(
	tx *wire.MsgTx,
	inputIndex int,
	redeemScript []byte,
	amount int64,
	pub *btcec.PublicKey,
	sigWithHashType []byte,
) (bool, error) {
	if len(sigWithHashType) == 0 {
		return false, nil
	}
	sigDER := sigWithHashType[:len(sigWithHashType)-1]

	sigHashes := txscript.NewTxSigHashes(tx, singleOutputFetcher(amount, redeemScript))
	hash, err := txscript.CalcWitnessSigHash(redeemScript, sigHashes, txscript.SigHashAll, tx, inputIndex, amount)
	if err != nil {
		return false, err
	}

	sig, err := ecdsa.ParseDERSignature(sigDER)
	if err != nil {
		return false, err
	}
	return sig.Verify(hash, pub), nil
}

// singleOutputFetcher builds a txscript.PrevOutputFetcher reporting a single
// synthetic previous output, sufficient for computing a BIP-143 sighash
// against one known input; every builder in this package signs one input at
// a time.
func singleOutputFetcher(amount int64, pkScript []byte) txscript.PrevOutputFetcher {
	return txscript.NewCannedPrevOutputFetcher(pkScript, amount)
}
