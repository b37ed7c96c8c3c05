package bitcoin

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// multiSigScript returns the non-P2SH 2-of-2 OP_CHECKMULTISIG redeem script
// for aPub and bPub, always ordered lexicographically so both parties build
// byte-identical scripts regardless of argument order.
func multiSigScript(aPub, bPub *btcec.PublicKey) ([]byte, error) {
	a, b := PubKeyBytes(aPub), PubKeyBytes(bPub)
	if len(a) != 33 || len(b) != 33 {
		return nil, fmt.Errorf("bitcoin: compressed pubkeys only")
	}
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_2)
	builder.AddData(a)
	builder.AddData(b)
	builder.AddOp(txscript.OP_2)
	builder.AddOp(txscript.OP_CHECKMULTISIG)
	return builder.Script()
}

// witnessScriptHash wraps a redeem script in a P2WSH output script.
func witnessScriptHash(redeemScript []byte) ([]byte, error) {
	hash := sha256.Sum256(redeemScript)
	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_0)
	builder.AddData(hash[:])
	return builder.Script()
}

// MultiSigOutputScript builds the 2-of-2(A,B) redeem script and its P2WSH
// pkScript, the output shape of TxLock and TxCancel (spec §4.2).
func MultiSigOutputScript(aPub, bPub *btcec.PublicKey) (redeemScript, pkScript []byte, err error) {
	redeemScript, err = multiSigScript(aPub, bPub)
	if err != nil {
		return nil, nil, err
	}
	pkScript, err = witnessScriptHash(redeemScript)
	if err != nil {
		return nil, nil, err
	}
	return redeemScript, pkScript, nil
}

// csvMultiSigScript is TxCancel's output redeem script: the same
// 2-of-2(A,B) multisig spends either branch, but the witness must set the
// IF-flag to select between an immediate TxRefund spend and a
// CHECKSEQUENCEVERIFY-gated TxPunish spend after relativeBlocks have passed
// since TxCancel confirmed. Only TxPunish is timelocked (spec §4.2); TxRefund
// is not, so the timelock check must be conditional rather than
// unconditionally applied to every spend of this output.
func csvMultiSigScript(aPub, bPub *btcec.PublicKey, relativeBlocks int64) ([]byte, error) {
	multisig, err := multiSigScript(aPub, bPub)
	if err != nil {
		return nil, err
	}

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_IF)
	builder.AddInt64(relativeBlocks)
	builder.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddOp(txscript.OP_ENDIF)
	builder.AddOps(multisig)
	return builder.Script()
}

// CSVMultiSigOutputScript builds TxCancel's branching redeem script (see
// csvMultiSigScript) and its P2WSH pkScript.
func CSVMultiSigOutputScript(aPub, bPub *btcec.PublicKey, punishTimelock uint32) (redeemScript, pkScript []byte, err error) {
	redeemScript, err = csvMultiSigScript(aPub, bPub, int64(punishTimelock))
	if err != nil {
		return nil, nil, err
	}
	pkScript, err = witnessScriptHash(redeemScript)
	if err != nil {
		return nil, nil, err
	}
	return redeemScript, pkScript, nil
}

// SetRelativeTimelock encodes relativeBlocks as a BIP-68 block-based
// relative locktime sequence number on in's nth input, required on any
// transaction spending a CHECKSEQUENCEVERIFY output.
func SetRelativeTimelock(tx *wire.MsgTx, inputIndex int, relativeBlocks uint32) {
	tx.TxIn[inputIndex].Sequence = relativeBlocks & 0x0000ffff
	tx.Version = 2 // BIP-68/112 require version >= 2
}

// MultiSigWitness builds the witness stack for spending a plain 2-of-2
// P2WSH output (TxLock), ordering the two signatures to match the
// lexicographic pubkey order multiSigScript used.
func MultiSigWitness(redeemScript []byte, aPub, bPub *btcec.PublicKey, sigA, sigB []byte) wire.TxWitness {
	return append(wire.TxWitness{nil}, multiSigWitnessMiddle(aPub, bPub, sigA, sigB, redeemScript)...)
}

// CancelOutputWitness builds the witness stack for spending TxCancel's
// branching output: selectPunishBranch must be true for TxPunish (taking the
// CHECKSEQUENCEVERIFY-gated IF branch) and false for TxRefund (skipping the
// IF branch, so no relative timelock applies) (spec §4.2).
func CancelOutputWitness(
	redeemScript []byte,
	aPub, bPub *btcec.PublicKey,
	sigA, sigB []byte,
	selectPunishBranch bool,
) wire.TxWitness {
	witness := append(wire.TxWitness{nil}, multiSigWitnessMiddle(aPub, bPub, sigA, sigB, redeemScript)...)
	flag := []byte{}
	if selectPunishBranch {
		flag = []byte{1}
	}
	// Insert the IF-selector just before the trailing redeem script, which
	// multiSigWitnessMiddle already appended last.
	witness = append(witness[:len(witness)-1], flag, redeemScript)
	return witness
}

func multiSigWitnessMiddle(aPub, bPub *btcec.PublicKey, sigA, sigB, redeemScript []byte) wire.TxWitness {
	a, b := PubKeyBytes(aPub), PubKeyBytes(bPub)
	witness := make(wire.TxWitness, 3)
	if bytes.Compare(a, b) > 0 {
		witness[0] = sigB
		witness[1] = sigA
	} else {
		witness[0] = sigA
		witness[1] = sigB
	}
	witness[2] = redeemScript
	return witness
}
