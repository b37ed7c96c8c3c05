package bitcoin

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
)

// SpendTxParams are the common inputs to transactions that spend a single
// known 2-of-2 P2WSH output (TxRedeem, TxRefund, TxEarlyRefund and TxPunish
// all share this shape; TxCancel is built from CancelTxParams).
type SpendTxParams struct {
	PrevOut      *wire.OutPoint
	PrevValue    int64
	RedeemScript []byte
	DestPkScript []byte
	Fee          int64
}

// BuildTxRedeem constructs the unsigned TxRedeem: spends TxLock's output to
// the maker. Adaptor-signable with knowledge of the XMR spend secret as the
// encryption key for the maker's signature share (spec §4.2, §4.3).
func BuildTxRedeem(p *SpendTxParams) *wire.MsgTx {
	return buildSpendTx(p)
}

// BuildTxEarlyRefund constructs the unsigned TxEarlyRefund: spends TxLock
// directly back to the taker, requiring a signature the maker grants
// cooperatively before BTC is even locked (spec §4.2, §4.7).
func BuildTxEarlyRefund(p *SpendTxParams) *wire.MsgTx {
	return buildSpendTx(p)
}

func buildSpendTx(p *SpendTxParams) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(p.PrevOut, nil, nil))
	tx.AddTxOut(wire.NewTxOut(p.PrevValue-p.Fee, p.DestPkScript))
	return tx
}

// PubKeysFor is a small convenience used by callers that only have raw
// compressed pubkey bytes on hand (e.g. deserialised from a wire message).
func PubKeysFor(a, b []byte) (*btcec.PublicKey, *btcec.PublicKey, error) {
	aPub, err := btcec.ParsePubKey(a)
	if err != nil {
		return nil, nil, err
	}
	bPub, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, nil, err
	}
	return aPub, bPub, nil
}
