package bitcoin

import (
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
)

// ErrInsufficientInputs is returned when the supplied inputs don't cover
// amount+fee.
var ErrInsufficientInputs = errors.New("bitcoin: inputs do not cover amount plus fee")

// LockTxParams are the deterministic inputs to BuildTxLock (spec §4.2).
type LockTxParams struct {
	TakerPub, MakerPub *btcec.PublicKey
	Amount             int64 // satoshi, excludes fee
	Fee                int64
	Inputs             []*wire.OutPoint
	InputValues        []int64 // parallel to Inputs
	ChangePkScript     []byte  // taker's change output, nil if no change
}

// BuildTxLock constructs the unsigned TxLock: funds the 2-of-2(taker,maker)
// output with amount+fee from the taker's wallet inputs, plus an optional
// change output back to the taker.
func BuildTxLock(p *LockTxParams) (tx *wire.MsgTx, redeemScript, pkScript []byte, err error) {
	redeemScript, pkScript, err = MultiSigOutputScript(p.TakerPub, p.MakerPub)
	if err != nil {
		return nil, nil, nil, err
	}

	var total int64
	tx = wire.NewMsgTx(2)
	for i, op := range p.Inputs {
		tx.AddTxIn(wire.NewTxIn(op, nil, nil))
		total += p.InputValues[i]
	}

	if total < p.Amount+p.Fee {
		return nil, nil, nil, ErrInsufficientInputs
	}

	tx.AddTxOut(wire.NewTxOut(p.Amount, pkScript))

	change := total - p.Amount - p.Fee
	if change > 0 && p.ChangePkScript != nil {
		tx.AddTxOut(wire.NewTxOut(change, p.ChangePkScript))
	}

	return tx, redeemScript, pkScript, nil
}
