package bitcoin

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
)

// CancelTxParams are the deterministic inputs to BuildTxCancel.
type CancelTxParams struct {
	TxLockOutPoint    *wire.OutPoint
	TxLockValue       int64
	TxLockRedeemScript []byte
	TakerPub, MakerPub *btcec.PublicKey
	PunishTimelock    uint32
	Fee               int64
}

// BuildTxCancel constructs the unsigned TxCancel: spends TxLock to a fresh
// 2-of-2(taker,maker) output whose redeem script additionally CSV-gates
// spending by punish_timelock blocks, opening the TxPunish branch (spec
// §4.2). TxCancel itself carries no relative timelock of its own — it
// becomes spendable once cancel_timelock has passed, which is enforced by
// the driver waiting on the watcher rather than by the script, since
// cancel_timelock is measured from TxLock confirmation, which only the
// off-chain state machine (not TxCancel's own inputs) can observe.
func BuildTxCancel(p *CancelTxParams) (tx *wire.MsgTx, redeemScript, pkScript []byte, err error) {
	redeemScript, pkScript, err = CSVMultiSigOutputScript(p.TakerPub, p.MakerPub, p.PunishTimelock)
	if err != nil {
		return nil, nil, nil, err
	}

	tx = wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(p.TxLockOutPoint, nil, nil))
	tx.AddTxOut(wire.NewTxOut(p.TxLockValue-p.Fee, pkScript))

	return tx, redeemScript, pkScript, nil
}
