package bitcoin

import "github.com/btcsuite/btcd/wire"

// BuildTxPunish constructs the unsigned TxPunish: spends TxCancel to the
// maker once punish_timelock blocks have passed since TxCancel confirmed.
// The relative timelock is encoded in TxCancel's redeem script
// (CHECKSEQUENCEVERIFY); here we only need to set the matching sequence
// number on this spending input, per BIP-68 (spec §4.2).
func BuildTxPunish(p *SpendTxParams, punishTimelock uint32) *wire.MsgTx {
	tx := buildSpendTx(p)
	SetRelativeTimelock(tx, 0, punishTimelock)
	return tx
}
