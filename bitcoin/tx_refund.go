package bitcoin

import "github.com/btcsuite/btcd/wire"

// BuildTxRefund constructs the unsigned TxRefund: spends TxCancel to the
// taker. Requires both parties' signatures (spec §4.2) and is only valid
// once the TxCancel output is confirmed — it carries no relative timelock
// of its own, unlike TxPunish.
func BuildTxRefund(p *SpendTxParams) *wire.MsgTx {
	return buildSpendTx(p)
}
