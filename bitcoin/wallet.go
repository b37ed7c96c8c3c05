package bitcoin

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// WalletClient is the black-box Bitcoin wallet the swap protocol treats as
// an external collaborator (spec §1): broadcast, subscribe, balance,
// watch_script, build_signed_tx. Concrete implementations talk to an
// Electrum-protocol server or a full node's RPC; none is bundled here.
type WalletClient interface {
	// NewChangeAddress returns a fresh P2WPKH address owned by this wallet,
	// used as TxLock's change output and the taker's final redeem/refund
	// destination.
	NewChangeAddress(ctx context.Context) (btcutil.Address, error)

	// SelectUnspent returns unspent outputs (and their values) this wallet
	// controls, covering at least amount satoshi.
	SelectUnspent(ctx context.Context, amount int64) ([]*wire.OutPoint, []int64, error)

	// SignP2WPKH signs a plain wallet-owned input (used to fund TxLock).
	SignP2WPKH(ctx context.Context, tx *wire.MsgTx, inputIndex int, amount int64) error

	// Broadcast submits tx to the network. Broadcasting the same
	// transaction twice must be a no-op (spec §8, idempotent re-broadcast).
	Broadcast(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error)

	// GetBlockHeight returns the current best chain height.
	GetBlockHeight(ctx context.Context) (uint32, error)

	// GetConfirmations returns how many confirmations txid has, or 0 if
	// unconfirmed/unknown.
	GetConfirmations(ctx context.Context, txid chainhash.Hash) (uint32, error)

	// FindSpendingTx returns the transaction that spends outpoint, once one
	// appears on-chain, or nil if it is still unspent.
	FindSpendingTx(ctx context.Context, outpoint wire.OutPoint) (*wire.MsgTx, error)
}
