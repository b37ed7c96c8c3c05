// Package watcher implements the timelock and confirmation monitors spec
// §4.5 requires: long-running, re-org-aware observers that resolve "first
// of N events" races between a tx confirming, a cancel-timelock expiring,
// and a punish-timelock expiring.
package watcher

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	logging "github.com/ipfs/go-log"
)

var log = logging.Logger("watcher")

// ErrReorged is returned by the Monitor's spend confirmation when a
// previously seen spend was withdrawn by a chain reorganisation before
// reaching confirmation depth. WaitAnySpendOf handles it by re-watching
// rather than returning it, so consumers only see a fully-confirmed result
// (spec §4.5).
var ErrReorged = errors.New("watcher: observed event was reorged out")

// SpendKind identifies which of the known spending transactions an
// observed spend of a 2-of-2 output turned out to be.
type SpendKind byte

const (
	SpendUnknown SpendKind = iota
	SpendRedeem
	SpendCancel
	SpendRefund
	SpendEarlyRefund
	SpendPunish
)

// SpendEvent is delivered by WaitAnySpendOf once a watched outpoint is spent.
type SpendEvent struct {
	Kind SpendKind
	Tx   *wire.MsgTx
}

// ChainNotifier is the minimal black-box chain-observation interface the
// watchers are built on (spec §1 treats chain wallets as black boxes
// exposing "subscribe", "broadcast", etc.; ChainNotifier is the read-only
// subscription half of that contract).
type ChainNotifier interface {
	// BestHeight returns the current best chain height.
	BestHeight(ctx context.Context) (uint32, error)

	// GetConfirmations returns how many confirmations txid currently has on
	// the best chain, or 0 if unconfirmed/unknown.
	GetConfirmations(ctx context.Context, txid chainhash.Hash) (uint32, error)

	// Subscribe blocks until either a new block arrives or ctx is
	// cancelled, returning the new best height. Used as the monitor's tick
	// source instead of a fixed poll interval.
	Subscribe(ctx context.Context) (uint32, error)

	// FindSpendingTx returns the transaction spending outpoint, once one
	// appears on the best chain, or nil if still unspent.
	FindSpendingTx(ctx context.Context, outpoint wire.OutPoint) (*wire.MsgTx, error)

	// ClassifySpend inspects a transaction that spends a TxLock or
	// TxCancel output and identifies which of the known scripts it
	// matches (redeem/cancel/refund/early-refund/punish).
	ClassifySpend(tx *wire.MsgTx, spentOutpoint wire.OutPoint) SpendKind
}
