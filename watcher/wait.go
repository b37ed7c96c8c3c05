package watcher

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// spendConfirmDepth is how many confirmations an observed spend must reach
// before WaitAnySpendOf trusts it. A spend seen at the tip can still be
// reorged out; waiting this deep before acting on it keeps a withdrawn spend
// from driving an irreversible decision (spec §4.5).
const spendConfirmDepth = 3

// Monitor resolves timelock and confirmation races for a single swap's
// Bitcoin-side outputs, given the height TxLock confirmed at (spec §4.5).
type Monitor struct {
	notifier ChainNotifier

	txLockHeight   uint32
	cancelTimelock uint32
	punishTimelock uint32
}

// NewMonitor constructs a Monitor for a swap whose TxLock confirmed at
// txLockHeight.
func NewMonitor(notifier ChainNotifier, txLockHeight, cancelTimelock, punishTimelock uint32) *Monitor {
	return &Monitor{
		notifier:       notifier,
		txLockHeight:   txLockHeight,
		cancelTimelock: cancelTimelock,
		punishTimelock: punishTimelock,
	}
}

// WaitCancelExpired resolves once the chain tip reaches
// txLockHeight + cancelTimelock.
func (m *Monitor) WaitCancelExpired(ctx context.Context) error {
	target := m.txLockHeight + m.cancelTimelock
	return m.waitForHeight(ctx, target)
}

// WaitPunishExpired resolves once TxCancel's confirmation height +
// punishTimelock <= tip. txCancelHeight is supplied by the caller at call
// time since TxCancel may not have existed when the Monitor was built.
func (m *Monitor) WaitPunishExpired(ctx context.Context, txCancelHeight uint32) error {
	target := txCancelHeight + m.punishTimelock
	return m.waitForHeight(ctx, target)
}

func (m *Monitor) waitForHeight(ctx context.Context, target uint32) error {
	height, err := m.notifier.BestHeight(ctx)
	if err != nil {
		return err
	}
	for height < target {
		log.Debugf("waiting for chain height %d, currently at %d", target, height)
		height, err = m.notifier.Subscribe(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

// WaitTxConfirmed resolves once txid has at least depth confirmations on
// the best chain, re-checking after every new block so a result withdrawn
// by a re-org is never trusted past its next re-check (spec §4.5).
func (m *Monitor) WaitTxConfirmed(ctx context.Context, txid chainhash.Hash, depth uint32) error {
	for {
		confs, err := m.notifier.GetConfirmations(ctx, txid)
		if err != nil {
			return err
		}
		if confs >= depth {
			return nil
		}
		if _, err := m.notifier.Subscribe(ctx); err != nil {
			return err
		}
	}
}

// WaitAnySpendOf resolves with the transaction that spends outpoint and its
// classified kind (redeem vs cancel vs early-refund vs punish), determined
// by script inspection, once that spend has reached spendConfirmDepth
// confirmations (spec §4.5). A spend that gets reorged out before reaching
// that depth is never returned; the wait resumes instead of trusting it.
func (m *Monitor) WaitAnySpendOf(ctx context.Context, outpoint wire.OutPoint) (*SpendEvent, error) {
	for {
		ev, err := m.waitForFirstSpend(ctx, outpoint)
		if err != nil {
			return nil, err
		}

		confirmed, err := m.confirmSpend(ctx, outpoint, ev)
		if errors.Is(err, ErrReorged) {
			log.Warnf("spend of %s:%d was reorged out before confirming, re-watching", outpoint.Hash, outpoint.Index)
			continue
		}
		if err != nil {
			return nil, err
		}
		return confirmed, nil
	}
}

// waitForFirstSpend blocks until some transaction first spends outpoint,
// without regard to its confirmation depth.
func (m *Monitor) waitForFirstSpend(ctx context.Context, outpoint wire.OutPoint) (*SpendEvent, error) {
	for {
		tx, err := m.notifier.FindSpendingTx(ctx, outpoint)
		if err != nil {
			return nil, err
		}
		if tx != nil {
			return &SpendEvent{
				Kind: m.notifier.ClassifySpend(tx, outpoint),
				Tx:   tx,
			}, nil
		}
		if _, err := m.notifier.Subscribe(ctx); err != nil {
			return nil, err
		}
	}
}

// confirmSpend waits for ev's transaction to reach spendConfirmDepth
// confirmations, re-checking outpoint's spending transaction on every new
// block. If that transaction disappears or is replaced by a different one
// before reaching that depth, confirmSpend returns ErrReorged rather than
// the stale SpendEvent.
func (m *Monitor) confirmSpend(ctx context.Context, outpoint wire.OutPoint, ev *SpendEvent) (*SpendEvent, error) {
	txid := ev.Tx.TxHash()
	for {
		confs, err := m.notifier.GetConfirmations(ctx, txid)
		if err != nil {
			return nil, err
		}
		if confs >= spendConfirmDepth {
			return ev, nil
		}

		if _, err := m.notifier.Subscribe(ctx); err != nil {
			return nil, err
		}

		tx, err := m.notifier.FindSpendingTx(ctx, outpoint)
		if err != nil {
			return nil, err
		}
		if tx == nil || tx.TxHash() != txid {
			return nil, ErrReorged
		}
	}
}
