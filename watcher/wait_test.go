package watcher

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// fakeNotifier is a scripted ChainNotifier: each call to Subscribe advances
// to the next height in heights and bumps every tracked txid's
// confirmation count by one, simulating a new block confirming everything
// still pending.
type fakeNotifier struct {
	heights []uint32
	idx     int
	confs   map[chainhash.Hash]uint32
	spendTx *wire.MsgTx
	spendOf wire.OutPoint
	kind    SpendKind
}

func (f *fakeNotifier) BestHeight(_ context.Context) (uint32, error) {
	return f.heights[f.idx], nil
}

func (f *fakeNotifier) GetConfirmations(_ context.Context, txid chainhash.Hash) (uint32, error) {
	return f.confs[txid], nil
}

func (f *fakeNotifier) Subscribe(ctx context.Context) (uint32, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	if f.idx < len(f.heights)-1 {
		f.idx++
	}
	for txid := range f.confs {
		f.confs[txid]++
	}
	return f.heights[f.idx], nil
}

func (f *fakeNotifier) FindSpendingTx(_ context.Context, outpoint wire.OutPoint) (*wire.MsgTx, error) {
	if outpoint == f.spendOf {
		return f.spendTx, nil
	}
	return nil, nil
}

func (f *fakeNotifier) ClassifySpend(_ *wire.MsgTx, _ wire.OutPoint) SpendKind {
	return f.kind
}

func TestWaitCancelExpired(t *testing.T) {
	notifier := &fakeNotifier{heights: []uint32{100, 105, 110, 144}}
	m := NewMonitor(notifier, 100, 44, 144)

	err := m.WaitCancelExpired(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(144), notifier.heights[notifier.idx])
}

func TestWaitCancelExpiredContextCancelled(t *testing.T) {
	notifier := &fakeNotifier{heights: []uint32{100}}
	m := NewMonitor(notifier, 100, 44, 144)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.WaitCancelExpired(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWaitTxConfirmed(t *testing.T) {
	txid := chainhash.Hash{0x01}
	notifier := &fakeNotifier{
		heights: []uint32{1, 2, 3, 4},
		confs:   map[chainhash.Hash]uint32{txid: 0},
	}
	m := NewMonitor(notifier, 0, 44, 144)

	err := m.WaitTxConfirmed(context.Background(), txid, 3)
	require.NoError(t, err)
	require.GreaterOrEqual(t, notifier.confs[txid], uint32(3))
}

func TestWaitAnySpendOf(t *testing.T) {
	outpoint := wire.OutPoint{Index: 0}
	tx := wire.NewMsgTx(2)
	notifier := &fakeNotifier{
		heights: []uint32{1},
		confs:   map[chainhash.Hash]uint32{tx.TxHash(): 0},
		spendTx: tx,
		spendOf: outpoint,
		kind:    SpendRedeem,
	}
	m := NewMonitor(notifier, 0, 44, 144)

	ev, err := m.WaitAnySpendOf(context.Background(), outpoint)
	require.NoError(t, err)
	require.Equal(t, SpendRedeem, ev.Kind)
	require.Same(t, tx, ev.Tx)
}
