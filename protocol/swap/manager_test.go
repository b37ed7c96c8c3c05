package swap

import (
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/require"

	"github.com/monero-btc-swap/swapd/common/types"
	"github.com/monero-btc-swap/swapd/db"
)

func newTestManager(t *testing.T) Manager {
	t.Helper()
	store, err := db.NewDatabase(t.TempDir(), db.ReadWrite)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	m, err := NewManager(store)
	require.NoError(t, err)
	return m
}

func newTestInfo(t *testing.T, status types.Status) *Info {
	t.Helper()
	id, err := types.NewSwapID()
	require.NoError(t, err)
	return NewInfo(id, types.Taker, "peer1", 100000, apd.New(1, -1), apd.New(200, 0), status, nil)
}

func TestAddAndGetOngoingSwap(t *testing.T) {
	m := newTestManager(t)
	info := newTestInfo(t, types.BTCLocked)

	require.NoError(t, m.AddSwap(info))
	require.True(t, m.HasOngoingSwap(info.SwapID))

	got, err := m.GetOngoingSwap(info.SwapID)
	require.NoError(t, err)
	require.Equal(t, info.SwapID, got.SwapID)
}

func TestCompleteOngoingSwap(t *testing.T) {
	m := newTestManager(t)
	info := newTestInfo(t, types.BTCLocked)
	require.NoError(t, m.AddSwap(info))

	info.Status = types.CompletedXMRRedeemed
	require.NoError(t, m.CompleteOngoingSwap(info))

	require.False(t, m.HasOngoingSwap(info.SwapID))
	past, err := m.GetPastSwap(info.SwapID)
	require.NoError(t, err)
	require.Equal(t, types.CompletedXMRRedeemed, past.Status)
}

func TestGetPastIDsIncludesCompleted(t *testing.T) {
	m := newTestManager(t)
	info := newTestInfo(t, types.BTCLocked)
	require.NoError(t, m.AddSwap(info))
	info.Status = types.CompletedBTCRefunded
	require.NoError(t, m.CompleteOngoingSwap(info))

	ids, err := m.GetPastIDs()
	require.NoError(t, err)
	require.Contains(t, ids, info.SwapID)
}

func TestNewManagerReloadsOngoingSwaps(t *testing.T) {
	store, err := db.NewDatabase(t.TempDir(), db.ReadWrite)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	m, err := NewManager(store)
	require.NoError(t, err)
	info := newTestInfo(t, types.XMRLocked)
	require.NoError(t, m.AddSwap(info))

	m2, err := NewManager(store)
	require.NoError(t, err)
	require.True(t, m2.HasOngoingSwap(info.SwapID))
}
