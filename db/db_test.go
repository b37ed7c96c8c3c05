package db

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/monero-btc-swap/swapd/common/types"
)

type testState struct {
	BTCAmount uint64 `json:"btcAmount"`
	Note      string `json:"note"`
}

func newTestDB(t *testing.T) Database {
	t.Helper()
	d, err := NewDatabase(t.TempDir(), ReadWrite)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestInsertAndGetState(t *testing.T) {
	d := newTestDB(t)
	id, err := types.NewSwapID()
	require.NoError(t, err)

	want := testState{BTCAmount: 100000, Note: "started"}
	require.NoError(t, d.InsertLatestState(id, types.Taker, want))

	var got testState
	role, err := d.GetState(id, &got)
	require.NoError(t, err)
	require.Equal(t, types.Taker, role)
	require.Equal(t, want, got)

	// overwrite with a newer state; GetState must return only the latest.
	want2 := testState{BTCAmount: 100000, Note: "btc_locked"}
	require.NoError(t, d.InsertLatestState(id, types.Taker, want2))

	var got2 testState
	_, err = d.GetState(id, &got2)
	require.NoError(t, err)
	require.Equal(t, want2, got2)
}

func TestGetStateNotFound(t *testing.T) {
	d := newTestDB(t)
	id, err := types.NewSwapID()
	require.NoError(t, err)

	var out testState
	_, err = d.GetState(id, &out)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAllSwaps(t *testing.T) {
	d := newTestDB(t)

	var ids []types.SwapID
	for i := 0; i < 3; i++ {
		id, err := types.NewSwapID()
		require.NoError(t, err)
		require.NoError(t, d.InsertLatestState(id, types.Maker, testState{BTCAmount: uint64(i)}))
		ids = append(ids, id)
	}

	all, err := d.AllSwaps()
	require.NoError(t, err)
	require.ElementsMatch(t, ids, all)
}

func TestPeerAndMoneroAddressSideTables(t *testing.T) {
	d := newTestDB(t)
	id, err := types.NewSwapID()
	require.NoError(t, err)

	_, err = d.GetPeer(id)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, d.SetPeer(id, "12D3KooWExamplePeerID"))
	peer, err := d.GetPeer(id)
	require.NoError(t, err)
	require.Equal(t, "12D3KooWExamplePeerID", peer)

	require.NoError(t, d.SetMoneroAddress(id, "4ExampleAddress"))
	addr, err := d.GetMoneroAddress(id)
	require.NoError(t, err)
	require.Equal(t, "4ExampleAddress", addr)
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	dataDir := t.TempDir()
	rw, err := NewDatabase(dataDir, ReadWrite)
	require.NoError(t, err)
	require.NoError(t, rw.Close())

	ro, err := NewDatabase(dataDir, ReadOnly)
	require.NoError(t, err)
	defer func() { _ = ro.Close() }()

	id, err := types.NewSwapID()
	require.NoError(t, err)
	err = ro.InsertLatestState(id, types.Taker, testState{})
	require.Error(t, err)
}
