package txsender

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

type fakeWalletClient struct {
	broadcastErr error
}

func (f *fakeWalletClient) NewChangeAddress(context.Context) (btcutil.Address, error) { return nil, nil }
func (f *fakeWalletClient) SelectUnspent(context.Context, int64) ([]*wire.OutPoint, []int64, error) {
	return nil, nil, nil
}
func (f *fakeWalletClient) SignP2WPKH(context.Context, *wire.MsgTx, int, int64) error { return nil }
func (f *fakeWalletClient) Broadcast(_ context.Context, tx *wire.MsgTx) (chainhash.Hash, error) {
	if f.broadcastErr != nil {
		return chainhash.Hash{}, f.broadcastErr
	}
	return tx.TxHash(), nil
}
func (f *fakeWalletClient) GetBlockHeight(context.Context) (uint32, error) { return 0, nil }
func (f *fakeWalletClient) GetConfirmations(context.Context, chainhash.Hash) (uint32, error) {
	return 0, nil
}
func (f *fakeWalletClient) FindSpendingTx(context.Context, wire.OutPoint) (*wire.MsgTx, error) {
	return nil, nil
}

func TestSendBroadcastsSuccessfully(t *testing.T) {
	client := &fakeWalletClient{}
	s := NewSender(client)

	tx := wire.NewMsgTx(2)
	txid, err := s.Send(context.Background(), tx)
	require.NoError(t, err)
	require.Equal(t, tx.TxHash(), txid)
}

func TestSendTreatsAlreadyKnownAsSuccess(t *testing.T) {
	client := &fakeWalletClient{broadcastErr: errors.New("transaction already exists in mempool")}
	s := NewSender(client)

	tx := wire.NewMsgTx(2)
	txid, err := s.Send(context.Background(), tx)
	require.NoError(t, err)
	require.Equal(t, tx.TxHash(), txid)
}

func TestSendPropagatesOtherErrors(t *testing.T) {
	client := &fakeWalletClient{broadcastErr: errors.New("insufficient fee")}
	s := NewSender(client)

	_, err := s.Send(context.Background(), wire.NewMsgTx(2))
	require.Error(t, err)
}
