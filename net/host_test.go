package net

import (
	"context"
	"path"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	logging "github.com/ipfs/go-log"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/monero-btc-swap/swapd/common/types"
	"github.com/monero-btc-swap/swapd/net/message"
)

func init() {
	logging.SetLogLevel("net", "debug")
}

var testID = types.SwapID{99}

type mockQuoteHandler struct {
	t  *testing.T
	id types.SwapID
}

func (h *mockQuoteHandler) GetQuote() (*message.QuoteResponse, error) {
	return &message.QuoteResponse{
		Quote: &types.BidQuote{
			Price:       apd.New(1, 0),
			MinQuantity: apd.New(1, -1),
			MaxQuantity: apd.New(10, 0),
		},
	}, nil
}

func (h *mockQuoteHandler) HandleInitiateMessage(_ peer.ID, msg *message.SendKeysMessage) (SwapState, Message, error) {
	if h.id != (types.SwapID{}) {
		return &mockSwapState{h.id}, msg, nil
	}
	return &mockSwapState{testID}, msg, nil
}

type mockCooperativeHandler struct{}

func (h *mockCooperativeHandler) HandleCooperativeXMRRedeemRequest(
	req *message.CooperativeXMRRedeemRequest,
) (Message, error) {
	return &message.CooperativeXMRRedeemRejected{SwapID: req.SwapID, Reason: "no such swap"}, nil
}

type mockSwapState struct {
	id types.SwapID
}

func (s *mockSwapState) ID() types.SwapID { return s.id }

func (s *mockSwapState) HandleProtocolMessage(_ Message) error { return nil }

func (s *mockSwapState) Exit() error { return nil }

func basicTestConfig(t *testing.T) *Config {
	// t.TempDir() is unique on every call. Don't reuse this config with multiple hosts.
	tmpDir := t.TempDir()
	return &Config{
		Ctx:        context.Background(),
		DataDir:    tmpDir,
		Port:       0, // OS randomized libp2p port
		KeyFile:    path.Join(tmpDir, "node.key"),
		Bootnodes:  nil,
		ProtocolID: "/testid",
		ListenIP:   "127.0.0.1",
	}
}

func newHost(t *testing.T, cfg *Config) *Host {
	h, err := NewHost(cfg)
	require.NoError(t, err)
	h.SetHandlers(&mockQuoteHandler{t: t}, &mockCooperativeHandler{})
	t.Cleanup(func() {
		err = h.Stop()
		require.NoError(t, err)
	})
	return h
}

func TestHost_QueryPeer(t *testing.T) {
	a := newHost(t, basicTestConfig(t))
	b := newHost(t, basicTestConfig(t))

	addrs := a.Addrs()
	require.NotEmpty(t, addrs)
	peerAddr := addrs[0].String() + "/p2p/" + a.PeerID().String()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, b.connect(peerAddr))

	resp, err := b.QueryPeer(ctx, a.PeerID())
	require.NoError(t, err)
	require.NotNil(t, resp)
}
