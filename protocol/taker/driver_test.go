package taker

import (
	"context"
	"crypto/rand"
	"path"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/cockroachdb/apd/v3"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/monero-btc-swap/swapd/bitcoin"
	"github.com/monero-btc-swap/swapd/common"
	"github.com/monero-btc-swap/swapd/common/types"
	"github.com/monero-btc-swap/swapd/crypto/adaptor"
	mcrypto "github.com/monero-btc-swap/swapd/crypto/monero"
	"github.com/monero-btc-swap/swapd/crypto/secp256k1"
	"github.com/monero-btc-swap/swapd/db"
	"github.com/monero-btc-swap/swapd/monero"
	"github.com/monero-btc-swap/swapd/net"
	"github.com/monero-btc-swap/swapd/protocol"
	"github.com/monero-btc-swap/swapd/protocol/swap"
	"github.com/monero-btc-swap/swapd/protocol/txsender"
	"github.com/monero-btc-swap/swapd/watcher"
)

// fakeSender is a scripted txsender.Sender mirroring protocol/maker's test
// double: each package keeps its own copy rather than sharing one, matching
// how this codebase keeps per-package fakes next to the tests that use them.
type fakeSender struct {
	sendFunc func(tx *wire.MsgTx) (chainhash.Hash, error)
	calls    int
}

func (f *fakeSender) Send(_ context.Context, tx *wire.MsgTx) (chainhash.Hash, error) {
	f.calls++
	if f.sendFunc != nil {
		return f.sendFunc(tx)
	}
	return tx.TxHash(), nil
}

var _ txsender.Sender = (*fakeSender)(nil)

// fakeNotifier is a scripted watcher.ChainNotifier with confirmation counts
// set directly, so a wait never needs to tick through Subscribe to converge.
type fakeNotifier struct {
	bestHeight uint32
	confs      map[chainhash.Hash]uint32
	spends     map[wire.OutPoint]*wire.MsgTx
	kinds      map[wire.OutPoint]watcher.SpendKind
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		confs:  make(map[chainhash.Hash]uint32),
		spends: make(map[wire.OutPoint]*wire.MsgTx),
		kinds:  make(map[wire.OutPoint]watcher.SpendKind),
	}
}

func (f *fakeNotifier) BestHeight(_ context.Context) (uint32, error) { return f.bestHeight, nil }

func (f *fakeNotifier) GetConfirmations(_ context.Context, txid chainhash.Hash) (uint32, error) {
	return f.confs[txid], nil
}

func (f *fakeNotifier) Subscribe(ctx context.Context) (uint32, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	f.bestHeight++
	return f.bestHeight, nil
}

func (f *fakeNotifier) FindSpendingTx(_ context.Context, outpoint wire.OutPoint) (*wire.MsgTx, error) {
	return f.spends[outpoint], nil
}

func (f *fakeNotifier) ClassifySpend(_ *wire.MsgTx, outpoint wire.OutPoint) watcher.SpendKind {
	return f.kinds[outpoint]
}

var _ watcher.ChainNotifier = (*fakeNotifier)(nil)

// fakeManager is a minimal swap.Manager recording completion calls.
type fakeManager struct {
	completes int
}

func (m *fakeManager) AddSwap(_ *swap.Info) error          { return nil }
func (m *fakeManager) WriteSwapToDB(_ *swap.Info) error    { return nil }
func (m *fakeManager) GetPastIDs() ([]types.SwapID, error) { return nil, nil }
func (m *fakeManager) GetPastSwap(types.SwapID) (*swap.Info, error) {
	return nil, common.ErrNotFound
}
func (m *fakeManager) GetOngoingSwap(types.SwapID) (swap.Info, error) { return swap.Info{}, nil }
func (m *fakeManager) GetOngoingSwaps() ([]*swap.Info, error)         { return nil, nil }
func (m *fakeManager) CompleteOngoingSwap(_ *swap.Info) error         { m.completes++; return nil }
func (m *fakeManager) HasOngoingSwap(types.SwapID) bool               { return false }

var _ swap.Manager = (*fakeManager)(nil)

// fakeXMRClient reports an already-unlocked balance so protocol.ClaimMonero
// (via monero.SweepToAddress) finishes without a real wallet-rpc daemon.
type fakeXMRClient struct{}

func (fakeXMRClient) GetHeight(context.Context) (uint64, error) { return 0, nil }
func (fakeXMRClient) GetBalance(context.Context) (uint64, uint64, error) {
	return 1, 1, nil
}
func (fakeXMRClient) GenerateFromKeys(context.Context, *mcrypto.PrivateKeyPair, string, string, uint64) error {
	return nil
}
func (fakeXMRClient) SweepAll(context.Context, string) ([]string, error) {
	return []string{"fake-sweep-txid"}, nil
}
func (fakeXMRClient) Transfer(context.Context, string, uint64) (string, error) {
	return "fake-transfer-txid", nil
}
func (fakeXMRClient) Refresh(context.Context) error { return nil }
func (fakeXMRClient) Close(context.Context) error   { return nil }

var _ monero.WalletClient = fakeXMRClient{}

// testBackend implements backend.Backend with every dependency wired to a
// fake, mirroring protocol/maker's test double of the same name.
type testBackend struct {
	ctx            context.Context
	env            common.Environment
	btcClient      bitcoin.WalletClient
	xmrClient      monero.WalletClient
	chainNotifier  watcher.ChainNotifier
	sender         txsender.Sender
	net            *net.Host
	swapManager    swap.Manager
	cancelTimelock uint32
	punishTimelock uint32
}

func (b *testBackend) Ctx() context.Context                { return b.ctx }
func (b *testBackend) Env() common.Environment              { return b.env }
func (b *testBackend) BTCClient() bitcoin.WalletClient      { return b.btcClient }
func (b *testBackend) XMRClient() monero.WalletClient       { return b.xmrClient }
func (b *testBackend) ChainNotifier() watcher.ChainNotifier { return b.chainNotifier }
func (b *testBackend) Sender() txsender.Sender              { return b.sender }
func (b *testBackend) Net() *net.Host                       { return b.net }
func (b *testBackend) SwapManager() swap.Manager            { return b.swapManager }
func (b *testBackend) SwapDB() db.Database                  { return nil }
func (b *testBackend) CancelTimelock() uint32               { return b.cancelTimelock }
func (b *testBackend) PunishTimelock() uint32                { return b.punishTimelock }

// newTestHost starts a real libp2p host on an OS-assigned loopback port, the
// pattern the net package's own tests use.
func newTestHost(t *testing.T) *net.Host {
	t.Helper()
	tmpDir := t.TempDir()
	h, err := net.NewHost(&net.Config{
		Ctx:        context.Background(),
		DataDir:    tmpDir,
		Port:       0,
		KeyFile:    path.Join(tmpDir, "node.key"),
		ProtocolID: "/swapd-test/1",
		ListenIP:   "127.0.0.1",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Stop() })
	return h
}

func testPeerID(t *testing.T) peer.ID {
	t.Helper()
	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	id, err := peer.IDFromPrivateKey(priv)
	require.NoError(t, err)
	return id
}

func newTestInfo(t *testing.T, status types.Status, btcAmount int64) *swap.Info {
	t.Helper()
	xmrAmount, _, err := apd.NewFromString("1.0")
	require.NoError(t, err)
	price, _, err := apd.NewFromString("0.006")
	require.NoError(t, err)
	id, err := types.NewSwapID()
	require.NoError(t, err)
	return swap.NewInfo(id, types.Taker, "peer", btcAmount, xmrAmount, price, status, make(chan types.Status, 16))
}

// cancelFixture builds a taker/maker secp256k1 keypair and a minimal
// TxCancel/TxRefund pair spending a fixed 2-of-2 output, the common setup
// every broadcastTxRefund test needs.
type cancelFixture struct {
	takerSecp            *secp256k1.PrivateKey
	makerSecp            *secp256k1.PrivateKey
	txCancel             *wire.MsgTx
	txCancelRedeemScript []byte
	txRefund             *wire.MsgTx
	cancelOutPoint       wire.OutPoint
}

func newCancelFixture(t *testing.T) *cancelFixture {
	t.Helper()
	takerSecp, err := secp256k1.GenerateKey()
	require.NoError(t, err)
	makerSecp, err := secp256k1.GenerateKey()
	require.NoError(t, err)

	const amount int64 = 100000
	const punishTimelock uint32 = 10

	txCancel, cancelRedeemScript, _, err := bitcoin.BuildTxCancel(&bitcoin.CancelTxParams{
		TxLockOutPoint: &wire.OutPoint{Index: 0},
		TxLockValue:    amount,
		TakerPub:       takerSecp.Public().Underlying(),
		MakerPub:       makerSecp.Public().Underlying(),
		PunishTimelock: punishTimelock,
		Fee:            1000,
	})
	require.NoError(t, err)

	cancelOutPoint := wire.OutPoint{Hash: txCancel.TxHash(), Index: 0}
	txRefund := bitcoin.BuildTxRefund(&bitcoin.SpendTxParams{
		PrevOut:      &cancelOutPoint,
		PrevValue:    txCancel.TxOut[0].Value,
		RedeemScript: cancelRedeemScript,
		DestPkScript: cancelRedeemScript,
		Fee:          1000,
	})

	return &cancelFixture{
		takerSecp:            takerSecp,
		makerSecp:            makerSecp,
		txCancel:             txCancel,
		txCancelRedeemScript: cancelRedeemScript,
		txRefund:             txRefund,
		cancelOutPoint:       cancelOutPoint,
	}
}

func TestBroadcastTxRefund_SignsOnlyOnce_SkipsResendWhenAlreadyPublished(t *testing.T) {
	cf := newCancelFixture(t)

	// Simulate a prior attempt that got all the way to a confirmed
	// broadcast: the witness is already set and status already reflects it.
	cf.txRefund.TxIn[0].Witness = bitcoin.CancelOutputWitness(
		cf.txCancelRedeemScript,
		cf.takerSecp.Public().Underlying(), cf.makerSecp.Public().Underlying(),
		[]byte{1}, []byte{2}, false,
	)

	notifier := newFakeNotifier()
	notifier.confs[cf.txRefund.TxHash()] = 10
	notifier.spends[cf.cancelOutPoint] = cf.txRefund
	notifier.kinds[cf.cancelOutPoint] = watcher.SpendRefund

	sender := &fakeSender{sendFunc: func(*wire.MsgTx) (chainhash.Hash, error) {
		t.Fatal("TxRefund must not be re-sent once already BTCRefundPublished")
		return chainhash.Hash{}, nil
	}}
	manager := &fakeManager{}
	b := &testBackend{
		ctx:           context.Background(),
		sender:        sender,
		swapManager:   manager,
		net:           newTestHost(t),
		chainNotifier: notifier,
	}

	id, err := types.NewSwapID()
	require.NoError(t, err)
	s := &swapState{
		backend:              b,
		id:                   id,
		makerID:               testPeerID(t),
		info:                 newTestInfo(t, types.BTCRefundPublished, 100000),
		keys:                 &protocol.KeysAndProof{Secp256k1PublicKey: cf.takerSecp.Public()},
		takerSecp:            cf.takerSecp,
		makerSecp256k1Pub:    cf.makerSecp.Public(),
		txCancel:             cf.txCancel,
		txCancelRedeemScript: cf.txCancelRedeemScript,
		txRefund:             cf.txRefund,
		doneCh:               make(chan struct{}),
	}

	monitor := watcher.NewMonitor(notifier, 0, 10, 10)
	err = s.broadcastTxRefund(context.Background(), monitor)
	require.NoError(t, err)
	require.Equal(t, 0, sender.calls)
	require.Equal(t, 1, manager.completes)
	require.Equal(t, types.CompletedBTCRefunded, s.info.Status)
}

func TestBroadcastTxRefund_TransientSendFailure_DetectsPunishFallback(t *testing.T) {
	cf := newCancelFixture(t)

	punishTx := bitcoin.BuildTxPunish(&bitcoin.SpendTxParams{
		PrevOut:      &cf.cancelOutPoint,
		PrevValue:    cf.txCancel.TxOut[0].Value,
		RedeemScript: cf.txCancelRedeemScript,
		DestPkScript: cf.txCancelRedeemScript,
		Fee:          1000,
	}, 10)

	notifier := newFakeNotifier()
	notifier.spends[cf.cancelOutPoint] = punishTx
	notifier.kinds[cf.cancelOutPoint] = watcher.SpendPunish

	sender := &fakeSender{sendFunc: func(*wire.MsgTx) (chainhash.Hash, error) {
		return chainhash.Hash{}, errTransient
	}}
	manager := &fakeManager{}
	b := &testBackend{
		ctx:           context.Background(),
		sender:        sender,
		swapManager:   manager,
		net:           newTestHost(t),
		chainNotifier: notifier,
	}

	id, err := types.NewSwapID()
	require.NoError(t, err)
	s := &swapState{
		backend:              b,
		id:                   id,
		makerID:              testPeerID(t),
		info:                 newTestInfo(t, types.BTCCancelled, 100000),
		keys:                 &protocol.KeysAndProof{Secp256k1PublicKey: cf.takerSecp.Public()},
		takerSecp:            cf.takerSecp,
		makerSecp256k1Pub:    cf.makerSecp.Public(),
		makerTxRefundSig:     []byte{9},
		txCancel:             cf.txCancel,
		txCancelRedeemScript: cf.txCancelRedeemScript,
		txRefund:             cf.txRefund,
		doneCh:               make(chan struct{}),
	}

	monitor := watcher.NewMonitor(notifier, 0, 10, 10)
	err = s.broadcastTxRefund(context.Background(), monitor)
	require.NoError(t, err, "a Send failure that turns out to be a punish must resolve, not propagate a bare error")
	require.Equal(t, 1, sender.calls)
	require.Equal(t, 1, manager.completes)
	require.Equal(t, types.CompletedBTCPunished, s.info.Status)
}

// TestOnTxRedeemObserved_RecoversSecretAndFinishes exercises the full
// adaptor-signature round trip with real crypto: the taker encrypts a
// signature to the maker's secp256k1 point (whose discrete log, by the
// protocol's DLEQ binding, equals the maker's Monero spend-key share), the
// maker decrypts and broadcasts, and the taker recovers that spend-key share
// back out of the observed signature.
func TestOnTxRedeemObserved_RecoversSecretAndFinishes(t *testing.T) {
	takerSecp, err := secp256k1.GenerateKey()
	require.NoError(t, err)
	takerMoneroKP, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)

	// The maker's secp256k1 key must share a discrete log with its Monero
	// spend key share, exactly how protocol.GenerateKeysAndProof derives
	// one from the other, for the recovered secret to be a valid spend key.
	makerMoneroKP, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	var makerScalar [32]byte
	copy(makerScalar[:], makerMoneroKP.SpendKey().SpendKeyBytes())
	makerSecp := secp256k1.NewPrivateKeyFromScalar(makerScalar)

	redeemScript, _, err := bitcoin.MultiSigOutputScript(takerSecp.Public().Underlying(), makerSecp.Public().Underlying())
	require.NoError(t, err)

	const amount int64 = 100000
	txRedeem := bitcoin.BuildTxRedeem(&bitcoin.SpendTxParams{
		PrevOut:      &wire.OutPoint{Index: 0},
		PrevValue:    amount,
		RedeemScript: redeemScript,
		DestPkScript: redeemScript,
		Fee:          1000,
	})

	sigHash, err := bitcoin.WitnessSigHash(txRedeem, 0, redeemScript, amount)
	require.NoError(t, err)

	encSig, err := adaptor.EncSignECDSA(takerSecp, sigHash, makerSecp.Public())
	require.NoError(t, err)

	// The maker's side of the exchange: decrypt with its own key (recovering
	// nothing yet, since it already knows that key) and sign its own slot.
	takerSig := adaptor.DecryptECDSA(encSig, makerSecp)
	makerSigBytes, err := bitcoin.SignWitnessInput(txRedeem, 0, redeemScript, amount, makerSecp.Underlying())
	require.NoError(t, err)

	txRedeem.TxIn[0].Witness = bitcoin.MultiSigWitness(
		redeemScript,
		takerSecp.Public().Underlying(), makerSecp.Public().Underlying(),
		bitcoin.SerializeSignature(takerSig), makerSigBytes,
	)

	manager := &fakeManager{}
	b := &testBackend{
		ctx:         context.Background(),
		xmrClient:   fakeXMRClient{},
		swapManager: manager,
		net:         newTestHost(t),
		env:         common.Development,
	}

	id, err := types.NewSwapID()
	require.NoError(t, err)
	s := &swapState{
		backend: b,
		id:      id,
		makerID: testPeerID(t),
		info:    newTestInfo(t, types.EncSigSent, amount),
		keys: &protocol.KeysAndProof{
			Secp256k1PublicKey: takerSecp.Public(),
			PrivateKeyPair:     takerMoneroKP,
			PublicKeyPair:      takerMoneroKP.PublicKeyPair(),
		},
		takerSecp:           takerSecp,
		makerSecp256k1Pub:   makerSecp.Public(),
		makerPrivateViewKey: makerMoneroKP.ViewKey(),
		xmrDestAddr:         "claim-destination",
		encSig:              encSig,
		doneCh:              make(chan struct{}),
	}

	err = s.onTxRedeemObserved(context.Background(), txRedeem)
	require.NoError(t, err)
	require.Equal(t, 1, manager.completes)
	require.Equal(t, types.CompletedXMRRedeemed, s.info.Status)
}

var errTransient = &transientErr{}

type transientErr struct{}

func (*transientErr) Error() string { return "simulated transient I/O failure" }
