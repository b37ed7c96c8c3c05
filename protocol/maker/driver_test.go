package maker

import (
	"context"
	"crypto/rand"
	"path"
	"testing"
	"time"

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
	"github.com/monero-btc-swap/swapd/net/message"
	"github.com/monero-btc-swap/swapd/protocol"
	"github.com/monero-btc-swap/swapd/protocol/swap"
	"github.com/monero-btc-swap/swapd/protocol/txsender"
	"github.com/monero-btc-swap/swapd/watcher"
)

// fakeSender is a scripted txsender.Sender: sendFunc decides the outcome of
// every call, and every broadcast tx is recorded so a test can assert how
// many times (and which transactions) were actually sent.
type fakeSender struct {
	sendFunc func(tx *wire.MsgTx) (chainhash.Hash, error)
	calls    int
	sent     []*wire.MsgTx
}

func (f *fakeSender) Send(_ context.Context, tx *wire.MsgTx) (chainhash.Hash, error) {
	f.calls++
	f.sent = append(f.sent, tx)
	if f.sendFunc != nil {
		return f.sendFunc(tx)
	}
	return tx.TxHash(), nil
}

var _ txsender.Sender = (*fakeSender)(nil)

// fakeNotifier is a scripted watcher.ChainNotifier. Confirmation counts are
// set directly rather than advanced through Subscribe, so a test never
// depends on how many times WaitAnySpendOf's internal loop ticks.
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

// Subscribe advances bestHeight by one block on every call so a wait loop
// keyed on height (WaitCancelExpired, WaitPunishExpired) always converges
// instead of spinning forever against a fixed tip.
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

// fakeManager is a minimal swap.Manager recording every write so a test can
// assert persistence happened without standing up a real database.
type fakeManager struct {
	writes    int
	completes int
}

func (m *fakeManager) AddSwap(_ *swap.Info) error          { return nil }
func (m *fakeManager) WriteSwapToDB(_ *swap.Info) error    { m.writes++; return nil }
func (m *fakeManager) GetPastIDs() ([]types.SwapID, error) { return nil, nil }
func (m *fakeManager) GetPastSwap(types.SwapID) (*swap.Info, error) {
	return nil, common.ErrNotFound
}
func (m *fakeManager) GetOngoingSwap(types.SwapID) (swap.Info, error) { return swap.Info{}, nil }
func (m *fakeManager) GetOngoingSwaps() ([]*swap.Info, error)         { return nil, nil }
func (m *fakeManager) CompleteOngoingSwap(_ *swap.Info) error         { m.completes++; return nil }
func (m *fakeManager) HasOngoingSwap(types.SwapID) bool               { return false }

var _ swap.Manager = (*fakeManager)(nil)

// fakeXMRClient implements monero.WalletClient with an already-unlocked
// balance, enough for monero.SweepToAddress (via protocol.ClaimMonero) to
// run to completion without talking to a real wallet-rpc daemon.
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

// testBackend implements backend.Backend with every dependency a test needs
// to substitute wired in, mirroring the real backend's shape.
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
func (b *testBackend) PunishTimelock() uint32               { return b.punishTimelock }

// newTestHost starts a real libp2p host bound to an OS-assigned loopback
// port, the same pattern the net package's own tests use: RegisterSwap,
// DeregisterSwap, and a best-effort SendSwapMessage to an unreachable peer
// all work against a live host without needing an actual counterparty.
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
	return swap.NewInfo(id, types.Maker, "peer", btcAmount, xmrAmount, price, status, make(chan types.Status, 16))
}

// redeemFixture builds a taker/maker secp256k1 keypair and a minimal TxRedeem
// spending a fixed 2-of-2 output, the common setup every onEncryptedSignature
// test needs.
type redeemFixture struct {
	takerSecp    *secp256k1.PrivateKey
	makerSecp    *secp256k1.PrivateKey
	redeemScript []byte
	txRedeem     *wire.MsgTx
	sigHash      [32]byte
	amount       int64
}

func newRedeemFixture(t *testing.T) *redeemFixture {
	t.Helper()
	takerSecp, err := secp256k1.GenerateKey()
	require.NoError(t, err)
	makerSecp, err := secp256k1.GenerateKey()
	require.NoError(t, err)

	redeemScript, pkScript, err := bitcoin.MultiSigOutputScript(takerSecp.Public().Underlying(), makerSecp.Public().Underlying())
	require.NoError(t, err)

	const amount int64 = 100000
	txRedeem := bitcoin.BuildTxRedeem(&bitcoin.SpendTxParams{
		PrevOut:      &wire.OutPoint{Index: 0},
		PrevValue:    amount,
		RedeemScript: redeemScript,
		DestPkScript: pkScript,
		Fee:          1000,
	})

	sigHash, err := bitcoin.WitnessSigHash(txRedeem, 0, redeemScript, amount)
	require.NoError(t, err)

	return &redeemFixture{
		takerSecp:    takerSecp,
		makerSecp:    makerSecp,
		redeemScript: redeemScript,
		txRedeem:     txRedeem,
		sigHash:      sigHash,
		amount:       amount,
	}
}

func (rf *redeemFixture) newSwapState(t *testing.T, b *testBackend, status types.Status) *swapState {
	t.Helper()
	mkp, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	return &swapState{
		backend: b,
		id:      rf.mustID(t),
		takerID: testPeerID(t),
		info:    newTestInfo(t, status, rf.amount),
		keys: &protocol.KeysAndProof{
			Secp256k1PublicKey: rf.makerSecp.Public(),
			PrivateKeyPair:     mkp,
			PublicKeyPair:      mkp.PublicKeyPair(),
		},
		makerSecp:          rf.makerSecp,
		takerSecp256k1Pub:  rf.takerSecp.Public(),
		txRedeem:           rf.txRedeem,
		txLockRedeemScript: rf.redeemScript,
		takerCommitmentCh:  make(chan *message.SwapSetupCommitment, 1),
		btcLockedCh:        make(chan *message.NotifyBTCLocked, 1),
		encSigCh:           make(chan *message.EncryptedSignature, 1),
		doneCh:             make(chan struct{}),
	}
}

func (rf *redeemFixture) mustID(t *testing.T) types.SwapID {
	t.Helper()
	id, err := types.NewSwapID()
	require.NoError(t, err)
	return id
}

func TestOnEncryptedSignature_VerifyFailure_ClassifiesProtocolViolation(t *testing.T) {
	rf := newRedeemFixture(t)
	wrongKey, err := secp256k1.GenerateKey()
	require.NoError(t, err)

	// Signed by wrongKey but claimed (via takerSecp256k1Pub) to be the
	// taker's -- verification must reject it before it is ever decrypted
	// or broadcast.
	badEncSig, err := adaptor.EncSignECDSA(wrongKey, rf.sigHash, rf.makerSecp.Public())
	require.NoError(t, err)

	sender := &fakeSender{}
	manager := &fakeManager{}
	b := &testBackend{
		ctx:         context.Background(),
		sender:      sender,
		swapManager: manager,
		net:         newTestHost(t),
	}
	s := rf.newSwapState(t, b, types.XMRLocked)

	err = s.onEncryptedSignature(context.Background(), &message.EncryptedSignature{SwapID: s.id, EncSig: badEncSig}, nil)
	require.Error(t, err)
	require.Equal(t, common.KindProtocolViolation, common.KindOf(err))
	require.Equal(t, 0, sender.calls, "a signature that fails to verify must never be broadcast")
	require.Equal(t, badEncSig, s.encSig, "the signature is persisted before verification so a retry never needs it resent")
}

func TestOnEncryptedSignature_Success_BroadcastsAndFinishes(t *testing.T) {
	rf := newRedeemFixture(t)
	encSig, err := adaptor.EncSignECDSA(rf.takerSecp, rf.sigHash, rf.makerSecp.Public())
	require.NoError(t, err)

	sender := &fakeSender{}
	manager := &fakeManager{}
	b := &testBackend{
		ctx:         context.Background(),
		sender:      sender,
		swapManager: manager,
		net:         newTestHost(t),
	}
	s := rf.newSwapState(t, b, types.XMRLocked)

	err = s.onEncryptedSignature(context.Background(), &message.EncryptedSignature{SwapID: s.id, EncSig: encSig}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, sender.calls)
	require.Equal(t, 1, manager.completes)
	require.Equal(t, types.BTCRedeemed, s.info.Status)
}

func TestOnEncryptedSignature_BroadcastFailure_ClassifiesTransientIO(t *testing.T) {
	rf := newRedeemFixture(t)
	encSig, err := adaptor.EncSignECDSA(rf.takerSecp, rf.sigHash, rf.makerSecp.Public())
	require.NoError(t, err)

	sender := &fakeSender{sendFunc: func(*wire.MsgTx) (chainhash.Hash, error) {
		return chainhash.Hash{}, errTransient
	}}
	b := &testBackend{
		ctx:         context.Background(),
		sender:      sender,
		swapManager: &fakeManager{},
		net:         newTestHost(t),
	}
	s := rf.newSwapState(t, b, types.XMRLocked)

	err = s.onEncryptedSignature(context.Background(), &message.EncryptedSignature{SwapID: s.id, EncSig: encSig}, nil)
	require.Error(t, err)
	require.Equal(t, common.KindTransientIO, common.KindOf(err))
	require.Equal(t, encSig, s.encSig)
}

// TestResumeUntilDone_XMRLocked_WithPersistedEncSig_DoesNotBlockOnEncSigCh
// guards against a resumed (or TransientIO-retried) swap whose encSig was
// already received and persisted hanging forever waiting for the taker to
// resend something it has no reason to resend.
func TestResumeUntilDone_XMRLocked_WithPersistedEncSig_DoesNotBlockOnEncSigCh(t *testing.T) {
	rf := newRedeemFixture(t)
	encSig, err := adaptor.EncSignECDSA(rf.takerSecp, rf.sigHash, rf.makerSecp.Public())
	require.NoError(t, err)

	notifier := newFakeNotifier()
	notifier.bestHeight = 100
	lockHash := chainhash.Hash{0xAB}
	notifier.confs[lockHash] = 10

	sender := &fakeSender{}
	b := &testBackend{
		ctx:         context.Background(),
		sender:      sender,
		swapManager: &fakeManager{},
		net:         newTestHost(t),
		chainNotifier: notifier,
	}
	s := rf.newSwapState(t, b, types.XMRLocked)
	s.encSig = encSig
	s.txLockOutPoint = wire.OutPoint{Hash: lockHash, Index: 0}

	resultCh := make(chan error, 1)
	go func() { resultCh <- s.resumeUntilDone(context.Background()) }()

	select {
	case err := <-resultCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("resumeUntilDone blocked waiting for an encSig the taker had no reason to resend")
	}
	require.Equal(t, 1, sender.calls)
}

// TestOnCancelTimelockExpired_ResumeFromBTCCancelled_SkipsResendAndStatusRegression
// resumes a swap whose TxCancel was already broadcast and confirmed, and
// asserts it neither re-signs/re-sends TxCancel nor regresses info.Status
// back to CancelTimelockExpired before racing the punish window.
func TestOnCancelTimelockExpired_ResumeFromBTCCancelled_SkipsResendAndStatusRegression(t *testing.T) {
	takerSecp, err := secp256k1.GenerateKey()
	require.NoError(t, err)
	makerSecp, err := secp256k1.GenerateKey()
	require.NoError(t, err)

	redeemScript, _, err := bitcoin.MultiSigOutputScript(takerSecp.Public().Underlying(), makerSecp.Public().Underlying())
	require.NoError(t, err)

	const amount int64 = 100000
	txCancel := bitcoin.BuildTxRedeem(&bitcoin.SpendTxParams{
		PrevOut:      &wire.OutPoint{Index: 0},
		PrevValue:    amount,
		RedeemScript: redeemScript,
		DestPkScript: redeemScript,
		Fee:          1000,
	})
	// Simulate a prior attempt having already signed TxCancel.
	txCancel.TxIn[0].Witness = bitcoin.MultiSigWitness(redeemScript,
		takerSecp.Public().Underlying(), makerSecp.Public().Underlying(), []byte{1}, []byte{2})

	cancelRedeemScript, _, err := bitcoin.MultiSigOutputScript(takerSecp.Public().Underlying(), makerSecp.Public().Underlying())
	require.NoError(t, err)

	txCancelOutPoint := wire.OutPoint{Hash: txCancel.TxHash(), Index: 0}
	refundTx := bitcoin.BuildTxRedeem(&bitcoin.SpendTxParams{
		PrevOut:      &txCancelOutPoint,
		PrevValue:    txCancel.TxOut[0].Value,
		RedeemScript: cancelRedeemScript,
		DestPkScript: redeemScript,
		Fee:          1000,
	})

	notifier := newFakeNotifier()
	notifier.bestHeight = 1000
	notifier.confs[txCancel.TxHash()] = 10
	notifier.confs[refundTx.TxHash()] = 10
	notifier.spends[txCancelOutPoint] = refundTx
	notifier.kinds[txCancelOutPoint] = watcher.SpendRefund

	sender := &fakeSender{sendFunc: func(*wire.MsgTx) (chainhash.Hash, error) {
		t.Fatal("TxCancel must not be re-sent once already BTCCancelled")
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
		takerID:              testPeerID(t),
		info:                 newTestInfo(t, types.BTCCancelled, amount),
		keys:                 &protocol.KeysAndProof{Secp256k1PublicKey: makerSecp.Public()},
		makerSecp:            makerSecp,
		takerSecp256k1Pub:    takerSecp.Public(),
		txCancel:             txCancel,
		txCancelRedeemScript: cancelRedeemScript,
		txLockRedeemScript:   redeemScript,
		doneCh:               make(chan struct{}),
	}

	// punishTimelock is set far out so the already-confirmed refund spend
	// resolves long before WaitPunishExpired's height-polling loop could
	// possibly reach it.
	monitor := watcher.NewMonitor(notifier, 0, 10, 1000000)

	statuses := drainStatusUpdates(s.info)
	resultCh := make(chan error, 1)
	go func() { resultCh <- s.onCancelTimelockExpired(context.Background(), monitor) }()

	select {
	case err = <-resultCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("onCancelTimelockExpired did not resolve the already-confirmed refund spend in time")
	}
	require.Equal(t, 0, sender.calls)
	require.Equal(t, types.CompletedSafelyAborted, s.info.Status)
	require.NotContains(t, statuses(), types.CancelTimelockExpired,
		"resuming from BTCCancelled must not regress through CancelTimelockExpired again")
}

// drainStatusUpdates returns a function that collects every status
// NotifyStatus has pushed to info's channel so far, without blocking.
func drainStatusUpdates(info *swap.Info) func() []types.Status {
	return func() []types.Status {
		var out []types.Status
		for {
			select {
			case s := <-info.StatusCh:
				out = append(out, s)
			default:
				return out
			}
		}
	}
}

var errTransient = &transientErr{}

type transientErr struct{}

func (*transientErr) Error() string { return "simulated transient I/O failure" }
