package taker

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/monero-btc-swap/swapd/bitcoin"
	"github.com/monero-btc-swap/swapd/common/types"
	"github.com/monero-btc-swap/swapd/crypto/adaptor"
	mcrypto "github.com/monero-btc-swap/swapd/crypto/monero"
	"github.com/monero-btc-swap/swapd/crypto/secp256k1"
	"github.com/monero-btc-swap/swapd/net/message"
	"github.com/monero-btc-swap/swapd/protocol"
	"github.com/monero-btc-swap/swapd/protocol/backend"
	"github.com/monero-btc-swap/swapd/protocol/swap"
)

// persistedState is the taker-role state written into swap.Info.RoleState on
// every transition past KeysExchanged: everything resumeSwapState needs to
// rebuild a driver able to continue runUntilDone after a restart, without
// re-running SwapSetup (spec §4.4/§9's crash-recovery contract). []byte
// fields round-trip as base64 through encoding/json; the exported key types
// already carry their own hex MarshalJSON/UnmarshalJSON.
type persistedState struct {
	TakerSpendKey        []byte                  `json:"takerSpendKey"`
	TakerViewKey         *mcrypto.PrivateViewKey `json:"takerViewKey"`
	TakerSecp256k1Scalar []byte                  `json:"takerSecp256k1Scalar"`

	MakerSecp256k1Pub     *secp256k1.PublicKey    `json:"makerSecp256k1Pub"`
	MakerPublicSpendKey   *mcrypto.PublicKey      `json:"makerPublicSpendKey"`
	MakerPrivateViewKey   *mcrypto.PrivateViewKey `json:"makerPrivateViewKey"`
	MakerBTCPayoutAddress string                  `json:"makerBTCPayoutAddress"`

	OwnBTCAddr  string `json:"ownBTCAddr"`
	XMRDestAddr string `json:"xmrDestAddr"`

	TxLock             []byte `json:"txLock,omitempty"`
	TxLockRedeemScript []byte `json:"txLockRedeemScript,omitempty"`
	TxLockHeight       uint32 `json:"txLockHeight,omitempty"`

	TxCancel             []byte `json:"txCancel,omitempty"`
	TxCancelRedeemScript []byte `json:"txCancelRedeemScript,omitempty"`

	TxRefund      []byte `json:"txRefund,omitempty"`
	TxEarlyRefund []byte `json:"txEarlyRefund,omitempty"`
	TxRedeem      []byte `json:"txRedeem,omitempty"`
	TxPunish      []byte `json:"txPunish,omitempty"`

	MakerTxCancelSig      []byte `json:"makerTxCancelSig,omitempty"`
	MakerTxRefundSig      []byte `json:"makerTxRefundSig,omitempty"`
	MakerTxEarlyRefundSig []byte `json:"makerTxEarlyRefundSig,omitempty"`

	EncSig *adaptor.ECDSAEncryptedSignature `json:"encSig,omitempty"`
}

// serializeTx returns tx's wire encoding, or nil for an unbuilt transaction.
func serializeTx(tx *wire.MsgTx) []byte {
	if tx == nil {
		return nil
	}
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil
	}
	return buf.Bytes()
}

// deserializeTx reverses serializeTx, returning nil for an empty blob.
func deserializeTx(b []byte) (*wire.MsgTx, error) {
	if len(b) == 0 {
		return nil, nil
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("taker: failed to deserialize persisted transaction: %w", err)
	}
	return tx, nil
}

// snapshot captures everything resumeSwapState needs from s's current
// in-memory fields.
func (s *swapState) snapshot() *persistedState {
	spendKey := s.keys.PrivateKeyPair.SpendKey().SpendKeyBytes()
	secpScalar := s.takerSecp.Bytes()

	return &persistedState{
		TakerSpendKey:        spendKey,
		TakerViewKey:         s.keys.PrivateKeyPair.ViewKey(),
		TakerSecp256k1Scalar: secpScalar[:],

		MakerSecp256k1Pub:     s.makerSecp256k1Pub,
		MakerPublicSpendKey:   s.makerPublicSpendKey,
		MakerPrivateViewKey:   s.makerPrivateViewKey,
		MakerBTCPayoutAddress: s.makerBTCPayoutAddress,

		OwnBTCAddr:  addrString(s.ownBTCAddr),
		XMRDestAddr: s.xmrDestAddr,

		TxLock:             serializeTx(s.txLock),
		TxLockRedeemScript: s.txLockRedeemScript,
		TxLockHeight:       s.txLockHeight,

		TxCancel:             serializeTx(s.txCancel),
		TxCancelRedeemScript: s.txCancelRedeemScript,

		TxRefund:      serializeTx(s.txRefund),
		TxEarlyRefund: serializeTx(s.txEarlyRefund),
		TxRedeem:      serializeTx(s.txRedeem),
		TxPunish:      serializeTx(s.txPunish),

		MakerTxCancelSig:      s.makerTxCancelSig,
		MakerTxRefundSig:      s.makerTxRefundSig,
		MakerTxEarlyRefundSig: s.makerTxEarlyRefundSig,

		EncSig: s.encSig,
	}
}

func addrString(addr btcutil.Address) string {
	if addr == nil {
		return ""
	}
	return addr.EncodeAddress()
}

// persist writes s's current state to the swap manager so a restart can
// resume from here instead of from Started. Failures are logged, not
// propagated: losing one persistence write does not itself justify killing
// an otherwise-healthy swap, and the next transition retries it.
func (s *swapState) persist() {
	blob, err := json.Marshal(s.snapshot())
	if err != nil {
		log.Warnf("swap %s: failed to marshal persisted state: %s", s.id, err)
		return
	}
	s.info.RoleState = blob
	if err := s.backend.SwapManager().WriteSwapToDB(s.info); err != nil {
		log.Warnf("swap %s: failed to persist state: %s", s.id, err)
	}
}

// transition advances info's status and immediately persists it, so a crash
// between two transitions never loses more than the in-flight step (spec
// §4.4's "writes are atomic per swap").
func (s *swapState) transition(status types.Status) {
	s.info.NotifyStatus(status)
	s.persist()
}

// resumeSwapState rebuilds a taker swapState from a previously persisted
// Info, for a swap that reached at least BTCLocked before the process
// restarted. Mirrors the teacher's newSwapStateFromOngoing: a swap that
// never got past SwapSetup never locked funds and has nothing worth
// reconstructing, so the caller should mark it CompletedSafelyAborted
// instead of calling resumeSwapState.
func resumeSwapState(b backend.Backend, info *swap.Info) (*swapState, error) {
	if len(info.RoleState) == 0 {
		return nil, fmt.Errorf("taker: swap %s has no persisted role state to resume from", info.SwapID)
	}
	var ps persistedState
	if err := json.Unmarshal(info.RoleState, &ps); err != nil {
		return nil, fmt.Errorf("taker: failed to unmarshal persisted state for swap %s: %w", info.SwapID, err)
	}

	makerID, err := peer.Decode(info.Peer)
	if err != nil {
		return nil, fmt.Errorf("taker: invalid persisted maker peer id for swap %s: %w", info.SwapID, err)
	}

	var spendScalar [32]byte
	copy(spendScalar[:], ps.TakerSpendKey)
	spendKey, err := mcrypto.NewPrivateSpendKey(spendScalar)
	if err != nil {
		return nil, fmt.Errorf("taker: invalid persisted spend key for swap %s: %w", info.SwapID, err)
	}
	privKeyPair := mcrypto.NewPrivateKeyPair(spendKey, ps.TakerViewKey)

	var secpScalar [32]byte
	copy(secpScalar[:], ps.TakerSecp256k1Scalar)
	takerSecp := secp256k1.NewPrivateKeyFromScalar(secpScalar)

	keys := &protocol.KeysAndProof{
		Secp256k1PublicKey: takerSecp.Public(),
		PrivateKeyPair:     privKeyPair,
		PublicKeyPair:      privKeyPair.PublicKeyPair(),
	}

	params, err := bitcoin.ChainParams(bitcoin.NetworkName(b.Env()))
	if err != nil {
		return nil, err
	}
	ownAddr, err := btcutil.DecodeAddress(ps.OwnBTCAddr, params)
	if err != nil {
		return nil, fmt.Errorf("taker: invalid persisted own address for swap %s: %w", info.SwapID, err)
	}

	txLock, err := deserializeTx(ps.TxLock)
	if err != nil {
		return nil, err
	}
	txCancel, err := deserializeTx(ps.TxCancel)
	if err != nil {
		return nil, err
	}
	txRefund, err := deserializeTx(ps.TxRefund)
	if err != nil {
		return nil, err
	}
	txEarlyRefund, err := deserializeTx(ps.TxEarlyRefund)
	if err != nil {
		return nil, err
	}
	txRedeem, err := deserializeTx(ps.TxRedeem)
	if err != nil {
		return nil, err
	}
	txPunish, err := deserializeTx(ps.TxPunish)
	if err != nil {
		return nil, err
	}

	s := &swapState{
		backend: b,
		id:      info.SwapID,
		makerID: makerID,
		info:    info,

		keys:      keys,
		takerSecp: takerSecp,

		makerSecp256k1Pub:     ps.MakerSecp256k1Pub,
		makerPublicSpendKey:   ps.MakerPublicSpendKey,
		makerPrivateViewKey:   ps.MakerPrivateViewKey,
		makerBTCPayoutAddress: ps.MakerBTCPayoutAddress,

		ownBTCAddr:  ownAddr,
		xmrDestAddr: ps.XMRDestAddr,

		txLock:             txLock,
		txLockRedeemScript: ps.TxLockRedeemScript,
		txLockHeight:       ps.TxLockHeight,

		txCancel:             txCancel,
		txCancelRedeemScript: ps.TxCancelRedeemScript,

		txRefund:      txRefund,
		txEarlyRefund: txEarlyRefund,
		txRedeem:      txRedeem,
		txPunish:      txPunish,

		makerTxCancelSig:      ps.MakerTxCancelSig,
		makerTxRefundSig:      ps.MakerTxRefundSig,
		makerTxEarlyRefundSig: ps.MakerTxEarlyRefundSig,

		encSig: ps.EncSig,

		makerCommitmentCh: make(chan *message.SwapSetupCommitment, 1),
		setupConfirmedCh:  make(chan struct{}, 1),
		transferProofCh:   make(chan *message.TransferProof, 1),
		doneCh:            make(chan struct{}),
	}
	if txLock != nil {
		s.txLockOutPoint = wire.OutPoint{Hash: txLock.TxHash(), Index: 0}
	}
	return s, nil
}
