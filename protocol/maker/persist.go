package maker

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
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

// persistedState is the maker-role mirror of protocol/taker's persistedState:
// everything resumeSwapState needs to rebuild a driver able to continue
// runUntilDone after a restart, without re-running SwapSetup (spec
// §4.4/§9's crash-recovery contract).
type persistedState struct {
	MakerSpendKey        []byte                  `json:"makerSpendKey"`
	MakerViewKey         *mcrypto.PrivateViewKey `json:"makerViewKey"`
	MakerSecp256k1Scalar []byte                  `json:"makerSecp256k1Scalar"`

	TakerSecp256k1Pub     *secp256k1.PublicKey    `json:"takerSecp256k1Pub"`
	TakerPublicSpendKey   *mcrypto.PublicKey      `json:"takerPublicSpendKey"`
	TakerPrivateViewKey   *mcrypto.PrivateViewKey `json:"takerPrivateViewKey"`
	TakerBTCPayoutAddress string                  `json:"takerBTCPayoutAddress"`

	OwnBTCAddr string `json:"ownBTCAddr"`

	TxLockOutPointHash  types.Hash `json:"txLockOutPointHash,omitempty"`
	TxLockOutPointIndex uint32     `json:"txLockOutPointIndex,omitempty"`
	TxLockRedeemScript  []byte     `json:"txLockRedeemScript,omitempty"`
	TxLockHeight        uint32     `json:"txLockHeight,omitempty"`

	TxCancel             []byte `json:"txCancel,omitempty"`
	TxCancelRedeemScript []byte `json:"txCancelRedeemScript,omitempty"`
	TxCancelHeight       uint32 `json:"txCancelHeight,omitempty"`

	TxRefund      []byte `json:"txRefund,omitempty"`
	TxEarlyRefund []byte `json:"txEarlyRefund,omitempty"`
	TxRedeem      []byte `json:"txRedeem,omitempty"`
	TxPunish      []byte `json:"txPunish,omitempty"`

	TakerTxCancelSig []byte `json:"takerTxCancelSig,omitempty"`
	TakerTxRefundSig []byte `json:"takerTxRefundSig,omitempty"`
	TakerTxPunishSig []byte `json:"takerTxPunishSig,omitempty"`

	EncSig *adaptor.ECDSAEncryptedSignature `json:"encSig,omitempty"`
}

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

func deserializeTx(b []byte) (*wire.MsgTx, error) {
	if len(b) == 0 {
		return nil, nil
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("maker: failed to deserialize persisted transaction: %w", err)
	}
	return tx, nil
}

func addrString(addr btcutil.Address) string {
	if addr == nil {
		return ""
	}
	return addr.EncodeAddress()
}

// snapshot captures everything resumeSwapState needs from s's current
// in-memory fields.
func (s *swapState) snapshot() *persistedState {
	spendKey := s.keys.PrivateKeyPair.SpendKey().SpendKeyBytes()
	secpScalar := s.makerSecp.Bytes()

	return &persistedState{
		MakerSpendKey:        spendKey,
		MakerViewKey:         s.keys.PrivateKeyPair.ViewKey(),
		MakerSecp256k1Scalar: secpScalar[:],

		TakerSecp256k1Pub:     s.takerSecp256k1Pub,
		TakerPublicSpendKey:   s.takerPublicSpendKey,
		TakerPrivateViewKey:   s.takerPrivateViewKey,
		TakerBTCPayoutAddress: s.takerBTCPayoutAddress,

		OwnBTCAddr: addrString(s.ownBTCAddr),

		TxLockOutPointHash:  types.Hash(s.txLockOutPoint.Hash),
		TxLockOutPointIndex: s.txLockOutPoint.Index,
		TxLockRedeemScript:  s.txLockRedeemScript,
		TxLockHeight:        s.txLockHeight,

		TxCancel:             serializeTx(s.txCancel),
		TxCancelRedeemScript: s.txCancelRedeemScript,
		TxCancelHeight:       s.txCancelHeight,

		TxRefund:      serializeTx(s.txRefund),
		TxEarlyRefund: serializeTx(s.txEarlyRefund),
		TxRedeem:      serializeTx(s.txRedeem),
		TxPunish:      serializeTx(s.txPunish),

		TakerTxCancelSig: s.takerTxCancelSig,
		TakerTxRefundSig: s.takerTxRefundSig,
		TakerTxPunishSig: s.takerTxPunishSig,

		EncSig: s.encSig,
	}
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

// resumeSwapState rebuilds a maker swapState from a previously persisted
// Info, for a swap that reached at least KeysExchanged before the process
// restarted. A swap that never got that far never built any transaction and
// has nothing worth reconstructing; the caller should mark it
// CompletedSafelyAborted instead of calling resumeSwapState.
func resumeSwapState(b backend.Backend, info *swap.Info) (*swapState, error) {
	if len(info.RoleState) == 0 {
		return nil, fmt.Errorf("maker: swap %s has no persisted role state to resume from", info.SwapID)
	}
	var ps persistedState
	if err := json.Unmarshal(info.RoleState, &ps); err != nil {
		return nil, fmt.Errorf("maker: failed to unmarshal persisted state for swap %s: %w", info.SwapID, err)
	}

	takerID, err := peer.Decode(info.Peer)
	if err != nil {
		return nil, fmt.Errorf("maker: invalid persisted taker peer id for swap %s: %w", info.SwapID, err)
	}

	var spendScalar [32]byte
	copy(spendScalar[:], ps.MakerSpendKey)
	spendKey, err := mcrypto.NewPrivateSpendKey(spendScalar)
	if err != nil {
		return nil, fmt.Errorf("maker: invalid persisted spend key for swap %s: %w", info.SwapID, err)
	}
	privKeyPair := mcrypto.NewPrivateKeyPair(spendKey, ps.MakerViewKey)

	var secpScalar [32]byte
	copy(secpScalar[:], ps.MakerSecp256k1Scalar)
	makerSecp := secp256k1.NewPrivateKeyFromScalar(secpScalar)

	keys := &protocol.KeysAndProof{
		Secp256k1PublicKey: makerSecp.Public(),
		PrivateKeyPair:     privKeyPair,
		PublicKeyPair:      privKeyPair.PublicKeyPair(),
	}

	params, err := bitcoin.ChainParams(bitcoin.NetworkName(b.Env()))
	if err != nil {
		return nil, err
	}
	ownAddr, err := btcutil.DecodeAddress(ps.OwnBTCAddr, params)
	if err != nil {
		return nil, fmt.Errorf("maker: invalid persisted own address for swap %s: %w", info.SwapID, err)
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
		takerID: takerID,
		info:    info,

		keys:      keys,
		makerSecp: makerSecp,

		takerSecp256k1Pub:     ps.TakerSecp256k1Pub,
		takerPublicSpendKey:   ps.TakerPublicSpendKey,
		takerPrivateViewKey:   ps.TakerPrivateViewKey,
		takerBTCPayoutAddress: ps.TakerBTCPayoutAddress,

		ownBTCAddr: ownAddr,

		txLockOutPoint:     wire.OutPoint{Hash: chainhash.Hash(ps.TxLockOutPointHash), Index: ps.TxLockOutPointIndex},
		txLockRedeemScript: ps.TxLockRedeemScript,
		txLockHeight:       ps.TxLockHeight,

		txCancel:             txCancel,
		txCancelRedeemScript: ps.TxCancelRedeemScript,
		txCancelHeight:       ps.TxCancelHeight,

		txRefund:      txRefund,
		txEarlyRefund: txEarlyRefund,
		txRedeem:      txRedeem,
		txPunish:      txPunish,

		takerTxCancelSig: ps.TakerTxCancelSig,
		takerTxRefundSig: ps.TakerTxRefundSig,
		takerTxPunishSig: ps.TakerTxPunishSig,

		encSig: ps.EncSig,

		takerCommitmentCh: make(chan *message.SwapSetupCommitment, 1),
		btcLockedCh:       make(chan *message.NotifyBTCLocked, 1),
		encSigCh:          make(chan *message.EncryptedSignature, 1),
		doneCh:            make(chan struct{}),
	}
	return s, nil
}
