package maker

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/cockroachdb/apd/v3"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/monero-btc-swap/swapd/bitcoin"
	"github.com/monero-btc-swap/swapd/common"
	"github.com/monero-btc-swap/swapd/common/types"
	"github.com/monero-btc-swap/swapd/crypto/adaptor"
	mcrypto "github.com/monero-btc-swap/swapd/crypto/monero"
	"github.com/monero-btc-swap/swapd/crypto/secp256k1"
	"github.com/monero-btc-swap/swapd/monero"
	"github.com/monero-btc-swap/swapd/net"
	"github.com/monero-btc-swap/swapd/net/message"
	"github.com/monero-btc-swap/swapd/protocol"
	"github.com/monero-btc-swap/swapd/protocol/backend"
	"github.com/monero-btc-swap/swapd/protocol/swap"
	"github.com/monero-btc-swap/swapd/watcher"
)

// txFee mirrors protocol/taker's flat per-transaction fee: both sides must
// agree on it independently, since it feeds directly into every signed
// transaction amount.
const txFee int64 = 1000

// swapState drives a single swap from the maker's side: it answers with its
// own key share, waits for BTC to lock, locks the matching XMR, and once
// the taker hands over an adaptor-encrypted TxRedeem signature, decrypts
// and broadcasts it to collect payment. Mirrors protocol/taker's swapState,
// role-reversed.
type swapState struct {
	backend backend.Backend
	id      types.SwapID
	takerID peer.ID
	info    *swap.Info

	keys      *protocol.KeysAndProof
	makerSecp *secp256k1.PrivateKey

	takerSecp256k1Pub     *secp256k1.PublicKey
	takerPublicSpendKey   *mcrypto.PublicKey
	takerPrivateViewKey   *mcrypto.PrivateViewKey
	takerBTCPayoutAddress string

	ownBTCAddr btcutil.Address

	txLockOutPoint     wire.OutPoint
	txLockRedeemScript []byte
	txLockHeight       uint32

	txCancel             *wire.MsgTx
	txCancelRedeemScript []byte
	txCancelHeight       uint32

	txRefund      *wire.MsgTx
	txEarlyRefund *wire.MsgTx
	txRedeem      *wire.MsgTx
	txPunish      *wire.MsgTx

	takerTxCancelSig []byte
	takerTxRefundSig []byte
	takerTxPunishSig []byte

	encSig *adaptor.ECDSAEncryptedSignature

	takerCommitmentCh chan *message.SwapSetupCommitment
	btcLockedCh       chan *message.NotifyBTCLocked
	encSigCh          chan *message.EncryptedSignature
	doneCh            chan struct{}
}

// newSwapState answers an inbound SendKeysMessage: it generates this node's
// own key share, verifies the taker's DLEQ proof, and builds the
// SendKeysMessage reply. It does not yet build any Bitcoin transaction --
// that has to wait for the taker's SwapSetupCommitment, which is the only
// way this side learns which outpoint TxLock will use.
func newSwapState(
	b backend.Backend,
	takerID peer.ID,
	taker *message.SendKeysMessage,
	quote *types.BidQuote,
) (*swapState, *message.SendKeysMessage, error) {
	result, err := protocol.VerifyKeysAndProof(taker.DLEqProof, taker.Secp256k1PublicKey, taker.PublicSpendKey)
	if err != nil {
		return nil, nil, fmt.Errorf("taker's dleq proof failed to verify: %w", err)
	}

	keys, err := protocol.GenerateKeysAndProof()
	if err != nil {
		return nil, nil, err
	}

	payoutAddr, err := b.BTCClient().NewChangeAddress(b.Ctx())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get a payout address: %w", err)
	}

	sats, err := toSatoshi(taker.ProvidedAmount, quote.Price)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to convert quote to satoshi: %w", err)
	}

	info := swap.NewInfo(
		taker.SwapID, types.Maker, takerID.String(), sats, taker.ProvidedAmount, quote.Price,
		types.Started, make(chan types.Status, 16),
	)

	s := &swapState{
		backend:               b,
		id:                    taker.SwapID,
		takerID:               takerID,
		info:                  info,
		keys:                  keys,
		makerSecp:             keys.Secp256k1PrivateKey(),
		takerSecp256k1Pub:     result.Secp256k1PublicKey,
		takerPublicSpendKey:   result.Ed25519PublicKey,
		takerPrivateViewKey:   taker.PrivateViewKey,
		takerBTCPayoutAddress: taker.BTCPayoutAddress,
		ownBTCAddr:            payoutAddr,

		takerCommitmentCh: make(chan *message.SwapSetupCommitment, 1),
		btcLockedCh:       make(chan *message.NotifyBTCLocked, 1),
		encSigCh:          make(chan *message.EncryptedSignature, 1),
		doneCh:            make(chan struct{}),
	}

	reply := &message.SendKeysMessage{
		SwapID:             taker.SwapID,
		ProvidedAmount:     taker.ProvidedAmount,
		PublicSpendKey:     keys.PublicKeyPair.SpendKey(),
		PrivateViewKey:     keys.PrivateKeyPair.ViewKey(),
		DLEqProof:          keys.DLEqProof.Proof(),
		Secp256k1PublicKey: keys.Secp256k1PublicKey,
		BTCPayoutAddress:   payoutAddr.EncodeAddress(),
	}

	return s, reply, nil
}

// toSatoshi converts an XMR quantity at a BTC-per-XMR price into a satoshi
// amount, rounded to the nearest whole satoshi.
func toSatoshi(xmrAmount, price *apd.Decimal) (int64, error) {
	ctx := apd.BaseContext.WithPrecision(40)

	btc := new(apd.Decimal)
	if _, err := ctx.Mul(btc, xmrAmount, price); err != nil {
		return 0, err
	}
	sats := new(apd.Decimal)
	if _, err := ctx.Mul(sats, btc, apd.New(1, 8)); err != nil {
		return 0, err
	}
	rounded := new(apd.Decimal)
	if _, err := ctx.Quantize(rounded, sats, 0); err != nil {
		return 0, err
	}
	return rounded.Int64()
}

// toPiconero converts an XMR quantity into atomic units (1 XMR = 1e12
// piconero).
func toPiconero(xmrAmount *apd.Decimal) (uint64, error) {
	ctx := apd.BaseContext.WithPrecision(40)
	atomic := new(apd.Decimal)
	if _, err := ctx.Mul(atomic, xmrAmount, apd.New(1, 12)); err != nil {
		return 0, err
	}
	rounded := new(apd.Decimal)
	if _, err := ctx.Quantize(rounded, atomic, 0); err != nil {
		return 0, err
	}
	u, err := rounded.Int64()
	if err != nil {
		return 0, err
	}
	return uint64(u), nil
}

// ID implements net.SwapState.
func (s *swapState) ID() types.SwapID { return s.id }

// Exit implements net.SwapState, aborting a swap before any funds locked.
func (s *swapState) Exit() error {
	s.info.NotifyStatus(types.CompletedSafelyAborted)
	return s.backend.SwapManager().CompleteOngoingSwap(s.info)
}

// HandleProtocolMessage implements net.SwapState.
func (s *swapState) HandleProtocolMessage(msg net.Message) error {
	switch m := msg.(type) {
	case *message.SwapSetupCommitment:
		select {
		case s.takerCommitmentCh <- m:
		default:
		}
		return nil
	case *message.NotifyBTCLocked:
		select {
		case s.btcLockedCh <- m:
		default:
		}
		return nil
	case *message.EncryptedSignature:
		select {
		case s.encSigCh <- m:
		default:
		}
		return nil
	case *message.EncryptedSignatureAck:
		return nil
	default:
		return fmt.Errorf("maker: unexpected message type %T for swap %s", msg, s.id)
	}
}

// run drives the swap once HandleInitiateMessage has replied to the taker's
// SendKeysMessage. A transient I/O error is retried with backoff instead of
// killing the swap outright; a protocol violation observed after BTC locked
// falls back to the refund path rather than leaving the swap stuck;
// anything else is logged, since no caller remains blocked waiting on an
// error return (spec §7).
func (s *swapState) run() {
	defer close(s.doneCh)
	defer s.backend.Net().DeregisterSwap(s.id)

	ctx := s.backend.Ctx()
	err := s.runUntilDone(ctx)

	backoff := time.Second
	for common.KindOf(err) == common.KindTransientIO {
		log.Warnf("swap %s: transient error, retrying in %s: %s", s.id, backoff, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
		err = s.resumeUntilDone(ctx)
	}
	if err == nil {
		return
	}

	if common.KindOf(err) == common.KindProtocolViolation && s.txLockRedeemScript != nil && s.txCancel != nil {
		log.Warnf("swap %s: protocol violation after lock, falling back to refund: %s", s.id, err)
		monitor, mErr := s.setupMonitor(ctx)
		if mErr != nil {
			log.Errorf("swap %s: refund fallback failed to set up a monitor: %s", s.id, mErr)
			return
		}
		if fErr := s.onCancelTimelockExpired(ctx, monitor); fErr != nil {
			log.Errorf("swap %s: refund fallback failed: %s", s.id, fErr)
		}
		return
	}

	log.Errorf("swap %s ended with error: %s", s.id, err)
}

// resume drives a reconstructed swap (built by resumeSwapState from
// persisted state) from wherever its status left off.
func (s *swapState) resume() {
	defer close(s.doneCh)
	defer s.backend.Net().DeregisterSwap(s.id)

	if err := s.resumeUntilDone(s.backend.Ctx()); err != nil {
		log.Errorf("resumed swap %s ended with error: %s", s.id, err)
	}
}

// setupMonitor confirms TxLock's height and builds the Monitor every
// post-lock wait races against.
func (s *swapState) setupMonitor(ctx context.Context) (*watcher.Monitor, error) {
	height, err := s.txConfirmedHeight(ctx, s.txLockOutPoint.Hash)
	if err != nil {
		return nil, err
	}
	s.txLockHeight = height

	return watcher.NewMonitor(
		s.backend.ChainNotifier(), s.txLockHeight, s.backend.CancelTimelock(), s.backend.PunishTimelock(),
	), nil
}

func (s *swapState) runUntilDone(ctx context.Context) error {
	var taker *message.SwapSetupCommitment
	select {
	case taker = <-s.takerCommitmentCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.takerTxCancelSig = taker.TxCancelSignature
	s.takerTxRefundSig = taker.TxRefundSignature
	s.takerTxPunishSig = taker.TxPunishSignature
	s.txLockOutPoint = wire.OutPoint{Hash: chainhash.Hash(taker.TxLockTxID), Index: taker.TxLockVout}

	if err := s.buildSetupTxs(); err != nil {
		return fmt.Errorf("maker: failed to build setup transactions: %w", err)
	}
	s.transition(types.KeysExchanged)

	ownCommitment, err := s.ownSetupCommitment()
	if err != nil {
		return fmt.Errorf("maker: failed to sign own setup commitment: %w", err)
	}
	if err := oneWaySend(ctx, s.backend.Net(), s.takerID, ownCommitment); err != nil {
		return fmt.Errorf("maker: failed to send setup commitment: %w", err)
	}
	if err := oneWaySend(ctx, s.backend.Net(), s.takerID, &message.SwapSetupConfirmation{SwapID: s.id}); err != nil {
		return fmt.Errorf("maker: failed to confirm setup: %w", err)
	}

	var locked *message.NotifyBTCLocked
	select {
	case locked = <-s.btcLockedCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	if locked.TxLockHash != types.Hash(s.txLockOutPoint.Hash) {
		return fmt.Errorf("maker: taker's reported TxLock hash does not match the committed outpoint")
	}

	monitor, err := s.setupMonitor(ctx)
	if err != nil {
		return err
	}
	s.transition(types.BTCLocked)

	if err := s.lockXMR(ctx); err != nil {
		return err
	}

	return s.waitForEncSig(ctx, monitor)
}

// resumeUntilDone re-enters the swap at the point its persisted status
// indicates, instead of always restarting at runUntilDone's initial wait for
// the taker's SwapSetupCommitment (spec §9's crash-recovery contract). Used
// both to resume a swap across a process restart and by run to retry after
// a transient error without replaying a step that already completed.
func (s *swapState) resumeUntilDone(ctx context.Context) error {
	monitor, err := s.setupMonitor(ctx)
	if err != nil {
		return err
	}

	switch s.info.Status {
	case types.BTCLocked:
		// A prior attempt's Transfer call can have gone through before this
		// status was persisted past BTCLocked; lockXMR does not check the
		// wallet's history before re-sending.
		if err := s.lockXMR(ctx); err != nil {
			return err
		}
		return s.waitForEncSig(ctx, monitor)
	case types.XMRLocked:
		// s.encSig is only non-nil here if a prior attempt already received
		// it and persisted it before failing later in onEncryptedSignature
		// (a TransientIO retry, or a genuine resume after that kind of
		// crash); the taker has no reason to resend it, so waiting on
		// encSigCh again would hang forever.
		if s.encSig != nil {
			return s.onEncryptedSignature(ctx, &message.EncryptedSignature{SwapID: s.id, EncSig: s.encSig}, monitor)
		}
		return s.waitForEncSig(ctx, monitor)
	case types.CancelTimelockExpired, types.BTCCancelled:
		return s.onCancelTimelockExpired(ctx, monitor)
	default:
		return fmt.Errorf("maker: swap %s has no resumable status %s", s.id, s.info.Status)
	}
}

// buildSetupTxs constructs every transaction that spends TxLock or its
// descendants, from the outpoint the taker reported and the keys/addresses
// exchanged via SendKeysMessage. It cannot construct TxLock itself: only
// the taker knows which wallet inputs fund it.
func (s *swapState) buildSetupTxs() error {
	params, err := bitcoin.ChainParams(bitcoin.NetworkName(s.backend.Env()))
	if err != nil {
		return err
	}

	takerAddr, err := btcutil.DecodeAddress(s.takerBTCPayoutAddress, params)
	if err != nil {
		return fmt.Errorf("invalid taker payout address: %w", err)
	}
	takerPkScript, err := txscript.PayToAddrScript(takerAddr)
	if err != nil {
		return err
	}

	makerPkScript, err := txscript.PayToAddrScript(s.ownBTCAddr)
	if err != nil {
		return err
	}

	takerPub := s.takerSecp256k1Pub.Underlying()
	makerPub := s.keys.Secp256k1PublicKey.Underlying()

	redeemScript, _, err := bitcoin.MultiSigOutputScript(takerPub, makerPub)
	if err != nil {
		return err
	}
	s.txLockRedeemScript = redeemScript

	txCancel, cancelRedeemScript, _, err := bitcoin.BuildTxCancel(&bitcoin.CancelTxParams{
		TxLockOutPoint:     &s.txLockOutPoint,
		TxLockValue:        s.info.BTCAmount,
		TxLockRedeemScript: redeemScript,
		TakerPub:           takerPub,
		MakerPub:           makerPub,
		PunishTimelock:     s.backend.PunishTimelock(),
		Fee:                txFee,
	})
	if err != nil {
		return err
	}
	s.txCancel = txCancel
	s.txCancelRedeemScript = cancelRedeemScript

	txCancelOutPoint := wire.OutPoint{Hash: txCancel.TxHash(), Index: 0}

	s.txRefund = bitcoin.BuildTxRefund(&bitcoin.SpendTxParams{
		PrevOut:      &txCancelOutPoint,
		PrevValue:    txCancel.TxOut[0].Value,
		RedeemScript: cancelRedeemScript,
		DestPkScript: takerPkScript,
		Fee:          txFee,
	})

	s.txPunish = bitcoin.BuildTxPunish(&bitcoin.SpendTxParams{
		PrevOut:      &txCancelOutPoint,
		PrevValue:    txCancel.TxOut[0].Value,
		RedeemScript: cancelRedeemScript,
		DestPkScript: makerPkScript,
		Fee:          txFee,
	}, s.backend.PunishTimelock())

	s.txEarlyRefund = bitcoin.BuildTxEarlyRefund(&bitcoin.SpendTxParams{
		PrevOut:      &s.txLockOutPoint,
		PrevValue:    s.info.BTCAmount,
		RedeemScript: redeemScript,
		DestPkScript: takerPkScript,
		Fee:          txFee,
	})

	s.txRedeem = bitcoin.BuildTxRedeem(&bitcoin.SpendTxParams{
		PrevOut:      &s.txLockOutPoint,
		PrevValue:    s.info.BTCAmount,
		RedeemScript: redeemScript,
		DestPkScript: makerPkScript,
		Fee:          txFee,
	})

	return nil
}

// ownSetupCommitment signs this node's slot of TxCancel, TxRefund, and
// TxEarlyRefund. TxEarlyRefund is the one-directional grant spec §4.7
// describes: only the maker signs it, letting the taker reclaim its locked
// BTC immediately if this node goes dark before BTC even confirms. This
// node leaves TxPunishSignature empty -- it has nothing of its own for the
// taker to punish.
func (s *swapState) ownSetupCommitment() (*message.SwapSetupCommitment, error) {
	cancelSig, err := bitcoin.SignWitnessInput(
		s.txCancel, 0, s.txLockRedeemScript, s.info.BTCAmount, s.makerSecp.Underlying(),
	)
	if err != nil {
		return nil, err
	}

	refundSig, err := bitcoin.SignWitnessInput(
		s.txRefund, 0, s.txCancelRedeemScript, s.txCancel.TxOut[0].Value, s.makerSecp.Underlying(),
	)
	if err != nil {
		return nil, err
	}

	earlyRefundSig, err := bitcoin.SignWitnessInput(
		s.txEarlyRefund, 0, s.txLockRedeemScript, s.info.BTCAmount, s.makerSecp.Underlying(),
	)
	if err != nil {
		return nil, err
	}

	return &message.SwapSetupCommitment{
		SwapID:            s.id,
		TxCancelSignature: cancelSig,
		TxRefundSignature: refundSig,
		TxEarlyRefundSig:  earlyRefundSig,
	}, nil
}

// lockXMR sends the agreed XMR amount to the shared 2-of-2 address derived
// from both sides' public spend/view keys (spec §4.2's pivot setup), then
// reports the transfer to the taker.
func (s *swapState) lockXMR(ctx context.Context) error {
	combined := mcrypto.SumSpendAndViewKeys(s.keys.PublicKeyPair, mcrypto.NewPublicKeyPair(s.takerPublicSpendKey, s.takerPrivateViewKey.Public()))
	addr := mcrypto.NewAddress(monero.AddressPrefix(s.backend.Env()), combined.SpendKey(), combined.ViewKey())

	amount, err := toPiconero(s.info.XMRAmount)
	if err != nil {
		return err
	}

	txHash, err := s.backend.XMRClient().Transfer(ctx, addr.String(), amount)
	if err != nil {
		return fmt.Errorf("failed to lock monero: %w", err)
	}
	s.transition(types.XMRLocked)

	return oneWaySend(ctx, s.backend.Net(), s.takerID, &message.TransferProof{
		SwapID: s.id,
		TxHash: txHash,
		Proof:  []byte(txHash),
	})
}

// waitForEncSig waits for the taker's adaptor-encrypted TxRedeem signature,
// racing against the cancel timelock expiring if the taker never sends one.
func (s *swapState) waitForEncSig(ctx context.Context, monitor *watcher.Monitor) error {
	select {
	case enc := <-s.encSigCh:
		return s.onEncryptedSignature(ctx, enc, monitor)
	case err := <-waitErrCh(ctx, monitor.WaitCancelExpired):
		if err != nil {
			return err
		}
		return s.onCancelTimelockExpired(ctx, monitor)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// onEncryptedSignature verifies, then decrypts, the taker's adaptor-encrypted
// signature using this node's own private key -- the only key that can
// decrypt it, since the taker encrypted to this node's public point --
// combines it with this node's own freshly-signed slot, and broadcasts
// TxRedeem (spec §4.3's pivot completion). A signature that fails to verify
// is a ProtocolViolation: it is classified and returned rather than acted on
// directly here, so run's top-level handler decides whether to fall back to
// the refund path -- the maker already has every signature it needs to
// cancel and refund on its own (spec §7).
func (s *swapState) onEncryptedSignature(ctx context.Context, m *message.EncryptedSignature, monitor *watcher.Monitor) error {
	s.encSig = m.EncSig
	s.persist()

	sigHash, err := bitcoin.WitnessSigHash(s.txRedeem, 0, s.txLockRedeemScript, s.info.BTCAmount)
	if err != nil {
		return err
	}
	if err := adaptor.VerifyEncSigECDSA(m.EncSig, s.takerSecp256k1Pub, sigHash, s.makerSecp.Public()); err != nil {
		return common.NewSwapError(
			common.KindProtocolViolation,
			fmt.Errorf("taker's encrypted signature failed to verify: %w", err),
		)
	}

	takerSig := adaptor.DecryptECDSA(m.EncSig, s.makerSecp)

	ownSigBytes, err := bitcoin.SignWitnessInput(
		s.txRedeem, 0, s.txLockRedeemScript, s.info.BTCAmount, s.makerSecp.Underlying(),
	)
	if err != nil {
		return err
	}

	s.txRedeem.TxIn[0].Witness = bitcoin.MultiSigWitness(
		s.txLockRedeemScript,
		s.takerSecp256k1Pub.Underlying(), s.keys.Secp256k1PublicKey.Underlying(),
		bitcoin.SerializeSignature(takerSig), ownSigBytes,
	)

	if _, err := s.backend.Sender().Send(ctx, s.txRedeem); err != nil {
		return common.NewSwapError(common.KindTransientIO, fmt.Errorf("failed to broadcast TxRedeem: %w", err))
	}

	if err := oneWaySend(ctx, s.backend.Net(), s.takerID, &message.EncryptedSignatureAck{SwapID: s.id}); err != nil {
		log.Warnf("swap %s: failed to ack encrypted signature: %s", s.id, err)
	}

	return s.finish(types.BTCRedeemed, types.EndBTCRedeemed)
}

// onCancelTimelockExpired broadcasts TxCancel, then waits out the punish
// window: if the taker refunds first, this node simply lost its chance at
// being paid in BTC (its locked XMR still needs recovering, e.g. via a
// cooperative request to the taker); otherwise it broadcasts TxPunish using
// the taker's pre-granted signature, taking the entire locked amount as
// compensation for the XMR it sent but was never paid for.
func (s *swapState) onCancelTimelockExpired(ctx context.Context, monitor *watcher.Monitor) error {
	if s.info.Status != types.CancelTimelockExpired && s.info.Status != types.BTCCancelled {
		s.transition(types.CancelTimelockExpired)
	}

	if len(s.txCancel.TxIn[0].Witness) == 0 {
		ownCancelSig, err := bitcoin.SignWitnessInput(
			s.txCancel, 0, s.txLockRedeemScript, s.info.BTCAmount, s.makerSecp.Underlying(),
		)
		if err != nil {
			return err
		}
		s.txCancel.TxIn[0].Witness = bitcoin.MultiSigWitness(
			s.txLockRedeemScript,
			s.takerSecp256k1Pub.Underlying(), s.keys.Secp256k1PublicKey.Underlying(),
			s.takerTxCancelSig, ownCancelSig,
		)
	}

	if s.info.Status != types.BTCCancelled {
		if _, err := s.backend.Sender().Send(ctx, s.txCancel); err != nil {
			return common.NewSwapError(common.KindTransientIO, fmt.Errorf("failed to broadcast TxCancel: %w", err))
		}
		s.transition(types.BTCCancelled)
	}

	cancelHeight, err := s.txConfirmedHeight(ctx, s.txCancel.TxHash())
	if err != nil {
		return err
	}
	s.txCancelHeight = cancelHeight

	txCancelOutPoint := wire.OutPoint{Hash: s.txCancel.TxHash(), Index: 0}

	type spendResult struct {
		tx  *wire.MsgTx
		err error
	}
	refundCh := make(chan spendResult, 1)
	go func() {
		ev, err := monitor.WaitAnySpendOf(ctx, txCancelOutPoint)
		if err != nil {
			refundCh <- spendResult{nil, err}
			return
		}
		refundCh <- spendResult{ev.Tx, nil}
	}()

	select {
	case r := <-refundCh:
		if r.err != nil {
			return r.err
		}
		return s.finish(types.CompletedSafelyAborted, types.EndXMRRefunded)
	case err := <-waitErrCh(ctx, func(c context.Context) error { return monitor.WaitPunishExpired(c, s.txCancelHeight) }):
		if err != nil {
			return err
		}
		return s.broadcastTxPunish(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *swapState) broadcastTxPunish(ctx context.Context) error {
	ownSig, err := bitcoin.SignWitnessInput(
		s.txPunish, 0, s.txCancelRedeemScript, s.txCancel.TxOut[0].Value, s.makerSecp.Underlying(),
	)
	if err != nil {
		return err
	}
	s.txPunish.TxIn[0].Witness = bitcoin.CancelOutputWitness(
		s.txCancelRedeemScript,
		s.takerSecp256k1Pub.Underlying(), s.keys.Secp256k1PublicKey.Underlying(),
		s.takerTxPunishSig, ownSig, true,
	)

	if _, err := s.backend.Sender().Send(ctx, s.txPunish); err != nil {
		return common.NewSwapError(common.KindTransientIO, fmt.Errorf("failed to broadcast TxPunish: %w", err))
	}

	return s.finish(types.CompletedBTCPunished, types.EndBTCPunished)
}

// txConfirmedHeight derives the height txid first confirmed at from
// ChainNotifier's confirmation count, mirroring protocol/taker's helper of
// the same name.
func (s *swapState) txConfirmedHeight(ctx context.Context, txid chainhash.Hash) (uint32, error) {
	notifier := s.backend.ChainNotifier()
	for {
		confs, err := notifier.GetConfirmations(ctx, txid)
		if err != nil {
			return 0, common.NewSwapError(common.KindTransientIO, err)
		}
		if confs > 0 {
			best, err := notifier.BestHeight(ctx)
			if err != nil {
				return 0, common.NewSwapError(common.KindTransientIO, err)
			}
			return best - confs + 1, nil
		}
		if _, err := notifier.Subscribe(ctx); err != nil {
			return 0, common.NewSwapError(common.KindTransientIO, err)
		}
	}
}

func waitErrCh(ctx context.Context, wait func(context.Context) error) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- wait(ctx)
	}()
	return ch
}

func (s *swapState) finish(status types.Status, end types.EndState) error {
	s.info.NotifyStatus(status)
	log.Infof("swap %s finished: %s", s.id, end)
	return s.backend.SwapManager().CompleteOngoingSwap(s.info)
}

// oneWaySend delivers msg to p without expecting a reply, mirroring
// protocol/taker's helper of the same name: every message type dispatched
// via dispatchToSwap never produces a response frame.
func oneWaySend(ctx context.Context, h *net.Host, p peer.ID, msg net.Message) error {
	_, err := h.SendSwapMessage(ctx, p, msg)
	if err != nil && !net.IsNoResponseExpected(err) {
		return err
	}
	return nil
}
