package taker

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/cockroachdb/apd/v3"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/monero-btc-swap/swapd/bitcoin"
	"github.com/monero-btc-swap/swapd/common"
	"github.com/monero-btc-swap/swapd/common/types"
	"github.com/monero-btc-swap/swapd/cooperative"
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

// txFee is a flat per-transaction fee in satoshi used for every deterministic
// transaction this package builds. A production node would estimate this
// from the wallet's fee source; fixed here keeps both parties' independently
// built transactions byte-identical.
const txFee int64 = 1000

// swapState drives a single swap from the taker's side, from SwapSetup
// through to either an XMR claim or one of the BTC-side fallback paths.
// Adapted from the teacher's protocol/xmrtaker swapState: the event-driven
// shape (channels fed by HandleProtocolMessage, a single run loop racing
// timelocks against counterparty messages) is unchanged, but every
// Ethereum-contract call is replaced by a deterministic Bitcoin transaction
// this package builds and signs itself.
type swapState struct {
	backend backend.Backend
	id      types.SwapID
	makerID peer.ID
	info    *swap.Info

	keys      *protocol.KeysAndProof
	takerSecp *secp256k1.PrivateKey

	makerSecp256k1Pub    *secp256k1.PublicKey
	makerPublicSpendKey  *mcrypto.PublicKey
	makerPrivateViewKey  *mcrypto.PrivateViewKey
	makerBTCPayoutAddress string

	ownBTCAddr btcutil.Address
	xmrDestAddr string

	txLock              *wire.MsgTx
	txLockRedeemScript  []byte
	txLockPkScript      []byte
	txLockOutPoint      wire.OutPoint
	txLockInputValues   []int64
	txLockHeight        uint32

	txCancel             *wire.MsgTx
	txCancelRedeemScript []byte

	txRefund      *wire.MsgTx
	txEarlyRefund *wire.MsgTx
	txRedeem      *wire.MsgTx
	txPunish      *wire.MsgTx

	makerTxCancelSig      []byte
	makerTxRefundSig      []byte
	makerTxEarlyRefundSig []byte

	encSig *adaptor.ECDSAEncryptedSignature

	makerCommitmentCh chan *message.SwapSetupCommitment
	setupConfirmedCh  chan struct{}
	transferProofCh   chan *message.TransferProof
	doneCh            chan struct{}
}

// newSwapState constructs a swapState for a fresh swap buying xmrAmount XMR
// at quote's price, sending the proceeds of a successful claim to
// xmrDestAddr.
func newSwapState(
	b backend.Backend,
	id types.SwapID,
	makerID peer.ID,
	xmrAmount *apd.Decimal,
	quote *types.BidQuote,
	xmrDestAddr string,
) (*swapState, error) {
	keys, err := protocol.GenerateKeysAndProof()
	if err != nil {
		return nil, err
	}

	sats, err := toSatoshi(xmrAmount, quote.Price)
	if err != nil {
		return nil, fmt.Errorf("taker: failed to convert quote to satoshi: %w", err)
	}

	info := swap.NewInfo(
		id, types.Taker, makerID.String(), sats, xmrAmount, quote.Price,
		types.Started, make(chan types.Status, 16),
	)

	return &swapState{
		backend:     b,
		id:          id,
		makerID:     makerID,
		info:        info,
		keys:        keys,
		takerSecp:   keys.Secp256k1PrivateKey(),
		xmrDestAddr: xmrDestAddr,

		makerCommitmentCh: make(chan *message.SwapSetupCommitment, 1),
		setupConfirmedCh:  make(chan struct{}, 1),
		transferProofCh:   make(chan *message.TransferProof, 1),
		doneCh:            make(chan struct{}),
	}, nil
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

// ID implements net.SwapState.
func (s *swapState) ID() types.SwapID { return s.id }

// Exit implements net.SwapState, aborting a swap that never locked funds.
func (s *swapState) Exit() error {
	s.info.NotifyStatus(types.CompletedSafelyAborted)
	return s.backend.SwapManager().CompleteOngoingSwap(s.info)
}

// HandleProtocolMessage implements net.SwapState, routing the counterparty's
// follow-up messages to the channel runUntilDone/setup are waiting on.
func (s *swapState) HandleProtocolMessage(msg net.Message) error {
	switch m := msg.(type) {
	case *message.SwapSetupCommitment:
		select {
		case s.makerCommitmentCh <- m:
		default:
		}
		return nil
	case *message.SwapSetupConfirmation:
		select {
		case s.setupConfirmedCh <- struct{}{}:
		default:
		}
		return nil
	case *message.TransferProof:
		select {
		case s.transferProofCh <- m:
		default:
		}
		return nil
	case *message.EncryptedSignatureAck:
		return nil
	default:
		return fmt.Errorf("taker: unexpected message type %T for swap %s", msg, s.id)
	}
}

// setup runs SwapSetup (spec §4.1): exchanges keys and DLEQ proofs, builds
// every deterministic transaction, exchanges cancel/refund/early-refund
// signatures with the maker in both directions, and broadcasts TxLock once
// the maker confirms it has received this node's commitment too.
func (s *swapState) setup(ctx context.Context) error {
	payoutAddr, err := s.backend.BTCClient().NewChangeAddress(ctx)
	if err != nil {
		return fmt.Errorf("taker: failed to get a payout address: %w", err)
	}
	s.ownBTCAddr = payoutAddr

	sendKeys := &message.SendKeysMessage{
		SwapID:             s.id,
		ProvidedAmount:     s.info.XMRAmount,
		PublicSpendKey:     s.keys.PublicKeyPair.SpendKey(),
		PrivateViewKey:     s.keys.PrivateKeyPair.ViewKey(),
		DLEqProof:          s.keys.DLEqProof.Proof(),
		Secp256k1PublicKey: s.keys.Secp256k1PublicKey,
		BTCPayoutAddress:   payoutAddr.EncodeAddress(),
	}

	resp, err := s.backend.Net().SendSwapMessage(ctx, s.makerID, sendKeys)
	if err != nil {
		return fmt.Errorf("taker: failed to exchange keys with maker: %w", err)
	}
	makerKeys, ok := resp.(*message.SendKeysMessage)
	if !ok {
		return fmt.Errorf("taker: unexpected response type %T to SendKeysMessage", resp)
	}

	if err := s.verifyMakerKeys(makerKeys); err != nil {
		return err
	}
	s.transition(types.KeysExchanged)

	if err := s.buildSetupTxs(ctx); err != nil {
		return fmt.Errorf("taker: failed to build setup transactions: %w", err)
	}

	ownCommitment, err := s.ownSetupCommitment()
	if err != nil {
		return fmt.Errorf("taker: failed to sign own setup commitment: %w", err)
	}
	if err := oneWaySend(ctx, s.backend.Net(), s.makerID, ownCommitment); err != nil {
		return fmt.Errorf("taker: failed to send setup commitment: %w", err)
	}

	select {
	case makerCommitment := <-s.makerCommitmentCh:
		s.makerTxCancelSig = makerCommitment.TxCancelSignature
		s.makerTxRefundSig = makerCommitment.TxRefundSignature
		s.makerTxEarlyRefundSig = makerCommitment.TxEarlyRefundSig
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-s.setupConfirmedCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	return s.broadcastTxLock(ctx)
}

// verifyMakerKeys checks the maker's DLEQ proof and records its claimed
// keys and payout address.
func (s *swapState) verifyMakerKeys(m *message.SendKeysMessage) error {
	result, err := protocol.VerifyKeysAndProof(m.DLEqProof, m.Secp256k1PublicKey, m.PublicSpendKey)
	if err != nil {
		return fmt.Errorf("taker: maker's dleq proof failed to verify: %w", err)
	}

	s.makerSecp256k1Pub = result.Secp256k1PublicKey
	s.makerPublicSpendKey = result.Ed25519PublicKey
	s.makerPrivateViewKey = m.PrivateViewKey
	s.makerBTCPayoutAddress = m.BTCPayoutAddress
	return nil
}

// buildSetupTxs constructs TxLock and every transaction that spends it or
// its descendants, deterministically from the keys and payout addresses
// exchanged in SendKeysMessage.
func (s *swapState) buildSetupTxs(ctx context.Context) error {
	params, err := bitcoin.ChainParams(bitcoin.NetworkName(s.backend.Env()))
	if err != nil {
		return err
	}

	makerAddr, err := btcutil.DecodeAddress(s.makerBTCPayoutAddress, params)
	if err != nil {
		return fmt.Errorf("taker: invalid maker payout address: %w", err)
	}
	makerPkScript, err := txscript.PayToAddrScript(makerAddr)
	if err != nil {
		return err
	}

	takerPkScript, err := txscript.PayToAddrScript(s.ownBTCAddr)
	if err != nil {
		return err
	}

	inputs, inputValues, err := s.backend.BTCClient().SelectUnspent(ctx, s.info.BTCAmount+txFee)
	if err != nil {
		return fmt.Errorf("taker: failed to select wallet inputs: %w", err)
	}
	s.txLockInputValues = inputValues

	changeAddr, err := s.backend.BTCClient().NewChangeAddress(ctx)
	if err != nil {
		return err
	}
	changePkScript, err := txscript.PayToAddrScript(changeAddr)
	if err != nil {
		return err
	}

	takerPub := s.keys.Secp256k1PublicKey.Underlying()
	makerPub := s.makerSecp256k1Pub.Underlying()

	txLock, redeemScript, pkScript, err := bitcoin.BuildTxLock(&bitcoin.LockTxParams{
		TakerPub:       takerPub,
		MakerPub:       makerPub,
		Amount:         s.info.BTCAmount,
		Fee:            txFee,
		Inputs:         inputs,
		InputValues:    inputValues,
		ChangePkScript: changePkScript,
	})
	if err != nil {
		return err
	}
	s.txLock = txLock
	s.txLockRedeemScript = redeemScript
	s.txLockPkScript = pkScript
	s.txLockOutPoint = wire.OutPoint{Hash: txLock.TxHash(), Index: 0}

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

// ownSetupCommitment signs this node's slot of TxCancel and TxRefund,
// granting the maker everything it needs to unilaterally cancel and refund
// this swap, plus this node's slot of TxPunish (spec §4.1, §4.2). Signing
// TxPunish here is what makes punishment credible: it is the maker's only
// recourse if this node cancels but then refuses to broadcast TxRefund
// within punish_timelock. TxEarlyRefund is left unsigned: only the maker
// ever grants that signature (spec §4.7), since the taker has nothing to
// gain from pre-signing its own early refund.
func (s *swapState) ownSetupCommitment() (*message.SwapSetupCommitment, error) {
	cancelSig, err := bitcoin.SignWitnessInput(
		s.txCancel, 0, s.txLockRedeemScript, s.info.BTCAmount, s.takerSecp.Underlying(),
	)
	if err != nil {
		return nil, err
	}

	refundSig, err := bitcoin.SignWitnessInput(
		s.txRefund, 0, s.txCancelRedeemScript, s.txCancel.TxOut[0].Value, s.takerSecp.Underlying(),
	)
	if err != nil {
		return nil, err
	}

	punishSig, err := bitcoin.SignWitnessInput(
		s.txPunish, 0, s.txCancelRedeemScript, s.txCancel.TxOut[0].Value, s.takerSecp.Underlying(),
	)
	if err != nil {
		return nil, err
	}

	return &message.SwapSetupCommitment{
		SwapID:            s.id,
		TxCancelSignature: cancelSig,
		TxRefundSignature: refundSig,
		TxPunishSignature: punishSig,
		TxLockTxID:        types.Hash(s.txLockOutPoint.Hash),
		TxLockVout:        s.txLockOutPoint.Index,
	}, nil
}

// broadcastTxLock signs every wallet-owned TxLock input and broadcasts it,
// then tells the maker it's locked.
func (s *swapState) broadcastTxLock(ctx context.Context) error {
	for i, amt := range s.txLockInputValues {
		if err := s.backend.BTCClient().SignP2WPKH(ctx, s.txLock, i, amt); err != nil {
			return fmt.Errorf("taker: failed to sign TxLock input %d: %w", i, err)
		}
	}

	txid, err := s.backend.Sender().Send(ctx, s.txLock)
	if err != nil {
		return fmt.Errorf("taker: failed to broadcast TxLock: %w", err)
	}

	if err := oneWaySend(ctx, s.backend.Net(), s.makerID, &message.NotifyBTCLocked{
		SwapID:     s.id,
		TxLockHash: types.Hash(txid),
	}); err != nil {
		return fmt.Errorf("taker: failed to notify maker of TxLock: %w", err)
	}

	s.transition(types.BTCLocked)
	return nil
}

// run drives the swap from BTCLocked to a terminal outcome. A transient I/O
// error is retried with backoff instead of killing the swap outright; a
// protocol violation observed after funds locked falls back to the refund
// path rather than leaving the swap stuck; anything else is logged, since by
// this point net.Host no longer has a caller blocked on InitiateSwap waiting
// for an error return (spec §7).
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

	if common.KindOf(err) == common.KindProtocolViolation && s.txLock != nil && s.txCancel != nil {
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
// persisted state) from wherever its status left off. Unlike run, it enters
// via resumeUntilDone since there is no freshly-broadcast TxLock to confirm.
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
	height, err := s.txConfirmedHeight(ctx, s.txLock.TxHash())
	if err != nil {
		return nil, err
	}
	s.txLockHeight = height

	return watcher.NewMonitor(
		s.backend.ChainNotifier(), s.txLockHeight, s.backend.CancelTimelock(), s.backend.PunishTimelock(),
	), nil
}

func (s *swapState) runUntilDone(ctx context.Context) error {
	monitor, err := s.setupMonitor(ctx)
	if err != nil {
		return err
	}

	select {
	case proof := <-s.transferProofCh:
		return s.onTransferProof(ctx, proof, monitor)
	case err := <-waitErrCh(ctx, monitor.WaitCancelExpired):
		if err != nil {
			return err
		}
		return s.onCancelTimelockExpired(ctx, monitor)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resumeUntilDone re-enters the swap at the point its persisted status
// indicates, instead of always restarting at runUntilDone's initial wait: a
// crash after EncSigSent, for instance, must not wait on a TransferProof the
// maker has already delivered and moved past (spec §9 scenario S2). Used
// both to resume a swap across a process restart and by run to retry after
// a transient error without replaying a step that already completed.
func (s *swapState) resumeUntilDone(ctx context.Context) error {
	monitor, err := s.setupMonitor(ctx)
	if err != nil {
		return err
	}

	switch s.info.Status {
	case types.BTCLocked:
		select {
		case proof := <-s.transferProofCh:
			return s.onTransferProof(ctx, proof, monitor)
		case err := <-waitErrCh(ctx, monitor.WaitCancelExpired):
			if err != nil {
				return err
			}
			return s.onCancelTimelockExpired(ctx, monitor)
		case <-ctx.Done():
			return ctx.Err()
		}
	case types.XMRLockProofReceived:
		if _, err := monero.WaitForBlocks(ctx, s.backend.XMRClient(), monero.MinSpendConfirmations(s.backend.Env())); err != nil {
			return err
		}
		s.transition(types.XMRLocked)
		return s.sendEncryptedSignature(ctx, monitor)
	case types.XMRLocked:
		return s.sendEncryptedSignature(ctx, monitor)
	case types.EncSigSent:
		return s.waitForOutcome(ctx, monitor)
	case types.CancelTimelockExpired:
		return s.onCancelTimelockExpired(ctx, monitor)
	case types.BTCCancelled, types.BTCRefundPublished:
		return s.broadcastTxRefund(ctx, monitor)
	default:
		return fmt.Errorf("taker: swap %s has no resumable status %s", s.id, s.info.Status)
	}
}

// txConfirmedHeight derives the height txid first confirmed at from
// ChainNotifier's confirmation count, since ChainNotifier exposes "how many
// confirmations" rather than "confirmed at which height" directly.
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

// waitErrCh runs wait in the background, delivering its result on the
// returned channel so it can be selected against other events.
func waitErrCh(ctx context.Context, wait func(context.Context) error) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- wait(ctx)
	}()
	return ch
}

// onTransferProof waits out Monero's confirmation depth and hands the
// maker an adaptor-encrypted TxRedeem signature. It does not
// cryptographically verify proof.Proof: no Monero tx-key-proof primitive
// exists in this codebase, so the maker's claimed txid is trusted and only
// the confirmation depth is enforced.
func (s *swapState) onTransferProof(ctx context.Context, proof *message.TransferProof, monitor *watcher.Monitor) error {
	s.transition(types.XMRLockProofReceived)
	_ = proof

	if _, err := monero.WaitForBlocks(ctx, s.backend.XMRClient(), monero.MinSpendConfirmations(s.backend.Env())); err != nil {
		return err
	}
	s.transition(types.XMRLocked)

	return s.sendEncryptedSignature(ctx, monitor)
}

// sendEncryptedSignature hands the maker an adaptor-encrypted signature for
// this node's TxRedeem slot, encrypted to the maker's secp256k1 point. The
// maker can trivially decrypt it (it already knows that point's discrete
// log) to get a valid signature, but recovering the encryption secret back
// out of the broadcast TxRedeem is what lets this node later claim the
// shared Monero output (spec §4.3's pivot).
func (s *swapState) sendEncryptedSignature(ctx context.Context, monitor *watcher.Monitor) error {
	sigHash, err := bitcoin.WitnessSigHash(s.txRedeem, 0, s.txLockRedeemScript, s.info.BTCAmount)
	if err != nil {
		return err
	}

	encSig, err := adaptor.EncSignECDSA(s.takerSecp, sigHash, s.makerSecp256k1Pub)
	if err != nil {
		return err
	}
	s.encSig = encSig

	if err := oneWaySend(ctx, s.backend.Net(), s.makerID, &message.EncryptedSignature{
		SwapID: s.id,
		EncSig: encSig,
	}); err != nil {
		return err
	}
	s.transition(types.EncSigSent)

	return s.waitForOutcome(ctx, monitor)
}

// waitForOutcome races observing a spend of TxLock's output against the
// cancel timelock expiring, covering both "the maker redeemed" and "the
// maker never showed up" (spec §4.5).
func (s *swapState) waitForOutcome(ctx context.Context, monitor *watcher.Monitor) error {
	type spendResult struct {
		ev  *watcher.SpendEvent
		err error
	}
	spendCh := make(chan spendResult, 1)
	go func() {
		ev, err := monitor.WaitAnySpendOf(ctx, s.txLockOutPoint)
		spendCh <- spendResult{ev, err}
	}()

	select {
	case r := <-spendCh:
		if r.err != nil {
			return r.err
		}
		return s.handleTxLockSpend(ctx, r.ev, monitor)
	case err := <-waitErrCh(ctx, monitor.WaitCancelExpired):
		if err != nil {
			return err
		}
		return s.onCancelTimelockExpired(ctx, monitor)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *swapState) handleTxLockSpend(ctx context.Context, ev *watcher.SpendEvent, monitor *watcher.Monitor) error {
	switch ev.Kind {
	case watcher.SpendRedeem:
		return s.onTxRedeemObserved(ctx, ev.Tx)
	case watcher.SpendCancel:
		s.transition(types.BTCCancelled)
		return s.broadcastTxRefund(ctx, monitor)
	case watcher.SpendEarlyRefund:
		s.transition(types.BTCEarlyRefundPublished)
		return s.finish(types.CompletedBTCEarlyRefunded, types.EndBTCEarlyRefunded)
	default:
		return fmt.Errorf("taker: unexpected spend of TxLock output: kind %v", ev.Kind)
	}
}

// onTxRedeemObserved extracts the maker's Monero spend secret from the
// broadcast TxRedeem's witness and sweeps the shared Monero output (spec
// §4.3's pivot completion).
func (s *swapState) onTxRedeemObserved(ctx context.Context, tx *wire.MsgTx) error {
	if len(tx.TxIn) == 0 {
		return fmt.Errorf("taker: observed TxRedeem carries no inputs")
	}

	sigBytes := witnessSigForPubkey(
		tx.TxIn[0].Witness,
		s.keys.Secp256k1PublicKey.Underlying(), s.makerSecp256k1Pub.Underlying(),
		s.keys.Secp256k1PublicKey.Underlying(),
	)
	if len(sigBytes) == 0 {
		return fmt.Errorf("taker: TxRedeem witness carries no signature for our slot")
	}

	sig, err := btcecdsa.ParseDERSignature(sigBytes[:len(sigBytes)-1])
	if err != nil {
		return fmt.Errorf("taker: failed to parse observed TxRedeem signature: %w", err)
	}

	secret := adaptor.RecoverECDSA(s.encSig, sig)
	makerSpendKey, err := mcrypto.NewPrivateSpendKey(secret)
	if err != nil {
		return fmt.Errorf("taker: recovered maker spend secret is invalid: %w", err)
	}

	kp := protocol.GetClaimKeypair(
		s.keys.PrivateKeyPair.SpendKey(), makerSpendKey,
		s.keys.PrivateKeyPair.ViewKey(), s.makerPrivateViewKey,
	)

	if err := protocol.ClaimMonero(
		ctx, s.backend.Env(), s.id, s.backend.XMRClient(), 0, kp, s.xmrDestAddr, true,
	); err != nil {
		return fmt.Errorf("taker: failed to claim monero: %w", err)
	}

	return s.finish(types.CompletedXMRRedeemed, types.EndXMRRedeemed)
}

// witnessSigForPubkey returns whichever of witness's two multisig signature
// slots belongs to target, matching the lexicographic pubkey ordering
// bitcoin.MultiSigWitness used to build the stack.
func witnessSigForPubkey(witness wire.TxWitness, aPub, bPub, target *btcec.PublicKey) []byte {
	if len(witness) < 3 {
		return nil
	}
	a, b := bitcoin.PubKeyBytes(aPub), bitcoin.PubKeyBytes(bPub)
	first := a
	if bytes.Compare(a, b) > 0 {
		first = b
	}
	if bytes.Equal(first, bitcoin.PubKeyBytes(target)) {
		return witness[1]
	}
	return witness[2]
}

// onCancelTimelockExpired broadcasts TxCancel then immediately TxRefund,
// since this node already holds the maker's signatures for both from setup
// (spec §4.2's race against TxPunish).
func (s *swapState) onCancelTimelockExpired(ctx context.Context, monitor *watcher.Monitor) error {
	s.transition(types.CancelTimelockExpired)

	if err := s.broadcastTxCancel(ctx); err != nil {
		return err
	}
	s.transition(types.BTCCancelled)

	return s.broadcastTxRefund(ctx, monitor)
}

func (s *swapState) broadcastTxCancel(ctx context.Context) error {
	ownSig, err := bitcoin.SignWitnessInput(
		s.txCancel, 0, s.txLockRedeemScript, s.info.BTCAmount, s.takerSecp.Underlying(),
	)
	if err != nil {
		return err
	}

	s.txCancel.TxIn[0].Witness = bitcoin.MultiSigWitness(
		s.txLockRedeemScript,
		s.keys.Secp256k1PublicKey.Underlying(), s.makerSecp256k1Pub.Underlying(),
		ownSig, s.makerTxCancelSig,
	)

	if _, err := s.backend.Sender().Send(ctx, s.txCancel); err != nil {
		return common.NewSwapError(common.KindTransientIO, fmt.Errorf("failed to broadcast TxCancel: %w", err))
	}
	return nil
}

// broadcastTxRefund signs TxRefund if it hasn't already been signed (the
// witness already being set means a prior attempt got at least that far
// before failing or this node restarting), then (re-)sends it if this swap
// hasn't yet recorded BTCRefundPublished -- a prior Send call can itself have
// failed transiently without the signing having to repeat -- and keeps
// racing the TxCancel output against TxPunish via waitForRefundOutcome
// instead of declaring victory the moment the broadcast call returns.
func (s *swapState) broadcastTxRefund(ctx context.Context, monitor *watcher.Monitor) error {
	if len(s.txRefund.TxIn[0].Witness) == 0 {
		ownSig, err := bitcoin.SignWitnessInput(
			s.txRefund, 0, s.txCancelRedeemScript, s.txCancel.TxOut[0].Value, s.takerSecp.Underlying(),
		)
		if err != nil {
			return err
		}

		s.txRefund.TxIn[0].Witness = bitcoin.CancelOutputWitness(
			s.txCancelRedeemScript,
			s.keys.Secp256k1PublicKey.Underlying(), s.makerSecp256k1Pub.Underlying(),
			ownSig, s.makerTxRefundSig, false,
		)
	}

	if s.info.Status != types.BTCRefundPublished {
		if _, err := s.backend.Sender().Send(ctx, s.txRefund); err != nil {
			cancelOutpoint := wire.OutPoint{Hash: s.txCancel.TxHash(), Index: 0}
			spendTx, findErr := s.backend.ChainNotifier().FindSpendingTx(ctx, cancelOutpoint)
			if findErr == nil && spendTx != nil &&
				s.backend.ChainNotifier().ClassifySpend(spendTx, cancelOutpoint) == watcher.SpendPunish {
				s.tryCooperativeXMRRedeem(ctx)
				return s.finish(types.CompletedBTCPunished, types.EndBTCPunished)
			}
			return common.NewSwapError(common.KindTransientIO, fmt.Errorf("taker: failed to broadcast TxRefund: %w", err))
		}

		s.transition(types.BTCRefundPublished)
	}

	return s.waitForRefundOutcome(ctx, monitor)
}

// waitForRefundOutcome watches the TxCancel output after TxRefund has
// broadcast, since a TxRefund that confirms once can still be reorged out in
// favor of a re-broadcast TxPunish before reaching confirmation depth (spec
// §9 scenario S5). It only returns once a spend of that output is confirmed.
func (s *swapState) waitForRefundOutcome(ctx context.Context, monitor *watcher.Monitor) error {
	cancelOutpoint := wire.OutPoint{Hash: s.txCancel.TxHash(), Index: 0}

	ev, err := monitor.WaitAnySpendOf(ctx, cancelOutpoint)
	if err != nil {
		return err
	}

	switch ev.Kind {
	case watcher.SpendRefund:
		return s.finish(types.CompletedBTCRefunded, types.EndBTCRefunded)
	case watcher.SpendPunish:
		s.tryCooperativeXMRRedeem(ctx)
		return s.finish(types.CompletedBTCPunished, types.EndBTCPunished)
	default:
		return fmt.Errorf("taker: unexpected spend of TxCancel output: kind %v", ev.Kind)
	}
}

// tryCooperativeXMRRedeem asks the maker to voluntarily disclose its Monero
// spend-key share now that it has already taken the BTC via TxPunish (spec
// §4.7's cooperative fallback). The maker may simply refuse; a failure here
// is logged, not propagated, since losing this race already has its own
// terminal status.
func (s *swapState) tryCooperativeXMRRedeem(ctx context.Context) {
	resp, err := s.backend.Net().SendSwapMessage(ctx, s.makerID, &message.CooperativeXMRRedeemRequest{SwapID: s.id})
	if err != nil {
		log.Warnf("swap %s: cooperative redeem request failed: %s", s.id, err)
		return
	}

	accepted, ok := resp.(*message.CooperativeXMRRedeemAccepted)
	if !ok {
		log.Infof("swap %s: maker declined cooperative redeem", s.id)
		return
	}

	var sb [32]byte
	copy(sb[:], accepted.Sb)
	if err := cooperative.ValidateRedeemDisclosure(s.makerSecp256k1Pub, sb); err != nil {
		log.Warnf("swap %s: maker's cooperative disclosure did not validate: %s", s.id, err)
		return
	}

	makerSpendKey, err := mcrypto.NewPrivateSpendKey(sb)
	if err != nil {
		log.Warnf("swap %s: invalid disclosed spend key: %s", s.id, err)
		return
	}

	kp := protocol.GetClaimKeypair(
		s.keys.PrivateKeyPair.SpendKey(), makerSpendKey,
		s.keys.PrivateKeyPair.ViewKey(), s.makerPrivateViewKey,
	)
	if err := protocol.ClaimMonero(
		ctx, s.backend.Env(), s.id, s.backend.XMRClient(), 0, kp, s.xmrDestAddr, true,
	); err != nil {
		log.Warnf("swap %s: failed to claim monero after cooperative redeem: %s", s.id, err)
	}
}

func (s *swapState) finish(status types.Status, end types.EndState) error {
	s.info.NotifyStatus(status)
	log.Infof("swap %s finished: %s", s.id, end)
	return s.backend.SwapManager().CompleteOngoingSwap(s.info)
}
