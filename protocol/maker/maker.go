// Package maker drives a swap from the XMR-selling side (Alice in spec
// §4.6): the role that answers quotes, accepts an inbound SwapSetup, locks
// Monero once BTC is confirmed locked, and decrypts + broadcasts TxRedeem to
// complete the pivot. Adapted from the teacher's protocol/xmrmaker
// swapState, generalised from an Ethereum-contract counterparty to a
// Bitcoin 2-of-2 multisig counterparty.
package maker

import (
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/monero-btc-swap/swapd/common/types"
	"github.com/monero-btc-swap/swapd/net"
	"github.com/monero-btc-swap/swapd/net/message"
	"github.com/monero-btc-swap/swapd/protocol/backend"
	"github.com/monero-btc-swap/swapd/protocol/offers"
)

var log = logging.Logger("maker")

// Maker answers quotes against a standing offers.Manager and spins up a new
// swapState for every SwapSetup a taker commits to. It implements both
// net.QuoteHandler and net.CooperativeHandler.
type Maker struct {
	backend backend.Backend
	offers  *offers.Manager

	mu    sync.Mutex
	swaps map[types.SwapID]*swapState
}

// New returns a Maker quoting from offerMgr's standing offer.
func New(b backend.Backend, offerMgr *offers.Manager) *Maker {
	return &Maker{backend: b, offers: offerMgr, swaps: make(map[types.SwapID]*swapState)}
}

// GetQuote implements net.QuoteHandler.
func (mk *Maker) GetQuote() (*message.QuoteResponse, error) {
	quote, err := mk.offers.GetQuote()
	if err != nil {
		return nil, fmt.Errorf("maker: failed to compute quote: %w", err)
	}
	return &message.QuoteResponse{Quote: quote}, nil
}

// HandleInitiateMessage implements net.QuoteHandler: it validates the
// taker's proposed amount against the standing offer, generates this node's
// half of the key material, and begins a new swap driver (spec §4.6 step 2
// onward). The returned SendKeysMessage is written back to the taker as the
// direct response to its own; everything from here runs in a background
// goroutine, started before this reply is written.
func (mk *Maker) HandleInitiateMessage(from peer.ID, msg *message.SendKeysMessage) (net.SwapState, net.Message, error) {
	if err := mk.offers.ValidateAmount(msg.ProvidedAmount); err != nil {
		return nil, nil, fmt.Errorf("maker: %w", err)
	}

	quote := mk.offers.CurrentOffer()
	if quote == nil {
		return nil, nil, fmt.Errorf("maker: no offer has been quoted yet")
	}

	s, reply, err := newSwapState(mk.backend, from, msg, types.QuoteFromOffer(quote))
	if err != nil {
		return nil, nil, fmt.Errorf("maker: failed to start swap: %w", err)
	}

	mk.backend.Net().RegisterSwap(s)
	if err := mk.backend.SwapManager().AddSwap(s.info); err != nil {
		mk.backend.Net().DeregisterSwap(s.id)
		return nil, nil, err
	}

	mk.mu.Lock()
	mk.swaps[s.id] = s
	mk.mu.Unlock()

	go s.run()

	return s, reply, nil
}

// ResumeOngoingSwaps reconstructs every ongoing maker swap the swap manager
// loaded from storage at startup and resumes each from wherever it left off
// (spec §9's crash-recovery contract). A swap that never reached
// KeysExchanged never built a transaction and has nothing worth
// reconstructing, so it is simply marked aborted.
func (mk *Maker) ResumeOngoingSwaps() {
	swaps, err := mk.backend.SwapManager().GetOngoingSwaps()
	if err != nil {
		log.Errorf("maker: failed to list ongoing swaps: %s", err)
		return
	}

	for _, info := range swaps {
		if info.Role != types.Maker {
			continue
		}

		if info.Status == types.Started {
			info.NotifyStatus(types.CompletedSafelyAborted)
			if err := mk.backend.SwapManager().CompleteOngoingSwap(info); err != nil {
				log.Warnf("maker: failed to abort unresumable swap %s: %s", info.SwapID, err)
			}
			continue
		}

		s, err := resumeSwapState(mk.backend, info)
		if err != nil {
			log.Errorf("maker: failed to resume swap %s: %s", info.SwapID, err)
			continue
		}

		mk.backend.Net().RegisterSwap(s)
		mk.mu.Lock()
		mk.swaps[info.SwapID] = s
		mk.mu.Unlock()

		go s.resume()
	}
}

// HandleCooperativeXMRRedeemRequest implements net.CooperativeHandler: a
// punished taker may ask this maker to disclose its own Monero spend-key
// share so the punished party can at least recover the XMR it otherwise
// could never reach (spec §4.7, the symmetric case of protocol/taker's
// handler).
func (mk *Maker) HandleCooperativeXMRRedeemRequest(req *message.CooperativeXMRRedeemRequest) (net.Message, error) {
	mk.mu.Lock()
	s, ok := mk.swaps[req.SwapID]
	mk.mu.Unlock()
	if !ok {
		return &message.CooperativeXMRRedeemRejected{SwapID: req.SwapID, Reason: "unknown swap"}, nil
	}

	if s.info.Status != types.CompletedBTCPunished {
		return &message.CooperativeXMRRedeemRejected{
			SwapID: req.SwapID,
			Reason: "swap has not reached a punished outcome",
		}, nil
	}

	sb := s.makerSecp.Bytes()
	return &message.CooperativeXMRRedeemAccepted{SwapID: req.SwapID, Sb: sb[:]}, nil
}
