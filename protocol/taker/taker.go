// Package taker drives a swap from the BTC-buying side (Bob in spec §3):
// the role that locks bitcoin and, once the Monero side is locked and
// confirmed, hands the maker an adaptor-encrypted TxRedeem signature to
// trigger the atomic pivot. Adapted from the teacher's protocol/xmrtaker
// swapState, generalised from ETH/Ethereum-contract swaps to Bitcoin
// 2-of-2 multisig transactions.
package taker

import (
	"context"
	"fmt"
	"sync"

	"github.com/cockroachdb/apd/v3"
	"github.com/libp2p/go-libp2p/core/peer"
	logging "github.com/ipfs/go-log"

	"github.com/monero-btc-swap/swapd/common/types"
	"github.com/monero-btc-swap/swapd/net"
	"github.com/monero-btc-swap/swapd/net/message"
	"github.com/monero-btc-swap/swapd/protocol/backend"
	"github.com/monero-btc-swap/swapd/protocol/swap"
)

var log = logging.Logger("taker")

// Taker originates new swaps against a known maker, then hands each one off
// to its own swapState driver. It also implements net.CooperativeHandler:
// the maker, having punished a non-cooperative taker, may ask this same
// node (now acting as the punished party) to disclose its Monero spend-key
// share so the maker can at least recover its own locked XMR (spec §4.7).
type Taker struct {
	backend backend.Backend

	mu    sync.Mutex
	swaps map[types.SwapID]*swapState
}

// New returns a Taker built on b.
func New(b backend.Backend) *Taker {
	return &Taker{backend: b, swaps: make(map[types.SwapID]*swapState)}
}

// InitiateSwap dials makerAddr, requests a quote, and if xmrAmount falls
// within it, begins a new swap buying that much Monero, locking BTC at the
// quoted price (spec §4.1's SwapSetup, round 1). xmrDestAddr is the Monero
// address this node sweeps its received funds to once the swap completes.
// InitiateSwap returns once SwapSetup completes and TxLock has broadcast;
// the remainder of the swap runs in the background, observable via the
// returned *swap.Info's StatusCh.
func (t *Taker) InitiateSwap(ctx context.Context, makerAddr string, xmrAmount *apd.Decimal, xmrDestAddr string) (*swap.Info, error) {
	makerID, err := t.backend.Net().Connect(makerAddr)
	if err != nil {
		return nil, fmt.Errorf("taker: failed to connect to maker: %w", err)
	}

	quoteResp, err := t.backend.Net().QueryPeer(ctx, makerID)
	if err != nil {
		return nil, fmt.Errorf("taker: failed to query maker quote: %w", err)
	}
	if err := validateAmount(quoteResp.Quote, xmrAmount); err != nil {
		return nil, err
	}

	id, err := types.NewSwapID()
	if err != nil {
		return nil, err
	}

	s, err := newSwapState(t.backend, id, makerID, xmrAmount, quoteResp.Quote, xmrDestAddr)
	if err != nil {
		return nil, err
	}

	t.backend.Net().RegisterSwap(s)
	if err := t.backend.SwapManager().AddSwap(s.info); err != nil {
		t.backend.Net().DeregisterSwap(id)
		return nil, err
	}

	t.mu.Lock()
	t.swaps[id] = s
	t.mu.Unlock()

	if err := s.setup(ctx); err != nil {
		t.backend.Net().DeregisterSwap(id)
		return nil, fmt.Errorf("taker: swap setup failed: %w", err)
	}

	go s.run()

	return s.info, nil
}

// ResumeOngoingSwaps reconstructs every ongoing taker swap the swap manager
// loaded from storage at startup and resumes each from wherever it left off
// (spec §9's crash-recovery contract). A swap that never reached BTCLocked
// has no TxLock broadcast recorded to resume from, so it is simply marked
// aborted: the taker locked no funds and has nothing to lose by giving up.
func (t *Taker) ResumeOngoingSwaps() {
	swaps, err := t.backend.SwapManager().GetOngoingSwaps()
	if err != nil {
		log.Errorf("taker: failed to list ongoing swaps: %s", err)
		return
	}

	for _, info := range swaps {
		if info.Role != types.Taker {
			continue
		}

		if info.Status == types.Started || info.Status == types.KeysExchanged {
			info.NotifyStatus(types.CompletedSafelyAborted)
			if err := t.backend.SwapManager().CompleteOngoingSwap(info); err != nil {
				log.Warnf("taker: failed to abort unresumable swap %s: %s", info.SwapID, err)
			}
			continue
		}

		s, err := resumeSwapState(t.backend, info)
		if err != nil {
			log.Errorf("taker: failed to resume swap %s: %s", info.SwapID, err)
			continue
		}

		t.backend.Net().RegisterSwap(s)
		t.mu.Lock()
		t.swaps[info.SwapID] = s
		t.mu.Unlock()

		go s.resume()
	}
}

// HandleCooperativeXMRRedeemRequest answers the maker's post-punish request
// for this node's Monero spend-key share. It is only granted once this
// node's own swap has actually reached a punished outcome; disclosing the
// share lets the maker recover the Monero it otherwise can no longer reach.
func (t *Taker) HandleCooperativeXMRRedeemRequest(req *message.CooperativeXMRRedeemRequest) (net.Message, error) {
	t.mu.Lock()
	s, ok := t.swaps[req.SwapID]
	t.mu.Unlock()
	if !ok {
		return &message.CooperativeXMRRedeemRejected{SwapID: req.SwapID, Reason: "unknown swap"}, nil
	}

	if s.info.Status != types.CompletedBTCPunished {
		return &message.CooperativeXMRRedeemRejected{
			SwapID: req.SwapID,
			Reason: "swap has not reached a punished outcome",
		}, nil
	}

	sb := s.takerSecp.Bytes()
	return &message.CooperativeXMRRedeemAccepted{SwapID: req.SwapID, Sb: sb[:]}, nil
}

func validateAmount(quote *types.BidQuote, amount *apd.Decimal) error {
	var cmp apd.Decimal
	ctx := apd.BaseContext
	if _, err := ctx.Cmp(&cmp, amount, quote.MinQuantity); err != nil {
		return err
	}
	if cmp.Sign() < 0 {
		return fmt.Errorf("taker: amount %s below maker's minimum %s", amount, quote.MinQuantity)
	}
	if _, err := ctx.Cmp(&cmp, amount, quote.MaxQuantity); err != nil {
		return err
	}
	if cmp.Sign() > 0 {
		return fmt.Errorf("taker: amount %s above maker's maximum %s", amount, quote.MaxQuantity)
	}
	return nil
}

// oneWaySend delivers msg to p without expecting a reply: every protocol
// message past the initial SendKeysMessage exchange is dispatched by
// net.Host to the recipient's HandleProtocolMessage, which never produces a
// response frame, so the stream closes without one being written. That
// shows up here as a read error on an empty frame, which is the expected
// shape of "delivered, no reply" rather than a real failure.
func oneWaySend(ctx context.Context, h *net.Host, p peer.ID, msg net.Message) error {
	_, err := h.SendSwapMessage(ctx, p, msg)
	if err != nil && !net.IsNoResponseExpected(err) {
		return err
	}
	return nil
}
