// Package eventloop runs the maker side as a standalone background
// process: it runs on a libp2p host whose lifetime the caller owns, holds
// the standing offer, and periodically
// refreshes the quoted price so long-lived offers don't go stale between
// QuoteRequests. Adapted from the teacher's instance-level wiring (a single
// top-level type gluing together a backend, a net.Host, and a protocol
// driver), generalised into an explicit run loop instead of being folded
// into a constructor.
package eventloop

import (
	"context"
	"time"

	logging "github.com/ipfs/go-log"

	"github.com/monero-btc-swap/swapd/net"
	"github.com/monero-btc-swap/swapd/protocol/backend"
	"github.com/monero-btc-swap/swapd/protocol/maker"
	"github.com/monero-btc-swap/swapd/protocol/offers"
)

var log = logging.Logger("eventloop")

// refreshInterval is how often the loop recomputes and re-quotes the
// standing offer from its price source, independent of inbound
// QuoteRequests.
const refreshInterval = 30 * time.Second

// Loop drives a maker process for as long as its context stays alive: it
// keeps the offer book warm and logs every refresh failure rather than
// tearing the process down over a transient price-source outage.
type Loop struct {
	backend backend.Backend
	host    *net.Host
	offers  *offers.Manager
	mk      *maker.Maker

	doneCh chan struct{}
}

// New wires a Maker instance into host and registers it as the host's
// handler set. The caller still owns host's lifetime (Stop, bootnode
// connections); Run only drives the offer-refresh loop.
func New(b backend.Backend, host *net.Host, offerMgr *offers.Manager) *Loop {
	mk := maker.New(b, offerMgr)
	host.SetHandlers(mk, mk)

	return &Loop{
		backend: b,
		host:    host,
		offers:  offerMgr,
		mk:      mk,
		doneCh:  make(chan struct{}),
	}
}

// Run blocks, refreshing the standing offer every refreshInterval until
// ctx is cancelled. Intended to be launched as `go loop.Run(ctx)`
// immediately after New.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.doneCh)

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	l.refresh()

	for {
		select {
		case <-ticker.C:
			l.refresh()
		case <-ctx.Done():
			log.Infof("event loop stopping: %s", ctx.Err())
			return
		}
	}
}

// Done returns a channel closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.doneCh
}

func (l *Loop) refresh() {
	if _, err := l.offers.GetQuote(); err != nil {
		log.Warnf("failed to refresh standing offer: %s", err)
	}
}
