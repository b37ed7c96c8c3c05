// Package offers implements the maker's standing-offer book and quote
// computation (spec §4.6): a configured [min_buy, max_buy] XMR range and a
// PriceSource + ask_spread combine into the BidQuote served to inbound
// QuoteRequests.
package offers

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/apd/v3"

	"github.com/monero-btc-swap/swapd/common/types"
)

// ErrAmountOutOfRange is returned when a taker's proposed swap amount falls
// outside the maker's currently configured [min_buy, max_buy] bounds.
var ErrAmountOutOfRange = errors.New("offers: amount outside configured [min, max] range")

// PriceSource returns the current mid-market BTC-per-XMR price. Concrete
// implementations poll an exchange API or a local price oracle; neither is
// bundled here, matching spec's "price feed" external dependency.
type PriceSource interface {
	Price() (*apd.Decimal, error)
}

// Manager owns the maker's single standing Offer and computes BidQuotes
// from it, the way bingcicle-atomic-swap's xmrmaker/offers.Manager bridges
// a configured offer to the wire-level quote response.
type Manager struct {
	mu sync.RWMutex

	price     PriceSource
	askSpread *apd.Decimal // fraction added on top of the mid-market price, e.g. 0.03 for 3%

	minAmount *apd.Decimal // XMR
	maxAmount *apd.Decimal // XMR

	current *types.Offer
}

// NewManager constructs an offers.Manager quoting within [minAmount,
// maxAmount] XMR, priced at price.Price() * (1 + askSpread).
func NewManager(price PriceSource, askSpread, minAmount, maxAmount *apd.Decimal) (*Manager, error) {
	if minAmount.Cmp(maxAmount) > 0 {
		return nil, errors.New("offers: minAmount must be <= maxAmount")
	}
	return &Manager{
		price:     price,
		askSpread: askSpread,
		minAmount: minAmount,
		maxAmount: maxAmount,
	}, nil
}

// GetQuote recomputes the current offer from the price source and returns
// its BidQuote. A fresh types.Offer is minted on every call, since the
// offer's nonce and ID are part of what SwapSetup commits to.
func (m *Manager) GetQuote() (*types.BidQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mid, err := m.price.Price()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch price: %w", err)
	}

	price := new(apd.Decimal)
	ctx := apd.BaseContext.WithPrecision(32)
	spreadFactor := new(apd.Decimal)
	_, _ = ctx.Add(spreadFactor, apd.New(1, 0), m.askSpread)
	_, _ = ctx.Mul(price, mid, spreadFactor)

	offer, err := types.NewOffer(m.minAmount, m.maxAmount, price)
	if err != nil {
		return nil, err
	}
	m.current = offer

	return types.QuoteFromOffer(offer), nil
}

// ValidateAmount checks that a taker's requested XMR amount falls within
// the offer most recently quoted (spec §4.6 step 2).
func (m *Manager) ValidateAmount(amount *apd.Decimal) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return errors.New("offers: no offer has been quoted yet")
	}
	if amount.Cmp(m.current.MinAmount) < 0 || amount.Cmp(m.current.MaxAmount) > 0 {
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrAmountOutOfRange, amount, m.current.MinAmount, m.current.MaxAmount)
	}
	return nil
}

// CurrentOffer returns the most recently quoted offer, or nil if none has
// been quoted yet.
func (m *Manager) CurrentOffer() *types.Offer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}
