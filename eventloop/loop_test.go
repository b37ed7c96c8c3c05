package eventloop

import (
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/require"

	"github.com/monero-btc-swap/swapd/protocol/offers"
)

type fakePriceSource struct {
	price *apd.Decimal
}

func (f *fakePriceSource) Price() (*apd.Decimal, error) { return f.price, nil }

func TestLoop_Refresh(t *testing.T) {
	price, _, err := apd.NewFromString("0.006")
	require.NoError(t, err)
	minAmount, _, err := apd.NewFromString("0.1")
	require.NoError(t, err)
	maxAmount, _, err := apd.NewFromString("10")
	require.NoError(t, err)
	askSpread, _, err := apd.NewFromString("0.03")
	require.NoError(t, err)

	offerMgr, err := offers.NewManager(&fakePriceSource{price: price}, askSpread, minAmount, maxAmount)
	require.NoError(t, err)

	l := &Loop{offers: offerMgr, doneCh: make(chan struct{})}
	l.refresh()

	quote, err := offerMgr.GetQuote()
	require.NoError(t, err)
	require.Equal(t, 0, quote.MinQuantity.Cmp(minAmount))
}
