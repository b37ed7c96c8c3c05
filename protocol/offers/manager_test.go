package offers

import (
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/require"
)

type fakePriceSource struct {
	price *apd.Decimal
}

func (f *fakePriceSource) Price() (*apd.Decimal, error) { return f.price, nil }

func TestGetQuoteAppliesSpread(t *testing.T) {
	m, err := NewManager(&fakePriceSource{price: apd.New(100, 0)}, apd.New(5, -2), apd.New(1, -1), apd.New(10, 0))
	require.NoError(t, err)

	quote, err := m.GetQuote()
	require.NoError(t, err)
	require.Equal(t, 0, quote.Price.Cmp(apd.New(105, 0)))
}

func TestValidateAmountRejectsOutOfRange(t *testing.T) {
	m, err := NewManager(&fakePriceSource{price: apd.New(100, 0)}, apd.New(0, 0), apd.New(1, -1), apd.New(10, 0))
	require.NoError(t, err)
	_, err = m.GetQuote()
	require.NoError(t, err)

	require.NoError(t, m.ValidateAmount(apd.New(5, 0)))
	require.ErrorIs(t, m.ValidateAmount(apd.New(20, 0)), ErrAmountOutOfRange)
}

func TestNewManagerRejectsInvertedRange(t *testing.T) {
	_, err := NewManager(&fakePriceSource{price: apd.New(100, 0)}, apd.New(0, 0), apd.New(10, 0), apd.New(1, -1))
	require.Error(t, err)
}
