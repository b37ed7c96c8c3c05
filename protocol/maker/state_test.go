package maker

import (
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/require"
)

func TestToSatoshi(t *testing.T) {
	xmrAmount, _, err := apd.NewFromString("2.5")
	require.NoError(t, err)
	price, _, err := apd.NewFromString("0.006")
	require.NoError(t, err)

	sats, err := toSatoshi(xmrAmount, price)
	require.NoError(t, err)
	require.Equal(t, int64(1500000), sats)
}

func TestToPiconero(t *testing.T) {
	xmrAmount, _, err := apd.NewFromString("2.5")
	require.NoError(t, err)

	atomic, err := toPiconero(xmrAmount)
	require.NoError(t, err)
	require.Equal(t, uint64(2500000000000), atomic)
}

func TestToPiconero_Fractional(t *testing.T) {
	xmrAmount, _, err := apd.NewFromString("0.000000000001")
	require.NoError(t, err)

	atomic, err := toPiconero(xmrAmount)
	require.NoError(t, err)
	require.Equal(t, uint64(1), atomic)
}
