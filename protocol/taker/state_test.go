package taker

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

func TestToSatoshi_Rounds(t *testing.T) {
	xmrAmount, _, err := apd.NewFromString("1")
	require.NoError(t, err)
	price, _, err := apd.NewFromString("0.00000001234")
	require.NoError(t, err)

	sats, err := toSatoshi(xmrAmount, price)
	require.NoError(t, err)
	require.Equal(t, int64(1), sats)
}
