// Package bitcoin builds the six deterministic transactions the swap
// protocol signs over (spec §4.2): TxLock, TxRedeem, TxCancel, TxRefund,
// TxEarlyRefund, and TxPunish. Every builder is a pure function of
// (public keys, timelocks, addresses, amount, fee) and never touches a
// wallet directly; broadcasting is the caller's job via WalletClient.
package bitcoin

import (
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/monero-btc-swap/swapd/common"
)

// ErrInvalidTimelocks is returned when cancel_timelock >= punish_timelock,
// violating the invariant from spec §4.2.
var ErrInvalidTimelocks = errors.New("bitcoin: cancel_timelock must be strictly less than punish_timelock")

// ChainParams picks the *chaincfg.Params matching a configured network name.
func ChainParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest", "development":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, errors.New("bitcoin: unknown network " + network)
	}
}

// NetworkName maps the shared common.Environment network tier (used for both
// the Bitcoin and Monero sides of a swap) to the Bitcoin network name
// ChainParams expects. Bitcoin has no "stagenet" of its own, so Stagenet
// maps to Bitcoin's testnet.
func NetworkName(env common.Environment) string {
	switch env {
	case common.Mainnet:
		return "mainnet"
	case common.Stagenet:
		return "testnet"
	default:
		return "development"
	}
}

// ValidateTimelocks enforces the cancel < punish invariant spec §4.2 requires
// at the Started state, before any transaction is built.
func ValidateTimelocks(cancelTimelock, punishTimelock uint32) error {
	if cancelTimelock == 0 || punishTimelock == 0 || cancelTimelock >= punishTimelock {
		return ErrInvalidTimelocks
	}
	return nil
}

// PubKeyBytes returns the 33-byte compressed encoding used throughout the
// script builders.
func PubKeyBytes(k *btcec.PublicKey) []byte {
	return k.SerializeCompressed()
}
