package common

import (
	"math/big"
	"time"
)

// Config holds every value recognised by the swap core, as described in
// spec §6. Price feed and RPC-surface options are owned by their respective
// external collaborators and are not part of this struct; the peer-transport
// settings (rendezvous points, listen and external addresses, hidden-service
// registration) are.
type Config struct {
	Env Environment

	// CancelTimelock is the number of Bitcoin blocks after TxLock
	// confirmation before TxCancel becomes spendable.
	CancelTimelock uint32
	// PunishTimelock is the number of Bitcoin blocks after TxCancel
	// confirmation before TxPunish becomes spendable.
	PunishTimelock uint32

	MinBuyBTC *big.Int // satoshi
	MaxBuyBTC *big.Int // satoshi

	// AskSpread is a rational in [0,1] applied to the price feed to compute
	// the maker's ask.
	AskSpread float64

	TargetBlock                 uint32
	BitcoinFinalityConfirmations uint32
	MoneroFinalityConfirmations  uint32

	ElectrumRPCURL     string
	MoneroWalletRPCURL string

	RendezvousPoints  []string
	Listen            []string
	ExternalAddresses []string
	RegisterHiddenService bool

	DataDir string

	// WireMessageTimeout bounds how long the driver waits for a single
	// request/response round before retrying (spec §5, "per-wire-message
	// timeout").
	WireMessageTimeout time.Duration
	// WireMessageRetries bounds the number of retries before a timed-out
	// message surfaces as a TransientIO failure.
	WireMessageRetries int
}

// ConfigDefaultsForEnv returns a new *Config with conservative defaults for
// the given environment. Each call returns a distinct instance.
func ConfigDefaultsForEnv(env Environment) *Config {
	c := &Config{
		Env:                          env,
		CancelTimelock:               12,
		PunishTimelock:               24,
		AskSpread:                    0.01,
		TargetBlock:                  3,
		BitcoinFinalityConfirmations: 1,
		MoneroFinalityConfirmations:  10,
		MinBuyBTC:                    big.NewInt(10_000),    // 0.0001 BTC
		MaxBuyBTC:                    big.NewInt(1_000_000), // 0.01 BTC
		WireMessageTimeout:           30 * time.Second,
		WireMessageRetries:           3,
	}

	switch env {
	case Mainnet:
		c.CancelTimelock = 72
		c.PunishTimelock = 144
		c.BitcoinFinalityConfirmations = 3
	case Stagenet:
		c.MoneroFinalityConfirmations = 5
	case Development:
		c.CancelTimelock = 6
		c.PunishTimelock = 12
		c.BitcoinFinalityConfirmations = 1
		c.MoneroFinalityConfirmations = 2
	}

	return c
}

// Validate checks the invariants spec §4.2 and §6 require of a Config
// before it is used to start a swap.
func (c *Config) Validate() error {
	if c.CancelTimelock >= c.PunishTimelock {
		return errCancelNotBeforePunish
	}
	if c.MinBuyBTC == nil || c.MaxBuyBTC == nil || c.MinBuyBTC.Cmp(c.MaxBuyBTC) > 0 {
		return errInvalidBuyBounds
	}
	if c.AskSpread < 0 || c.AskSpread > 1 {
		return errInvalidAskSpread
	}
	return nil
}
