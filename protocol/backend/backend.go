// Package backend bundles the shared services both protocol/taker and
// protocol/maker need to drive a swap: persistence, the swap manager, the
// Bitcoin and Monero wallet clients, the peer network, and process-lifetime
// context. Adapted from the teacher's protocol/backend split of "the bits
// every swapState needs" out of the per-swap driver itself.
package backend

import (
	"context"

	"github.com/monero-btc-swap/swapd/bitcoin"
	"github.com/monero-btc-swap/swapd/common"
	"github.com/monero-btc-swap/swapd/db"
	"github.com/monero-btc-swap/swapd/monero"
	"github.com/monero-btc-swap/swapd/net"
	"github.com/monero-btc-swap/swapd/protocol/swap"
	"github.com/monero-btc-swap/swapd/protocol/txsender"
	"github.com/monero-btc-swap/swapd/watcher"
)

// Backend is the interface both role drivers depend on. It is deliberately
// an interface, not a struct, so tests can substitute fakes for the wallet
// clients and network host without standing up real nodes.
type Backend interface {
	Ctx() context.Context
	Env() common.Environment

	BTCClient() bitcoin.WalletClient
	XMRClient() monero.WalletClient
	ChainNotifier() watcher.ChainNotifier
	Sender() txsender.Sender

	Net() *net.Host
	SwapManager() swap.Manager
	SwapDB() db.Database

	CancelTimelock() uint32
	PunishTimelock() uint32
}

// backend is Backend's concrete implementation, constructed once per swapd
// process and shared by every in-flight swap driver.
type backend struct {
	ctx context.Context
	env common.Environment

	btcClient     bitcoin.WalletClient
	xmrClient     monero.WalletClient
	chainNotifier watcher.ChainNotifier
	sender        txsender.Sender

	net         *net.Host
	swapManager swap.Manager
	swapDB      db.Database

	cancelTimelock uint32
	punishTimelock uint32
}

// Config bundles the constructor arguments for a new Backend.
type Config struct {
	Ctx            context.Context
	Env            common.Environment
	BTCClient      bitcoin.WalletClient
	XMRClient      monero.WalletClient
	ChainNotifier  watcher.ChainNotifier
	Sender         txsender.Sender
	Net            *net.Host
	SwapManager    swap.Manager
	SwapDB         db.Database
	CancelTimelock uint32
	PunishTimelock uint32
}

// NewBackend constructs a Backend from cfg.
func NewBackend(cfg *Config) Backend {
	return &backend{
		ctx:            cfg.Ctx,
		env:            cfg.Env,
		btcClient:      cfg.BTCClient,
		xmrClient:      cfg.XMRClient,
		chainNotifier:  cfg.ChainNotifier,
		sender:         cfg.Sender,
		net:            cfg.Net,
		swapManager:    cfg.SwapManager,
		swapDB:         cfg.SwapDB,
		cancelTimelock: cfg.CancelTimelock,
		punishTimelock: cfg.PunishTimelock,
	}
}

func (b *backend) Ctx() context.Context               { return b.ctx }
func (b *backend) Env() common.Environment             { return b.env }
func (b *backend) BTCClient() bitcoin.WalletClient     { return b.btcClient }
func (b *backend) XMRClient() monero.WalletClient      { return b.xmrClient }
func (b *backend) ChainNotifier() watcher.ChainNotifier { return b.chainNotifier }
func (b *backend) Sender() txsender.Sender             { return b.sender }
func (b *backend) Net() *net.Host                      { return b.net }
func (b *backend) SwapManager() swap.Manager           { return b.swapManager }
func (b *backend) SwapDB() db.Database                 { return b.swapDB }
func (b *backend) CancelTimelock() uint32              { return b.cancelTimelock }
func (b *backend) PunishTimelock() uint32              { return b.punishTimelock }
