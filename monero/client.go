// Package monero wraps a monero-wallet-rpc client with the operations the
// swap protocol needs: generating/importing the shared 2-of-2 view-only and
// spend-capable wallets, watching for incoming transfers, and sweeping the
// claimed output once both spend secrets are known (spec §4.3, §6).
package monero

import (
	"context"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log"

	"github.com/MarinX/monerorpc"
	"github.com/MarinX/monerorpc/wallet"

	"github.com/monero-btc-swap/swapd/common"
	mcrypto "github.com/monero-btc-swap/swapd/crypto/monero"
)

var log = logging.Logger("monero")

// blockSleepDuration is how long WaitForBlocks sleeps between polls.
var blockSleepDuration = 10 * time.Second

// WalletClient is the black-box Monero wallet interface the maker and taker
// drivers depend on. It is satisfied by rpcWalletClient, backed by a real
// monero-wallet-rpc daemon, and can be faked out in tests.
type WalletClient interface {
	// GetHeight returns the current wallet/daemon block height.
	GetHeight(ctx context.Context) (uint64, error)

	// GetBalance returns the unlocked and total balance, in atomic units.
	GetBalance(ctx context.Context) (unlocked, total uint64, err error)

	// GenerateFromKeys imports (or opens, if it already exists) a wallet
	// from a spend/view keypair restoring from restoreHeight, used by both
	// parties to watch for (and, once both secrets are known, spend) the
	// shared 2-of-2 output.
	GenerateFromKeys(ctx context.Context, kp *mcrypto.PrivateKeyPair, filename, password string, restoreHeight uint64) error

	// SweepAll sweeps the entire unlocked balance of the currently open
	// wallet to destAddr.
	SweepAll(ctx context.Context, destAddr string) ([]string, error)

	// Transfer sends amount atomic units to destAddr without sweeping the
	// whole balance.
	Transfer(ctx context.Context, destAddr string, amount uint64) (string, error)

	// Refresh blocks until the wallet has synced to the daemon's height.
	Refresh(ctx context.Context) error

	// Close closes the currently open wallet.
	Close(ctx context.Context) error
}

type rpcWalletClient struct {
	env    common.Environment
	client monerorpc.Client
}

// NewWalletClient dials a monero-wallet-rpc endpoint.
func NewWalletClient(env common.Environment, endpoint string) WalletClient {
	return &rpcWalletClient{
		env:    env,
		client: monerorpc.New(monerorpc.NewClient(endpoint), nil),
	}
}

func (c *rpcWalletClient) GetHeight(_ context.Context) (uint64, error) {
	resp, err := c.client.Wallet.GetHeight()
	if err != nil {
		return 0, fmt.Errorf("failed to get wallet height: %w", err)
	}
	return resp.Height, nil
}

func (c *rpcWalletClient) GetBalance(_ context.Context) (uint64, uint64, error) {
	resp, err := c.client.Wallet.GetBalance(&wallet.GetBalanceRequest{})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return uint64(resp.UnlockedBalance), uint64(resp.Balance), nil
}

func (c *rpcWalletClient) GenerateFromKeys(
	_ context.Context,
	kp *mcrypto.PrivateKeyPair,
	filename, password string,
	restoreHeight uint64,
) error {
	addr, err := addressFromKeyPair(c.env, kp)
	if err != nil {
		return err
	}

	viewKey := kp.ViewKey().Bytes()
	_, err = c.client.Wallet.GenerateFromKeys(&wallet.GenerateFromKeysRequest{
		Filename:        filename,
		Address:         addr,
		SpendKey:        fmt.Sprintf("%x", kp.SpendKey().SpendKeyBytes()),
		ViewKey:         fmt.Sprintf("%x", viewKey[:]),
		Password:        password,
		RestoreHeight:   restoreHeight,
		AutosaveCurrent: true,
	})
	if err != nil {
		return fmt.Errorf("failed to generate wallet from keys: %w", err)
	}
	return nil
}

func (c *rpcWalletClient) SweepAll(_ context.Context, destAddr string) ([]string, error) {
	resp, err := c.client.Wallet.SweepAll(&wallet.SweepAllRequest{
		Address: destAddr,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sweep wallet: %w", err)
	}
	return resp.TxHashList, nil
}

func (c *rpcWalletClient) Transfer(_ context.Context, destAddr string, amount uint64) (string, error) {
	resp, err := c.client.Wallet.Transfer(&wallet.TransferRequest{
		Destinations: []wallet.Destination{
			{Address: destAddr, Amount: wallet.XMRAmount(amount)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to transfer: %w", err)
	}
	return resp.TxHash, nil
}

func (c *rpcWalletClient) Refresh(_ context.Context) error {
	_, err := c.client.Wallet.Refresh(&wallet.RefreshRequest{})
	if err != nil {
		return fmt.Errorf("failed to refresh wallet: %w", err)
	}
	return nil
}

func (c *rpcWalletClient) Close(_ context.Context) error {
	if err := c.client.Wallet.CloseWallet(); err != nil {
		return fmt.Errorf("failed to close wallet: %w", err)
	}
	return nil
}

// WaitForBlocks blocks until `count` new blocks have arrived, returning the
// new chain height. Used by the taker driver to wait out Monero's
// confirmation requirement before a lock is considered final.
func WaitForBlocks(ctx context.Context, client WalletClient, count uint64) (uint64, error) {
	start, err := client.GetHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get height: %w", err)
	}
	target := start + count

	for {
		height, err := client.GetHeight(ctx)
		if err != nil {
			return 0, err
		}
		if height >= target {
			if err := client.Refresh(ctx); err != nil {
				return 0, err
			}
			return height, nil
		}

		log.Debugf("waiting for monero height %d, currently at %d", target, height)
		if err := common.SleepWithContext(ctx, blockSleepDuration); err != nil {
			return 0, err
		}
	}
}
