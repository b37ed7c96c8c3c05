package monero

import (
	"context"
	"fmt"
	"time"

	"github.com/monero-btc-swap/swapd/common"
	mcrypto "github.com/monero-btc-swap/swapd/crypto/monero"
)

func addressPrefix(env common.Environment) byte {
	switch env {
	case common.Mainnet:
		return mcrypto.MainnetAddressPrefix
	case common.Stagenet:
		return mcrypto.StagenetAddressPrefix
	default:
		return mcrypto.TestnetAddressPrefix
	}
}

func addressFromKeyPair(env common.Environment, kp *mcrypto.PrivateKeyPair) (string, error) {
	pub := kp.PublicKeyPair()
	addr := mcrypto.NewAddress(addressPrefix(env), pub.SpendKey(), pub.ViewKey())
	return addr.String(), nil
}

// sweepWalletPassword is used for the ephemeral wallet
// opened solely to sweep a claimed 2-of-2 output; it holds no other funds
// and is discarded once the sweep completes.
const (
	sweepWalletPassword = ""
	sweepPollInterval   = 5 * time.Second
)

// SweepToAddress opens (generating if needed) a wallet for the combined
// keypair kp, waits for its balance to unlock, and sweeps it to destAddr.
// This is how either party claims the shared 2-of-2 Monero output once it
// holds both spend secrets.
func SweepToAddress(
	ctx context.Context,
	client WalletClient,
	kp *mcrypto.PrivateKeyPair,
	restoreHeight uint64,
	destAddr string,
	sweepAll bool,
) error {
	walletName := fmt.Sprintf("swap-claim-%x", kp.PublicKeyPair().SpendKey().Bytes()[:8])

	if err := client.GenerateFromKeys(ctx, kp, walletName, sweepWalletPassword, restoreHeight); err != nil {
		return fmt.Errorf("failed to open claim wallet: %w", err)
	}
	defer func() {
		_ = client.Close(ctx)
	}()

	if err := client.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to refresh claim wallet: %w", err)
	}

	for {
		unlocked, total, err := client.GetBalance(ctx)
		if err != nil {
			return fmt.Errorf("failed to get claim wallet balance: %w", err)
		}
		if unlocked > 0 && unlocked == total {
			break
		}

		log.Debugf("waiting for claim wallet balance to unlock (%d/%d atomic units)", unlocked, total)
		if err := common.SleepWithContext(ctx, sweepPollInterval); err != nil {
			return err
		}
		if err := client.Refresh(ctx); err != nil {
			return fmt.Errorf("failed to refresh claim wallet: %w", err)
		}
	}

	if sweepAll {
		txs, err := client.SweepAll(ctx, destAddr)
		if err != nil {
			return fmt.Errorf("failed to sweep claim wallet: %w", err)
		}
		log.Infof("swept claimed monero to %s in %d transaction(s)", destAddr, len(txs))
		return nil
	}

	_, total, err := client.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("failed to get claim wallet balance: %w", err)
	}
	if _, err := client.Transfer(ctx, destAddr, total); err != nil {
		return fmt.Errorf("failed to transfer from claim wallet: %w", err)
	}
	return nil
}
