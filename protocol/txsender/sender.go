// Package txsender broadcasts the swap's deterministic Bitcoin transactions
// and retries idempotently, adapted from the teacher's
// protocol/txsender.ExternalSender: where that package queued a transaction
// for a front-end signer and waited on a hash coming back over a channel,
// this one's wallet self-signs, so Send degrades to "broadcast, and treat
// already-in-mempool/-chain as success" (spec §4.3's idempotent
// TxCancel re-broadcast requirement, generalised to every tx this package
// sends).
package txsender

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/monero-btc-swap/swapd/bitcoin"
)

// Sender broadcasts fully-signed Bitcoin transactions on behalf of a swap
// driver.
type Sender interface {
	// Send broadcasts tx, returning its txid. Re-sending a transaction
	// already known to the network is not an error.
	Send(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error)
}

type sender struct {
	client bitcoin.WalletClient
}

// NewSender returns a Sender broadcasting through client.
func NewSender(client bitcoin.WalletClient) Sender {
	return &sender{client: client}
}

func (s *sender) Send(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error) {
	txid, err := s.client.Broadcast(ctx, tx)
	if err == nil {
		return txid, nil
	}

	if isAlreadyKnown(err) {
		return tx.TxHash(), nil
	}

	return chainhash.Hash{}, fmt.Errorf("failed to broadcast transaction %s: %w", tx.TxHash(), err)
}

// isAlreadyKnown reports whether err indicates the transaction was already
// accepted by the network (mempool or a block), which every wallet backend
// this package has been paired with signals via an error string rather
// than a typed sentinel.
func isAlreadyKnown(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already in mempool") ||
		strings.Contains(msg, "already known") ||
		strings.Contains(msg, "transaction already exists")
}

// ErrNotFound identifies a transaction the sender has no record of
// broadcasting. Sender keeps no such record, and nothing in this package
// returns it.
var ErrNotFound = errors.New("txsender: transaction not found")
