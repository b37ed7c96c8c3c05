// Package swap provides the management layer tracking current and past
// swaps, keyed by SwapId, adapted from the teacher pack's swap manager to
// spec §3's entity model (Swap = SwapId + Role + SwapState + Peer) and
// spec §4.4's persistence contract.
package swap

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/monero-btc-swap/swapd/common/types"
)

// Info is the manager's in-memory summary of a swap: enough to answer
// "is this swap ongoing" and "what were its terms" without deserialising
// the full per-role tagged-union state.
type Info struct {
	SwapID      types.SwapID `json:"swapID"`
	Role        types.Role   `json:"role"`
	Peer        string       `json:"peer"`
	BTCAmount   int64        `json:"btcAmount"`   // satoshi
	XMRAmount   *apd.Decimal `json:"xmrAmount"`   // XMR
	ExchangeRate *apd.Decimal `json:"exchangeRate"` // BTC per XMR
	Status      types.Status `json:"status"`
	StartTime   time.Time    `json:"startTime"`
	EndTime     *time.Time   `json:"endTime,omitempty"`

	// RoleState carries the role driver's own recoverable state (keys,
	// built transactions, counterparty signatures, the adaptor-encrypted
	// signature), opaque to this package. protocol/taker and protocol/maker
	// marshal their persistedState into it on every transition past
	// KeysExchanged and unmarshal it back out to rebuild a driver on
	// restart (spec §4.4/§9's crash-recovery contract). Empty until the
	// first transition past Started.
	RoleState json.RawMessage `json:"roleState,omitempty"`

	// StatusCh streams status updates to anyone observing this swap (a CLI,
	// a GUI event emitter); nil-safe via NotifyStatus.
	StatusCh chan types.Status `json:"-"`
}

// NewInfo constructs an Info for a freshly-started swap.
func NewInfo(
	id types.SwapID,
	role types.Role,
	peer string,
	btcAmount int64,
	xmrAmount, exchangeRate *apd.Decimal,
	status types.Status,
	statusCh chan types.Status,
) *Info {
	return &Info{
		SwapID:       id,
		Role:         role,
		Peer:         peer,
		BTCAmount:    btcAmount,
		XMRAmount:    xmrAmount,
		ExchangeRate: exchangeRate,
		Status:       status,
		StartTime:    time.Now(),
		StatusCh:     statusCh,
	}
}

// NotifyStatus pushes a status update if anyone is listening, without
// blocking if the channel is unbuffered and has no reader (spec §9's
// "dynamic dispatch ... model as an interface with a no-op implementation"
// principle applied to an optional channel instead of an interface).
func (i *Info) NotifyStatus(s types.Status) {
	i.Status = s
	if i.StatusCh == nil {
		return
	}
	select {
	case i.StatusCh <- s:
	default:
	}
}
