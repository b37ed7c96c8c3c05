package types

// Status is the coarse-grained swap lifecycle stage used by the swap
// manager and persistence layer to decide whether a swap is still ongoing.
// It is deliberately coarser than the per-role tagged-union SwapState types
// in protocol/taker and protocol/maker, which carry the full secret/signature
// material spec §3 requires; Status exists only so the manager can answer
// "is this swap still actionable" without deserialising the full state.
type Status byte

const (
	// Started is the stage immediately after a quote is accepted.
	Started Status = iota
	KeysExchanged
	BTCLocked
	XMRLockProofReceived
	XMRLocked
	EncSigSent
	BTCRedeemed
	CancelTimelockExpired
	BTCCancelled
	BTCRefundPublished
	BTCEarlyRefundPublished
	BTCPunished
	CompletedXMRRedeemed
	CompletedBTCRefunded
	CompletedBTCEarlyRefunded
	CompletedBTCPunished
	CompletedSafelyAborted
)

// IsOngoing returns true if the swap has not yet reached one of its
// terminal statuses.
func (s Status) IsOngoing() bool {
	switch s {
	case BTCRedeemed, CompletedXMRRedeemed, CompletedBTCRefunded, CompletedBTCEarlyRefunded,
		CompletedBTCPunished, CompletedSafelyAborted:
		return false
	default:
		return true
	}
}

func (s Status) String() string {
	switch s {
	case Started:
		return "Started"
	case KeysExchanged:
		return "KeysExchanged"
	case BTCLocked:
		return "BTCLocked"
	case XMRLockProofReceived:
		return "XMRLockProofReceived"
	case XMRLocked:
		return "XMRLocked"
	case EncSigSent:
		return "EncSigSent"
	case BTCRedeemed:
		return "BTCRedeemed"
	case CancelTimelockExpired:
		return "CancelTimelockExpired"
	case BTCCancelled:
		return "BTCCancelled"
	case BTCRefundPublished:
		return "BTCRefundPublished"
	case BTCEarlyRefundPublished:
		return "BTCEarlyRefundPublished"
	case BTCPunished:
		return "BTCPunished"
	case CompletedXMRRedeemed:
		return "CompletedXMRRedeemed"
	case CompletedBTCRefunded:
		return "CompletedBTCRefunded"
	case CompletedBTCEarlyRefunded:
		return "CompletedBTCEarlyRefunded"
	case CompletedBTCPunished:
		return "CompletedBTCPunished"
	case CompletedSafelyAborted:
		return "CompletedSafelyAborted"
	default:
		return "Unknown"
	}
}

// EndState names the terminal outcome of a swap from the local role's
// perspective (spec §3's per-role terminal variants).
type EndState byte

const (
	// EndXMRRedeemed: the local role (taker) received XMR.
	EndXMRRedeemed EndState = iota
	// EndBTCRedeemed: the local role (maker) received BTC.
	EndBTCRedeemed
	// EndBTCRefunded: the taker recovered its locked BTC via TxRefund.
	EndBTCRefunded
	// EndBTCEarlyRefunded: the taker recovered its locked BTC via the
	// cooperative TxEarlyRefund path.
	EndBTCEarlyRefunded
	// EndBTCPunished: the maker punished a non-cooperative taker.
	EndBTCPunished
	// EndXMRRefunded: reported by the maker when a spend of TxCancel's
	// output (the taker's TxRefund) is observed before the punish timelock
	// expires; the maker driver does not itself sweep the locked XMR then.
	EndXMRRefunded
	// EndSafelyAborted: the swap aborted before either side locked funds.
	EndSafelyAborted
)

func (e EndState) String() string {
	switch e {
	case EndXMRRedeemed:
		return "XmrRedeemed"
	case EndBTCRedeemed:
		return "BtcRedeemed"
	case EndBTCRefunded:
		return "BtcRefunded"
	case EndBTCEarlyRefunded:
		return "BtcEarlyRefunded"
	case EndBTCPunished:
		return "BtcPunished"
	case EndXMRRefunded:
		return "XmrRefunded"
	case EndSafelyAborted:
		return "SafelyAborted"
	default:
		return "Unknown"
	}
}
