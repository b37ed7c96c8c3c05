package common

import "errors"

// ErrorKind classifies an error the way the driver loop needs to act on it,
// per spec §7.
type ErrorKind byte

const (
	// KindTransientIO covers wallet/peer/chain-node unreachability; retried
	// with backoff and never surfaced.
	KindTransientIO ErrorKind = iota
	// KindProtocolViolation covers counterparty misbehaviour.
	KindProtocolViolation
	// KindChainReorg covers a previously-observed terminal being unconfirmed.
	KindChainReorg
	// KindInvariantViolation covers a local bug: the persisted state and
	// on-chain reality disagree.
	KindInvariantViolation
	// KindOperatorAbort covers an operator "safely abort" command.
	KindOperatorAbort
	// KindFatal covers cryptographic verification failure or wallet
	// corruption.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransientIO:
		return "TransientIO"
	case KindProtocolViolation:
		return "ProtocolViolation"
	case KindChainReorg:
		return "ChainReorg"
	case KindInvariantViolation:
		return "InvariantViolation"
	case KindOperatorAbort:
		return "OperatorAbort"
	case KindFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// SwapError wraps an underlying error with the ErrorKind the driver loop
// needs in order to decide how to react.
type SwapError struct {
	Kind ErrorKind
	Err  error
}

func (e *SwapError) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *SwapError) Unwrap() error {
	return e.Err
}

// NewSwapError wraps err with the given kind.
func NewSwapError(kind ErrorKind, err error) *SwapError {
	return &SwapError{Kind: kind, Err: err}
}

// KindOf returns the ErrorKind of err if it is (or wraps) a *SwapError,
// defaulting to KindFatal for unclassified errors so that unknown failures
// never get silently retried forever.
func KindOf(err error) ErrorKind {
	var se *SwapError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindFatal
}

var (
	errCancelNotBeforePunish = errors.New("cancel_timelock must be less than punish_timelock")
	errInvalidBuyBounds      = errors.New("min_buy_btc must be less than or equal to max_buy_btc")
	errInvalidAskSpread      = errors.New("ask_spread must be in [0,1]")
)

// ErrNotFound is returned by the persistence store when no row exists for
// a given key.
var ErrNotFound = errors.New("not found")

// ErrProtocolViolation is a generic ProtocolViolation sentinel for cases
// that don't need a more specific message.
var ErrProtocolViolation = errors.New("protocol violation")
