// Package message provides the wire messages exchanged between swapd
// instances over the peer transport (spec §6).
package message

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/apd/v3"

	"github.com/monero-btc-swap/swapd/common"
	"github.com/monero-btc-swap/swapd/common/types"
	"github.com/monero-btc-swap/swapd/common/vjson"
	"github.com/monero-btc-swap/swapd/crypto/adaptor"
	mcrypto "github.com/monero-btc-swap/swapd/crypto/monero"
	"github.com/monero-btc-swap/swapd/crypto/secp256k1"
)

// Identifiers for our p2p message types. The first byte of a message has
// the identifier below telling us which type to decode the JSON message as.
const (
	Unknown byte = iota // occupies the uninitialized value
	QuoteRequestType
	QuoteResponseType
	SendKeysType
	SwapSetupCommitmentType
	SwapSetupConfirmationType
	NotifyBTCLockedType
	TransferProofType
	EncryptedSignatureType
	EncryptedSignatureAckType
	CooperativeXMRRedeemRequestType
	CooperativeXMRRedeemAcceptedType
	CooperativeXMRRedeemRejectedType
)

// TypeToString converts a message type into a string.
func TypeToString(t byte) string {
	switch t {
	case QuoteRequestType:
		return "QuoteRequest"
	case QuoteResponseType:
		return "QuoteResponse"
	case SendKeysType:
		return "SendKeysMessage"
	case SwapSetupCommitmentType:
		return "SwapSetupCommitment"
	case SwapSetupConfirmationType:
		return "SwapSetupConfirmation"
	case NotifyBTCLockedType:
		return "NotifyBTCLocked"
	case TransferProofType:
		return "TransferProof"
	case EncryptedSignatureType:
		return "EncryptedSignature"
	case EncryptedSignatureAckType:
		return "EncryptedSignatureAck"
	case CooperativeXMRRedeemRequestType:
		return "CooperativeXMRRedeemRequest"
	case CooperativeXMRRedeemAcceptedType:
		return "CooperativeXMRRedeemAccepted"
	case CooperativeXMRRedeemRejectedType:
		return "CooperativeXMRRedeemRejected"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// DecodeMessage decodes the given bytes into a common.Message, dispatching
// on the leading type-tag byte.
func DecodeMessage(b []byte) (common.Message, error) {
	// 1-byte type followed by at least 2-bytes of JSON (`{}`)
	if len(b) < 3 {
		return nil, errors.New("invalid message bytes")
	}

	msgType := b[0]
	msgJSON := b[1:]
	var msg common.Message

	switch msgType {
	case QuoteRequestType:
		msg = new(QuoteRequest)
	case QuoteResponseType:
		msg = new(QuoteResponse)
	case SendKeysType:
		msg = new(SendKeysMessage)
	case SwapSetupCommitmentType:
		msg = new(SwapSetupCommitment)
	case SwapSetupConfirmationType:
		msg = new(SwapSetupConfirmation)
	case NotifyBTCLockedType:
		msg = new(NotifyBTCLocked)
	case TransferProofType:
		msg = new(TransferProof)
	case EncryptedSignatureType:
		msg = new(EncryptedSignature)
	case EncryptedSignatureAckType:
		msg = new(EncryptedSignatureAck)
	case CooperativeXMRRedeemRequestType:
		msg = new(CooperativeXMRRedeemRequest)
	case CooperativeXMRRedeemAcceptedType:
		msg = new(CooperativeXMRRedeemAccepted)
	case CooperativeXMRRedeemRejectedType:
		msg = new(CooperativeXMRRedeemRejected)
	default:
		return nil, fmt.Errorf("invalid message type=%d", msgType)
	}

	if err := vjson.UnmarshalStruct(msgJSON, msg); err != nil {
		return nil, fmt.Errorf("failed to decode %s message: %w", TypeToString(msgType), err)
	}

	return msg, nil
}

// encode prepends t's type tag to its vjson-validated JSON encoding;
// shared by every Message implementation below.
func encode(t byte, m interface{}) ([]byte, error) {
	b, err := vjson.MarshalStruct(m)
	if err != nil {
		return nil, err
	}
	return append([]byte{t}, b...), nil
}

// QuoteRequest asks a maker for its current terms (spec §6).
type QuoteRequest struct{}

func (m *QuoteRequest) String() string        { return "QuoteRequest" }
func (m *QuoteRequest) Encode() ([]byte, error) { return encode(QuoteRequestType, m) }
func (m *QuoteRequest) Type() byte            { return QuoteRequestType }

// QuoteResponse is the maker's BidQuote answer to a QuoteRequest.
type QuoteResponse struct {
	Quote *types.BidQuote `json:"quote" validate:"required"`
}

func (m *QuoteResponse) String() string {
	return fmt.Sprintf("QuoteResponse Quote=%s", m.Quote)
}
func (m *QuoteResponse) Encode() ([]byte, error) { return encode(QuoteResponseType, m) }
func (m *QuoteResponse) Type() byte              { return QuoteResponseType }

// SendKeysMessage is sent by both parties during SwapSetup to exchange their
// secp256k1/Ed25519 key shares and the DLEQ proof binding them (spec §4.1,
// §6).
type SendKeysMessage struct {
	SwapID             types.SwapID            `json:"swapID" validate:"required"`
	ProvidedAmount     *apd.Decimal            `json:"providedAmount" validate:"required"`
	PublicSpendKey     *mcrypto.PublicKey      `json:"publicSpendKey" validate:"required"`
	PrivateViewKey     *mcrypto.PrivateViewKey `json:"privateViewKey" validate:"required"`
	DLEqProof          []byte                  `json:"dleqProof" validate:"required"`
	Secp256k1PublicKey *secp256k1.PublicKey    `json:"secp256k1PublicKey" validate:"required"`

	// BTCPayoutAddress is the sender's own Bitcoin payout address: where
	// TxRedeem pays the maker, and where TxRefund/TxEarlyRefund pay the
	// taker. Exchanging it up front lets both sides build byte-identical
	// unsigned transactions independently, without a further round trip.
	BTCPayoutAddress string `json:"btcPayoutAddress" validate:"required"`
}

func (m *SendKeysMessage) String() string {
	return fmt.Sprintf("SendKeysMessage SwapID=%s ProvidedAmount=%v PublicSpendKey=%s Secp256k1PublicKey=%s",
		m.SwapID, m.ProvidedAmount, m.PublicSpendKey, m.Secp256k1PublicKey,
	)
}
func (m *SendKeysMessage) Encode() ([]byte, error) { return encode(SendKeysType, m) }
func (m *SendKeysMessage) Type() byte              { return SendKeysType }

// SwapSetupCommitment is round 2 of SwapSetup, sent by both parties: each
// side's own pre-signed TxCancel/TxRefund slot, granted to the other so
// that either party can unilaterally cancel and refund the taker without a
// further round trip (spec §4.3). TxPunishSignature and TxEarlyRefundSig
// are one-directional rather than symmetric: only the taker ever grants a
// TxPunishSignature (it alone locked the funds TxPunish redirects), and
// only the maker ever grants a TxEarlyRefundSig (spec §4.7), so the other
// side leaves its own copy of that field empty.
type SwapSetupCommitment struct {
	SwapID            types.SwapID `json:"swapID" validate:"required"`
	TxCancelSignature []byte       `json:"txCancelSignature" validate:"required"`
	TxRefundSignature []byte       `json:"txRefundSignature" validate:"required"`
	TxEarlyRefundSig  []byte       `json:"txEarlyRefundSignature,omitempty"`
	TxPunishSignature []byte       `json:"txPunishSignature,omitempty"`

	// TxLockTxID/TxLockVout identify TxLock's 2-of-2 output. Only the taker
	// fills these in: it alone selects TxLock's wallet inputs, so it alone
	// can compute TxLock's txid before broadcasting it. The maker has no
	// other way to learn which outpoint its cancel/refund/punish signatures
	// need to reference.
	TxLockTxID types.Hash `json:"txLockTxID,omitempty"`
	TxLockVout uint32     `json:"txLockVout,omitempty"`
}

func (m *SwapSetupCommitment) String() string {
	return fmt.Sprintf("SwapSetupCommitment SwapID=%s", m.SwapID)
}
func (m *SwapSetupCommitment) Encode() ([]byte, error) { return encode(SwapSetupCommitmentType, m) }
func (m *SwapSetupCommitment) Type() byte              { return SwapSetupCommitmentType }

// SwapSetupConfirmation is round 3 of SwapSetup: the maker's acknowledgement
// that setup is complete, after which the taker may broadcast TxLock.
type SwapSetupConfirmation struct {
	SwapID types.SwapID `json:"swapID" validate:"required"`
}

func (m *SwapSetupConfirmation) String() string {
	return fmt.Sprintf("SwapSetupConfirmation SwapID=%s", m.SwapID)
}
func (m *SwapSetupConfirmation) Encode() ([]byte, error) { return encode(SwapSetupConfirmationType, m) }
func (m *SwapSetupConfirmation) Type() byte              { return SwapSetupConfirmationType }

// NotifyBTCLocked is sent by the taker to the maker once TxLock has
// broadcast, so the maker knows to begin watching for its confirmation
// before locking XMR.
type NotifyBTCLocked struct {
	SwapID     types.SwapID `json:"swapID" validate:"required"`
	TxLockHash types.Hash   `json:"txLockHash" validate:"required"`
}

func (m *NotifyBTCLocked) String() string {
	return fmt.Sprintf("NotifyBTCLocked SwapID=%s TxLockHash=%s", m.SwapID, m.TxLockHash)
}
func (m *NotifyBTCLocked) Encode() ([]byte, error) { return encode(NotifyBTCLockedType, m) }
func (m *NotifyBTCLocked) Type() byte              { return NotifyBTCLockedType }

// TransferProof is sent maker -> taker once the maker has broadcast the
// Monero lock transaction, reporting its hash (spec §6). Proof carries the
// same hash bytes; it is not a cryptographic transfer proof, and the taker
// does not verify it.
type TransferProof struct {
	SwapID types.SwapID `json:"swapID" validate:"required"`
	TxHash string       `json:"txHash" validate:"required"`
	Proof  []byte       `json:"proof" validate:"required"`
}

func (m *TransferProof) String() string {
	return fmt.Sprintf("TransferProof SwapID=%s TxHash=%s", m.SwapID, m.TxHash)
}
func (m *TransferProof) Encode() ([]byte, error) { return encode(TransferProofType, m) }
func (m *TransferProof) Type() byte              { return TransferProofType }

// EncryptedSignature is sent taker -> maker: the adaptor-signed TxRedeem,
// encrypted under the Monero spend secret, per spec §4.3's "the atomic
// swap pivot".
type EncryptedSignature struct {
	SwapID types.SwapID              `json:"swapID" validate:"required"`
	EncSig *adaptor.ECDSAEncryptedSignature `json:"encSig" validate:"required"`
}

func (m *EncryptedSignature) String() string {
	return fmt.Sprintf("EncryptedSignature SwapID=%s", m.SwapID)
}
func (m *EncryptedSignature) Encode() ([]byte, error) { return encode(EncryptedSignatureType, m) }
func (m *EncryptedSignature) Type() byte              { return EncryptedSignatureType }

// EncryptedSignatureAck is the maker's empty acknowledgement of
// EncryptedSignature (spec §6).
type EncryptedSignatureAck struct {
	SwapID types.SwapID `json:"swapID" validate:"required"`
}

func (m *EncryptedSignatureAck) String() string {
	return fmt.Sprintf("EncryptedSignatureAck SwapID=%s", m.SwapID)
}
func (m *EncryptedSignatureAck) Encode() ([]byte, error) { return encode(EncryptedSignatureAckType, m) }
func (m *EncryptedSignatureAck) Type() byte              { return EncryptedSignatureAckType }

// CooperativeXMRRedeemRequest is sent after BtcPunished, asking the
// counterparty to cooperatively disclose its XMR spend-key share (spec
// §4.3's tie-breaks and edge policies). The taker driver sends it to the
// maker once punished; Maker and Taker both answer it as
// net.CooperativeHandler.
type CooperativeXMRRedeemRequest struct {
	SwapID types.SwapID `json:"swapID" validate:"required"`
}

func (m *CooperativeXMRRedeemRequest) String() string {
	return fmt.Sprintf("CooperativeXMRRedeemRequest SwapID=%s", m.SwapID)
}
func (m *CooperativeXMRRedeemRequest) Encode() ([]byte, error) {
	return encode(CooperativeXMRRedeemRequestType, m)
}
func (m *CooperativeXMRRedeemRequest) Type() byte { return CooperativeXMRRedeemRequestType }

// CooperativeXMRRedeemAccepted carries the responding party's spend-key
// share; from the maker, it lets the punished taker claim the locked XMR.
type CooperativeXMRRedeemAccepted struct {
	SwapID types.SwapID `json:"swapID" validate:"required"`
	Sb     []byte       `json:"sb" validate:"required,len=32"`
}

func (m *CooperativeXMRRedeemAccepted) String() string {
	return fmt.Sprintf("CooperativeXMRRedeemAccepted SwapID=%s", m.SwapID)
}
func (m *CooperativeXMRRedeemAccepted) Encode() ([]byte, error) {
	return encode(CooperativeXMRRedeemAcceptedType, m)
}
func (m *CooperativeXMRRedeemAccepted) Type() byte { return CooperativeXMRRedeemAcceptedType }

// CooperativeXMRRedeemRejected is the responding party's refusal of
// cooperative disclosure.
type CooperativeXMRRedeemRejected struct {
	SwapID types.SwapID `json:"swapID" validate:"required"`
	Reason string       `json:"reason"`
}

func (m *CooperativeXMRRedeemRejected) String() string {
	return fmt.Sprintf("CooperativeXMRRedeemRejected SwapID=%s Reason=%s", m.SwapID, m.Reason)
}
func (m *CooperativeXMRRedeemRejected) Encode() ([]byte, error) {
	return encode(CooperativeXMRRedeemRejectedType, m)
}
func (m *CooperativeXMRRedeemRejected) Type() byte { return CooperativeXMRRedeemRejectedType }
