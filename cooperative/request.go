// Package cooperative implements the two cooperative off-protocol paths
// spec §4.7 promotes out of the tie-break policy list: the post-punish
// request for the counterparty's Monero spend-key share, and the
// taker's pre-lock request for a signature granting an early, un-timelocked
// refund. Both reuse the teacher's relayer shape ("build a signable
// request, have the counterparty sign it, validate the values then the
// signature") with the GSN forwarder/EIP-712 half removed in favour of
// plain digests over the Schnorr primitive in crypto/adaptor.
package cooperative

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/monero-btc-swap/swapd/common/types"
	"github.com/monero-btc-swap/swapd/crypto/adaptor"
	"github.com/monero-btc-swap/swapd/crypto/secp256k1"
)

// ErrRejected is wrapped by ValidateRedeemDisclosure when a disclosed
// spend-key share does not match the key exchanged at setup.
var ErrRejected = errors.New("cooperative: counterparty rejected the request")

// RedeemRequest is the digest the maker asks the taker to attest to before
// disclosing its Monero spend-key share.
type RedeemRequest struct {
	SwapID types.SwapID
}

// Digest returns the 32-byte value the taker's disclosure is bound to,
// so a disclosure for one swap can never be replayed against another.
func (r *RedeemRequest) Digest() [32]byte {
	h := sha256.New()
	h.Write([]byte("cooperative-xmr-redeem"))
	h.Write(r.SwapID[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ValidateRedeemDisclosure checks that sb is indeed the disclosing
// counterparty's share of the shared spend key (the taker driver checks the
// maker's) by confirming it reproduces the expected public share,
// taken from the swap's KeysExchanged record. This is the teacher's
// "validate values then validate signature" split, collapsed to a single
// value check since the disclosed secret doubles as its own proof.
func ValidateRedeemDisclosure(expectedPublicShare *secp256k1.PublicKey, sb [32]byte) error {
	priv := secp256k1.NewPrivateKeyFromScalar(sb)
	if priv.Public().String() != expectedPublicShare.String() {
		return fmt.Errorf("%w: disclosed share does not match the key exchanged at setup", ErrRejected)
	}
	return nil
}

// EarlyRefundRequest is the digest the taker asks the maker to countersign,
// granting a TxEarlyRefund that the taker may broadcast before TxLock's
// cancel timelock would otherwise allow it (spec §4.2's cooperative-grant
// timelock bypass).
type EarlyRefundRequest struct {
	SwapID     types.SwapID
	TxLockHash [32]byte
}

// Digest returns the message EncSign/Verify operate over for the early
// refund grant.
func (r *EarlyRefundRequest) Digest() [32]byte {
	h := sha256.New()
	h.Write([]byte("cooperative-early-refund"))
	h.Write(r.SwapID[:])
	h.Write(r.TxLockHash[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// GrantEarlyRefund produces the maker's plain Schnorr signature over req's
// digest, under the maker's secp256k1 TxLock key share. Unlike the redeem
// path this is a normal signature, not an adaptor one: granting early
// refund reveals no secret, it only authorises an otherwise-timelocked
// spend path ahead of schedule.
func GrantEarlyRefund(sk *secp256k1.PrivateKey, req *EarlyRefundRequest) (*adaptor.Signature, error) {
	return adaptor.Sign(sk, req.Digest())
}

// ValidateEarlyRefundGrant checks the maker's grant signature before the
// taker relies on it to unlock the early-refund spend path.
func ValidateEarlyRefundGrant(pub *secp256k1.PublicKey, req *EarlyRefundRequest, sig *adaptor.Signature) error {
	return adaptor.Verify(sig, pub, req.Digest())
}
