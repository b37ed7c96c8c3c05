package types

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/cockroachdb/apd/v3"
	"golang.org/x/crypto/sha3"

	"github.com/monero-btc-swap/swapd/common/vjson"
)

// CurOfferVersion is the latest supported version of a serialised Offer.
var CurOfferVersion, _ = semver.NewVersion("1.0.0")

var (
	errOfferVersionMissing = errors.New(`required "version" field missing in offer`)
	errOfferIDNotSet       = errors.New(`"offerID" is not set`)
	errPriceNotSet         = errors.New(`"price" is not set`)
	errMinGreaterThanMax   = errors.New(`"minAmount" must be less than or equal to "maxAmount"`)
)

// Offer represents a maker's standing offer to sell XMR for BTC at a given
// price, bounded by [MinAmount, MaxAmount] XMR. A QuoteRequest is answered
// with a BidQuote derived from the maker's current best Offer (spec §6).
type Offer struct {
	Version   semver.Version `json:"version"`
	ID        Hash           `json:"offerID" validate:"required"`
	MinAmount *apd.Decimal   `json:"minAmount" validate:"required"` // XMR
	MaxAmount *apd.Decimal   `json:"maxAmount" validate:"required"` // XMR
	Price     *apd.Decimal   `json:"price" validate:"required"`     // BTC per XMR
	Nonce     uint64         `json:"nonce" validate:"required"`
}

// NewOffer creates and returns an Offer with an initialised ID.
func NewOffer(minAmount, maxAmount, price *apd.Decimal) (*Offer, error) {
	var n [8]byte
	if _, err := rand.Read(n[:]); err != nil {
		return nil, err
	}

	// Reduce the coefficients before hashing, so that e.g. apd.New(10, -2)
	// and apd.New(1, -1) (both "0.10") hash identically.
	_, _ = minAmount.Reduce(minAmount)
	_, _ = maxAmount.Reduce(maxAmount)
	_, _ = price.Reduce(price)

	o := &Offer{
		Version:   *CurOfferVersion,
		MinAmount: minAmount,
		MaxAmount: maxAmount,
		Price:     price,
		Nonce:     binary.BigEndian.Uint64(n[:]),
	}

	if err := o.validate(); err != nil {
		if !errors.Is(err, errOfferIDNotSet) {
			return nil, err
		}
	}

	o.ID = o.hash()
	return o, nil
}

func (o *Offer) hash() Hash {
	b := []byte(o.Version.String())
	b = append(b, ',')
	b = append(b, []byte(o.MinAmount.Text('f'))...)
	b = append(b, ',')
	b = append(b, []byte(o.MaxAmount.Text('f'))...)
	b = append(b, ',')
	b = append(b, []byte(o.Price.Text('f'))...)
	b = append(b, ',')
	b = append(b, []byte(fmt.Sprintf("%d", o.Nonce))...)
	return Hash(sha3.Sum256(b))
}

func (o *Offer) validate() error {
	if IsHashZero(o.ID) {
		return errOfferIDNotSet
	}
	if o.MinAmount == nil || o.MaxAmount == nil {
		return errors.New(`"minAmount"/"maxAmount" must be set`)
	}
	if o.Price == nil {
		return errPriceNotSet
	}
	if o.MinAmount.Cmp(o.MaxAmount) > 0 {
		return errMinGreaterThanMax
	}
	return nil
}

// String ...
func (o *Offer) String() string {
	return fmt.Sprintf("OfferID:%s MinAmount:%s MaxAmount:%s Price:%s Nonce:%d",
		o.ID, o.MinAmount, o.MaxAmount, o.Price, o.Nonce)
}

// BidQuote is the maker's response to a QuoteRequest (spec §6).
type BidQuote struct {
	Price       *apd.Decimal `json:"price" validate:"required"`
	MinQuantity *apd.Decimal `json:"minQuantity" validate:"required"`
	MaxQuantity *apd.Decimal `json:"maxQuantity" validate:"required"`
}

// QuoteFromOffer builds the wire-level BidQuote from a standing Offer.
func QuoteFromOffer(o *Offer) *BidQuote {
	return &BidQuote{
		Price:       o.Price,
		MinQuantity: o.MinAmount,
		MaxQuantity: o.MaxAmount,
	}
}

// UnmarshalOffer deserialises a JSON offer, checking the version for
// forward-compatibility before attempting to deserialise the full blob.
func UnmarshalOffer(data []byte) (*Offer, error) {
	ov := struct {
		Version *semver.Version `json:"version"`
	}{}
	if err := json.Unmarshal(data, &ov); err != nil {
		return nil, err
	}
	if ov.Version == nil {
		return nil, errOfferVersionMissing
	}
	if ov.Version.GreaterThan(CurOfferVersion) {
		return nil, fmt.Errorf("offer version %q not supported, latest is %q", ov.Version, CurOfferVersion)
	}

	o := new(Offer)
	if err := vjson.UnmarshalStruct(data, o); err != nil {
		return nil, err
	}
	return o, nil
}

// MarshalJSON validates then marshals the offer.
func (o *Offer) MarshalJSON() ([]byte, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}
	type _Offer Offer
	return vjson.MarshalStruct((*_Offer)(o))
}
