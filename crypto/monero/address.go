package monero

import (
	"golang.org/x/crypto/sha3"
)

// Network byte prefixes for standard (non-integrated, non-subaddress) Monero
// addresses, from the Monero source (src/cryptonote_config.h).
const (
	MainnetAddressPrefix  = 18
	TestnetAddressPrefix  = 53
	StagenetAddressPrefix = 24
)

// base58Alphabet is Monero's (and Bitcoin's) base58 alphabet.
const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// Monero encodes base58 in 8-byte blocks that map to fixed-width 11
// character blocks, with a final short block, rather than treating the
// whole payload as one big integer the way Bitcoin's base58check does.
var fullBlockSizes = [...]int{0, 2, 3, 5, 6, 7, 9, 10, 11}

// Address is a standard two-key Monero address (spend key || view key),
// network-prefixed and checksummed the way monero-wallet-rpc expects.
type Address struct {
	prefix byte
	spend  *PublicKey
	view   *PublicKey
}

// NewAddress builds the standard address for a given network and public
// spend/view key pair, used once both parties learn the combined 2-of-2
// swap output key (spec §4.3).
func NewAddress(prefix byte, spend, view *PublicKey) *Address {
	return &Address{prefix: prefix, spend: spend, view: view}
}

// String returns the base58-encoded address.
func (a *Address) String() string {
	payload := make([]byte, 0, 1+32+32+4)
	payload = append(payload, a.prefix)
	payload = append(payload, a.spend.Bytes()...)
	payload = append(payload, a.view.Bytes()...)

	checksum := keccak256(payload)
	payload = append(payload, checksum[:4]...)

	return base58EncodeBlocks(payload)
}

func keccak256(b []byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func base58EncodeBlocks(data []byte) string {
	var out []byte
	for len(data) > 0 {
		n := 8
		if len(data) < 8 {
			n = len(data)
		}
		block := data[:n]
		data = data[n:]
		out = append(out, encodeBlock(block)...)
	}
	return string(out)
}

func encodeBlock(block []byte) []byte {
	width := fullBlockSizes[len(block)]

	num := make([]byte, len(block))
	copy(num, block)

	enc := make([]byte, width)
	for i := range enc {
		enc[i] = base58Alphabet[0]
	}

	// Treat num as a big-endian integer and repeatedly divide by 58,
	// filling enc from the right, matching Monero's variable-width block
	// encoding (this differs from Bitcoin's base58check, which encodes the
	// whole payload as a single integer).
	idx := width - 1
	rem := make([]byte, len(num))
	copy(rem, num)

	allZero := func(b []byte) bool {
		for _, v := range b {
			if v != 0 {
				return false
			}
		}
		return true
	}

	for !allZero(rem) && idx >= 0 {
		var carry int
		for i := 0; i < len(rem); i++ {
			cur := carry*256 + int(rem[i])
			rem[i] = byte(cur / 58)
			carry = cur % 58
		}
		enc[idx] = base58Alphabet[carry]
		idx--
	}

	return enc
}
