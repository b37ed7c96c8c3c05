// Package protocol holds the logic shared by both the maker (xmrmaker/Alice)
// and taker (xmrtaker/Bob) drivers: key generation, the cross-group DLEQ
// proof, and the Monero sweep helper used once a party learns the spend
// secret.
package protocol

import (
	"context"
	"fmt"

	mcrypto "github.com/monero-btc-swap/swapd/crypto/monero"
	"github.com/monero-btc-swap/swapd/crypto/dleq"
	"github.com/monero-btc-swap/swapd/crypto/secp256k1"
	"github.com/monero-btc-swap/swapd/monero"
)

// KeysAndProof bundles a freshly generated secp256k1/Ed25519 key share with
// the DLEQ proof binding them together, exactly what spec §4.1 requires
// before a party sends its SendKeysMessage.
type KeysAndProof struct {
	DLEqProof          *dleq.Proof
	Secp256k1PublicKey *secp256k1.PublicKey
	PrivateKeyPair     *mcrypto.PrivateKeyPair
	PublicKeyPair      *mcrypto.PublicKeyPair
}

// GenerateKeysAndProof generates a new Ed25519 spend/view key share and
// proves, via DLEQ, that a fresh secp256k1 key shares the same spend
// secret.
func GenerateKeysAndProof() (*KeysAndProof, error) {
	kp, err := mcrypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate monero keypair: %w", err)
	}

	var secret [32]byte
	copy(secret[:], kp.SpendKey().SpendKeyBytes())

	proof, secpPub, _, err := dleq.Prove(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to generate dleq proof: %w", err)
	}

	return &KeysAndProof{
		DLEqProof:          proof,
		Secp256k1PublicKey: secpPub,
		PrivateKeyPair:     kp,
		PublicKeyPair:      kp.PublicKeyPair(),
	}, nil
}

// Secp256k1PrivateKey derives the secp256k1 scalar DLEqProof vouches for:
// the same secret as the Monero spend-key share, usable to sign this
// party's slot of a Bitcoin 2-of-2 multisig input or as the signing key
// behind an adaptor-encrypted TxRedeem signature.
func (kp *KeysAndProof) Secp256k1PrivateKey() *secp256k1.PrivateKey {
	var b [32]byte
	copy(b[:], kp.PrivateKeyPair.SpendKey().SpendKeyBytes())
	return secp256k1.NewPrivateKeyFromScalar(b)
}

// VerifyKeysAndProof verifies a counterparty's DLEQ proof against its
// claimed secp256k1 and Ed25519 (spend) public keys.
func VerifyKeysAndProof(
	proofBytes []byte,
	secpPub *secp256k1.PublicKey,
	edPub *mcrypto.PublicKey,
) (*dleq.VerifyResult, error) {
	proof, err := dleq.NewProofFromBytes(proofBytes)
	if err != nil {
		return nil, err
	}
	return dleq.Verify(proof, secpPub, edPub)
}

// GetClaimKeypair combines the two parties' private spend/view key shares
// into the full keypair needed to spend the shared Monero output.
func GetClaimKeypair(
	skA *mcrypto.PrivateSpendKey,
	skB *mcrypto.PrivateSpendKey,
	vkA *mcrypto.PrivateViewKey,
	vkB *mcrypto.PrivateViewKey,
) *mcrypto.PrivateKeyPair {
	return mcrypto.SumPrivateKeyPairs(skA, skB, vkA, vkB)
}

// ClaimMonero sweeps the shared 2-of-2 Monero output at destAddr using the
// combined keypair kp, once the restore height startHeight has been synced.
func ClaimMonero(
	ctx context.Context,
	env monero.Env,
	id interface{ String() string },
	client monero.WalletClient,
	startHeight uint64,
	kp *mcrypto.PrivateKeyPair,
	destAddr string,
	sweepAll bool,
) error {
	return monero.SweepToAddress(ctx, client, kp, startHeight, destAddr, sweepAll)
}
