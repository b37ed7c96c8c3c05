package bitcoin

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func genKeyPair(t *testing.T) (*btcec.PrivateKey, *btcec.PublicKey) {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return priv, priv.PubKey()
}

func TestMultiSigOutputScript(t *testing.T) {
	_, aPub := genKeyPair(t)
	_, bPub := genKeyPair(t)

	redeemScript, pkScript, err := MultiSigOutputScript(aPub, bPub)
	require.NoError(t, err)
	require.NotEmpty(t, redeemScript)
	require.NotEmpty(t, pkScript)

	// Output script must be a P2WSH pkScript: OP_0 <32-byte hash>.
	require.Equal(t, byte(txscript.OP_0), pkScript[0])
	require.Equal(t, byte(32), pkScript[1])
}

func TestCSVMultiSigOutputScriptBranches(t *testing.T) {
	_, aPub := genKeyPair(t)
	_, bPub := genKeyPair(t)

	redeemScript, pkScript, err := CSVMultiSigOutputScript(aPub, bPub, 144)
	require.NoError(t, err)
	require.NotEmpty(t, redeemScript)
	require.NotEmpty(t, pkScript)
}

func TestBuildAndSignTxLockThenTxRedeem(t *testing.T) {
	takerPriv, takerPub := genKeyPair(t)
	makerPriv, makerPub := genKeyPair(t)

	fundingTxid, err := chainhash.NewHashFromStr("00112233445566778899aabbccddeeff00112233445566778899aabbccddee")
	require.NoError(t, err)

	lockParams := &LockTxParams{
		TakerPub: takerPub,
		MakerPub: makerPub,
		Amount:   100_000,
		Fee:      1_000,
		Inputs: []*wire.OutPoint{
			{Hash: *fundingTxid, Index: 0},
		},
		InputValues: []int64{200_000},
	}

	txLock, redeemScript, pkScript, err := BuildTxLock(lockParams)
	require.NoError(t, err)
	require.Len(t, txLock.TxOut, 1) // no change script supplied
	require.Equal(t, int64(100_000), txLock.TxOut[0].Value)

	lockOutpoint := &wire.OutPoint{Hash: txLock.TxHash(), Index: 0}

	destScript := pkScript // reuse as a stand-in destination script
	redeemTx := BuildTxRedeem(&SpendTxParams{
		PrevOut:      lockOutpoint,
		PrevValue:    100_000,
		RedeemScript: redeemScript,
		DestPkScript: destScript,
		Fee:          500,
	})
	require.Len(t, redeemTx.TxIn, 1)
	require.Equal(t, int64(99_500), redeemTx.TxOut[0].Value)

	sigA, err := SignWitnessInput(redeemTx, 0, redeemScript, 100_000, takerPriv)
	require.NoError(t, err)
	sigB, err := SignWitnessInput(redeemTx, 0, redeemScript, 100_000, makerPriv)
	require.NoError(t, err)

	redeemTx.TxIn[0].Witness = MultiSigWitness(redeemScript, takerPub, makerPub, sigA, sigB)

	okA, err := VerifyWitnessSignature(redeemTx, 0, redeemScript, 100_000, takerPub, sigA)
	require.NoError(t, err)
	require.True(t, okA)

	okB, err := VerifyWitnessSignature(redeemTx, 0, redeemScript, 100_000, makerPub, sigB)
	require.NoError(t, err)
	require.True(t, okB)
}

func TestValidateTimelocks(t *testing.T) {
	require.NoError(t, ValidateTimelocks(10, 20))
	require.ErrorIs(t, ValidateTimelocks(20, 10), ErrInvalidTimelocks)
	require.ErrorIs(t, ValidateTimelocks(10, 10), ErrInvalidTimelocks)
}

func verifyRawECDSA(t *testing.T, sig []byte, pub *btcec.PublicKey, hash []byte) {
	t.Helper()
	parsed, err := ecdsa.ParseDERSignature(sig[:len(sig)-1])
	require.NoError(t, err)
	require.True(t, parsed.Verify(hash, pub))
}
