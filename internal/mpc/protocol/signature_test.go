package protocol_test

import (
	"math/big"
	"testing"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/protocol"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signDigest(t *testing.T) (*btcec.PrivateKey, []byte, *big.Int, *big.Int, byte) {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	digest := crypto.Keccak256([]byte("block 100"))
	sig, err := crypto.Sign(digest, key.ToECDSA())
	require.NoError(t, err)
	return key, digest, new(big.Int).SetBytes(sig[:32]), new(big.Int).SetBytes(sig[32:64]), sig[64]
}

func TestFinalSignature_VerifyAndV(t *testing.T) {
	key, digest, r, s, recid := signDigest(t)

	sig, err := protocol.NewFinalSignature(r, s, recid)
	require.NoError(t, err)

	assert.True(t, sig.Verify(key.PubKey().SerializeCompressed(), digest))
	assert.True(t, sig.Verify(key.PubKey().SerializeUncompressed(), digest))
	assert.Equal(t, 27+uint64(recid), sig.V())
	assert.Len(t, sig.Compact(), 65)

	other, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	assert.False(t, sig.Verify(other.PubKey().SerializeCompressed(), digest))
	assert.False(t, sig.Verify(key.PubKey().SerializeCompressed(), crypto.Keccak256([]byte("block 101"))))
}

func TestFinalSignature_NormalisesHighS(t *testing.T) {
	key, digest, r, s, recid := signDigest(t)
	highS := new(big.Int).Sub(btcec.S256().N, s)

	sig, err := protocol.NewFinalSignature(r, highS, recid^1)
	require.NoError(t, err)

	assert.Equal(t, 0, sig.S.Cmp(s))
	assert.Equal(t, recid, sig.RecoveryID)
	assert.True(t, sig.Verify(key.PubKey().SerializeCompressed(), digest))
}

func TestFinalSignature_RejectsOutOfRange(t *testing.T) {
	_, _, r, s, _ := signDigest(t)

	_, err := protocol.NewFinalSignature(big.NewInt(0), s, 0)
	assert.Error(t, err)
	_, err = protocol.NewFinalSignature(r, btcec.S256().N, 0)
	assert.Error(t, err)
	_, err = protocol.NewFinalSignature(r, s, 2)
	assert.Error(t, err)
}

func TestProtocolError(t *testing.T) {
	err := protocol.NewTimeoutError("signing-3-offline", "phase did not complete in time")
	assert.Equal(t, "[TIMEOUT] phase did not complete in time [channel: signing-3-offline]", err.Error())
	assert.True(t, protocol.IsProtocolError(err))

	culprit := protocol.NewMaliciousPartyError("c", []string{"b"}, "bad proof")
	assert.Contains(t, culprit.Error(), "culprits: [b]")

	assert.False(t, protocol.IsProtocolError(assert.AnError))
}
