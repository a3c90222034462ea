package chain_test

import (
	"strings"
	"testing"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/auth"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/chain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimDigest_PackedEncoding(t *testing.T) {
	c := &auth.BlockClaim{
		Selector:    "0x12345678",
		ParentHash:  "0x" + strings.Repeat("ab", 32),
		BlockNumber: "420",
		Address:     "0x00000000000000000000000000000000000000aa",
	}

	digest, err := chain.ClaimDigest(c)
	require.NoError(t, err)

	want := crypto.Keccak256(
		common.FromHex(c.Selector),
		common.FromHex(c.ParentHash),
		common.LeftPadBytes([]byte{0x01, 0xa4}, 32),
		common.FromHex(c.Address),
	)
	assert.Equal(t, want, digest)
	assert.Len(t, digest, 32)
}

func TestClaimDigest_DistinguishesClaims(t *testing.T) {
	a := &auth.BlockClaim{Selector: "sel", ParentHash: "0x01", BlockNumber: "420", Address: "vitalik.eth"}
	b := *a
	b.BlockNumber = "421"

	da, err := chain.ClaimDigest(a)
	require.NoError(t, err)
	db, err := chain.ClaimDigest(&b)
	require.NoError(t, err)
	assert.NotEqual(t, da, db)
}

func TestAddress(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	want := crypto.PubkeyToAddress(priv.ToECDSA().PublicKey)

	compressed, err := chain.Address(priv.PubKey().SerializeCompressed())
	require.NoError(t, err)
	uncompressed, err := chain.Address(priv.PubKey().SerializeUncompressed())
	require.NoError(t, err)

	assert.Equal(t, want, compressed)
	assert.Equal(t, want, uncompressed)

	_, err = chain.Address([]byte{0x01})
	assert.Error(t, err)
	_, err = chain.Address(nil)
	assert.Error(t, err)
}
