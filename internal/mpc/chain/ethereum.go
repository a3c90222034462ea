package chain

import (
	"math/big"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/auth"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Address is the EVM account controlled by a SEC1 secp256k1 key, compressed or not.
// For the aggregate key it is the account whose signatures the parties produce.
func Address(pubKey []byte) (common.Address, error) {
	key, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "invalid secp256k1 public key")
	}
	return crypto.PubkeyToAddress(*key.ToECDSA()), nil
}

// ClaimDigest is the 32-byte message the parties sign for a claim:
// Keccak256(selector || parent_hash || uint256(blocknumber) || address), packed like abi.encodePacked.
func ClaimDigest(claim *auth.BlockClaim) ([]byte, error) {
	if err := claim.Validate(); err != nil {
		return nil, err
	}

	number, err := claim.Number()
	if err != nil {
		return nil, err
	}
	if number.BitLen() > 256 {
		return nil, errors.Wrapf(auth.ErrMalformedClaim, "blocknumber exceeds uint256: %s", claim.BlockNumber)
	}

	return crypto.Keccak256(
		auth.DecodeHexOrText(claim.Selector),
		auth.DecodeHexOrText(claim.ParentHash),
		common.LeftPadBytes(number.Bytes(), 32),
		auth.DecodeHexOrText(claim.Address),
	), nil
}

// DigestHex is a log-friendly rendering of a digest.
func DigestHex(digest []byte) string {
	return common.BytesToHash(digest).Hex()
}

// blockNumberArg renders n as the JSON-RPC quantity expected by eth_getBlockByNumber.
func blockNumberArg(n *big.Int) string {
	return hexutil.EncodeBig(n)
}
