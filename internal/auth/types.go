package auth

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
)

var (
	ErrMalformedClaim   = errors.New("malformed claim")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpired          = errors.New("token expired")
)

// BlockClaim is the assertion the parties agree to sign.
//
//	selector    - bytes4 method selector of the verifying contract
//	parent_hash - bytes32 parent hash of the block
//	blocknumber - uint256 block number, base 10
//	address     - verifying contract address
type BlockClaim struct {
	Selector    string `json:"selector"`
	ParentHash  string `json:"parent_hash"`
	BlockNumber string `json:"blocknumber"`
	Address     string `json:"address"`
}

// Validate checks the claim's shape. It does not consult the chain.
func (c *BlockClaim) Validate() error {
	if c == nil {
		return errors.Wrap(ErrMalformedClaim, "claim is empty")
	}

	missing := make([]string, 0, 4)
	if strings.TrimSpace(c.Selector) == "" {
		missing = append(missing, "selector")
	}
	if strings.TrimSpace(c.ParentHash) == "" {
		missing = append(missing, "parent_hash")
	}
	if strings.TrimSpace(c.BlockNumber) == "" {
		missing = append(missing, "blocknumber")
	}
	if strings.TrimSpace(c.Address) == "" {
		missing = append(missing, "address")
	}
	if len(missing) > 0 {
		return errors.Wrapf(ErrMalformedClaim, "missing fields: %s", strings.Join(missing, ", "))
	}

	if !isHexString(c.ParentHash) {
		return errors.Wrapf(ErrMalformedClaim, "parent_hash is not a 0x-prefixed hex string: %q", c.ParentHash)
	}

	if _, err := c.Number(); err != nil {
		return err
	}

	return nil
}

// Number returns the block number as an unsigned integer.
func (c *BlockClaim) Number() (*big.Int, error) {
	s := strings.TrimSpace(c.BlockNumber)
	for _, r := range s {
		if r < '0' || r > '9' {
			return nil, errors.Wrapf(ErrMalformedClaim, "blocknumber is not a base-10 integer: %q", c.BlockNumber)
		}
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.Wrapf(ErrMalformedClaim, "blocknumber is not a base-10 integer: %q", c.BlockNumber)
	}
	return n, nil
}

func isHexString(s string) bool {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return false
	}
	digits := s[2:]
	if digits == "" {
		return false
	}
	for _, r := range digits {
		if !isHexDigit(r) {
			return false
		}
	}
	return true
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// DecodeHexOrText returns the hex-decoded bytes of a 0x-prefixed value and the raw text otherwise.
// Odd-length hex is left-padded with a zero nibble.
func DecodeHexOrText(s string) []byte {
	if !isHexString(s) {
		return []byte(s)
	}
	digits := s[2:]
	if len(digits)%2 == 1 {
		digits = "0" + digits
	}
	b, err := hexutil.Decode("0x" + digits)
	if err != nil {
		return []byte(s)
	}
	return b
}
