package chain

import (
	"context"
	"time"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/auth"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	// ErrHashMismatch means the claimed parent hash is not the chain's. Never downgrade it.
	ErrHashMismatch      = errors.New("parent hash mismatch")
	ErrOracleUnavailable = errors.New("chain oracle unavailable")
)

// blockHeader holds the only field of eth_getBlockByNumber the verifier reads.
type blockHeader struct {
	ParentHash *string `json:"parentHash"`
}

// Verifier cross-checks a claim against a chain JSON-RPC endpoint.
type Verifier struct {
	endpoint string
	timeout  time.Duration
}

func NewVerifier(endpoint string, timeout time.Duration) *Verifier {
	return &Verifier{endpoint: endpoint, timeout: timeout}
}

// Verify issues one eth_getBlockByNumber query and requires the block's parentHash to equal
// claim.ParentHash exactly. Any failure to obtain the field is ErrOracleUnavailable.
func (v *Verifier) Verify(ctx context.Context, claim *auth.BlockClaim) error {
	number, err := claim.Number()
	if err != nil {
		return err
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	client, err := rpc.DialContext(ctx, v.endpoint)
	if err != nil {
		return errors.Wrapf(ErrOracleUnavailable, "dial %s: %v", v.endpoint, err)
	}
	defer client.Close()

	var header *blockHeader
	if err := client.CallContext(ctx, &header, "eth_getBlockByNumber", blockNumberArg(number), false); err != nil {
		return errors.Wrapf(ErrOracleUnavailable, "eth_getBlockByNumber(%s): %v", claim.BlockNumber, err)
	}
	if header == nil {
		return errors.Wrapf(ErrOracleUnavailable, "block %s not found", claim.BlockNumber)
	}
	if header.ParentHash == nil || *header.ParentHash == "" {
		return errors.Wrapf(ErrOracleUnavailable, "block %s has no parentHash", claim.BlockNumber)
	}

	if *header.ParentHash != claim.ParentHash {
		log.Error().
			Str("block_number", claim.BlockNumber).
			Str("claimed_parent_hash", claim.ParentHash).
			Str("chain_parent_hash", *header.ParentHash).
			Msg("Claimed parent hash does not match chain")
		return errors.Wrapf(ErrHashMismatch, "block %s: claimed %s, chain has %s", claim.BlockNumber, claim.ParentHash, *header.ParentHash)
	}

	return nil
}
