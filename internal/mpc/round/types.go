package round

import (
	"context"
	"fmt"
	"time"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/auth"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/chain"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/protocol"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/signing"
	"github.com/pkg/errors"
)

// Reason names why a round was aborted.
type Reason string

const (
	ReasonNone                      Reason = ""
	ReasonMalformedClaim            Reason = "MalformedClaim"
	ReasonInvalidSignature          Reason = "InvalidSignature"
	ReasonExpired                   Reason = "Expired"
	ReasonHashMismatch              Reason = "HashMismatch"
	ReasonOracleUnavailable         Reason = "OracleUnavailable"
	ReasonEngineError               Reason = "EngineError"
	ReasonInsufficientContributions Reason = "InsufficientContributions"
	ReasonAggregationRejected       Reason = "AggregationRejected"
	ReasonSubmissionFailed          Reason = "SubmissionFailed"
	ReasonStaleClaim                Reason = "StaleClaim"
)

// ErrStaleClaim marks a claim replayed from before the sequencer started.
var ErrStaleClaim = errors.New("claim predates this session")

// ReasonFor classifies a component error. Anything unrecognised is treated as an engine failure.
func ReasonFor(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, auth.ErrMalformedClaim):
		return ReasonMalformedClaim
	case errors.Is(err, auth.ErrInvalidSignature):
		return ReasonInvalidSignature
	case errors.Is(err, auth.ErrExpired):
		return ReasonExpired
	case errors.Is(err, chain.ErrHashMismatch):
		return ReasonHashMismatch
	case errors.Is(err, chain.ErrOracleUnavailable):
		return ReasonOracleUnavailable
	case errors.Is(err, signing.ErrInsufficientContributions):
		return ReasonInsufficientContributions
	case errors.Is(err, signing.ErrAggregationRejected):
		return ReasonAggregationRejected
	case errors.Is(err, signing.ErrSubmissionFailed):
		return ReasonSubmissionFailed
	case errors.Is(err, ErrStaleClaim):
		return ReasonStaleClaim
	default:
		return ReasonEngineError
	}
}

// AbortError describes an aborted round.
type AbortError struct {
	RoundIndex uint64
	Phase      State
	Reason     Reason
	Err        error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("round %d aborted in %s: %s: %v", e.RoundIndex, e.Phase, e.Reason, e.Err)
}

func (e *AbortError) Unwrap() error {
	return e.Err
}

// RoundResult is the outcome of one round. Signature is set whenever aggregation
// succeeded, including rounds whose submission failed.
type RoundResult struct {
	Index      uint64
	TraceID    string
	State      State
	Phase      State
	Reason     Reason
	Claim      *auth.BlockClaim
	Signature  *protocol.FinalSignature
	Channels   []string
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// ClaimValidator checks a bearer token and returns the claim it carries.
type ClaimValidator interface {
	Validate(token string) (*auth.BlockClaim, error)
}

// ChainVerifier confirms a claim against the chain.
type ChainVerifier interface {
	Verify(ctx context.Context, claim *auth.BlockClaim) error
}

// SignatureSubmitter relays a final signature.
type SignatureSubmitter interface {
	Submit(ctx context.Context, sig *protocol.FinalSignature) error
}
