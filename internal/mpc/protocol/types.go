package protocol

import (
	"context"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/transport"
)

// OfflineRequest is the input of the message-independent stage.
type OfflineRequest struct {
	RoundIndex uint64
	Digest     []byte
	KeyShare   *KeyShare
	// Signers are the party ids taking part in this round; len(Signers) is the party count.
	Signers []string
	Channel transport.Channel
}

// OfflineState is the engine-specific result of the offline stage. It is used
// for exactly one Online call and then discarded.
type OfflineState interface{}

// Contribution is one party's partial signature.
type Contribution struct {
	PartyID string `json:"party_id"`
	Data    []byte `json:"data"`
}

// SigningHandle combines the contributions of every signer into a FinalSignature.
type SigningHandle interface {
	Complete(contributions []*Contribution) (*FinalSignature, error)
}

// Engine drives the multi-party protocol. Every error it returns is fatal to the round.
type Engine interface {
	// Offline runs the interactive precomputation over req.Channel.
	Offline(ctx context.Context, req *OfflineRequest) (OfflineState, error)
	// Online derives the local contribution for digest from a completed offline state.
	Online(ctx context.Context, state OfflineState, digest []byte) (SigningHandle, *Contribution, error)
}
