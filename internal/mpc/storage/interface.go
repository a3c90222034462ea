package storage

import (
	"context"
	"time"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/auth"
	"github.com/pkg/errors"
)

var ErrRoundNotFound = errors.New("round not found")

// SignatureRecord is the r/s/v triple as submitted to the relay.
type SignatureRecord struct {
	R string `json:"r"`
	S string `json:"s"`
	V uint64 `json:"v"`
}

// RoundRecord is the audit entry written once per finished round.
type RoundRecord struct {
	Index      uint64           `json:"index"`
	TraceID    string           `json:"trace_id"`
	Claim      *auth.BlockClaim `json:"claim,omitempty"`
	State      string           `json:"state"`
	Phase      string           `json:"phase"`
	Reason     string           `json:"reason,omitempty"`
	Error      string           `json:"error,omitempty"`
	Channels   []string         `json:"channels,omitempty"`
	Signature  *SignatureRecord `json:"signature,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// RoundStore keeps round history for operators. The sequencer only writes to it.
type RoundStore interface {
	SaveRound(ctx context.Context, rec *RoundRecord) error
	GetRound(ctx context.Context, index uint64) (*RoundRecord, error)
	// ListRounds returns at most limit records, newest first.
	ListRounds(ctx context.Context, limit int) ([]*RoundRecord, error)
}
