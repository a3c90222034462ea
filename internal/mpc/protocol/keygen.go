package protocol

import (
	"context"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/taurusgroup/multi-party-sig/pkg/party"
	mpsproto "github.com/taurusgroup/multi-party-sig/pkg/protocol"
	"github.com/taurusgroup/multi-party-sig/protocols/cmp"
)

// Keygen runs CMP key generation for self among parties over ch. Any threshold+1
// of the parties can sign with the resulting shares.
func (e *CMPEngine) Keygen(ctx context.Context, self string, parties []string, threshold int, ch transport.Channel) (*KeyShare, error) {
	if ch == nil {
		return nil, NewEngineError("", "keygen channel is required", nil)
	}
	if threshold < 1 || threshold >= len(parties) {
		return nil, NewEngineError(ch.Name(), "invalid keygen threshold", errors.Errorf("threshold=%d parties=%d", threshold, len(parties)))
	}

	ids := make([]party.ID, 0, len(parties))
	found := false
	for _, p := range parties {
		ids = append(ids, party.ID(p))
		if p == self {
			found = true
		}
	}
	if !found {
		return nil, NewEngineError(ch.Name(), "local party is not among the keygen parties", errors.Errorf("self=%s parties=%v", self, parties))
	}

	h, err := mpsproto.NewMultiHandler(cmp.Keygen(e.group, party.ID(self), ids, threshold, e.pool), []byte(ch.Name()))
	if err != nil {
		return nil, NewEngineError(ch.Name(), "failed to start key generation", err)
	}

	log.Info().Str("room", ch.Name()).Str("party_id", self).Strs("parties", parties).Int("threshold", threshold).Msg("Starting key generation")

	res, err := runHandler(ctx, h, ch, party.ID(self))
	if err != nil {
		return nil, err
	}
	cfg, ok := res.(*cmp.Config)
	if !ok {
		return nil, NewEngineError(ch.Name(), "unexpected key generation result", errors.Errorf("%T", res))
	}

	return NewKeyShare(cfg)
}
