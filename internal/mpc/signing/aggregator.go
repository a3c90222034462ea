package signing

import (
	"context"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/protocol"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Aggregate broadcasts local on ch, collects exactly expectedRemote contributions
// from the other parties and combines all of them with handle. It either returns
// a complete signature or nothing.
func Aggregate(
	ctx context.Context,
	handle protocol.SigningHandle,
	local *protocol.Contribution,
	expectedRemote int,
	ch transport.Channel,
) (*protocol.FinalSignature, error) {
	if handle == nil || local == nil {
		return nil, errors.Wrap(ErrAggregationRejected, "local contribution is missing")
	}
	if expectedRemote < 1 {
		return nil, errors.Wrapf(ErrAggregationRejected, "expected remote contributions must be positive, got %d", expectedRemote)
	}

	if err := ch.Send(ctx, local); err != nil {
		return nil, protocol.NewNetworkError(ch.Name(), err)
	}

	collected := make([]*protocol.Contribution, 0, expectedRemote+1)
	seen := map[string]bool{local.PartyID: true}
	for len(collected) < expectedRemote {
		msg, err := ch.Recv(ctx)
		if err != nil {
			return nil, errors.Wrapf(ErrInsufficientContributions, "received %d of %d remote contributions: %v", len(collected), expectedRemote, err)
		}

		var c protocol.Contribution
		if err := msg.Decode(&c); err != nil {
			return nil, errors.Wrapf(ErrAggregationRejected, "undecodable contribution from party index %d: %v", msg.Sender, err)
		}
		if c.PartyID == "" || len(c.Data) == 0 {
			return nil, errors.Wrapf(ErrAggregationRejected, "empty contribution from party index %d", msg.Sender)
		}
		if seen[c.PartyID] {
			return nil, errors.Wrapf(ErrAggregationRejected, "second contribution for party %q", c.PartyID)
		}
		seen[c.PartyID] = true
		collected = append(collected, &c)

		log.Debug().
			Str("room", ch.Name()).
			Str("party_id", c.PartyID).
			Int("received", len(collected)).
			Int("expected", expectedRemote).
			Msg("Received contribution")
	}

	collected = append(collected, local)
	sig, err := handle.Complete(collected)
	if err != nil {
		return nil, errors.Wrapf(ErrAggregationRejected, "%v", err)
	}
	return sig, nil
}
