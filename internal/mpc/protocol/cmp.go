package protocol

import (
	"context"
	"math/big"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/taurusgroup/multi-party-sig/pkg/ecdsa"
	"github.com/taurusgroup/multi-party-sig/pkg/math/curve"
	"github.com/taurusgroup/multi-party-sig/pkg/party"
	"github.com/taurusgroup/multi-party-sig/pkg/pool"
	mpsproto "github.com/taurusgroup/multi-party-sig/pkg/protocol"
	"github.com/taurusgroup/multi-party-sig/protocols/cmp"
)

// CMPEngine runs the CMP presignature protocol as the offline stage and the
// presignature share as the online contribution.
type CMPEngine struct {
	pool  *pool.Pool
	group curve.Curve
}

// NewCMPEngine uses workers goroutines for the zero-knowledge proofs; 0 means one per CPU.
func NewCMPEngine(workers int) *CMPEngine {
	return &CMPEngine{pool: pool.NewPool(workers), group: curve.Secp256k1{}}
}

func (e *CMPEngine) Close() {
	e.pool.TearDown()
}

type cmpOfflineState struct {
	self      party.ID
	signers   []party.ID
	pre       *ecdsa.PreSignature
	public    curve.Point
	publicKey []byte
}

func (e *CMPEngine) Offline(ctx context.Context, req *OfflineRequest) (OfflineState, error) {
	channel := ""
	if req.Channel != nil {
		channel = req.Channel.Name()
	}
	if req.KeyShare == nil || req.KeyShare.CMPConfig() == nil {
		return nil, NewEngineError(channel, "key share was not produced by CMP key generation", nil)
	}
	if req.Channel == nil {
		return nil, NewEngineError(channel, "offline channel is required", nil)
	}
	cfg := req.KeyShare.CMPConfig()

	signers := make([]party.ID, 0, len(req.Signers))
	for _, id := range req.Signers {
		signers = append(signers, party.ID(id))
	}
	if len(signers) < cfg.Threshold+1 {
		return nil, NewEngineError(channel, "not enough signers for the key threshold", errors.Errorf("signers=%d threshold=%d", len(signers), cfg.Threshold))
	}

	// Every signer derives the same session id from shared inputs.
	sessionID := append([]byte(channel), req.Digest...)
	h, err := mpsproto.NewMultiHandler(cmp.Presign(cfg, signers, e.pool), sessionID)
	if err != nil {
		return nil, NewEngineError(channel, "failed to start presign", err)
	}

	result, err := runHandler(ctx, h, req.Channel, cfg.ID)
	if err != nil {
		return nil, err
	}
	pre, ok := result.(*ecdsa.PreSignature)
	if !ok {
		return nil, NewEngineError(channel, "unexpected presign result", errors.Errorf("got %T", result))
	}

	return &cmpOfflineState{
		self:      cfg.ID,
		signers:   signers,
		pre:       pre,
		public:    cfg.PublicPoint(),
		publicKey: req.KeyShare.PublicKey,
	}, nil
}

func (e *CMPEngine) Online(_ context.Context, state OfflineState, digest []byte) (SigningHandle, *Contribution, error) {
	st, ok := state.(*cmpOfflineState)
	if !ok || st == nil {
		return nil, nil, NewEngineError("", "offline state was not produced by the CMP engine", errors.Errorf("got %T", state))
	}
	if len(digest) != 32 {
		return nil, nil, NewEngineError("", "digest must be 32 bytes", errors.Errorf("len=%d", len(digest)))
	}

	share := st.pre.SignatureShare(digest)
	data, err := share.MarshalBinary()
	if err != nil {
		return nil, nil, NewEngineError("", "failed to encode signature share", err)
	}

	handle := &cmpSigningHandle{group: e.group, state: st, digest: append([]byte(nil), digest...)}
	return handle, &Contribution{PartyID: string(st.self), Data: data}, nil
}

type cmpSigningHandle struct {
	group  curve.Curve
	state  *cmpOfflineState
	digest []byte
}

func (h *cmpSigningHandle) Complete(contributions []*Contribution) (*FinalSignature, error) {
	if len(contributions) != len(h.state.signers) {
		return nil, errors.Errorf("expected %d contributions, got %d", len(h.state.signers), len(contributions))
	}

	expected := make(map[party.ID]bool, len(h.state.signers))
	for _, id := range h.state.signers {
		expected[id] = true
	}

	shares := make(map[party.ID]curve.Scalar, len(contributions))
	for _, c := range contributions {
		id := party.ID(c.PartyID)
		if !expected[id] {
			return nil, errors.Errorf("contribution from unexpected party %q", c.PartyID)
		}
		if _, dup := shares[id]; dup {
			return nil, errors.Errorf("duplicate contribution from party %q", c.PartyID)
		}
		s := h.group.NewScalar()
		if err := s.UnmarshalBinary(c.Data); err != nil {
			return nil, errors.Wrapf(err, "invalid contribution from party %q", c.PartyID)
		}
		shares[id] = s
	}

	sig := h.state.pre.Signature(shares)
	if sig == nil || !sig.Verify(h.state.public, h.digest) {
		return nil, errors.New("combined signature does not verify")
	}

	rPoint, err := sig.R.MarshalBinary()
	if err != nil || len(rPoint) != 33 {
		return nil, errors.New("failed to encode signature nonce point")
	}
	rBytes, err := sig.R.XScalar().MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode r")
	}
	sBytes, err := sig.S.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode s")
	}

	final, err := NewFinalSignature(new(big.Int).SetBytes(rBytes), new(big.Int).SetBytes(sBytes), rPoint[0]&1)
	if err != nil {
		return nil, err
	}
	if !final.Verify(h.state.publicKey, h.digest) {
		return nil, errors.New("recovery id does not recover the aggregate key")
	}
	return final, nil
}

// runHandler pumps a multi-party-sig handler over a broadcast channel until it
// produces a result, fails, or ctx ends.
func runHandler(ctx context.Context, h *mpsproto.MultiHandler, ch transport.Channel, self party.ID) (interface{}, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	recvErr := make(chan error, 1)
	go func() {
		for {
			m, err := ch.Recv(ctx)
			if err != nil {
				recvErr <- err
				return
			}
			var raw []byte
			if err := m.Decode(&raw); err != nil {
				log.Warn().Err(err).Str("room", ch.Name()).Uint16("sender", m.Sender).Msg("Dropping undecodable engine message")
				continue
			}
			msg := &mpsproto.Message{}
			if err := msg.UnmarshalBinary(raw); err != nil {
				log.Warn().Err(err).Str("room", ch.Name()).Uint16("sender", m.Sender).Msg("Dropping malformed engine message")
				continue
			}
			if !msg.IsFor(self) {
				continue
			}
			h.Accept(msg)
		}
	}()

	out := h.Listen()
	for {
		select {
		case msg, ok := <-out:
			if !ok {
				result, err := h.Result()
				if err != nil {
					return nil, NewEngineError(ch.Name(), "protocol aborted", err)
				}
				return result, nil
			}
			data, err := msg.MarshalBinary()
			if err != nil {
				h.Stop()
				return nil, NewEngineError(ch.Name(), "failed to encode engine message", err)
			}
			if err := ch.Send(ctx, data); err != nil {
				h.Stop()
				return nil, NewNetworkError(ch.Name(), err)
			}
		case err := <-recvErr:
			h.Stop()
			if ctx.Err() != nil {
				return nil, NewTimeoutError(ch.Name(), "phase did not complete in time")
			}
			return nil, NewNetworkError(ch.Name(), err)
		case <-ctx.Done():
			h.Stop()
			return nil, NewTimeoutError(ch.Name(), "phase did not complete in time")
		}
	}
}
