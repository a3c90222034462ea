package round

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/auth"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/metrics"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/chain"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/protocol"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/signing"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/storage"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/transport"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/util"
	"github.com/avast/retry-go/v4"
	"github.com/dropbox/godropbox/time2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultPhaseTimeout   = 2 * time.Minute
	defaultRecvRetryDelay = 500 * time.Millisecond
	maxRecvRetryDelay     = 30 * time.Second
)

// Config selects the sequencer variant. With AuthEnabled the claim room carries
// HS256 tokens, otherwise plain JSON claims. With SubmitEnabled a produced
// signature is relayed, otherwise it is only logged.
//
// Claims published more than StaleClaimAge before Run started are replayed
// history: they take an index but run no phases. It defaults to two phase timeouts.
type Config struct {
	RoomPrefix     string
	ClaimRoom      string
	AuthEnabled    bool
	SubmitEnabled  bool
	PhaseTimeout   time.Duration
	StaleClaimAge  time.Duration
	RecvRetryDelay time.Duration
}

// Params are the collaborators of a Sequencer. Validator is only required with
// auth enabled, Submitter only with submission enabled. Store is optional.
type Params struct {
	Room      transport.Room
	Validator ClaimValidator
	Verifier  ChainVerifier
	Engine    protocol.Engine
	Submitter SignatureSubmitter
	Store     storage.RoundStore
	KeyShare  *protocol.KeyShare
	// Signers overrides KeyShare.Signers as the parties of every round.
	Signers []string
	Clock   time2.Clock
}

// Sequencer runs signing rounds one at a time, one per claim received on the claim room.
type Sequencer struct {
	cfg       Config
	room      transport.Room
	validator ClaimValidator
	verifier  ChainVerifier
	engine    protocol.Engine
	submitter SignatureSubmitter
	store     storage.RoundStore
	keyShare  *protocol.KeyShare
	signers   []string
	clock     time2.Clock

	// startedAt and roundIndex, the index of the last started round, are only touched by the Run goroutine.
	startedAt  time.Time
	roundIndex uint64
	ready      atomic.Bool
}

func NewSequencer(cfg Config, p Params) (*Sequencer, error) {
	if p.Room == nil || p.Verifier == nil || p.Engine == nil || p.KeyShare == nil {
		return nil, errors.New("room, verifier, engine and key share are required")
	}
	if cfg.AuthEnabled && p.Validator == nil {
		return nil, errors.New("claim validator is required when auth is enabled")
	}
	if cfg.SubmitEnabled && p.Submitter == nil {
		return nil, errors.New("submitter is required when submission is enabled")
	}
	if cfg.ClaimRoom == "" {
		return nil, errors.New("claim room is required")
	}
	if cfg.RoomPrefix == "" {
		return nil, errors.New("room prefix is required")
	}
	if cfg.PhaseTimeout <= 0 {
		cfg.PhaseTimeout = defaultPhaseTimeout
	}
	if cfg.StaleClaimAge <= 0 {
		cfg.StaleClaimAge = 2 * cfg.PhaseTimeout
	}
	if cfg.RecvRetryDelay <= 0 {
		cfg.RecvRetryDelay = defaultRecvRetryDelay
	}
	clock := p.Clock
	if clock == nil {
		clock = time2.DefaultClock
	}

	signers := p.Signers
	if len(signers) == 0 {
		signers = p.KeyShare.Signers
	}
	if len(signers) < 2 {
		return nil, errors.Errorf("at least 2 signers are required, got %d", len(signers))
	}
	local := false
	seen := make(map[string]bool, len(signers))
	for _, id := range signers {
		if seen[id] {
			return nil, errors.Errorf("signer %q listed twice", id)
		}
		seen[id] = true
		if id == p.KeyShare.ID {
			local = true
		}
	}
	if !local {
		return nil, errors.Errorf("local party %q is not among the signers %v", p.KeyShare.ID, signers)
	}

	return &Sequencer{
		cfg:       cfg,
		room:      p.Room,
		validator: p.Validator,
		verifier:  p.Verifier,
		engine:    p.Engine,
		submitter: p.Submitter,
		store:     p.Store,
		keyShare:  p.KeyShare,
		signers:   append([]string(nil), signers...),
		clock:     clock,
	}, nil
}

// ChannelNames derives the private channels of a round. Every party computes the
// same names from the shared prefix and index.
func ChannelNames(prefix string, index uint64) (offline string, online string) {
	return fmt.Sprintf("%s-%d-offline", prefix, index), fmt.Sprintf("%s-%d-online", prefix, index)
}

// Ready reports whether the sequencer is listening on the claim room.
func (s *Sequencer) Ready() bool {
	return s.ready.Load()
}

// Run joins the claim room and runs a round for every message until ctx ends.
// Round failures and transport join or read errors never end Run; a closed claim channel does.
func (s *Sequencer) Run(ctx context.Context) error {
	claims, err := retry.DoWithData(
		func() (transport.Channel, error) {
			return s.room.Join(ctx, s.cfg.ClaimRoom)
		},
		s.retryOptions(ctx, func(n uint, err error) {
			log.Warn().Err(err).Str("room", s.cfg.ClaimRoom).Uint("attempt", n+1).Msg("Failed to join claim room, retrying")
		})...,
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrapf(err, "failed to join claim room %s", s.cfg.ClaimRoom)
	}
	defer claims.Close()
	s.startedAt = s.clock.Now()

	s.ready.Store(true)
	defer s.ready.Store(false)

	log.Info().
		Str("room", s.cfg.ClaimRoom).
		Uint16("party_index", claims.Index()).
		Str("party_id", s.keyShare.ID).
		Strs("signers", s.signers).
		Bool("auth_enabled", s.cfg.AuthEnabled).
		Bool("submit_enabled", s.cfg.SubmitEnabled).
		Msg("Awaiting claims")

	for {
		msg, err := s.nextClaim(ctx, claims)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "claim channel closed")
		}
		metrics.ClaimsReceived.Inc()
		s.RunRound(ctx, msg)
	}
}

// nextClaim reads the next claim, retrying transport errors with backoff on the
// same channel. The channel keeps its read position, so no claim is skipped or
// read twice and the round index stays aligned with the other parties.
func (s *Sequencer) nextClaim(ctx context.Context, claims transport.Channel) (*transport.Message, error) {
	return retry.DoWithData(
		func() (*transport.Message, error) {
			return claims.Recv(ctx)
		},
		s.retryOptions(ctx, func(n uint, err error) {
			log.Warn().Err(err).Str("room", claims.Name()).Uint("attempt", n+1).Msg("Failed to read claim channel, retrying")
		})...,
	)
}

// retryOptions retry without limit until ctx ends or the room or channel is closed.
func (s *Sequencer) retryOptions(ctx context.Context, onRetry retry.OnRetryFunc) []retry.Option {
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(s.cfg.RecvRetryDelay),
		retry.MaxDelay(maxRecvRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil &&
				!errors.Is(err, transport.ErrChannelClosed) &&
				!errors.Is(err, transport.ErrRoomClosed)
		}),
		retry.OnRetry(onRetry),
	}
}

// stale reports whether msg was published well before this sequencer started,
// so every live party has long finished its round.
func (s *Sequencer) stale(msg *transport.Message) bool {
	if s.startedAt.IsZero() || msg == nil {
		return false
	}
	sent := msg.Sent()
	return !sent.IsZero() && s.startedAt.Sub(sent) > s.cfg.StaleClaimAge
}

// RunRound processes one claim message as the next round.
func (s *Sequencer) RunRound(ctx context.Context, msg *transport.Message) *RoundResult {
	s.roundIndex++
	index := s.roundIndex
	metrics.CurrentRoundIndex.Set(float64(index))

	r := &roundRun{
		seq:    s,
		sm:     newStateMachine(),
		result: &RoundResult{Index: index, TraceID: uuid.NewString(), StartedAt: time.Now()},
	}
	logger := log.With().
		Uint64("round_index", index).
		Str("trace_id", r.result.TraceID).
		Str("party_id", s.keyShare.ID).
		Logger()
	ctx = util.WithLogger(ctx, logger)

	if s.stale(msg) {
		r.abort(ctx, errors.Wrapf(ErrStaleClaim, "published at %s", msg.Sent().Format(time.RFC3339)))
	} else {
		r.run(ctx, msg)
	}
	r.finish(ctx)
	return r.result
}

type roundRun struct {
	seq    *Sequencer
	sm     *stateMachine
	result *RoundResult
}

func (r *roundRun) run(ctx context.Context, msg *transport.Message) {
	s := r.seq
	index := r.result.Index

	if !r.advance(ctx, StateVerifying) {
		return
	}
	done := r.phaseTimer(StateVerifying)
	claim, err := s.decodeClaim(msg)
	if err != nil {
		done()
		r.abort(ctx, err)
		return
	}
	r.result.Claim = claim
	ctx = util.WithLogger(ctx, util.LogFromContext(ctx).With().Str("block_number", claim.BlockNumber).Logger())

	// The chain check must pass before any key material reaches the engine.
	if err := s.verifier.Verify(ctx, claim); err != nil {
		done()
		r.abort(ctx, err)
		return
	}
	digest, err := chain.ClaimDigest(claim)
	done()
	if err != nil {
		r.abort(ctx, err)
		return
	}

	offlineName, onlineName := ChannelNames(s.cfg.RoomPrefix, index)
	r.result.Channels = []string{offlineName, onlineName}

	// Both channels are joined up front so no online message is published before we listen.
	offlineCh, err := s.room.Join(ctx, offlineName)
	if err != nil {
		r.abort(ctx, protocol.NewNetworkError(offlineName, err))
		return
	}
	defer offlineCh.Close()
	onlineCh, err := s.room.Join(ctx, onlineName)
	if err != nil {
		r.abort(ctx, protocol.NewNetworkError(onlineName, err))
		return
	}
	defer onlineCh.Close()

	if !r.advance(ctx, StateOfflinePhase) {
		return
	}
	util.LogFromContext(ctx).Debug().
		Str("phase", string(StateOfflinePhase)).
		Str("room", offlineName).
		Uint16("party_index", offlineCh.Index()).
		Str("digest", chain.DigestHex(digest)).
		Msg("Starting offline stage")

	done = r.phaseTimer(StateOfflinePhase)
	offlineCtx, cancelOffline := context.WithTimeout(ctx, s.cfg.PhaseTimeout)
	state, err := s.engine.Offline(offlineCtx, &protocol.OfflineRequest{
		RoundIndex: index,
		Digest:     digest,
		KeyShare:   s.keyShare,
		Signers:    s.signers,
		Channel:    offlineCh,
	})
	cancelOffline()
	done()
	if err != nil {
		r.abort(ctx, asEngineError(offlineName, err))
		return
	}

	if !r.advance(ctx, StateOnlinePhase) {
		return
	}
	done = r.phaseTimer(StateOnlinePhase)
	handle, local, err := s.engine.Online(ctx, state, digest)
	done()
	if err != nil {
		r.abort(ctx, asEngineError(onlineName, err))
		return
	}

	if !r.advance(ctx, StateAggregating) {
		return
	}
	done = r.phaseTimer(StateAggregating)
	aggCtx, cancelAgg := context.WithTimeout(ctx, s.cfg.PhaseTimeout)
	sig, err := signing.Aggregate(aggCtx, handle, local, len(s.signers)-1, onlineCh)
	cancelAgg()
	done()
	if err != nil {
		r.abort(ctx, err)
		return
	}
	r.result.Signature = sig

	if s.cfg.SubmitEnabled {
		if err := s.submitter.Submit(ctx, sig); err != nil {
			r.abort(ctx, err)
			return
		}
	}
	r.advance(ctx, StateSubmitted)
}

func (s *Sequencer) decodeClaim(msg *transport.Message) (*auth.BlockClaim, error) {
	if msg == nil {
		return nil, errors.Wrap(auth.ErrMalformedClaim, "empty claim message")
	}
	if !s.cfg.AuthEnabled {
		return auth.DecodePlainClaim(msg.Body)
	}
	var token string
	if err := msg.Decode(&token); err != nil {
		return nil, errors.Wrapf(auth.ErrMalformedClaim, "claim message is not a token: %v", err)
	}
	return s.validator.Validate(token)
}

func asEngineError(channel string, err error) error {
	if protocol.IsProtocolError(err) {
		return err
	}
	return protocol.NewEngineError(channel, "engine failed", err)
}

func (r *roundRun) advance(ctx context.Context, next State) bool {
	if err := r.sm.advance(next); err != nil {
		util.LogFromContext(ctx).Error().Err(err).Msg("Round state machine rejected transition")
		r.abort(ctx, err)
		return false
	}
	return true
}

func (r *roundRun) abort(ctx context.Context, err error) {
	phase := r.sm.phase
	if err := r.sm.advance(StateAborted); err != nil {
		util.LogFromContext(ctx).Error().Err(err).Msg("Round already finished")
		return
	}
	reason := ReasonFor(err)
	r.result.Reason = reason
	r.result.Err = &AbortError{RoundIndex: r.result.Index, Phase: phase, Reason: reason, Err: err}
}

func (r *roundRun) phaseTimer(phase State) func() {
	start := time.Now()
	return func() {
		metrics.PhaseSeconds.WithLabelValues(string(phase)).Observe(time.Since(start).Seconds())
	}
}

// finish logs the outcome once and writes the audit record.
func (r *roundRun) finish(ctx context.Context) {
	res := r.result
	res.State = r.sm.state
	res.Phase = r.sm.phase
	res.FinishedAt = time.Now()
	metrics.RoundsTotal.WithLabelValues(string(res.State), string(res.Reason)).Inc()

	logger := util.LogFromContext(ctx)
	switch {
	case res.State == StateSubmitted:
		logger.Info().
			Object("signature", res.Signature).
			Bool("submitted", r.seq.cfg.SubmitEnabled).
			Dur("duration", res.FinishedAt.Sub(res.StartedAt)).
			Msg("Round completed")
	case res.Signature != nil:
		logger.Warn().
			Err(res.Err).
			Str("phase", string(res.Phase)).
			Str("reason", string(res.Reason)).
			Object("signature", res.Signature).
			Msg("Round aborted after producing a signature")
	case res.Reason == ReasonStaleClaim:
		logger.Debug().Err(res.Err).Msg("Skipped replayed claim")
	default:
		event := logger.Warn()
		if res.Reason == ReasonHashMismatch || res.Reason == ReasonEngineError {
			event = logger.Error()
		}
		event.
			Err(res.Err).
			Str("phase", string(res.Phase)).
			Str("reason", string(res.Reason)).
			Msg("Round aborted")
	}

	if r.seq.store == nil {
		return
	}
	if err := r.seq.store.SaveRound(context.WithoutCancel(ctx), toRecord(res)); err != nil {
		logger.Warn().Err(err).Msg("Failed to save round record")
	}
}

func toRecord(res *RoundResult) *storage.RoundRecord {
	rec := &storage.RoundRecord{
		Index:      res.Index,
		TraceID:    res.TraceID,
		Claim:      res.Claim,
		State:      string(res.State),
		Phase:      string(res.Phase),
		Reason:     string(res.Reason),
		Channels:   res.Channels,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if res.Signature != nil {
		body := signing.NewSubmissionBody(res.Signature)
		rec.Signature = &storage.SignatureRecord{R: body.R, S: body.S, V: body.V}
	}
	return rec
}
