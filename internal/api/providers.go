package api

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/auth"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/config"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/chain"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/protocol"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/round"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/signing"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/storage"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/transport"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/util/cert"
	"github.com/avast/retry-go/v4"
	"github.com/dropbox/godropbox/time2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// PROVIDERS - constructors that turn config sections into components.
// InitNewServer calls them in dependency order.

func NewClock(t ...*testing.T) time2.Clock {
	var clock time2.Clock

	useMock := len(t) > 0 && t[0] != nil

	if useMock {
		clock = time2.NewMockClock(time.Now())
	} else {
		clock = time2.DefaultClock
	}

	return clock
}

// NeedsRedis reports whether any configured component is redis-backed.
func NeedsRedis(cfg config.Server) bool {
	return cfg.Transport.Kind == config.TransportRedis || cfg.Store.Kind == config.StoreRedis
}

// NewRedisClient connects to the configured redis and waits until it answers a ping.
func NewRedisClient(ctx context.Context, cfg config.Transport) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	if cfg.TLSEnabled {
		host := cfg.RedisAddress
		if i := strings.LastIndex(host, ":"); i > 0 {
			host = host[:i]
		}
		tlsConfig, err := cert.ClientTLSConfig(cfg.TLSCertFile, cfg.TLSKeyFile, cfg.TLSCAFile, host)
		if err != nil {
			return nil, errors.Wrap(err, "invalid redis TLS configuration")
		}
		opts.TLSConfig = tlsConfig
	}

	client := redis.NewClient(opts)

	err := retry.Do(
		func() error {
			return client.Ping(ctx).Err()
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(500*time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Uint("attempt", n+1).Str("addr", cfg.RedisAddress).Msg("Redis not reachable yet, retrying")
		}),
	)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "failed to reach redis at %s", cfg.RedisAddress)
	}

	return client, nil
}

// NewRoom creates the party-to-party transport selected by cfg.Transport.Kind.
// With libp2p and no configured index, the index is partyID's 1-based position in signers.
func NewRoom(ctx context.Context, cfg config.Server, client *redis.Client, partyID string, signers []string) (transport.Room, error) {
	switch cfg.Transport.Kind {
	case config.TransportRedis:
		if client == nil {
			return nil, errors.New("redis transport requires a redis client")
		}
		return transport.NewRedisRoom(client, cfg.Transport.StreamTTL), nil
	case config.TransportLibp2p:
		index := cfg.Transport.Libp2pPartyIndex
		if index == 0 {
			index = partyPosition(partyID, signers)
		}
		if index <= 0 || index > int(^uint16(0)) {
			return nil, errors.Errorf("invalid libp2p party index %d", index)
		}
		room, err := transport.NewLibp2pRoom(ctx, transport.Libp2pConfig{
			Listen:      cfg.Transport.Libp2pListen,
			Bootnodes:   cfg.Transport.Libp2pBootnodes,
			PartyIndex:  uint16(index),
			NAT:         cfg.Transport.Libp2pNAT,
			MinPeers:    libp2pMinPeers(cfg.Transport, partyID, signers),
			JoinTimeout: cfg.Transport.Libp2pJoinTimeout,
		})
		if err != nil {
			return nil, err
		}
		return room, nil
	case config.TransportMemory:
		log.Warn().Msg("Using in-process memory transport, parties in other processes are unreachable")
		return transport.NewMemoryRoom(), nil
	default:
		return nil, errors.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}

// libp2pMinPeers is the configured minimum, else every other signer. A publisher
// outside the signer set waits for all of them.
func libp2pMinPeers(cfg config.Transport, partyID string, signers []string) int {
	if cfg.Libp2pMinPeers > 0 {
		return cfg.Libp2pMinPeers
	}
	if partyPosition(partyID, signers) > 0 {
		return len(signers) - 1
	}
	if len(signers) == 0 {
		log.Warn().Msg("No signers known, libp2p joins will not wait for peers")
	}
	return len(signers)
}

// partyPosition is the 1-based position of id in signers, or 0.
func partyPosition(id string, signers []string) int {
	for i, s := range signers {
		if s == id {
			return i + 1
		}
	}
	return 0
}

// NewRoundStore creates the round record store selected by cfg.Store.Kind.
func NewRoundStore(cfg config.Store, client *redis.Client) (storage.RoundStore, error) {
	switch cfg.Kind {
	case config.StoreRedis:
		if client == nil {
			return nil, errors.New("redis store requires a redis client")
		}
		return storage.NewRedisStore(client, cfg.RecordTTL), nil
	case config.StoreMemory:
		return storage.NewMemoryStore(), nil
	default:
		return nil, errors.Errorf("unknown store kind %q", cfg.Kind)
	}
}

// NewClaimManager is nil when no signing secret is configured; such a party can
// neither issue nor accept tokens.
func NewClaimManager(cfg config.Claim, clock time2.Clock) *auth.ClaimManager {
	if cfg.SigningSecret == "" {
		return nil
	}
	return auth.NewClaimManager(cfg.SigningSecret, cfg.Issuer, cfg.TokenDuration, clock)
}

// NewSequencer wires the round components for the configured variant.
func NewSequencer(cfg config.Server, room transport.Room, store storage.RoundStore, engine protocol.Engine, keyShare *protocol.KeyShare, claims *auth.ClaimManager) (*round.Sequencer, error) {
	params := round.Params{
		Room:     room,
		Verifier: chain.NewVerifier(cfg.Chain.RPCEndpoint, cfg.Chain.Timeout),
		Engine:   engine,
		Store:    store,
		KeyShare: keyShare,
		Signers:  cfg.MPC.SignerIDs,
	}
	if cfg.Claim.AuthEnabled {
		if claims == nil {
			return nil, errors.New("claim auth is enabled but no signing secret is configured")
		}
		params.Validator = claims
	}
	if cfg.Submission.Enabled {
		params.Submitter = signing.NewSubmitter(cfg.Submission.Endpoint, cfg.Submission.Timeout)
	}

	return round.NewSequencer(round.Config{
		RoomPrefix:    cfg.Room.Prefix,
		ClaimRoom:     cfg.Claim.Room,
		AuthEnabled:   cfg.Claim.AuthEnabled,
		SubmitEnabled: cfg.Submission.Enabled,
		PhaseTimeout:  cfg.MPC.PhaseTimeout,
		StaleClaimAge: cfg.MPC.StaleClaimAge,
	}, params)
}

// InitNewServer builds every component of a party. On error the components
// created so far are released.
func InitNewServer(ctx context.Context, cfg config.Server) (*Server, error) {
	s := NewServer(cfg)
	if err := s.initComponents(ctx); err != nil {
		s.Shutdown(context.WithoutCancel(ctx))
		return nil, err
	}

	return s, nil
}

func (s *Server) initComponents(ctx context.Context) error {
	var err error
	cfg := s.Config

	s.Clock = NewClock()

	s.KeyShare, err = protocol.LoadKeyShare(cfg.MPC.KeySharePath, cfg.MPC.KeySharePassphrase)
	if err != nil {
		return err
	}
	signers := cfg.MPC.SignerIDs
	if len(signers) == 0 {
		signers = s.KeyShare.Signers
	}

	if NeedsRedis(cfg) {
		s.Redis, err = NewRedisClient(ctx, cfg.Transport)
		if err != nil {
			return err
		}
	}

	s.Room, err = NewRoom(ctx, cfg, s.Redis, s.KeyShare.ID, signers)
	if err != nil {
		return err
	}

	s.Store, err = NewRoundStore(cfg.Store, s.Redis)
	if err != nil {
		return err
	}

	s.Engine = protocol.NewCMPEngine(cfg.MPC.Workers)
	s.Claims = NewClaimManager(cfg.Claim, s.Clock)

	s.Sequencer, err = NewSequencer(cfg, s.Room, s.Store, s.Engine, s.KeyShare, s.Claims)
	if err != nil {
		return err
	}

	address, err := chain.Address(s.KeyShare.PublicKey)
	if err != nil {
		return errors.Wrap(err, "key share holds no usable public key")
	}

	log.Info().
		Str("party_id", s.KeyShare.ID).
		Str("address", address.Hex()).
		Strs("signers", signers).
		Str("transport", string(cfg.Transport.Kind)).
		Str("store", string(cfg.Store.Kind)).
		Bool("auth", cfg.Claim.AuthEnabled).
		Bool("submission", cfg.Submission.Enabled).
		Msg("Server components initialized")

	return nil
}
