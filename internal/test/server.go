package test

import (
	"testing"
	"time"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/api"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/api/router"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/config"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/storage"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/transport"
)

const TestClaimSecret = "test-claim-secret"

// NewTestConfig is the env config switched to in-process components.
func NewTestConfig() config.Server {
	cfg := config.DefaultServiceConfigFromEnv()
	cfg.Claim.SigningSecret = TestClaimSecret
	cfg.Claim.Issuer = "test"
	cfg.Claim.AuthEnabled = true
	cfg.Submission.Enabled = false
	cfg.Transport.Kind = config.TransportMemory
	cfg.Store.Kind = config.StoreMemory
	cfg.Chain.RPCEndpoint = "http://127.0.0.1:1"
	cfg.Chain.Timeout = time.Second
	cfg.MPC.PhaseTimeout = 2 * time.Second
	cfg.MPC.SignerIDs = nil
	return cfg
}

// NewTestServer builds a fully routed server on a memory room and store, signing
// with a FakeEngine for party "a" of signers {a, b}. It does not run the sequencer.
func NewTestServer(t *testing.T, mutators ...func(cfg *config.Server)) *api.Server {
	t.Helper()

	cfg := NewTestConfig()
	for _, m := range mutators {
		m(&cfg)
	}

	key := NewFakeKey(t)
	s := api.NewServer(cfg)
	s.Clock = api.NewClock(t)
	s.Room = transport.NewMemoryRoom()
	s.Store = storage.NewMemoryStore()
	s.KeyShare = NewFakeKeyShare(key, "a", []string{"a", "b"})
	s.Claims = api.NewClaimManager(cfg.Claim, s.Clock)

	seq, err := api.NewSequencer(cfg, s.Room, s.Store, NewFakeEngine(key, "a"), s.KeyShare, s.Claims)
	if err != nil {
		t.Fatalf("failed to create sequencer: %v", err)
	}
	s.Sequencer = seq

	router.Init(s)

	t.Cleanup(func() {
		_ = s.Room.Close()
	})

	return s
}
