package test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/protocol"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// FakeEngine is a deterministic protocol.Engine. All parties of a test share one
// private key; contributions are digests bound to (party, message) so corrupted
// or misplaced contributions are detected by Complete.
type FakeEngine struct {
	Key     *btcec.PrivateKey
	PartyID string

	OfflineErr  error
	OnlineErr   error
	CompleteErr error

	offlineCalls int32
	onlineCalls  int32

	mu       sync.Mutex
	requests []*protocol.OfflineRequest
}

var _ protocol.Engine = (*FakeEngine)(nil)

func NewFakeEngine(key *btcec.PrivateKey, partyID string) *FakeEngine {
	return &FakeEngine{Key: key, PartyID: partyID}
}

// NewFakeKey returns a fresh signing key for a group of fake engines.
func NewFakeKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

// NewFakeKeyShare describes key for the party id among signers.
func NewFakeKeyShare(key *btcec.PrivateKey, id string, signers []string) *protocol.KeyShare {
	return &protocol.KeyShare{
		ID:        id,
		Signers:   signers,
		Threshold: len(signers) - 1,
		PublicKey: key.PubKey().SerializeCompressed(),
	}
}

// FakeContribution is the contribution party would produce for digest.
func FakeContribution(partyID string, digest []byte) *protocol.Contribution {
	sum := sha256.Sum256(append([]byte(partyID+":"), digest...))
	return &protocol.Contribution{PartyID: partyID, Data: sum[:]}
}

func (e *FakeEngine) OfflineCalls() int { return int(atomic.LoadInt32(&e.offlineCalls)) }
func (e *FakeEngine) OnlineCalls() int  { return int(atomic.LoadInt32(&e.onlineCalls)) }

// Requests returns every offline request seen so far.
func (e *FakeEngine) Requests() []*protocol.OfflineRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*protocol.OfflineRequest(nil), e.requests...)
}

type fakeState struct {
	signers []string
}

func (e *FakeEngine) Offline(ctx context.Context, req *protocol.OfflineRequest) (protocol.OfflineState, error) {
	atomic.AddInt32(&e.offlineCalls, 1)
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()

	if e.OfflineErr != nil {
		return nil, e.OfflineErr
	}
	if err := ctx.Err(); err != nil {
		return nil, protocol.NewTimeoutError(req.Channel.Name(), "offline stage cancelled")
	}
	return &fakeState{signers: append([]string(nil), req.Signers...)}, nil
}

func (e *FakeEngine) Online(_ context.Context, state protocol.OfflineState, digest []byte) (protocol.SigningHandle, *protocol.Contribution, error) {
	atomic.AddInt32(&e.onlineCalls, 1)
	if e.OnlineErr != nil {
		return nil, nil, e.OnlineErr
	}
	st, ok := state.(*fakeState)
	if !ok {
		return nil, nil, protocol.NewEngineError("", "unexpected offline state", nil)
	}
	h := &fakeHandle{engine: e, signers: st.signers, digest: append([]byte(nil), digest...)}
	return h, FakeContribution(e.PartyID, digest), nil
}

type fakeHandle struct {
	engine  *FakeEngine
	signers []string
	digest  []byte
}

func (h *fakeHandle) Complete(contributions []*protocol.Contribution) (*protocol.FinalSignature, error) {
	if h.engine.CompleteErr != nil {
		return nil, h.engine.CompleteErr
	}
	if len(contributions) != len(h.signers) {
		return nil, errors.Errorf("expected %d contributions, got %d", len(h.signers), len(contributions))
	}
	seen := make(map[string]bool, len(contributions))
	for _, c := range contributions {
		if seen[c.PartyID] {
			return nil, errors.Errorf("duplicate contribution from %s", c.PartyID)
		}
		seen[c.PartyID] = true
		if !bytes.Equal(c.Data, FakeContribution(c.PartyID, h.digest).Data) {
			return nil, errors.Errorf("inconsistent contribution from %s", c.PartyID)
		}
	}
	for _, id := range h.signers {
		if !seen[id] {
			return nil, errors.Errorf("missing contribution from %s", id)
		}
	}

	sig, err := crypto.Sign(h.digest, h.engine.Key.ToECDSA())
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign digest")
	}
	return protocol.NewFinalSignature(new(big.Int).SetBytes(sig[:32]), new(big.Int).SetBytes(sig[32:64]), sig[64])
}
