package signing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/protocol"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/signing"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/transport"
	"github.com/HerodotusDev/multi-party-ecdsa/internal/test"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var signers = []string{"a", "b", "c"}

func online(t *testing.T, key *btcec.PrivateKey, id string, digest []byte) (protocol.SigningHandle, *protocol.Contribution) {
	t.Helper()
	e := test.NewFakeEngine(key, id)
	room := transport.NewMemoryRoom()
	ch, err := room.Join(context.Background(), "offline")
	require.NoError(t, err)

	state, err := e.Offline(context.Background(), &protocol.OfflineRequest{
		Digest:   digest,
		KeyShare: test.NewFakeKeyShare(key, id, signers),
		Signers:  signers,
		Channel:  ch,
	})
	require.NoError(t, err)
	h, c, err := e.Online(context.Background(), state, digest)
	require.NoError(t, err)
	return h, c
}

func TestAggregate_ThreeParties(t *testing.T) {
	key := test.NewFakeKey(t)
	digest := crypto.Keccak256([]byte("claim"))
	room := transport.NewMemoryRoom()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sigs := make([]*protocol.FinalSignature, len(signers))
	errs := make([]error, len(signers))
	var wg sync.WaitGroup
	for i, id := range signers {
		h, c := online(t, key, id, digest)
		ch, err := room.Join(ctx, "signing-1-online")
		require.NoError(t, err)

		wg.Add(1)
		go func(i int, h protocol.SigningHandle, c *protocol.Contribution, ch transport.Channel) {
			defer wg.Done()
			sigs[i], errs[i] = signing.Aggregate(ctx, h, c, len(signers)-1, ch)
		}(i, h, c, ch)
	}
	wg.Wait()

	pub := key.PubKey().SerializeCompressed()
	for i := range signers {
		require.NoError(t, errs[i])
		assert.True(t, sigs[i].Verify(pub, digest))
		assert.Equal(t, sigs[0].Compact(), sigs[i].Compact())
	}
}

func TestAggregate_InsufficientContributions(t *testing.T) {
	key := test.NewFakeKey(t)
	digest := crypto.Keccak256([]byte("claim"))
	room := transport.NewMemoryRoom()
	ctx := context.Background()

	h, local := online(t, key, "a", digest)
	_, remote := online(t, key, "b", digest)

	ch, err := room.Join(ctx, "signing-2-online")
	require.NoError(t, err)
	peer, err := room.Join(ctx, "signing-2-online")
	require.NoError(t, err)
	require.NoError(t, peer.Send(ctx, remote))
	room.CloseChannel("signing-2-online")

	sig, err := signing.Aggregate(ctx, h, local, 2, ch)
	require.Error(t, err)
	assert.Nil(t, sig)
	assert.True(t, errors.Is(err, signing.ErrInsufficientContributions))
}

func TestAggregate_InsufficientOnTimeout(t *testing.T) {
	key := test.NewFakeKey(t)
	digest := crypto.Keccak256([]byte("claim"))
	room := transport.NewMemoryRoom()

	h, local := online(t, key, "a", digest)
	ch, err := room.Join(context.Background(), "signing-3-online")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = signing.Aggregate(ctx, h, local, 2, ch)
	assert.True(t, errors.Is(err, signing.ErrInsufficientContributions))
}

func TestAggregate_Rejected(t *testing.T) {
	key := test.NewFakeKey(t)
	digest := crypto.Keccak256([]byte("claim"))

	tests := []struct {
		name   string
		bodies func(b, c *protocol.Contribution) []interface{}
	}{
		{
			name: "corrupted contribution",
			bodies: func(b, c *protocol.Contribution) []interface{} {
				return []interface{}{&protocol.Contribution{PartyID: "b", Data: c.Data}, c}
			},
		},
		{
			name: "duplicate party",
			bodies: func(b, c *protocol.Contribution) []interface{} {
				return []interface{}{b, b}
			},
		},
		{
			name: "undecodable body",
			bodies: func(b, c *protocol.Contribution) []interface{} {
				return []interface{}{"garbage", c}
			},
		},
		{
			name: "foreign party",
			bodies: func(b, c *protocol.Contribution) []interface{} {
				return []interface{}{b, test.FakeContribution("z", digest)}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			room := transport.NewMemoryRoom()
			h, local := online(t, key, "a", digest)
			_, b := online(t, key, "b", digest)
			_, c := online(t, key, "c", digest)

			ch, err := room.Join(ctx, "online")
			require.NoError(t, err)
			peer, err := room.Join(ctx, "online")
			require.NoError(t, err)
			for _, body := range tt.bodies(b, c) {
				require.NoError(t, peer.Send(ctx, body))
			}

			sig, err := signing.Aggregate(ctx, h, local, 2, ch)
			require.Error(t, err)
			assert.Nil(t, sig)
			assert.True(t, errors.Is(err, signing.ErrAggregationRejected), "got %v", err)
		})
	}
}
