package transport

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newLoopbackRoom(t *testing.T, index uint16, minPeers int, bootnodes ...string) *Libp2pRoom {
	t.Helper()
	if testing.Short() {
		t.Skip("starts libp2p hosts")
	}
	room, err := NewLibp2pRoom(context.Background(), Libp2pConfig{
		Listen:      []string{"/ip4/127.0.0.1/tcp/0"},
		Bootnodes:   bootnodes,
		PartyIndex:  index,
		MinPeers:    minPeers,
		JoinTimeout: 10 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = room.Close() })
	return room
}

func TestLibp2pRoom_FirstMessageAfterJoinIsDelivered(t *testing.T) {
	a := newLoopbackRoom(t, 1, 1)
	require.NotEmpty(t, a.Addrs())
	b := newLoopbackRoom(t, 2, 1, a.Addrs()[0])

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var chA, chB Channel
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		chA, err = a.Join(gctx, "signing-1-offline")
		return err
	})
	g.Go(func() (err error) {
		chB, err = b.Join(gctx, "signing-1-offline")
		return err
	})
	require.NoError(t, g.Wait())
	defer chA.Close()
	defer chB.Close()

	require.NoError(t, chA.Send(ctx, "hello"))

	recvCtx, cancelRecv := context.WithTimeout(ctx, 5*time.Second)
	defer cancelRecv()
	msg, err := chB.Recv(recvCtx)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), msg.Sender)
	assert.False(t, msg.Sent().IsZero())
	var body string
	require.NoError(t, msg.Decode(&body))
	assert.Equal(t, "hello", body)

	require.NoError(t, chB.Send(ctx, "hi"))
	msg, err = chA.Recv(recvCtx)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), msg.Sender)
}

func TestLibp2pRoom_JoinFailsWithoutPeers(t *testing.T) {
	room := newLoopbackRoom(t, 1, 1)
	room.cfg.JoinTimeout = 300 * time.Millisecond

	_, err := room.Join(context.Background(), "lonely")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 0, room.openTopics())
}

func TestLibp2pRoom_LocalChannelsSeeEachOther(t *testing.T) {
	room := newLoopbackRoom(t, 1, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	listener, err := room.Join(ctx, "block-hashes")
	require.NoError(t, err)
	defer listener.Close()
	publisher, err := room.Join(ctx, "block-hashes")
	require.NoError(t, err)
	defer publisher.Close()

	require.NoError(t, publisher.Send(ctx, "claim"))

	msg, err := listener.Recv(ctx)
	require.NoError(t, err)
	var body string
	require.NoError(t, msg.Decode(&body))
	assert.Equal(t, "claim", body)

	quiet, cancelQuiet := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancelQuiet()
	_, err = publisher.Recv(quiet)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestLibp2pRoom_ClosesTopicWithLastChannel(t *testing.T) {
	room := newLoopbackRoom(t, 1, 0)
	ctx := context.Background()

	first, err := room.Join(ctx, "signing-7-online")
	require.NoError(t, err)
	second, err := room.Join(ctx, "signing-7-online")
	require.NoError(t, err)
	assert.Equal(t, 1, room.openTopics())

	require.NoError(t, first.Close())
	assert.Equal(t, 1, room.openTopics())
	require.NoError(t, second.Close())
	assert.Equal(t, 0, room.openTopics())

	again, err := room.Join(ctx, "signing-7-online")
	require.NoError(t, err)
	require.NoError(t, again.Close())
	assert.Equal(t, 0, room.openTopics())
}
