package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/mpc/transport"
	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisRoom(t *testing.T) transport.Room {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return transport.NewRedisRoom(client, time.Minute)
}

func rooms(t *testing.T) map[string]transport.Room {
	return map[string]transport.Room{
		"memory": transport.NewMemoryRoom(),
		"redis":  newRedisRoom(t),
	}
}

func TestRoom_IndicesAreAssignedFromOne(t *testing.T) {
	for name, room := range rooms(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a, err := room.Join(ctx, "signing-1-offline")
			require.NoError(t, err)
			b, err := room.Join(ctx, "signing-1-offline")
			require.NoError(t, err)
			c, err := room.Join(ctx, "signing-1-online")
			require.NoError(t, err)

			assert.Equal(t, uint16(1), a.Index())
			assert.Equal(t, uint16(2), b.Index())
			assert.Equal(t, uint16(1), c.Index())
			assert.Equal(t, "signing-1-offline", a.Name())
		})
	}
}

func TestRoom_BroadcastSkipsSelfAndKeepsOrder(t *testing.T) {
	for name, room := range rooms(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			a, err := room.Join(ctx, "ch")
			require.NoError(t, err)
			b, err := room.Join(ctx, "ch")
			require.NoError(t, err)

			require.NoError(t, a.Send(ctx, "first"))
			require.NoError(t, a.Send(ctx, "second"))
			require.NoError(t, b.Send(ctx, "from-b"))

			for _, want := range []string{"first", "second"} {
				msg, err := b.Recv(ctx)
				require.NoError(t, err)
				assert.Equal(t, a.Index(), msg.Sender)
				assert.Nil(t, msg.Receiver)
				assert.WithinDuration(t, time.Now(), msg.Sent(), time.Minute)
				var body string
				require.NoError(t, msg.Decode(&body))
				assert.Equal(t, want, body)
			}

			msg, err := a.Recv(ctx)
			require.NoError(t, err)
			var body string
			require.NoError(t, msg.Decode(&body))
			assert.Equal(t, "from-b", body)
		})
	}
}

func TestRoom_LateJoinerReadsHistory(t *testing.T) {
	for name, room := range rooms(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			early, err := room.Join(ctx, "history")
			require.NoError(t, err)
			require.NoError(t, early.Send(ctx, map[string]int{"n": 1}))

			late, err := room.Join(ctx, "history")
			require.NoError(t, err)
			msg, err := late.Recv(ctx)
			require.NoError(t, err)

			var body map[string]int
			require.NoError(t, msg.Decode(&body))
			assert.Equal(t, 1, body["n"])
		})
	}
}

func TestRoom_RecvHonoursContext(t *testing.T) {
	for name, room := range rooms(t) {
		t.Run(name, func(t *testing.T) {
			ch, err := room.Join(context.Background(), "quiet")
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			_, err = ch.Recv(ctx)
			require.Error(t, err)
			assert.True(t, errors.Is(err, context.DeadlineExceeded))
		})
	}
}

func TestRoom_ClosedChannel(t *testing.T) {
	for name, room := range rooms(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ch, err := room.Join(ctx, "closing")
			require.NoError(t, err)
			require.NoError(t, ch.Close())

			_, err = ch.Recv(ctx)
			assert.True(t, errors.Is(err, transport.ErrChannelClosed))
			assert.True(t, errors.Is(ch.Send(ctx, "x"), transport.ErrChannelClosed))

			require.NoError(t, room.Close())
			_, err = room.Join(ctx, "closing")
			assert.True(t, errors.Is(err, transport.ErrRoomClosed))
		})
	}
}

func TestMemoryRoom_CloseChannelDrainsThenEnds(t *testing.T) {
	room := transport.NewMemoryRoom()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	a, err := room.Join(ctx, "ending")
	require.NoError(t, err)
	b, err := room.Join(ctx, "ending")
	require.NoError(t, err)
	require.NoError(t, a.Send(ctx, "last"))
	room.CloseChannel("ending")

	_, err = b.Recv(ctx)
	require.NoError(t, err)
	_, err = b.Recv(ctx)
	assert.True(t, errors.Is(err, transport.ErrChannelClosed))
}

func TestMemoryRoom_RecvWakesOnSend(t *testing.T) {
	room := transport.NewMemoryRoom()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	a, err := room.Join(ctx, "wake")
	require.NoError(t, err)
	b, err := room.Join(ctx, "wake")
	require.NoError(t, err)

	got := make(chan *transport.Message, 1)
	go func() {
		m, err := b.Recv(ctx)
		if err == nil {
			got <- m
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, a.Send(ctx, "wake up"))

	select {
	case m := <-got:
		assert.Equal(t, a.Index(), m.Sender)
	case <-ctx.Done():
		t.Fatal("receiver was not woken")
	}
}

func TestRedisRoom_RecvResumesAfterOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	room := transport.NewRedisRoom(client, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sender, err := room.Join(ctx, "block-hashes")
	require.NoError(t, err)
	listener, err := room.Join(ctx, "block-hashes")
	require.NoError(t, err)

	require.NoError(t, sender.Send(ctx, "first"))
	msg, err := listener.Recv(ctx)
	require.NoError(t, err)
	var body string
	require.NoError(t, msg.Decode(&body))
	assert.Equal(t, "first", body)

	mr.Close()
	outage, cancelOutage := context.WithTimeout(ctx, time.Second)
	_, err = listener.Recv(outage)
	cancelOutage()
	require.Error(t, err)
	assert.False(t, errors.Is(err, transport.ErrChannelClosed))

	require.NoError(t, mr.Restart())
	require.Eventually(t, func() bool {
		return sender.Send(ctx, "second") == nil
	}, 5*time.Second, 50*time.Millisecond)

	msg, err = listener.Recv(ctx)
	require.NoError(t, err)
	require.NoError(t, msg.Decode(&body))
	assert.Equal(t, "second", body)
}
