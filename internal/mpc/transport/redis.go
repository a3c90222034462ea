package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/HerodotusDev/multi-party-ecdsa/internal/metrics"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	transportRedis = "redis"

	redisKeyPrefix  = "mpc:room:"
	redisPollBlock  = 500 * time.Millisecond
	redisReadCount  = 64
	redisFieldEnvel = "msg"
)

// RedisRoom maps every channel onto a Redis stream. Streams keep the full history,
// so a party that joins late still reads everything published before it.
// Party indices come from an INCR counter kept next to the stream.
type RedisRoom struct {
	client *redis.Client
	ttl    time.Duration

	mu     sync.Mutex
	closed bool
}

// NewRedisRoom uses client for all channels; keys expire ttl after the last write.
func NewRedisRoom(client *redis.Client, ttl time.Duration) *RedisRoom {
	return &RedisRoom{client: client, ttl: ttl}
}

func streamKey(name string) string { return redisKeyPrefix + name + ":stream" }
func indexKey(name string) string  { return redisKeyPrefix + name + ":index" }

func (r *RedisRoom) Join(ctx context.Context, name string) (Channel, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrRoomClosed
	}

	idx, err := r.client.Incr(ctx, indexKey(name)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to join channel %s", name)
	}
	if idx <= 0 || idx > 0xffff {
		return nil, errors.Errorf("party index %d out of range for channel %s", idx, name)
	}
	if r.ttl > 0 {
		if err := r.client.Expire(ctx, indexKey(name), r.ttl).Err(); err != nil {
			return nil, errors.Wrapf(err, "failed to set ttl on channel %s", name)
		}
	}

	log.Debug().Str("room", name).Int64("party_index", idx).Msg("Joined redis channel")

	return &redisChannel{
		room:   r,
		name:   name,
		index:  uint16(idx),
		lastID: "0",
	}, nil
}

// Close stops new joins. The client is owned by the caller.
func (r *RedisRoom) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type redisChannel struct {
	room    *RedisRoom
	name    string
	index   uint16
	lastID  string
	pending []*Message

	mu     sync.Mutex
	closed bool
}

func (c *redisChannel) Name() string  { return c.name }
func (c *redisChannel) Index() uint16 { return c.index }

func (c *redisChannel) Send(ctx context.Context, body interface{}) error {
	if c.isClosed() {
		return ErrChannelClosed
	}
	msg, err := newMessage(c.index, body)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "failed to encode message")
	}

	key := streamKey(c.name)
	if err := c.room.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]interface{}{redisFieldEnvel: data},
	}).Err(); err != nil {
		metrics.TransportMessagesTotal.WithLabelValues(transportRedis, "tx", "error").Inc()
		return errors.Wrapf(err, "failed to publish to channel %s", c.name)
	}
	if c.room.ttl > 0 {
		if err := c.room.client.Expire(ctx, key, c.room.ttl).Err(); err != nil {
			log.Warn().Err(err).Str("room", c.name).Msg("Failed to set ttl on channel stream")
		}
	}
	metrics.TransportMessagesTotal.WithLabelValues(transportRedis, "tx", "ok").Inc()
	return nil
}

func (c *redisChannel) Recv(ctx context.Context) (*Message, error) {
	for {
		if c.isClosed() {
			return nil, ErrChannelClosed
		}
		if len(c.pending) > 0 {
			m := c.pending[0]
			c.pending = c.pending[1:]
			return m, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		streams, err := c.room.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{streamKey(c.name), c.lastID},
			Count:   redisReadCount,
			Block:   redisPollBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if dl, ok := ctx.Deadline(); ok && !time.Now().Before(dl) {
				return nil, context.DeadlineExceeded
			}
			metrics.TransportMessagesTotal.WithLabelValues(transportRedis, "rx", "error").Inc()
			return nil, errors.Wrapf(err, "failed to read channel %s", c.name)
		}

		for _, stream := range streams {
			for _, entry := range stream.Messages {
				c.lastID = entry.ID
				m, err := decodeStreamEntry(entry)
				if err != nil {
					metrics.TransportMessagesTotal.WithLabelValues(transportRedis, "rx", "decode_error").Inc()
					log.Warn().Err(err).Str("room", c.name).Str("entry_id", entry.ID).Msg("Dropping undecodable room message")
					continue
				}
				if m.Sender == c.index {
					continue
				}
				metrics.TransportMessagesTotal.WithLabelValues(transportRedis, "rx", "ok").Inc()
				c.pending = append(c.pending, m)
			}
		}
	}
}

func decodeStreamEntry(entry redis.XMessage) (*Message, error) {
	raw, ok := entry.Values[redisFieldEnvel]
	if !ok {
		return nil, errors.New("stream entry has no message field")
	}
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return nil, errors.Errorf("unexpected stream value type %T", raw)
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "failed to decode message")
	}
	return &m, nil
}

func (c *redisChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *redisChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
