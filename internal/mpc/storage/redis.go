package storage

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	roundKeyPrefix = "mpc:round:"
	roundIndexKey  = "mpc:rounds"
)

// RedisStore keeps one JSON value per round plus a sorted set of indices.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore stores records for ttl; zero keeps them forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) RoundStore {
	return &RedisStore{client: client, ttl: ttl}
}

func roundKey(index uint64) string {
	return roundKeyPrefix + strconv.FormatUint(index, 10)
}

func (s *RedisStore) SaveRound(ctx context.Context, rec *RoundRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "failed to marshal round")
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, roundKey(rec.Index), data, s.ttl)
	pipe.ZAdd(ctx, roundIndexKey, redis.Z{Score: float64(rec.Index), Member: strconv.FormatUint(rec.Index, 10)})
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to save round")
	}
	return nil
}

func (s *RedisStore) GetRound(ctx context.Context, index uint64) (*RoundRecord, error) {
	data, err := s.client.Get(ctx, roundKey(index)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRoundNotFound
		}
		return nil, errors.Wrap(err, "failed to get round")
	}

	var rec RoundRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal round")
	}
	return &rec, nil
}

func (s *RedisStore) ListRounds(ctx context.Context, limit int) ([]*RoundRecord, error) {
	if limit <= 0 {
		return []*RoundRecord{}, nil
	}
	members, err := s.client.ZRevRange(ctx, roundIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list rounds")
	}
	if len(members) == 0 {
		return []*RoundRecord{}, nil
	}

	keys := make([]string, 0, len(members))
	for _, m := range members {
		keys = append(keys, roundKeyPrefix+m)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load rounds")
	}

	records := make([]*RoundRecord, 0, len(values))
	var expired []interface{}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			expired = append(expired, members[i])
			continue
		}
		var rec RoundRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal round")
		}
		records = append(records, &rec)
	}
	if len(expired) > 0 {
		if err := s.client.ZRem(ctx, roundIndexKey, expired...).Err(); err != nil {
			return nil, errors.Wrap(err, "failed to prune expired rounds")
		}
	}
	return records, nil
}
