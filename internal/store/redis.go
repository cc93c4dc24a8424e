package store

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// How many optimistic retries an Update gets before ErrConflict. Contention on
// a single task key is rare (one dispatcher vs one cancel), so this is ample.
const updateRetries = 16

// Redis implements Store over plain keys and Index over sorted sets, matching
// the GET/SET/DEL + ZADD/ZRANGEBYSCORE/ZREM layout the service was designed
// around.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis { return &Redis{rdb: rdb} }

func (s *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *Redis) Set(ctx context.Context, key string, value []byte) error {
	return s.rdb.Set(ctx, key, value, 0).Err()
}

func (s *Redis) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// Update runs fn inside a WATCH/MULTI optimistic transaction: if another
// client writes the key between read and write, the transaction fails and is
// retried with the fresh value.
func (s *Redis) Update(ctx context.Context, key string, fn func(cur []byte) ([]byte, error)) error {
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			cur = nil
		} else if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}
	for i := 0; i < updateRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

func (s *Redis) Add(ctx context.Context, set string, score int64, member string) error {
	return s.rdb.ZAdd(ctx, set, redis.Z{Score: float64(score), Member: member}).Err()
}

func (s *Redis) RangeByScore(ctx context.Context, set string, min, max int64) ([]string, error) {
	return s.rdb.ZRangeByScore(ctx, set, &redis.ZRangeBy{
		Min: formatScore(min, "-inf"),
		Max: formatScore(max, "+inf"),
	}).Result()
}

func (s *Redis) Remove(ctx context.Context, set string, member string) (bool, error) {
	n, err := s.rdb.ZRem(ctx, set, member).Result()
	return n > 0, err
}

func formatScore(v int64, inf string) string {
	if v == ScoreMin || v == ScoreMax {
		return inf
	}
	return strconv.FormatInt(v, 10)
}
