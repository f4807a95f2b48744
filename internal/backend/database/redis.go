package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "faceswap:result:"
	redisIndexKey  = "faceswap:results"
)

// RedisDatabase stores each result as JSON under its own key and keeps a
// sorted set of ids scored by creation time for expiry sweeps.
type RedisDatabase struct {
	client *redis.Client
}

// NewRedisDatabase accepts a redis:// URL or a plain host:port address.
func NewRedisDatabase(connectionString string) (DatabaseService, error) {
	options, err := redis.ParseURL(connectionString)
	if err != nil {
		options = &redis.Options{Addr: connectionString}
	}
	return &RedisDatabase{client: redis.NewClient(options)}, nil
}

func (r *RedisDatabase) CreateDatabase(ctx context.Context) error {
	// no schema; verify connectivity instead
	return r.client.Ping(ctx).Err()
}

func (r *RedisDatabase) DoesDatabaseExist(ctx context.Context) bool {
	return r.client.Ping(ctx).Err() == nil
}

func (r *RedisDatabase) Close() error {
	return r.client.Close()
}

func (r *RedisDatabase) CreateResult(ctx context.Context, result *Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result %s: %w", result.ID, err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisKeyPrefix+result.ID, data, 0)
		pipe.ZAdd(ctx, redisIndexKey, redis.Z{
			Score:  float64(result.CreatedAt.UnixMilli()),
			Member: result.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store result %s: %w", result.ID, err)
	}
	return nil
}

func (r *RedisDatabase) GetResult(ctx context.Context, id string) (*Result, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read result %s: %w", id, err)
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result %s: %w", id, err)
	}
	return &result, nil
}

func (r *RedisDatabase) DeleteResult(ctx context.Context, id string) error {
	var deleted *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, redisKeyPrefix+id)
		pipe.ZRem(ctx, redisIndexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete result %s: %w", id, err)
	}
	if deleted.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RedisDatabase) DeleteResultsBefore(ctx context.Context, cutoff time.Time) ([]*Result, error) {
	ids, err := r.client.ZRangeByScore(ctx, redisIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list expired results: %w", err)
	}

	expired := make([]*Result, 0, len(ids))
	for _, id := range ids {
		result, err := r.GetResult(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// index entry without a record; drop it below
			result = &Result{ID: id}
		} else if err != nil {
			return nil, err
		}
		if err := r.DeleteResult(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		expired = append(expired, result)
	}
	return expired, nil
}
