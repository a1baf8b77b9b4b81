package variables

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Redis keeps the namespace of a run in one hash, so several engine
// processes can share the runtime variables of a run.
type Redis struct {
	client *redis.Client
	key    string
}

// RedisKey returns the hash key holding the variables of a run.
func RedisKey(runID string) string {
	return "iesi:run:" + runID + ":vars"
}

// RedisFactory returns the Factory of the redis provider bound to client.
// The client is shared and is not closed with the namespace.
func RedisFactory(client *redis.Client) Factory {
	return func(ctx context.Context, run RunInfo) (Namespace, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		return &Redis{client: client, key: RedisKey(run.RunID)}, nil
	}
}

func (r *Redis) Set(ctx context.Context, name, value string) error {
	return r.client.HSet(ctx, r.key, name, value).Err()
}

func (r *Redis) Get(ctx context.Context, name string) (string, bool, error) {
	v, err := r.client.HGet(ctx, r.key, name).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *Redis) Delete(ctx context.Context, name string) error {
	return r.client.HDel(ctx, r.key, name).Err()
}

func (r *Redis) All(ctx context.Context) (map[string]string, error) {
	return r.client.HGetAll(ctx, r.key).Result()
}

func (r *Redis) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}

func (r *Redis) Close() error { return nil }

var _ Namespace = (*Redis)(nil)
