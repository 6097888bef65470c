package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyTTL     = 24 * time.Hour
	idempotencyPending    = "pending"
	idempotencyDonePrefix = "order:"
)

// completeIdempotencyScript only overwrites a claim that is still pending, so a
// late completion can never clobber a key that was released and re-claimed.
var completeIdempotencyScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current ~= ARGV[1] then
	return 0
end

redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, idempotencyPending, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) CompleteIdempotency(ctx context.Context, key, orderID string) error {
	return completeIdempotencyScript.Run(ctx, r.client, []string{key},
		idempotencyPending, idempotencyDonePrefix+orderID, idempotencyKeyTTL.Milliseconds()).Err()
}

func (r *RedisAdapter) GetIdempotency(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	// A pending claim has no order yet.
	orderID, done := strings.CutPrefix(val, idempotencyDonePrefix)
	if !done {
		return "", true, nil
	}
	return orderID, true, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}
