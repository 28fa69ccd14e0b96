package inflight

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "inflight:"

// releaseScript deletes KEYS[1] only while it still holds ARGV[1]: once the ttl expired, the key may
// belong to another caller.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// locker is the part of *redis.Client the guard uses.
type locker interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type redisGuard struct {
	client locker
	ttl    time.Duration
}

var _ Guard = (*redisGuard)(nil)

// NewRedisGuard returns a Guard shared by every instance using client. ttl bounds how long a crashed
// holder can block the key.
func NewRedisGuard(client *redis.Client, ttl time.Duration) Guard {
	return &redisGuard{client: client, ttl: ttl}
}

func (g *redisGuard) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	rkey := redisKeyPrefix + key
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, rkey, token, g.ttl).Result()
	if err != nil {
		return errors.Wrap(err, "acquiring in-flight key")
	}
	if !ok {
		return ErrInFlight
	}
	defer func() {
		_ = g.client.Eval(context.WithoutCancel(ctx), releaseScript, []string{rkey}, token).Err()
	}()
	return fn(ctx)
}
