package idem

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// redisChecker shares the seen-id window across unit replicas using
// SET NX PX: the value only lands if the key is absent, so exactly one
// delivery of an id wins.
type redisChecker struct {
	client *redis.Client
	window time.Duration
}

func NewRedis(client *redis.Client, defaultWindow time.Duration) Checker {
	return &redisChecker{client: client, window: defaultWindow}
}

func (r *redisChecker) SeenOnce(ctx context.Context, scope string, id uint64, window time.Duration) (bool, error) {
	if window <= 0 {
		window = r.window
	}
	set, err := r.client.SetNX(ctx, key(scope, id), 1, window).Result()
	if err != nil {
		return false, errors.Wrap(err, "idem: redis setnx")
	}
	return !set, nil
}

func (r *redisChecker) Forget(ctx context.Context, scope string, id uint64) error {
	return errors.Wrap(r.client.Del(ctx, key(scope, id)).Err(), "idem: redis del")
}
