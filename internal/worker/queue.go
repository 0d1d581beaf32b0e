package worker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue pops job payloads pushed by dispatch.Redis.
type RedisQueue struct {
	rdb *redis.Client
	key string
}

func NewRedisQueue(rdb *redis.Client, key string) *RedisQueue {
	return &RedisQueue{rdb: rdb, key: key}
}

// Pop blocks up to timeout for the oldest payload. It returns "" with a nil
// error when the wait times out.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if len(res) < 2 {
		return "", nil
	}
	return res[1], nil
}
