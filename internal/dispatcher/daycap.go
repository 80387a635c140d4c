package dispatcher

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDailyCap keeps one counter per provider per UTC day.
type RedisDailyCap struct {
	rdb    redis.Cmdable
	prefix string
	now    func() time.Time
}

func NewRedisDailyCap(rdb redis.Cmdable, prefix string) *RedisDailyCap {
	if prefix == "" {
		prefix = "cap:provider:"
	}
	return &RedisDailyCap{rdb: rdb, prefix: prefix, now: time.Now}
}

func (c *RedisDailyCap) Take(ctx context.Context, provider string, limit int64) (bool, error) {
	now := c.now().UTC()
	key := c.prefix + provider + ":" + now.Format("20060102")
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)

	pipe := c.rdb.TxPipeline()
	cnt := pipe.Incr(ctx, key)
	// keep the key a little past midnight for late readers
	pipe.ExpireAt(ctx, key, midnight.Add(time.Hour))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return cnt.Val() <= limit, nil
}
