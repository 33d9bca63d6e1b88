package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisWindow is the sliding log limiter backed by a Redis sorted set per
// key (score = attempt time in ms). Redis failures fail open.
type RedisWindow struct {
	rdb    redis.Cmdable
	prefix string
	window time.Duration
	max    int

	// Now is the clock; tests may replace it.
	Now func() time.Time
}

// NewRedisWindow builds a limiter storing logs under "<prefix>:<key>".
func NewRedisWindow(rdb redis.Cmdable, prefix string, window time.Duration, max int) *RedisWindow {
	if window <= 0 {
		window = 60 * time.Second
	}
	if max <= 0 {
		max = 20
	}
	if prefix == "" {
		prefix = "way:rl"
	}
	return &RedisWindow{rdb: rdb, prefix: prefix, window: window, max: max, Now: time.Now}
}

// Period returns the window length.
func (r *RedisWindow) Period() time.Duration { return r.window }

// Admit records an attempt and reports whether it is within the limit.
func (r *RedisWindow) Admit(ctx context.Context, key string) bool {
	now := r.Now()
	k := r.prefix + ":" + key
	cutoff := now.Add(-r.window).UnixMilli()

	var card *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(cutoff, 10))
		pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixMilli()), Member: ulid.Make().String()})
		// keep only the newest max+1 entries
		pipe.ZRemRangeByRank(ctx, k, 0, -int64(r.max+2))
		card = pipe.ZCard(ctx, k)
		pipe.PExpire(ctx, k, r.window)
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("key", k).Msg("ratelimit: redis unavailable, admitting")
		return true
	}
	return card.Val() <= int64(r.max)
}
