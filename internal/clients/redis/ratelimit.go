package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/studyforge-backend/internal/platform/logger"
)

// FixedWindowLimiter is a Redis-backed fixed-window counter, shared
// across instances so per-origin submission limits hold fleet-wide.
// It fails open: when Redis is unreachable the request is admitted and
// the error logged, because generation availability matters more than
// strict limiting.
type FixedWindowLimiter struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
	limit  int
	window time.Duration
}

func NewFixedWindowLimiter(rdb *goredis.Client, log *logger.Logger, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &FixedWindowLimiter{
		log:    log.With("service", "FixedWindowLimiter"),
		rdb:    rdb,
		prefix: prefix,
		limit:  limit,
		window: window,
	}, nil
}

// Allow counts this request against key's current window and reports
// whether it fits under the limit.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return true, nil
	}
	k := l.prefix + ":" + key

	n, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		l.log.Warn("rate limit check failed, admitting", "error", err.Error())
		return true, err
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, k, l.window).Err(); err != nil {
			l.log.Warn("rate limit expire failed", "error", err.Error())
		}
	}
	return n <= int64(l.limit), nil
}
