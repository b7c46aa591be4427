package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/studyforge-backend/internal/platform/envutil"
)

// NewClient dials Redis from the environment and verifies the
// connection. REDIS_ADDR empty means Redis is not configured; callers
// decide whether that is fatal.
func NewClient() (*goredis.Client, error) {
	addr := strings.TrimSpace(envutil.String("REDIS_ADDR", ""))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    envutil.String("REDIS_PASSWORD", ""),
		DB:          envutil.Int("REDIS_DB", 0),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}
