package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/studyforge-backend/internal/platform/envutil"
	"github.com/yungbote/studyforge-backend/internal/platform/logger"
	"github.com/yungbote/studyforge-backend/internal/realtime"
)

// JobEventBus fans job lifecycle events across instances via Redis
// pub/sub so an SSE subscriber on any instance sees events produced by
// any worker.
type JobEventBus interface {
	realtime.Publisher

	// Subscribe streams events for one job until cancel is called or
	// ctx ends. Slow consumers drop events rather than block the bus.
	Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan realtime.JobEvent, func(), error)

	Close() error
}

type jobEventBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewJobEventBus(rdb *goredis.Client, log *logger.Logger) (JobEventBus, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &jobEventBus{
		log:     log.With("service", "JobEventBus"),
		rdb:     rdb,
		channel: envutil.String("REDIS_JOB_EVENT_CHANNEL", "job_events"),
	}, nil
}

// PublishJobEvent is best-effort: a publish failure is logged and
// dropped so pipeline progress never depends on the event path.
func (b *jobEventBus) PublishJobEvent(ctx context.Context, ev realtime.JobEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		b.log.Warn("marshal job event failed", "error", err.Error())
		return
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		b.log.Warn("publish job event failed", "kind", ev.Kind, "error", err.Error())
	}
}

func (b *jobEventBus) Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan realtime.JobEvent, func(), error) {
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan realtime.JobEvent, 16)
	done := make(chan struct{})
	cancel := func() {
		select {
		case <-done:
		default:
			close(done)
		}
	}

	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var ev realtime.JobEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.log.Warn("bad job event payload", "error", err.Error())
					continue
				}
				if ev.JobID != jobID {
					continue
				}
				select {
				case out <- ev:
				default:
					// subscriber too slow; drop rather than stall the bus
				}
			}
		}
	}()

	return out, cancel, nil
}

func (b *jobEventBus) Close() error {
	return b.rdb.Close()
}
