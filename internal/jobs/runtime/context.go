package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	genrepos "github.com/yungbote/studyforge-backend/internal/data/repos/generation"
	types "github.com/yungbote/studyforge-backend/internal/domain/generation"
	"github.com/yungbote/studyforge-backend/internal/pkg/dbctx"
)

// Context is the execution handle for one claimed task run. It owns
// the task row's lifecycle (heartbeat, terminal transitions); the
// user-visible job row belongs to the pipeline steps, never to this
// layer.
type Context struct {
	Ctx     context.Context
	Task    *types.TaskRun
	Repo    genrepos.TaskRunRepo
	payload map[string]any

	stopHeartbeat func()
}

// NewContext eagerly decodes the task payload; a malformed payload
// yields an empty map and handlers fail on their own missing-field
// checks.
func NewContext(ctx context.Context, task *types.TaskRun, repo genrepos.TaskRunRepo) *Context {
	c := &Context{
		Ctx:  ctx,
		Task: task,
		Repo: repo,
	}
	c.decodePayload()
	return c
}

func (c *Context) decodePayload() {
	c.payload = map[string]any{}
	if c.Task == nil || len(c.Task.Payload) == 0 {
		return
	}
	var m map[string]any
	if err := json.Unmarshal(c.Task.Payload, &m); err == nil {
		c.payload = m
	}
}

// Payload never returns nil.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

// PayloadUUID reads a payload field and parses it as a UUID.
func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(fmt.Sprint(v))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// StartHeartbeat keeps the task's heartbeat fresh while the handler
// runs so another worker does not reclaim it as stale. Idempotent to
// stop.
func (c *Context) StartHeartbeat(interval time.Duration) {
	if c.Task == nil || c.Repo == nil || interval <= 0 {
		return
	}
	hbCtx, cancel := context.WithCancel(c.Ctx)
	c.stopHeartbeat = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				_ = c.Repo.Heartbeat(dbctx.Context{Ctx: hbCtx}, c.Task.ID)
			}
		}
	}()
}

func (c *Context) StopHeartbeat() {
	if c.stopHeartbeat != nil {
		c.stopHeartbeat()
		c.stopHeartbeat = nil
	}
}

// Fail marks the task row terminally failed. The job-level failure
// record is the pipeline's responsibility and has usually been written
// already by the time this runs.
func (c *Context) Fail(err error) {
	if c == nil || c.Task == nil || c.Repo == nil {
		return
	}
	c.StopHeartbeat()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	now := time.Now()
	_ = c.Repo.UpdateFields(dbctx.Context{Ctx: c.Ctx}, c.Task.ID, map[string]interface{}{
		"status":     types.TaskStatusFailed,
		"error":      msg,
		"locked_at":  nil,
		"updated_at": now,
	})
	c.Task.Status = types.TaskStatusFailed
	c.Task.Error = msg
	c.Task.LockedAt = nil
}

// Succeed marks the task row terminally succeeded.
func (c *Context) Succeed() {
	if c == nil || c.Task == nil || c.Repo == nil {
		return
	}
	c.StopHeartbeat()
	now := time.Now()
	_ = c.Repo.UpdateFields(dbctx.Context{Ctx: c.Ctx}, c.Task.ID, map[string]interface{}{
		"status":     types.TaskStatusSucceeded,
		"error":      "",
		"locked_at":  nil,
		"updated_at": now,
	})
	c.Task.Status = types.TaskStatusSucceeded
	c.Task.Error = ""
	c.Task.LockedAt = nil
}
