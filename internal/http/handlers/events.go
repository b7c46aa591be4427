package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/studyforge-backend/internal/clients/redis"
	"github.com/yungbote/studyforge-backend/internal/http/response"
	"github.com/yungbote/studyforge-backend/internal/pkg/ctxutil"
	"github.com/yungbote/studyforge-backend/internal/platform/logger"
	"github.com/yungbote/studyforge-backend/internal/realtime"
	"github.com/yungbote/studyforge-backend/internal/services"
)

// EventsHandler streams a job's lifecycle events over SSE. The stream
// ends when the client disconnects or a terminal event arrives; the
// job row remains the source of truth for anything missed.
type EventsHandler struct {
	log         *logger.Logger
	generations services.GenerationService
	bus         redis.JobEventBus
}

func NewEventsHandler(baseLog *logger.Logger, generations services.GenerationService, bus redis.JobEventBus) *EventsHandler {
	return &EventsHandler{
		log:         baseLog.With("handler", "EventsHandler"),
		generations: generations,
		bus:         bus,
	}
}

// GET /api/generations/:id/events
func (h *EventsHandler) Stream(c *gin.Context) {
	if h.bus == nil {
		response.RespondError(c, http.StatusServiceUnavailable, "events_unavailable", nil)
		return
	}
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}

	// ownership check before subscribing
	job, err := h.generations.Get(c.Request.Context(), ctxutil.UserID(c.Request.Context()), jobID)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}

	events, cancel, err := h.bus.Subscribe(c.Request.Context(), jobID)
	if err != nil {
		response.RespondError(c, http.StatusServiceUnavailable, "events_unavailable", err)
		return
	}
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	// current snapshot first so late subscribers see terminal states
	c.SSEvent("snapshot", job)
	c.Writer.Flush()
	if job.Terminal() {
		return
	}

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"at": time.Now()})
			c.Writer.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent("message", ev)
			c.Writer.Flush()
			switch ev.Kind {
			case realtime.EventJobCompleted, realtime.EventJobFailed, realtime.EventJobCancelled:
				return
			}
		}
	}
}
