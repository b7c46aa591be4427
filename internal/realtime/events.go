package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event kinds emitted over the job event stream.
const (
	EventJobSubmitted = "job.submitted"
	EventJobProgress  = "job.progress"
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
	EventJobCancelled = "job.cancelled"
)

// JobEvent is the wire shape pushed to SSE subscribers. Events are
// best-effort progress signals; the job row is the source of truth.
type JobEvent struct {
	Kind        string    `json:"kind"`
	JobID       uuid.UUID `json:"job_id"`
	OwnerUserID uuid.UUID `json:"owner_user_id"`

	Status string `json:"status,omitempty"`
	Phase  string `json:"phase,omitempty"`

	Message string `json:"message,omitempty"`

	QuestionsSaved  int `json:"questions_saved,omitempty"`
	PendingConcepts int `json:"pending_concepts,omitempty"`

	At time.Time `json:"at"`
}

// Publisher fans a job event out to subscribers. Implementations must
// never block pipeline progress; publishing failures are logged and
// dropped.
type Publisher interface {
	PublishJobEvent(ctx context.Context, ev JobEvent)
}

// NopPublisher is wired when no event backend is configured.
type NopPublisher struct{}

func (NopPublisher) PublishJobEvent(context.Context, JobEvent) {}
