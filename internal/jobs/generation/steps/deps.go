package steps

import (
	"context"
	"time"

	"github.com/yungbote/studyforge-backend/internal/data/repos/generation"
	domain "github.com/yungbote/studyforge-backend/internal/domain/generation"
	"github.com/yungbote/studyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/studyforge-backend/internal/pkg/failure"
	"github.com/yungbote/studyforge-backend/internal/platform/llm"
	"github.com/yungbote/studyforge-backend/internal/platform/logger"
	"github.com/yungbote/studyforge-backend/internal/realtime"
)

// Config carries the pipeline tunables. Defaults match the product
// behavior; overrides come from the app config.
type Config struct {
	MaxConcepts               int
	TargetPhrasingsPerConcept int
	RecentPhrasingWindow      int
	EmbedBatchSize            int
}

func DefaultConfig() Config {
	return Config{
		MaxConcepts:               6,
		TargetPhrasingsPerConcept: 5,
		RecentPhrasingWindow:      20,
		EmbedBatchSize:            5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcepts <= 0 {
		c.MaxConcepts = d.MaxConcepts
	}
	if c.TargetPhrasingsPerConcept <= 0 {
		c.TargetPhrasingsPerConcept = d.TargetPhrasingsPerConcept
	}
	if c.RecentPhrasingWindow <= 0 {
		c.RecentPhrasingWindow = d.RecentPhrasingWindow
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = d.EmbedBatchSize
	}
	return c
}

// Deps is everything both pipeline stages need. The LLM factory is
// resolved at the start of every step run so credential changes apply
// without a restart.
type Deps struct {
	Log       *logger.Logger
	Jobs      generation.GenerationJobRepo
	Concepts  generation.ConceptRepo
	Phrasings generation.PhrasingRepo
	Tasks     generation.TaskRunRepo
	LLM       llm.Factory
	LLMConfig llm.Config
	Events    realtime.Publisher
	Cfg       Config
}

func (d Deps) publish(ctx context.Context, ev realtime.JobEvent) {
	if d.Events == nil {
		return
	}
	ev.At = time.Now()
	d.Events.PublishJobEvent(ctx, ev)
}

// failJob records the failure triple on the job row (unless already
// terminal), emits the failure event, and returns the classified error
// so the task row fails too.
func (d Deps) failJob(ctx context.Context, job *domain.GenerationJob, f *failure.Error, log *logger.Logger) error {
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := d.Jobs.MarkFailed(dbc, job.ID, f); err != nil {
		log.Error("recording job failure failed", "error", err.Error())
	}
	d.publish(ctx, realtime.JobEvent{
		Kind:        realtime.EventJobFailed,
		JobID:       job.ID,
		OwnerUserID: job.OwnerUserID,
		Status:      domain.JobStatusFailed,
		Message:     f.Message,
	})
	return f
}
