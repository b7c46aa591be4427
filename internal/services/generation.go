package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	genrepos "github.com/yungbote/studyforge-backend/internal/data/repos/generation"
	types "github.com/yungbote/studyforge-backend/internal/domain/generation"
	"github.com/yungbote/studyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/studyforge-backend/internal/platform/apierr"
	"github.com/yungbote/studyforge-backend/internal/platform/logger"
	"github.com/yungbote/studyforge-backend/internal/realtime"
)

// Submission bounds and the per-owner concurrency ceiling.
const (
	MinPromptLen = 3
	MaxPromptLen = 2000

	DefaultMaxActivePerOwner = 3
)

// SubmissionLimiter gates submissions per origin address. A nil
// limiter disables origin limiting.
type SubmissionLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type GenerationService interface {
	// Submit validates the prompt, enforces admission limits, creates
	// the pending job and enqueues the synthesis task.
	Submit(ctx context.Context, ownerUserID uuid.UUID, prompt, originAddress string) (*types.GenerationJob, error)

	Get(ctx context.Context, ownerUserID, jobID uuid.UUID) (*types.GenerationJob, error)
	List(ctx context.Context, ownerUserID uuid.UUID, limit int) ([]*types.GenerationJob, error)

	// Cancel requests cooperative cancellation; in-flight stages notice
	// at their next checkpoint.
	Cancel(ctx context.Context, ownerUserID, jobID uuid.UUID) (*types.GenerationJob, error)

	Concepts(ctx context.Context, ownerUserID, jobID uuid.UUID) ([]*types.Concept, error)
	ConceptPhrasings(ctx context.Context, ownerUserID, conceptID uuid.UUID, limit int) ([]*types.Phrasing, error)
}

type generationService struct {
	log       *logger.Logger
	jobs      genrepos.GenerationJobRepo
	concepts  genrepos.ConceptRepo
	phrasings genrepos.PhrasingRepo
	tasks     genrepos.TaskRunRepo
	limiter   SubmissionLimiter
	events    realtime.Publisher

	maxActivePerOwner int
}

func NewGenerationService(
	baseLog *logger.Logger,
	jobs genrepos.GenerationJobRepo,
	concepts genrepos.ConceptRepo,
	phrasings genrepos.PhrasingRepo,
	tasks genrepos.TaskRunRepo,
	limiter SubmissionLimiter,
	events realtime.Publisher,
	maxActivePerOwner int,
) GenerationService {
	if maxActivePerOwner <= 0 {
		maxActivePerOwner = DefaultMaxActivePerOwner
	}
	if events == nil {
		events = realtime.NopPublisher{}
	}
	return &generationService{
		log:               baseLog.With("service", "GenerationService"),
		jobs:              jobs,
		concepts:          concepts,
		phrasings:         phrasings,
		tasks:             tasks,
		limiter:           limiter,
		events:            events,
		maxActivePerOwner: maxActivePerOwner,
	}
}

func (s *generationService) Submit(ctx context.Context, ownerUserID uuid.UUID, prompt, originAddress string) (*types.GenerationJob, error) {
	if ownerUserID == uuid.Nil {
		return nil, apierr.New(http.StatusUnauthorized, "missing_user", fmt.Errorf("missing user id"))
	}

	prompt = strings.TrimSpace(prompt)
	if n := utf8.RuneCountInString(prompt); n < MinPromptLen {
		return nil, apierr.New(http.StatusBadRequest, "prompt_too_short",
			fmt.Errorf("prompt must be at least %d characters", MinPromptLen))
	} else if n > MaxPromptLen {
		return nil, apierr.New(http.StatusBadRequest, "prompt_too_long",
			fmt.Errorf("prompt must be at most %d characters", MaxPromptLen))
	}

	// ceiling first: a submission rejected for concurrency must not
	// burn a rate-limit slot
	dbc := dbctx.Context{Ctx: ctx}
	active, err := s.jobs.CountProcessingForOwner(dbc, ownerUserID)
	if err != nil {
		return nil, err
	}
	if active >= int64(s.maxActivePerOwner) {
		return nil, apierr.New(http.StatusTooManyRequests, "too_many_active_jobs",
			fmt.Errorf("at most %d jobs may be processing at once", s.maxActivePerOwner))
	}

	if s.limiter != nil && originAddress != "" {
		allowed, err := s.limiter.Allow(ctx, originAddress)
		if err == nil && !allowed {
			return nil, apierr.New(http.StatusTooManyRequests, "rate_limited",
				fmt.Errorf("too many submissions from this address"))
		}
	}

	job := &types.GenerationJob{
		ID:            uuid.New(),
		OwnerUserID:   ownerUserID,
		Prompt:        prompt,
		Status:        types.JobStatusPending,
		Phase:         types.JobPhaseClarifying,
		OriginAddress: originAddress,
	}
	if _, err := s.jobs.Create(dbc, job); err != nil {
		return nil, err
	}

	if _, err := s.tasks.Enqueue(dbc, ownerUserID, types.TaskTypeConceptSynthesis, map[string]any{
		"job_id": job.ID.String(),
	}, 0); err != nil {
		s.log.Error("enqueue synthesis task failed", "job_id", job.ID, "error", err.Error())
		return nil, err
	}

	s.log.Info("generation submitted", "job_id", job.ID, "owner_id", ownerUserID)
	s.events.PublishJobEvent(ctx, realtime.JobEvent{
		Kind:        realtime.EventJobSubmitted,
		JobID:       job.ID,
		OwnerUserID: ownerUserID,
		Status:      job.Status,
		Phase:       job.Phase,
		At:          time.Now(),
	})
	return job, nil
}

func (s *generationService) Get(ctx context.Context, ownerUserID, jobID uuid.UUID) (*types.GenerationJob, error) {
	job, err := s.jobs.GetByIDForOwner(dbctx.Context{Ctx: ctx}, ownerUserID, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apierr.New(http.StatusNotFound, "job_not_found", fmt.Errorf("job not found"))
	}
	return job, nil
}

func (s *generationService) List(ctx context.Context, ownerUserID uuid.UUID, limit int) ([]*types.GenerationJob, error) {
	return s.jobs.ListForOwner(dbctx.Context{Ctx: ctx}, ownerUserID, limit)
}

func (s *generationService) Cancel(ctx context.Context, ownerUserID, jobID uuid.UUID) (*types.GenerationJob, error) {
	dbc := dbctx.Context{Ctx: ctx}

	ok, err := s.jobs.Cancel(dbc, ownerUserID, jobID)
	if err != nil {
		return nil, err
	}
	job, err := s.jobs.GetByIDForOwner(dbc, ownerUserID, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apierr.New(http.StatusNotFound, "job_not_found", fmt.Errorf("job not found"))
	}
	if !ok {
		return nil, apierr.New(http.StatusConflict, "job_not_cancellable",
			fmt.Errorf("job already %s", job.Status))
	}

	s.log.Info("generation cancelled", "job_id", jobID, "owner_id", ownerUserID)
	s.events.PublishJobEvent(ctx, realtime.JobEvent{
		Kind:        realtime.EventJobCancelled,
		JobID:       jobID,
		OwnerUserID: ownerUserID,
		Status:      types.JobStatusCancelled,
		At:          time.Now(),
	})
	return job, nil
}

func (s *generationService) Concepts(ctx context.Context, ownerUserID, jobID uuid.UUID) ([]*types.Concept, error) {
	dbc := dbctx.Context{Ctx: ctx}
	job, err := s.jobs.GetByIDForOwner(dbc, ownerUserID, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apierr.New(http.StatusNotFound, "job_not_found", fmt.Errorf("job not found"))
	}
	return s.concepts.ListByJob(dbc, ownerUserID, jobID)
}

func (s *generationService) ConceptPhrasings(ctx context.Context, ownerUserID, conceptID uuid.UUID, limit int) ([]*types.Phrasing, error) {
	dbc := dbctx.Context{Ctx: ctx}
	concept, err := s.concepts.GetByID(dbc, conceptID)
	if err != nil {
		return nil, err
	}
	if concept == nil || concept.OwnerUserID != ownerUserID {
		return nil, apierr.New(http.StatusNotFound, "concept_not_found", fmt.Errorf("concept not found"))
	}
	return s.phrasings.ListRecentByConcept(dbc, ownerUserID, conceptID, limit)
}
