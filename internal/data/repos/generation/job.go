package generation

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/studyforge-backend/internal/domain/generation"
	"github.com/yungbote/studyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/studyforge-backend/internal/pkg/failure"
	"github.com/yungbote/studyforge-backend/internal/platform/logger"
)

// JoinResult reports the outcome of the atomic pending-set update a
// phrasing-expansion worker performs when it finishes a concept.
type JoinResult struct {
	// Removed is false when the concept id was no longer pending,
	// meaning a prior delivery already handled it.
	Removed bool
	// Finalized is true for exactly one worker per job: the one whose
	// removal emptied the pending set.
	Finalized bool
	// Pending is the number of concepts still awaiting expansion.
	Pending int
}

type GenerationJobRepo interface {
	Create(dbc dbctx.Context, job *generation.GenerationJob) (*generation.GenerationJob, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*generation.GenerationJob, error)
	GetByIDForOwner(dbc dbctx.Context, ownerUserID, id uuid.UUID) (*generation.GenerationJob, error)
	ListForOwner(dbc dbctx.Context, ownerUserID uuid.UUID, limit int) ([]*generation.GenerationJob, error)
	CountProcessingForOwner(dbc dbctx.Context, ownerUserID uuid.UUID) (int64, error)

	// MarkProcessing transitions pending->processing and records
	// started_at. Only the first writer succeeds.
	MarkProcessing(dbc dbctx.Context, id uuid.UUID) (bool, error)

	// SetFanout records the concept fan-out: concept_ids,
	// pending_concept_ids, phase and estimated total. Rejected when the
	// job has left processing (e.g. cancelled meanwhile).
	SetFanout(dbc dbctx.Context, id uuid.UUID, conceptIDs []uuid.UUID, estimatedTotal int) (bool, error)

	// MarkFailed writes the sanitized failure triple and terminal
	// timestamps, unless the job is already terminal.
	MarkFailed(dbc dbctx.Context, id uuid.UUID, f *failure.Error) (bool, error)

	// Cancel moves a pending or processing job to cancelled.
	Cancel(dbc dbctx.Context, ownerUserID, id uuid.UUID) (bool, error)

	// ResolvePendingConcept is the join step: inside one serialized
	// transaction it removes conceptID from the pending set, bumps the
	// question counters, and finalizes the job if the set emptied.
	ResolvePendingConcept(dbc dbctx.Context, jobID, conceptID uuid.UUID, generatedDelta, savedDelta int) (JoinResult, error)

	// RemovePendingConcept drops a concept from the pending set without
	// counting questions; used when a concept turns out to be externally
	// invalidated. Finalization semantics match ResolvePendingConcept.
	RemovePendingConcept(dbc dbctx.Context, jobID, conceptID uuid.UUID) (JoinResult, error)
}

type generationJobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGenerationJobRepo(db *gorm.DB, baseLog *logger.Logger) GenerationJobRepo {
	return &generationJobRepo{
		db:  db,
		log: baseLog.With("repo", "GenerationJobRepo"),
	}
}

func (r *generationJobRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *generationJobRepo) Create(dbc dbctx.Context, job *generation.GenerationJob) (*generation.GenerationJob, error) {
	if job == nil {
		return nil, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(job).Error; err != nil {
		return nil, err
	}
	return job, nil
}

func (r *generationJobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*generation.GenerationJob, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var job generation.GenerationJob
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *generationJobRepo) GetByIDForOwner(dbc dbctx.Context, ownerUserID, id uuid.UUID) (*generation.GenerationJob, error) {
	if ownerUserID == uuid.Nil || id == uuid.Nil {
		return nil, nil
	}
	var job generation.GenerationJob
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("id = ? AND owner_user_id = ?", id, ownerUserID).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *generationJobRepo) ListForOwner(dbc dbctx.Context, ownerUserID uuid.UUID, limit int) ([]*generation.GenerationJob, error) {
	var out []*generation.GenerationJob
	if ownerUserID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 {
		limit = 50
	}
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("owner_user_id = ?", ownerUserID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *generationJobRepo) CountProcessingForOwner(dbc dbctx.Context, ownerUserID uuid.UUID) (int64, error) {
	if ownerUserID == uuid.Nil {
		return 0, nil
	}
	var count int64
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&generation.GenerationJob{}).
		Where("owner_user_id = ? AND status = ?", ownerUserID, generation.JobStatusProcessing).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *generationJobRepo) MarkProcessing(dbc dbctx.Context, id uuid.UUID) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	now := time.Now()
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&generation.GenerationJob{}).
		Where("id = ? AND status = ?", id, generation.JobStatusPending).
		Updates(map[string]interface{}{
			"status":     generation.JobStatusProcessing,
			"phase":      generation.JobPhaseConceptSynthesis,
			"started_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *generationJobRepo) SetFanout(dbc dbctx.Context, id uuid.UUID, conceptIDs []uuid.UUID, estimatedTotal int) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	now := time.Now()
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&generation.GenerationJob{}).
		Where("id = ? AND status = ?", id, generation.JobStatusProcessing).
		Updates(map[string]interface{}{
			"concept_ids":         generation.MarshalIDs(conceptIDs),
			"pending_concept_ids": generation.MarshalIDs(conceptIDs),
			"phase":               generation.JobPhasePhrasingGeneration,
			"estimated_total":     estimatedTotal,
			"updated_at":          now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *generationJobRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, f *failure.Error) (bool, error) {
	if id == uuid.Nil || f == nil {
		return false, nil
	}
	now := time.Now()
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&generation.GenerationJob{}).
		Where("id = ? AND status NOT IN ?", id, []string{
			generation.JobStatusCompleted,
			generation.JobStatusFailed,
			generation.JobStatusCancelled,
		}).
		Updates(map[string]interface{}{
			"status":        generation.JobStatusFailed,
			"error_message": f.Message,
			"error_code":    string(f.Code),
			"retryable":     f.Retryable,
			"completed_at":  now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *generationJobRepo) Cancel(dbc dbctx.Context, ownerUserID, id uuid.UUID) (bool, error) {
	if ownerUserID == uuid.Nil || id == uuid.Nil {
		return false, nil
	}
	now := time.Now()
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&generation.GenerationJob{}).
		Where("id = ? AND owner_user_id = ? AND status IN ?", id, ownerUserID, []string{
			generation.JobStatusPending,
			generation.JobStatusProcessing,
		}).
		Updates(map[string]interface{}{
			"status":       generation.JobStatusCancelled,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *generationJobRepo) ResolvePendingConcept(dbc dbctx.Context, jobID, conceptID uuid.UUID, generatedDelta, savedDelta int) (JoinResult, error) {
	return r.resolvePending(dbc, jobID, conceptID, generatedDelta, savedDelta)
}

func (r *generationJobRepo) RemovePendingConcept(dbc dbctx.Context, jobID, conceptID uuid.UUID) (JoinResult, error) {
	return r.resolvePending(dbc, jobID, conceptID, 0, 0)
}

// resolvePending is the single synchronization primitive across
// concurrent expansion workers. The row lock serializes the
// read-remove-write of pending_concept_ids so two workers finishing at
// the same instant cannot lose an update, double-complete, or leave
// the job permanently incomplete.
func (r *generationJobRepo) resolvePending(dbc dbctx.Context, jobID, conceptID uuid.UUID, generatedDelta, savedDelta int) (JoinResult, error) {
	out := JoinResult{}
	if jobID == uuid.Nil || conceptID == uuid.Nil {
		return out, nil
	}
	err := r.handle(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		var job generation.GenerationJob
		qErr := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", jobID).
			First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		if job.Terminal() {
			return nil
		}

		pending, removed := generation.RemoveID(generation.UnmarshalIDs(job.PendingConceptIDs), conceptID)
		if !removed {
			out.Pending = len(pending)
			return nil
		}
		out.Removed = true
		out.Pending = len(pending)

		now := time.Now()
		updates := map[string]interface{}{
			"pending_concept_ids": generation.MarshalIDs(pending),
			"questions_generated": gorm.Expr("questions_generated + ?", generatedDelta),
			"questions_saved":     gorm.Expr("questions_saved + ?", savedDelta),
			"updated_at":          now,
		}
		if len(pending) == 0 {
			out.Finalized = true
			updates["status"] = generation.JobStatusCompleted
			updates["phase"] = generation.JobPhaseFinalizing
			updates["completed_at"] = now
			if job.StartedAt != nil {
				updates["duration_ms"] = now.Sub(*job.StartedAt).Milliseconds()
			}
		}
		return tx.Model(&generation.GenerationJob{}).
			Where("id = ?", jobID).
			Updates(updates).Error
	})
	if err != nil {
		return JoinResult{}, err
	}
	return out, nil
}
