package generation

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/studyforge-backend/internal/domain/generation"
	"github.com/yungbote/studyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/studyforge-backend/internal/platform/logger"
)

type TaskRunRepo interface {
	// Enqueue schedules a task; delay > 0 defers eligibility via
	// run_after. No ordering guarantee across enqueued tasks.
	Enqueue(dbc dbctx.Context, ownerUserID uuid.UUID, taskType string, payload map[string]any, delay time.Duration) (*generation.TaskRun, error)

	// ClaimNextRunnable atomically claims the oldest eligible task:
	// queued (and past run_after), or running with a heartbeat older
	// than staleRunning. Failed tasks are never reclaimed; retryable is
	// advisory metadata for a human-initiated resubmission.
	ClaimNextRunnable(dbc dbctx.Context, staleRunning time.Duration) (*generation.TaskRun, error)

	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
}

type taskRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskRunRepo(db *gorm.DB, baseLog *logger.Logger) TaskRunRepo {
	return &taskRunRepo{
		db:  db,
		log: baseLog.With("repo", "TaskRunRepo"),
	}
}

func (r *taskRunRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *taskRunRepo) Enqueue(dbc dbctx.Context, ownerUserID uuid.UUID, taskType string, payload map[string]any, delay time.Duration) (*generation.TaskRun, error) {
	if ownerUserID == uuid.Nil || taskType == "" {
		return nil, errors.New("owner and task type required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	task := &generation.TaskRun{
		ID:          uuid.New(),
		OwnerUserID: ownerUserID,
		TaskType:    taskType,
		Status:      generation.TaskStatusQueued,
		Payload:     datatypes.JSON(raw),
	}
	if delay > 0 {
		at := time.Now().Add(delay)
		task.RunAfter = &at
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

func (r *taskRunRepo) ClaimNextRunnable(dbc dbctx.Context, staleRunning time.Duration) (*generation.TaskRun, error) {
	now := time.Now()
	staleCutoff := now.Add(-staleRunning)
	var claimed *generation.TaskRun
	err := r.handle(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		var task generation.TaskRun
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        (
          status = ?
          AND (run_after IS NULL OR run_after <= ?)
        )
        OR (
          status = ?
          AND heartbeat_at IS NOT NULL
          AND heartbeat_at < ?
        )
      `, generation.TaskStatusQueued, now, generation.TaskStatusRunning, staleCutoff).
			Order("created_at ASC")
		qErr := q.First(&task).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := tx.Model(&generation.TaskRun{}).
			Where("id = ?", task.ID).
			Updates(map[string]interface{}{
				"status":       generation.TaskStatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		claimed = &task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *taskRunRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&generation.TaskRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *taskRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&generation.TaskRun{}).
		Where("id = ? AND status = ?", id, generation.TaskStatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}
