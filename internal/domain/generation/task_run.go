package generation

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Task statuses.
const (
	TaskStatusQueued    = "queued"
	TaskStatusRunning   = "running"
	TaskStatusSucceeded = "succeeded"
	TaskStatusFailed    = "failed"
)

// Task types handled by the worker pool.
const (
	TaskTypeConceptSynthesis  = "concept_synthesis"
	TaskTypePhrasingExpansion = "phrasing_expansion"
)

// TaskRun is one durable unit of scheduled work. Delivery is
// at-least-once: a stale running task is reclaimed by another worker,
// so every handler must be idempotent. Failed tasks are never
// reclaimed automatically.
type TaskRun struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	TaskType    string    `gorm:"column:task_type;not null;index" json:"task_type"`

	Status   string `gorm:"column:status;not null;index" json:"status"`
	Attempts int    `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Error    string `gorm:"column:error" json:"error,omitempty"`

	Payload datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`

	RunAfter    *time.Time `gorm:"column:run_after;index" json:"run_after,omitempty"`
	LockedAt    *time.Time `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (TaskRun) TableName() string { return "task_run" }
