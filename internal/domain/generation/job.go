package generation

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Job statuses. pending -> processing -> {completed | failed | cancelled}.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

// Job phases, in pipeline order.
const (
	JobPhaseClarifying         = "clarifying"
	JobPhaseConceptSynthesis   = "concept_synthesis"
	JobPhasePhrasingGeneration = "phrasing_generation"
	JobPhaseFinalizing         = "finalizing"
)

// GenerationJob is the shared coordination point of the pipeline: one
// row per generation request, mutated by concept synthesis once, by
// every phrasing-expansion worker, and by the cancel entrypoint.
// PendingConceptIDs is the join counter; it only shrinks, and the
// worker that empties it finalizes the job.
type GenerationJob struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	Prompt      string    `gorm:"column:prompt;type:text;not null" json:"prompt"`

	Status string `gorm:"column:status;not null;index" json:"status"`
	Phase  string `gorm:"column:phase;not null" json:"phase"`

	ConceptIDs        datatypes.JSON `gorm:"column:concept_ids;type:jsonb" json:"concept_ids"`
	PendingConceptIDs datatypes.JSON `gorm:"column:pending_concept_ids;type:jsonb" json:"pending_concept_ids"`

	QuestionsGenerated int `gorm:"column:questions_generated;not null;default:0" json:"questions_generated"`
	QuestionsSaved     int `gorm:"column:questions_saved;not null;default:0" json:"questions_saved"`
	EstimatedTotal     int `gorm:"column:estimated_total;not null;default:0" json:"estimated_total"`

	ErrorMessage string `gorm:"column:error_message" json:"error_message,omitempty"`
	ErrorCode    string `gorm:"column:error_code" json:"error_code,omitempty"`
	Retryable    bool   `gorm:"column:retryable;not null;default:false" json:"retryable"`

	OriginAddress string `gorm:"column:origin_address" json:"-"`

	CreatedAt   time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	StartedAt   *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	DurationMs  int64          `gorm:"column:duration_ms;not null;default:0" json:"duration_ms"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (GenerationJob) TableName() string { return "generation_job" }

// Terminal reports whether the job can no longer change state.
func (j *GenerationJob) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}
