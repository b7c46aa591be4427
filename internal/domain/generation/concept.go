package generation

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Concept is an atomic testable unit of knowledge derived from a
// prompt. Created once by concept synthesis (through the dedup-aware
// bulk create), its metrics are recomputed by every phrasing-expansion
// run; never deleted by the pipeline.
type Concept struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	JobID       uuid.UUID `gorm:"type:uuid;not null;index" json:"job_id"`

	Title       string `gorm:"column:title;not null" json:"title"`
	Description string `gorm:"column:description;type:text;not null" json:"description"`

	Embedding datatypes.JSON `gorm:"column:embedding;type:jsonb" json:"-"`

	PhrasingCount int `gorm:"column:phrasing_count;not null;default:0" json:"phrasing_count"`
	// ThinScore counts how many phrasings short of target the concept
	// still is; zero once at/above target.
	ThinScore int `gorm:"column:thin_score;not null;default:0" json:"thin_score"`
	// ConflictScore counts exact duplicate question texts among the
	// concept's phrasings; zero when none conflict.
	ConflictScore int `gorm:"column:conflict_score;not null;default:0" json:"conflict_score"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Concept) TableName() string { return "concept" }
