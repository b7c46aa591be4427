package generation

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Phrasing types.
const (
	PhrasingTypeMultipleChoice = "multiple-choice"
	PhrasingTypeTrueFalse      = "true-false"
)

// Phrasing is one concrete question instance of a concept. Created
// only by phrasing expansion, append-only.
type Phrasing struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	ConceptID   uuid.UUID `gorm:"type:uuid;not null;index" json:"concept_id"`

	Question    string `gorm:"column:question;type:text;not null" json:"question"`
	Explanation string `gorm:"column:explanation;type:text;not null" json:"explanation"`

	// multiple-choice | true-false
	Type          string         `gorm:"column:type;not null" json:"type"`
	Options       datatypes.JSON `gorm:"column:options;type:jsonb" json:"options"`
	CorrectAnswer string         `gorm:"column:correct_answer;not null" json:"correct_answer"`

	Embedding datatypes.JSON `gorm:"column:embedding;type:jsonb" json:"-"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Phrasing) TableName() string { return "phrasing" }
