package db

import (
	types "github.com/yungbote/studyforge-backend/internal/domain"
	"gorm.io/gorm"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		// Generation pipeline
		&types.GenerationJob{},
		&types.Concept{},
		&types.Phrasing{},

		// Durable task queue
		&types.TaskRun{},
	)
}
