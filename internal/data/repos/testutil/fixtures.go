package testutil

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/studyforge-backend/internal/domain/generation"
)

// SeedJob inserts a generation job in the given status and returns it.
func SeedJob(tb testing.TB, db *gorm.DB, ownerUserID uuid.UUID, status, phase string) *types.GenerationJob {
	tb.Helper()
	job := &types.GenerationJob{
		ID:          uuid.New(),
		OwnerUserID: ownerUserID,
		Prompt:      "explain how tcp congestion control works",
		Status:      status,
		Phase:       phase,
	}
	if err := db.Create(job).Error; err != nil {
		tb.Fatalf("seed job: %v", err)
	}
	return job
}

// SeedConcept inserts a concept attached to a job.
func SeedConcept(tb testing.TB, db *gorm.DB, ownerUserID, jobID uuid.UUID, title string) *types.Concept {
	tb.Helper()
	c := &types.Concept{
		ID:          uuid.New(),
		OwnerUserID: ownerUserID,
		JobID:       jobID,
		Title:       title,
		Description: "A description long enough to pass the acceptance bounds used by the pipeline.",
	}
	if err := db.Create(c).Error; err != nil {
		tb.Fatalf("seed concept: %v", err)
	}
	return c
}
