package domain

import (
	"github.com/yungbote/studyforge-backend/internal/domain/generation"
)

// Aliases so callers can import one package for all persisted types.

type GenerationJob = generation.GenerationJob
type Concept = generation.Concept
type Phrasing = generation.Phrasing
type TaskRun = generation.TaskRun
