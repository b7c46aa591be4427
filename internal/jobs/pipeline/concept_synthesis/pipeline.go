package concept_synthesis

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/studyforge-backend/internal/jobs/generation/steps"
	jobrt "github.com/yungbote/studyforge-backend/internal/jobs/runtime"
)

func (p *Pipeline) Run(tc *jobrt.Context) error {
	if tc == nil || tc.Task == nil {
		return nil
	}
	jobID, ok := tc.PayloadUUID("job_id")
	if !ok || jobID == uuid.Nil {
		return fmt.Errorf("missing job_id")
	}
	return steps.SynthesizeConcepts(tc.Ctx, p.deps, jobID)
}
