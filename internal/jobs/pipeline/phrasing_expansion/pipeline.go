package phrasing_expansion

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
	conceptID, ok := tc.PayloadUUID("concept_id")
	if !ok || conceptID == uuid.Nil {
		return fmt.Errorf("missing concept_id")
	}
	return steps.ExpandPhrasings(tc.Ctx, p.deps, jobID, conceptID)
}
