package phrasing_expansion

import (
	types "github.com/yungbote/studyforge-backend/internal/domain/generation"
	"github.com/yungbote/studyforge-backend/internal/jobs/generation/steps"
)

type Pipeline struct {
	deps steps.Deps
}

func New(deps steps.Deps) *Pipeline {
	deps.Log = deps.Log.With("job", types.TaskTypePhrasingExpansion)
	return &Pipeline{deps: deps}
}

func (p *Pipeline) Type() string { return types.TaskTypePhrasingExpansion }
