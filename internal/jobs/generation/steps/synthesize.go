package steps

import (
	"context"

	"github.com/google/uuid"

	"github.com/yungbote/studyforge-backend/internal/data/repos/generation"
	domain "github.com/yungbote/studyforge-backend/internal/domain/generation"
	"github.com/yungbote/studyforge-backend/internal/jobs/generation/prompts"
	"github.com/yungbote/studyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/studyforge-backend/internal/pkg/failure"
	"github.com/yungbote/studyforge-backend/internal/realtime"
)

// SynthesizeConcepts is the first pipeline stage: decompose the job's
// prompt into concepts, persist the new ones, record the fan-out, and
// enqueue one expansion task per concept. Safe under redelivery: a job
// with a recorded fan-out is never re-synthesized.
func SynthesizeConcepts(ctx context.Context, d Deps, jobID uuid.UUID) error {
	cfg := d.Cfg.withDefaults()
	log := d.Log.With("step", "SynthesizeConcepts", "job_id", jobID)
	dbc := dbctx.Context{Ctx: ctx}

	job, err := d.Jobs.GetByID(dbc, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		log.Warn("job not found, dropping task")
		return nil
	}
	if job.Terminal() {
		return nil
	}
	if len(domain.UnmarshalIDs(job.ConceptIDs)) > 0 {
		// fan-out already recorded by a prior delivery
		return nil
	}

	client, err := d.LLM.Resolve(d.LLMConfig, d.Log)
	if err != nil {
		return d.failJob(ctx, job, failure.Classify(err), log)
	}

	ok, err := d.Jobs.MarkProcessing(dbc, jobID)
	if err != nil {
		return d.failJob(ctx, job, failure.Classify(err), log)
	}
	if !ok {
		// either cancelled before we started, or a stale redelivery of a
		// job already in flight
		cur, cErr := d.Jobs.GetByID(dbc, jobID)
		if cErr != nil {
			return d.failJob(ctx, job, failure.Classify(cErr), log)
		}
		if cur == nil || cur.Terminal() {
			return nil
		}
	}

	system, user := prompts.BuildConceptSynthesis(job.Prompt, cfg.MaxConcepts)
	obj, err := client.GenerateJSON(ctx, system, user, "concept_ideas", prompts.ConceptIdeasSchema())
	if err != nil {
		return d.failJob(ctx, job, failure.Classify(err), log)
	}
	raw, err := DecodeConceptIdeas(obj)
	if err != nil {
		return d.failJob(ctx, job, failure.New(failure.CodeSchemaValidation, true,
			"The model returned malformed concepts. Please try again."), log)
	}

	ideas := PrepareConceptIdeas(raw, cfg.MaxConcepts)
	if len(ideas) == 0 {
		return d.failJob(ctx, job, failure.New(failure.CodeSchemaValidation, false,
			"We couldn't break that prompt into distinct concepts. Try a narrower prompt."), log)
	}

	// cancellation is cooperative: re-check before persisting anything
	cur, err := d.Jobs.GetByID(dbc, jobID)
	if err != nil {
		return d.failJob(ctx, job, failure.Classify(err), log)
	}
	if cur == nil || cur.Terminal() {
		return nil
	}

	candidates := make([]generation.ConceptCandidate, 0, len(ideas))
	for _, idea := range ideas {
		candidates = append(candidates, generation.ConceptCandidate{
			Title:       idea.Title,
			Description: idea.Description,
		})
	}
	newIDs, err := d.Concepts.CreateMany(dbc, job.OwnerUserID, job.ID, candidates)
	if err != nil {
		return d.failJob(ctx, job, failure.Classify(err), log)
	}
	if len(newIDs) == 0 {
		return d.failJob(ctx, job, failure.New(failure.CodeSchemaValidation, false,
			"Your library already covers everything in that prompt. Try a different prompt."), log)
	}

	ok, err = d.Jobs.SetFanout(dbc, jobID, newIDs, len(newIDs)*cfg.TargetPhrasingsPerConcept)
	if err != nil {
		return d.failJob(ctx, job, failure.Classify(err), log)
	}
	if !ok {
		// job left processing (cancelled) between the re-check and here
		return nil
	}

	for _, conceptID := range newIDs {
		_, err := d.Tasks.Enqueue(dbc, job.OwnerUserID, domain.TaskTypePhrasingExpansion, map[string]any{
			"job_id":     job.ID.String(),
			"concept_id": conceptID.String(),
		}, 0)
		if err != nil {
			return d.failJob(ctx, job, failure.Classify(err), log)
		}
	}

	log.Info("concept fan-out recorded", "concepts", len(newIDs))
	d.publish(ctx, realtime.JobEvent{
		Kind:            realtime.EventJobProgress,
		JobID:           job.ID,
		OwnerUserID:     job.OwnerUserID,
		Status:          domain.JobStatusProcessing,
		Phase:           domain.JobPhasePhrasingGeneration,
		PendingConcepts: len(newIDs),
	})
	return nil
}
