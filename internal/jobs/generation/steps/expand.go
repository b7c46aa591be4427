package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	domain "github.com/yungbote/studyforge-backend/internal/domain/generation"
	"github.com/yungbote/studyforge-backend/internal/jobs/generation/prompts"
	"github.com/yungbote/studyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/studyforge-backend/internal/pkg/failure"
	"github.com/yungbote/studyforge-backend/internal/realtime"
)

// ExpandPhrasings is the second pipeline stage, run once per concept:
// generate new phrasings, embed them, persist them, refresh the
// concept's metrics, and resolve the concept in the job's pending set.
// Redeliveries are absorbed by the pending-membership guard, so a
// concept is expanded at most once per job.
func ExpandPhrasings(ctx context.Context, d Deps, jobID, conceptID uuid.UUID) error {
	cfg := d.Cfg.withDefaults()
	log := d.Log.With("step", "ExpandPhrasings", "job_id", jobID, "concept_id", conceptID)
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

	concept, err := d.Concepts.GetByID(dbc, conceptID)
	if err != nil {
		return d.failJob(ctx, job, failure.Classify(err), log)
	}
	if concept == nil || concept.OwnerUserID != job.OwnerUserID {
		// concept vanished or is not the job owner's; drop it from the
		// pending set so the job can still finish
		res, rErr := d.Jobs.RemovePendingConcept(dbc, jobID, conceptID)
		if rErr != nil {
			return d.failJob(ctx, job, failure.Classify(rErr), log)
		}
		log.Warn("concept unavailable, removed from pending set", "finalized", res.Finalized)
		if res.Finalized {
			d.publishCompleted(ctx, jobID, job.OwnerUserID)
		}
		return nil
	}
	if !domain.ContainsID(job.PendingConceptIDs, conceptID) {
		// a prior delivery already expanded and resolved this concept
		return nil
	}

	client, err := d.LLM.Resolve(d.LLMConfig, d.Log)
	if err != nil {
		return d.failJob(ctx, job, failure.Classify(err), log)
	}

	recent, err := d.Phrasings.ListRecentByConcept(dbc, job.OwnerUserID, conceptID, cfg.RecentPhrasingWindow)
	if err != nil {
		return d.failJob(ctx, job, failure.Classify(err), log)
	}
	existing := make([]string, 0, len(recent))
	for _, p := range recent {
		existing = append(existing, p.Question)
	}

	system, user := prompts.BuildPhrasingExpansion(concept.Title, concept.Description, existing, cfg.TargetPhrasingsPerConcept)
	obj, err := client.GenerateJSON(ctx, system, user, "phrasings", prompts.PhrasingsSchema())
	if err != nil {
		return d.failJob(ctx, job, failure.Classify(err), log)
	}
	raw, err := DecodePhrasings(obj)
	if err != nil {
		return d.failJob(ctx, job, failure.New(failure.CodeSchemaValidation, true,
			"The model returned malformed phrasings. Please try again."), log)
	}

	prepared := PrepareGeneratedPhrasings(raw, existing, cfg.TargetPhrasingsPerConcept)
	if len(prepared) == 0 {
		return d.failJob(ctx, job, failure.New(failure.CodeSchemaValidation, true,
			fmt.Sprintf("The model couldn't produce usable new phrasings for %q.", concept.Title)), log)
	}

	// cancellation is cooperative: re-check before persisting anything
	cur, err := d.Jobs.GetByID(dbc, jobID)
	if err != nil {
		return d.failJob(ctx, job, failure.Classify(err), log)
	}
	if cur == nil || cur.Terminal() {
		return nil
	}

	texts := make([]string, len(prepared))
	for i := range prepared {
		texts[i] = prepared[i].Question
	}
	vectors := EmbedTexts(ctx, client, texts, cfg.EmbedBatchSize, log)

	rows := make([]*domain.Phrasing, 0, len(prepared))
	for i, p := range prepared {
		optsJSON, mErr := json.Marshal(p.Options)
		if mErr != nil {
			continue
		}
		row := &domain.Phrasing{
			ID:            uuid.New(),
			OwnerUserID:   job.OwnerUserID,
			ConceptID:     conceptID,
			Question:      p.Question,
			Explanation:   p.Explanation,
			Type:          p.Type,
			Options:       datatypes.JSON(optsJSON),
			CorrectAnswer: p.CorrectAnswer,
		}
		if vectors[i] != nil {
			if vecJSON, vErr := json.Marshal(vectors[i]); vErr == nil {
				row.Embedding = datatypes.JSON(vecJSON)
			}
		}
		rows = append(rows, row)
	}

	inserted, err := d.Phrasings.CreateMany(dbc, rows)
	if err != nil {
		return d.failJob(ctx, job, failure.Classify(err), log)
	}
	if inserted == 0 {
		return d.failJob(ctx, job, failure.New(failure.CodeSchemaValidation, true,
			fmt.Sprintf("No phrasings could be saved for %q.", concept.Title)), log)
	}

	if err := d.refreshConceptMetrics(dbc, job.OwnerUserID, conceptID, cfg.TargetPhrasingsPerConcept); err != nil {
		// metrics are advisory; the expansion itself succeeded
		log.Error("refreshing concept metrics failed", "error", err.Error())
	}

	res, err := d.Jobs.ResolvePendingConcept(dbc, jobID, conceptID, len(prepared), inserted)
	if err != nil {
		return d.failJob(ctx, job, failure.Classify(err), log)
	}
	log.Info("concept resolved",
		"generated", len(prepared),
		"saved", inserted,
		"pending", res.Pending,
		"finalized", res.Finalized,
	)

	if res.Finalized {
		d.publishCompleted(ctx, jobID, job.OwnerUserID)
	} else if res.Removed {
		d.publish(ctx, realtime.JobEvent{
			Kind:            realtime.EventJobProgress,
			JobID:           jobID,
			OwnerUserID:     job.OwnerUserID,
			Status:          domain.JobStatusProcessing,
			Phase:           domain.JobPhasePhrasingGeneration,
			QuestionsSaved:  inserted,
			PendingConcepts: res.Pending,
		})
	}
	return nil
}

func (d Deps) publishCompleted(ctx context.Context, jobID, ownerUserID uuid.UUID) {
	ev := realtime.JobEvent{
		Kind:        realtime.EventJobCompleted,
		JobID:       jobID,
		OwnerUserID: ownerUserID,
		Status:      domain.JobStatusCompleted,
		Phase:       domain.JobPhaseFinalizing,
	}
	if cur, err := d.Jobs.GetByID(dbctx.Context{Ctx: ctx}, jobID); err == nil && cur != nil {
		ev.QuestionsSaved = cur.QuestionsSaved
	}
	d.publish(ctx, ev)
}

// refreshConceptMetrics recomputes phrasing_count, thin_score and
// conflict_score from the concept's full question list.
func (d Deps) refreshConceptMetrics(dbc dbctx.Context, ownerUserID, conceptID uuid.UUID, target int) error {
	texts, err := d.Phrasings.QuestionTexts(dbc, ownerUserID, conceptID)
	if err != nil {
		return err
	}

	count := len(texts)

	thin := 0
	if count < target {
		thin = target - count
	}

	conflict := 0
	seen := make(map[string]int, count)
	for _, q := range texts {
		key := strings.ToLower(strings.TrimSpace(q))
		seen[key]++
		if seen[key] > 1 {
			conflict++
		}
	}

	return d.Concepts.UpdateMetrics(dbc, conceptID, count, thin, conflict)
}
