package steps

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	genrepos "github.com/yungbote/studyforge-backend/internal/data/repos/generation"
	"github.com/yungbote/studyforge-backend/internal/data/repos/testutil"
	types "github.com/yungbote/studyforge-backend/internal/domain/generation"
	"github.com/yungbote/studyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/studyforge-backend/internal/pkg/failure"
	"github.com/yungbote/studyforge-backend/internal/platform/llm"
	"github.com/yungbote/studyforge-backend/internal/platform/logger"
)

type fakeClient struct {
	generateOut map[string]any
	generateErr error
	generated   int
}

func (f *fakeClient) GenerateJSON(_ context.Context, _, _, _ string, _ map[string]any) (map[string]any, error) {
	f.generated++
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	return f.generateOut, nil
}

func (f *fakeClient) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

type fakeFactory struct {
	client *fakeClient
	err    error
}

func (f fakeFactory) Resolve(llm.Config, *logger.Logger) (llm.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

func ideasResponse(titles ...string) map[string]any {
	ideas := make([]any, 0, len(titles))
	for _, title := range titles {
		ideas = append(ideas, map[string]any{
			"title":       title,
			"description": "Explains how the congestion window grows during the initial phase of a TCP connection.",
			"rationale":   "atomic",
		})
	}
	return map[string]any{"ideas": ideas}
}

func phrasingsResponse(questions ...string) map[string]any {
	out := make([]any, 0, len(questions))
	for _, q := range questions {
		out = append(out, map[string]any{
			"question":       q,
			"explanation":    "Because the congestion window doubles every round trip.",
			"type":           "multiple-choice",
			"options":        []any{"It doubles", "It halves", "It stays flat"},
			"correct_answer": "It doubles",
		})
	}
	return map[string]any{"phrasings": out}
}

func testDeps(t *testing.T, tx *gorm.DB, factory llm.Factory) Deps {
	t.Helper()
	log := testutil.Logger(t)
	return Deps{
		Log:       log,
		Jobs:      genrepos.NewGenerationJobRepo(tx, log),
		Concepts:  genrepos.NewConceptRepo(tx, log),
		Phrasings: genrepos.NewPhrasingRepo(tx, log),
		Tasks:     genrepos.NewTaskRunRepo(tx, log),
		LLM:       factory,
		Cfg:       DefaultConfig(),
	}
}

func TestSynthesizeConceptsHappyPath(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	client := &fakeClient{generateOut: ideasResponse("Slow Start", "Congestion Avoidance")}
	d := testDeps(t, tx, fakeFactory{client: client})
	ctx := context.Background()

	job := testutil.SeedJob(t, tx, uuid.New(), types.JobStatusPending, types.JobPhaseClarifying)

	if err := SynthesizeConcepts(ctx, d, job.ID); err != nil {
		t.Fatalf("SynthesizeConcepts: %v", err)
	}

	var got types.GenerationJob
	if err := tx.Where("id = ?", job.ID).First(&got).Error; err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if got.Status != types.JobStatusProcessing || got.Phase != types.JobPhasePhrasingGeneration {
		t.Fatalf("unexpected state %s/%s", got.Status, got.Phase)
	}
	if len(types.UnmarshalIDs(got.ConceptIDs)) != 2 || len(types.UnmarshalIDs(got.PendingConceptIDs)) != 2 {
		t.Fatalf("fan-out not recorded: %+v", got)
	}
	if got.EstimatedTotal != 10 {
		t.Fatalf("estimated total should be concepts*target, got %d", got.EstimatedTotal)
	}

	var tasks []types.TaskRun
	if err := tx.Where("task_type = ?", types.TaskTypePhrasingExpansion).Find(&tasks).Error; err != nil {
		t.Fatalf("load tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected one expansion task per concept, got %d", len(tasks))
	}
}

func TestSynthesizeConceptsCancelledIsSilent(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	client := &fakeClient{generateOut: ideasResponse("Slow Start")}
	d := testDeps(t, tx, fakeFactory{client: client})

	job := testutil.SeedJob(t, tx, uuid.New(), types.JobStatusCancelled, types.JobPhaseClarifying)

	if err := SynthesizeConcepts(context.Background(), d, job.ID); err != nil {
		t.Fatalf("cancelled job must be a silent no-op, got %v", err)
	}
	if client.generated != 0 {
		t.Fatalf("generator must not be called for a cancelled job")
	}
}

func TestSynthesizeConceptsRedeliveryAfterFanout(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	client := &fakeClient{generateOut: ideasResponse("Slow Start")}
	d := testDeps(t, tx, fakeFactory{client: client})

	job := testutil.SeedJob(t, tx, uuid.New(), types.JobStatusProcessing, types.JobPhasePhrasingGeneration)
	cid := uuid.New()
	if err := tx.Model(&types.GenerationJob{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
		"concept_ids":         types.MarshalIDs([]uuid.UUID{cid}),
		"pending_concept_ids": types.MarshalIDs([]uuid.UUID{cid}),
	}).Error; err != nil {
		t.Fatalf("record fanout: %v", err)
	}

	if err := SynthesizeConcepts(context.Background(), d, job.ID); err != nil {
		t.Fatalf("redelivery must be a no-op, got %v", err)
	}
	if client.generated != 0 {
		t.Fatalf("a job with recorded fan-out must not re-synthesize")
	}
}

func TestSynthesizeConceptsZeroUsableFailsJob(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	client := &fakeClient{generateOut: ideasResponse("TCP vs UDP")} // bundle, dropped
	d := testDeps(t, tx, fakeFactory{client: client})

	job := testutil.SeedJob(t, tx, uuid.New(), types.JobStatusPending, types.JobPhaseClarifying)

	err := SynthesizeConcepts(context.Background(), d, job.ID)
	var fe *failure.Error
	if !errors.As(err, &fe) || fe.Code != failure.CodeSchemaValidation || fe.Retryable {
		t.Fatalf("expected non-retryable SCHEMA_VALIDATION, got %v", err)
	}

	var got types.GenerationJob
	if err := tx.Where("id = ?", job.ID).First(&got).Error; err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if got.Status != types.JobStatusFailed || got.ErrorCode != string(failure.CodeSchemaValidation) {
		t.Fatalf("job failure not recorded: %+v", got)
	}
}

func TestSynthesizeConceptsMissingKeyFailsAsAPIKey(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	d := testDeps(t, tx, fakeFactory{err: errors.New("missing openai api key")})

	job := testutil.SeedJob(t, tx, uuid.New(), types.JobStatusPending, types.JobPhaseClarifying)

	err := SynthesizeConcepts(context.Background(), d, job.ID)
	var fe *failure.Error
	if !errors.As(err, &fe) || fe.Code != failure.CodeAPIKey || fe.Retryable {
		t.Fatalf("expected non-retryable API_KEY failure, got %v", err)
	}
}

// flakyJobRepo delegates to a real repo but errors on the Nth GetByID,
// simulating a database dropout mid-step.
type flakyJobRepo struct {
	genrepos.GenerationJobRepo
	failOnCall int
	calls      int
}

func (f *flakyJobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.GenerationJob, error) {
	f.calls++
	if f.calls == f.failOnCall {
		return nil, errors.New("driver: bad connection")
	}
	return f.GenerationJobRepo.GetByID(dbc, id)
}

func TestSynthesizeConceptsRepoErrorFailsJob(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	client := &fakeClient{generateOut: ideasResponse("Slow Start")}
	d := testDeps(t, tx, fakeFactory{client: client})
	d.Jobs = &flakyJobRepo{GenerationJobRepo: d.Jobs, failOnCall: 2}

	job := testutil.SeedJob(t, tx, uuid.New(), types.JobStatusPending, types.JobPhaseClarifying)

	err := SynthesizeConcepts(context.Background(), d, job.ID)
	var fe *failure.Error
	if !errors.As(err, &fe) {
		t.Fatalf("repo errors must surface classified, got %v", err)
	}

	var got types.GenerationJob
	if err := tx.Where("id = ?", job.ID).First(&got).Error; err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if got.Status != types.JobStatusFailed {
		t.Fatalf("job must not be left processing, got %s", got.Status)
	}
	if got.ErrorCode != string(fe.Code) {
		t.Fatalf("failure triple not recorded: %+v", got)
	}
}

func TestExpandPhrasingsRepoErrorFailsJob(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	client := &fakeClient{generateOut: phrasingsResponse("How does the window grow in slow start?")}
	d := testDeps(t, tx, fakeFactory{client: client})
	d.Jobs = &flakyJobRepo{GenerationJobRepo: d.Jobs, failOnCall: 2}

	cid := uuid.New()
	job := seedExpandableJob(t, tx, []uuid.UUID{cid})
	if err := tx.Create(&types.Concept{
		ID:          cid,
		OwnerUserID: job.OwnerUserID,
		JobID:       job.ID,
		Title:       "Slow Start",
		Description: "Explains how the congestion window grows during the initial phase of a TCP connection.",
	}).Error; err != nil {
		t.Fatalf("seed concept: %v", err)
	}

	err := ExpandPhrasings(context.Background(), d, job.ID, cid)
	var fe *failure.Error
	if !errors.As(err, &fe) {
		t.Fatalf("repo errors must surface classified, got %v", err)
	}

	var got types.GenerationJob
	if err := tx.Where("id = ?", job.ID).First(&got).Error; err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if got.Status != types.JobStatusFailed {
		t.Fatalf("job must not be left processing, got %s", got.Status)
	}
	if got.ErrorCode != string(fe.Code) {
		t.Fatalf("failure triple not recorded: %+v", got)
	}
}

func seedExpandableJob(t *testing.T, tx *gorm.DB, conceptIDs []uuid.UUID) *types.GenerationJob {
	t.Helper()
	now := time.Now()
	job := &types.GenerationJob{
		ID:                uuid.New(),
		OwnerUserID:       uuid.New(),
		Prompt:            "explain how tcp congestion control works",
		Status:            types.JobStatusProcessing,
		Phase:             types.JobPhasePhrasingGeneration,
		ConceptIDs:        types.MarshalIDs(conceptIDs),
		PendingConceptIDs: types.MarshalIDs(conceptIDs),
		EstimatedTotal:    len(conceptIDs) * 5,
		StartedAt:         &now,
	}
	if err := tx.Create(job).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func TestExpandPhrasingsFinalizesLastConcept(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	client := &fakeClient{generateOut: phrasingsResponse(
		"How does the window grow in slow start?",
		"What limits the congestion window?",
	)}
	d := testDeps(t, tx, fakeFactory{client: client})
	ctx := context.Background()

	cid := uuid.New()
	job := seedExpandableJob(t, tx, []uuid.UUID{cid})
	if err := tx.Create(&types.Concept{
		ID:          cid,
		OwnerUserID: job.OwnerUserID,
		JobID:       job.ID,
		Title:       "Slow Start",
		Description: "Explains how the congestion window grows during the initial phase of a TCP connection.",
	}).Error; err != nil {
		t.Fatalf("seed concept: %v", err)
	}

	if err := ExpandPhrasings(ctx, d, job.ID, cid); err != nil {
		t.Fatalf("ExpandPhrasings: %v", err)
	}

	var got types.GenerationJob
	if err := tx.Where("id = ?", job.ID).First(&got).Error; err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if got.Status != types.JobStatusCompleted {
		t.Fatalf("last concept must finalize the job, got %s", got.Status)
	}
	if got.QuestionsSaved != 2 || got.QuestionsGenerated != 2 {
		t.Fatalf("counters wrong: saved=%d generated=%d", got.QuestionsSaved, got.QuestionsGenerated)
	}

	var count int64
	if err := tx.Model(&types.Phrasing{}).Where("concept_id = ?", cid).Count(&count).Error; err != nil {
		t.Fatalf("count phrasings: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 phrasings, got %d", count)
	}

	var c types.Concept
	if err := tx.Where("id = ?", cid).First(&c).Error; err != nil {
		t.Fatalf("reload concept: %v", err)
	}
	if c.PhrasingCount != 2 || c.ThinScore != 3 || c.ConflictScore != 0 {
		t.Fatalf("metrics wrong: %+v", c)
	}
}

func TestExpandPhrasingsIdempotentWhenNotPending(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	client := &fakeClient{generateOut: phrasingsResponse("Should never be generated at all?")}
	d := testDeps(t, tx, fakeFactory{client: client})

	otherPending := uuid.New()
	job := seedExpandableJob(t, tx, []uuid.UUID{otherPending})
	concept := testutil.SeedConcept(t, tx, job.OwnerUserID, job.ID, "Already Expanded")

	if err := ExpandPhrasings(context.Background(), d, job.ID, concept.ID); err != nil {
		t.Fatalf("redelivered concept must be a no-op, got %v", err)
	}
	if client.generated != 0 {
		t.Fatalf("generator must not run for a concept outside the pending set")
	}

	var count int64
	if err := tx.Model(&types.Phrasing{}).Where("concept_id = ?", concept.ID).Count(&count).Error; err != nil {
		t.Fatalf("count phrasings: %v", err)
	}
	if count != 0 {
		t.Fatalf("no phrasings may be written on redelivery, got %d", count)
	}
}

func TestExpandPhrasingsMissingConceptResolvesJob(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	client := &fakeClient{generateOut: phrasingsResponse("Should never be generated at all?")}
	d := testDeps(t, tx, fakeFactory{client: client})

	cid := uuid.New() // no concept row
	job := seedExpandableJob(t, tx, []uuid.UUID{cid})

	if err := ExpandPhrasings(context.Background(), d, job.ID, cid); err != nil {
		t.Fatalf("missing concept must not error, got %v", err)
	}
	if client.generated != 0 {
		t.Fatalf("generator must not run for a missing concept")
	}

	var got types.GenerationJob
	if err := tx.Where("id = ?", job.ID).First(&got).Error; err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if got.Status != types.JobStatusCompleted || got.QuestionsSaved != 0 {
		t.Fatalf("job must still complete with zero questions, got %s saved=%d", got.Status, got.QuestionsSaved)
	}
}

func TestExpandPhrasingsCancelledIsSilent(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	client := &fakeClient{generateOut: phrasingsResponse("Should never be generated at all?")}
	d := testDeps(t, tx, fakeFactory{client: client})

	job := testutil.SeedJob(t, tx, uuid.New(), types.JobStatusCancelled, types.JobPhasePhrasingGeneration)

	if err := ExpandPhrasings(context.Background(), d, job.ID, uuid.New()); err != nil {
		t.Fatalf("cancelled job must be a silent no-op, got %v", err)
	}
	if client.generated != 0 {
		t.Fatalf("generator must not run for a cancelled job")
	}
}
