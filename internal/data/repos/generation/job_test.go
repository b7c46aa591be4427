package generation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/studyforge-backend/internal/data/repos/testutil"
	types "github.com/yungbote/studyforge-backend/internal/domain/generation"
	"github.com/yungbote/studyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/studyforge-backend/internal/pkg/failure"
)

func TestMarkProcessingFirstWriterWins(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewGenerationJobRepo(tx, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	job := testutil.SeedJob(t, tx, uuid.New(), types.JobStatusPending, types.JobPhaseClarifying)

	ok, err := repo.MarkProcessing(dbc, job.ID)
	if err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if !ok {
		t.Fatalf("first writer must win")
	}

	ok, err = repo.MarkProcessing(dbc, job.ID)
	if err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if ok {
		t.Fatalf("second writer must lose")
	}

	got, err := repo.GetByID(dbc, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != types.JobStatusProcessing || got.Phase != types.JobPhaseConceptSynthesis {
		t.Fatalf("unexpected state %s/%s", got.Status, got.Phase)
	}
	if got.StartedAt == nil {
		t.Fatalf("started_at must be recorded")
	}
}

func TestCancelOnlyNonTerminal(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewGenerationJobRepo(tx, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}
	owner := uuid.New()

	pending := testutil.SeedJob(t, tx, owner, types.JobStatusPending, types.JobPhaseClarifying)
	completed := testutil.SeedJob(t, tx, owner, types.JobStatusCompleted, types.JobPhaseFinalizing)

	if ok, err := repo.Cancel(dbc, owner, pending.ID); err != nil || !ok {
		t.Fatalf("cancel pending: ok=%v err=%v", ok, err)
	}
	if ok, err := repo.Cancel(dbc, owner, completed.ID); err != nil || ok {
		t.Fatalf("cancel completed must be rejected: ok=%v err=%v", ok, err)
	}
	if ok, err := repo.Cancel(dbc, uuid.New(), pending.ID); err != nil || ok {
		t.Fatalf("cancel by non-owner must be rejected: ok=%v err=%v", ok, err)
	}
}

func TestMarkFailedSkipsTerminal(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewGenerationJobRepo(tx, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}
	owner := uuid.New()

	cancelled := testutil.SeedJob(t, tx, owner, types.JobStatusCancelled, types.JobPhaseClarifying)
	f := failure.New(failure.CodeNetwork, true, "network trouble")

	if ok, err := repo.MarkFailed(dbc, cancelled.ID, f); err != nil || ok {
		t.Fatalf("failing a cancelled job must be rejected: ok=%v err=%v", ok, err)
	}

	processing := testutil.SeedJob(t, tx, owner, types.JobStatusProcessing, types.JobPhasePhrasingGeneration)
	if ok, err := repo.MarkFailed(dbc, processing.ID, f); err != nil || !ok {
		t.Fatalf("failing a processing job: ok=%v err=%v", ok, err)
	}
	got, _ := repo.GetByID(dbc, processing.ID)
	if got.ErrorCode != string(failure.CodeNetwork) || !got.Retryable || got.ErrorMessage != "network trouble" {
		t.Fatalf("failure triple not recorded: %+v", got)
	}
	if got.CompletedAt == nil {
		t.Fatalf("completed_at must be set on failure")
	}
}

func TestCountProcessingForOwnerCountsOnlyProcessing(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewGenerationJobRepo(tx, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}
	owner := uuid.New()

	testutil.SeedJob(t, tx, owner, types.JobStatusProcessing, types.JobPhaseConceptSynthesis)
	testutil.SeedJob(t, tx, owner, types.JobStatusProcessing, types.JobPhasePhrasingGeneration)
	testutil.SeedJob(t, tx, owner, types.JobStatusPending, types.JobPhaseClarifying)
	testutil.SeedJob(t, tx, owner, types.JobStatusFailed, types.JobPhaseClarifying)
	testutil.SeedJob(t, tx, uuid.New(), types.JobStatusProcessing, types.JobPhaseConceptSynthesis)

	n, err := repo.CountProcessingForOwner(dbc, owner)
	if err != nil {
		t.Fatalf("CountProcessingForOwner: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 processing jobs, got %d", n)
	}
}

func TestResolvePendingConceptIdempotent(t *testing.T) {
	db := testutil.DB(t)
	repo := NewGenerationJobRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	c1, c2 := uuid.New(), uuid.New()
	job := seedFanoutJob(t, db, []uuid.UUID{c1, c2})

	res, err := repo.ResolvePendingConcept(dbc, job.ID, c1, 5, 4)
	if err != nil {
		t.Fatalf("ResolvePendingConcept: %v", err)
	}
	if !res.Removed || res.Finalized || res.Pending != 1 {
		t.Fatalf("unexpected first resolve: %+v", res)
	}

	// redelivery of the same concept
	res, err = repo.ResolvePendingConcept(dbc, job.ID, c1, 5, 4)
	if err != nil {
		t.Fatalf("ResolvePendingConcept redelivery: %v", err)
	}
	if res.Removed || res.Finalized {
		t.Fatalf("redelivery must be a no-op: %+v", res)
	}

	got, _ := repo.GetByID(dbc, job.ID)
	if got.QuestionsSaved != 4 || got.QuestionsGenerated != 5 {
		t.Fatalf("counters double-applied: saved=%d generated=%d", got.QuestionsSaved, got.QuestionsGenerated)
	}
}

// TestResolvePendingConceptConcurrentJoin races one worker per concept
// and requires exactly one finalizer regardless of finish order.
func TestResolvePendingConceptConcurrentJoin(t *testing.T) {
	db := testutil.DB(t)
	repo := NewGenerationJobRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	for _, k := range []int{1, 2, 6} {
		conceptIDs := make([]uuid.UUID, k)
		for i := range conceptIDs {
			conceptIDs[i] = uuid.New()
		}
		job := seedFanoutJob(t, db, conceptIDs)

		var wg sync.WaitGroup
		finalized := make(chan bool, k)
		for _, cid := range conceptIDs {
			wg.Add(1)
			go func(cid uuid.UUID) {
				defer wg.Done()
				res, err := repo.ResolvePendingConcept(dbc, job.ID, cid, 5, 5)
				if err != nil {
					t.Errorf("resolve: %v", err)
					return
				}
				if !res.Removed {
					t.Errorf("every worker owns a distinct concept; removal must succeed")
				}
				finalized <- res.Finalized
			}(cid)
		}
		wg.Wait()
		close(finalized)

		finalizers := 0
		for f := range finalized {
			if f {
				finalizers++
			}
		}
		if finalizers != 1 {
			t.Fatalf("k=%d: expected exactly one finalizer, got %d", k, finalizers)
		}

		got, err := repo.GetByID(dbc, job.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.Status != types.JobStatusCompleted {
			t.Fatalf("k=%d: job must complete, got %s", k, got.Status)
		}
		if got.QuestionsSaved != 5*k {
			t.Fatalf("k=%d: lost counter updates, saved=%d", k, got.QuestionsSaved)
		}
		if len(types.UnmarshalIDs(got.PendingConceptIDs)) != 0 {
			t.Fatalf("k=%d: pending set must be empty", k)
		}
	}
}

func TestRemovePendingConceptFinalizes(t *testing.T) {
	db := testutil.DB(t)
	repo := NewGenerationJobRepo(db, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background()}

	c1 := uuid.New()
	job := seedFanoutJob(t, db, []uuid.UUID{c1})

	res, err := repo.RemovePendingConcept(dbc, job.ID, c1)
	if err != nil {
		t.Fatalf("RemovePendingConcept: %v", err)
	}
	if !res.Removed || !res.Finalized {
		t.Fatalf("removing the last concept must finalize: %+v", res)
	}
	got, _ := repo.GetByID(dbc, job.ID)
	if got.Status != types.JobStatusCompleted || got.QuestionsSaved != 0 {
		t.Fatalf("unexpected final state %s saved=%d", got.Status, got.QuestionsSaved)
	}
}

// seedFanoutJob writes a processing job with a recorded fan-out
// directly against the shared handle so concurrent transactions can
// see and lock its row. Rows are deleted on cleanup.
func seedFanoutJob(t *testing.T, db *gorm.DB, conceptIDs []uuid.UUID) *types.GenerationJob {
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
	if err := db.Create(job).Error; err != nil {
		t.Fatalf("seed fanout job: %v", err)
	}
	t.Cleanup(func() {
		db.Unscoped().Where("id = ?", job.ID).Delete(&types.GenerationJob{})
	})
	return job
}
