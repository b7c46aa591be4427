package generation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/studyforge-backend/internal/data/repos/testutil"
	types "github.com/yungbote/studyforge-backend/internal/domain/generation"
	"github.com/yungbote/studyforge-backend/internal/pkg/dbctx"
)

func TestClaimNextRunnableOrderAndEligibility(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewTaskRunRepo(tx, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	owner := uuid.New()

	ready, err := repo.Enqueue(dbc, owner, types.TaskTypeConceptSynthesis, map[string]any{"job_id": uuid.NewString()}, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := repo.Enqueue(dbc, owner, types.TaskTypePhrasingExpansion, nil, time.Hour); err != nil {
		t.Fatalf("enqueue delayed: %v", err)
	}

	claimed, err := repo.ClaimNextRunnable(dbc, 10*time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.ID != ready.ID {
		t.Fatalf("expected the immediately runnable task, got %+v", claimed)
	}
	var row types.TaskRun
	if err := tx.Where("id = ?", ready.ID).First(&row).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if row.Status != types.TaskStatusRunning || row.Attempts != 1 {
		t.Fatalf("claimed row not marked running: %+v", row)
	}

	// the delayed task is not yet eligible
	if again, err := repo.ClaimNextRunnable(dbc, 10*time.Minute); err != nil || again != nil {
		t.Fatalf("delayed task must not be claimable: %+v err=%v", again, err)
	}
}

func TestClaimNextRunnableNeverReclaimsFailed(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewTaskRunRepo(tx, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	task, err := repo.Enqueue(dbc, uuid.New(), types.TaskTypeConceptSynthesis, nil, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := repo.UpdateFields(dbc, task.ID, map[string]interface{}{
		"status": types.TaskStatusFailed,
		"error":  "rate limited",
	}); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	claimed, err := repo.ClaimNextRunnable(dbc, 10*time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed != nil {
		t.Fatalf("failed tasks are never auto-retried, got %+v", claimed)
	}
}

func TestClaimNextRunnableReclaimsStaleRunning(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	repo := NewTaskRunRepo(tx, testutil.Logger(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	task, err := repo.Enqueue(dbc, uuid.New(), types.TaskTypePhrasingExpansion, nil, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	stale := time.Now().Add(-time.Hour)
	if err := repo.UpdateFields(dbc, task.ID, map[string]interface{}{
		"status":       types.TaskStatusRunning,
		"attempts":     1,
		"locked_at":    stale,
		"heartbeat_at": stale,
	}); err != nil {
		t.Fatalf("mark stale running: %v", err)
	}

	claimed, err := repo.ClaimNextRunnable(dbc, 10*time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.ID != task.ID {
		t.Fatalf("stale running task must be reclaimed, got %+v", claimed)
	}

	var row types.TaskRun
	if err := tx.Where("id = ?", task.ID).First(&row).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if row.Attempts != 2 {
		t.Fatalf("reclaim must bump attempts, got %d", row.Attempts)
	}

	// a fresh heartbeat protects the task from reclaim
	if err := repo.Heartbeat(dbc, task.ID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if again, err := repo.ClaimNextRunnable(dbc, 10*time.Minute); err != nil || again != nil {
		t.Fatalf("freshly heartbeaten task must not be reclaimed: %+v err=%v", again, err)
	}
}
