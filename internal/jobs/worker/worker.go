package worker

import (
	"context"
	"time"

	"github.com/yungbote/studyforge-backend/internal/data/repos/generation"
	types "github.com/yungbote/studyforge-backend/internal/domain/generation"
	"github.com/yungbote/studyforge-backend/internal/jobs/runtime"
	"github.com/yungbote/studyforge-backend/internal/pkg/dbctx"
	"github.com/yungbote/studyforge-backend/internal/platform/envutil"
	"github.com/yungbote/studyforge-backend/internal/platform/logger"
)

// Worker is the polling task pool. Each loop claims the oldest
// runnable task (queued, or running with a stale heartbeat) and
// dispatches it to the registered handler. Failed tasks stay failed;
// only stale running tasks are ever redelivered.
type Worker struct {
	log      *logger.Logger
	repo     generation.TaskRunRepo
	registry *runtime.Registry

	concurrency       int
	pollInterval      time.Duration
	staleRunning      time.Duration
	heartbeatInterval time.Duration
}

func NewWorker(baseLog *logger.Logger, repo generation.TaskRunRepo, registry *runtime.Registry) *Worker {
	return &Worker{
		log:               baseLog.With("component", "TaskWorker"),
		repo:              repo,
		registry:          registry,
		concurrency:       envutil.Int("WORKER_CONCURRENCY", 4),
		pollInterval:      envutil.Duration("WORKER_POLL_INTERVAL", 1*time.Second),
		staleRunning:      envutil.Duration("WORKER_STALE_RUNNING", 10*time.Minute),
		heartbeatInterval: envutil.Duration("WORKER_HEARTBEAT_INTERVAL", 30*time.Second),
	}
}

func (w *Worker) Start(ctx context.Context) {
	concurrency := w.concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	w.log.Info("Starting task worker pool",
		"concurrency", concurrency,
		"poll_interval", w.pollInterval.String(),
		"stale_running", w.staleRunning.String(),
	)
	for i := 0; i < concurrency; i++ {
		go w.runLoop(ctx, i+1)
	}
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			task, err := w.repo.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, w.staleRunning)
			if err != nil {
				w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err.Error())
				continue
			}
			if task == nil {
				continue
			}
			w.dispatch(ctx, workerID, task)
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, workerID int, task *types.TaskRun) {
	tc := runtime.NewContext(ctx, task, w.repo)

	h, ok := w.registry.Get(task.TaskType)
	if !ok {
		w.log.Warn("No handler registered for task_type",
			"worker_id", workerID,
			"task_type", task.TaskType,
			"task_id", task.ID,
		)
		tc.Fail(&missingHandlerError{TaskType: task.TaskType})
		return
	}

	tc.StartHeartbeat(w.heartbeatInterval)
	defer tc.StopHeartbeat()

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Task handler panic",
				"worker_id", workerID,
				"task_id", task.ID,
				"task_type", task.TaskType,
				"panic", r,
			)
			tc.Fail(&panicError{})
		}
	}()

	if runErr := h.Run(tc); runErr != nil {
		tc.Fail(runErr)
		return
	}
	tc.Succeed()
}

type missingHandlerError struct{ TaskType string }

func (e *missingHandlerError) Error() string {
	return "no handler registered for task_type=" + e.TaskType
}

type panicError struct{}

func (e *panicError) Error() string { return "panic: unexpected error" }
