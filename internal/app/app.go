package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	redisclient "github.com/yungbote/studyforge-backend/internal/clients/redis"
	"github.com/yungbote/studyforge-backend/internal/data/db"
	genrepos "github.com/yungbote/studyforge-backend/internal/data/repos/generation"
	"github.com/yungbote/studyforge-backend/internal/http/handlers"
	"github.com/yungbote/studyforge-backend/internal/http/middleware"
	"github.com/yungbote/studyforge-backend/internal/jobs/generation/steps"
	"github.com/yungbote/studyforge-backend/internal/jobs/pipeline/concept_synthesis"
	"github.com/yungbote/studyforge-backend/internal/jobs/pipeline/phrasing_expansion"
	"github.com/yungbote/studyforge-backend/internal/jobs/runtime"
	"github.com/yungbote/studyforge-backend/internal/jobs/worker"
	"github.com/yungbote/studyforge-backend/internal/platform/envutil"
	"github.com/yungbote/studyforge-backend/internal/platform/llm"
	"github.com/yungbote/studyforge-backend/internal/platform/logger"
	"github.com/yungbote/studyforge-backend/internal/realtime"
	"github.com/yungbote/studyforge-backend/internal/server"
	"github.com/yungbote/studyforge-backend/internal/services"
)

type App struct {
	Log    *logger.Logger
	DB     *gorm.DB
	Router *gin.Engine
	Cfg    Config
	Worker *worker.Worker
	Bus    redisclient.JobEventBus

	cancel context.CancelFunc
}

func New() (*App, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := LoadConfig()

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	// Redis is optional: without it events and origin limiting are
	// disabled, the pipeline itself is unaffected.
	var (
		bus     redisclient.JobEventBus
		limiter services.SubmissionLimiter
		events  realtime.Publisher = realtime.NopPublisher{}
	)
	if rdb, rErr := redisclient.NewClient(); rErr != nil {
		log.Warn("Redis unavailable, events and rate limiting disabled", "error", rErr.Error())
	} else {
		if bus, err = redisclient.NewJobEventBus(rdb, log); err != nil {
			log.Sync()
			return nil, err
		}
		events = bus
		fw, lErr := redisclient.NewFixedWindowLimiter(rdb, log, "submit", cfg.RateLimitPerWindow, cfg.RateLimitWindow)
		if lErr != nil {
			log.Sync()
			return nil, lErr
		}
		limiter = fw
	}

	jobRepo := genrepos.NewGenerationJobRepo(theDB, log)
	conceptRepo := genrepos.NewConceptRepo(theDB, log)
	phrasingRepo := genrepos.NewPhrasingRepo(theDB, log)
	taskRepo := genrepos.NewTaskRunRepo(theDB, log)

	deps := steps.Deps{
		Log:       log,
		Jobs:      jobRepo,
		Concepts:  conceptRepo,
		Phrasings: phrasingRepo,
		Tasks:     taskRepo,
		LLM:       llm.NewFactory(),
		LLMConfig: cfg.LLM,
		Events:    events,
		Cfg:       cfg.Pipeline,
	}

	registry := runtime.NewRegistry()
	if err := registry.Register(concept_synthesis.New(deps)); err != nil {
		log.Sync()
		return nil, err
	}
	if err := registry.Register(phrasing_expansion.New(deps)); err != nil {
		log.Sync()
		return nil, err
	}
	taskWorker := worker.NewWorker(log, taskRepo, registry)

	generationService := services.NewGenerationService(
		log, jobRepo, conceptRepo, phrasingRepo, taskRepo, limiter, events, cfg.MaxActivePerOwner,
	)

	authMiddleware, err := middleware.NewAuthMiddleware(log, cfg.JWTSecret)
	if err != nil {
		log.Sync()
		return nil, err
	}

	router := server.NewRouter(server.RouterConfig{
		Log:               log,
		AuthMiddleware:    authMiddleware,
		GenerationHandler: handlers.NewGenerationHandler(generationService),
		EventsHandler:     handlers.NewEventsHandler(log, generationService, bus),
	})

	return &App{
		Log:    log,
		DB:     theDB,
		Router: router,
		Cfg:    cfg,
		Worker: taskWorker,
		Bus:    bus,
	}, nil
}

func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.Worker.Start(ctx)
}

// Run serves HTTP until ctx ends, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    ":" + a.Cfg.Port,
		Handler: a.Router,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Log.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Bus != nil {
		_ = a.Bus.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
