// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vidfab-pipeline/internal/config"
	"vidfab-pipeline/internal/domain/model"
	"vidfab-pipeline/internal/domain/ports/adapter"
	"vidfab-pipeline/internal/infra/adapters/provider"
	"vidfab-pipeline/internal/infra/adapters/storage"
	pg "vidfab-pipeline/internal/infra/db/postgres"
	"vidfab-pipeline/internal/infra/logging"
	"vidfab-pipeline/internal/infra/metrics"
	"vidfab-pipeline/internal/infra/queue"
	red "vidfab-pipeline/internal/infra/redis"
	"vidfab-pipeline/internal/infra/sched"
	"vidfab-pipeline/internal/infra/web"
	"vidfab-pipeline/internal/infra/worker"
	"vidfab-pipeline/internal/usecase"
)

// Set at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("dev mode enabled")
	}
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool := pg.MustConnectPostgres(cfg.Database.URL)
	defer pool.Close()
	go pg.ReportPoolStats(ctx, pool, 15*time.Second)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	rateLimiter := red.NewRateLimiter(redisClient)
	progressCache := red.NewProgressCache(redisClient, cfg.Redis.TTL)
	locker := red.NewLocker(redisClient)

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	creditRepo := pg.NewCreditRepo(pool)
	projectRepo := pg.NewProjectRepo(pool)
	shotRepo := pg.NewShotRepo(pool)
	versionRepo := pg.NewStoryboardVersionRepo(pool)
	jobRepo := pg.NewJobRepo(pool, tm)

	// ---- Queue ----
	jobQueue := queue.New(jobRepo, queue.Defaults{
		MaxAttempts:  cfg.Queue.MaxAttempts,
		BackoffDelay: cfg.Queue.BackoffDelay,
	}, logger)

	// ---- Use cases ----
	ledgerUC := usecase.NewCreditLedgerUseCase(creditRepo, tm, logger)
	pipelineUC := usecase.NewPipelineUseCase(
		projectRepo, shotRepo, versionRepo,
		ledgerUC, jobQueue, progressCache, tm,
		usecase.StepCosts{
			StoryboardPerShot: cfg.Pipeline.StoryboardCost,
			ClipPerShot:       cfg.Pipeline.ClipCost,
			Compose:           cfg.Pipeline.ComposeCost,
		},
		logger,
	)
	storyboardUC := usecase.NewStoryboardUseCase(versionRepo, shotRepo, projectRepo, tm, logger)

	// ---- Provider + storage ----
	var gen adapter.GenerationProvider
	if cfg.Provider.Noop {
		gen = provider.NewNoopProvider()
		logger.Warn().Msg("generation provider: noop")
	} else {
		gen, err = provider.NewHTTPProvider(cfg.Provider.APIKey, cfg.Provider.BaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("provider")
		}
	}
	store, err := storage.NewMinioStorage(ctx, &cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("storage")
	}

	// ---- Workers ----
	registry := worker.NewRegistry()
	handlers := worker.NewHandlers(pipelineUC, progressCache, projectRepo, shotRepo, gen, store, 0, logger)
	handlers.RegisterAll(registry)

	onDead := func(ctx context.Context, job *model.Job, reason string) {
		step, ok := worker.StepForJobType(job.Type)
		if !ok {
			return
		}
		if err := pipelineUC.FailStepUnit(ctx, job.Payload.ProjectID, step, job.Payload.ShotNumber, reason); err != nil {
			logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to propagate dead letter")
		}
	}

	workerPool := worker.NewPool(cfg.Queue.Workers, logger)
	workerPool.Start(ctx)
	runner := worker.NewRunner(jobRepo, registry, onDead, worker.RunnerConfig{
		PollInterval:   cfg.Queue.PollInterval,
		AttemptTimeout: cfg.Queue.AttemptTimeout,
	}, logger)
	go runner.Start(ctx, workerPool)

	// ---- Schedulers ----
	syncPoller := sched.NewSyncPoller(projectRepo, jobQueue, locker, cfg.Pipeline.SyncInterval, logger)
	go syncPoller.Start(ctx)

	dispatcher := sched.NewBatchDispatcher(shotRepo, jobQueue, locker, cfg.Pipeline.DispatchInterval, cfg.Pipeline.DispatchBatch, logger)
	go dispatcher.Start(ctx)

	sweeper := sched.NewReservationSweeper(creditRepo, projectRepo, shotRepo, ledgerUC, locker, cfg.Pipeline.SweepInterval, cfg.Pipeline.HoldMaxAge, logger)
	go sweeper.Start(ctx)

	reaper := sched.NewJobReaper(jobRepo, locker, cfg.Queue.ReapInterval, cfg.Queue.StaleAfter, logger)
	go reaper.Start(ctx)

	// ---- HTTP API ----
	auth := web.NewAuthManager(cfg.API.JWTSecret, cfg.API.TokenTTL)
	apiSrv := web.NewServer(pipelineUC, ledgerUC, storyboardUC, jobQueue, auth, rateLimiter, cfg.API.AdminKey, cfg.API.RateLimit, logger)
	server := &http.Server{Addr: cfg.API.Addr, Handler: apiSrv.Router()}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.API.ShutdownGrace)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	cancel()
	workerPool.Stop()
}
