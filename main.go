package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dealmatch/matchengine/pkg/cache"
	"github.com/dealmatch/matchengine/pkg/config"
	"github.com/dealmatch/matchengine/pkg/database"
	"github.com/dealmatch/matchengine/pkg/dedup"
	"github.com/dealmatch/matchengine/pkg/enrichment"
	"github.com/dealmatch/matchengine/pkg/handlers"
	"github.com/dealmatch/matchengine/pkg/jobs"
	"github.com/dealmatch/matchengine/pkg/lock"
	"github.com/dealmatch/matchengine/pkg/logging"
	"github.com/dealmatch/matchengine/pkg/metrics"
	"github.com/dealmatch/matchengine/pkg/middleware"
	"github.com/dealmatch/matchengine/pkg/queue"
	"github.com/dealmatch/matchengine/pkg/repositories"
	"github.com/dealmatch/matchengine/pkg/scoring"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	cfg, err := config.Load("config.yaml", Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting matchengine",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Env),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("matchengine failed", zap.Error(err))
	}
	logger.Info("matchengine stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrate(cfg, logger); err != nil {
		return err
	}

	redisClient, err := database.NewRedisClient(ctx, &database.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	m := metrics.New()

	queueRepo := repositories.NewQueueRepository(db, cfg.Queue.MaxRetries)
	dealRepo := repositories.NewDealRepository(db)
	buyerRepo := repositories.NewBuyerRepository(db)
	scoreRepo := repositories.NewScoreRepository(db)
	cacheRepo := repositories.NewCacheRepository(db)
	auditRepo := repositories.NewAuditRepository(db)

	queueSvc := queue.NewService(queueRepo, m, logger)
	cacheSvc := cache.NewService(cacheRepo, m, logger)

	policy, err := scoring.LoadPolicy(cfg.Scoring.PolicyPath)
	if err != nil {
		return err
	}

	providerCfg := enrichment.OpenAIConfig{
		Endpoint:    cfg.Enrichment.Endpoint,
		Model:       cfg.Enrichment.Model,
		APIKey:      cfg.Enrichment.APIKey,
		Temperature: cfg.Enrichment.Temperature,
		CacheTTL:    cfg.Enrichment.CacheTTL(),
	}

	// Without an API key the engine falls back to its keyword heuristic
	// and enrichment items fail permanently at the provider call.
	var assessor scoring.OwnerGoalsAssessor
	if cfg.Enrichment.APIKey != "" {
		assessor, err = enrichment.NewOwnerGoalsAssessor(providerCfg, cacheSvc, logger)
		if err != nil {
			return err
		}
	}

	engine, err := scoring.NewEngine(policy, assessor, logger)
	if err != nil {
		return err
	}
	scoringSvc := scoring.NewService(engine, dealRepo, buyerRepo, scoreRepo, m, logger)

	enforcer := dedup.NewEnforcer(db, dealRepo, buyerRepo, scoreRepo, auditRepo, m, logger)

	openaiLookup, err := enrichment.NewOpenAILookup(providerCfg, cacheSvc, logger)
	if err != nil {
		return err
	}
	lookup := enrichment.NewBreakeredLookup(openaiLookup, enrichment.DefaultBreakerConfig())

	worker := enrichment.NewWorker(
		enrichment.WorkerConfig{
			Concurrency:  cfg.Worker.Concurrency,
			BatchSize:    cfg.Worker.BatchSize,
			PollInterval: cfg.Worker.PollInterval(),
		},
		queueSvc, dealRepo, buyerRepo, lookup, enforcer, scoringSvc, auditRepo, logger,
	)

	sweeper := queue.NewSweeper(queueSvc, queueRepo, cfg.Queue.ZombieTimeout(), logger)
	locker := lock.NewLocker(redisClient, logger)

	refresher := jobs.NewRefresher(dealRepo, queueSvc, cfg.Queue.StaleAfter(), cfg.Queue.RefreshBatchSize, logger)

	cron := jobs.NewCronManager(locker, sweeper, cacheSvc, refresher, logger)
	sweepEvery := time.Duration(cfg.Queue.SweepIntervalMinutes) * time.Minute
	cacheSweepEvery := time.Duration(cfg.Cache.SweepIntervalMinutes) * time.Minute
	refreshEvery := time.Duration(cfg.Queue.RefreshIntervalMinutes) * time.Minute
	if err := cron.SetupJobs(sweepEvery, cacheSweepEvery, refreshEvery); err != nil {
		return err
	}
	cron.Start()
	defer cron.Stop()

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewQueueStatsHandler(queueSvc, logger).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: middleware.RequestLogger(logger)(mux),
	}

	errCh := make(chan error, 2)

	go func() {
		logger.Info("serving health and metrics", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go func() {
		errCh <- worker.Run(ctx)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", zap.Error(err))
	}
	return nil
}

// migrate applies pending migrations through database/sql, which is what
// golang-migrate drives.
func migrate(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	return database.RunMigrations(sqlDB, "migrations", logger)
}
