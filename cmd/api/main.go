package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wikiguard/pii-scan-backend/internal/api/rest"
	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/cache"
	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/config"
	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/confluence"
	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/crypto"
	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/database"
	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/detection"
	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/events"
	"github.com/wikiguard/pii-scan-backend/internal/infrastructure/telemetry"
	"github.com/wikiguard/pii-scan-backend/internal/metrics"
	"github.com/wikiguard/pii-scan-backend/internal/service/extraction"
	"github.com/wikiguard/pii-scan-backend/internal/service/reveal"
	"github.com/wikiguard/pii-scan-backend/internal/service/scanning"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := telemetry.NewZapLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("application failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting wikiguard pii scan backend",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.Server.Port))

	registry := metrics.NewRegistry()

	cryptoSvc, err := crypto.NewService(cfg.PII.KEKHex)
	if err != nil {
		return fmt.Errorf("initializing crypto service: %w", err)
	}

	pool, err := database.NewConnectionPool(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	cacheManager, err := cache.NewCacheManager(&cfg.Redis, &cfg.Cache, logger)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer cacheManager.Close()

	wikiClient, err := confluence.NewClient(&cfg.Confluence, logger)
	if err != nil {
		return fmt.Errorf("initializing wiki client: %w", err)
	}
	accessor := confluence.NewCachedAccessor(wikiClient, cacheManager.Content, &cfg.Cache, logger)
	accessor.Start(ctx)
	defer accessor.Stop()

	detector, err := detection.NewClient(&cfg.Detection, logger)
	if err != nil {
		return fmt.Errorf("connecting to detection engine: %w", err)
	}
	defer detector.Close()
	analyzer := metrics.NewInstrumentedAnalyzer(detector, registry)

	uow := database.NewUnitOfWork(pool, cryptoSvc)
	auditStore := database.NewAuditStore(pool.Pool())
	configStore := database.NewConfigStore(pool.Pool())

	bus := events.NewLiveBus(cfg.EventBus.BufferCapacity, logger)
	defer bus.ReleaseAll()
	sink := metrics.NewInstrumentedSink(bus, registry)

	orch := scanning.NewOrchestrator(uow, cryptoSvc, sink, nil, logger)
	extractor := extraction.NewProcessor(&cfg.Extraction, logger)
	engine := scanning.NewEngine(accessor, analyzer, extractor, orch, uow,
		bus, cfg.Scan.Parallelism, nil, logger)

	// Scans interrupted by a crash come back as paused, resumable runs.
	if err := engine.RecoverOrphans(ctx); err != nil {
		return fmt.Errorf("recovering orphaned scans: %w", err)
	}

	revealSvc := reveal.NewService(uow.Events(), auditStore, cryptoSvc, &cfg.PII, logger)
	purger := reveal.NewRetentionPurger(auditStore, time.Hour, logger)
	purger.Start(ctx)
	defer purger.Stop()

	health := rest.NewHealthService(logger)
	health.Register(rest.CheckerFunc{CheckerName: "postgres", Fn: func(ctx context.Context) error {
		return pool.Pool().Ping(ctx)
	}})
	health.Register(rest.CheckerFunc{CheckerName: "redis", Fn: cacheManager.HealthCheck})

	handler := rest.NewHandler(engine, uow.Checkpoints(), uow.Counters(),
		revealSvc, configStore, logger)
	server := rest.NewServer(cfg, handler, health, cacheManager.RateLimiter, registry, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received")
	if err := server.Shutdown(); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return <-errCh
}
