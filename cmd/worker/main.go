// Command worker runs the conversion delivery pipeline: one dispatch queue and
// worker per ad platform, the maintenance loops, and the ops HTTP API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/funnelvalue/conversions/internal/application/delivery"
	"github.com/funnelvalue/conversions/internal/application/directory"
	"github.com/funnelvalue/conversions/internal/domain/conversion"
	"github.com/funnelvalue/conversions/internal/infrastructure/adplatform"
	"github.com/funnelvalue/conversions/internal/infrastructure/cache"
	"github.com/funnelvalue/conversions/internal/infrastructure/config"
	"github.com/funnelvalue/conversions/internal/infrastructure/logger"
	"github.com/funnelvalue/conversions/internal/infrastructure/persistence"
	"github.com/funnelvalue/conversions/internal/infrastructure/queue"
	"github.com/funnelvalue/conversions/internal/infrastructure/storage"
	"github.com/funnelvalue/conversions/internal/infrastructure/telemetry"
	"github.com/funnelvalue/conversions/internal/infrastructure/vault"
	"github.com/funnelvalue/conversions/internal/interfaces/http/handler"
	"github.com/funnelvalue/conversions/internal/interfaces/http/router"
)

var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	baseLog, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		Service:    cfg.App.Name,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry comes first so the bridged logger exports from the start
	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
		ExportInterval:    cfg.Telemetry.ExportInterval,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		SpanProfiles:      cfg.Telemetry.SpanProfiles && cfg.Profiling.Enabled,
	}, baseLog)
	if err != nil {
		baseLog.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	log := telemetry.NewBridgedLogger(baseLog, tel.ZapCore(cfg.App.Name, logger.ParseLevel(cfg.Log.Level)))
	defer func() {
		_ = log.Sync()
	}()

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:           cfg.Profiling.Enabled,
		ServerAddress:     cfg.Profiling.ServerAddress,
		ApplicationName:   cfg.Telemetry.ServiceName,
		BasicAuthUser:     cfg.Profiling.BasicAuthUser,
		BasicAuthPassword: cfg.Profiling.BasicAuthPassword,
		Contention:        cfg.Profiling.Contention,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}

	log.Info("Starting conversion delivery worker",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("version", version),
		zap.String("queue_store", cfg.Queue.Store),
	)

	// The credential key is required before anything can be delivered
	codec, err := vault.NewCodecFromConfig(cfg.Vault)
	if err != nil {
		log.Fatal("Failed to load credential encryption key", zap.Error(err))
	}

	// Database with zap-backed GORM logger
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if tel.IsEnabled() {
		if err := telemetry.RegisterGormTracing(db.DB); err != nil {
			log.Warn("Failed to register GORM tracing", zap.Error(err))
		}
	}
	log.Info("Database connected successfully")

	syncLogs := persistence.NewGormSyncLogRepository(db.DB)
	dir := directory.New(
		persistence.NewGormIntegrationRepository(db.DB),
		syncLogs,
		codec,
		directory.WithLogger(log),
	)

	ledger, closeLedger := cache.NewLedger(ctx, cfg.Redis, log)
	defer func() {
		if err := closeLedger(); err != nil {
			log.Error("Error closing delivery ledger", zap.Error(err))
		}
	}()

	var store queue.Store
	switch cfg.Queue.Store {
	case "memory":
		log.Warn("Using in-memory queue store; queued jobs do not survive a restart")
		store = queue.NewMemoryStore()
	default:
		store = persistence.NewGormJobStore(db.DB)
	}

	queueOpts := []queue.Option{queue.WithLogger(log)}
	if cfg.Archive.Enabled {
		archiver, err := storage.NewS3Archiver(ctx, &cfg.Archive, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to create dead-letter archiver", zap.Error(err))
		}
		if err := archiver.EnsureBucket(ctx); err != nil {
			log.Warn("Dead-letter bucket check failed", zap.String("bucket", archiver.Bucket()), zap.Error(err))
		}
		queueOpts = append(queueOpts, queue.WithArchiver(archiver))
	}

	adapters, err := buildAdapters(cfg)
	if err != nil {
		log.Fatal("Failed to configure platform adapters", zap.Error(err))
	}
	if len(adapters) == 0 {
		log.Fatal("No platform is enabled")
	}

	meter := tel.Meter("github.com/funnelvalue/conversions")
	metrics, err := telemetry.NewDeliveryMetrics(meter)
	if err != nil {
		log.Fatal("Failed to create delivery metrics", zap.Error(err))
	}

	var (
		workers  []*delivery.Worker
		jobQs    []handler.JobQueue
		statQs   []handler.QueueStats
		sources  []telemetry.QueueStatsSource
		enqueuer = map[conversion.Platform]delivery.Enqueuer{}
	)
	for _, adapter := range adapters {
		p := adapter.Platform()
		q := queue.New(delivery.QueueName(p), store, queueOptions(cfg.Queue, p), queueOpts...)
		w := delivery.NewWorker(q, adapter, dir,
			delivery.WithLogger(log),
			delivery.WithLedger(ledger, cfg.Redis.LedgerTTL),
			delivery.WithMetrics(metrics),
			delivery.WithConcurrency(cfg.Queue.Concurrency),
		)
		workers = append(workers, w)
		jobQs = append(jobQs, q)
		statQs = append(statQs, q)
		sources = append(sources, q)
		enqueuer[p] = q
	}

	gauges, err := telemetry.RegisterQueueGauges(meter, log, sources...)
	if err != nil {
		log.Fatal("Failed to register queue gauges", zap.Error(err))
	}

	producer := delivery.NewProducer(enqueuer, cfg.Hashing.DefaultCountryCode, log)

	// Workers
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *delivery.Worker) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				log.Error("Delivery worker stopped with error", zap.String("platform", w.Platform().String()), zap.Error(err))
			}
		}(w)
	}

	// Ops HTTP API
	var srv *http.Server
	if cfg.HTTP.Enabled {
		if cfg.App.Env == "production" {
			gin.SetMode(gin.ReleaseMode)
		}
		engine := router.NewEngine(router.EngineConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			TracingEnabled: tel.IsEnabled(),
			Logger:         log,
		})

		checks := map[string]handler.Checker{
			"database": func(ctx context.Context) error {
				sqlDB, err := db.DB.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
		}
		if pinger, ok := ledger.(interface{ Ping(context.Context) error }); ok {
			checks["redis"] = pinger.Ping
		}

		router.NewRouter(engine, router.WithAPIVersion("v1")).
			RegisterRoot(handler.NewHealthHandler(version, statQs, checks, log)).
			Register(handler.NewJobHandler(jobQs, log)).
			Register(handler.NewSyncLogHandler(syncLogs)).
			Register(handler.NewConversionHandler(producer)).
			Setup()

		srv = &http.Server{
			Addr:         ":" + cfg.App.Port,
			Handler:      engine,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
			IdleTimeout:  cfg.HTTP.IdleTimeout,
		}
		go func() {
			log.Info("Server starting", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("HTTP server failed", zap.Error(err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Server forced to shutdown", zap.Error(err))
		}
	}

	// In-flight jobs finish under their own timeout
	wg.Wait()

	if err := gauges.Unregister(); err != nil {
		log.Warn("Failed to unregister queue gauges", zap.Error(err))
	}
	if err := profiler.Stop(); err != nil {
		log.Warn("Failed to stop profiler", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		baseLog.Error("Failed to shutdown telemetry", zap.Error(err))
	}

	log.Info("Worker exited gracefully")
}

func buildAdapters(cfg *config.Config) ([]adplatform.Adapter, error) {
	var adapters []adplatform.Adapter

	if cfg.Meta.Enabled {
		meta, err := adplatform.NewMetaAdapter(&adplatform.MetaConfig{
			APIBaseURL:     cfg.Meta.APIBaseURL,
			APIVersion:     cfg.Meta.APIVersion,
			TimeoutSeconds: cfg.Meta.TimeoutSeconds,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, meta)
	}

	if cfg.GoogleAds.Enabled {
		gads, err := adplatform.NewGoogleAdsAdapter(&adplatform.GoogleAdsConfig{
			APIBaseURL:        cfg.GoogleAds.APIBaseURL,
			APIVersion:        cfg.GoogleAds.APIVersion,
			DeveloperToken:    cfg.GoogleAds.DeveloperToken,
			OAuthClientID:     cfg.GoogleAds.OAuthClientID,
			OAuthClientSecret: cfg.GoogleAds.OAuthClientSecret,
			TokenURL:          cfg.GoogleAds.TokenURL,
			TimeoutSeconds:    cfg.GoogleAds.TimeoutSeconds,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, gads)
	}

	return adapters, nil
}

func queueOptions(cfg config.QueueConfig, p conversion.Platform) queue.Options {
	backoff := cfg.MetaBackoff
	if p == conversion.PlatformGoogleAds {
		backoff = cfg.GoogleAdsBackoff
	}
	return queue.Options{
		MaxAttempts:         cfg.MaxAttempts,
		BackoffBase:         backoff,
		LeaseDuration:       cfg.LeaseDuration,
		JobTimeout:          cfg.JobTimeout,
		PollInterval:        cfg.PollInterval,
		MaintenanceInterval: cfg.MaintenanceInterval,
		CompletedRetention:  cfg.CompletedRetention,
		CompletedKeep:       cfg.CompletedKeep,
		FailedRetention:     cfg.FailedRetention,
	}
}
