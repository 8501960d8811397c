package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quickdowntime/internal/core/ports"
	"quickdowntime/internal/core/services"
	httphandlers "quickdowntime/internal/handlers/http"
	"quickdowntime/internal/infrastructure/analyzer"
	"quickdowntime/internal/infrastructure/blobstore"
	"quickdowntime/internal/infrastructure/broadcast"
	"quickdowntime/internal/infrastructure/middleware"
	"quickdowntime/internal/infrastructure/monitoring"
	"quickdowntime/internal/infrastructure/queue"
	"quickdowntime/internal/infrastructure/reliability"
	repositories "quickdowntime/internal/infrastructure/repositories"
	"quickdowntime/internal/infrastructure/scheduler"
	wsinfra "quickdowntime/internal/infrastructure/signal"
	"quickdowntime/pkg/config"
	"quickdowntime/pkg/distributed"
	"quickdowntime/pkg/logger"
	"quickdowntime/pkg/storage"
	"quickdowntime/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = config.Locate(config.SearchPaths...)
	}

	cfg, err := config.Load(path)
	if err != nil {
		// Fall back to defaults so a broken file does not keep the kiosk offline.
		cfg = config.DefaultConfig()
	}

	zapLogger, logErr := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	if logErr != nil {
		zapLogger = zap.NewExample()
	}
	defer zapLogger.Sync()

	log := zapLogger.Sugar()
	if err != nil {
		log.Warnw("failed to load config, using defaults", "path", path, "error", err)
	} else if path != "" {
		log.Infow("loaded config", "path", path)
	}

	if err := run(cfg, zapLogger, log); err != nil {
		log.Fatalw("server failed", "error", err)
	}
}

func run(cfg *config.Config, zapLogger *zap.Logger, log *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "quickdowntime-api",
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
		Environment: envOr("QUICKDOWNTIME_ENV", "development"),
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warnw("failed to flush traces", "error", err)
		}
	}()

	// Record store
	repoFactory, err := repositories.NewRepositoryFactory(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := repoFactory.Close(); err != nil {
			log.Errorw("error closing record store", "error", err)
		}
	}()
	downtimes := reliability.FromConfig(repoFactory.DowntimeRepository(), cfg, log)

	// Local side: queue and attachments
	queueStore, err := storage.NewFileStorage(cfg.Queue.Dir)
	if err != nil {
		return err
	}
	pending := queue.NewFileQueue(queueStore, log)
	log.Infow("local queue ready", "dir", queueStore.BasePath())

	blobs, err := blobstore.FromConfig(ctx, cfg)
	if err != nil {
		return err
	}

	verdicts, err := newAnalyzer(cfg, log)
	if err != nil {
		return err
	}

	// Monitoring
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := monitoring.NewPrometheusCollector(registry)

	// Live updates
	hub := broadcast.NewManager(log)
	hub.SetObserver(collector)
	collector.WatchRegistry(hub)

	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.Issuer)

	sockets := wsinfra.NewServer(hub, authService, wsinfra.Options{
		PingInterval:   cfg.WebSocket.PingInterval,
		PongTimeout:    cfg.WebSocket.PongTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		MaxMessageSize: cfg.WebSocket.MaxMessageSizeBytes,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
	}, log)
	sockets.SetObserver(collector)

	// Services
	reporting := services.NewReportingService(downtimes, verdicts, services.ReportingOptions{
		KPICacheTTL: cfg.Reporting.KPICacheTTL,
		AlertLimit:  cfg.Reporting.AlertLimit,
		MaxPageSize: cfg.Reporting.MaxPageSize,
		Machines:    cfg.Reporting.Machines,
	}, log)

	ingestion := services.NewIngestionService(services.IngestionDeps{
		Downtimes: downtimes,
		Analyses:  repoFactory.AnalysisRepository(),
		Queue:     pending,
		Blobs:     blobs,
		Analyzer:  verdicts,
		Notifier:  hub,
		Metrics:   collector,
		Listener:  reporting,
	}, services.IngestionOptions{
		HistoryWindow:   cfg.Ingestion.HistoryWindow,
		AnalyzerTimeout: cfg.Analyzer.Timeout,
		AsyncAnalysis:   cfg.Ingestion.AsyncAnalysis,
		LegacyBroadcast: cfg.Ingestion.LegacyBroadcast,
	}, log)

	checker := monitoring.NewHealthChecker()
	checker.AddRepositoryCheck(downtimes, 2*time.Second)
	checker.AddQueueCheck(pending, 2*time.Second)
	checker.AddCircuitBreakerCheck("record_store_breaker", downtimes)

	// HTTP
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	deps := httphandlers.RouterDeps{
		Auth:           authService,
		Ingestion:      ingestion,
		Reporting:      reporting,
		Health:         checker,
		Sockets:        sockets,
		RateLimit:      middleware.NewHTTPRateLimitMiddleware(cfg),
		SubmitLimit:    middleware.NewSubmissionRateLimit(cfg),
		Tracing:        cfg.Tracing.Enabled,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		AccessLog:      logger.NewContextLogger(zapLogger),
		Logger:         log,
	}
	if cfg.Monitoring.PrometheusEnabled {
		deps.Metrics = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
		log.Info("Prometheus metrics enabled")
	}
	if cfg.Storage.Backend == config.StorageLocal {
		deps.UploadDir = cfg.Storage.UploadDir
		deps.UploadPrefix = cfg.Storage.PublicPrefix
	}
	router := httphandlers.NewRouter(deps)

	// Background queue replay
	var replayLock scheduler.Locker
	if client := repoFactory.RedisClient(); client != nil {
		replayLock = distributed.NewMutex(client, scheduler.ReplayLockKey(cfg.Redis.KeyPrefix), cfg.Sync.LockTTL)
	}
	syncScheduler := scheduler.NewSyncScheduler(ingestion, replayLock, scheduler.Config{
		Interval:   cfg.Sync.Interval,
		RunOnStart: cfg.Sync.RunOnStart,
	}, log)
	go syncScheduler.Start(ctx)
	defer syncScheduler.Stop()

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting QuickDowntime server",
			"address", cfg.Server.Address,
			"record_store", repoFactory.Backend(),
			"storage", cfg.Storage.Backend,
			"analyzer", cfg.Analyzer.Provider,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		log.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}

	syncScheduler.Stop()
	ingestion.Wait()

	log.Info("QuickDowntime server stopped")
	return nil
}

func newAnalyzer(cfg *config.Config, log *zap.SugaredLogger) (ports.Analyzer, error) {
	if cfg.Analyzer.Provider != config.AnalyzerOpenAI {
		log.Infow("using rule-based analyzer")
		return analyzer.NewRulesAnalyzer(), nil
	}

	a, err := analyzer.NewOpenAIAnalyzer(analyzer.OpenAIOptions{
		APIKey:      cfg.Analyzer.APIKey,
		BaseURL:     cfg.Analyzer.BaseURL,
		Model:       cfg.Analyzer.Model,
		Temperature: cfg.Analyzer.Temperature,
		MaxTokens:   cfg.Analyzer.MaxTokens,
		MaxHistory:  cfg.Ingestion.HistoryWindow,
	}, log)
	if err != nil {
		return nil, err
	}
	log.Infow("using LLM analyzer", "model", cfg.Analyzer.Model, "base_url", cfg.Analyzer.BaseURL)
	return a, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
