package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/config"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/consent"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/dispatch"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/dlqworker"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/funnel"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/healthcheck"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/ingestion"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/ingestion/handler"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/jetstream"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/model"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/observer"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/provider"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/quiethours"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/scheduler"
	"github.com/ceremoniacircle/myxelium-backend-sub000/internal/storage"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/logger"
	"github.com/ceremoniacircle/myxelium-backend-sub000/pkg/utils"
)

func main() {
	// Set timezone to UTC; recipient timezones are resolved per message
	time.Local = time.UTC

	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metricsEnabled := cfg.Metrics.Enabled
	observer.InitMetrics(metricsEnabled)

	logger.Log.Info("Starting Funnel Orchestrator",
		zap.String("environment", cfg.Environment),
		zap.String("nats_url", cfg.NATS.URL),
	)

	// Initialize repositories
	postgresRepo, err := initPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	// Initialize JetStream client
	jsClient, err := initJetStreamClient(cfg.NATS.URL)
	if err != nil {
		logger.Log.Fatal("Failed to initialize JetStream client", zap.Error(err))
	}

	// Messaging pipeline: consent gate, quiet hours, providers, global rate
	// ceiling, and the dispatcher that ties them together.
	gate := consent.NewGate(postgresRepo)
	quiet := quiethours.NewScheduler(cfg.QuietHours)
	emailSender := provider.NewHTTPEmailSender(cfg.Providers.Email)
	smsSender := provider.NewHTTPSMSSender(cfg.Providers.SMS)
	limiter := rate.NewLimiter(rate.Limit(float64(cfg.RateLimit.PerMinute)/60.0), cfg.RateLimit.Burst)

	dispatcher := dispatch.NewDispatcher(
		gate, quiet,
		postgresRepo, postgresRepo, postgresRepo,
		emailSender, smsSender,
		limiter, cfg.QuietHours.DefaultTimezone,
	)

	// Funnel engine: guard, step executor, and the durable step scheduler.
	guard := funnel.NewGuard(postgresRepo)
	executor := funnel.NewExecutor(dispatcher, guard, postgresRepo)
	stepScheduler := scheduler.New(postgresRepo, executor, cfg.Scheduler, logger.Log)

	preEvent := funnel.NewPreEventFunnel(
		postgresRepo, postgresRepo, postgresRepo, postgresRepo,
		stepScheduler,
		cfg.Funnel.Reminder24hOffset, cfg.Funnel.Reminder1hOffset,
		cfg.Scheduler.StepMaxRetry,
	)

	postEvent, err := funnel.NewPostEventFunnel(
		cfg.WorkerPools.FanOut, cfg.Funnel,
		postgresRepo, postgresRepo, postgresRepo,
		cfg.Scheduler.StepMaxRetry,
		logger.Log,
	)
	if err != nil {
		logger.Log.Fatal("Failed to initialize post-event funnel", zap.Error(err))
	}

	// Trigger ingestion: route each trigger type to its handler.
	triggerHandler := handler.NewTriggerHandler(preEvent, postEvent, dispatcher)
	router := ingestion.NewRouter()
	router.Register(model.V1EventEnrolled, triggerHandler.HandleTrigger)
	router.Register(model.V1EventCompleted, triggerHandler.HandleTrigger)
	router.Register(model.V1MessageSend, triggerHandler.HandleTrigger)

	consumer := ingestion.NewTriggerConsumer(jsClient, router, cfg.NATS.Triggers, cfg.NATS.DLQSubject)
	if err := consumer.Setup(); err != nil {
		logger.Log.Fatal("Failed to set up trigger consumer", zap.Error(err))
	}

	dlqWorker, err := dlqworker.NewWorker(cfg, logger.Log, jsClient, router, postgresRepo)
	if err != nil {
		logger.Log.Fatal("Failed to initialize DLQ Worker", zap.Error(err))
	}

	// Health check server, with /metrics when enabled
	healthServer := healthcheck.NewServer(strconv.Itoa(cfg.Server.Port), logger.Log)
	healthServer.RegisterReadinessCheck("postgres", postgresRepo.Ping)
	healthServer.RegisterReadinessCheck("nats", func(ctx context.Context) error {
		if !jsClient.NatsConn().IsConnected() {
			return errors.New("nats connection down")
		}
		return nil
	})
	if metricsEnabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Server.Port))
	} else {
		logger.Log.Info("Metrics endpoint disabled", zap.String("environment", cfg.Environment))
	}
	healthServer.Start()

	logger.Log.Info("Health check endpoints available",
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("readiness", fmt.Sprintf("http://localhost:%d/ready", cfg.Server.Port)),
	)

	if err := consumer.Start(); err != nil {
		logger.Log.Fatal("Failed to start trigger consumer", zap.Error(err))
	}

	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()
	sigChan := make(chan os.Signal, 1)

	// Step scheduler poll loop
	utils.SafeGo(func() {
		stepScheduler.Run(mainCtx)
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("Panic in step scheduler loop",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		mainCancel()
	})

	// DLQ worker loop
	go func() {
		if err := dlqWorker.Start(mainCtx); err != nil {
			logger.Log.Error("DLQ Worker failed to start or encountered an error, initiating shutdown...", zap.Error(err))
			mainCancel()
			select {
			case sigChan <- syscall.SIGTERM:
			default:
				logger.Log.Warn("Could not send SIGTERM to signal channel immediately")
			}
		}
	}()

	// Wait for termination signal
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	mainCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", 30*time.Second))

	var wg sync.WaitGroup
	wg.Add(5)

	// Stop the trigger consumer
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping trigger consumer")
		start := time.Now()
		consumer.Stop()
		logger.Log.Info("[shutdown] Trigger consumer stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping trigger consumer",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Stop the DLQ worker
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping DLQ worker")
		start := time.Now()
		dlqWorker.Stop()
		logger.Log.Info("[shutdown] DLQ worker stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping DLQ worker",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Stop the post-event fan-out pool
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping post-event fan-out pool")
		start := time.Now()
		postEvent.Stop()
		logger.Log.Info("[shutdown] Post-event fan-out pool stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping post-event fan-out pool",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Stop the health check server
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping health check server")
		start := time.Now()
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping health check server", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] Health check server stopped",
				zap.Duration("duration", time.Since(start)))
		}
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping health check server",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Close database and NATS connections
	utils.SafeGo(func() {
		defer wg.Done()

		logger.Log.Info("[shutdown] Closing PostgreSQL connection")
		pgStart := time.Now()
		if err := postgresRepo.Close(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Failed to close PostgreSQL connection", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] PostgreSQL connection closed",
				zap.Duration("duration", time.Since(pgStart)))
		}

		logger.Log.Info("[shutdown] Closing JetStream connection")
		jsStart := time.Now()
		jsClient.Close()
		logger.Log.Info("[shutdown] JetStream connection closed",
			zap.Duration("duration", time.Since(jsStart)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while closing connections",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}

	logger.Log.Info("Funnel Orchestrator shutdown complete")
}

// initPostgresRepo initializes the PostgreSQL repository
func initPostgresRepo(dsn string, autoMigrate bool) (*storage.PostgresRepo, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	repo, err := storage.NewPostgresRepo(dsn, autoMigrate)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}

	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}

// initJetStreamClient initializes the JetStream client
func initJetStreamClient(url string) (*jetstream.Client, error) {
	client, err := jetstream.NewClient(url)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream client: %w", err)
	}

	logger.Log.Info("Initialized JetStream client", zap.String("url", url))
	return client, nil
}
