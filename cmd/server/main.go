package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/banking/fraud-detection-service/internal/alerts"
	"github.com/banking/fraud-detection-service/internal/api"
	"github.com/banking/fraud-detection-service/internal/config"
	"github.com/banking/fraud-detection-service/internal/evaluator"
	"github.com/banking/fraud-detection-service/internal/history"
	"github.com/banking/fraud-detection-service/internal/pkg/logger"
	"github.com/banking/fraud-detection-service/internal/pkg/telemetry"
	"github.com/banking/fraud-detection-service/internal/storage"
)

const (
	monitorWindowEntries = 10000
	monitorWindowAge     = 24 * time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Telemetry.ServiceName, cfg.Telemetry.Environment, cfg.Telemetry.Environment != "production")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	// Tracing
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Environment, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.SamplingRatio)
		if err != nil {
			log.Fatal("failed to initialize telemetry", logger.ErrorField(err))
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Warn("telemetry shutdown failed", logger.ErrorField(err))
			}
		}()
	}

	// History stores: Redis-backed when enabled, per-process memory otherwise
	monitorStore, anomalyStore, deviceStore := buildHistoryStores(cfg, log)

	// Evaluators and orchestrator
	profiler := evaluator.NewBehavioralProfiler(log)
	orchestrator := evaluator.NewOrchestrator(evaluator.OrchestratorConfig{
		Weights:           cfg.Evaluation.Weights,
		DefaultWeight:     cfg.Evaluation.DefaultWeight,
		ShortCircuitScore: cfg.Evaluation.ShortCircuitScore,
		BlockThreshold:    cfg.Evaluation.BlockThreshold,
		ReviewThreshold:   cfg.Evaluation.ReviewThreshold,
		MaxLatency:        cfg.Evaluation.MaxEvaluationLatency,
	}, log)
	orchestrator.Register(evaluator.NewTransactionMonitor(monitorStore, log))
	orchestrator.Register(profiler)
	orchestrator.Register(evaluator.NewAnomalyDetector(anomalyStore, log))
	orchestrator.Register(evaluator.NewDeviceFingerprinter(deviceStore, log))
	orchestrator.Register(evaluator.NewIdentityVerifier(log))

	// Alert publishing
	var publisher *alerts.Publisher
	if cfg.Kafka.Enabled {
		publisher, err = alerts.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.AlertsTopic, log)
		if err != nil {
			log.Fatal("failed to create alert publisher", logger.ErrorField(err))
		}
		defer publisher.Close()
	}

	// Assessment persistence
	var repo *storage.AssessmentRepository
	if cfg.Database.Enabled {
		pool, err := pgxpool.New(ctx, postgresDSN(cfg))
		if err != nil {
			log.Fatal("failed to connect to postgres", logger.ErrorField(err))
		}
		defer pool.Close()
		repo = storage.NewAssessmentRepository(pool, log)
	}

	handler := api.NewHandler(orchestrator, profiler, publisher, repo, log)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Secure())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%d", cfg.Server.MaxRequestSize)))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Security.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
	}))
	e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
		rate.Limit(float64(cfg.Security.RateLimitPerMinute) / 60.0),
	)))

	api.RegisterRoutes(e, handler)

	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout
	e.Server.IdleTimeout = cfg.Server.IdleTimeout

	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		if err := e.Start(serverAddr); err != nil && err != http.ErrServerClosed {
			log.Fatal("server stopped", logger.ErrorField(err))
		}
	}()

	log.Info("fraud detection service started",
		logger.StringField("addr", serverAddr),
		logger.IntField("evaluators", len(orchestrator.EvaluatorNames())),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Fatal("shutdown failed", logger.ErrorField(err))
	}

	log.Info("server exited")
}

// buildHistoryStores wires the per-evaluator rolling windows. The monitor
// and anomaly windows have different bounds (time-based vs count-based), so
// each evaluator gets its own store even when sharing one Redis instance.
func buildHistoryStores(cfg *config.Config, log *logger.Logger) (monitor, anomaly, device history.Store) {
	if !cfg.Redis.Enabled {
		return history.NewMemoryStore(monitorWindowEntries, monitorWindowAge),
			history.NewMemoryStore(evaluator.AnomalyWindowSize, 0),
			history.NewMemoryStore(monitorWindowEntries, monitorWindowAge)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	return history.NewRedisStore(client, "monitor", monitorWindowEntries, monitorWindowAge, cfg.Redis.HistoryTTL, log),
		history.NewRedisStore(client, "anomaly", evaluator.AnomalyWindowSize, 0, cfg.Redis.HistoryTTL, log),
		history.NewRedisStore(client, "device", monitorWindowEntries, monitorWindowAge, cfg.Redis.HistoryTTL, log)
}

func postgresDSN(cfg *config.Config) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Database,
		cfg.Database.SSLMode,
		cfg.Database.MaxConns,
	)
}
