package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/iotmonitor/ingest-service/internal/alerts"
	"github.com/iotmonitor/ingest-service/internal/api"
	"github.com/iotmonitor/ingest-service/internal/config"
	"github.com/iotmonitor/ingest-service/internal/db"
	"github.com/iotmonitor/ingest-service/internal/metrics"
	"github.com/iotmonitor/ingest-service/internal/mq"
	"github.com/iotmonitor/ingest-service/internal/ratelimit"
	"github.com/iotmonitor/ingest-service/internal/repository"
	"github.com/iotmonitor/ingest-service/internal/service"
	"github.com/iotmonitor/ingest-service/internal/validator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func startHTTPServer(lc fx.Lifecycle, router *mux.Router, cfg *config.Config, logger *zap.Logger) *http.Server {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServicePort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			listener, err := net.Listen("tcp", server.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
			}
			logger.Info("http server listening", zap.String("addr", server.Addr))
			go func() {
				if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server stopped unexpectedly", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := server.Shutdown(ctx); err != nil {
				logger.Error("failed to shut down http server", zap.Error(err))
				return err
			}
			logger.Info("http server stopped gracefully")
			return nil
		},
	})

	return server
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// runMigrations applies schema migrations on start when enabled. Registered
// after the pool so the database ping runs first.
func runMigrations(lc fx.Lifecycle, _ *db.Pool, cfg *config.Config, logger *zap.Logger) {
	if !cfg.Database.MigrateOnStart {
		return
	}
	migrator := db.NewMigrator(cfg.Database.URL, logger)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return migrator.Up()
		},
	})
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideLimiter creates the per-device rate limiter
func ProvideLimiter(cfg *config.Config) ratelimit.Limiter {
	return ratelimit.NewFixedWindowLimiter(
		cfg.RateLimit.MaxRequests,
		time.Duration(cfg.RateLimit.WindowSeconds)*time.Second,
	)
}

// ProvideValidator creates a new validator instance
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(cfg.Validation.TimestampToleranceMinutes)
}

// ProvideEvaluator creates the alert evaluator from configured thresholds
func ProvideEvaluator(cfg *config.Config) *alerts.Evaluator {
	return alerts.NewEvaluator(alerts.Thresholds{
		EnergyHighWatts:      cfg.Alerts.EnergyHighWatts,
		EnergyCriticalWatts:  cfg.Alerts.EnergyCriticalWatts,
		WaterLowPercent:      cfg.Alerts.WaterLowPercent,
		WaterCriticalPercent: cfg.Alerts.WaterCriticalPercent,
		WaterHighPercent:     cfg.Alerts.WaterHighPercent,
		SpikeThreshold:       cfg.Alerts.SpikeThreshold,
		MinDataPoints:        cfg.Alerts.MinDataPoints,
	})
}

// ProvideEventPublisher connects to RabbitMQ. Without RABBITMQ_URL events
// are disabled and a nil publisher is returned.
func ProvideEventPublisher(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (service.EventPublisher, error) {
	if cfg.RabbitMQ.URL == "" {
		logger.Info("RABBITMQ_URL not set, event publishing disabled")
		return nil, nil
	}

	conn, err := mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	publisher, err := mq.NewPublisher(mq.PublisherConfig{
		Connection:        conn,
		Exchange:          cfg.RabbitMQ.EventsExchange,
		ReadingRoutingKey: cfg.RabbitMQ.ReadingRoutingKey,
		AlertRoutingKey:   cfg.RabbitMQ.AlertRoutingKey,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})

	return publisher, nil
}

// ProvideMetrics registers service metrics on a dedicated registry
func ProvideMetrics() (*metrics.Metrics, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return metrics.New(registry), registry
}

// ProvideIngestService creates the ingestion pipeline
func ProvideIngestService(
	repo *repository.Repository,
	limiter ratelimit.Limiter,
	validator *validator.Validator,
	evaluator *alerts.Evaluator,
	publisher service.EventPublisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *service.IngestService {
	return service.NewIngestService(repo, limiter, validator, evaluator, publisher, m, logger)
}

// ProvideReadingService creates the dashboard read service
func ProvideReadingService(repo *repository.Repository) *service.ReadingService {
	return service.NewReadingService(repo)
}

// ProvideRouter builds the HTTP router
func ProvideRouter(
	cfg *config.Config,
	ingest *service.IngestService,
	readings *service.ReadingService,
	repo *repository.Repository,
	m *metrics.Metrics,
	registry *prometheus.Registry,
	logger *zap.Logger,
) *mux.Router {
	return api.NewRouter(api.RouterConfig{
		Ingest:         ingest,
		Readings:       readings,
		Health:         repo,
		Metrics:        m,
		Gatherer:       registry,
		JWTSecret:      cfg.Auth.JWTSecret,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Logger:         logger,
	})
}
