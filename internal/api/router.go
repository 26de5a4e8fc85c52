package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/iotmonitor/ingest-service/internal/auth"
	"github.com/iotmonitor/ingest-service/internal/metrics"
	"github.com/iotmonitor/ingest-service/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const healthTimeout = 2 * time.Second

// Pinger reports store reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterConfig holds the handlers' dependencies. Readings and JWTSecret are
// optional; without both the dashboard routes are not registered.
type RouterConfig struct {
	Ingest         *service.IngestService
	Readings       *service.ReadingService
	Health         Pinger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	JWTSecret      string
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter builds the HTTP routes of the service
func NewRouter(cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()

	corsMiddleware := &cors{allowedOrigins: cfg.AllowedOrigins}
	loggingMiddleware := &requestLogging{logger: cfg.Logger}

	// preflight for every path; answered by the CORS middleware
	router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	router.Use(corsMiddleware.handle)
	router.Use(loggingMiddleware.handle)
	if cfg.Metrics != nil {
		router.Use(cfg.Metrics.CollectMetrics)
	}

	router.HandleFunc("/health", healthHandler(cfg.Health, cfg.Logger)).Methods(http.MethodGet)
	if cfg.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	ingest := &ingestHandler{svc: cfg.Ingest, logger: cfg.Logger}
	router.Handle("/api/v1/ingest", ingest).Methods(http.MethodPost)
	// path used by deployed firmware
	router.Handle("/functions/v1/iot-ingest", ingest).Methods(http.MethodPost)

	if cfg.Readings != nil && cfg.JWTSecret != "" {
		readings := &readingsHandler{svc: cfg.Readings, logger: cfg.Logger}
		authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), func(w http.ResponseWriter, r *http.Request, err error) {
			logger := requestLogger(r, cfg.Logger)
			logger.Warn("rejected dashboard request", zap.Error(err))
			writeError(w, logger, http.StatusUnauthorized, "Unauthorized")
		})

		dashboard := router.PathPrefix("/api/v1/devices").Subrouter()
		dashboard.Use(authMiddleware.Wrap)
		dashboard.HandleFunc("/{deviceID}/readings/{class}", readings.list).Methods(http.MethodGet)
		dashboard.HandleFunc("/{deviceID}/readings/{class}/latest", readings.latest).Methods(http.MethodGet)
	} else {
		cfg.Logger.Info("dashboard read API disabled, AUTH_JWT_SECRET not set")
	}

	return router
}

func healthHandler(pinger Pinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pinger != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := pinger.Ping(ctx); err != nil {
				requestLogger(r, logger).Warn("health check failed", zap.Error(err))
				writeJSON(w, logger, http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
				return
			}
		}
		writeJSON(w, logger, http.StatusOK, map[string]string{"status": "healthy"})
	}
}
