package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "iot_ingest"

// Ingest results used as the "result" label
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Metrics collects ingestion and HTTP metrics
type Metrics struct {
	ingestTotal       *prometheus.CounterVec
	ingestLatency     *prometheus.HistogramVec
	rejectionsTotal   *prometheus.CounterVec
	rateLimitedTotal  *prometheus.CounterVec
	sideEffectErrors  *prometheus.CounterVec
	alertsRaisedTotal *prometheus.CounterVec

	requestCounter   *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
}

// New registers all collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ingestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "readings_total",
				Help:      "Total ingestion requests by device class and result",
			},
			[]string{"device_class", "result"},
		),
		ingestLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingest_duration_seconds",
				Help:      "Ingestion pipeline latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"device_class", "result"},
		),
		rejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejections_total",
				Help:      "Rejected ingestion requests by kind",
			},
			[]string{"kind"},
		),
		rateLimitedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Requests denied by the per-device rate limiter",
			},
			[]string{"device_class"},
		),
		sideEffectErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "side_effect_errors_total",
				Help:      "Failed best-effort updates after a reading was stored",
			},
			[]string{"operation"},
		),
		alertsRaisedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_raised_total",
				Help:      "Alerts raised by type and severity",
			},
			[]string{"alert_type", "severity"},
		),
		requestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by method, route, and status",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		requestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),
	}
}

// ObserveIngest records the outcome of one ingestion request
func (m *Metrics) ObserveIngest(deviceClass, result string, duration time.Duration) {
	if deviceClass == "" {
		deviceClass = "unknown"
	}
	m.ingestTotal.WithLabelValues(deviceClass, result).Inc()
	m.ingestLatency.WithLabelValues(deviceClass, result).Observe(duration.Seconds())
}

// IncRejection counts a rejection by kind
func (m *Metrics) IncRejection(kind string) {
	m.rejectionsTotal.WithLabelValues(kind).Inc()
}

// IncRateLimited counts a rate limiter denial
func (m *Metrics) IncRateLimited(deviceClass string) {
	m.rateLimitedTotal.WithLabelValues(deviceClass).Inc()
}

// IncSideEffectError counts a failed best-effort update
func (m *Metrics) IncSideEffectError(operation string) {
	m.sideEffectErrors.WithLabelValues(operation).Inc()
}

// IncAlertRaised counts a raised alert
func (m *Metrics) IncAlertRaised(alertType, severity string) {
	m.alertsRaisedTotal.WithLabelValues(alertType, severity).Inc()
}

// CollectMetrics is HTTP middleware recording request counts and latency.
// The route label is the mux path template so ids do not explode cardinality.
func (m *Metrics) CollectMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		m.requestsInFlight.Inc()
		defer m.requestsInFlight.Dec()

		respWriter := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		next.ServeHTTP(respWriter, r)

		m.requestCounter.WithLabelValues(r.Method, route, strconv.Itoa(respWriter.status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type metricsResponseWriter struct {
	http.ResponseWriter
	status int
}

func (mrw *metricsResponseWriter) WriteHeader(code int) {
	mrw.status = code
	mrw.ResponseWriter.WriteHeader(code)
}
