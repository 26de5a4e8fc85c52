package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iotmonitor/ingest-service/internal/alerts"
	"github.com/iotmonitor/ingest-service/internal/db"
	"github.com/iotmonitor/ingest-service/internal/logging"
	"github.com/iotmonitor/ingest-service/internal/metrics"
	"github.com/iotmonitor/ingest-service/internal/mq"
	"github.com/iotmonitor/ingest-service/internal/ratelimit"
	"github.com/iotmonitor/ingest-service/internal/repository"
	"github.com/iotmonitor/ingest-service/internal/validator"
	"go.uber.org/zap"
)

const (
	bearerPrefix = "Bearer "
	apiKeyPrefix = "iot_"

	// readings considered for spike detection
	spikeHistorySize = 10
)

// Store is the persistence the ingest pipeline needs
type Store interface {
	GetActiveCredential(ctx context.Context, apiKey string) (*db.APICredential, error)
	GetDevice(ctx context.Context, id uuid.UUID) (*db.Device, error)
	InsertEnergyReading(ctx context.Context, reading *db.EnergyReading) (int64, error)
	InsertWaterReading(ctx context.Context, reading *db.WaterReading) (int64, error)
	RecordCredentialUse(ctx context.Context, credentialID int64, usedAt time.Time) error
	MarkDeviceOnline(ctx context.Context, deviceID uuid.UUID, seenAt time.Time) error
	RecentPowerReadings(ctx context.Context, deviceID uuid.UUID, excludeReadingID int64, limit int) ([]float64, error)
	HasUnresolvedAlert(ctx context.Context, deviceID uuid.UUID, alertType string) (bool, error)
	InsertAlert(ctx context.Context, alert *db.Alert) (int64, error)
}

// EventPublisher fans out ingestion events. A nil publisher disables events.
type EventPublisher interface {
	PublishReading(ctx context.Context, event mq.ReadingEvent) error
	PublishAlert(ctx context.Context, event mq.AlertEvent) error
}

var _ Store = (*repository.Repository)(nil)
var _ EventPublisher = (*mq.Publisher)(nil)

// IngestRequest is the transport independent view of an ingestion call
type IngestRequest struct {
	Authorization string
	DeviceType    string
	Body          []byte
}

// IngestResult describes an accepted reading
type IngestResult struct {
	ReadingID int64
	Class     db.DeviceClass
	Message   string
	RateLimit ratelimit.Decision
}

// IngestService authenticates, rate limits, validates and stores device readings
type IngestService struct {
	store     Store
	limiter   ratelimit.Limiter
	validator *validator.Validator
	evaluator *alerts.Evaluator
	publisher EventPublisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	nowFn     func() time.Time
}

// NewIngestService creates a new ingest service
func NewIngestService(
	store Store,
	limiter ratelimit.Limiter,
	validator *validator.Validator,
	evaluator *alerts.Evaluator,
	publisher EventPublisher,
	metrics *metrics.Metrics,
	logger *zap.Logger,
) *IngestService {
	return &IngestService{
		store:     store,
		limiter:   limiter,
		validator: validator,
		evaluator: evaluator,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		nowFn:     time.Now,
	}
}

// WithClock replaces the service clock, for tests
func (s *IngestService) WithClock(nowFn func() time.Time) *IngestService {
	s.nowFn = nowFn
	return s
}

// Ingest runs one reading through the pipeline. Rejections are returned as
// *IngestError.
func (s *IngestService) Ingest(ctx context.Context, req IngestRequest, logger *zap.Logger) (*IngestResult, error) {
	if logger == nil {
		logger = s.logger
	}
	started := s.nowFn()
	class, _ := db.ParseDeviceClass(req.DeviceType)

	result, err := s.ingest(ctx, req, logger)
	if s.metrics != nil {
		outcome := metrics.ResultAccepted
		var ingestErr *IngestError
		if errors.As(err, &ingestErr) {
			outcome = metrics.ResultRejected
			if ingestErr.Status >= http.StatusInternalServerError {
				outcome = metrics.ResultError
			}
			s.metrics.IncRejection(string(ingestErr.Kind))
		}
		s.metrics.ObserveIngest(string(class), outcome, s.nowFn().Sub(started))
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *IngestService) ingest(ctx context.Context, req IngestRequest, logger *zap.Logger) (*IngestResult, error) {
	if !strings.HasPrefix(req.Authorization, bearerPrefix+apiKeyPrefix) {
		logger.Warn("rejected request without device api key")
		return nil, authError("Invalid or missing API key")
	}
	apiKey := strings.TrimPrefix(req.Authorization, bearerPrefix)

	class, ok := db.ParseDeviceClass(req.DeviceType)
	if !ok {
		logger.Warn("rejected request with invalid device type", zap.String("device_type", req.DeviceType))
		return nil, badRequest(KindBadRequest, "Invalid or missing X-Device-Type header", nil)
	}

	credential, err := s.store.GetActiveCredential(ctx, apiKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Warn("rejected unknown or inactive api key")
			return nil, authError("Invalid or inactive API key")
		}
		logger.Error("failed to look up api key", zap.Error(err))
		return nil, internalError(KindInternal, "Failed to verify API key", err)
	}

	device, err := s.store.GetDevice(ctx, credential.DeviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Warn("api key bound to missing device", zap.String("device_id", credential.DeviceID.String()))
			return nil, &IngestError{Kind: KindDeviceNotFound, Status: http.StatusNotFound, Message: "Device not found or inactive"}
		}
		logger.Error("failed to load device", zap.Error(err))
		return nil, internalError(KindInternal, "Failed to load device", err)
	}

	logger = logging.WithDevice(logger, device.ID.String(), string(class))

	if !classAccepted(device.DeviceType, class) {
		logger.Warn("device type mismatch", zap.String("registered_type", string(device.DeviceType)))
		return nil, badRequest(KindDeviceTypeMismatch, "Device type mismatch: expected "+string(device.DeviceType), nil)
	}

	decision := s.limiter.Check(ratelimit.Key(device.ID.String(), string(class)))
	if !decision.Allowed {
		if s.metrics != nil {
			s.metrics.IncRateLimited(string(class))
		}
		logger.Warn("rate limit exceeded", zap.Int("retry_after", decision.RetryAfterSeconds()))
		return nil, &IngestError{
			Kind:      KindRateLimited,
			Status:    http.StatusTooManyRequests,
			Message:   "Rate limit exceeded",
			RateLimit: &decision,
		}
	}

	receivedAt := s.nowFn()
	payload, err := s.validator.Validate(class, req.Body, receivedAt)
	if err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			logger.Warn("payload rejected",
				zap.String("reason", validationErr.Message),
				zap.Any("details", validationErr.Details),
			)
			var details any
			if len(validationErr.Details) > 0 {
				details = validationErr.Details
			}
			return nil, badRequest(KindValidation, validationErr.Message, details)
		}
		return nil, badRequest(KindValidation, err.Error(), nil)
	}

	var (
		readingID int64
		event     mq.ReadingEvent
		message   string
	)
	switch class {
	case db.DeviceClassEnergy:
		reading := &db.EnergyReading{
			DeviceID:   device.ID,
			Timestamp:  payload.Timestamp,
			CurrentRMS: payload.Energy.CurrentRMS,
			Voltage:    payload.Energy.Voltage,
			PowerWatts: payload.Energy.PowerWatts,
		}
		readingID, err = s.store.InsertEnergyReading(ctx, reading)
		event = energyEvent(reading)
		message = "Energy reading recorded successfully"
	default:
		reading := buildWaterReading(device, payload.Water, device.ID, payload.Timestamp)
		readingID, err = s.store.InsertWaterReading(ctx, reading)
		event = waterEvent(reading)
		message = "Water reading recorded successfully"
	}
	if err != nil {
		logger.Error("failed to persist reading", zap.Error(err))
		return nil, internalError(KindPersistence, "Database insertion failed", err)
	}

	logger.Info("reading persisted",
		zap.Int64("reading_id", readingID),
		zap.Int("remaining", decision.Remaining),
	)

	// The reading is stored; nothing below may fail the request.
	sideCtx := context.WithoutCancel(ctx)
	s.touch(sideCtx, credential, device, receivedAt, logger)

	event.ReadingID = readingID
	if payload.Metadata != nil {
		event.Metadata = payload.Metadata
		logger.Debug("device metadata",
			zap.String("firmware_version", payload.Metadata.FirmwareVersion()),
		)
	}
	s.publishReading(sideCtx, event, logger)
	s.raiseAlerts(sideCtx, device, class, readingID, event.Values, receivedAt, logger)

	return &IngestResult{
		ReadingID: readingID,
		Class:     class,
		Message:   message,
		RateLimit: decision,
	}, nil
}

// classAccepted reports whether a device registered as registered may submit
// readings declared as requested. Energy devices may also report water.
func classAccepted(registered, requested db.DeviceClass) bool {
	if registered == requested {
		return true
	}
	return registered == db.DeviceClassEnergy && requested == db.DeviceClassWater
}

// touch records key usage and device liveness
func (s *IngestService) touch(ctx context.Context, credential *db.APICredential, device *db.Device, at time.Time, logger *zap.Logger) {
	if err := s.store.RecordCredentialUse(ctx, credential.ID, at); err != nil {
		s.sideEffectFailed("record_credential_use", err, logger)
	}
	if err := s.store.MarkDeviceOnline(ctx, device.ID, at); err != nil {
		s.sideEffectFailed("mark_device_online", err, logger)
	}
}

func (s *IngestService) publishReading(ctx context.Context, event mq.ReadingEvent, logger *zap.Logger) {
	if s.publisher == nil {
		return
	}
	event.EventID = uuid.New().String()
	if err := s.publisher.PublishReading(ctx, event); err != nil {
		s.sideEffectFailed("publish_reading", err, logger)
	}
}

func (s *IngestService) raiseAlerts(
	ctx context.Context,
	device *db.Device,
	class db.DeviceClass,
	readingID int64,
	values map[string]float64,
	at time.Time,
	logger *zap.Logger,
) {
	if s.evaluator == nil {
		return
	}

	var breaches []alerts.Alert
	switch class {
	case db.DeviceClassEnergy:
		history, err := s.store.RecentPowerReadings(ctx, device.ID, readingID, spikeHistorySize)
		if err != nil {
			// thresholds still apply without history
			s.sideEffectFailed("load_power_history", err, logger)
		}
		breaches = s.evaluator.EvaluateEnergy(values["power_watts"], history)
	case db.DeviceClassWater:
		breaches = s.evaluator.EvaluateWater(values["water_level_percent"])
	}

	for _, breach := range breaches {
		open, err := s.store.HasUnresolvedAlert(ctx, device.ID, breach.Type)
		if err != nil {
			s.sideEffectFailed("check_open_alert", err, logger)
			continue
		}
		if open {
			logger.Debug("alert already open", zap.String("alert_type", breach.Type))
			continue
		}

		alert := &db.Alert{
			UserID:    device.UserID,
			DeviceID:  device.ID,
			AlertType: breach.Type,
			Message:   breach.Message,
			Severity:  breach.Severity,
			CreatedAt: at,
			Metadata: map[string]any{
				"value":      breach.Value,
				"reading_id": readingID,
			},
		}
		alertID, err := s.store.InsertAlert(ctx, alert)
		if err != nil {
			s.sideEffectFailed("insert_alert", err, logger)
			continue
		}
		if s.metrics != nil {
			s.metrics.IncAlertRaised(breach.Type, breach.Severity)
		}
		logger.Info("alert raised",
			zap.Int64("alert_id", alertID),
			zap.String("alert_type", breach.Type),
			zap.String("severity", breach.Severity),
		)

		if s.publisher == nil {
			continue
		}
		err = s.publisher.PublishAlert(ctx, mq.AlertEvent{
			EventID:   uuid.New().String(),
			AlertID:   alertID,
			UserID:    device.UserID.String(),
			DeviceID:  device.ID.String(),
			AlertType: breach.Type,
			Severity:  breach.Severity,
			Message:   breach.Message,
			Value:     breach.Value,
			RaisedAt:  at.UTC().Format(time.RFC3339),
		})
		if err != nil {
			s.sideEffectFailed("publish_alert", err, logger)
		}
	}
}

func (s *IngestService) sideEffectFailed(operation string, err error, logger *zap.Logger) {
	if s.metrics != nil {
		s.metrics.IncSideEffectError(operation)
	}
	logger.Warn("post-write side effect failed",
		zap.String("operation", operation),
		zap.Error(err),
	)
}

func energyEvent(r *db.EnergyReading) mq.ReadingEvent {
	return mq.ReadingEvent{
		DeviceID:    r.DeviceID.String(),
		DeviceClass: string(db.DeviceClassEnergy),
		Timestamp:   r.Timestamp.UTC().Format(time.RFC3339),
		Values: map[string]float64{
			"current_rms": r.CurrentRMS,
			"voltage":     r.Voltage,
			"power_watts": r.PowerWatts,
		},
	}
}

func waterEvent(r *db.WaterReading) mq.ReadingEvent {
	return mq.ReadingEvent{
		DeviceID:    r.DeviceID.String(),
		DeviceClass: string(db.DeviceClassWater),
		Timestamp:   r.Timestamp.UTC().Format(time.RFC3339),
		Values: map[string]float64{
			"distance_cm":          r.DistanceCm,
			"water_level_percent":  r.WaterLevelPercent,
			"volume_liters":        r.VolumeLiters,
			"tank_height_cm":       r.TankHeightCm,
			"tank_capacity_liters": r.TankCapacityLiters,
		},
		ComputedWithDeviceProfile: r.ComputedWithDeviceProfile,
	}
}
