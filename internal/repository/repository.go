package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/iotmonitor/ingest-service/internal/db"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a looked-up row does not exist
var ErrNotFound = errors.New("not found")

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Ping checks database connectivity
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// GetActiveCredential looks up an active API key. Unknown and inactive keys
// both return ErrNotFound.
func (r *Repository) GetActiveCredential(ctx context.Context, apiKey string) (*db.APICredential, error) {
	query := `
		SELECT id, api_key, device_id, is_active, request_count, last_used_at
		FROM device_api_keys
		WHERE api_key = $1 AND is_active = true
	`

	var cred db.APICredential
	err := r.pool.QueryRow(ctx, query, apiKey).Scan(
		&cred.ID,
		&cred.APIKey,
		&cred.DeviceID,
		&cred.IsActive,
		&cred.RequestCount,
		&cred.LastUsedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query api key: %w", err)
	}

	return &cred, nil
}

// GetDevice loads a device with its tank profile
func (r *Repository) GetDevice(ctx context.Context, id uuid.UUID) (*db.Device, error) {
	query := `
		SELECT id, user_id, COALESCE(device_name, ''), device_type, is_active,
			COALESCE(status, 'offline'), last_seen, COALESCE(metadata, '{}'::jsonb),
			water_tank_height_cm::float8, water_tank_radius_cm::float8,
			water_sensor_offset_cm::float8, water_tank_capacity_liters::float8
		FROM devices
		WHERE id = $1
	`

	var (
		device     db.Device
		deviceType string
		status     string
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&device.ID,
		&device.UserID,
		&device.DeviceName,
		&deviceType,
		&device.IsActive,
		&status,
		&device.LastSeen,
		&device.Metadata,
		&device.TankHeightCm,
		&device.TankRadiusCm,
		&device.SensorOffsetCm,
		&device.TankCapacityLiters,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query device: %w", err)
	}

	device.DeviceType = db.DeviceClass(deviceType)
	device.Status = db.DeviceStatus(status)
	return &device, nil
}

// InsertEnergyReading inserts an energy reading and returns its id
func (r *Repository) InsertEnergyReading(ctx context.Context, reading *db.EnergyReading) (int64, error) {
	query := `
		INSERT INTO energy_readings (device_id, timestamp, current_rms, voltage, power_watts)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var id int64
	err := r.pool.QueryRow(ctx, query,
		reading.DeviceID,
		reading.Timestamp,
		reading.CurrentRMS,
		reading.Voltage,
		reading.PowerWatts,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert energy reading: %w", err)
	}

	return id, nil
}

// InsertWaterReading inserts a water reading and returns its id
func (r *Repository) InsertWaterReading(ctx context.Context, reading *db.WaterReading) (int64, error) {
	query := `
		INSERT INTO water_readings (
			device_id, timestamp, distance_cm, water_level_percent, volume_liters,
			tank_height_cm, tank_capacity_liters, tank_radius_cm, sensor_offset_cm,
			computed_with_device_profile
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	var id int64
	err := r.pool.QueryRow(ctx, query,
		reading.DeviceID,
		reading.Timestamp,
		reading.DistanceCm,
		reading.WaterLevelPercent,
		reading.VolumeLiters,
		reading.TankHeightCm,
		reading.TankCapacityLiters,
		reading.TankRadiusCm,
		reading.SensorOffsetCm,
		reading.ComputedWithDeviceProfile,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert water reading: %w", err)
	}

	return id, nil
}

// RecordCredentialUse increments the key's request counter
func (r *Repository) RecordCredentialUse(ctx context.Context, credentialID int64, usedAt time.Time) error {
	query := `
		UPDATE device_api_keys
		SET request_count = request_count + 1, last_used_at = $1
		WHERE id = $2
	`

	if _, err := r.pool.Exec(ctx, query, usedAt, credentialID); err != nil {
		return fmt.Errorf("failed to update api key usage: %w", err)
	}
	return nil
}

// MarkDeviceOnline updates last_seen and sets the device online
func (r *Repository) MarkDeviceOnline(ctx context.Context, deviceID uuid.UUID, seenAt time.Time) error {
	query := `
		UPDATE devices
		SET last_seen = $1, status = $2
		WHERE id = $3
	`

	if _, err := r.pool.Exec(ctx, query, seenAt, string(db.DeviceStatusOnline), deviceID); err != nil {
		return fmt.Errorf("failed to update device last_seen: %w", err)
	}
	return nil
}

// RecentPowerReadings returns the latest power values for spike detection,
// leaving out the reading being evaluated
func (r *Repository) RecentPowerReadings(ctx context.Context, deviceID uuid.UUID, excludeReadingID int64, limit int) ([]float64, error) {
	query := `
		SELECT power_watts
		FROM energy_readings
		WHERE device_id = $1 AND id <> $2
		ORDER BY timestamp DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, deviceID, excludeReadingID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent readings: %w", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var value float64
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to scan value: %w", err)
		}
		values = append(values, value)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return values, nil
}

// HasUnresolvedAlert reports whether the device already has an open alert of the type
func (r *Repository) HasUnresolvedAlert(ctx context.Context, deviceID uuid.UUID, alertType string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM alerts
			WHERE device_id = $1 AND alert_type = $2 AND is_resolved = false
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, deviceID, alertType).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to query open alerts: %w", err)
	}
	return exists, nil
}

// InsertAlert inserts an alert and returns its id
func (r *Repository) InsertAlert(ctx context.Context, alert *db.Alert) (int64, error) {
	query := `
		INSERT INTO alerts (user_id, device_id, alert_type, message, severity, is_read, is_resolved, created_at, metadata)
		VALUES ($1, $2, $3, $4, $5, false, false, $6, $7)
		RETURNING id
	`

	var id int64
	err := r.pool.QueryRow(ctx, query,
		alert.UserID,
		alert.DeviceID,
		alert.AlertType,
		alert.Message,
		alert.Severity,
		alert.CreatedAt,
		alert.Metadata,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert alert: %w", err)
	}

	return id, nil
}

// ListEnergyReadings returns a device's readings, newest first
func (r *Repository) ListEnergyReadings(ctx context.Context, deviceID uuid.UUID, limit int) ([]db.EnergyReading, error) {
	query := `
		SELECT id, device_id, timestamp, current_rms, voltage, power_watts
		FROM energy_readings
		WHERE device_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query energy readings: %w", err)
	}
	defer rows.Close()

	readings := []db.EnergyReading{}
	for rows.Next() {
		var reading db.EnergyReading
		if err := rows.Scan(
			&reading.ID,
			&reading.DeviceID,
			&reading.Timestamp,
			&reading.CurrentRMS,
			&reading.Voltage,
			&reading.PowerWatts,
		); err != nil {
			return nil, fmt.Errorf("failed to scan energy reading: %w", err)
		}
		readings = append(readings, reading)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return readings, nil
}

// ListWaterReadings returns a device's readings, newest first
func (r *Repository) ListWaterReadings(ctx context.Context, deviceID uuid.UUID, limit int) ([]db.WaterReading, error) {
	query := `
		SELECT id, device_id, timestamp, distance_cm, water_level_percent, volume_liters,
			tank_height_cm, tank_capacity_liters, tank_radius_cm, sensor_offset_cm,
			COALESCE(computed_with_device_profile, false)
		FROM water_readings
		WHERE device_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query water readings: %w", err)
	}
	defer rows.Close()

	readings := []db.WaterReading{}
	for rows.Next() {
		var reading db.WaterReading
		if err := rows.Scan(
			&reading.ID,
			&reading.DeviceID,
			&reading.Timestamp,
			&reading.DistanceCm,
			&reading.WaterLevelPercent,
			&reading.VolumeLiters,
			&reading.TankHeightCm,
			&reading.TankCapacityLiters,
			&reading.TankRadiusCm,
			&reading.SensorOffsetCm,
			&reading.ComputedWithDeviceProfile,
		); err != nil {
			return nil, fmt.Errorf("failed to scan water reading: %w", err)
		}
		readings = append(readings, reading)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return readings, nil
}
