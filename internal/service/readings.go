package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/iotmonitor/ingest-service/internal/db"
	"github.com/iotmonitor/ingest-service/internal/repository"
)

const (
	DefaultReadingsLimit = 50
	MaxReadingsLimit     = 500
)

var (
	// ErrDeviceNotFound is returned when the device is absent or owned by someone else
	ErrDeviceNotFound = errors.New("device not found")
	// ErrInvalidLimit is returned for a limit outside [1, MaxReadingsLimit]
	ErrInvalidLimit = errors.New("invalid limit")
)

// ReadingStore is the read side used by dashboards
type ReadingStore interface {
	GetDevice(ctx context.Context, id uuid.UUID) (*db.Device, error)
	ListEnergyReadings(ctx context.Context, deviceID uuid.UUID, limit int) ([]db.EnergyReading, error)
	ListWaterReadings(ctx context.Context, deviceID uuid.UUID, limit int) ([]db.WaterReading, error)
}

var _ ReadingStore = (*repository.Repository)(nil)

// Readings holds one page of readings. Only the slice matching Class is set.
type Readings struct {
	Class  db.DeviceClass
	Energy []db.EnergyReading
	Water  []db.WaterReading
}

// Len returns the number of readings in the page
func (r *Readings) Len() int {
	if r.Class == db.DeviceClassEnergy {
		return len(r.Energy)
	}
	return len(r.Water)
}

// ReadingService serves stored readings to device owners
type ReadingService struct {
	store ReadingStore
}

// NewReadingService creates a new reading service
func NewReadingService(store ReadingStore) *ReadingService {
	return &ReadingService{store: store}
}

// List returns up to limit readings of the class for a device owned by
// ownerID, newest first. A zero limit means DefaultReadingsLimit.
func (s *ReadingService) List(ctx context.Context, ownerID, deviceID uuid.UUID, class db.DeviceClass, limit int) (*Readings, error) {
	if limit == 0 {
		limit = DefaultReadingsLimit
	}
	if limit < 0 || limit > MaxReadingsLimit {
		return nil, ErrInvalidLimit
	}

	device, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to load device: %w", err)
	}
	if device.UserID != ownerID {
		return nil, ErrDeviceNotFound
	}

	readings := &Readings{Class: class}
	switch class {
	case db.DeviceClassEnergy:
		readings.Energy, err = s.store.ListEnergyReadings(ctx, deviceID, limit)
	default:
		readings.Water, err = s.store.ListWaterReadings(ctx, deviceID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s readings: %w", class, err)
	}

	return readings, nil
}
