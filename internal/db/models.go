package db

import (
	"time"

	"github.com/google/uuid"
)

// DeviceClass selects the reading schema a device submits
type DeviceClass string

const (
	DeviceClassEnergy DeviceClass = "energy"
	DeviceClassWater  DeviceClass = "water"
)

// ParseDeviceClass returns the class named by s
func ParseDeviceClass(s string) (DeviceClass, bool) {
	switch DeviceClass(s) {
	case DeviceClassEnergy, DeviceClassWater:
		return DeviceClass(s), true
	}
	return "", false
}

// DeviceStatus is the liveness status shown on the dashboard
type DeviceStatus string

const (
	DeviceStatusOnline  DeviceStatus = "online"
	DeviceStatusOffline DeviceStatus = "offline"
	DeviceStatusError   DeviceStatus = "error"
)

// Device represents a physical sensor unit in the database
type Device struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	DeviceName string
	DeviceType DeviceClass
	IsActive   bool
	Status     DeviceStatus
	LastSeen   *time.Time
	Metadata   map[string]any

	// Tank profile, water devices only
	TankHeightCm       *float64
	TankRadiusCm       *float64
	SensorOffsetCm     *float64
	TankCapacityLiters *float64
}

// HasTankProfile reports whether the device carries a stored height or radius
func (d *Device) HasTankProfile() bool {
	return d.TankHeightCm != nil || d.TankRadiusCm != nil
}

// APICredential represents a device API key in the database
type APICredential struct {
	ID           int64
	APIKey       string
	DeviceID     uuid.UUID
	IsActive     bool
	RequestCount int64
	LastUsedAt   *time.Time
}

// EnergyReading represents an energy reading in the database
type EnergyReading struct {
	ID         int64
	DeviceID   uuid.UUID
	Timestamp  time.Time
	CurrentRMS float64
	Voltage    float64
	PowerWatts float64
}

// WaterReading represents a water tank reading in the database
type WaterReading struct {
	ID                        int64
	DeviceID                  uuid.UUID
	Timestamp                 time.Time
	DistanceCm                float64
	WaterLevelPercent         float64
	VolumeLiters              float64
	TankHeightCm              float64
	TankCapacityLiters        float64
	TankRadiusCm              *float64
	SensorOffsetCm            *float64
	ComputedWithDeviceProfile bool
}

// Alert represents a threshold alert raised for a device
type Alert struct {
	ID         int64
	UserID     uuid.UUID
	DeviceID   uuid.UUID
	AlertType  string
	Message    string
	Severity   string
	IsRead     bool
	IsResolved bool
	CreatedAt  time.Time
	Metadata   map[string]any
}
