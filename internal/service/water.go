package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/iotmonitor/ingest-service/internal/db"
	"github.com/iotmonitor/ingest-service/internal/geometry"
	"github.com/iotmonitor/ingest-service/internal/validator"
)

const (
	minDistanceCm = 0
	maxDistanceCm = 1000
)

// buildWaterReading turns validated payload values into the row to store.
//
// When the device carries a tank profile the level, volume and capacity
// sent by the device are replaced by values computed from the stored
// calibration:
//   - height is the stored height, else the payload height
//   - capacity is the stored capacity, else derived from the stored radius,
//     else the payload capacity
//   - volume is derived from the stored radius, else the payload volume
//
// Without a profile the payload is stored verbatim.
func buildWaterReading(device *db.Device, values *validator.WaterValues, deviceID uuid.UUID, ts time.Time) *db.WaterReading {
	reading := &db.WaterReading{
		DeviceID:           deviceID,
		Timestamp:          ts,
		DistanceCm:         values.DistanceCm,
		WaterLevelPercent:  values.WaterLevelPercent,
		VolumeLiters:       values.VolumeLiters,
		TankHeightCm:       values.TankHeightCm,
		TankCapacityLiters: values.TankCapacityLiters,
	}
	if !device.HasTankProfile() {
		return reading
	}

	height := values.TankHeightCm
	if device.TankHeightCm != nil {
		height = *device.TankHeightCm
	}
	offset := 0.0
	if device.SensorOffsetCm != nil {
		offset = *device.SensorOffsetCm
	}
	distance := geometry.Clamp(values.DistanceCm, minDistanceCm, maxDistanceCm)
	waterHeight := geometry.WaterHeight(distance, height, offset)

	reading.DistanceCm = distance
	reading.TankHeightCm = height
	if height > 0 {
		reading.WaterLevelPercent = geometry.WaterLevelPercent(distance, height, offset)
	}

	switch {
	case device.TankCapacityLiters != nil:
		reading.TankCapacityLiters = *device.TankCapacityLiters
	case device.TankRadiusCm != nil:
		reading.TankCapacityLiters = geometry.CylindricalCapacity(*device.TankRadiusCm, height)
	}
	if device.TankRadiusCm != nil {
		reading.VolumeLiters = geometry.CylindricalVolumeFromHeight(*device.TankRadiusCm, waterHeight)
	}

	reading.TankRadiusCm = device.TankRadiusCm
	reading.SensorOffsetCm = &offset
	reading.ComputedWithDeviceProfile = true
	return reading
}
