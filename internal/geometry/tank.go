// Package geometry converts cylindrical tank dimensions and ultrasonic
// sensor distances into fill level, volume and capacity.
//
// All functions are total: invalid geometry yields 0 rather than an error.
// Callers that must tell "empty" from "misconfigured" check their inputs first.
package geometry

import "math"

const cubicCmPerLiter = 1000

// CylindricalCapacity returns the capacity in liters of a cylinder with the
// given radius and height in centimeters.
func CylindricalCapacity(radiusCm, heightCm float64) float64 {
	if radiusCm <= 0 || heightCm <= 0 {
		return 0
	}
	return math.Pi * radiusCm * radiusCm * heightCm / cubicCmPerLiter
}

// CylindricalVolumeFromHeight returns the liters held by a water column of
// the given height in a cylinder of the given radius.
func CylindricalVolumeFromHeight(radiusCm, waterHeightCm float64) float64 {
	if radiusCm <= 0 || waterHeightCm <= 0 {
		return 0
	}
	return math.Pi * radiusCm * radiusCm * waterHeightCm / cubicCmPerLiter
}

// WaterHeight returns the height of the water column for a downward-facing
// sensor mounted sensorOffsetCm below the tank top. Never negative.
func WaterHeight(distanceCm, tankHeightCm, sensorOffsetCm float64) float64 {
	return math.Max(0, tankHeightCm-sensorOffsetCm-distanceCm)
}

// WaterLevelPercent returns the fill percentage clamped to [0, 100].
func WaterLevelPercent(distanceCm, tankHeightCm, sensorOffsetCm float64) float64 {
	percentage := (tankHeightCm - sensorOffsetCm - distanceCm) / tankHeightCm * 100
	// NaN (zero height) also lands on 0
	if !(percentage > 0) {
		return 0
	}
	return math.Min(100, percentage)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
