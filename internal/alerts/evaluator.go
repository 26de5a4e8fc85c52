package alerts

import (
	"fmt"
)

// Alert types raised by the evaluator
const (
	TypeEnergyHigh     = "energy_high"
	TypeEnergyCritical = "energy_critical"
	TypeEnergySpike    = "energy_spike"
	TypeWaterLow       = "water_low"
	TypeWaterCritical  = "water_critical"
	TypeWaterFull      = "water_full"
)

// Severities, ordered info < warning < critical
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert is a threshold breach detected on a single reading
type Alert struct {
	Type     string
	Severity string
	Message  string
	Value    float64
}

// Thresholds configures the evaluator
type Thresholds struct {
	EnergyHighWatts      float64
	EnergyCriticalWatts  float64
	WaterLowPercent      float64
	WaterCriticalPercent float64
	WaterHighPercent     float64

	// A power reading above SpikeThreshold x the rolling average of recent
	// readings is a spike, once MinDataPoints readings are available.
	SpikeThreshold float64
	MinDataPoints  int
}

// Evaluator classifies readings against configured thresholds
type Evaluator struct {
	thresholds Thresholds
}

// NewEvaluator creates a new evaluator with the specified thresholds
func NewEvaluator(thresholds Thresholds) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// EvaluateEnergy checks a power reading against the high/critical levels
// and against the rolling average of historicalWatts.
func (e *Evaluator) EvaluateEnergy(powerWatts float64, historicalWatts []float64) []Alert {
	var alerts []Alert

	switch {
	case powerWatts >= e.thresholds.EnergyCriticalWatts:
		alerts = append(alerts, Alert{
			Type:     TypeEnergyCritical,
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("Critical energy consumption: %.0f W", powerWatts),
			Value:    powerWatts,
		})
	case powerWatts >= e.thresholds.EnergyHighWatts:
		alerts = append(alerts, Alert{
			Type:     TypeEnergyHigh,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("Energy consumption above normal: %.0f W", powerWatts),
			Value:    powerWatts,
		})
	}

	if isSpike, reason := e.detectSpike(powerWatts, historicalWatts); isSpike {
		alerts = append(alerts, Alert{
			Type:     TypeEnergySpike,
			Severity: SeverityWarning,
			Message:  "Consumption spike detected: " + reason,
			Value:    powerWatts,
		})
	}

	return alerts
}

// EvaluateWater checks a tank fill level
func (e *Evaluator) EvaluateWater(levelPercent float64) []Alert {
	switch {
	case levelPercent <= e.thresholds.WaterCriticalPercent:
		return []Alert{{
			Type:     TypeWaterCritical,
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("Critical water level: %.1f%%", levelPercent),
			Value:    levelPercent,
		}}
	case levelPercent <= e.thresholds.WaterLowPercent:
		return []Alert{{
			Type:     TypeWaterLow,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("Low water level: %.1f%%", levelPercent),
			Value:    levelPercent,
		}}
	case levelPercent >= e.thresholds.WaterHighPercent:
		return []Alert{{
			Type:     TypeWaterFull,
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("Tank full: %.1f%%", levelPercent),
			Value:    levelPercent,
		}}
	}
	return nil
}

func (e *Evaluator) detectSpike(value float64, historicalValues []float64) (bool, string) {
	// Need enough historical data for spike detection
	if len(historicalValues) < e.thresholds.MinDataPoints || len(historicalValues) == 0 {
		return false, ""
	}

	sum := 0.0
	for _, v := range historicalValues {
		sum += v
	}
	average := sum / float64(len(historicalValues))

	if average > 0 && value > e.thresholds.SpikeThreshold*average {
		return true, fmt.Sprintf("value %.2f exceeds %.1fx rolling average %.2f",
			value, e.thresholds.SpikeThreshold, average)
	}

	return false, ""
}
