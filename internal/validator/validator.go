package validator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/iotmonitor/ingest-service/internal/db"
	"github.com/iotmonitor/ingest-service/tools/timeparser"
)

// ValidationError describes why a payload was rejected. Details maps a
// payload field to a human readable constraint.
type ValidationError struct {
	Message string
	Details map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Details)
}

// Metadata is free-form device diagnostics sent alongside a reading, such as
// firmware_version, rssi and uptime_seconds. It is never validated.
type Metadata map[string]any

// FirmwareVersion returns the firmware_version entry rendered as text
func (m Metadata) FirmwareVersion() string {
	value, ok := m["firmware_version"]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

// EnergyValues holds a validated energy sample
type EnergyValues struct {
	CurrentRMS  float64
	Voltage     float64
	PowerWatts  float64
	SampleCount *float64
}

// WaterValues holds a validated water tank sample
type WaterValues struct {
	DistanceCm         float64
	WaterLevelPercent  float64
	VolumeLiters       float64
	TankHeightCm       float64
	TankCapacityLiters float64
	SampleCount        *float64
}

// Payload is a structurally and physically valid submission. Exactly one of
// Energy or Water is set, matching Class.
type Payload struct {
	DeviceID  string
	Timestamp time.Time
	Class     db.DeviceClass
	Energy    *EnergyValues
	Water     *WaterValues
	Metadata  Metadata
}

type rawPayload struct {
	DeviceID  string          `json:"device_id"`
	Timestamp string          `json:"timestamp"`
	Readings  json.RawMessage `json:"readings"`
	Metadata  json.RawMessage `json:"metadata"`
}

type rawEnergyReadings struct {
	CurrentRMS  *float64 `json:"current_rms"`
	Voltage     *float64 `json:"voltage"`
	PowerWatts  *float64 `json:"power_watts"`
	SampleCount *float64 `json:"sample_count"`
}

type rawWaterReadings struct {
	DistanceCm         *float64 `json:"distance_cm"`
	WaterLevelPercent  *float64 `json:"water_level_percent"`
	VolumeLiters       *float64 `json:"volume_liters"`
	TankHeightCm       *float64 `json:"tank_height_cm"`
	TankCapacityLiters *float64 `json:"tank_capacity_liters"`
	SampleCount        *float64 `json:"sample_count"`
}

// bound is an inclusive range unless minExclusive is set
type bound struct {
	field        string
	min          float64
	max          float64
	minExclusive bool
	message      string
}

func (b bound) contains(v float64) bool {
	if b.minExclusive && v <= b.min {
		return false
	}
	return v >= b.min && v <= b.max
}

var (
	currentBound  = bound{field: "current_rms", min: 0, max: 30, message: "Must be between 0 and 30"}
	voltageBound  = bound{field: "voltage", min: 0, max: 380, message: "Must be between 0 and 380"}
	powerBound    = bound{field: "power_watts", min: 0, max: 100000, message: "Must be between 0 and 100000"}
	distanceBound = bound{field: "distance_cm", min: 0, max: 1000, message: "Must be between 0 and 1000"}
	levelBound    = bound{field: "water_level_percent", min: 0, max: 100, message: "Must be between 0 and 100"}
	volumeBound   = bound{field: "volume_liters", min: 0, max: math.Inf(1), message: "Must be greater than or equal to 0"}
	heightBound   = bound{field: "tank_height_cm", min: 0, max: 1000, minExclusive: true, message: "Must be greater than 0 and at most 1000"}
	capacityBound = bound{field: "tank_capacity_liters", min: 0, max: 1000000, minExclusive: true, message: "Must be greater than 0 and at most 1000000"}
)

const (
	msgInvalidJSON      = "Invalid JSON payload"
	msgMissingFields    = "Missing required fields"
	msgInvalidTimestamp = "Invalid timestamp"
	msgInvalidValues    = "Invalid reading values"
	msgRequired         = "required"
)

// Validator checks ingestion payloads against the schema of a device class
type Validator struct {
	timestampToleranceMinutes int
}

// NewValidator creates a new validator. A tolerance of 0 disables the
// clock skew check.
func NewValidator(timestampToleranceMinutes int) *Validator {
	return &Validator{
		timestampToleranceMinutes: timestampToleranceMinutes,
	}
}

// Validate parses body as a payload of the given class. It either returns
// the whole payload or a *ValidationError, never a partial result.
func (v *Validator) Validate(class db.DeviceClass, body []byte, receivedAt time.Time) (*Payload, error) {
	var raw rawPayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ValidationError{Message: msgInvalidJSON, Details: typeErrorDetails(err, "")}
	}

	missing := map[string]string{}
	if raw.DeviceID == "" {
		missing["device_id"] = msgRequired
	}
	if raw.Timestamp == "" {
		missing["timestamp"] = msgRequired
	}
	if isAbsent(raw.Readings) {
		missing["readings"] = msgRequired
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Message: msgMissingFields, Details: missing}
	}

	ts, err := timeparser.ParseReadingTimestamp(raw.Timestamp)
	if err != nil {
		return nil, &ValidationError{
			Message: msgInvalidTimestamp,
			Details: map[string]string{"timestamp": "Must be an ISO-8601 date-time"},
		}
	}
	if v.timestampToleranceMinutes > 0 && !timeparser.IsWithinTolerance(ts, receivedAt, v.timestampToleranceMinutes) {
		return nil, &ValidationError{
			Message: msgInvalidTimestamp,
			Details: map[string]string{
				"timestamp": fmt.Sprintf("Must be within ±%d minutes of server time", v.timestampToleranceMinutes),
			},
		}
	}

	payload := &Payload{
		DeviceID:  raw.DeviceID,
		Timestamp: ts,
		Class:     class,
		Metadata:  decodeMetadata(raw.Metadata),
	}

	switch class {
	case db.DeviceClassEnergy:
		payload.Energy, err = validateEnergy(raw.Readings)
	case db.DeviceClassWater:
		payload.Water, err = validateWater(raw.Readings)
	default:
		return nil, &ValidationError{Message: fmt.Sprintf("Unsupported device type %q", class)}
	}
	if err != nil {
		return nil, err
	}

	return payload, nil
}

func validateEnergy(data json.RawMessage) (*EnergyValues, error) {
	var r rawEnergyReadings
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, readingsDecodeError(err)
	}

	if missing := requireFields(map[string]*float64{
		currentBound.field: r.CurrentRMS,
		voltageBound.field: r.Voltage,
		powerBound.field:   r.PowerWatts,
	}); missing != nil {
		return nil, missing
	}

	if invalid := checkBounds(
		boundCheck{currentBound, *r.CurrentRMS},
		boundCheck{voltageBound, *r.Voltage},
		boundCheck{powerBound, *r.PowerWatts},
	); invalid != nil {
		return nil, invalid
	}

	return &EnergyValues{
		CurrentRMS:  *r.CurrentRMS,
		Voltage:     *r.Voltage,
		PowerWatts:  *r.PowerWatts,
		SampleCount: r.SampleCount,
	}, nil
}

func validateWater(data json.RawMessage) (*WaterValues, error) {
	var r rawWaterReadings
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, readingsDecodeError(err)
	}

	if missing := requireFields(map[string]*float64{
		distanceBound.field: r.DistanceCm,
		levelBound.field:    r.WaterLevelPercent,
		volumeBound.field:   r.VolumeLiters,
		heightBound.field:   r.TankHeightCm,
		capacityBound.field: r.TankCapacityLiters,
	}); missing != nil {
		return nil, missing
	}

	if invalid := checkBounds(
		boundCheck{distanceBound, *r.DistanceCm},
		boundCheck{levelBound, *r.WaterLevelPercent},
		boundCheck{volumeBound, *r.VolumeLiters},
		boundCheck{heightBound, *r.TankHeightCm},
		boundCheck{capacityBound, *r.TankCapacityLiters},
	); invalid != nil {
		return nil, invalid
	}

	return &WaterValues{
		DistanceCm:         *r.DistanceCm,
		WaterLevelPercent:  *r.WaterLevelPercent,
		VolumeLiters:       *r.VolumeLiters,
		TankHeightCm:       *r.TankHeightCm,
		TankCapacityLiters: *r.TankCapacityLiters,
		SampleCount:        r.SampleCount,
	}, nil
}

type boundCheck struct {
	bound bound
	value float64
}

func checkBounds(checks ...boundCheck) *ValidationError {
	details := map[string]string{}
	for _, c := range checks {
		if !c.bound.contains(c.value) {
			details[c.bound.field] = c.bound.message
		}
	}
	if len(details) == 0 {
		return nil
	}
	return &ValidationError{Message: msgInvalidValues, Details: details}
}

func requireFields(fields map[string]*float64) *ValidationError {
	details := map[string]string{}
	for name, value := range fields {
		if value == nil {
			details["readings."+name] = msgRequired
		}
	}
	if len(details) == 0 {
		return nil
	}
	return &ValidationError{Message: msgMissingFields, Details: details}
}

// readingsDecodeError reports which reading field has the wrong JSON type
func readingsDecodeError(err error) *ValidationError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return &ValidationError{Message: msgInvalidValues, Details: typeErrorDetails(err, "readings.")}
	}
	return &ValidationError{Message: msgInvalidJSON, Details: map[string]string{"readings": "Must be an object"}}
}

func typeErrorDetails(err error, prefix string) map[string]string {
	var typeErr *json.UnmarshalTypeError
	if !errors.As(err, &typeErr) || typeErr.Field == "" {
		return nil
	}
	message := "Must be a number"
	if typeErr.Type != nil && typeErr.Type.Kind() == reflect.String {
		message = "Must be a string"
	}
	return map[string]string{prefix + typeErr.Field: message}
}

// decodeMetadata keeps metadata only when it is a JSON object
func decodeMetadata(data json.RawMessage) Metadata {
	if isAbsent(data) {
		return nil
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

func isAbsent(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
