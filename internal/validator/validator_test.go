package validator_test

import (
	"errors"
	"testing"
	"time"

	"github.com/iotmonitor/ingest-service/internal/db"
	"github.com/iotmonitor/ingest-service/internal/validator"
)

var receivedAt = time.Date(2025, 10, 26, 17, 2, 0, 0, time.UTC)

func validate(t *testing.T, v *validator.Validator, class db.DeviceClass, body string) (*validator.Payload, *validator.ValidationError) {
	t.Helper()
	payload, err := v.Validate(class, []byte(body), receivedAt)
	if err == nil {
		return payload, nil
	}
	var verr *validator.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected *ValidationError, got %T: %v", err, err)
	}
	if payload != nil {
		t.Fatal("Expected no payload alongside a validation error")
	}
	return nil, verr
}

func TestValidate_ValidEnergy(t *testing.T) {
	v := validator.NewValidator(0)

	payload, verr := validate(t, v, db.DeviceClassEnergy, `{
		"device_id": "esp-01",
		"timestamp": "2025-10-26T14:00:00-03:00",
		"readings": {"current_rms": 5.2, "voltage": 127, "power_watts": 660, "sample_count": 300},
		"metadata": {"firmware_version": "1.2.0", "rssi": -61}
	}`)
	if verr != nil {
		t.Fatalf("Expected valid payload, got: %v", verr)
	}

	if payload.Energy == nil || payload.Water != nil {
		t.Fatal("Expected energy values only")
	}
	if payload.Energy.CurrentRMS != 5.2 || payload.Energy.Voltage != 127 || payload.Energy.PowerWatts != 660 {
		t.Errorf("Unexpected energy values: %+v", payload.Energy)
	}
	if payload.Energy.SampleCount == nil || *payload.Energy.SampleCount != 300 {
		t.Errorf("Expected sample_count 300, got %v", payload.Energy.SampleCount)
	}
	if !payload.Timestamp.Equal(time.Date(2025, 10, 26, 17, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected timestamp %v", payload.Timestamp)
	}
	if payload.Metadata == nil || payload.Metadata.FirmwareVersion() != "1.2.0" {
		t.Errorf("Expected metadata to be carried, got %+v", payload.Metadata)
	}
}

func TestValidate_EnergyBoundaryValuesAccepted(t *testing.T) {
	v := validator.NewValidator(0)

	for _, body := range []string{
		`{"device_id":"d","timestamp":"2025-10-26T17:00:00Z","readings":{"current_rms":30,"voltage":380,"power_watts":100000}}`,
		`{"device_id":"d","timestamp":"2025-10-26T17:00:00Z","readings":{"current_rms":0,"voltage":0,"power_watts":0}}`,
	} {
		if _, verr := validate(t, v, db.DeviceClassEnergy, body); verr != nil {
			t.Errorf("Expected boundary payload to be accepted, got: %v", verr)
		}
	}
}

func TestValidate_PowerOverLimit(t *testing.T) {
	v := validator.NewValidator(0)

	_, verr := validate(t, v, db.DeviceClassEnergy,
		`{"device_id":"d","timestamp":"2025-10-26T17:00:00Z","readings":{"current_rms":5,"voltage":220,"power_watts":100001}}`)
	if verr == nil {
		t.Fatal("Expected power_watts = 100001 to be rejected")
	}
	if verr.Message != "Invalid reading values" {
		t.Errorf("Unexpected message %q", verr.Message)
	}
	if _, ok := verr.Details["power_watts"]; !ok {
		t.Errorf("Expected detail for power_watts, got %v", verr.Details)
	}
	if len(verr.Details) != 1 {
		t.Errorf("Expected only the violated field in details, got %v", verr.Details)
	}
}

func TestValidate_NegativeCurrent(t *testing.T) {
	v := validator.NewValidator(0)

	_, verr := validate(t, v, db.DeviceClassEnergy,
		`{"device_id":"d","timestamp":"2025-10-26T17:00:00Z","readings":{"current_rms":-1,"voltage":220,"power_watts":10}}`)
	if verr == nil {
		t.Fatal("Expected current_rms = -1 to be rejected")
	}
	if _, ok := verr.Details["current_rms"]; !ok {
		t.Errorf("Expected detail for current_rms, got %v", verr.Details)
	}
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	v := validator.NewValidator(0)

	cases := map[string]string{
		"no device_id":  `{"timestamp":"2025-10-26T17:00:00Z","readings":{"current_rms":1,"voltage":1,"power_watts":1}}`,
		"no timestamp":  `{"device_id":"d","readings":{"current_rms":1,"voltage":1,"power_watts":1}}`,
		"no readings":   `{"device_id":"d","timestamp":"2025-10-26T17:00:00Z"}`,
		"null readings": `{"device_id":"d","timestamp":"2025-10-26T17:00:00Z","readings":null}`,
		"missing value": `{"device_id":"d","timestamp":"2025-10-26T17:00:00Z","readings":{"current_rms":1,"voltage":1}}`,
	}

	for name, body := range cases {
		_, verr := validate(t, v, db.DeviceClassEnergy, body)
		if verr == nil {
			t.Errorf("%s: expected rejection", name)
			continue
		}
		if verr.Message != "Missing required fields" {
			t.Errorf("%s: unexpected message %q", name, verr.Message)
		}
	}
}

func TestValidate_InvalidJSON(t *testing.T) {
	v := validator.NewValidator(0)

	_, verr := validate(t, v, db.DeviceClassWater, `{"device_id":`)
	if verr == nil || verr.Message != "Invalid JSON payload" {
		t.Fatalf("Expected invalid JSON rejection, got %v", verr)
	}
}

func TestValidate_OptionalFieldsAnyType(t *testing.T) {
	v := validator.NewValidator(0)

	tests := map[string]string{
		"float rssi":               `"metadata": {"rssi": -67.5}`,
		"float uptime":             `"metadata": {"uptime_seconds": 12.0}`,
		"numeric firmware version": `"metadata": {"firmware_version": 2}`,
		"metadata not an object":   `"metadata": "esp32"`,
	}

	for name, metadata := range tests {
		t.Run(name, func(t *testing.T) {
			body := `{"device_id":"d","timestamp":"2025-10-26T17:00:00Z",` +
				`"readings":{"current_rms":5,"voltage":220,"power_watts":1100},` + metadata + `}`
			payload, verr := validate(t, v, db.DeviceClassEnergy, body)
			if verr != nil {
				t.Fatalf("Expected reading to be accepted, got %v", verr)
			}
			if payload.Energy.PowerWatts != 1100 {
				t.Errorf("Expected power 1100, got %f", payload.Energy.PowerWatts)
			}
		})
	}
}

func TestValidate_MetadataCarriedVerbatim(t *testing.T) {
	v := validator.NewValidator(0)

	payload, verr := validate(t, v, db.DeviceClassEnergy,
		`{"device_id":"d","timestamp":"2025-10-26T17:00:00Z","readings":{"current_rms":5,"voltage":220,"power_watts":1100},"metadata":{"firmware_version":2,"rssi":-67.5}}`)
	if verr != nil {
		t.Fatalf("Expected valid payload, got %v", verr)
	}
	if got := payload.Metadata.FirmwareVersion(); got != "2" {
		t.Errorf("Expected firmware version 2, got %q", got)
	}
	if payload.Metadata["rssi"] != -67.5 {
		t.Errorf("Expected rssi -67.5, got %v", payload.Metadata["rssi"])
	}
}

func TestValidate_FloatSampleCount(t *testing.T) {
	v := validator.NewValidator(0)

	energy, verr := validate(t, v, db.DeviceClassEnergy,
		`{"device_id":"d","timestamp":"2025-10-26T17:00:00Z","readings":{"current_rms":5,"voltage":220,"power_watts":1100,"sample_count":10.0}}`)
	if verr != nil {
		t.Fatalf("Expected energy reading to be accepted, got %v", verr)
	}
	if energy.Energy.SampleCount == nil || *energy.Energy.SampleCount != 10 {
		t.Errorf("Expected sample_count 10, got %v", energy.Energy.SampleCount)
	}

	_, verr = validate(t, v, db.DeviceClassWater,
		`{"device_id":"d","timestamp":"2025-10-26T17:00:00Z","readings":{"distance_cm":40,"water_level_percent":50,"volume_liters":100,"tank_height_cm":200,"tank_capacity_liters":1000,"sample_count":2.5}}`)
	if verr != nil {
		t.Fatalf("Expected water reading to be accepted, got %v", verr)
	}
}

func TestValidate_WrongTypeNamesField(t *testing.T) {
	v := validator.NewValidator(0)

	_, verr := validate(t, v, db.DeviceClassEnergy,
		`{"device_id":"d","timestamp":"2025-10-26T17:00:00Z","readings":{"current_rms":"5","voltage":220,"power_watts":1100}}`)
	if verr == nil {
		t.Fatal("Expected string current_rms to be rejected")
	}
	if verr.Details["readings.current_rms"] != "Must be a number" {
		t.Errorf("Expected current_rms detail, got %v", verr.Details)
	}
	if _, ok := verr.Details["readings"]; ok {
		t.Errorf("Expected no generic readings detail, got %v", verr.Details)
	}

	_, verr = validate(t, v, db.DeviceClassEnergy,
		`{"device_id":"d","timestamp":"2025-10-26T17:00:00Z","readings":[1,2,3]}`)
	if verr == nil || verr.Details["readings"] != "Must be an object" {
		t.Errorf("Expected readings object detail, got %v", verr)
	}
}

func TestValidate_InvalidTimestamp(t *testing.T) {
	v := validator.NewValidator(0)

	_, verr := validate(t, v, db.DeviceClassEnergy,
		`{"device_id":"d","timestamp":"yesterday","readings":{"current_rms":1,"voltage":1,"power_watts":1}}`)
	if verr == nil {
		t.Fatal("Expected non ISO-8601 timestamp to be rejected")
	}
	if _, ok := verr.Details["timestamp"]; !ok {
		t.Errorf("Expected timestamp detail, got %v", verr.Details)
	}
}

func TestValidate_TimestampTolerance(t *testing.T) {
	body := `{"device_id":"d","timestamp":"2025-10-26T16:00:00Z","readings":{"current_rms":1,"voltage":1,"power_watts":1}}`

	if _, verr := validate(t, validator.NewValidator(0), db.DeviceClassEnergy, body); verr != nil {
		t.Errorf("Expected tolerance check to be disabled, got %v", verr)
	}

	_, verr := validate(t, validator.NewValidator(10), db.DeviceClassEnergy, body)
	if verr == nil {
		t.Fatal("Expected reading one hour old to be rejected with 10 minute tolerance")
	}
}

func TestValidate_ValidWater(t *testing.T) {
	v := validator.NewValidator(0)

	payload, verr := validate(t, v, db.DeviceClassWater, `{
		"device_id": "esp-02",
		"timestamp": "2025-10-26T17:00:00Z",
		"readings": {"distance_cm": 40, "water_level_percent": 77.5, "volume_liters": 1217.7,
			"tank_height_cm": 200, "tank_capacity_liters": 1570.8}
	}`)
	if verr != nil {
		t.Fatalf("Expected valid payload, got: %v", verr)
	}
	if payload.Water == nil || payload.Energy != nil {
		t.Fatal("Expected water values only")
	}
	if payload.Water.DistanceCm != 40 || payload.Water.TankHeightCm != 200 {
		t.Errorf("Unexpected water values: %+v", payload.Water)
	}
}

func TestValidate_WaterBounds(t *testing.T) {
	v := validator.NewValidator(0)

	cases := map[string]string{
		"distance_cm":          `{"distance_cm":1001,"water_level_percent":50,"volume_liters":1,"tank_height_cm":200,"tank_capacity_liters":100}`,
		"water_level_percent":  `{"distance_cm":10,"water_level_percent":101,"volume_liters":1,"tank_height_cm":200,"tank_capacity_liters":100}`,
		"volume_liters":        `{"distance_cm":10,"water_level_percent":50,"volume_liters":-0.5,"tank_height_cm":200,"tank_capacity_liters":100}`,
		"tank_height_cm":       `{"distance_cm":10,"water_level_percent":50,"volume_liters":1,"tank_height_cm":0,"tank_capacity_liters":100}`,
		"tank_capacity_liters": `{"distance_cm":10,"water_level_percent":50,"volume_liters":1,"tank_height_cm":200,"tank_capacity_liters":1000001}`,
	}

	for field, readings := range cases {
		body := `{"device_id":"d","timestamp":"2025-10-26T17:00:00Z","readings":` + readings + `}`
		_, verr := validate(t, v, db.DeviceClassWater, body)
		if verr == nil {
			t.Errorf("%s: expected rejection", field)
			continue
		}
		if _, ok := verr.Details[field]; !ok {
			t.Errorf("%s: expected detail for field, got %v", field, verr.Details)
		}
	}
}

func TestValidate_WaterBoundaryValuesAccepted(t *testing.T) {
	v := validator.NewValidator(0)

	body := `{"device_id":"d","timestamp":"2025-10-26T17:00:00Z","readings":
		{"distance_cm":1000,"water_level_percent":100,"volume_liters":0,"tank_height_cm":1000,"tank_capacity_liters":1000000}}`
	if _, verr := validate(t, v, db.DeviceClassWater, body); verr != nil {
		t.Errorf("Expected boundary payload to be accepted, got: %v", verr)
	}
}

func TestValidate_EnergyPayloadAgainstWaterSchema(t *testing.T) {
	v := validator.NewValidator(0)

	_, verr := validate(t, v, db.DeviceClassWater,
		`{"device_id":"d","timestamp":"2025-10-26T17:00:00Z","readings":{"current_rms":1,"voltage":1,"power_watts":1}}`)
	if verr == nil || verr.Message != "Missing required fields" {
		t.Fatalf("Expected missing water fields, got %v", verr)
	}
}
