package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/iotmonitor/ingest-service/internal/auth"
	"github.com/iotmonitor/ingest-service/internal/db"
	"github.com/iotmonitor/ingest-service/internal/service"
	"go.uber.org/zap"
)

type energyReadingDTO struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	CurrentRMS float64   `json:"current_rms"`
	Voltage    float64   `json:"voltage"`
	PowerWatts float64   `json:"power_watts"`
}

type waterReadingDTO struct {
	ID                        int64     `json:"id"`
	Timestamp                 time.Time `json:"timestamp"`
	DistanceCm                float64   `json:"distance_cm"`
	WaterLevelPercent         float64   `json:"water_level_percent"`
	VolumeLiters              float64   `json:"volume_liters"`
	TankHeightCm              float64   `json:"tank_height_cm"`
	TankCapacityLiters        float64   `json:"tank_capacity_liters"`
	TankRadiusCm              *float64  `json:"tank_radius_cm,omitempty"`
	SensorOffsetCm            *float64  `json:"sensor_offset_cm,omitempty"`
	ComputedWithDeviceProfile bool      `json:"computed_with_device_profile"`
}

type readingsResponse struct {
	DeviceID   string `json:"device_id"`
	DeviceType string `json:"device_type"`
	Count      int    `json:"count"`
	Readings   any    `json:"readings"`
}

type readingsHandler struct {
	svc    *service.ReadingService
	logger *zap.Logger
}

func (h *readingsHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, requestLogger(r, h.logger), http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}
	h.serve(w, r, limit, false)
}

func (h *readingsHandler) latest(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, 1, true)
}

func (h *readingsHandler) serve(w http.ResponseWriter, r *http.Request, limit int, single bool) {
	logger := requestLogger(r, h.logger)
	vars := mux.Vars(r)

	deviceID, err := uuid.Parse(vars["deviceID"])
	if err != nil {
		writeError(w, logger, http.StatusBadRequest, "Invalid device id")
		return
	}
	class, ok := db.ParseDeviceClass(vars["class"])
	if !ok {
		writeError(w, logger, http.StatusBadRequest, "Invalid device type")
		return
	}
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, logger, http.StatusUnauthorized, "Unauthorized")
		return
	}

	readings, err := h.svc.List(r.Context(), userID, deviceID, class, limit)
	switch {
	case errors.Is(err, service.ErrDeviceNotFound):
		writeError(w, logger, http.StatusNotFound, "Device not found")
		return
	case errors.Is(err, service.ErrInvalidLimit):
		writeError(w, logger, http.StatusBadRequest, "Invalid limit")
		return
	case err != nil:
		logger.Error("failed to list readings", zap.Error(err), zap.String("device_id", deviceID.String()))
		writeError(w, logger, http.StatusInternalServerError, "Failed to load readings")
		return
	}

	if single {
		if readings.Len() == 0 {
			writeError(w, logger, http.StatusNotFound, "No readings")
			return
		}
		if class == db.DeviceClassEnergy {
			writeJSON(w, logger, http.StatusOK, toEnergyDTO(readings.Energy[0]))
		} else {
			writeJSON(w, logger, http.StatusOK, toWaterDTO(readings.Water[0]))
		}
		return
	}

	resp := readingsResponse{
		DeviceID:   deviceID.String(),
		DeviceType: string(class),
		Count:      readings.Len(),
	}
	if class == db.DeviceClassEnergy {
		items := make([]energyReadingDTO, 0, len(readings.Energy))
		for _, reading := range readings.Energy {
			items = append(items, toEnergyDTO(reading))
		}
		resp.Readings = items
	} else {
		items := make([]waterReadingDTO, 0, len(readings.Water))
		for _, reading := range readings.Water {
			items = append(items, toWaterDTO(reading))
		}
		resp.Readings = items
	}
	writeJSON(w, logger, http.StatusOK, resp)
}

func toEnergyDTO(r db.EnergyReading) energyReadingDTO {
	return energyReadingDTO{
		ID:         r.ID,
		Timestamp:  r.Timestamp.UTC(),
		CurrentRMS: r.CurrentRMS,
		Voltage:    r.Voltage,
		PowerWatts: r.PowerWatts,
	}
}

func toWaterDTO(r db.WaterReading) waterReadingDTO {
	return waterReadingDTO{
		ID:                        r.ID,
		Timestamp:                 r.Timestamp.UTC(),
		DistanceCm:                r.DistanceCm,
		WaterLevelPercent:         r.WaterLevelPercent,
		VolumeLiters:              r.VolumeLiters,
		TankHeightCm:              r.TankHeightCm,
		TankCapacityLiters:        r.TankCapacityLiters,
		TankRadiusCm:              r.TankRadiusCm,
		SensorOffsetCm:            r.SensorOffsetCm,
		ComputedWithDeviceProfile: r.ComputedWithDeviceProfile,
	}
}
