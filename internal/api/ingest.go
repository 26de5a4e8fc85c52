package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/iotmonitor/ingest-service/internal/ratelimit"
	"github.com/iotmonitor/ingest-service/internal/service"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

type ingestResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ReadingID int64  `json:"reading_id"`
}

type ingestHandler struct {
	svc    *service.IngestService
	logger *zap.Logger
}

func (h *ingestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r, h.logger)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		logger.Warn("failed to read request body", zap.Error(err))
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, logger, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, logger, http.StatusBadRequest, "Failed to read request body")
		return
	}

	result, err := h.svc.Ingest(r.Context(), service.IngestRequest{
		Authorization: r.Header.Get("Authorization"),
		DeviceType:    r.Header.Get("X-Device-Type"),
		Body:          body,
	}, logger)
	if err != nil {
		h.writeIngestError(w, logger, err)
		return
	}

	setRateLimitHeaders(w, result.RateLimit)
	writeJSON(w, logger, http.StatusOK, ingestResponse{
		Success:   true,
		Message:   result.Message,
		ReadingID: result.ReadingID,
	})
}

func (h *ingestHandler) writeIngestError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var ingestErr *service.IngestError
	if !errors.As(err, &ingestErr) {
		logger.Error("unexpected ingest failure", zap.Error(err))
		writeError(w, logger, http.StatusInternalServerError, "Internal server error")
		return
	}

	resp := errorResponse{Error: ingestErr.Message, Details: ingestErr.Details}
	if ingestErr.RateLimit != nil {
		setRateLimitHeaders(w, *ingestErr.RateLimit)
		retryAfter := ingestErr.RateLimit.RetryAfterSeconds()
		resp.RetryAfter = &retryAfter
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	writeJSON(w, logger, ingestErr.Status, resp)
}

func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}
