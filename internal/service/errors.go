package service

import (
	"fmt"
	"net/http"

	"github.com/iotmonitor/ingest-service/internal/ratelimit"
)

// ErrorKind classifies why an ingestion request was rejected
type ErrorKind string

const (
	KindAuth               ErrorKind = "auth"
	KindBadRequest         ErrorKind = "bad_request"
	KindDeviceNotFound     ErrorKind = "device_not_found"
	KindDeviceTypeMismatch ErrorKind = "device_type_mismatch"
	KindValidation         ErrorKind = "validation"
	KindRateLimited        ErrorKind = "rate_limited"
	KindPersistence        ErrorKind = "persistence"
	KindInternal           ErrorKind = "internal"
)

// IngestError is a terminal rejection of an ingestion request. Status is
// the HTTP status the transport should answer with.
type IngestError struct {
	Kind    ErrorKind
	Status  int
	Message string
	// Details is either a per-field map or a diagnostic string
	Details any
	// RateLimit is set for rate limited requests
	RateLimit *ratelimit.Decision
}

func (e *IngestError) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func authError(message string) *IngestError {
	return &IngestError{Kind: KindAuth, Status: http.StatusUnauthorized, Message: message}
}

func badRequest(kind ErrorKind, message string, details any) *IngestError {
	return &IngestError{Kind: kind, Status: http.StatusBadRequest, Message: message, Details: details}
}

func internalError(kind ErrorKind, message string, err error) *IngestError {
	return &IngestError{Kind: kind, Status: http.StatusInternalServerError, Message: message, Details: err.Error()}
}
