package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/satindergrewal/phantomtrack/internal/conditioner"
	"github.com/satindergrewal/phantomtrack/internal/studio"
)

// Response is the JSON envelope of every API reply.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo describes a failed request.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	CodeInput       = "INPUT_ERROR"
	CodeTooLarge    = "INPUT_TOO_LARGE"
	CodeDecode      = "DECODE_ERROR"
	CodeValidation  = "VALIDATION_ERROR"
	CodeGeneration  = "GENERATION_ERROR"
	CodeNotFound    = "NOT_FOUND"
	CodeRateLimited = "RATE_LIMITED"
	CodeUnavailable = "UNAVAILABLE"
	CodeInternal    = "INTERNAL_ERROR"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, r *http.Request, data any) {
	writeJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
		RequestID: RequestIDFromContext(r.Context()),
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, Response{
		Success:   false,
		Error:     &ErrorInfo{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// statusFor maps a submission error to its HTTP status and code.
func statusFor(err error) (int, string) {
	switch studio.ErrorKind(err) {
	case studio.KindInput:
		if errors.Is(err, conditioner.ErrTooLarge) {
			return http.StatusRequestEntityTooLarge, CodeTooLarge
		}
		return http.StatusBadRequest, CodeInput
	case studio.KindDecode:
		return http.StatusUnprocessableEntity, CodeDecode
	case studio.KindValidation:
		return http.StatusUnprocessableEntity, CodeValidation
	case studio.KindGeneration:
		return http.StatusBadGateway, CodeGeneration
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
