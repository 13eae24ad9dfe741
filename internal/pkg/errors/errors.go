package errors

import (
	"encoding/json"
	"net/http"
)

type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

const (
	ErrCodeInvalidInput            = "INVALID_INPUT"
	ErrCodeUnauthorized            = "UNAUTHORIZED"
	ErrCodeKeyInactive             = "KEY_INACTIVE"
	ErrCodeKeyExpired              = "KEY_EXPIRED"
	ErrCodeForbidden               = "FORBIDDEN"
	ErrCodeFeatureNotAllowed       = "FEATURE_NOT_ALLOWED"
	ErrCodeHistoricalRangeExceeded = "HISTORICAL_RANGE_EXCEEDED"
	ErrCodeNotFound                = "NOT_FOUND"
	ErrCodeConflict                = "CONFLICT"
	ErrCodeQuotaExceeded           = "QUOTA_EXCEEDED"
	ErrCodeRateLimitExceeded       = "RATE_LIMIT_EXCEEDED"
	ErrCodeServiceUnavailable      = "SERVICE_UNAVAILABLE"
	ErrCodeInternal                = "INTERNAL_ERROR"
)

func WriteError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    code,
		Details: details,
	})
}

// WriteJSON is the success counterpart of WriteError.
func WriteJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
