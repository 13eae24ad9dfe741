package admission

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"divgate/internal/engine/features"
	"divgate/internal/engine/keys"
	"divgate/internal/engine/quota"
	apierrors "divgate/internal/pkg/errors"
)

// The rejection taxonomy. Each type is defined next to the component that
// produces it and re-exported here so callers only need this package.
type (
	AuthError                    = keys.AuthError
	QuotaExceededError           = quota.ExceededError
	FeatureNotAllowedError       = features.NotAllowedError
	HistoricalRangeExceededError = features.HistoricalRangeExceededError
)

// ServiceUnavailableError is returned when a backing store fails or times
// out while admitting. The request is rejected, never admitted by default.
type ServiceUnavailableError struct {
	Op  string
	Err error
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceUnavailableError) Unwrap() error { return e.Err }

// InvalidRequestError wraps a malformed request parameter seen by an
// authenticated caller.
type InvalidRequestError struct {
	Err error
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: %v", e.Err)
}

func (e *InvalidRequestError) Unwrap() error { return e.Err }

// Rejection is the rendered form of an admission error.
type Rejection struct {
	Status     int
	Code       string
	Message    string
	Details    map[string]interface{}
	RetryAfter time.Duration
}

// Classify renders err for the HTTP boundary. Unknown errors become 500.
func Classify(err error, now time.Time) Rejection {
	var (
		authErr    *AuthError
		quotaErr   *QuotaExceededError
		featureErr *FeatureNotAllowedError
		rangeErr   *HistoricalRangeExceededError
		unavailErr *ServiceUnavailableError
		invalidErr *InvalidRequestError
	)

	switch {
	case errors.As(err, &authErr):
		code := apierrors.ErrCodeUnauthorized
		switch authErr.Reason {
		case keys.AuthInactive:
			code = apierrors.ErrCodeKeyInactive
		case keys.AuthExpired:
			code = apierrors.ErrCodeKeyExpired
		}
		return Rejection{
			Status:  http.StatusUnauthorized,
			Code:    code,
			Message: authErr.Error(),
			Details: map[string]interface{}{"reason": string(authErr.Reason)},
		}

	case errors.As(err, &quotaErr):
		code := apierrors.ErrCodeRateLimitExceeded
		if quotaErr.Window == quota.WindowMonthly {
			code = apierrors.ErrCodeQuotaExceeded
		}
		retry := RetryAfter(quotaErr.ResetAt, now)
		return Rejection{
			Status:  http.StatusTooManyRequests,
			Code:    code,
			Message: quotaErr.Error(),
			Details: map[string]interface{}{
				"window":      string(quotaErr.Window),
				"limit":       quotaErr.Limit,
				"reset_at":    quotaErr.ResetAt.UTC().Format(time.RFC3339),
				"retry_after": int64(retry / time.Second),
			},
			RetryAfter: retry,
		}

	case errors.As(err, &featureErr):
		return Rejection{
			Status:  http.StatusForbidden,
			Code:    apierrors.ErrCodeFeatureNotAllowed,
			Message: featureErr.Error(),
			Details: map[string]interface{}{
				"feature":       featureErr.Feature,
				"required_tier": featureErr.RequiredTier,
				"upgrade_url":   featureErr.UpgradeURL,
			},
		}

	case errors.As(err, &rangeErr):
		return Rejection{
			Status:  http.StatusForbidden,
			Code:    apierrors.ErrCodeHistoricalRangeExceeded,
			Message: rangeErr.Error(),
			Details: map[string]interface{}{
				"max_years":       rangeErr.MaxYears,
				"requested_years": rangeErr.Requested,
				"upgrade_url":     rangeErr.UpgradeURL,
			},
		}

	case errors.As(err, &invalidErr):
		return Rejection{
			Status:  http.StatusBadRequest,
			Code:    apierrors.ErrCodeInvalidInput,
			Message: "Invalid request parameters",
			Details: map[string]interface{}{"error": invalidErr.Err.Error()},
		}

	case errors.As(err, &unavailErr):
		return Rejection{
			Status:  http.StatusServiceUnavailable,
			Code:    apierrors.ErrCodeServiceUnavailable,
			Message: "Admission backend unavailable, retry later",
		}
	}

	return Rejection{
		Status:  http.StatusInternalServerError,
		Code:    apierrors.ErrCodeInternal,
		Message: "Internal error",
	}
}

// Status is the HTTP status for err.
func Status(err error) int {
	return Classify(err, time.Now()).Status
}

// RetryAfter rounds the wait until resetAt up to whole seconds, at least one.
func RetryAfter(resetAt, now time.Time) time.Duration {
	secs := math.Ceil(resetAt.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}
