package middleware

import (
	"context"
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	apiContext "divgate/internal/api/context"
	"divgate/internal/engine/admission"
	"divgate/internal/engine/features"
	"divgate/internal/engine/tiers"
	"divgate/internal/engine/usage"
	"divgate/internal/pkg/errors"
	"divgate/internal/pkg/metrics"
)

type Admitter interface {
	Admit(ctx context.Context, req admission.AdmitRequest) (*admission.Decision, error)
}

type UsageRecorder interface {
	Record(ev usage.Event) bool
}

// RequirementFunc derives part of an endpoint's requirement from the
// request. An error is reported to an authenticated caller as 400.
type RequirementFunc func(r *http.Request, req *features.Requirement) error

type Admission struct {
	pipeline Admitter
	usage    UsageRecorder
	throttle *AuthFailureLimiter
	metrics  *metrics.Collector
}

func NewAdmission(pipeline Admitter, recorder UsageRecorder, throttle *AuthFailureLimiter, m *metrics.Collector) *Admission {
	return &Admission{pipeline: pipeline, usage: recorder, throttle: throttle, metrics: m}
}

// Capability requires a tier feature flag.
func Capability(name string) RequirementFunc {
	return func(r *http.Request, req *features.Requirement) error {
		req.Capability = name
		return nil
	}
}

// HistoryFrom gates on the earliest date in query parameter param
// (YYYY-MM-DD). An absent parameter adds no range requirement.
func HistoryFrom(param string) RequirementFunc {
	return func(r *http.Request, req *features.Requirement) error {
		raw := r.URL.Query().Get(param)
		if raw == "" {
			return nil
		}
		from, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return err
		}
		req.From = &from
		return nil
	}
}

// Require admits the request before next runs. endpoint is the route
// pattern recorded in the audit log.
func (m *Admission) Require(endpoint string, reqs ...RequirementFunc) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ip := ClientIP(r)

			var (
				requirement features.Requirement
				invalid     error
			)
			for _, fn := range reqs {
				if err := fn(r, &requirement); err != nil {
					invalid = err
					break
				}
			}

			if blocked, retry := m.throttle.Blocked(ip, start); blocked {
				m.metrics.ObservePreAuthThrottle()
				w.Header().Set("Retry-After", strconv.FormatInt(int64(admission.RetryAfter(start.Add(retry), start)/time.Second), 10))
				errors.WriteError(w, http.StatusTooManyRequests, errors.ErrCodeRateLimitExceeded, "Too many failed authentication attempts", nil)
				return
			}

			d, err := m.pipeline.Admit(r.Context(), admission.AdmitRequest{
				Secret:      ExtractSecret(r),
				Requirement: requirement,
				Invalid:     invalid,
			})
			if d != nil {
				SetQuotaHeaders(w, d)
			}

			if err != nil {
				now := start
				if d != nil {
					now = d.DecidedAt
				}
				rej := admission.Classify(err, now)
				var authErr *admission.AuthError
				if stderrors.As(err, &authErr) {
					m.throttle.Fail(ip, start)
				}
				if rej.RetryAfter > 0 {
					w.Header().Set("Retry-After", strconv.FormatInt(int64(rej.RetryAfter/time.Second), 10))
				}
				errors.WriteError(w, rej.Status, rej.Code, rej.Message, rej.Details)
				if d != nil {
					m.record(d, r, endpoint, rej.Status, start)
				}
				return
			}

			ctx := context.WithValue(r.Context(), apiContext.Credential, d.Credential)
			ctx = context.WithValue(ctx, apiContext.Policy, d.Policy)
			ctx = context.WithValue(ctx, apiContext.Decision, d)
			ctx = context.WithValue(ctx, apiContext.Requirement, requirement)

			sw := NewStatusWriter(w)
			next(sw, r.WithContext(ctx))
			m.record(d, r, endpoint, sw.Status(), start)
		}
	}
}

func (m *Admission) record(d *admission.Decision, r *http.Request, endpoint string, status int, start time.Time) {
	if m.usage == nil || d == nil || d.Credential == nil {
		return
	}
	m.usage.Record(usage.Event{
		CredentialID: d.Credential.ID,
		AccountID:    d.Credential.AccountID,
		Tier:         d.Policy.Name,
		Endpoint:     endpoint,
		Method:       r.Method,
		StatusCode:   status,
		ClientIP:     ClientIP(r),
		UserAgent:    r.UserAgent(),
		Latency:      time.Since(start),
		At:           start,
	})
}

// ExtractSecret reads the key from "Authorization: Bearer <key>" or, failing
// that, X-API-Key. A non-bearer Authorization value is passed through so it
// is rejected as invalid rather than missing.
func ExtractSecret(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return h
	}
	return r.Header.Get("X-API-Key")
}

// SetQuotaHeaders reports the tier and remaining budget. Rate headers are
// only set once the quota has been evaluated.
func SetQuotaHeaders(w http.ResponseWriter, d *admission.Decision) {
	h := w.Header()
	h.Set("X-Tier", d.Policy.Name)

	q := d.Quota
	if q.Minute.Limit == 0 {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.FormatInt(q.CallsPerMinute, 10))
	h.Set("X-RateLimit-Burst", strconv.FormatInt(q.Minute.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(q.Minute.Remaining(), 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(q.Minute.ResetAt.Unix(), 10))

	if q.Monthly.Limit == tiers.Unlimited {
		h.Set("X-Quota-Limit", "unlimited")
		h.Set("X-Quota-Remaining", "unlimited")
	} else {
		h.Set("X-Quota-Limit", strconv.FormatInt(q.Monthly.Limit, 10))
		h.Set("X-Quota-Remaining", strconv.FormatInt(q.Monthly.Remaining(), 10))
	}
	h.Set("X-Quota-Reset", strconv.FormatInt(q.Monthly.ResetAt.Unix(), 10))
}

// StatusWriter captures the status code written by a handler.
type StatusWriter struct {
	http.ResponseWriter
	status int
}

func NewStatusWriter(w http.ResponseWriter) *StatusWriter {
	return &StatusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (s *StatusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *StatusWriter) Status() int { return s.status }
