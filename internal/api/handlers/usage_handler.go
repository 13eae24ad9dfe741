package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apiContext "divgate/internal/api/context"
	"divgate/internal/engine/quota"
	"divgate/internal/engine/tiers"
	"divgate/internal/pkg/errors"
	"divgate/internal/platform/models"
)

type UsageReader interface {
	Peek(ctx context.Context, credentialID string, policy tiers.Policy, now time.Time) (quota.Result, error)
}

type UsageHandler struct {
	usage UsageReader
	now   func() time.Time
}

func NewUsageHandler(usage UsageReader) *UsageHandler {
	return &UsageHandler{usage: usage, now: time.Now}
}

type WindowView struct {
	Limit     *int64 `json:"limit"`
	Used      int64  `json:"used"`
	Remaining *int64 `json:"remaining"`
	ResetAt   int64  `json:"reset_at"`
}

type UsageResponse struct {
	CredentialID   string     `json:"credential_id"`
	Tier           PolicyView `json:"tier"`
	Monthly        WindowView `json:"monthly"`
	Minute         WindowView `json:"minute"`
	CallsPerMinute int64      `json:"calls_per_minute"`
}

// Get reports the caller's own usage, including the call being made.
func (h *UsageHandler) Get(w http.ResponseWriter, r *http.Request) {
	cred := r.Context().Value(apiContext.Credential).(*models.APICredential)
	policy := r.Context().Value(apiContext.Policy).(tiers.Policy)

	res, err := h.usage.Peek(r.Context(), cred.ID, policy, h.now())
	if err != nil {
		log.Error().Err(err).Str("credential_id", cred.ID).Msg("failed to read usage")
		errors.WriteError(w, http.StatusServiceUnavailable, errors.ErrCodeServiceUnavailable, "Usage is temporarily unavailable", nil)
		return
	}

	errors.WriteJSON(w, http.StatusOK, UsageResponse{
		CredentialID:   cred.ID,
		Tier:           NewPolicyView(policy),
		Monthly:        newWindowView(res.Monthly),
		Minute:         newWindowView(res.Minute),
		CallsPerMinute: res.CallsPerMinute,
	})
}

func newWindowView(u quota.WindowUsage) WindowView {
	v := WindowView{
		Limit:   bounded(u.Limit),
		Used:    u.Used,
		ResetAt: u.ResetAt.Unix(),
	}
	if v.Limit != nil {
		rem := u.Remaining()
		v.Remaining = &rem
	}
	return v
}

// bounded renders an unlimited value as JSON null.
func bounded(v int64) *int64 {
	if v == tiers.Unlimited {
		return nil
	}
	return &v
}
