package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	apiContext "divgate/internal/api/context"
	"divgate/internal/pkg/errors"
	"divgate/internal/platform/models"
)

type AuditLister interface {
	ListByAccount(ctx context.Context, accountID string, before int64, limit int) ([]*models.AuditRecord, error)
}

const (
	defaultAuditPage = 100
	maxAuditPage     = 500
)

type AuditHandler struct {
	audit AuditLister
}

func NewAuditHandler(audit AuditLister) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// List pages backwards through an account's request log. ?before is a unix
// timestamp cursor; the oldest created_at of a page is the next cursor.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	accountID := params.ByName("account_id")
	q := r.URL.Query()

	var before int64
	if raw := q.Get("before"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "before must be a unix timestamp", nil)
			return
		}
		before = v
	}

	limit := defaultAuditPage
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "limit must be a positive integer", nil)
			return
		}
		if v > maxAuditPage {
			v = maxAuditPage
		}
		limit = v
	}

	records, err := h.audit.ListByAccount(r.Context(), accountID, before, limit)
	if err != nil {
		log.Error().Err(err).Str("account_id", accountID).Msg("failed to list audit records")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list audit records", nil)
		return
	}
	if records == nil {
		records = []*models.AuditRecord{}
	}
	errors.WriteJSON(w, http.StatusOK, records)
}
