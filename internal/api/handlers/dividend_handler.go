package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	apiContext "divgate/internal/api/context"
	"divgate/internal/engine/features"
	"divgate/internal/pkg/errors"
	"divgate/internal/pkg/validator"
	"divgate/internal/platform/models"
)

// DividendSource is the read side of the dividend store.
type DividendSource interface {
	History(ctx context.Context, symbols []string, from time.Time) ([]models.Dividend, error)
	Intraday(ctx context.Context, symbol string, since time.Time) ([]models.DividendQuote, error)
}

const maxBulkSymbols = 50

type DividendHandler struct {
	source DividendSource
	now    func() time.Time
}

func NewDividendHandler(source DividendSource) *DividendHandler {
	return &DividendHandler{source: source, now: time.Now}
}

// History serves GET /v1/dividends/:symbol. Without ?from the last year is
// returned, which every tier may read.
func (h *DividendHandler) History(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	symbol, err := validator.Symbol(params.ByName("symbol"))
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid symbol", nil)
		return
	}

	rows, err := h.source.History(r.Context(), []string{symbol}, h.from(r))
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("failed to load dividend history")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load dividends", nil)
		return
	}
	if len(rows) == 0 {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "No dividends found for symbol", map[string]string{"symbol": symbol})
		return
	}

	errors.WriteJSON(w, http.StatusOK, struct {
		Symbol    string            `json:"symbol"`
		Dividends []models.Dividend `json:"dividends"`
	}{Symbol: symbol, Dividends: rows})
}

// Intraday serves GET /v1/dividends/:symbol/intraday with the last 24 hours.
func (h *DividendHandler) Intraday(w http.ResponseWriter, r *http.Request) {
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	symbol, err := validator.Symbol(params.ByName("symbol"))
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid symbol", nil)
		return
	}

	quotes, err := h.source.Intraday(r.Context(), symbol, h.now().Add(-24*time.Hour))
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("failed to load intraday quotes")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load quotes", nil)
		return
	}
	if len(quotes) == 0 {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "No intraday data for symbol", map[string]string{"symbol": symbol})
		return
	}

	errors.WriteJSON(w, http.StatusOK, struct {
		Symbol string                 `json:"symbol"`
		Quotes []models.DividendQuote `json:"quotes"`
	}{Symbol: symbol, Quotes: quotes})
}

// Bulk serves GET /v1/bulk/dividends?symbols=A,B&from=.
func (h *DividendHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	symbols, err := validator.Symbols(r.URL.Query().Get("symbols"), maxBulkSymbols)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	rows, err := h.source.History(r.Context(), symbols, h.from(r))
	if err != nil {
		log.Error().Err(err).Int("symbols", len(symbols)).Msg("failed to load bulk dividends")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load dividends", nil)
		return
	}

	bySymbol := make(map[string][]models.Dividend, len(symbols))
	for _, s := range symbols {
		bySymbol[s] = []models.Dividend{}
	}
	for _, d := range rows {
		bySymbol[d.Symbol] = append(bySymbol[d.Symbol], d)
	}

	errors.WriteJSON(w, http.StatusOK, struct {
		Dividends map[string][]models.Dividend `json:"dividends"`
	}{Dividends: bySymbol})
}

func (h *DividendHandler) from(r *http.Request) time.Time {
	if req, ok := r.Context().Value(apiContext.Requirement).(features.Requirement); ok && req.From != nil {
		return *req.From
	}
	return h.now().AddDate(-1, 0, 0)
}
