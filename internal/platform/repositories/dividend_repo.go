package repositories

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"divgate/internal/platform/models"
)

// DividendRepository serves dividend history and intraday quotes.
type DividendRepository struct {
	db *sql.DB
}

func NewDividendRepository(db *sql.DB) *DividendRepository {
	return &DividendRepository{db: db}
}

// History returns dividends for the symbols with ex_date on or after from,
// oldest first.
func (r *DividendRepository) History(ctx context.Context, symbols []string, from time.Time) ([]models.Dividend, error) {
	if len(symbols) == 0 {
		return []models.Dividend{}, nil
	}

	args := make([]interface{}, 0, len(symbols)+1)
	for _, s := range symbols {
		args = append(args, s)
	}
	args = append(args, from.UTC().Format("2006-01-02"))

	query := `
		SELECT symbol, ex_date, pay_date, record_date, declaration_date, amount, currency, frequency
		FROM dividends
		WHERE symbol IN (?` + strings.Repeat(", ?", len(symbols)-1) + `) AND ex_date >= ?
		ORDER BY symbol, ex_date
	`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Dividend{}
	for rows.Next() {
		var d models.Dividend
		var payDate, recordDate, declDate sql.NullString
		if err := rows.Scan(&d.Symbol, &d.ExDate, &payDate, &recordDate, &declDate, &d.Amount, &d.Currency, &d.Frequency); err != nil {
			return nil, err
		}
		d.PayDate = stringOrEmpty(payDate)
		d.RecordDate = stringOrEmpty(recordDate)
		d.DeclarationDate = stringOrEmpty(declDate)
		out = append(out, d)
	}
	return out, rows.Err()
}

// Intraday returns quotes observed since the given time, newest first.
func (r *DividendRepository) Intraday(ctx context.Context, symbol string, since time.Time) ([]models.DividendQuote, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, observed_at, price, dividend_yield FROM dividend_quotes
		WHERE symbol = ? AND observed_at >= ? ORDER BY observed_at DESC
	`, symbol, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.DividendQuote{}
	for rows.Next() {
		var q models.DividendQuote
		if err := rows.Scan(&q.Symbol, &q.ObservedAt, &q.Price, &q.DividendYield); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
