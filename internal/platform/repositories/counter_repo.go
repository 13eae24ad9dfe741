package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"divgate/internal/engine/quota"
	"divgate/internal/platform/models"
)

// CounterRepository keeps quota windows in the usage_windows table. It is
// the SQL counter backend, and the loader and write-behind target of the
// in-memory backend.
type CounterRepository struct {
	db *sql.DB
}

func NewCounterRepository(db *sql.DB) *CounterRepository {
	return &CounterRepository{db: db}
}

func (r *CounterRepository) ResetIfExpiredAndIncrement(ctx context.Context, credentialID string, limits []quota.Limit, now time.Time) (quota.Outcome, error) {
	return r.apply(ctx, credentialID, limits, now, true)
}

func (r *CounterRepository) Peek(ctx context.Context, credentialID string, limits []quota.Limit, now time.Time) (quota.Outcome, error) {
	return r.apply(ctx, credentialID, limits, now, false)
}

// apply runs read, evaluate and write in one transaction. On sqlite the
// connection DSN opens transactions with BEGIN IMMEDIATE, which serialises
// concurrent callers on the write lock before the read.
func (r *CounterRepository) apply(ctx context.Context, credentialID string, limits []quota.Limit, now time.Time, consume bool) (quota.Outcome, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return quota.Outcome{}, fmt.Errorf("begin counter tx: %w", err)
	}
	defer tx.Rollback()

	states := make([]quota.WindowState, len(limits))
	for i, l := range limits {
		var usage, start int64
		err := tx.QueryRowContext(ctx, `
			SELECT usage, window_start FROM usage_windows WHERE credential_id = ? AND window_kind = ?
		`, credentialID, string(l.Window)).Scan(&usage, &start)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return quota.Outcome{}, fmt.Errorf("read %s window: %w", l.Window, err)
		default:
			states[i] = quota.WindowState{Usage: usage, WindowStart: time.Unix(start, 0).UTC()}
		}
	}

	next, out := quota.Evaluate(states, limits, now, consume)
	if !consume || !out.Admitted {
		return out, nil
	}

	for i, l := range limits {
		if err := upsertWindow(ctx, tx, models.UsageWindow{
			CredentialID: credentialID,
			Window:       string(l.Window),
			Usage:        next[i].Usage,
			WindowStart:  next[i].WindowStart.Unix(),
			UpdatedAt:    now.Unix(),
		}); err != nil {
			return quota.Outcome{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return quota.Outcome{}, fmt.Errorf("commit counter tx: %w", err)
	}
	return out, nil
}

// LoadWindows returns the persisted windows of one credential.
func (r *CounterRepository) LoadWindows(ctx context.Context, credentialID string) ([]models.UsageWindow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT credential_id, window_kind, usage, window_start, updated_at FROM usage_windows WHERE credential_id = ?
	`, credentialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.UsageWindow
	for rows.Next() {
		var w models.UsageWindow
		if err := rows.Scan(&w.CredentialID, &w.Window, &w.Usage, &w.WindowStart, &w.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// SaveWindows upserts a batch in one transaction. A row for a newer window
// is never overwritten by an older snapshot.
func (r *CounterRepository) SaveWindows(ctx context.Context, windows []models.UsageWindow) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save windows: %w", err)
	}
	defer tx.Rollback()

	for _, w := range windows {
		if err := upsertWindow(ctx, tx, w); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// PruneBefore deletes windows not updated since cutoff.
func (r *CounterRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM usage_windows WHERE updated_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func upsertWindow(ctx context.Context, tx *sql.Tx, w models.UsageWindow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO usage_windows (credential_id, window_kind, usage, window_start, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (credential_id, window_kind) DO UPDATE SET
			usage = excluded.usage,
			window_start = excluded.window_start,
			updated_at = excluded.updated_at
		WHERE excluded.window_start >= usage_windows.window_start
	`, w.CredentialID, w.Window, w.Usage, w.WindowStart, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert %s window: %w", w.Window, err)
	}
	return nil
}

var _ quota.CounterStore = (*CounterRepository)(nil)
