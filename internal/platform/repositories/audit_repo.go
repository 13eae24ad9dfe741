package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"divgate/internal/platform/models"
)

// AuditRepository is the audit sink backed by the audit_logs table.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, rec *models.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = "aud_" + uuid.New().String()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().Unix()
	}

	query := `
		INSERT INTO audit_logs (id, account_id, credential_id, endpoint, method, status_code, client_ip, user_agent, client_kind, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, rec.ID, rec.AccountID, rec.CredentialID, rec.Endpoint, rec.Method, rec.StatusCode, rec.ClientIP, rec.UserAgent, rec.ClientKind, rec.LatencyMS, rec.CreatedAt)
	return err
}

// ListByAccount returns the newest records first. before, when non-zero,
// pages backwards from that unix time.
func (r *AuditRepository) ListByAccount(ctx context.Context, accountID string, before int64, limit int) ([]*models.AuditRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if before <= 0 {
		before = time.Now().Unix() + 1
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, credential_id, endpoint, method, status_code, client_ip, user_agent, client_kind, latency_ms, created_at
		FROM audit_logs WHERE account_id = ? AND created_at < ?
		ORDER BY created_at DESC LIMIT ?
	`, accountID, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []*models.AuditRecord{}
	for rows.Next() {
		var rec models.AuditRecord
		if err := rows.Scan(&rec.ID, &rec.AccountID, &rec.CredentialID, &rec.Endpoint, &rec.Method, &rec.StatusCode, &rec.ClientIP, &rec.UserAgent, &rec.ClientKind, &rec.LatencyMS, &rec.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, &rec)
	}
	return logs, rows.Err()
}

func (r *AuditRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
