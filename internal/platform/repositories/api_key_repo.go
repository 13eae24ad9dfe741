package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"divgate/internal/platform/models"
)

const credentialColumns = `id, account_id, name, key_hash, key_prefix, tier, is_active, last_used_at, expires_at, created_at, revoked_at`

// CredentialRepository stores issued API keys in the api_keys table.
type CredentialRepository struct {
	db *sql.DB
}

func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) Create(ctx context.Context, cred *models.APICredential) error {
	if cred.ID == "" {
		cred.ID = "key_" + uuid.New().String()
	}
	if cred.CreatedAt == 0 {
		cred.CreatedAt = time.Now().Unix()
	}
	cred.IsActive = true

	query := `
		INSERT INTO api_keys (id, account_id, name, key_hash, key_prefix, tier, is_active, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query, cred.ID, cred.AccountID, cred.Name, cred.KeyHash, cred.KeyPrefix, cred.Tier, cred.IsActive, nullableInt(cred.ExpiresAt), cred.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// LookupByHash returns nil, nil when no key has the hash.
func (r *CredentialRepository) LookupByHash(ctx context.Context, hash string) (*models.APICredential, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM api_keys WHERE key_hash = ?`, hash)
	return scanCredential(row)
}

// GetByID returns nil, nil when the key does not exist.
func (r *CredentialRepository) GetByID(ctx context.Context, id string) (*models.APICredential, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM api_keys WHERE id = ?`, id)
	return scanCredential(row)
}

func (r *CredentialRepository) ListByAccount(ctx context.Context, accountID string) ([]*models.APICredential, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+credentialColumns+` FROM api_keys WHERE account_id = ? ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []*models.APICredential{}
	for rows.Next() {
		k, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Revoke soft-disables a key. It reports false if the key does not exist.
// Revoking twice keeps the first revocation time.
func (r *CredentialRepository) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE api_keys SET is_active = 0, revoked_at = COALESCE(revoked_at, ?) WHERE id = ?
	`, at.Unix(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Rotate replaces the secret of an active key in place. The key id, and
// with it the quota counters, are unchanged.
func (r *CredentialRepository) Rotate(ctx context.Context, id, newHash, newPrefix string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE api_keys SET key_hash = ?, key_prefix = ? WHERE id = ? AND is_active = 1 AND revoked_at IS NULL
	`, newHash, newPrefix, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (r *CredentialRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ? AND (last_used_at IS NULL OR last_used_at < ?)`, at.Unix(), id, at.Unix())
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCredential(row rowScanner) (*models.APICredential, error) {
	var k models.APICredential
	var lastUsedAt, expiresAt, revokedAt sql.NullInt64

	err := row.Scan(&k.ID, &k.AccountID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Tier, &k.IsActive, &lastUsedAt, &expiresAt, &k.CreatedAt, &revokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	k.LastUsedAt = intPtr(lastUsedAt)
	k.ExpiresAt = intPtr(expiresAt)
	k.RevokedAt = intPtr(revokedAt)
	return &k, nil
}
