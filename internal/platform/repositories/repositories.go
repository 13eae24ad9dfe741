package repositories

import (
	"database/sql"
	"errors"
)

// ErrConflict is returned when a write targets a row in a state that does
// not allow it, such as rotating a revoked key.
var ErrConflict = errors.New("conflicting state")

func nullableInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func stringOrEmpty(v sql.NullString) string {
	if !v.Valid {
		return ""
	}
	return v.String
}
