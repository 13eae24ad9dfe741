package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // For local development or as fallback
	// _ "github.com/tursodatabase/libsql-client-go/libsql" // Uncomment when using Turso

	"divgate/internal/platform/config"
)

// sqlitePragmas make every sqlite transaction take the write lock up front,
// so a read-check-write transaction cannot interleave with another writer.
const sqlitePragmas = "_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"

// Driver picks the database/sql driver name for a configured URL.
func Driver(rawURL string) string {
	if strings.HasPrefix(rawURL, "libsql://") {
		return "libsql"
	}
	return "sqlite3"
}

// DSN turns the configured URL into a driver DSN. Local sqlite files get the
// locking pragmas; libsql URLs get the auth token appended.
func DSN(cfg config.GlobalDBConfig) string {
	if Driver(cfg.URL) == "libsql" {
		if cfg.AuthToken == "" {
			return cfg.URL
		}
		sep := "?"
		if strings.Contains(cfg.URL, "?") {
			sep = "&"
		}
		return cfg.URL + sep + "authToken=" + url.QueryEscape(cfg.AuthToken)
	}

	dsn := strings.TrimPrefix(cfg.URL, "file:")
	if strings.Contains(dsn, "?") {
		return "file:" + dsn + "&" + sqlitePragmas
	}
	return "file:" + dsn + "?" + sqlitePragmas
}

func NewGlobalDB(cfg config.GlobalDBConfig) (*sql.DB, error) {
	db, err := sql.Open(Driver(cfg.URL), DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}
