package database

import (
	"context"
	"database/sql"
)

// GlobalDB is the shared handle injected into handlers that only need to
// report on the database rather than query it.
type GlobalDB struct {
	DB *sql.DB
}

func NewGlobalDBWrapper(db *sql.DB) *GlobalDB {
	return &GlobalDB{DB: db}
}

func (g *GlobalDB) Ping(ctx context.Context) error {
	return g.DB.PingContext(ctx)
}
