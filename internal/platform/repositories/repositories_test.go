package repositories

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"divgate/internal/engine/quota"
	"divgate/internal/engine/tiers"
	"divgate/internal/platform/config"
	"divgate/internal/platform/database"
	"divgate/internal/platform/models"
	"divgate/migrations"
)

func setupTestDB(t *testing.T, conns int) *sql.DB {
	t.Helper()
	db, err := database.NewGlobalDB(config.GlobalDBConfig{
		URL:            filepath.Join(t.TempDir(), "divgate.db"),
		MaxConnections: conns,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = database.Migrate(context.Background(), db, migrations.Global, "global")
	require.NoError(t, err)
	return db
}

func TestCredentialRepository_Lifecycle(t *testing.T) {
	db := setupTestDB(t, 1)
	repo := NewCredentialRepository(db)
	ctx := context.Background()

	exp := time.Now().Add(24 * time.Hour).Unix()
	cred := &models.APICredential{AccountID: "acct_1", Name: "ci", KeyHash: "hash_a", KeyPrefix: "dvd_live_abc...", Tier: "pro", ExpiresAt: &exp}
	require.NoError(t, repo.Create(ctx, cred))
	require.NotEmpty(t, cred.ID)

	got, err := repo.LookupByHash(ctx, "hash_a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cred.ID, got.ID)
	assert.Equal(t, "pro", got.Tier)
	assert.True(t, got.IsActive)
	require.NotNil(t, got.ExpiresAt)
	assert.Equal(t, exp, *got.ExpiresAt)
	assert.Nil(t, got.RevokedAt)

	missing, err := repo.LookupByHash(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, repo.Create(ctx, &models.APICredential{AccountID: "acct_1", KeyHash: "hash_b", KeyPrefix: "p", Tier: "free", CreatedAt: 1}))
	list, err := repo.ListByAccount(ctx, "acct_1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, cred.ID, list[0].ID, "newest first")

	at := time.Unix(1_760_000_000, 0)
	require.NoError(t, repo.TouchLastUsed(ctx, cred.ID, at))
	require.NoError(t, repo.TouchLastUsed(ctx, cred.ID, at.Add(-time.Hour)), "older touch is ignored")
	got, _ = repo.GetByID(ctx, cred.ID)
	assert.Equal(t, at.Unix(), *got.LastUsedAt)

	require.NoError(t, repo.Rotate(ctx, cred.ID, "hash_c", "dvd_live_def..."))
	old, _ := repo.LookupByHash(ctx, "hash_a")
	assert.Nil(t, old)
	rotated, _ := repo.LookupByHash(ctx, "hash_c")
	require.NotNil(t, rotated)
	assert.Equal(t, cred.ID, rotated.ID)

	ok, err := repo.Revoke(ctx, cred.ID, at)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.Revoke(ctx, cred.ID, at.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
	got, _ = repo.GetByID(ctx, cred.ID)
	assert.False(t, got.IsActive)
	assert.Equal(t, at.Unix(), *got.RevokedAt, "first revocation time is kept")

	assert.ErrorIs(t, repo.Rotate(ctx, cred.ID, "hash_d", "x"), ErrConflict)

	ok, err = repo.Revoke(ctx, "key_missing", at)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCounterRepository_ConcurrentBurst(t *testing.T) {
	db := setupTestDB(t, 4)
	enforcer := quota.NewEnforcer(NewCounterRepository(db))
	policy := tiers.Policy{Name: "free", MonthlyCallLimit: 10000, CallsPerMinute: 10, BurstLimit: 20}
	now := time.Date(2026, 7, 1, 12, 0, 5, 0, time.UTC)

	var admitted, rejected atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := enforcer.CheckAndConsume(context.Background(), "key_1", policy, now)
			var exceeded *quota.ExceededError
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.As(err, &exceeded):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(20), admitted.Load())
	assert.Equal(t, int64(5), rejected.Load())

	res, err := enforcer.Peek(context.Background(), "key_1", policy, now)
	require.NoError(t, err)
	assert.Equal(t, int64(20), res.Minute.Used)
	assert.Equal(t, int64(20), res.Monthly.Used)

	// The next minute starts fresh while the month keeps counting.
	res, err = enforcer.CheckAndConsume(context.Background(), "key_1", policy, now.Truncate(time.Minute).Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Minute.Used)
	assert.Equal(t, int64(21), res.Monthly.Used)
}

func TestCounterRepository_BacksMemoryStore(t *testing.T) {
	db := setupTestDB(t, 1)
	repo := NewCounterRepository(db)
	ctx := context.Background()
	policy := tiers.Policy{Name: "free", MonthlyCallLimit: 5, CallsPerMinute: 10, BurstLimit: 10}
	now := time.Date(2026, 7, 15, 8, 0, 0, 0, time.UTC)

	first := quota.NewMemoryStore(quota.MemoryStoreConfig{Loader: repo})
	e := quota.NewEnforcer(first)
	for i := 0; i < 3; i++ {
		_, err := e.CheckAndConsume(ctx, "key_1", policy, now)
		require.NoError(t, err)
	}
	n, err := quota.WriteBehind{Store: first, Saver: repo}.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// A fresh process hydrates from the table and keeps counting.
	second := quota.NewEnforcer(quota.NewMemoryStore(quota.MemoryStoreConfig{Loader: repo}))
	res, err := second.CheckAndConsume(ctx, "key_1", policy, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Monthly.Used)
	assert.Equal(t, int64(1), res.Minute.Used)

	// An older snapshot never overwrites a newer window.
	require.NoError(t, repo.SaveWindows(ctx, []models.UsageWindow{{
		CredentialID: "key_1", Window: "monthly", Usage: 99, WindowStart: now.AddDate(0, -1, 0).Unix(), UpdatedAt: now.Unix(),
	}}))
	windows, err := repo.LoadWindows(ctx, "key_1")
	require.NoError(t, err)
	for _, w := range windows {
		if w.Window == "monthly" {
			assert.Equal(t, int64(3), w.Usage)
		}
	}

	pruned, err := repo.PruneBefore(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)
}

func TestCounterRepository_StoreErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewCounterRepository(db)
	limits := []quota.Limit{{Window: quota.WindowMonthly, Max: 10}, {Window: quota.WindowMinute, Max: 5}}
	now := time.Now()

	t.Run("begin fails", func(t *testing.T) {
		mock.ExpectBegin().WillReturnError(errors.New("database is locked"))
		_, err := repo.ResetIfExpiredAndIncrement(context.Background(), "key_1", limits, now)
		assert.ErrorContains(t, err, "database is locked")
	})

	t.Run("read fails and rolls back", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT usage, window_start FROM usage_windows").
			WithArgs("key_1", "monthly").
			WillReturnError(errors.New("disk I/O error"))
		mock.ExpectRollback()

		_, err := repo.ResetIfExpiredAndIncrement(context.Background(), "key_1", limits, now)
		assert.ErrorContains(t, err, "read monthly window")
	})

	t.Run("rejected call writes nothing", func(t *testing.T) {
		start, _ := quota.WindowMinute.Bounds(now)
		mstart, _ := quota.WindowMonthly.Bounds(now)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT usage, window_start FROM usage_windows").
			WithArgs("key_1", "monthly").
			WillReturnRows(sqlmock.NewRows([]string{"usage", "window_start"}).AddRow(3, mstart.Unix()))
		mock.ExpectQuery("SELECT usage, window_start FROM usage_windows").
			WithArgs("key_1", "minute").
			WillReturnRows(sqlmock.NewRows([]string{"usage", "window_start"}).AddRow(5, start.Unix()))
		mock.ExpectRollback()

		out, err := repo.ResetIfExpiredAndIncrement(context.Background(), "key_1", limits, now)
		require.NoError(t, err)
		assert.False(t, out.Admitted)
		assert.Equal(t, quota.WindowMinute, out.Rejected)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository(t *testing.T) {
	db := setupTestDB(t, 1)
	repo := NewAuditRepository(db)
	ctx := context.Background()

	for i := int64(0); i < 5; i++ {
		require.NoError(t, repo.Append(ctx, &models.AuditRecord{
			AccountID: "acct_1", CredentialID: "key_1", Endpoint: "/v1/dividends/:symbol", Method: "GET",
			StatusCode: 200, ClientKind: "python", LatencyMS: 3, CreatedAt: 1000 + i,
		}))
	}
	require.NoError(t, repo.Append(ctx, &models.AuditRecord{AccountID: "acct_2", CredentialID: "key_2", Endpoint: "/v1/usage", Method: "GET", StatusCode: 429, CreatedAt: 1000}))

	logs, err := repo.ListByAccount(ctx, "acct_1", 0, 3)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, int64(1004), logs[0].CreatedAt)

	older, err := repo.ListByAccount(ctx, "acct_1", 1002, 10)
	require.NoError(t, err)
	assert.Len(t, older, 2)

	n, err := repo.PruneBefore(ctx, time.Unix(1003, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestDividendRepository(t *testing.T) {
	db := setupTestDB(t, 1)
	_, err := db.Exec(`
		INSERT INTO dividends (symbol, ex_date, pay_date, amount, currency, frequency) VALUES
			('SCHD', '2024-03-20', '2024-03-25', 0.61, 'USD', 'quarterly'),
			('SCHD', '2026-03-25', NULL, 0.25, 'USD', 'quarterly'),
			('VYM', '2026-03-23', '2026-03-27', 0.83, 'USD', 'quarterly');
		INSERT INTO dividend_quotes (symbol, observed_at, price, dividend_yield) VALUES
			('SCHD', 100, 27.1, 0.0371),
			('SCHD', 200, 27.3, 0.0368);
	`)
	require.NoError(t, err)

	repo := NewDividendRepository(db)
	ctx := context.Background()

	rows, err := repo.History(ctx, []string{"SCHD"}, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2026-03-25", rows[0].ExDate)
	assert.Empty(t, rows[0].PayDate)

	bulk, err := repo.History(ctx, []string{"SCHD", "VYM"}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, bulk, 3)

	quotes, err := repo.Intraday(ctx, "SCHD", time.Unix(150, 0))
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, 27.3, quotes[0].Price)
}
