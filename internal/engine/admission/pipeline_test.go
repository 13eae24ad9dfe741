package admission

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"divgate/internal/engine/features"
	"divgate/internal/engine/keys"
	"divgate/internal/engine/quota"
	"divgate/internal/engine/tiers"
	"divgate/internal/pkg/metrics"
	"divgate/internal/platform/models"
)

var now = time.Date(2026, 5, 20, 9, 15, 30, 0, time.UTC)

type memCredentials struct {
	byHash map[string]*models.APICredential
	err    error
	block  bool
}

func (m *memCredentials) LookupByHash(ctx context.Context, hash string) (*models.APICredential, error) {
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.byHash[hash]
	if !ok {
		return nil, keys.ErrNotFound
	}
	return c, nil
}

type failingStore struct{ err error }

func (f failingStore) ResetIfExpiredAndIncrement(ctx context.Context, id string, limits []quota.Limit, now time.Time) (quota.Outcome, error) {
	return quota.Outcome{}, f.err
}

func (f failingStore) Peek(ctx context.Context, id string, limits []quota.Limit, now time.Time) (quota.Outcome, error) {
	return quota.Outcome{}, f.err
}

type fixture struct {
	pipeline *Pipeline
	creds    *memCredentials
	store    quota.CounterStore
	metrics  *metrics.Collector
	secrets  map[string]string
}

func newFixture(t *testing.T, store quota.CounterStore, policies []tiers.Policy) *fixture {
	t.Helper()
	if policies == nil {
		policies = tiers.Defaults()
	}
	reg, err := tiers.NewRegistry(policies)
	require.NoError(t, err)

	f := &fixture{
		creds:   &memCredentials{byHash: map[string]*models.APICredential{}},
		store:   store,
		metrics: metrics.NewWithRegistry(prometheus.NewRegistry()),
		secrets: map[string]string{},
	}
	if f.store == nil {
		f.store = quota.NewMemoryStore(quota.MemoryStoreConfig{})
	}
	for _, p := range policies {
		secret, hash, display, err := keys.Generate("dvd_test_")
		require.NoError(t, err)
		f.creds.byHash[hash] = &models.APICredential{
			ID: "key_" + p.Name, AccountID: "acct_" + p.Name, KeyHash: hash, KeyPrefix: display, Tier: p.Name, IsActive: true,
		}
		f.secrets[p.Name] = secret
	}

	f.pipeline = NewPipeline(
		keys.NewResolver(f.creds, keys.ResolverConfig{KeyPrefix: "dvd_test_"}),
		reg,
		features.NewGate(reg),
		quota.NewEnforcer(f.store),
		Config{StoreTimeout: 50 * time.Millisecond, Now: func() time.Time { return now }, Metrics: f.metrics},
	)
	return f
}

func TestPipeline_AdmitsAndReportsQuota(t *testing.T) {
	f := newFixture(t, nil, nil)

	d, err := f.pipeline.Admit(context.Background(), AdmitRequest{Secret: f.secrets["starter"]})
	require.NoError(t, err)
	assert.Equal(t, "key_starter", d.Credential.ID)
	assert.Equal(t, "starter", d.Policy.Name)
	assert.Equal(t, int64(1), d.Quota.Monthly.Used)
	assert.Equal(t, int64(100000-1), d.Quota.Monthly.Remaining())
	assert.Equal(t, int64(59), d.Quota.Minute.Remaining())
	assert.Equal(t, int64(30), d.Quota.CallsPerMinute)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AdmissionDecisions.WithLabelValues("starter", "admitted")))
}

func TestPipeline_MonthlyQuotaScenario(t *testing.T) {
	small := []tiers.Policy{{Name: "free", MonthlyCallLimit: 20, CallsPerMinute: 100, BurstLimit: 100, HistoricalYearsLimit: 1}}
	f := newFixture(t, nil, small)

	var admitted, rejected int
	for i := 0; i < 25; i++ {
		_, err := f.pipeline.Admit(context.Background(), AdmitRequest{Secret: f.secrets["free"]})
		if err == nil {
			admitted++
			continue
		}
		var exceeded *QuotaExceededError
		require.True(t, errors.As(err, &exceeded))
		assert.Equal(t, quota.WindowMonthly, exceeded.Window)
		assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), exceeded.ResetAt)
		assert.Equal(t, http.StatusTooManyRequests, Status(err))
		rejected++
	}
	assert.Equal(t, 20, admitted)
	assert.Equal(t, 5, rejected)
}

func TestPipeline_FeatureGateDoesNotSpendBudget(t *testing.T) {
	f := newFixture(t, nil, nil)
	bulk := features.Requirement{Capability: tiers.FeatureBulk}

	d, err := f.pipeline.Admit(context.Background(), AdmitRequest{Secret: f.secrets["free"], Requirement: bulk})
	var notAllowed *FeatureNotAllowedError
	require.True(t, errors.As(err, &notAllowed))
	assert.Equal(t, "pro", notAllowed.RequiredTier)
	assert.Equal(t, http.StatusForbidden, Status(err))
	require.NotNil(t, d, "authenticated rejections carry the credential")
	assert.Equal(t, "key_free", d.Credential.ID)

	reg, _ := tiers.NewRegistry(tiers.Defaults())
	res, err := quota.NewEnforcer(f.store).Peek(context.Background(), "key_free", reg.PolicyFor("free"), now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Monthly.Used)
	assert.Equal(t, int64(0), res.Minute.Used)

	_, err = f.pipeline.Admit(context.Background(), AdmitRequest{Secret: f.secrets["enterprise"], Requirement: bulk})
	assert.NoError(t, err)
}

func TestPipeline_HistoricalRange(t *testing.T) {
	f := newFixture(t, nil, nil)
	from := now.AddDate(-3, 0, 0)

	_, err := f.pipeline.Admit(context.Background(), AdmitRequest{
		Secret:      f.secrets["free"],
		Requirement: features.Requirement{From: &from},
	})
	var rangeErr *HistoricalRangeExceededError
	require.True(t, errors.As(err, &rangeErr))
	assert.Equal(t, int64(1), rangeErr.MaxYears)
	assert.Equal(t, int64(3), rangeErr.Requested)

	recent := now.AddDate(0, -6, 0)
	_, err = f.pipeline.Admit(context.Background(), AdmitRequest{
		Secret:      f.secrets["free"],
		Requirement: features.Requirement{From: &recent},
	})
	assert.NoError(t, err)
}

func TestPipeline_InvalidParameterReportedAfterAuthentication(t *testing.T) {
	f := newFixture(t, nil, nil)
	bad := errors.New(`parsing time "20200101"`)

	_, err := f.pipeline.Admit(context.Background(), AdmitRequest{Invalid: bad})
	var authErr *AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, keys.AuthMissing, authErr.Reason)
	assert.Equal(t, http.StatusUnauthorized, Status(err))

	d, err := f.pipeline.Admit(context.Background(), AdmitRequest{Secret: f.secrets["free"], Invalid: bad})
	var invalid *InvalidRequestError
	require.True(t, errors.As(err, &invalid))
	assert.ErrorIs(t, err, bad)
	require.NotNil(t, d)
	assert.Equal(t, "key_free", d.Credential.ID)

	rej := Classify(err, now)
	assert.Equal(t, http.StatusBadRequest, rej.Status)
	assert.Equal(t, "INVALID_INPUT", rej.Code)

	reg, _ := tiers.NewRegistry(tiers.Defaults())
	res, err := quota.NewEnforcer(f.store).Peek(context.Background(), "key_free", reg.PolicyFor("free"), now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Monthly.Used)
}

func TestPipeline_AuthFailures(t *testing.T) {
	f := newFixture(t, nil, nil)
	for cred := range f.creds.byHash {
		if f.creds.byHash[cred].Tier == "pro" {
			f.creds.byHash[cred].IsActive = false
		}
		if f.creds.byHash[cred].Tier == "starter" {
			exp := now.Add(-time.Second).Unix()
			f.creds.byHash[cred].ExpiresAt = &exp
		}
	}

	tests := []struct {
		name   string
		secret string
		reason keys.AuthReason
	}{
		{"missing", "", keys.AuthMissing},
		{"malformed", "not-a-key", keys.AuthInvalid},
		{"unknown", "dvd_test_" + "00000000000000000000000000000000000000000000000000000000000000ff", keys.AuthInvalid},
		{"inactive", f.secrets["pro"], keys.AuthInactive},
		{"expired", f.secrets["starter"], keys.AuthExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := f.pipeline.Admit(context.Background(), AdmitRequest{Secret: tt.secret})
			assert.Nil(t, d)
			var authErr *AuthError
			require.True(t, errors.As(err, &authErr))
			assert.Equal(t, tt.reason, authErr.Reason)
			assert.Equal(t, http.StatusUnauthorized, Status(err))
		})
	}
}

func TestPipeline_StoreFailuresFailClosed(t *testing.T) {
	t.Run("credential store timeout", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		f.creds.block = true

		start := time.Now()
		d, err := f.pipeline.Admit(context.Background(), AdmitRequest{Secret: f.secrets["enterprise"]})
		assert.Less(t, time.Since(start), time.Second)
		assert.Nil(t, d)

		var unavailable *ServiceUnavailableError
		require.True(t, errors.As(err, &unavailable))
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
		assert.Equal(t, http.StatusServiceUnavailable, Status(err))
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StoreErrors.WithLabelValues("resolve")))
	})

	t.Run("counter store error", func(t *testing.T) {
		f := newFixture(t, failingStore{err: errors.New("connection refused")}, nil)

		_, err := f.pipeline.Admit(context.Background(), AdmitRequest{Secret: f.secrets["enterprise"]})
		var unavailable *ServiceUnavailableError
		require.True(t, errors.As(err, &unavailable))
		assert.Equal(t, "consume quota", unavailable.Op)
		assert.Equal(t, http.StatusServiceUnavailable, Status(err))
	})
}

func TestClassify(t *testing.T) {
	reset := now.Add(29*time.Second + 200*time.Millisecond)

	minute := Classify(&QuotaExceededError{Window: quota.WindowMinute, Limit: 20, ResetAt: reset}, now)
	assert.Equal(t, http.StatusTooManyRequests, minute.Status)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", minute.Code)
	assert.Equal(t, 30*time.Second, minute.RetryAfter)
	assert.Equal(t, int64(30), minute.Details["retry_after"])

	monthly := Classify(&QuotaExceededError{Window: quota.WindowMonthly, Limit: 20, ResetAt: now}, now)
	assert.Equal(t, "QUOTA_EXCEEDED", monthly.Code)
	assert.Equal(t, time.Second, monthly.RetryAfter)

	expired := Classify(&AuthError{Reason: keys.AuthExpired}, now)
	assert.Equal(t, "KEY_EXPIRED", expired.Code)

	feature := Classify(&FeatureNotAllowedError{Feature: "bulk-access", RequiredTier: "pro", UpgradeURL: "u"}, now)
	assert.Equal(t, http.StatusForbidden, feature.Status)
	assert.Equal(t, "pro", feature.Details["required_tier"])

	assert.Equal(t, http.StatusInternalServerError, Classify(errors.New("boom"), now).Status)
}
