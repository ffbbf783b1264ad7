package quota_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rssagg/db"
	"rssagg/models"
	"rssagg/quota"
)

func newSQLStore(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(db.DriverSQLite, filepath.Join(t.TempDir(), "quota.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate())
	t.Cleanup(func() { _ = database.Close() })
	return database
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func TestLimitsForScope(t *testing.T) {
	limits := quota.DefaultLimits()
	assert.Equal(t, 7, limits.ForScope(quota.ScopeGlobal))
	assert.Equal(t, 5, limits.ForScope(quota.ScopeAllSources))
	assert.Equal(t, 3, limits.ForScope("hacker-news"))
	assert.Equal(t, 30, limits.Total)
	assert.Equal(t, time.Hour, limits.Window)
}

func testQuotaArithmetic(t *testing.T, store quota.Store) {
	limits := quota.DefaultLimits()
	c := &clock{now: time.Now().UTC().Truncate(time.Second)}
	gate := quota.NewGate(store, limits)
	gate.SetClock(c.Now)
	ctx := context.Background()

	tests := []struct {
		scope string
		limit int
	}{
		{scope: quota.ScopeGlobal, limit: 7},
		{scope: quota.ScopeAllSources, limit: 5},
		{scope: "hacker-news", limit: 3},
	}

	for _, tt := range tests {
		t.Run(tt.scope, func(t *testing.T) {
			fingerprint := quota.Fingerprint(fmt.Sprintf("key-%s-%d", tt.scope, c.now.UnixNano()), "127.0.0.1", "test")
			for k := 1; k <= tt.limit+2; k++ {
				result := gate.CheckAndConsume(ctx, fingerprint, tt.scope)
				assert.False(t, result.Degraded)
				assert.Equal(t, tt.limit, result.LimitScope)
				assert.Equal(t, limits.Total, result.LimitTotal)
				assert.Equal(t, max(tt.limit-k, 0), result.RemainingScope, "read %d", k)
				assert.Equal(t, max(limits.Total-k, 0), result.RemainingTotal, "read %d", k)
				assert.Equal(t, k > tt.limit, result.Exhausted, "read %d", k)
			}

			c.now = c.now.Add(limits.Window + time.Second)
			result := gate.CheckAndConsume(ctx, fingerprint, tt.scope)
			assert.Equal(t, tt.limit-1, result.RemainingScope)
			assert.Equal(t, limits.Total-1, result.RemainingTotal)
			assert.False(t, result.Exhausted)
		})
	}
}

func TestGateWithSQLStore(t *testing.T) {
	testQuotaArithmetic(t, newSQLStore(t))
}

func TestGateWithRedisStore(t *testing.T) {
	url := os.Getenv("RSSAGG_TEST_REDIS_URL")
	if url == "" {
		t.Skip("RSSAGG_TEST_REDIS_URL not set")
	}
	store, err := quota.NewRedisStore(context.Background(), url)
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	defer store.Close()
	testQuotaArithmetic(t, store)
}

func TestScopesShareTheTotal(t *testing.T) {
	gate := quota.NewGate(newSQLStore(t), quota.Limits{Total: 4, Global: 7, AllSources: 5, Source: 3, Window: time.Hour})
	ctx := context.Background()

	gate.CheckAndConsume(ctx, "fp", quota.ScopeGlobal)
	gate.CheckAndConsume(ctx, "fp", quota.ScopeGlobal)
	gate.CheckAndConsume(ctx, "fp", "a")
	result := gate.CheckAndConsume(ctx, "fp", "b")
	assert.Equal(t, 0, result.RemainingTotal)
	assert.Equal(t, 2, result.RemainingScope)
	assert.False(t, result.Exhausted)

	result = gate.CheckAndConsume(ctx, "fp", "c")
	assert.True(t, result.Exhausted)
	assert.Equal(t, 0, result.Reveal(10))
}

type failingStore struct{}

func (failingStore) ConsumeQuota(context.Context, string, string, time.Time, time.Duration) (models.QuotaCounts, error) {
	return models.QuotaCounts{}, errors.New("connection refused")
}

func TestGateFailsOpen(t *testing.T) {
	result := quota.NewGate(failingStore{}, quota.DefaultLimits()).CheckAndConsume(context.Background(), "fp", "x")
	assert.True(t, result.Degraded)
	assert.False(t, result.Exhausted)
	assert.Equal(t, 3, result.RemainingScope)
	assert.Equal(t, 30, result.RemainingTotal)
}

func TestReveal(t *testing.T) {
	assert.Equal(t, 3, quota.Result{LimitScope: 3}.Reveal(20))
	assert.Equal(t, 2, quota.Result{LimitScope: 3}.Reveal(2))
	assert.Equal(t, 0, quota.Result{LimitScope: 3, Exhausted: true}.Reveal(20))
}

func TestFingerprint(t *testing.T) {
	a := quota.Fingerprint("key", "10.0.0.1", "curl/8")
	assert.Equal(t, a, quota.Fingerprint("key", "10.0.0.1", "curl/8"))
	assert.NotEqual(t, a, quota.Fingerprint("key", "10.0.0.2", "curl/8"))
	assert.NotEqual(t, a, quota.Fingerprint("other", "10.0.0.1", "curl/8"))
	assert.Regexp(t, `^key-[0-9a-f]{64}$`, a)
}
