package store

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"p402-router/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore connects to TEST_DATABASE_URL and applies migrations
func openTestStore(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - requires database (set TEST_DATABASE_URL)")
	}

	store, err := NewStore(url, PoolOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestPoolOptionsDefaults(t *testing.T) {
	got := PoolOptions{}.withDefaults()
	assert.Equal(t, 25, got.MaxOpenConns)
	assert.Equal(t, 5, got.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, got.ConnMaxLifetime)

	got = PoolOptions{MaxOpenConns: 2}.withDefaults()
	assert.Equal(t, 2, got.MaxIdleConns)
}

func TestUpsertPolicyTenantIsolation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	policyID := uuid.New().String()
	owned := &models.Policy{
		PolicyID: policyID,
		TenantID: "tenant-a-" + policyID,
		Rules:    models.PolicyRules{RPMLimits: []models.RpmRule{{Limit: 10}}},
	}
	require.NoError(t, store.UpsertPolicy(ctx, owned))
	assert.Equal(t, 1, owned.Version)

	owned.Rules.RPMLimits[0].Limit = 20
	require.NoError(t, store.UpsertPolicy(ctx, owned))
	assert.Equal(t, 2, owned.Version)

	hijack := &models.Policy{
		PolicyID: policyID,
		TenantID: "tenant-b-" + policyID,
		Rules:    models.PolicyRules{},
	}
	assert.ErrorIs(t, store.UpsertPolicy(ctx, hijack), ErrNotFound)

	active, err := store.QueryPolicy(ctx, owned.TenantID, "")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, 20, active.Rules.RPMLimits[0].Limit)
}

func TestReplayInsertIfAbsentConcurrent(t *testing.T) {
	store := openTestStore(t)
	replay := store.Replay()
	authID := uuid.New().String()

	var wg sync.WaitGroup
	var accepted int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			now := time.Now().UTC()
			ok, err := replay.InsertIfAbsent(context.Background(), &models.ReplayRecord{
				AuthorizationID: authID,
				TenantID:        "t1",
				DecisionID:      uuid.New().String(),
				FirstSeenAt:     now,
				ExpiresAt:       now.Add(time.Hour),
			})
			if err == nil && ok {
				atomic.AddInt32(&accepted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted)
}

func TestSumSpend(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	tenantID := "spend-" + uuid.New().String()

	for _, e := range []struct {
		outcome string
		amount  string
	}{
		{models.OutcomeSettled, "9.99"},
		{models.OutcomePaid, "0.005"},
		{models.OutcomePlan, "5"},
		{models.OutcomeDeny, "5"},
	} {
		require.NoError(t, store.InsertEvent(ctx, &models.Event{
			EventID:    uuid.New().String(),
			TenantID:   tenantID,
			RouteID:    "r1",
			DecisionID: uuid.New().String(),
			TraceID:    "trace",
			Outcome:    e.outcome,
			Amount:     e.amount,
		}))
	}

	total, err := store.SumSpend(ctx, tenantID, "", time.Now().Add(-time.Hour), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.RequireFromString("9.995")), "got %s", total)
}
