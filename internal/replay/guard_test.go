package replay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordIfAbsentOnce(t *testing.T) {
	g := NewGuard(NewMemoryStore(), 30)
	ctx := context.Background()

	seen, err := g.Check(ctx, "auth-1")
	require.NoError(t, err)
	assert.False(t, seen)

	accepted, err := g.RecordIfAbsent(ctx, "auth-1", "t1", "d1")
	require.NoError(t, err)
	assert.True(t, accepted)

	seen, err = g.Check(ctx, "auth-1")
	require.NoError(t, err)
	assert.True(t, seen)

	accepted, err = g.RecordIfAbsent(ctx, "auth-1", "t1", "d2")
	require.NoError(t, err)
	assert.False(t, accepted)
}

func TestRecordIfAbsentConcurrent(t *testing.T) {
	g := NewGuard(NewMemoryStore(), 30)

	var wg sync.WaitGroup
	var accepted int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := g.RecordIfAbsent(context.Background(), "auth-shared", "t1", fmt.Sprintf("d%d", i))
			if err == nil && ok {
				atomic.AddInt32(&accepted, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted)
}

func TestEmptyAuthorizationRejected(t *testing.T) {
	g := NewGuard(NewMemoryStore(), 30)

	_, err := g.Check(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyAuthorization)
	_, err = g.RecordIfAbsent(context.Background(), "", "t1", "d1")
	assert.ErrorIs(t, err, ErrEmptyAuthorization)
}

func TestCleanup(t *testing.T) {
	store := NewMemoryStore()
	g := NewGuard(store, 30)
	ctx := context.Background()

	now := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now.Add(-40 * 24 * time.Hour) }
	_, err := g.RecordIfAbsent(ctx, "old", "t1", "d1")
	require.NoError(t, err)

	g.now = func() time.Time { return now }
	_, err = g.RecordIfAbsent(ctx, "fresh", "t1", "d2")
	require.NoError(t, err)

	deleted, err := g.Cleanup(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	seen, _ := g.Check(ctx, "old")
	assert.False(t, seen)
	seen, _ = g.Check(ctx, "fresh")
	assert.True(t, seen)

	_, err = g.Cleanup(ctx, 0)
	assert.Error(t, err)
}
