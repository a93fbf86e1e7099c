package broker

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"gorq/internal/domain"
	"gorq/internal/storage"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.EnsureSchema(db))
	return db
}

func TestClaimOldestFirst(t *testing.T) {
	ctx := context.Background()
	b := New(testDB(t), time.Minute)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		_, err := b.Enqueue(ctx, "default", fmt.Sprintf("payload-%d", i))
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		m, ok, err := b.Claim(ctx, "default", now)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("payload-%d", i), m.Payload)
	}
}

func TestClaimEmptyIsNotAnError(t *testing.T) {
	ctx := context.Background()
	b := New(testDB(t), time.Minute)

	_, ok, err := b.Claim(ctx, "default", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimIgnoresOtherKeys(t *testing.T) {
	ctx := context.Background()
	b := New(testDB(t), time.Minute)
	_, err := b.Enqueue(ctx, "other", "p")
	require.NoError(t, err)

	_, ok, err := b.Claim(ctx, "default", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentClaimsNeverShareARow(t *testing.T) {
	ctx := context.Background()
	b := New(testDB(t), time.Minute)
	now := time.Now().UTC()

	const rows = 40
	for i := 0; i < rows; i++ {
		_, err := b.Enqueue(ctx, "default", fmt.Sprintf("p%d", i))
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed []int64
		wg      sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				m, ok, err := b.Claim(ctx, "default", now)
				if err != nil || !ok {
					return
				}
				mu.Lock()
				claimed = append(claimed, m.ID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, claimed, rows)
	seen := make(map[int64]bool, rows)
	for _, id := range claimed {
		assert.False(t, seen[id], "row %d claimed twice", id)
		seen[id] = true
	}
}

func TestLockedRowInvisibleUntilReclaim(t *testing.T) {
	ctx := context.Background()
	b := New(testDB(t), time.Minute)
	t0 := time.Now().UTC()

	_, err := b.Enqueue(ctx, "default", "p")
	require.NoError(t, err)

	_, ok, err := b.Claim(ctx, "default", t0)
	require.NoError(t, err)
	require.True(t, ok)

	// Still locked.
	_, ok, err = b.Claim(ctx, "default", t0.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	// Lock aged out: claimable again, exactly once.
	m, ok, err := b.Claim(ctx, "default", t0.Add(61*time.Second))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p", m.Payload)

	_, ok, err = b.Claim(ctx, "default", t0.Add(61*time.Second))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAckRemovesRow(t *testing.T) {
	ctx := context.Background()
	b := New(testDB(t), time.Minute)

	_, err := b.Enqueue(ctx, "default", "p")
	require.NoError(t, err)
	m, ok, err := b.Claim(ctx, "default", time.Now().UTC())
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.Ack(ctx, m))
	n, err := b.Size(ctx, "default")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAckAfterReclaimSignalsNotOwned(t *testing.T) {
	ctx := context.Background()
	b := New(testDB(t), time.Minute)
	t0 := time.Now().UTC()

	_, err := b.Enqueue(ctx, "default", "p")
	require.NoError(t, err)
	stale, ok, err := b.Claim(ctx, "default", t0)
	require.NoError(t, err)
	require.True(t, ok)

	// Another worker reclaims after the lock ages out.
	fresh, ok, err := b.Claim(ctx, "default", t0.Add(2*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, b.Ack(ctx, stale), domain.ErrNotOwned)
	assert.NoError(t, b.Ack(ctx, fresh))
}

func TestFailRequeueMakesRowClaimable(t *testing.T) {
	ctx := context.Background()
	b := New(testDB(t), time.Minute)
	t0 := time.Now().UTC()

	_, err := b.Enqueue(ctx, "default", "p")
	require.NoError(t, err)
	m, ok, err := b.Claim(ctx, "default", t0)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.Fail(ctx, m, true))

	again, ok, err := b.Claim(ctx, "default", t0.Add(time.Second))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, m.ID, again.ID)
}

func TestFailWithoutRequeueDeletes(t *testing.T) {
	ctx := context.Background()
	b := New(testDB(t), time.Minute)

	_, err := b.Enqueue(ctx, "default", "p")
	require.NoError(t, err)
	m, ok, err := b.Claim(ctx, "default", time.Now().UTC())
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, b.Fail(ctx, m, false))
	n, err := b.Size(ctx, "default")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	b := New(testDB(t), time.Minute)

	for i := 0; i < 5; i++ {
		_, err := b.Enqueue(ctx, "default", "p")
		require.NoError(t, err)
	}
	n, err := b.Purge(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}
