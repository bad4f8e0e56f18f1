package session_test

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	catalog "github.com/syssam/metacatalog"
	"github.com/syssam/metacatalog/internal/session"
	"github.com/syssam/metacatalog/internal/store"
)

func TestDo_SucceedsFirstTry(t *testing.T) {
	c := session.New(2)
	calls := 0
	err := c.Do(context.Background(), func(ctx context.Context) error {
		calls++
		_, ok := session.CorrelationIDFromContext(ctx)
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesOnStoreConflictThenSucceeds(t *testing.T) {
	c := session.New(2, session.WithRetryPolicy(5, time.Millisecond, 5*time.Millisecond))
	calls := 0
	err := c.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &catalog.StoreConflictError{URN: "urn:li:dataset:x", Aspect: "a", Err: errors.New("race")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsRetriesAndReturnsConflict(t *testing.T) {
	c := session.New(2, session.WithRetryPolicy(3, time.Millisecond, 2*time.Millisecond))
	calls := 0
	err := c.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return &catalog.StoreConflictError{URN: "urn:li:dataset:x", Aspect: "a", Err: errors.New("race")}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, catalog.ErrStoreConflict)
	assert.Equal(t, 3, calls)
}

func TestDo_NonConflictErrorNotRetried(t *testing.T) {
	c := session.New(2)
	calls := 0
	sentinel := errors.New("boom")
	err := c.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return sentinel
	})
	require.Error(t, err)
	assert.Equal(t, sentinel, err)
	assert.Equal(t, 1, calls)
}

func TestDo_PoolBoundLimitsConcurrency(t *testing.T) {
	c := session.New(1)
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = c.Do(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Do(ctx, func(ctx context.Context) error { return nil })
	require.Error(t, err)

	close(release)
}

// TestDo_ConcurrentVersionedWrite_NoLostWrites drives SPEC_FULL.md's
// concurrent-versioned-write scenario end to end: 10 goroutines each call
// Coordinator.Do around one Writer.UpsertVersionedAspect of the same
// (urn, aspect) pair. The unique index on (owning_urn, aspect_name,
// version) makes every loser's commit fail with *catalog.StoreConflictError
// (internal/store/writer.go), and Do retries each loser with a freshly
// recomputed version until it lands. Versions start at 1, so the expected
// set is {1..10}.
func TestDo_ConcurrentVersionedWrite_NoLostWrites(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	conn := store.OpenDB(store.SQLite, db)
	require.NoError(t, conn.Bootstrap(context.Background()))
	w := store.NewWriter(conn)
	c := session.New(10)

	const writers = 10
	urn := catalog.URN("urn:li:dataset:(mysql,db.concurrent,PROD)")

	versions := make([]int64, writers)
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = c.Do(context.Background(), func(ctx context.Context) error {
				v, err := w.UpsertVersionedAspect(ctx, urn, "schemaMetadata",
					catalog.Payload{"writer": i})
				if err != nil {
					return err
				}
				versions[i] = v
				return nil
			})
		}()
	}
	wg.Wait()

	for i, err := range errs {
		require.NoErrorf(t, err, "writer %d", i)
	}

	got := append([]int64(nil), versions...)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	want := make([]int64, writers)
	for i := range want {
		want[i] = int64(i + 1)
	}
	assert.Equal(t, want, got, "expected no lost writes: versions 1..10 each exactly once")

	latest, err := w.GetLatestVersionedAspect(context.Background(), urn, "schemaMetadata")
	require.NoError(t, err)
	assert.Equal(t, int64(writers), latest.Version)
}
