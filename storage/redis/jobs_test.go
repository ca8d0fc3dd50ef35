package redis

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/syllabus/core"
	"github.com/poiesic/syllabus/storage"
)

func newTestStore(t *testing.T) (*JobStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := NewJobStore(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), "test", time.Hour)
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestDial(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := Dial(context.Background(), mr.Addr())
	require.NoError(t, err)
	require.NoError(t, rdb.Close())

	mr.Close()
	_, err = Dial(context.Background(), mr.Addr())
	assert.Error(t, err)
}

func TestJobStore_ClaimIsExclusive(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, claimed, err := store.Claim(ctx, "fp", core.NewID(), time.Minute)
			assert.NoError(t, err)
			if claimed {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestJobStore_ClaimExpiresAndReleases(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	_, claimed, err := store.Claim(ctx, "fp", "j1", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	holder, claimed, err := store.Claim(ctx, "fp", "j2", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, core.ID("j1"), holder)

	require.NoError(t, store.ReleaseClaim(ctx, "fp", "j2"))
	assert.True(t, mr.Exists("test:jobclaim:fp"))

	mr.FastForward(2 * time.Minute)
	_, claimed, err = store.Claim(ctx, "fp", "j2", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	require.NoError(t, store.ReleaseClaim(ctx, "fp", "j2"))
	assert.False(t, mr.Exists("test:jobclaim:fp"))
}

func TestJobStore_JobLifecycle(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	job := &core.Job{ID: "j1", Fingerprint: "fp", Status: core.JobStatusQueued, CreatedAt: time.Now().UTC().Truncate(time.Microsecond)}
	require.NoError(t, store.PutJob(ctx, job))
	assert.ErrorIs(t, store.PutJob(ctx, job), storage.ErrDuplicateKey)

	got, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, job, got)

	updated, err := store.UpdateJob(ctx, "j1", func(j *core.Job) error {
		j.Status = core.JobStatusRunning
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusRunning, updated.Status)

	_, err = store.UpdateJob(ctx, "j1", func(j *core.Job) error {
		j.Status = core.JobStatusQueued
		return nil
	})
	assert.ErrorIs(t, err, core.ErrIllegalTransition)

	_, err = store.UpdateJob(ctx, "missing", func(j *core.Job) error { return nil })
	assert.ErrorIs(t, err, storage.ErrNotFound)

	mr.FastForward(2 * time.Hour)
	_, err = store.GetJob(ctx, "j1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestJobStore_ConcurrentUpdates(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.PutJob(ctx, &core.Job{ID: "j1", Status: core.JobStatusRunning}))

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.UpdateJob(ctx, "j1", func(j *core.Job) error {
				j.Attempts++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.Attempts)
}

func TestJobStore_CacheTTL(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutCachedResult(ctx, &core.CachedResult{Fingerprint: "fp", Result: `{"ok":true}`}, time.Minute))
	got, err := store.GetCachedResult(ctx, "fp")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, got.Result)

	mr.FastForward(2 * time.Minute)
	_, err = store.GetCachedResult(ctx, "fp")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestJobStore_Queue(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, "j1"))
	require.NoError(t, store.Enqueue(ctx, "j2"))

	first, err := store.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, core.ID("j1"), first)

	second, err := store.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, core.ID("j2"), second)

	_, err = store.Dequeue(ctx, 100*time.Millisecond)
	assert.ErrorIs(t, err, storage.ErrQueueEmpty)
}
