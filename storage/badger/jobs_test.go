package badger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/syllabus/core"
	"github.com/poiesic/syllabus/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStore_ClaimIsExclusive(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	var winners atomic.Int32
	var wg sync.WaitGroup
	holders := make([]core.ID, 10)
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			holder, claimed, err := stores.Jobs.Claim(ctx, "fp", core.NewID(), time.Minute)
			assert.NoError(t, err)
			if claimed {
				winners.Add(1)
			}
			holders[i] = holder
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	for _, h := range holders {
		assert.Equal(t, holders[0], h)
	}
}

func TestJobStore_ReleaseClaim(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	_, claimed, err := stores.Jobs.Claim(ctx, "fp", "j1", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, stores.Jobs.ReleaseClaim(ctx, "fp", "j2"))
	holder, claimed, err := stores.Jobs.Claim(ctx, "fp", "j3", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, core.ID("j1"), holder)

	require.NoError(t, stores.Jobs.ReleaseClaim(ctx, "fp", "j1"))
	_, claimed, err = stores.Jobs.Claim(ctx, "fp", "j3", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestJobStore_UpdateJobEnforcesTransitions(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	job := &core.Job{ID: "j1", Status: core.JobStatusQueued, CreatedAt: time.Now().UTC()}
	require.NoError(t, stores.Jobs.PutJob(ctx, job))
	assert.ErrorIs(t, stores.Jobs.PutJob(ctx, job), storage.ErrDuplicateKey)

	updated, err := stores.Jobs.UpdateJob(ctx, "j1", func(j *core.Job) error {
		j.Status = core.JobStatusRunning
		j.Attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusRunning, updated.Status)

	_, err = stores.Jobs.UpdateJob(ctx, "j1", func(j *core.Job) error {
		j.Status = core.JobStatusQueued
		return nil
	})
	assert.ErrorIs(t, err, core.ErrIllegalTransition)

	_, err = stores.Jobs.UpdateJob(ctx, "j1", func(j *core.Job) error {
		j.Status = core.JobStatusSucceeded
		j.Result = `{"items":[]}`
		return nil
	})
	require.NoError(t, err)

	_, err = stores.Jobs.UpdateJob(ctx, "j1", func(j *core.Job) error {
		j.Status = core.JobStatusFailed
		return nil
	})
	assert.ErrorIs(t, err, core.ErrIllegalTransition)

	got, err := stores.Jobs.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusSucceeded, got.Status)
	assert.Equal(t, 1, got.Attempts)

	_, err = stores.Jobs.UpdateJob(ctx, "missing", func(j *core.Job) error { return nil })
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestJobStore_Cache(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	_, err := stores.Jobs.GetCachedResult(ctx, "fp")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, stores.Jobs.PutCachedResult(ctx, &core.CachedResult{Fingerprint: "fp", Result: "{}"}, time.Hour))
	got, err := stores.Jobs.GetCachedResult(ctx, "fp")
	require.NoError(t, err)
	assert.Equal(t, "{}", got.Result)
}

func TestJobStore_QueueFIFO(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	for _, id := range []core.ID{"j1", "j2", "j3"} {
		require.NoError(t, stores.Jobs.Enqueue(ctx, id))
	}
	for _, want := range []core.ID{"j1", "j2", "j3"} {
		got, err := stores.Jobs.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := stores.Jobs.Dequeue(ctx, 50*time.Millisecond)
	assert.ErrorIs(t, err, storage.ErrQueueEmpty)
}

func TestJobStore_DequeueWakesOnEnqueue(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = stores.Jobs.Enqueue(ctx, "late")
	}()

	got, err := stores.Jobs.Dequeue(ctx, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, core.ID("late"), got)
}

func TestJobStore_ConcurrentDequeueDeliversOnce(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	const n = 20
	for i := range n {
		require.NoError(t, stores.Jobs.Enqueue(ctx, core.ID(rune('A'+i))))
	}

	var mu sync.Mutex
	seen := make(map[core.ID]int)
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				id, err := stores.Jobs.Dequeue(ctx, 50*time.Millisecond)
				if err != nil {
					return
				}
				mu.Lock()
				seen[id]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, "job %s delivered %d times", id, count)
	}
}
