package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/syllabus/core"
	"github.com/poiesic/syllabus/storage"
)

const queuePollInterval = 25 * time.Millisecond

// JobStore implements storage.JobStore for BadgerDB. It is safe for
// concurrent use within one process; use storage/redis to share jobs
// between processes.
type JobStore struct {
	backend   *Backend
	queueSeq  *badger.Sequence
	retention time.Duration
	notify    chan struct{}
}

var _ storage.JobStore = (*JobStore)(nil)

// NewJobStore creates a JobStore. Jobs expire retention after their last
// write; zero keeps them forever.
func NewJobStore(backend *Backend, retention time.Duration) (*JobStore, error) {
	seq, err := backend.GetSequence(jobQueueSeq)
	if err != nil {
		return nil, err
	}
	return &JobStore{
		backend:   backend,
		queueSeq:  seq,
		retention: retention,
		notify:    make(chan struct{}, 1),
	}, nil
}

// Close releases the queue sequence.
func (s *JobStore) Close() error {
	return s.queueSeq.Release()
}

func entry(key, value []byte, ttl time.Duration) *badger.Entry {
	e := badger.NewEntry(key, value)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return e
}

// Claim reserves a fingerprint for jobID unless another job holds it.
func (s *JobStore) Claim(ctx context.Context, fingerprint string, jobID core.ID, ttl time.Duration) (core.ID, bool, error) {
	var holder core.ID
	var claimed bool
	err := s.backend.Update(func(tx *badger.Txn) error {
		key := makeJobClaimKey(fingerprint)
		raw, err := readValue(tx, key)
		if err != nil {
			return err
		}
		if raw != nil {
			holder, claimed = core.ID(raw), false
			return nil
		}
		holder, claimed = jobID, true
		return tx.SetEntry(entry(key, []byte(jobID), ttl))
	})
	return holder, claimed, err
}

// ReleaseClaim drops the claim if jobID still holds it.
func (s *JobStore) ReleaseClaim(ctx context.Context, fingerprint string, jobID core.ID) error {
	return s.backend.Update(func(tx *badger.Txn) error {
		key := makeJobClaimKey(fingerprint)
		raw, err := readValue(tx, key)
		if err != nil {
			return err
		}
		if raw == nil || core.ID(raw) != jobID {
			return nil
		}
		return tx.Delete(key)
	})
}

// PutJob inserts a new job.
func (s *JobStore) PutJob(ctx context.Context, job *core.Job) error {
	return s.backend.Update(func(tx *badger.Txn) error {
		key := makeJobKey(job.ID)
		raw, err := readValue(tx, key)
		if err != nil {
			return err
		}
		if raw != nil {
			return fmt.Errorf("job %s: %w", job.ID, storage.ErrDuplicateKey)
		}
		return tx.SetEntry(entry(key, storage.MarshalJob(job), s.retention))
	})
}

// GetJob retrieves a job by ID.
func (s *JobStore) GetJob(ctx context.Context, id core.ID) (*core.Job, error) {
	var result *core.Job
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readJob(tx, id)
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// UpdateJob applies fn to the stored job inside a conflict-checked transaction.
// fn may run more than once.
func (s *JobStore) UpdateJob(ctx context.Context, id core.ID, fn func(job *core.Job) error) (*core.Job, error) {
	var updated *core.Job
	err := s.backend.Update(func(tx *badger.Txn) error {
		current, err := readJob(tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return storage.ErrNotFound
		}
		next := *current
		if err := fn(&next); err != nil {
			return err
		}
		if err := core.CheckTransition(current.Status, next.Status); err != nil {
			return err
		}
		updated = &next
		return tx.SetEntry(entry(makeJobKey(id), storage.MarshalJob(&next), s.retention))
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// GetCachedResult returns an unexpired cached result.
func (s *JobStore) GetCachedResult(ctx context.Context, fingerprint string) (*core.CachedResult, error) {
	var result *core.CachedResult
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		raw, err := readValue(tx, makeJobCacheKey(fingerprint))
		if err != nil {
			return err
		}
		if raw == nil {
			return storage.ErrNotFound
		}
		result, err = storage.UnmarshalCachedResult(raw)
		return err
	}, false)
	return result, err
}

// PutCachedResult stores a result for ttl.
func (s *JobStore) PutCachedResult(ctx context.Context, result *core.CachedResult, ttl time.Duration) error {
	return s.backend.Update(func(tx *badger.Txn) error {
		return tx.SetEntry(entry(makeJobCacheKey(result.Fingerprint), storage.MarshalCachedResult(result), ttl))
	})
}

// Enqueue appends a job to the work queue.
func (s *JobStore) Enqueue(ctx context.Context, id core.ID) error {
	seq, err := s.queueSeq.Next()
	if err != nil {
		return err
	}
	err = s.backend.Update(func(tx *badger.Txn) error {
		return tx.Set(makeJobQueueKey(seq), []byte(id))
	})
	if err != nil {
		return err
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue pops the oldest queued job, waiting up to wait for one to arrive.
func (s *JobStore) Dequeue(ctx context.Context, wait time.Duration) (core.ID, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(queuePollInterval)
	defer ticker.Stop()

	for {
		id, err := s.popQueue()
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, storage.ErrQueueEmpty) {
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", storage.ErrQueueEmpty
		case <-s.notify:
		case <-ticker.C:
		}
	}
}

func (s *JobStore) popQueue() (core.ID, error) {
	var id core.ID
	err := s.backend.Update(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobQueuePrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		iter.Rewind()
		if !iter.Valid() {
			return storage.ErrQueueEmpty
		}
		item := iter.Item()
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		id = core.ID(raw)
		return tx.Delete(item.KeyCopy(nil))
	})
	return id, err
}

func readJob(tx *badger.Txn, id core.ID) (*core.Job, error) {
	raw, err := readValue(tx, makeJobKey(id))
	if err != nil || raw == nil {
		return nil, err
	}
	return storage.UnmarshalJob(raw)
}
