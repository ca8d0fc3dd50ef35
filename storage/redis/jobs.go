// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package redis implements storage.JobStore on Redis so that API processes
// and workers on different hosts share one job table, claim table, result
// cache and work queue.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/poiesic/syllabus/core"
	"github.com/poiesic/syllabus/storage"
)

const (
	defaultPrefix   = "syllabus"
	maxWatchRetries = 16
	dialPingTimeout = 5 * time.Second
)

// releaseScript deletes a claim only when it is still held by the caller.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// JobStore implements storage.JobStore for Redis.
type JobStore struct {
	rdb       *goredis.Client
	prefix    string
	retention time.Duration
}

var _ storage.JobStore = (*JobStore)(nil)

// Dial connects to addr and verifies the connection with PING.
func Dial(ctx context.Context, addr string) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: dialPingTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, dialPingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// NewJobStore wraps a client. Keys are namespaced under prefix; jobs expire
// retention after their last write, zero keeps them forever.
func NewJobStore(rdb *goredis.Client, prefix string, retention time.Duration) *JobStore {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &JobStore{rdb: rdb, prefix: prefix, retention: retention}
}

// Close closes the underlying client.
func (s *JobStore) Close() error {
	return s.rdb.Close()
}

func (s *JobStore) jobKey(id core.ID) string { return s.prefix + ":job:" + string(id) }
func (s *JobStore) claimKey(fp string) string { return s.prefix + ":jobclaim:" + fp }
func (s *JobStore) cacheKey(fp string) string { return s.prefix + ":jobcache:" + fp }
func (s *JobStore) queueKey() string { return s.prefix + ":jobq" }

// Claim reserves a fingerprint with SET NX.
func (s *JobStore) Claim(ctx context.Context, fingerprint string, jobID core.ID, ttl time.Duration) (core.ID, bool, error) {
	key := s.claimKey(fingerprint)
	for range maxWatchRetries {
		ok, err := s.rdb.SetNX(ctx, key, string(jobID), ttl).Result()
		if err != nil {
			return "", false, err
		}
		if ok {
			return jobID, true, nil
		}
		holder, err := s.rdb.Get(ctx, key).Result()
		if errors.Is(err, goredis.Nil) {
			// claim expired between SETNX and GET
			continue
		}
		if err != nil {
			return "", false, err
		}
		return core.ID(holder), false, nil
	}
	return "", false, fmt.Errorf("claim %s: too much contention", fingerprint)
}

// ReleaseClaim drops the claim if jobID still holds it.
func (s *JobStore) ReleaseClaim(ctx context.Context, fingerprint string, jobID core.ID) error {
	return releaseScript.Run(ctx, s.rdb, []string{s.claimKey(fingerprint)}, string(jobID)).Err()
}

// PutJob inserts a new job.
func (s *JobStore) PutJob(ctx context.Context, job *core.Job) error {
	ok, err := s.rdb.SetNX(ctx, s.jobKey(job.ID), storage.MarshalJob(job), s.retention).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("job %s: %w", job.ID, storage.ErrDuplicateKey)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *JobStore) GetJob(ctx context.Context, id core.ID) (*core.Job, error) {
	raw, err := s.rdb.Get(ctx, s.jobKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return storage.UnmarshalJob(raw)
}

// UpdateJob applies fn under WATCH, retrying when another client wrote the
// job between read and write. fn may run more than once.
func (s *JobStore) UpdateJob(ctx context.Context, id core.ID, fn func(job *core.Job) error) (*core.Job, error) {
	key := s.jobKey(id)
	var updated *core.Job

	txf := func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		current, err := storage.UnmarshalJob(raw)
		if err != nil {
			return err
		}
		next := *current
		if err := fn(&next); err != nil {
			return err
		}
		if err := core.CheckTransition(current.Status, next.Status); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, storage.MarshalJob(&next), s.retention)
			return nil
		})
		if err != nil {
			return err
		}
		updated = &next
		return nil
	}

	for range maxWatchRetries {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("update job %s: too much contention", id)
}

// GetCachedResult returns an unexpired cached result.
func (s *JobStore) GetCachedResult(ctx context.Context, fingerprint string) (*core.CachedResult, error) {
	raw, err := s.rdb.Get(ctx, s.cacheKey(fingerprint)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return storage.UnmarshalCachedResult(raw)
}

// PutCachedResult stores a result for ttl.
func (s *JobStore) PutCachedResult(ctx context.Context, result *core.CachedResult, ttl time.Duration) error {
	return s.rdb.Set(ctx, s.cacheKey(result.Fingerprint), storage.MarshalCachedResult(result), ttl).Err()
}

// Enqueue pushes a job onto the head of the queue list.
func (s *JobStore) Enqueue(ctx context.Context, id core.ID) error {
	return s.rdb.LPush(ctx, s.queueKey(), string(id)).Err()
}

// Dequeue pops from the tail of the queue list, blocking up to wait.
func (s *JobStore) Dequeue(ctx context.Context, wait time.Duration) (core.ID, error) {
	res, err := s.rdb.BRPop(ctx, wait, s.queueKey()).Result()
	if errors.Is(err, goredis.Nil) {
		return "", storage.ErrQueueEmpty
	}
	if err != nil {
		return "", err
	}
	if len(res) != 2 {
		return "", fmt.Errorf("unexpected BRPOP reply %v", res)
	}
	return core.ID(res[1]), nil
}
