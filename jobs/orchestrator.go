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


package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/syllabus/ai"
	"github.com/poiesic/syllabus/core"
	"github.com/poiesic/syllabus/retry"
	"github.com/poiesic/syllabus/search"
	"github.com/poiesic/syllabus/storage"
)

const (
	DefaultWorkers        = 4
	DefaultMaxAttempts    = 3
	DefaultBaseDelay      = 500 * time.Millisecond
	DefaultTimeout        = 2 * time.Minute
	DefaultResultTTL      = 24 * time.Hour
	DefaultGroundingLimit = 8
	DefaultDequeueWait    = time.Second

	claimAttempts = 3
)

// Retriever supplies grounding for a job. *search.Searcher satisfies it.
type Retriever interface {
	ResolveScope(ctx context.Context, req search.Request) (*search.Scope, error)
	Search(ctx context.Context, req search.Request) ([]*core.Hit, error)
}

// Orchestrator accepts generation jobs and runs them on a worker pool.
type Orchestrator struct {
	store     storage.JobStore
	retriever Retriever
	llm       ai.LLM
	prompts   ai.PromptBuilder

	workers        int
	maxAttempts    int
	baseDelay      time.Duration
	timeout        time.Duration
	resultTTL      time.Duration
	groundingLimit int
	dequeueWait    time.Duration
	logger         *slog.Logger

	mu    sync.Mutex
	pool  *ants.Pool
	stop  context.CancelFunc
	loops sync.WaitGroup
	now   func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithWorkers sets the number of concurrent worker loops.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) error {
		if n < 1 {
			return fmt.Errorf("workers must be positive, got %d", n)
		}
		o.workers = n
		return nil
	}
}

// WithRetry sets the LLM retry policy.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(o *Orchestrator) error {
		if maxAttempts < 1 {
			return retry.ErrInvalidMaxAttempts
		}
		o.maxAttempts = maxAttempts
		o.baseDelay = baseDelay
		return nil
	}
}

// WithTimeout sets the wall-clock limit of a single job.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		o.timeout = d
		return nil
	}
}

// WithResultTTL sets how long successful results answer identical requests.
func WithResultTTL(d time.Duration) Option {
	return func(o *Orchestrator) error {
		if d <= 0 {
			return fmt.Errorf("result ttl must be positive, got %s", d)
		}
		o.resultTTL = d
		return nil
	}
}

// WithGroundingLimit sets how many atoms ground each prompt.
func WithGroundingLimit(n int) Option {
	return func(o *Orchestrator) error {
		if n < 1 {
			return fmt.Errorf("grounding limit must be positive, got %d", n)
		}
		o.groundingLimit = n
		return nil
	}
}

// WithDequeueWait sets how long an idle worker blocks on the queue.
func WithDequeueWait(d time.Duration) Option {
	return func(o *Orchestrator) error {
		if d <= 0 {
			return fmt.Errorf("dequeue wait must be positive, got %s", d)
		}
		o.dequeueWait = d
		return nil
	}
}

// WithPromptBuilder replaces ai.DefaultPromptBuilder.
func WithPromptBuilder(prompts ai.PromptBuilder) Option {
	return func(o *Orchestrator) error {
		if prompts != nil {
			o.prompts = prompts
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// NewOrchestrator creates an orchestrator. Workers do not run until Start.
func NewOrchestrator(store storage.JobStore, retriever Retriever, llm ai.LLM, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, ErrJobStoreRequired
	}
	if retriever == nil {
		return nil, ErrRetrieverRequired
	}
	if llm == nil {
		return nil, ErrLLMRequired
	}

	o := &Orchestrator{
		store:          store,
		retriever:      retriever,
		llm:            llm,
		prompts:        ai.DefaultPromptBuilder{},
		workers:        DefaultWorkers,
		maxAttempts:    DefaultMaxAttempts,
		baseDelay:      DefaultBaseDelay,
		timeout:        DefaultTimeout,
		resultTTL:      DefaultResultTTL,
		groundingLimit: DefaultGroundingLimit,
		dequeueWait:    DefaultDequeueWait,
		logger:         slog.Default(),
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	o.logger = o.logger.With("component", "jobs")
	return o, nil
}

// claimTTL outlives every attempt of the holding job.
func (o *Orchestrator) claimTTL() time.Duration {
	return o.timeout + time.Duration(o.maxAttempts)*retry.MaxDelay
}

// Submit accepts a generation request and returns its job without waiting
// for the LLM. Identical requests are answered from the cache or coalesced
// onto the job already running them.
func (o *Orchestrator) Submit(ctx context.Context, params core.JobParams) (*core.Job, error) {
	if err := core.ValidateStruct(params); err != nil {
		return nil, err
	}
	fingerprint := Fingerprint(params)
	now := o.now()

	cached, err := o.store.GetCachedResult(ctx, fingerprint)
	switch {
	case err == nil:
		job := &core.Job{
			ID:          core.NewID(),
			Fingerprint: fingerprint,
			Params:      params,
			Status:      core.JobStatusSucceeded,
			Result:      cached.Result,
			Sources:     cached.Sources,
			CacheHit:    true,
			CreatedAt:   now,
			FinishedAt:  now,
		}
		if err := o.store.PutJob(ctx, job); err != nil {
			return nil, err
		}
		o.logger.Debug("answered from cache", "job", job.ID, "fingerprint", fingerprint)
		return job, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("reading result cache: %w", err)
	}

	job := &core.Job{
		ID:          core.NewID(),
		Fingerprint: fingerprint,
		Params:      params,
		Status:      core.JobStatusQueued,
		CreatedAt:   now,
	}

	claimed := false
	for range claimAttempts {
		holder, ok, err := o.store.Claim(ctx, fingerprint, job.ID, o.claimTTL())
		if err != nil {
			return nil, fmt.Errorf("claiming fingerprint: %w", err)
		}
		if ok {
			claimed = true
			break
		}
		existing, err := o.store.GetJob(ctx, holder)
		if err == nil && (!existing.Status.Terminal() || existing.Status == core.JobStatusSucceeded) {
			o.logger.Debug("coalesced onto in-flight job", "job", existing.ID, "fingerprint", fingerprint)
			return existing, nil
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}
	if !claimed {
		return nil, ErrClaimContention
	}

	if err := o.store.PutJob(ctx, job); err != nil {
		o.releaseClaim(job)
		return nil, err
	}
	if err := o.store.Enqueue(ctx, job.ID); err != nil {
		o.finish(ctx, job.ID, func(j *core.Job) {
			j.Status = core.JobStatusFailed
			j.ErrorKind = core.FailureKindFailed
			j.Error = err.Error()
		})
		o.releaseClaim(job)
		return nil, fmt.Errorf("enqueueing job: %w", err)
	}
	o.logger.Info("job queued", "job", job.ID, "task", params.TaskType, "fingerprint", fingerprint)
	return job, nil
}

// GetStatus returns the current state of a job.
func (o *Orchestrator) GetStatus(ctx context.Context, id core.ID) (*core.Job, error) {
	return o.store.GetJob(ctx, id)
}

// Cancel stops a job. Queued jobs are cancelled at once. Running jobs are
// flagged and stop before generation if they have not reached it yet.
// Terminal jobs are returned unchanged.
func (o *Orchestrator) Cancel(ctx context.Context, id core.ID) (*core.Job, error) {
	job, err := o.store.UpdateJob(ctx, id, func(j *core.Job) error {
		switch j.Status {
		case core.JobStatusQueued:
			j.Status = core.JobStatusCancelled
			j.FinishedAt = o.now()
		case core.JobStatusRunning:
			j.CancelRequested = true
		default:
			return errSkip
		}
		return nil
	})
	if errors.Is(err, errSkip) {
		return o.store.GetJob(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	if job.Status == core.JobStatusCancelled {
		o.releaseClaim(job)
	}
	o.logger.Info("job cancel requested", "job", id, "status", job.Status)
	return job, nil
}

// Await polls a job until it is terminal or ctx ends.
func (o *Orchestrator) Await(ctx context.Context, id core.ID, interval time.Duration) (*core.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := o.store.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Start launches the worker loops. They run until Stop is called or ctx ends.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pool != nil {
		return ErrAlreadyStarted
	}

	pool, err := ants.NewPool(o.workers)
	if err != nil {
		return fmt.Errorf("creating worker pool: %w", err)
	}
	ctx, stop := context.WithCancel(ctx)
	o.pool = pool
	o.stop = stop

	for i := range o.workers {
		o.loops.Add(1)
		if err := pool.Submit(func() {
			defer o.loops.Done()
			o.workLoop(ctx, i)
		}); err != nil {
			o.loops.Done()
			stop()
			o.loops.Wait()
			pool.Release()
			o.pool = nil
			return fmt.Errorf("starting worker %d: %w", i, err)
		}
	}
	o.logger.Info("workers started", "count", o.workers)
	return nil
}

// Stop ends the worker loops and waits for in-flight jobs to settle.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pool == nil {
		return
	}
	o.stop()
	o.loops.Wait()
	o.pool.Release()
	o.pool = nil
	o.logger.Info("workers stopped")
}

func (o *Orchestrator) workLoop(ctx context.Context, worker int) {
	logger := o.logger.With("worker", worker)
	for ctx.Err() == nil {
		id, err := o.store.Dequeue(ctx, o.dequeueWait)
		if errors.Is(err, storage.ErrQueueEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("dequeue failed", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(o.dequeueWait):
			}
			continue
		}
		o.process(ctx, id, logger)
	}
}

// process runs one dequeued job to a terminal state.
func (o *Orchestrator) process(ctx context.Context, id core.ID, logger *slog.Logger) {
	job, err := o.store.UpdateJob(ctx, id, func(j *core.Job) error {
		if j.Status != core.JobStatusQueued {
			return errSkip
		}
		j.Status = core.JobStatusRunning
		j.StartedAt = o.now()
		return nil
	})
	if errors.Is(err, errSkip) || errors.Is(err, storage.ErrNotFound) {
		logger.Debug("skipping dequeued job", "job", id)
		return
	}
	if err != nil {
		logger.Error("error starting job", "job", id, "err", err)
		return
	}
	logger = logger.With("job", id)
	logger.Info("job running", "task", job.Params.TaskType)
	defer o.releaseClaim(job)

	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	result, sources, attempts, err := o.execute(runCtx, job)

	switch {
	case err == nil:
		o.finish(ctx, id, func(j *core.Job) {
			j.Status = core.JobStatusSucceeded
			j.Result = result
			j.Sources = sources
			j.Attempts = attempts
		})
		cacheErr := o.store.PutCachedResult(context.WithoutCancel(ctx), &core.CachedResult{
			Fingerprint: job.Fingerprint,
			Result:      result,
			Sources:     sources,
			CreatedAt:   o.now(),
		}, o.resultTTL)
		if cacheErr != nil {
			logger.Warn("error caching result", "err", cacheErr)
		}
		logger.Info("job succeeded", "attempts", attempts, "sources", len(sources))

	case errors.Is(err, errCancelled):
		o.finish(ctx, id, func(j *core.Job) {
			j.Status = core.JobStatusCancelled
		})
		logger.Info("job cancelled before generation")

	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		timeout := &core.JobTimeoutError{JobID: id, Timeout: o.timeout}
		o.finish(ctx, id, func(j *core.Job) {
			j.Status = core.JobStatusFailed
			j.ErrorKind = core.FailureKindTimeout
			j.Error = timeout.Error()
			j.Attempts = attempts
		})
		logger.Warn("job timed out", "timeout", o.timeout, "attempts", attempts)

	default:
		failure := &core.JobFailedError{JobID: id, Attempts: attempts, Cause: err}
		o.finish(ctx, id, func(j *core.Job) {
			j.Status = core.JobStatusFailed
			j.ErrorKind = core.FailureKindFailed
			j.Error = err.Error()
			j.Attempts = attempts
		})
		logger.Warn("job failed", "err", failure)
	}
}

// execute retrieves grounding and calls the LLM. It returns the number of LLM
// attempts made.
func (o *Orchestrator) execute(ctx context.Context, job *core.Job) (string, []core.ID, int, error) {
	params := job.Params
	req := search.Request{
		Query:       groundingQuery(params),
		BookID:      params.BookID,
		ProfileID:   params.ProfileID,
		OwnerUserID: params.OwnerUserID,
		Limit:       o.groundingLimit,
	}
	if params.UnitTo > 0 {
		req.MaxSequenceIndex = &params.UnitTo
	}
	if params.UnitFrom > 0 {
		req.MinSequenceIndex = &params.UnitFrom
	}

	scope, err := o.retriever.ResolveScope(ctx, req)
	if err != nil {
		return "", nil, 0, err
	}
	hits, err := o.retriever.Search(ctx, req)
	if err != nil {
		return "", nil, 0, fmt.Errorf("retrieving grounding: %w", err)
	}

	current, err := o.store.GetJob(ctx, job.ID)
	if err != nil {
		return "", nil, 0, err
	}
	if current.CancelRequested {
		return "", nil, 0, errCancelled
	}

	var pedagogy []string
	if scope.Profile != nil {
		pedagogy = scope.Profile.PedagogyTags
	}
	prompt, err := o.prompts.TaskPrompt(ai.TaskInput{Params: params, Grounding: hits, PedagogyTags: pedagogy})
	if err != nil {
		return "", nil, 0, err
	}

	var result string
	attempts, err := retry.WithBackoff(ctx, func(attempt int) error {
		out, err := o.llm.Generate(ctx, prompt)
		if err != nil {
			if errors.Is(err, core.ErrInvalidRequest) {
				return retry.Permanent(err)
			}
			return err
		}
		if !json.Valid([]byte(out)) {
			return fmt.Errorf("%w: attempt %d", ai.ErrMalformedResponse, attempt)
		}
		result = out
		return nil
	}, o.maxAttempts, o.baseDelay)
	if err != nil {
		return "", nil, attempts, err
	}

	sources := make([]core.ID, len(hits))
	for i, hit := range hits {
		sources[i] = hit.AtomID
	}
	return result, sources, attempts, nil
}

// finish writes a terminal transition even when the worker is shutting down.
func (o *Orchestrator) finish(ctx context.Context, id core.ID, apply func(j *core.Job)) {
	_, err := o.store.UpdateJob(context.WithoutCancel(ctx), id, func(j *core.Job) error {
		apply(j)
		j.FinishedAt = o.now()
		return nil
	})
	if err != nil {
		o.logger.Error("error recording job outcome", "job", id, "err", err)
	}
}

func (o *Orchestrator) releaseClaim(job *core.Job) {
	if err := o.store.ReleaseClaim(context.Background(), job.Fingerprint, job.ID); err != nil {
		o.logger.Warn("error releasing claim", "job", job.ID, "err", err)
	}
}

func groundingQuery(p core.JobParams) string {
	if topic := NormalizeTopic(p.Topic); topic != "" {
		return topic
	}
	return fmt.Sprintf("%s key concepts", p.TaskType)
}
