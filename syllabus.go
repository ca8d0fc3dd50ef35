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


package syllabus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/syllabus/ai"
	"github.com/poiesic/syllabus/ai/openai"
	"github.com/poiesic/syllabus/config"
	"github.com/poiesic/syllabus/core"
	"github.com/poiesic/syllabus/ingestion"
	"github.com/poiesic/syllabus/jobs"
	"github.com/poiesic/syllabus/memory"
	"github.com/poiesic/syllabus/partition"
	"github.com/poiesic/syllabus/search"
	"github.com/poiesic/syllabus/storage"
	"github.com/poiesic/syllabus/storage/badger"
	"github.com/poiesic/syllabus/storage/redis"
)

// PrimaryShard names the content shard living in the primary database.
const PrimaryShard = "primary"

// System wires storage, AI collaborators and services into one handle.
type System struct {
	backends []*badger.Backend
	content  *partition.Router
	profiles *badger.ProfileRepository
	jobStore storage.JobStore
	provider ai.AIProvider

	pipeline     *ingestion.Pipeline
	searcher     *search.Searcher
	memory       *memory.Memory
	reviewer     *memory.Reviewer
	orchestrator *jobs.Orchestrator
	logger       *slog.Logger
}

// Option configures a System.
type Option func(*systemOptions)

type systemOptions struct {
	provider ai.AIProvider
	jobStore storage.JobStore
	inMemory bool
	progress io.Writer
	logger   *slog.Logger
}

// WithProvider uses provider instead of the OpenAI-compatible one built from
// the configuration. The System takes ownership and closes it.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *systemOptions) {
		o.provider = provider
	}
}

// WithJobStore uses store instead of the configured job store backend.
// The System closes it.
func WithJobStore(store storage.JobStore) Option {
	return func(o *systemOptions) {
		o.jobStore = store
	}
}

// WithInMemory keeps every database in memory. Storage paths are ignored.
func WithInMemory() Option {
	return func(o *systemOptions) {
		o.inMemory = true
	}
}

// WithProgress reports ingestion progress to w.
func WithProgress(w io.Writer) Option {
	return func(o *systemOptions) {
		o.progress = w
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *systemOptions) {
		o.logger = logger
	}
}

// Open builds a System from cfg.
func Open(ctx context.Context, cfg *config.AppConfig, opts ...Option) (sys *System, err error) {
	options := &systemOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	sys = &System{logger: options.logger.With("component", "syllabus")}
	defer func() {
		if err != nil {
			sys.Close()
		}
	}()

	primary, err := badger.OpenBackend(cfg.Storage.Path, options.inMemory)
	if err != nil {
		return nil, err
	}
	sys.backends = append(sys.backends, primary)

	shards := map[string]storage.ContentStore{PrimaryShard: badger.NewContentRepository(primary)}
	for _, shard := range cfg.Storage.Shards {
		backend, err := badger.OpenBackend(shard.Path, options.inMemory)
		if err != nil {
			return nil, fmt.Errorf("opening shard %s: %w", shard.Name, err)
		}
		sys.backends = append(sys.backends, backend)
		shards[shard.Name] = badger.NewContentRepository(backend)
	}
	sys.content, err = partition.NewRouter(badger.NewPlacementCatalog(primary), PrimaryShard, shards,
		partition.WithShardThreshold(cfg.Storage.ShardThreshold),
		partition.WithLogger(options.logger))
	if err != nil {
		return nil, err
	}
	sys.profiles = badger.NewProfileRepository(primary)
	artifacts := badger.NewArtifactRepository(primary)

	switch {
	case options.jobStore != nil:
		sys.jobStore = options.jobStore
	case cfg.Jobs.Backend == config.BackendRedis:
		rdb, err := redis.Dial(ctx, cfg.Jobs.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		sys.jobStore = redis.NewJobStore(rdb, cfg.Jobs.RedisPrefix, cfg.Jobs.Retention)
	default:
		sys.jobStore, err = badger.NewJobStore(primary, cfg.Jobs.Retention)
		if err != nil {
			return nil, err
		}
	}

	sys.provider = options.provider
	if sys.provider == nil {
		sys.provider, err = openai.NewProvider(cfg.AIConfig())
		if err != nil {
			return nil, err
		}
	}
	embedder := sys.provider.Embedder()

	ingestOpts := []ingestion.Option{
		ingestion.WithBatchSize(cfg.Ingestion.BatchSize),
		ingestion.WithStaleAfter(cfg.Ingestion.StaleAfter),
		ingestion.WithLogger(options.logger),
	}
	if cfg.Ingestion.PoolSize > 0 {
		ingestOpts = append(ingestOpts, ingestion.WithPoolSize(cfg.Ingestion.PoolSize))
	}
	if options.progress != nil {
		ingestOpts = append(ingestOpts, ingestion.WithProgress(options.progress))
	}
	sys.pipeline, err = ingestion.NewPipeline(sys.content, embedder, ingestOpts...)
	if err != nil {
		return nil, err
	}

	sys.searcher, err = search.NewSearcher(sys.content, embedder,
		search.WithProfileResolver(sys.profiles),
		search.WithMaxLimit(cfg.Search.MaxLimit),
		search.WithLogger(options.logger))
	if err != nil {
		return nil, err
	}

	sys.memory, err = memory.NewMemory(artifacts, embedder,
		memory.WithTopicExtractor(sys.provider.TopicExtractor()),
		memory.WithLogger(options.logger))
	if err != nil {
		return nil, err
	}
	sys.reviewer, err = memory.NewReviewer(sys.memory, sys.profiles, sys.provider.LLM(),
		memory.WithRetriever(sys.searcher),
		memory.WithReviewLogger(options.logger))
	if err != nil {
		return nil, err
	}

	sys.orchestrator, err = jobs.NewOrchestrator(sys.jobStore, sys.searcher, sys.provider.LLM(),
		jobs.WithWorkers(cfg.Jobs.Workers),
		jobs.WithRetry(cfg.Jobs.MaxAttempts, cfg.Jobs.BaseDelay),
		jobs.WithTimeout(cfg.Jobs.Timeout),
		jobs.WithResultTTL(cfg.Jobs.ResultTTL),
		jobs.WithGroundingLimit(cfg.Jobs.GroundingLimit),
		jobs.WithLogger(options.logger))
	if err != nil {
		return nil, err
	}
	return sys, nil
}

// Close stops workers and releases every resource. It is safe to call on a
// partially opened System.
func (s *System) Close() error {
	var errs []error
	if s.orchestrator != nil {
		s.orchestrator.Stop()
	}
	if s.pipeline != nil {
		s.pipeline.Release()
	}
	if s.provider != nil {
		if err := s.provider.Close(); err != nil {
			s.logger.Error("error closing AI provider", "err", err)
		}
	}
	if s.jobStore != nil {
		errs = append(errs, s.jobStore.Close())
	}
	if s.content != nil {
		errs = append(errs, s.content.Close())
	}
	for _, backend := range s.backends {
		if err := backend.Close(); err != nil {
			s.logger.Error("error closing backend storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IngestBook ingests or re-ingests a book.
func (s *System) IngestBook(ctx context.Context, req ingestion.IngestRequest) (*core.Book, error) {
	return s.pipeline.IngestBook(ctx, req)
}

// ListBooks returns ready books visible to ownerUserID.
func (s *System) ListBooks(ctx context.Context, filter storage.BookFilter, ownerUserID string) ([]*core.Book, error) {
	return s.searcher.ListBooks(ctx, filter, ownerUserID)
}

// Search runs a guarded retrieval query. Stages are traced when the logger
// has debug enabled.
func (s *System) Search(ctx context.Context, req search.Request) ([]*core.Hit, error) {
	if s.logger.Enabled(ctx, slog.LevelDebug) {
		return s.searcher.SearchWithMonitor(ctx, req, &search.LogMonitor{Logger: s.logger})
	}
	return s.searcher.Search(ctx, req)
}

// GetAtom returns one atom if ownerUserID may read it.
func (s *System) GetAtom(ctx context.Context, id core.ID, ownerUserID string) (*core.ContentAtom, error) {
	return s.searcher.GetAtom(ctx, id, ownerUserID)
}

// PutProfile creates or replaces a teaching profile.
func (s *System) PutProfile(ctx context.Context, profile *core.Profile) error {
	return s.profiles.PutProfile(ctx, profile)
}

// GetProfile returns a teaching profile.
func (s *System) GetProfile(ctx context.Context, id core.ID) (*core.Profile, error) {
	return s.profiles.GetProfile(ctx, id)
}

// SubmitJob accepts a generation request.
func (s *System) SubmitJob(ctx context.Context, params core.JobParams) (*core.Job, error) {
	return s.orchestrator.Submit(ctx, params)
}

// GetJob returns the current state of a job.
func (s *System) GetJob(ctx context.Context, id core.ID) (*core.Job, error) {
	return s.orchestrator.GetStatus(ctx, id)
}

// CancelJob cancels a queued job or flags a running one.
func (s *System) CancelJob(ctx context.Context, id core.ID) (*core.Job, error) {
	return s.orchestrator.Cancel(ctx, id)
}

// AwaitJob polls a job until it is terminal.
func (s *System) AwaitJob(ctx context.Context, id core.ID, interval time.Duration) (*core.Job, error) {
	return s.orchestrator.Await(ctx, id, interval)
}

// StartWorkers runs job workers in this process until StopWorkers or Close.
func (s *System) StartWorkers(ctx context.Context) error {
	return s.orchestrator.Start(ctx)
}

// StopWorkers stops the job workers.
func (s *System) StopWorkers() {
	s.orchestrator.Stop()
}

// SaveArtifact stores a generated artifact for a profile.
func (s *System) SaveArtifact(ctx context.Context, artifact *core.Artifact) (*core.Artifact, error) {
	return s.memory.Save(ctx, artifact)
}

// SearchArtifacts searches one profile's artifacts.
func (s *System) SearchArtifacts(ctx context.Context, q memory.Query) ([]*core.ArtifactHit, error) {
	return s.memory.Search(ctx, q)
}

// DeleteArtifact removes an artifact of profileID.
func (s *System) DeleteArtifact(ctx context.Context, profileID, id core.ID) error {
	return s.memory.Delete(ctx, profileID, id)
}

// ComposeReview generates a spaced review from a profile's recent artifacts.
func (s *System) ComposeReview(ctx context.Context, req memory.ReviewRequest) (*memory.Review, error) {
	return s.reviewer.ComposeReview(ctx, req)
}

// MoveBook relocates a book to another content shard.
func (s *System) MoveBook(ctx context.Context, bookID core.ID, shard string) error {
	return s.content.MoveBook(ctx, bookID, shard)
}

// ShardLoad returns the atom count of every content shard.
func (s *System) ShardLoad(ctx context.Context) (map[string]int, error) {
	return s.content.ShardLoad(ctx)
}
