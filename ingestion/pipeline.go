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


package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/syllabus/ai"
	"github.com/poiesic/syllabus/core"
	"github.com/poiesic/syllabus/storage"
)

// DefaultStaleAfter is how long an INGESTING book may go without updates
// before another ingestion may take it over.
const DefaultStaleAfter = time.Hour

// Pipeline ingests whole books: structure first, then atoms, then the
// readiness marker.
type Pipeline struct {
	store          storage.ContentStore
	indexer        *Indexer
	poolSize       int
	batchSize      int
	embedAttempts  int
	embedBaseDelay time.Duration
	staleAfter     time.Duration
	progress       io.Writer
	logger         *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for concurrent embedding.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		p.poolSize = max(size, 1)
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithProgress reports indexing progress to w.
func WithProgress(w io.Writer) Option {
	return func(p *Pipeline) error {
		p.progress = w
		return nil
	}
}

// WithStaleAfter sets how long an unfinished ingestion blocks a new one.
func WithStaleAfter(d time.Duration) Option {
	return func(p *Pipeline) error {
		if d <= 0 {
			return fmt.Errorf("stale-after must be positive, got %s", d)
		}
		p.staleAfter = d
		return nil
	}
}

// WithEmbedRetry sets the retry policy for embedding batches.
func WithEmbedRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(p *Pipeline) error {
		if maxAttempts < 1 {
			return fmt.Errorf("embed attempts must be positive, got %d", maxAttempts)
		}
		p.embedAttempts = maxAttempts
		p.embedBaseDelay = baseDelay
		return nil
	}
}

// WithBatchSize sets how many chunks are embedded per request.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		p.batchSize = max(size, 1)
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(store storage.ContentStore, embedder ai.Embedder, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, ErrContentStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	p := &Pipeline{
		store:          store,
		batchSize:      defaultBatchSize,
		embedAttempts:  defaultEmbedAttempts,
		embedBaseDelay: defaultEmbedBaseDelay,
		staleAfter:     DefaultStaleAfter,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	indexer, err := NewIndexer(store, embedder, p.poolSize, p.logger)
	if err != nil {
		return nil, err
	}
	indexer.batchSize = p.batchSize
	indexer.embedAttempts = p.embedAttempts
	indexer.embedBaseDelay = p.embedBaseDelay
	p.indexer = indexer
	p.logger = p.logger.With("component", "ingestion")
	return p, nil
}

// IngestRequest is one book as delivered by the parsing collaborator.
type IngestRequest struct {
	Book     *core.Book
	Sections []core.SectionRecord
	Chunks   []core.ContentChunk

	// Replace allows overwriting a READY book with the same ID.
	Replace bool
}

// IngestBook persists a book, its structure and its atoms as one unit.
// The book is visible to search only after every atom is written. On failure
// the book is left FAILED and an *core.IngestionPartialFailure is returned.
//
// A READY book with the same ID is rejected with core.ErrBookExists unless
// Replace is set. FAILED books and stale INGESTING books are cleared and
// re-ingested.
func (p *Pipeline) IngestBook(ctx context.Context, req IngestRequest) (*core.Book, error) {
	if req.Book == nil {
		return nil, fmt.Errorf("%w: book is nil", core.ErrInvalidBook)
	}
	book := *req.Book
	book.Status = core.BookStatusIngesting
	book.FailureReason = ""
	book.NodeCount, book.AtomCount = 0, 0
	if book.Version == 0 {
		book.Version = 1
	}
	if err := core.ValidateBook(&book); err != nil {
		return nil, err
	}

	if err := p.clearPrevious(ctx, &book, req.Replace); err != nil {
		return nil, err
	}

	logger := p.logger.With("book", book.ID, "version", book.Version)
	logger.Info("ingesting book", "sections", len(req.Sections), "chunks", len(req.Chunks))

	if err := p.store.PutBook(ctx, &book); err != nil {
		return nil, err
	}

	structure, err := BuildStructure(book.ID, book.Title, req.Sections)
	if err != nil {
		return nil, p.fail(ctx, &book, &core.IngestionPartialFailure{
			BookID: book.ID, Stage: "structure", Failed: len(req.Sections), Total: len(req.Sections), Err: err,
		})
	}
	if err := p.store.PutNodes(ctx, structure.Nodes...); err != nil {
		return nil, p.fail(ctx, &book, &core.IngestionPartialFailure{
			BookID: book.ID, Stage: "structure", Failed: len(structure.Nodes), Total: len(structure.Nodes), Err: err,
		})
	}
	book.NodeCount = len(structure.Nodes)

	var progress *ProgressTracker
	if p.progress != nil {
		progress = NewProgressTracker(p.progress, string(book.ID), len(req.Chunks), max(len(req.Chunks)/20, 1))
		progress.Start()
	}
	stopTouch := p.keepFresh(ctx, book)
	result, err := p.indexer.Index(ctx, &book, structure, req.Chunks, progress)
	stopTouch()
	progress.Finish()
	if err == nil {
		err = result.Err()
	}
	if err != nil {
		return nil, p.fail(ctx, &book, &core.IngestionPartialFailure{
			BookID: book.ID, Stage: "atoms", Failed: len(result.Failures), Total: result.Total, Err: err,
		})
	}

	book.AtomCount = result.Written
	book.Status = core.BookStatusReady
	if err := p.store.PutBook(ctx, &book); err != nil {
		return nil, p.fail(ctx, &book, &core.IngestionPartialFailure{
			BookID: book.ID, Stage: "ready", Total: result.Total, Err: err,
		})
	}
	logger.Info("book ready", "nodes", book.NodeCount, "atoms", book.AtomCount)
	return &book, nil
}

// clearPrevious applies the re-ingestion policy and removes stale data.
func (p *Pipeline) clearPrevious(ctx context.Context, book *core.Book, replace bool) error {
	existing, err := p.store.GetBook(ctx, book.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	switch existing.Status {
	case core.BookStatusReady:
		if !replace {
			return fmt.Errorf("%w: %s (version %d)", core.ErrBookExists, existing.ID, existing.Version)
		}
	case core.BookStatusIngesting:
		if !replace && time.Since(existing.UpdatedAt) < p.staleAfter {
			return fmt.Errorf("%w: %s is still being ingested", core.ErrBookExists, existing.ID)
		}
	}

	p.logger.Info("clearing previous book data", "book", existing.ID, "status", existing.Status, "version", existing.Version)
	if err := p.store.DeleteBook(ctx, existing.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	book.Version = existing.Version + 1
	book.CreatedAt = existing.CreatedAt
	return nil
}

// keepFresh rewrites the INGESTING marker every third of the stale window
// until the returned func is called. That func waits for any write in flight.
func (p *Pipeline) keepFresh(ctx context.Context, book core.Book) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(max(p.staleAfter/3, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				marker := book
				if err := p.store.PutBook(ctx, &marker); err != nil && ctx.Err() == nil {
					p.logger.Warn("error refreshing ingestion marker", "book", book.ID, "err", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// fail marks the book FAILED and returns failure. Marking errors are logged.
func (p *Pipeline) fail(ctx context.Context, book *core.Book, failure *core.IngestionPartialFailure) error {
	p.logger.Error("ingestion failed", "book", book.ID, "stage", failure.Stage,
		"failed", failure.Failed, "total", failure.Total, "err", failure.Err)

	book.Status = core.BookStatusFailed
	book.FailureReason = failure.Error()
	if len(book.FailureReason) > 1024 {
		book.FailureReason = book.FailureReason[:1024]
	}
	if err := p.store.PutBook(context.WithoutCancel(ctx), book); err != nil {
		p.logger.Error("error marking book failed", "book", book.ID, "err", err)
	}
	return failure
}

// Release releases resources including worker pools.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	p.indexer.Release()
}
