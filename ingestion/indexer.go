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
	"log/slog"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/syllabus/ai"
	"github.com/poiesic/syllabus/core"
	"github.com/poiesic/syllabus/retry"
	"github.com/poiesic/syllabus/storage"
)

const (
	defaultBatchSize      = 32
	defaultEmbedAttempts  = 3
	defaultEmbedBaseDelay = 200 * time.Millisecond
)

// ChunkFailure records a chunk that did not become an atom.
type ChunkFailure struct {
	Ordinal int
	Err     error
}

// IndexResult summarizes one indexing run.
type IndexResult struct {
	Total    int
	Written  int
	Failures []ChunkFailure
}

// Err returns the first failure, or nil when every chunk was written.
func (r *IndexResult) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return r.Failures[0].Err
}

// Indexer turns content chunks into embedded, immutable content atoms.
// Embedding batches run concurrently on an ants worker pool.
type Indexer struct {
	store          storage.ContentStore
	embedder       ai.Embedder
	pool           *ants.Pool
	batchSize      int
	embedAttempts  int
	embedBaseDelay time.Duration
	logger         *slog.Logger
}

// NewIndexer creates an indexer writing through store.
// poolSize <= 0 selects runtime.NumCPU() / 2, with a minimum of 1.
func NewIndexer(store storage.ContentStore, embedder ai.Embedder, poolSize int, logger *slog.Logger) (*Indexer, error) {
	if store == nil {
		return nil, ErrContentStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if poolSize <= 0 {
		poolSize = max(runtime.NumCPU()/2, 1)
	}
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}
	return &Indexer{
		store:          store,
		embedder:       embedder,
		pool:           pool,
		batchSize:      defaultBatchSize,
		embedAttempts:  defaultEmbedAttempts,
		embedBaseDelay: defaultEmbedBaseDelay,
		logger:         logger.With("component", "indexer"),
	}, nil
}

// AtomID derives the ID of the atom created from the ordinal-th chunk of a node.
func AtomID(bookID, nodeID core.ID, ordinal int) core.ID {
	return core.IDFromContent(string(bookID), string(nodeID), strconv.Itoa(ordinal))
}

// Index resolves, embeds and writes chunks for book. Chunks that cannot be
// resolved or embedded are reported in the result; the rest are written.
func (ix *Indexer) Index(ctx context.Context, book *core.Book, structure *Structure, chunks []core.ContentChunk, progress *ProgressTracker) (*IndexResult, error) {
	result := &IndexResult{Total: len(chunks)}
	pending := make([]*core.ContentAtom, 0, len(chunks))
	ordinals := make([]int, 0, len(chunks))

	for i, chunk := range chunks {
		atom, err := ix.resolve(book, structure, chunk, i)
		if err != nil {
			result.Failures = append(result.Failures, ChunkFailure{Ordinal: i, Err: err})
			continue
		}
		pending = append(pending, atom)
		ordinals = append(ordinals, i)
	}
	if len(result.Failures) > 0 {
		ix.logger.Warn("unresolvable chunks", "book", book.ID, "count", len(result.Failures))
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for start := 0; start < len(pending); start += ix.batchSize {
		end := min(start+ix.batchSize, len(pending))
		batch, batchOrdinals := pending[start:end], ordinals[start:end]

		wg.Add(1)
		err := ix.pool.Submit(func() {
			defer wg.Done()
			err := ix.indexBatch(ctx, batch)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				for _, o := range batchOrdinals {
					result.Failures = append(result.Failures, ChunkFailure{Ordinal: o, Err: err})
				}
				return
			}
			result.Written += len(batch)
			progress.Increment(len(batch))
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			for _, o := range batchOrdinals {
				result.Failures = append(result.Failures, ChunkFailure{Ordinal: o, Err: err})
			}
			mu.Unlock()
		}
	}
	wg.Wait()

	slices.SortFunc(result.Failures, func(a, b ChunkFailure) int { return a.Ordinal - b.Ordinal })
	return result, ctx.Err()
}

// resolve builds the atom for a chunk without its embedding.
func (ix *Indexer) resolve(book *core.Book, structure *Structure, chunk core.ContentChunk, ordinal int) (*core.ContentAtom, error) {
	var (
		node *core.StructureNode
		ok   bool
	)
	switch {
	case chunk.NodeID != "":
		node, ok = structure.Node(chunk.NodeID)
	case chunk.SectionRef != "":
		node, ok = structure.Resolve(chunk.SectionRef)
	}
	if !ok {
		return nil, fmt.Errorf("chunk %d: %w", ordinal, ErrUnresolvedNode)
	}
	if strings.TrimSpace(chunk.Text) == "" {
		return nil, fmt.Errorf("chunk %d: %w", ordinal, core.ErrEmptyContent)
	}

	owner := chunk.OwnerID
	if book.OwnerID != "" {
		if owner != "" && owner != book.OwnerID {
			return nil, fmt.Errorf("chunk %d: %w", ordinal, ErrOwnerMismatch)
		}
		owner = book.OwnerID
	}
	atomType := chunk.AtomType
	if atomType == "" {
		atomType = core.AtomTypeText
	}

	atom := &core.ContentAtom{
		ID:            AtomID(book.ID, node.ID, ordinal),
		BookID:        book.ID,
		NodeID:        node.ID,
		Text:          chunk.Text,
		AtomType:      atomType,
		SequenceIndex: node.SequenceIndex,
		OwnerID:       owner,
		Metadata:      chunk.Metadata.Clone(),
	}
	if err := core.ValidateMetadata(atom.Metadata); err != nil {
		return nil, fmt.Errorf("chunk %d: %w", ordinal, err)
	}
	return atom, nil
}

func (ix *Indexer) indexBatch(ctx context.Context, batch []*core.ContentAtom) error {
	texts := make([]string, len(batch))
	for i, atom := range batch {
		texts[i] = atom.Text
	}

	var vectors [][]float32
	_, err := retry.WithBackoff(ctx, func(int) error {
		var err error
		vectors, err = ix.embedder.EmbedTexts(ctx, texts)
		if err == nil && len(vectors) != len(texts) {
			err = fmt.Errorf("embedding count mismatch: expected %d, got %d", len(texts), len(vectors))
		}
		return err
	}, ix.embedAttempts, ix.embedBaseDelay)
	if err != nil {
		ix.logger.Error("error generating embeddings", "atoms", len(batch), "err", err)
		return fmt.Errorf("embedding: %w", err)
	}

	for i, atom := range batch {
		if len(vectors[i]) == 0 {
			return errors.New("embedding: empty vector")
		}
		atom.Embedding = vectors[i]
		atom.Magnitude = storage.Magnitude(vectors[i])
	}
	if err := ix.store.PutAtoms(ctx, batch...); err != nil {
		ix.logger.Error("error writing atoms", "atoms", len(batch), "err", err)
		return fmt.Errorf("writing atoms: %w", err)
	}
	return nil
}

// Release releases the worker pool. The indexer should not be used after calling Release.
func (ix *Indexer) Release() {
	if ix.pool != nil {
		ix.pool.Release()
	}
}
