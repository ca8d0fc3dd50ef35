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


// Package partition spreads books across physical content shards while
// presenting them as one logical store.
//
// Every book lives on exactly one shard. A placement catalog records which.
// Reads addressing several books are fanned out to the owning shards in
// parallel and merged in hit order, so callers cannot tell how many shards
// exist. Record IDs never encode the shard.
package partition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/poiesic/syllabus/core"
	"github.com/poiesic/syllabus/storage"
)

// DefaultShardThresholdAtoms is the primary shard size after which new books
// are placed on the least-loaded shard.
const DefaultShardThresholdAtoms = 1_000_000

const moveBatchSize = 256

// Router implements storage.ContentStore over named shards.
type Router struct {
	primary   string
	shards    map[string]storage.ContentStore
	names     []string
	catalog   storage.PlacementCatalog
	threshold int
	logger    *slog.Logger

	// placeMu serializes placement decisions for new books.
	placeMu sync.Mutex
}

var _ storage.ContentStore = (*Router)(nil)

// Option configures a Router.
type Option func(*Router) error

// WithShardThreshold sets the primary shard atom count that triggers
// spreading new books. Zero or negative keeps every book on the primary.
func WithShardThreshold(atoms int) Option {
	return func(r *Router) error {
		r.threshold = atoms
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		r.logger = logger
		return nil
	}
}

// NewRouter creates a router. primary must name one of shards.
func NewRouter(catalog storage.PlacementCatalog, primary string, shards map[string]storage.ContentStore, opts ...Option) (*Router, error) {
	if catalog == nil {
		return nil, ErrCatalogRequired
	}
	if _, ok := shards[primary]; !ok {
		return nil, fmt.Errorf("%w: primary %q", storage.ErrUnknownShard, primary)
	}

	r := &Router{
		primary:   primary,
		shards:    shards,
		catalog:   catalog,
		threshold: DefaultShardThresholdAtoms,
		logger:    slog.Default().With("component", "partition"),
	}
	for name := range shards {
		r.names = append(r.names, name)
	}
	slices.Sort(r.names)

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Shards returns the shard names in sorted order.
func (r *Router) Shards() []string {
	return slices.Clone(r.names)
}

// Close closes every shard.
func (r *Router) Close() error {
	var errs []error
	for _, name := range r.names {
		errs = append(errs, r.shards[name].Close())
	}
	return errors.Join(errs...)
}

// storeFor returns the shard holding bookID.
func (r *Router) storeFor(ctx context.Context, bookID core.ID) (string, storage.ContentStore, error) {
	name, err := r.catalog.GetPlacement(ctx, bookID)
	if err != nil {
		return "", nil, err
	}
	store, ok := r.shards[name]
	if !ok {
		return "", nil, fmt.Errorf("%w: book %s placed on %q", storage.ErrUnknownShard, bookID, name)
	}
	return name, store, nil
}

// place returns the shard for bookID, choosing and recording one for new books.
func (r *Router) place(ctx context.Context, bookID core.ID) (storage.ContentStore, error) {
	_, store, err := r.storeFor(ctx, bookID)
	if !errors.Is(err, storage.ErrNotFound) {
		return store, err
	}

	r.placeMu.Lock()
	defer r.placeMu.Unlock()

	_, store, err = r.storeFor(ctx, bookID)
	if !errors.Is(err, storage.ErrNotFound) {
		return store, err
	}

	name, err := r.chooseShard(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.catalog.SetPlacement(ctx, bookID, name); err != nil {
		return nil, err
	}
	r.logger.Debug("placed book", "book", bookID, "shard", name)
	return r.shards[name], nil
}

func (r *Router) chooseShard(ctx context.Context) (string, error) {
	if r.threshold <= 0 || len(r.names) == 1 {
		return r.primary, nil
	}
	primaryCount, err := r.shards[r.primary].CountAtoms(ctx)
	if err != nil {
		return "", err
	}
	if primaryCount <= r.threshold {
		return r.primary, nil
	}

	load, err := r.ShardLoad(ctx)
	if err != nil {
		return "", err
	}
	best := r.primary
	for _, name := range r.names {
		if load[name] < load[best] {
			best = name
		}
	}
	return best, nil
}

// ShardLoad returns the atom count of every shard.
func (r *Router) ShardLoad(ctx context.Context) (map[string]int, error) {
	var mu sync.Mutex
	load := make(map[string]int, len(r.names))
	err := r.fanOut(ctx, r.names, func(ctx context.Context, name string, store storage.ContentStore) error {
		n, err := store.CountAtoms(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		load[name] = n
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return load, nil
}

// PutBook writes a book to its shard, placing new books first.
func (r *Router) PutBook(ctx context.Context, book *core.Book) error {
	if err := core.ValidateBook(book); err != nil {
		return err
	}
	store, err := r.place(ctx, book.ID)
	if err != nil {
		return err
	}
	return store.PutBook(ctx, book)
}

// GetBook reads a book from its shard.
func (r *Router) GetBook(ctx context.Context, id core.ID) (*core.Book, error) {
	_, store, err := r.storeFor(ctx, id)
	if err != nil {
		return nil, err
	}
	return store.GetBook(ctx, id)
}

// ListBooks merges book listings from every shard, ordered by ID. A book
// found on more than one shard, as during an unfinished move, is listed once
// from the shard its placement names.
func (r *Router) ListBooks(ctx context.Context, filter storage.BookFilter) ([]*core.Book, error) {
	var mu sync.Mutex
	found := make(map[core.ID]map[string]*core.Book)
	err := r.fanOut(ctx, r.names, func(ctx context.Context, name string, store storage.ContentStore) error {
		part, err := store.ListBooks(ctx, storage.BookFilter{
			Subject:    filter.Subject,
			GradeLevel: filter.GradeLevel,
			MinGrade:   filter.MinGrade,
			MaxGrade:   filter.MaxGrade,
			ReadyOnly:  filter.ReadyOnly,
		})
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		for _, book := range part {
			if found[book.ID] == nil {
				found[book.ID] = make(map[string]*core.Book, 1)
			}
			found[book.ID][name] = book
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var placements map[core.ID]string
	for _, copies := range found {
		if len(copies) > 1 {
			if placements, err = r.catalog.ListPlacements(ctx); err != nil {
				return nil, err
			}
			break
		}
	}
	books := make([]*core.Book, 0, len(found))
	for id, copies := range found {
		book, ok := copies[placements[id]]
		if !ok {
			for _, name := range r.names {
				if b, has := copies[name]; has {
					book = b
					break
				}
			}
		}
		books = append(books, book)
	}
	slices.SortFunc(books, func(a, b *core.Book) int {
		return strings.Compare(string(a.ID), string(b.ID))
	})
	if filter.Limit > 0 && len(books) > filter.Limit {
		books = books[:filter.Limit]
	}
	return books, nil
}

// DeleteBook removes a book from its shard and forgets its placement.
func (r *Router) DeleteBook(ctx context.Context, id core.ID) error {
	_, store, err := r.storeFor(ctx, id)
	if err != nil {
		return err
	}
	if err := store.DeleteBook(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return r.catalog.DeletePlacement(ctx, id)
}

// PutNodes writes nodes to their book's shard.
func (r *Router) PutNodes(ctx context.Context, nodes ...*core.StructureNode) error {
	if len(nodes) == 0 {
		return nil
	}
	_, store, err := r.storeFor(ctx, nodes[0].BookID)
	if err != nil {
		return err
	}
	return store.PutNodes(ctx, nodes...)
}

// GetNode looks a node up on every shard.
func (r *Router) GetNode(ctx context.Context, id core.ID) (*core.StructureNode, error) {
	return findOne(ctx, r, func(ctx context.Context, store storage.ContentStore) (*core.StructureNode, error) {
		return store.GetNode(ctx, id)
	})
}

// GetNodes reads a book's nodes from its shard.
func (r *Router) GetNodes(ctx context.Context, bookID core.ID) ([]*core.StructureNode, error) {
	_, store, err := r.storeFor(ctx, bookID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return store.GetNodes(ctx, bookID)
}

// PutAtoms writes atoms to the shards of their books.
func (r *Router) PutAtoms(ctx context.Context, atoms ...*core.ContentAtom) error {
	byBook := make(map[core.ID][]*core.ContentAtom)
	var order []core.ID
	for _, atom := range atoms {
		if _, ok := byBook[atom.BookID]; !ok {
			order = append(order, atom.BookID)
		}
		byBook[atom.BookID] = append(byBook[atom.BookID], atom)
	}
	for _, bookID := range order {
		_, store, err := r.storeFor(ctx, bookID)
		if err != nil {
			return fmt.Errorf("book %s: %w", bookID, err)
		}
		if err := store.PutAtoms(ctx, byBook[bookID]...); err != nil {
			return err
		}
	}
	return nil
}

// GetAtom looks an atom up on every shard.
func (r *Router) GetAtom(ctx context.Context, id core.ID) (*core.ContentAtom, error) {
	return findOne(ctx, r, func(ctx context.Context, store storage.ContentStore) (*core.ContentAtom, error) {
		return store.GetAtom(ctx, id)
	})
}

// GetAtoms reads a book's atoms from its shard.
func (r *Router) GetAtoms(ctx context.Context, bookID core.ID) ([]*core.ContentAtom, error) {
	_, store, err := r.storeFor(ctx, bookID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return store.GetAtoms(ctx, bookID)
}

// SearchAtoms splits the query by shard, runs the parts in parallel and
// merges the hits. Books without a placement hold no atoms and are skipped.
func (r *Router) SearchAtoms(ctx context.Context, query storage.AtomQuery) ([]*core.Hit, error) {
	if len(query.BookIDs) == 0 || query.Limit <= 0 {
		return nil, fmt.Errorf("%w: books and a positive limit are required", storage.ErrInvalidQuery)
	}

	byShard := make(map[string][]core.ID)
	for _, bookID := range core.UniqueIDs(query.BookIDs) {
		name, _, err := r.storeFor(ctx, bookID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		byShard[name] = append(byShard[name], bookID)
	}

	var names []string
	for name := range byShard {
		names = append(names, name)
	}
	slices.Sort(names)

	var mu sync.Mutex
	top := storage.NewTopHits(query.Limit)
	err := r.fanOut(ctx, names, func(ctx context.Context, name string, store storage.ContentStore) error {
		part := query
		part.BookIDs = byShard[name]
		hits, err := store.SearchAtoms(ctx, part)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		for _, h := range hits {
			top.Offer(h)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return top.Hits(), nil
}

// CountAtoms sums atom counts over every shard.
func (r *Router) CountAtoms(ctx context.Context) (int, error) {
	load, err := r.ShardLoad(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, n := range load {
		total += n
	}
	return total, nil
}

// MoveBook copies a book to another shard, flips its placement and removes
// the source copy. Readers see the book on exactly one shard at any time.
func (r *Router) MoveBook(ctx context.Context, bookID core.ID, target string) error {
	dst, ok := r.shards[target]
	if !ok {
		return fmt.Errorf("%w: %q", storage.ErrUnknownShard, target)
	}
	srcName, src, err := r.storeFor(ctx, bookID)
	if err != nil {
		return err
	}
	if srcName == target {
		return nil
	}

	book, err := src.GetBook(ctx, bookID)
	if err != nil {
		return err
	}
	nodes, err := src.GetNodes(ctx, bookID)
	if err != nil {
		return err
	}
	atoms, err := src.GetAtoms(ctx, bookID)
	if err != nil {
		return err
	}

	if err := copyBook(ctx, dst, book, nodes, atoms); err != nil {
		if cleanupErr := dst.DeleteBook(ctx, bookID); cleanupErr != nil && !errors.Is(cleanupErr, storage.ErrNotFound) {
			r.logger.Warn("failed to clean up partial move", "book", bookID, "shard", target, "error", cleanupErr)
		}
		return fmt.Errorf("move book %s to %s: %w", bookID, target, err)
	}

	if err := r.catalog.SetPlacement(ctx, bookID, target); err != nil {
		return err
	}
	if err := src.DeleteBook(ctx, bookID); err != nil {
		r.logger.Warn("failed to delete source copy", "book", bookID, "shard", srcName, "error", err)
	}
	r.logger.Info("moved book", "book", bookID, "from", srcName, "to", target, "atoms", len(atoms))
	return nil
}

func copyBook(ctx context.Context, dst storage.ContentStore, book *core.Book, nodes []*core.StructureNode, atoms []*core.ContentAtom) error {
	if err := dst.PutBook(ctx, book); err != nil {
		return err
	}
	if err := dst.PutNodes(ctx, nodes...); err != nil {
		return err
	}
	for start := 0; start < len(atoms); start += moveBatchSize {
		end := min(start+moveBatchSize, len(atoms))
		if err := dst.PutAtoms(ctx, atoms[start:end]...); err != nil {
			return err
		}
	}
	return nil
}

// fanOut runs fn against the named shards in parallel.
func (r *Router) fanOut(ctx context.Context, names []string, fn func(ctx context.Context, name string, store storage.ContentStore) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		store := r.shards[name]
		g.Go(func() error {
			if err := fn(gctx, name, store); err != nil {
				return fmt.Errorf("shard %s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// findOne queries every shard and returns the first record found.
func findOne[T any](ctx context.Context, r *Router, get func(ctx context.Context, store storage.ContentStore) (*T, error)) (*T, error) {
	var mu sync.Mutex
	var found *T
	err := r.fanOut(ctx, r.names, func(ctx context.Context, _ string, store storage.ContentStore) error {
		v, err := get(ctx, store)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		mu.Lock()
		if found == nil {
			found = v
		}
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, storage.ErrNotFound
	}
	return found, nil
}
