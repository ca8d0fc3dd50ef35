package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/syllabus/ai"
	"github.com/poiesic/syllabus/core"
	"github.com/poiesic/syllabus/storage"
)

const (
	// DefaultLimit applies when a request does not set Limit.
	DefaultLimit = 10

	// DefaultMaxLimit caps Limit unless changed with WithMaxLimit.
	DefaultMaxLimit = 100

	// DefaultBookListLimit applies when a book listing does not set Limit.
	DefaultBookListLimit = 20
)

// ProfileResolver resolves teaching profiles. storage.ProfileRepository
// satisfies it.
type ProfileResolver interface {
	GetProfile(ctx context.Context, id core.ID) (*core.Profile, error)
}

// Request is a scoped retrieval query.
type Request struct {
	Query string

	// Vector, when set, is used instead of embedding Query.
	Vector []float32

	BookID    core.ID
	ProfileID core.ID

	// MaxSequenceIndex is the curriculum boundary. Nil means unrestricted,
	// which is reserved for authoring and admin use.
	MaxSequenceIndex *int
	MinSequenceIndex *int

	// OwnerUserID is the requesting user. Private atoms of anyone else are
	// never returned. Defaults to the profile owner when a profile is given.
	OwnerUserID string

	Filters []core.Filter
	Limit   int

	// AdminOverride permits a search across every ready book when no book or
	// profile is given.
	AdminOverride bool
}

// Scope is the set of books a request may read and on whose behalf.
type Scope struct {
	BookIDs          []core.ID
	OwnerUserID      string
	MaxSequenceIndex *int
	Profile          *core.Profile
}

// Searcher runs guarded similarity search over a content store.
type Searcher struct {
	store    storage.ContentStore
	embedder ai.Embedder
	profiles ProfileResolver
	maxLimit int
	logger   *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithProfileResolver enables profile-scoped requests.
func WithProfileResolver(profiles ProfileResolver) Option {
	return func(s *Searcher) error {
		s.profiles = profiles
		return nil
	}
}

// WithMaxLimit caps the number of hits a single request may ask for.
func WithMaxLimit(limit int) Option {
	return func(s *Searcher) error {
		if limit < 1 {
			return fmt.Errorf("max limit must be positive, got %d", limit)
		}
		s.maxLimit = limit
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(store storage.ContentStore, embedder ai.Embedder, opts ...Option) (*Searcher, error) {
	if store == nil {
		return nil, ErrContentStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	s := &Searcher{
		store:    store,
		embedder: embedder,
		maxLimit: DefaultMaxLimit,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "searcher")
	return s, nil
}

// Search returns the atoms most similar to the query within the request's scope.
func (s *Searcher) Search(ctx context.Context, req Request) ([]*core.Hit, error) {
	return s.SearchWithMonitor(ctx, req, nil)
}

// SearchWithMonitor is Search with stage callbacks.
func (s *Searcher) SearchWithMonitor(ctx context.Context, req Request, monitor SearchMonitor) (hits []*core.Hit, err error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	monitor.Start(req)
	defer func() { monitor.Finish(hits, err) }()

	if req.Query == "" && len(req.Vector) == 0 {
		return nil, ErrEmptyQuery
	}
	for _, f := range req.Filters {
		if err := f.Validate(); err != nil {
			return nil, err
		}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, s.maxLimit)

	scope, err := s.ResolveScope(ctx, req)
	if err != nil {
		return nil, err
	}
	monitor.AfterScopeResolution(scope)
	if len(scope.BookIDs) == 0 {
		return []*core.Hit{}, nil
	}

	vector := req.Vector
	if len(vector) == 0 {
		vector, err = s.embedder.EmbedText(ctx, req.Query)
		if err != nil {
			s.logger.Error("error generating embedding for query", "err", err)
			return nil, fmt.Errorf("embedding query: %w", err)
		}
	}
	monitor.AfterQueryEmbedding(len(vector))

	hits, err = s.store.SearchAtoms(ctx, storage.AtomQuery{
		BookIDs:          scope.BookIDs,
		MaxSequenceIndex: scope.MaxSequenceIndex,
		MinSequenceIndex: req.MinSequenceIndex,
		OwnerUserID:      scope.OwnerUserID,
		Filters:          req.Filters,
		Vector:           vector,
		Limit:            limit,
	})
	if err != nil {
		s.logger.Error("error querying content store", "books", len(scope.BookIDs), "err", err)
		return nil, err
	}
	monitor.AfterStoreQuery(hits)
	return guard(hits, scope, req.MinSequenceIndex, s.logger), nil
}

// guard drops any hit outside the resolved scope. A store honouring AtomQuery
// never produces one.
func guard(hits []*core.Hit, scope *Scope, minSeq *int, logger *slog.Logger) []*core.Hit {
	books := make(map[core.ID]struct{}, len(scope.BookIDs))
	for _, id := range scope.BookIDs {
		books[id] = struct{}{}
	}
	kept := hits[:0]
	for _, hit := range hits {
		_, inScope := books[hit.BookID]
		switch {
		case !inScope,
			scope.MaxSequenceIndex != nil && hit.SequenceIndex > *scope.MaxSequenceIndex,
			minSeq != nil && hit.SequenceIndex < *minSeq,
			hit.OwnerID != "" && hit.OwnerID != scope.OwnerUserID:
			logger.Error("content store returned out-of-scope hit", "atom", hit.AtomID, "book", hit.BookID)
			continue
		}
		kept = append(kept, hit)
	}
	if kept == nil {
		return []*core.Hit{}
	}
	return kept
}

// ResolveScope applies the scope rules of a request without searching.
func (s *Searcher) ResolveScope(ctx context.Context, req Request) (*Scope, error) {
	scope := &Scope{
		OwnerUserID:      req.OwnerUserID,
		MaxSequenceIndex: req.MaxSequenceIndex,
	}

	switch {
	case req.ProfileID != "":
		profile, err := s.resolveProfile(ctx, req.ProfileID)
		if err != nil {
			return nil, err
		}
		scope.Profile = profile
		if scope.OwnerUserID == "" {
			scope.OwnerUserID = profile.OwnerUserID
		} else if scope.OwnerUserID != profile.OwnerUserID {
			return nil, fmt.Errorf("%w: profile %s belongs to another user", core.ErrAccessDenied, profile.ID)
		}

		if req.BookID != "" {
			if !profile.HasBook(req.BookID) {
				return nil, fmt.Errorf("%w: book %s is not bound to profile %s", core.ErrAccessDenied, req.BookID, profile.ID)
			}
			if err := s.checkBook(ctx, req.BookID, scope.OwnerUserID); err != nil {
				return nil, err
			}
			scope.BookIDs = []core.ID{req.BookID}
			return scope, nil
		}

		for _, bookID := range core.UniqueIDs(profile.BookIDs) {
			if err := s.checkBook(ctx, bookID, scope.OwnerUserID); err != nil {
				s.logger.Debug("skipping profile book", "profile", profile.ID, "book", bookID, "err", err)
				continue
			}
			scope.BookIDs = append(scope.BookIDs, bookID)
		}
		return scope, nil

	case req.BookID != "":
		if err := s.checkBook(ctx, req.BookID, scope.OwnerUserID); err != nil {
			return nil, err
		}
		scope.BookIDs = []core.ID{req.BookID}
		return scope, nil

	case req.AdminOverride:
		s.logger.Info("unscoped search with admin override", "owner", scope.OwnerUserID)
		books, err := s.store.ListBooks(ctx, storage.BookFilter{ReadyOnly: true})
		if err != nil {
			return nil, err
		}
		for _, book := range books {
			if book.OwnerID == "" || book.OwnerID == scope.OwnerUserID {
				scope.BookIDs = append(scope.BookIDs, book.ID)
			}
		}
		scope.BookIDs = core.UniqueIDs(scope.BookIDs)
		return scope, nil
	}

	return nil, fmt.Errorf("%w: request names neither a book nor a profile", core.ErrAmbiguousScope)
}

func (s *Searcher) resolveProfile(ctx context.Context, id core.ID) (*core.Profile, error) {
	if s.profiles == nil {
		return nil, fmt.Errorf("%w: profile %s cannot be resolved", core.ErrAmbiguousScope, id)
	}
	profile, err := s.profiles.GetProfile(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: profile %s: %v", core.ErrAmbiguousScope, id, err)
	}
	if len(profile.BookIDs) == 0 {
		return nil, fmt.Errorf("%w: profile %s has no books", core.ErrAmbiguousScope, id)
	}
	return profile, nil
}

// checkBook verifies a directly addressed book is searchable by ownerUserID.
func (s *Searcher) checkBook(ctx context.Context, id core.ID, ownerUserID string) error {
	book, err := s.store.GetBook(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: book %s not found", core.ErrAmbiguousScope, id)
	}
	if err != nil {
		return err
	}
	if book.OwnerID != "" && book.OwnerID != ownerUserID {
		return fmt.Errorf("%w: book %s", core.ErrAccessDenied, id)
	}
	if !book.Ready() {
		return fmt.Errorf("%w: book %s is %s", core.ErrBookNotReady, id, book.Status)
	}
	return nil
}

// GetAtom returns a single atom if ownerUserID may read it.
func (s *Searcher) GetAtom(ctx context.Context, id core.ID, ownerUserID string) (*core.ContentAtom, error) {
	atom, err := s.store.GetAtom(ctx, id)
	if err != nil {
		return nil, err
	}
	if !atom.VisibleTo(ownerUserID) {
		return nil, fmt.Errorf("%w: atom %s", core.ErrAccessDenied, id)
	}
	return atom, nil
}

// ListBooks returns ready books visible to ownerUserID, ordered by ID.
func (s *Searcher) ListBooks(ctx context.Context, filter storage.BookFilter, ownerUserID string) ([]*core.Book, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultBookListLimit
	}
	filter.Limit = 0
	filter.ReadyOnly = true

	books, err := s.store.ListBooks(ctx, filter)
	if err != nil {
		return nil, err
	}
	visible := make([]*core.Book, 0, min(len(books), limit))
	for _, book := range books {
		if len(visible) == limit {
			break
		}
		if book.OwnerID == "" || book.OwnerID == ownerUserID {
			visible = append(visible, book)
		}
	}
	return visible, nil
}
