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


package storage

import (
	"context"
	"time"

	"github.com/poiesic/syllabus/core"
)

// AtomQuery is a filtered nearest-neighbour query over content atoms.
// Every constraint is applied while scanning, before ranking.
type AtomQuery struct {
	// BookIDs restricts the scan to these books. Must not be empty.
	BookIDs []core.ID

	// MaxSequenceIndex, when set, excludes atoms ordered after the boundary.
	MaxSequenceIndex *int

	// MinSequenceIndex, when set, excludes atoms ordered before it.
	MinSequenceIndex *int

	// OwnerUserID selects the private atoms visible in addition to shared ones.
	// Atoms owned by anyone else are never returned.
	OwnerUserID string

	// Filters are ANDed metadata constraints.
	Filters []core.Filter

	// Vector is the query embedding.
	Vector []float32

	// Limit caps the number of hits. Must be positive.
	Limit int
}

// Admits reports whether an atom satisfies every non-similarity constraint.
func (q *AtomQuery) Admits(atom *core.ContentAtom) bool {
	if q.MaxSequenceIndex != nil && atom.SequenceIndex > *q.MaxSequenceIndex {
		return false
	}
	if q.MinSequenceIndex != nil && atom.SequenceIndex < *q.MinSequenceIndex {
		return false
	}
	if !atom.VisibleTo(q.OwnerUserID) {
		return false
	}
	return core.MatchAll(q.Filters, atom)
}

// BookFilter narrows book listings.
type BookFilter struct {
	Subject    string
	GradeLevel int
	MinGrade   int
	MaxGrade   int
	ReadyOnly  bool
	Limit      int
}

// Match reports whether the book passes the filter.
func (f BookFilter) Match(book *core.Book) bool {
	if f.ReadyOnly && !book.Ready() {
		return false
	}
	if f.Subject != "" && book.Subject != f.Subject {
		return false
	}
	if f.GradeLevel > 0 {
		return book.GradeLevel == f.GradeLevel
	}
	if f.MinGrade > 0 && book.GradeLevel < f.MinGrade {
		return false
	}
	if f.MaxGrade > 0 && book.GradeLevel > f.MaxGrade {
		return false
	}
	return true
}

// ContentStore is the single logical relation holding books, structure nodes
// and content atoms. Callers never see how records are physically placed.
type ContentStore interface {
	// PutBook inserts or replaces a book catalog entry.
	PutBook(ctx context.Context, book *core.Book) error

	// GetBook returns ErrNotFound if the book does not exist.
	GetBook(ctx context.Context, id core.ID) (*core.Book, error)

	// ListBooks returns books matching the filter ordered by ID.
	ListBooks(ctx context.Context, filter BookFilter) ([]*core.Book, error)

	// DeleteBook removes a book with all of its nodes and atoms.
	DeleteBook(ctx context.Context, id core.ID) error

	// PutNodes writes structure nodes. All nodes must belong to the same book.
	PutNodes(ctx context.Context, nodes ...*core.StructureNode) error

	// GetNode returns ErrNotFound if the node does not exist.
	GetNode(ctx context.Context, id core.ID) (*core.StructureNode, error)

	// GetNodes returns a book's nodes ordered by sequence index.
	GetNodes(ctx context.Context, bookID core.ID) ([]*core.StructureNode, error)

	// PutAtoms appends atoms. Writing an existing atom ID returns ErrDuplicateKey.
	PutAtoms(ctx context.Context, atoms ...*core.ContentAtom) error

	// GetAtom returns ErrNotFound if the atom does not exist.
	GetAtom(ctx context.Context, id core.ID) (*core.ContentAtom, error)

	// GetAtoms returns a book's atoms ordered by sequence index.
	GetAtoms(ctx context.Context, bookID core.ID) ([]*core.ContentAtom, error)

	// SearchAtoms runs a filtered similarity query. Hits are ordered by
	// core.CompareHits and never violate the query's constraints.
	SearchAtoms(ctx context.Context, query AtomQuery) ([]*core.Hit, error)

	// CountAtoms returns the number of stored atoms.
	CountAtoms(ctx context.Context) (int, error)

	// Close releases resources.
	Close() error
}

// PlacementCatalog maps books to named physical shards.
type PlacementCatalog interface {
	// GetPlacement returns ErrNotFound if the book has no placement yet.
	GetPlacement(ctx context.Context, bookID core.ID) (string, error)
	SetPlacement(ctx context.Context, bookID core.ID, shard string) error
	DeletePlacement(ctx context.Context, bookID core.ID) error
	ListPlacements(ctx context.Context) (map[core.ID]string, error)
}

// ProfileRepository stores teaching profiles.
type ProfileRepository interface {
	PutProfile(ctx context.Context, profile *core.Profile) error

	// GetProfile returns ErrNotFound if the profile does not exist.
	GetProfile(ctx context.Context, id core.ID) (*core.Profile, error)
	DeleteProfile(ctx context.Context, id core.ID) error
	Close() error
}

// ArtifactQuery selects artifacts of one profile.
type ArtifactQuery struct {
	ProfileID core.ID
	Type      string
	Range     core.DateRange

	// Vector ranks by similarity when set, otherwise by created_at descending.
	Vector []float32
	Limit  int
}

// ArtifactRepository stores immutable artifacts.
type ArtifactRepository interface {
	// AddArtifact writes a new artifact. Existing IDs return ErrDuplicateKey.
	AddArtifact(ctx context.Context, artifact *core.Artifact) error

	// GetArtifact returns ErrNotFound if the artifact does not exist.
	GetArtifact(ctx context.Context, id core.ID) (*core.Artifact, error)
	DeleteArtifact(ctx context.Context, id core.ID) error
	SearchArtifacts(ctx context.Context, query ArtifactQuery) ([]*core.ArtifactHit, error)
	Close() error
}

// JobStore is the externally visible job table, claim table, result cache and
// work queue. Implementations must be safe across processes.
type JobStore interface {
	// Claim atomically reserves fingerprint for jobID. If another job already
	// holds the claim, its ID is returned with claimed=false.
	Claim(ctx context.Context, fingerprint string, jobID core.ID, ttl time.Duration) (holder core.ID, claimed bool, err error)

	// ReleaseClaim drops the claim if it is still held by jobID.
	ReleaseClaim(ctx context.Context, fingerprint string, jobID core.ID) error

	// PutJob inserts a new job. Existing IDs return ErrDuplicateKey.
	PutJob(ctx context.Context, job *core.Job) error

	// GetJob returns ErrNotFound for unknown or evicted jobs.
	GetJob(ctx context.Context, id core.ID) (*core.Job, error)

	// UpdateJob atomically applies fn to the stored job. The status change made
	// by fn is checked with core.CheckTransition before it is written.
	UpdateJob(ctx context.Context, id core.ID, fn func(job *core.Job) error) (*core.Job, error)

	// GetCachedResult returns ErrNotFound when no unexpired result exists.
	GetCachedResult(ctx context.Context, fingerprint string) (*core.CachedResult, error)
	PutCachedResult(ctx context.Context, result *core.CachedResult, ttl time.Duration) error

	// Enqueue appends a job to the work queue.
	Enqueue(ctx context.Context, id core.ID) error

	// Dequeue pops the oldest queued job ID, waiting up to wait.
	// Returns ErrQueueEmpty if nothing arrived in time.
	Dequeue(ctx context.Context, wait time.Duration) (core.ID, error)

	Close() error
}
