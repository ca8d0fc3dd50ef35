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


package core

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// ID is an opaque identifier for domain entities.
// IDs never encode where a record is physically stored.
type ID string

// NewID returns a random ID.
func NewID() ID {
	return ID(uuid.NewString())
}

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// Identical content always produces identical IDs.
func IDFromContent(parts ...string) ID {
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(strings.Join(parts, "\x1f")))
	return ID(hex.EncodeToString(h.Sum(nil)))
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return string(id)
}

// Metadata is an open key-value bag attached to books, nodes and atoms.
// See ValidateMetadata for the schema it must satisfy.
type Metadata map[string]string

// Clone returns a copy of the metadata. A nil receiver yields nil.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// BookStatus tracks ingestion progress of a book.
type BookStatus int

const (
	// BookStatusIngesting means structure or atoms are still being written.
	BookStatusIngesting BookStatus = iota + 1
	// BookStatusReady marks a book as fully persisted and searchable.
	BookStatusReady
	// BookStatusFailed means ingestion stopped with a partial failure.
	BookStatusFailed
)

func (s BookStatus) String() string {
	switch s {
	case BookStatusIngesting:
		return "INGESTING"
	case BookStatusReady:
		return "READY"
	case BookStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Book is the catalog entry for an ingested textbook.
type Book struct {
	ID            ID
	Title         string
	Subject       string
	GradeLevel    int
	OwnerID       string // empty for shared books
	Status        BookStatus
	Version       int
	FailureReason string
	NodeCount     int
	AtomCount     int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Metadata      Metadata
}

// Ready reports whether the book may be exposed to search.
func (b *Book) Ready() bool {
	return b != nil && b.Status == BookStatusReady
}

// StructureNode is a node in a book's table-of-contents tree.
type StructureNode struct {
	ID            ID
	BookID        ID
	ParentID      ID // empty for the book root
	NodeLevel     int
	Title         string
	SequenceIndex int
	PageStart     int
	PageEnd       int
	Metadata      Metadata
}

// IsRoot reports whether the node is the synthetic book root.
func (n *StructureNode) IsRoot() bool {
	return n.NodeLevel == 0
}

// Well-known atom types. AtomType is open; other values are accepted.
const (
	AtomTypeText             = "text"
	AtomTypeVocab            = "vocab"
	AtomTypeExercise         = "exercise"
	AtomTypeImageDescription = "image_description"
	AtomTypeTable            = "table"
	AtomTypeComplexPage      = "complex_page"
)

// ContentAtom is an indexed, embeddable, retrievable unit derived from source material.
// Atoms are immutable once written.
type ContentAtom struct {
	ID            ID
	BookID        ID
	NodeID        ID
	Text          string
	Embedding     []float32
	Magnitude     float32 // precomputed norm of Embedding
	AtomType      string
	SequenceIndex int    // copied from the owning node at creation time
	OwnerID       string // empty means globally shared
	Metadata      Metadata
	CreatedAt     time.Time
}

// VisibleTo reports whether the atom may be returned to the given user.
func (a *ContentAtom) VisibleTo(userID string) bool {
	return a.OwnerID == "" || a.OwnerID == userID
}

// SectionRecord is one entry of a parsed table of contents, in document order.
type SectionRecord struct {
	Ref        string   `json:"ref"`
	ParentRef  string   `json:"parent_ref,omitempty"`
	Title      string   `json:"title"`
	Level      int      `json:"level"`
	PageStart  int      `json:"page_start,omitempty"`
	PageEnd    int      `json:"page_end,omitempty"`
	ContentRef string   `json:"content_ref,omitempty"`
	Metadata   Metadata `json:"metadata,omitempty"`
}

// ContentChunk is a parsed piece of content owned by a section.
// Either NodeID or SectionRef identifies the owning node.
type ContentChunk struct {
	NodeID     ID       `json:"node_id,omitempty"`
	SectionRef string   `json:"section_ref,omitempty"`
	Text       string   `json:"text"`
	AtomType   string   `json:"atom_type,omitempty"`
	OwnerID    string   `json:"owner_id,omitempty"`
	Metadata   Metadata `json:"metadata,omitempty"`
}

// Hit is a single ranked search result.
type Hit struct {
	AtomID        ID
	BookID        ID
	NodeID        ID
	Text          string
	Score         float32
	SequenceIndex int
	AtomType      string
	OwnerID       string
	Metadata      Metadata
}

// CompareHits orders hits by score descending, then sequence index ascending,
// then atom ID ascending. It is a total order over distinct atoms.
func CompareHits(a, b *Hit) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	case a.SequenceIndex < b.SequenceIndex:
		return -1
	case a.SequenceIndex > b.SequenceIndex:
		return 1
	}
	return strings.Compare(string(a.AtomID), string(b.AtomID))
}

// Profile is a teaching profile bound to one or more books.
type Profile struct {
	ID           ID
	OwnerUserID  string
	Name         string
	GradeLevel   int
	BookIDs      []ID
	PedagogyTags []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UniqueIDs returns ids without repeats, keeping first occurrences in order.
func UniqueIDs(ids []ID) []ID {
	seen := make(map[ID]struct{}, len(ids))
	out := make([]ID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// HasBook reports whether the profile is bound to bookID.
func (p *Profile) HasBook(bookID ID) bool {
	for _, id := range p.BookIDs {
		if id == bookID {
			return true
		}
	}
	return false
}

// Artifact types.
const (
	ArtifactTypeQuiz      = "quiz"
	ArtifactTypeLesson    = "lesson"
	ArtifactTypeSummary   = "summary"
	ArtifactTypeWorksheet = "worksheet"
	ArtifactTypeReview    = "review"
)

// Artifact is an immutable saved generation output attributed to a teaching profile.
type Artifact struct {
	ID           ID
	ProfileID    ID
	Type         string
	Title        string
	Summary      string
	Embedding    []float32
	Magnitude    float32
	Content      string
	Tags         []string
	TextbookRefs []ID
	CreatedAt    time.Time
}

// ArtifactHit is an artifact ranked by a memory search.
type ArtifactHit struct {
	Artifact *Artifact
	Score    float32
}

// DateRange is an inclusive range of instants. A zero bound is open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}
