package storage

import (
	"testing"
	"time"

	"github.com/poiesic/syllabus/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalID(t *testing.T) {
	tests := []struct {
		name string
		id   core.ID
	}{
		{"empty ID", core.ID("")},
		{"random ID", core.NewID()},
		{"content-based ID", core.IDFromContent("book-1", "12")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := MarshalID(tt.id)
			require.NotEmpty(t, data)

			decoded, err := UnmarshalID(data)
			require.NoError(t, err)
			assert.Equal(t, tt.id, decoded)
		})
	}
}

func TestUnmarshalID_Invalid(t *testing.T) {
	_, err := UnmarshalID([]byte{})
	assert.Error(t, err)
}

func TestMarshalUnmarshalBook(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	book := &core.Book{
		ID:         "b1",
		Title:      "Life Science 7",
		Subject:    "stem",
		GradeLevel: 7,
		OwnerID:    "teacher_42",
		Status:     core.BookStatusReady,
		Version:    2,
		NodeCount:  14,
		AtomCount:  230,
		CreatedAt:  now,
		UpdatedAt:  now.Add(time.Hour),
		Metadata:   core.Metadata{"publisher": "open", "edition": "3"},
	}

	decoded, err := UnmarshalBook(MarshalBook(book))
	require.NoError(t, err)
	assert.Equal(t, book, decoded)
}

func TestMarshalUnmarshalNode(t *testing.T) {
	node := &core.StructureNode{
		ID:            "n3",
		BookID:        "b1",
		ParentID:      "n1",
		NodeLevel:     2,
		Title:         "Cells",
		SequenceIndex: 3,
		PageStart:     10,
		PageEnd:       18,
	}

	decoded, err := UnmarshalNode(MarshalNode(node))
	require.NoError(t, err)
	assert.Equal(t, node, decoded)
}

func TestMarshalUnmarshalAtom(t *testing.T) {
	tests := []struct {
		name string
		atom *core.ContentAtom
	}{
		{
			name: "global atom",
			atom: &core.ContentAtom{
				ID: "a1", BookID: "b1", NodeID: "n3", Text: "Cells are the unit of life.",
				Embedding: []float32{0.1, -0.25, 3.5}, Magnitude: 3.51, AtomType: core.AtomTypeText,
				SequenceIndex: 3, CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
			},
		},
		{
			name: "private atom with metadata",
			atom: &core.ContentAtom{
				ID: "a2", BookID: "b1", NodeID: "n3", Text: "membrane: a boundary layer",
				Embedding: []float32{1}, Magnitude: 1, AtomType: core.AtomTypeVocab,
				SequenceIndex: 3, OwnerID: "teacher_42",
				Metadata: core.Metadata{core.MetaContentType: "vocab"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := UnmarshalAtom(MarshalAtom(tt.atom))
			require.NoError(t, err)
			assert.Equal(t, tt.atom, decoded)
		})
	}
}

func TestMarshalMetadata_Deterministic(t *testing.T) {
	a := &core.Book{ID: "b", Title: "t", Metadata: core.Metadata{"a": "1", "b": "2", "c": "3"}}
	b := &core.Book{ID: "b", Title: "t", Metadata: core.Metadata{"c": "3", "a": "1", "b": "2"}}
	assert.Equal(t, MarshalBook(a), MarshalBook(b))
}

func TestMarshalUnmarshalJob(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	job := &core.Job{
		ID:          "j1",
		Fingerprint: "abc",
		Params: core.JobParams{
			TaskType: core.TaskQuiz, BookID: "b1", OwnerUserID: "u1",
			UnitFrom: 1, UnitTo: 3, Topic: "cells", ItemCount: 5, Difficulty: "easy",
		},
		Status:          core.JobStatusFailed,
		Sources:         []core.ID{"a1", "a2"},
		ErrorKind:       core.FailureKindTimeout,
		Error:           "deadline exceeded",
		Attempts:        2,
		CancelRequested: true,
		CreatedAt:       now,
		StartedAt:       now.Add(time.Second),
		FinishedAt:      now.Add(time.Minute),
	}

	decoded, err := UnmarshalJob(MarshalJob(job))
	require.NoError(t, err)
	assert.Equal(t, job, decoded)
}

func TestMarshalUnmarshalArtifactAndProfile(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	art := &core.Artifact{
		ID: "x1", ProfileID: "p1", Type: core.ArtifactTypeQuiz, Title: "Cells quiz",
		Summary: "Five questions on cells", Embedding: []float32{0.5, 0.5}, Magnitude: 0.7071,
		Content: "1. ...", Tags: []string{"cells", "biology"}, TextbookRefs: []core.ID{"b1"},
		CreatedAt: now,
	}
	decodedArt, err := UnmarshalArtifact(MarshalArtifact(art))
	require.NoError(t, err)
	assert.Equal(t, art, decodedArt)

	prof := &core.Profile{
		ID: "p1", OwnerUserID: "u1", Name: "Period 3", GradeLevel: 7,
		BookIDs: []core.ID{"b1", "b2"}, PedagogyTags: []string{"inquiry"},
		CreatedAt: now, UpdatedAt: now,
	}
	decodedProf, err := UnmarshalProfile(MarshalProfile(prof))
	require.NoError(t, err)
	assert.Equal(t, prof, decodedProf)
}

func TestUnmarshal_Truncated(t *testing.T) {
	data := MarshalAtom(&core.ContentAtom{ID: "a1", BookID: "b1", NodeID: "n1", Text: "text", Embedding: []float32{1, 2, 3}})

	_, err := UnmarshalAtom(data[:len(data)/2])
	assert.ErrorIs(t, err, ErrSerializationFailed)

	_, err = UnmarshalCachedResult(nil)
	assert.ErrorIs(t, err, ErrSerializationFailed)
}
