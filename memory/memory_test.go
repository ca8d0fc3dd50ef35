package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/syllabus/ai"
	"github.com/poiesic/syllabus/ai/mock"
	"github.com/poiesic/syllabus/core"
	"github.com/poiesic/syllabus/storage"
	"github.com/poiesic/syllabus/storage/badger"
)

// recordingEmbedder wraps a mock embedder and remembers embedded texts.
type recordingEmbedder struct {
	*mock.MockEmbedder
	mu    sync.Mutex
	texts []string
}

func newRecordingEmbedder(vectors map[string][]float32) *recordingEmbedder {
	r := &recordingEmbedder{MockEmbedder: mock.NewMockEmbedder()}
	r.Dimension = 8
	r.EmbedTextFunc = func(_ context.Context, text string) ([]float32, error) {
		r.mu.Lock()
		r.texts = append(r.texts, text)
		r.mu.Unlock()
		if v, ok := vectors[text]; ok {
			return v, nil
		}
		return mock.DeterministicVector(text, 8), nil
	}
	return r
}

func (r *recordingEmbedder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.texts[len(r.texts)-1]
}

func newTestMemory(t *testing.T, embedder ai.Embedder, opts ...Option) (*Memory, *badger.MemoryStores) {
	t.Helper()
	stores, err := badger.NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })
	if embedder == nil {
		embedder = newRecordingEmbedder(nil)
	}
	m, err := NewMemory(stores.Artifacts, embedder, opts...)
	require.NoError(t, err)
	return m, stores
}

func TestNewMemory(t *testing.T) {
	stores, err := badger.NewMemoryStores()
	require.NoError(t, err)
	defer stores.Close()

	_, err = NewMemory(nil, mock.NewMockEmbedder())
	assert.Equal(t, ErrArtifactRepositoryRequired, err)
	_, err = NewMemory(stores.Artifacts, nil)
	assert.Equal(t, ErrEmbedderRequired, err)

	m, err := NewMemory(stores.Artifacts, mock.NewMockEmbedder(), WithLogger(nil))
	require.NoError(t, err)
	assert.NotNil(t, m.logger)
}

func TestSave(t *testing.T) {
	ctx := context.Background()

	t.Run("embeds summary and keeps tags", func(t *testing.T) {
		embedder := newRecordingEmbedder(nil)
		topics := mock.NewMockTopicExtractor()
		m, _ := newTestMemory(t, embedder, WithTopicExtractor(topics))

		saved, err := m.Save(ctx, &core.Artifact{
			ProfileID: "p1", Type: core.ArtifactTypeQuiz, Summary: "Quiz on fractions",
			Content: `{"items":[]}`, Tags: []string{"fractions"},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, saved.ID)
		assert.False(t, saved.CreatedAt.IsZero())
		assert.Len(t, saved.Embedding, 8)
		assert.NotZero(t, saved.Magnitude)
		assert.Equal(t, []string{"fractions"}, saved.Tags)
		assert.Equal(t, "Quiz on fractions", embedder.last())
		assert.Zero(t, topics.CallCount())

		stored, err := m.Get(ctx, "p1", saved.ID)
		require.NoError(t, err)
		assert.Equal(t, saved.Summary, stored.Summary)
	})

	t.Run("falls back to leading content", func(t *testing.T) {
		embedder := newRecordingEmbedder(nil)
		m, _ := newTestMemory(t, embedder)

		content := strings.Repeat("é", 1500)
		_, err := m.Save(ctx, &core.Artifact{ProfileID: "p1", Type: core.ArtifactTypeLesson, Content: content})
		require.NoError(t, err)
		assert.Equal(t, 1000, len([]rune(embedder.last())))
	})

	t.Run("derives tags with extractor", func(t *testing.T) {
		m, _ := newTestMemory(t, nil, WithTopicExtractor(mock.NewMockTopicExtractor()))

		saved, err := m.Save(ctx, &core.Artifact{ProfileID: "p1", Type: core.ArtifactTypeSummary, Summary: "Photosynthesis converts light into energy"})
		require.NoError(t, err)
		assert.Equal(t, []string{"photosynthesis", "converts", "light", "into", "energy"}, saved.Tags)
	})

	t.Run("extractor failure falls back to keywords", func(t *testing.T) {
		topics := mock.NewMockTopicExtractor()
		topics.ExtractTopicsFunc = func(context.Context, string) ([]ai.ExtractedTopic, error) {
			return nil, errors.New("model offline")
		}
		m, _ := newTestMemory(t, nil, WithTopicExtractor(topics))

		saved, err := m.Save(ctx, &core.Artifact{ProfileID: "p1", Type: core.ArtifactTypeSummary, Summary: "cells and more cells divide"})
		require.NoError(t, err)
		assert.Equal(t, []string{"cells", "more", "divide"}, saved.Tags)
	})

	t.Run("duplicate id", func(t *testing.T) {
		m, _ := newTestMemory(t, nil)
		artifact := &core.Artifact{ID: "a1", ProfileID: "p1", Type: core.ArtifactTypeQuiz, Summary: "s", Tags: []string{"x"}}
		_, err := m.Save(ctx, artifact)
		require.NoError(t, err)
		_, err = m.Save(ctx, artifact)
		assert.ErrorIs(t, err, storage.ErrDuplicateKey)
	})

	t.Run("invalid artifact", func(t *testing.T) {
		m, _ := newTestMemory(t, nil)
		_, err := m.Save(ctx, &core.Artifact{ProfileID: "p1", Type: "poem", Summary: "s"})
		assert.ErrorIs(t, err, core.ErrInvalidArtifact)
	})

	t.Run("embedding failure", func(t *testing.T) {
		embedder := mock.NewMockEmbedder()
		embedder.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
			return nil, errors.New("boom")
		}
		m, _ := newTestMemory(t, embedder)
		_, err := m.Save(ctx, &core.Artifact{ProfileID: "p1", Type: core.ArtifactTypeQuiz, Summary: "s"})
		assert.Error(t, err)
	})
}

func TestSearch(t *testing.T) {
	embedder := newRecordingEmbedder(map[string][]float32{
		"fractions":           {1, 0, 0, 0, 0, 0, 0, 0},
		"Adding fractions":    {0.9, 0.1, 0, 0, 0, 0, 0, 0},
		"Decimal place value": {0, 1, 0, 0, 0, 0, 0, 0},
	})
	m, _ := newTestMemory(t, embedder)
	ctx := context.Background()
	now := time.Now().UTC()

	save := func(profile core.ID, typ, summary string, age time.Duration) *core.Artifact {
		saved, err := m.Save(ctx, &core.Artifact{ProfileID: profile, Type: typ, Summary: summary, Tags: []string{"t"}, CreatedAt: now.Add(-age)})
		require.NoError(t, err)
		return saved
	}
	decimals := save("p1", core.ArtifactTypeLesson, "Decimal place value", time.Hour)
	fractions := save("p1", core.ArtifactTypeQuiz, "Adding fractions", 48*time.Hour)
	old := save("p1", core.ArtifactTypeQuiz, "Old quiz", 30*24*time.Hour)
	save("p2", core.ArtifactTypeQuiz, "Adding fractions", time.Hour)

	t.Run("profile is required", func(t *testing.T) {
		_, err := m.Search(ctx, Query{})
		assert.ErrorIs(t, err, core.ErrInvalidRequest)
	})

	t.Run("newest first without query", func(t *testing.T) {
		hits, err := m.Search(ctx, Query{ProfileID: "p1"})
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, []core.ID{decimals.ID, fractions.ID, old.ID}, []core.ID{hits[0].Artifact.ID, hits[1].Artifact.ID, hits[2].Artifact.ID})
	})

	t.Run("ranked by similarity", func(t *testing.T) {
		hits, err := m.Search(ctx, Query{ProfileID: "p1", Query: "fractions", Range: core.DateRange{From: now.Add(-7 * 24 * time.Hour)}})
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, fractions.ID, hits[0].Artifact.ID)
	})

	t.Run("inclusive range and type", func(t *testing.T) {
		hits, err := m.Search(ctx, Query{ProfileID: "p1", Type: core.ArtifactTypeQuiz, Range: core.DateRange{From: fractions.CreatedAt, To: fractions.CreatedAt}})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, fractions.ID, hits[0].Artifact.ID)
	})

	t.Run("limit", func(t *testing.T) {
		hits, err := m.Search(ctx, Query{ProfileID: "p1", Limit: 1})
		require.NoError(t, err)
		assert.Len(t, hits, 1)
	})
}

func TestGetAndDelete(t *testing.T) {
	m, _ := newTestMemory(t, nil)
	ctx := context.Background()

	saved, err := m.Save(ctx, &core.Artifact{ProfileID: "p1", Type: core.ArtifactTypeQuiz, Summary: "s", Tags: []string{"x"}})
	require.NoError(t, err)

	_, err = m.Get(ctx, "p2", saved.ID)
	assert.ErrorIs(t, err, core.ErrAccessDenied)
	assert.ErrorIs(t, m.Delete(ctx, "p2", saved.ID), core.ErrAccessDenied)

	require.NoError(t, m.Delete(ctx, "p1", saved.ID))
	_, err = m.Get(ctx, "p1", saved.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, m.Delete(ctx, "p1", saved.ID), storage.ErrNotFound)
}

func TestKeywords(t *testing.T) {
	assert.Equal(t, []string{"cells", "divide", "use"}, keywords("Cells divide. The cells use mitosis, and cells grow!", 3))
	assert.Empty(t, keywords("the and of", 5))
	assert.Equal(t, []string{"b", "a"}, rank([]string{"a", "b", "b"}, 5))
}
