package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/syllabus/ai/mock"
	"github.com/poiesic/syllabus/core"
	"github.com/poiesic/syllabus/search"
	"github.com/poiesic/syllabus/storage/badger"
)

func TestParseWindow(t *testing.T) {
	// Wednesday
	now := time.Date(2025, 3, 12, 15, 30, 0, 0, time.UTC)
	midnight := time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		window string
		from   time.Time
		to     time.Time
	}{
		{"", now.AddDate(0, 0, -7), now},
		{"last_7_days", now.AddDate(0, 0, -7), now},
		{"LAST_30_DAYS", now.AddDate(0, 0, -30), now},
		{"3d", now.AddDate(0, 0, -3), now},
		{"2w", now.AddDate(0, 0, -14), now},
		{"today", midnight, now},
		{"yesterday", midnight.AddDate(0, 0, -1), midnight.Add(-time.Nanosecond)},
		{"this_week", time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), now},
	}
	for _, tt := range tests {
		t.Run(tt.window, func(t *testing.T) {
			got, err := ParseWindow(tt.window, now)
			require.NoError(t, err)
			assert.Equal(t, tt.from, got.From)
			assert.Equal(t, tt.to, got.To)
		})
	}

	sunday := time.Date(2025, 3, 16, 9, 0, 0, 0, time.UTC)
	week, err := ParseWindow("this_week", sunday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), week.From)

	for _, bad := range []string{"d", "0d", "-2w", "xd", "3m", "fortnight"} {
		t.Run("invalid "+bad, func(t *testing.T) {
			_, err := ParseWindow(bad, now)
			assert.ErrorIs(t, err, ErrInvalidWindow)
		})
	}
}

type reviewEnv struct {
	memory   *Memory
	reviewer *Reviewer
	llm      *mock.MockLLM
	now      time.Time
}

// newReviewEnv seeds book "math" (units 1..3, one atom each) bound to profile
// "p1" of teacher t1, and three artifacts aged one, two and twenty days.
func newReviewEnv(t *testing.T) *reviewEnv {
	t.Helper()
	stores, err := badger.NewMemoryStores()
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })
	ctx := context.Background()

	require.NoError(t, stores.Content.PutBook(ctx, &core.Book{ID: "math", Title: "Math", Status: core.BookStatusReady}))
	root := &core.StructureNode{ID: "math-root", BookID: "math"}
	require.NoError(t, stores.Content.PutNodes(ctx, root))
	for seq := 1; seq <= 3; seq++ {
		node := &core.StructureNode{ID: core.ID(fmt.Sprintf("math-u%d", seq)), BookID: "math", ParentID: root.ID, NodeLevel: 1, SequenceIndex: seq}
		require.NoError(t, stores.Content.PutNodes(ctx, node))
		text := fmt.Sprintf("unit %d fractions text", seq)
		require.NoError(t, stores.Content.PutAtoms(ctx, &core.ContentAtom{
			ID: core.ID(fmt.Sprintf("math-a%d", seq)), BookID: "math", NodeID: node.ID, Text: text,
			Embedding: mock.DeterministicVector(text, 8), SequenceIndex: seq,
		}))
	}
	require.NoError(t, stores.Profiles.PutProfile(ctx, &core.Profile{
		ID: "p1", OwnerUserID: "t1", BookIDs: []core.ID{"math"}, PedagogyTags: []string{"socratic"},
	}))

	embedder := mock.NewMockEmbedder()
	embedder.Dimension = 8
	m, err := NewMemory(stores.Artifacts, embedder)
	require.NoError(t, err)

	now := time.Now().UTC()
	for _, a := range []struct {
		summary string
		tags    []string
		age     time.Duration
	}{
		{"Fractions quiz", []string{"fractions", "denominators"}, 24 * time.Hour},
		{"Fractions lesson", []string{"Fractions"}, 48 * time.Hour},
		{"Geometry quiz", []string{"angles"}, 20 * 24 * time.Hour},
	} {
		_, err := m.Save(ctx, &core.Artifact{ProfileID: "p1", Type: core.ArtifactTypeQuiz, Summary: a.summary, Tags: a.tags, CreatedAt: now.Add(-a.age)})
		require.NoError(t, err)
	}

	searcher, err := search.NewSearcher(stores.Content, embedder, search.WithProfileResolver(stores.Profiles))
	require.NoError(t, err)

	llm := mock.NewMockLLM()
	reviewer, err := NewReviewer(m, stores.Profiles, llm, WithRetriever(searcher))
	require.NoError(t, err)
	reviewer.now = func() time.Time { return now }

	return &reviewEnv{memory: m, reviewer: reviewer, llm: llm, now: now}
}

func TestNewReviewer(t *testing.T) {
	env := newReviewEnv(t)

	_, err := NewReviewer(nil, nil, env.llm)
	assert.Error(t, err)
	_, err = NewReviewer(env.memory, nil, env.llm)
	assert.Equal(t, ErrProfileResolverRequired, err)
	_, err = NewReviewer(env.memory, env.reviewer.profiles, nil)
	assert.Equal(t, ErrLLMRequired, err)
	_, err = NewReviewer(env.memory, env.reviewer.profiles, env.llm, WithReviewLimits(0, 1, 1))
	assert.Error(t, err)
}

func TestComposeReview(t *testing.T) {
	env := newReviewEnv(t)
	ctx := context.Background()

	review, err := env.reviewer.ComposeReview(ctx, ReviewRequest{
		ProfileID: "p1", OwnerUserID: "t1", Window: "last_7_days", MaxSequenceIndex: intPtr(2), Save: true,
	})
	require.NoError(t, err)

	require.Len(t, review.Artifacts, 2)
	assert.Equal(t, []string{"fractions", "denominators"}, review.Topics)
	assert.Equal(t, mock.DefaultResponse, review.Result)
	assert.Equal(t, 1, env.llm.CallCount())

	require.NotEmpty(t, review.Grounding)
	for _, hit := range review.Grounding {
		assert.LessOrEqual(t, hit.SequenceIndex, 2)
	}

	prompt := env.llm.LastPrompt()
	require.NotNil(t, prompt)
	assert.Contains(t, prompt.User, "REVIEW MATERIAL")
	assert.Contains(t, prompt.User, "socratic")
	assert.Contains(t, prompt.User, "TEXTBOOK REFERENCE MATERIAL")

	require.NotNil(t, review.Saved)
	assert.Equal(t, core.ArtifactTypeReview, review.Saved.Type)
	assert.Equal(t, review.Result, review.Saved.Content)
	assert.Len(t, review.Saved.TextbookRefs, len(review.Grounding))

	reviews, err := env.memory.Search(ctx, Query{ProfileID: "p1", Type: core.ArtifactTypeReview})
	require.NoError(t, err)
	assert.Len(t, reviews, 1)
}

func TestComposeReview_ExplicitRange(t *testing.T) {
	env := newReviewEnv(t)

	review, err := env.reviewer.ComposeReview(context.Background(), ReviewRequest{
		ProfileID: "p1",
		Range:     core.DateRange{From: env.now.Add(-30 * 24 * time.Hour), To: env.now},
	})
	require.NoError(t, err)
	assert.Len(t, review.Artifacts, 3)
	assert.Contains(t, review.Topics, "angles")
	assert.Nil(t, review.Saved)
}

func TestComposeReview_Errors(t *testing.T) {
	env := newReviewEnv(t)

	tests := []struct {
		name string
		req  ReviewRequest
		want error
	}{
		{"missing profile id", ReviewRequest{}, core.ErrInvalidRequest},
		{"unknown profile", ReviewRequest{ProfileID: "nope"}, core.ErrAmbiguousScope},
		{"other owner", ReviewRequest{ProfileID: "p1", OwnerUserID: "t2"}, core.ErrAccessDenied},
		{"invalid window", ReviewRequest{ProfileID: "p1", Window: "soon"}, ErrInvalidWindow},
		{"empty window", ReviewRequest{ProfileID: "p1", Window: "today", Type: core.ArtifactTypeLesson}, ErrNothingToReview},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.reviewer.ComposeReview(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, env.llm.CallCount())
}

func TestCollectTopics(t *testing.T) {
	artifacts := []*core.Artifact{
		{Tags: []string{"Fractions", "ratios"}},
		{Tags: []string{"fractions"}},
		{Summary: "Ratios of ratios"},
	}
	assert.Equal(t, []string{"fractions", "ratios"}, collectTopics(artifacts, 5))
	assert.Equal(t, []string{"fractions"}, collectTopics(artifacts, 1))
}

func intPtr(v int) *int { return &v }
