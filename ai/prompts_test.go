package ai

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/syllabus/core"
)

func TestSchemasAreValidJSON(t *testing.T) {
	for _, schema := range []string{ItemsSchema, LessonPlanSchema, SummarySchema} {
		assert.True(t, json.Valid([]byte(schema)))
	}
}

func TestTaskPrompt(t *testing.T) {
	hits := []*core.Hit{
		{AtomID: "a1", Text: "Plants make food from light.", SequenceIndex: 2},
		{AtomID: "a2", Text: "Chlorophyll is green.", SequenceIndex: 3},
	}

	tests := []struct {
		task   string
		schema string
		want   string
	}{
		{core.TaskQuiz, ItemsSchema, "Create 4 quiz items"},
		{core.TaskWorksheet, ItemsSchema, "worksheet of 4 practice items"},
		{core.TaskLessonPlan, LessonPlanSchema, "lesson plan"},
		{core.TaskSummary, SummarySchema, "Summarize"},
	}
	for _, tt := range tests {
		t.Run(tt.task, func(t *testing.T) {
			prompt, err := DefaultPromptBuilder{}.TaskPrompt(TaskInput{
				Params:       core.JobParams{TaskType: tt.task, ItemCount: 4, Topic: "photosynthesis", UnitTo: 3},
				Grounding:    hits,
				PedagogyTags: []string{"scaffolded"},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.schema, prompt.Schema)
			assert.Contains(t, prompt.System, tt.schema)
			assert.Contains(t, prompt.User, tt.want)
			assert.Contains(t, prompt.User, "Topic: photosynthesis")
			assert.Contains(t, prompt.User, "Teaching approach: scaffolded")
			assert.Contains(t, prompt.User, "[2] (unit 3) Chlorophyll is green.")
		})
	}

	t.Run("unknown task", func(t *testing.T) {
		_, err := DefaultPromptBuilder{}.TaskPrompt(TaskInput{Params: core.JobParams{TaskType: "essay"}})
		assert.ErrorIs(t, err, core.ErrInvalidRequest)
	})

	t.Run("default item count", func(t *testing.T) {
		prompt, err := DefaultPromptBuilder{}.TaskPrompt(TaskInput{Params: core.JobParams{TaskType: core.TaskQuiz}})
		require.NoError(t, err)
		assert.Contains(t, prompt.User, "Create 5 quiz items")
		assert.NotContains(t, prompt.User, "SOURCE MATERIAL")
	})
}

func TestReviewPrompt(t *testing.T) {
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	long := strings.Repeat("x", 800)

	prompt, err := DefaultPromptBuilder{}.ReviewPrompt(ReviewInput{
		Window: core.DateRange{From: from, To: from.AddDate(0, 0, 7)},
		Artifacts: []*core.Artifact{
			{Type: core.ArtifactTypeQuiz, Summary: "Quiz on fractions", Tags: []string{"fraction"}},
			{Type: core.ArtifactTypeLesson, Content: long},
		},
		Topics:    []string{"fraction", "decimal"},
		Grounding: []*core.Hit{{Text: "A fraction names part of a whole.", SequenceIndex: 4}},
	})
	require.NoError(t, err)

	assert.Equal(t, ItemsSchema, prompt.Schema)
	assert.Contains(t, prompt.User, "### REVIEW MATERIAL (2025-03-01 to 2025-03-08) ###")
	assert.Contains(t, prompt.User, "Summary: Quiz on fractions")
	assert.Contains(t, prompt.User, "Summary: "+strings.Repeat("x", 500)+"\n")
	assert.NotContains(t, prompt.User, strings.Repeat("x", 501))
	assert.Contains(t, prompt.User, "Topics to revisit: fraction, decimal")
	assert.Contains(t, prompt.User, "### TEXTBOOK REFERENCE MATERIAL ###")

	_, err = DefaultPromptBuilder{}.ReviewPrompt(ReviewInput{})
	assert.ErrorIs(t, err, core.ErrInvalidRequest)
}
