package openai

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/poiesic/syllabus/ai"
)

// scriptedModel returns canned responses in order, repeating the last one.
type scriptedModel struct {
	responses []string
	err       error
	calls     int
}

func (m *scriptedModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	i := min(m.calls-1, len(m.responses)-1)
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.responses[i]}}}, nil
}

func TestCompleteJSON(t *testing.T) {
	logger := slog.Default()

	t.Run("strips fences and repairs", func(t *testing.T) {
		model := &scriptedModel{responses: []string{"```json\n{\"items\": [1, 2,],}\n```"}}
		out, err := completeJSON(context.Background(), model, logger, "sys", "user", 0)
		require.NoError(t, err)
		assert.JSONEq(t, `{"items":[1,2]}`, out)
		assert.Equal(t, 1, model.calls)
	})

	t.Run("retries malformed output", func(t *testing.T) {
		model := &scriptedModel{responses: []string{"not json", "{\"ok\": true}"}}
		out, err := completeJSON(context.Background(), model, logger, "sys", "user", 0)
		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, out)
		assert.Equal(t, 2, model.calls)
	})

	t.Run("gives up after three attempts", func(t *testing.T) {
		model := &scriptedModel{responses: []string{"nope"}}
		_, err := completeJSON(context.Background(), model, logger, "sys", "user", 0)
		assert.ErrorIs(t, err, ai.ErrMalformedResponse)
		assert.Equal(t, maxParseAttempts, model.calls)
	})

	t.Run("transport errors are not retried", func(t *testing.T) {
		boom := errors.New("connection refused")
		model := &scriptedModel{err: boom}
		_, err := completeJSON(context.Background(), model, logger, "sys", "user", 0)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, model.calls)
	})
}

func TestGenerator_Generate(t *testing.T) {
	model := &scriptedModel{responses: []string{`{"items":[{"stem":"2+2?","answer":"4","concept_tags":["addition"]}]}`}}
	gen := &Generator{client: model, logger: slog.Default()}

	out, err := gen.Generate(context.Background(), ai.Prompt{System: "s", User: "u", Schema: ai.ItemsSchema})
	require.NoError(t, err)
	assert.Contains(t, out, `"stem":"2+2?"`)
}

func TestTopicExtractor_ExtractTopics(t *testing.T) {
	model := &scriptedModel{responses: []string{`{"topics":[
		{"topic":"Fraction Addition","kind":"skill","importance":9},
		{"topic":"fraction addition","kind":"skill","importance":8},
		{"topic":"denominator","kind":"Abstract Thing","importance":7},
		{"topic":"pizza","kind":"concept","importance":2},
		{"topic":"numerator","kind":"vocabulary","importance":6}
	]}`}}
	extractor := &TopicExtractor{client: model, minImportance: 5, maxTopics: 2, logger: slog.Default()}

	topics, err := extractor.ExtractTopics(context.Background(), "Quiz on adding fractions")
	require.NoError(t, err)
	require.Len(t, topics, 2)
	assert.Equal(t, ai.ExtractedTopic{Name: "fraction addition", Kind: "skill", Importance: 9}, topics[0])
	assert.Equal(t, ai.ExtractedTopic{Name: "denominator", Kind: "concept", Importance: 7}, topics[1])

	empty, err := extractor.ExtractTopics(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.Equal(t, 1, model.calls)
}

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"missing key quote", `{"a":1, b":2}`, `{"a":1, "b":2}`},
		{"trailing comma in object", `{"a":1,}`, `{"a":1}`},
		{"trailing comma in array", `[1,2, ]`, `[1,2 ]`},
		{"comma inside string kept", `{"a":"x,}"}`, `{"a":"x,}"}`},
		{"valid input untouched", `{"a":[1,2]}`, `{"a":[1,2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, repairJSON(tt.in))
		})
	}
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("  {\"a\":1} "))
}
