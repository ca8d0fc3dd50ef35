package ai

import (
	"fmt"
	"strings"
	"time"

	"github.com/poiesic/syllabus/core"
)

// ItemsSchema is the response schema for quiz, worksheet and review items.
const ItemsSchema = `{
  "type": "object",
  "properties": {
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "stem": {"type": "string"},
          "options": {"type": ["array", "null"], "items": {"type": "string"}},
          "answer": {"type": "string"},
          "concept_tags": {"type": "array", "items": {"type": "string"}},
          "uses_image": {"type": "boolean"}
        },
        "required": ["stem", "answer", "concept_tags"]
      }
    }
  },
  "required": ["items"]
}`

// LessonPlanSchema is the response schema for lesson plans.
const LessonPlanSchema = `{
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "objectives": {"type": "array", "items": {"type": "string"}},
    "sections": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "heading": {"type": "string"},
          "minutes": {"type": "integer"},
          "activities": {"type": "array", "items": {"type": "string"}}
        },
        "required": ["heading", "activities"]
      }
    }
  },
  "required": ["title", "objectives", "sections"]
}`

// SummarySchema is the response schema for summaries.
const SummarySchema = `{
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "summary": {"type": "string"},
    "key_points": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["title", "summary", "key_points"]
}`

const (
	defaultItemCount = 5
	reviewExcerptLen = 500
)

const systemPromptTemplate = `You are a classroom material writer working from a textbook.
Use ONLY the source material provided. Do not introduce vocabulary, facts or
skills that the source material does not contain.

Output ONLY valid JSON which complies with the schema given below. Do not include
any preamble or explanation. Start your response directly with the opening brace {.

%s`

// DefaultPromptBuilder assembles prompts with fixed English wording.
type DefaultPromptBuilder struct{}

var _ PromptBuilder = DefaultPromptBuilder{}

// SchemaFor returns the response schema of a task type.
func SchemaFor(taskType string) (string, error) {
	switch taskType {
	case core.TaskQuiz, core.TaskWorksheet:
		return ItemsSchema, nil
	case core.TaskLessonPlan:
		return LessonPlanSchema, nil
	case core.TaskSummary:
		return SummarySchema, nil
	}
	return "", fmt.Errorf("%w: unknown task type %q", core.ErrInvalidRequest, taskType)
}

// TaskPrompt builds the prompt for a generation job.
func (DefaultPromptBuilder) TaskPrompt(input TaskInput) (Prompt, error) {
	params := input.Params
	schema, err := SchemaFor(params.TaskType)
	if err != nil {
		return Prompt{}, err
	}

	var b strings.Builder
	switch params.TaskType {
	case core.TaskQuiz:
		fmt.Fprintf(&b, "Create %d quiz items as a JSON list under key 'items'. ", itemCount(params.ItemCount))
		b.WriteString("Each item must have: stem, options (or null), answer, concept_tags (list), uses_image (bool).\n")
	case core.TaskWorksheet:
		fmt.Fprintf(&b, "Create a worksheet of %d practice items as a JSON list under key 'items'. ", itemCount(params.ItemCount))
		b.WriteString("Prefer short-answer and cloze items; options may be null.\n")
	case core.TaskLessonPlan:
		b.WriteString("Write a lesson plan with a title, learning objectives and timed sections.\n")
	case core.TaskSummary:
		b.WriteString("Summarize the source material for students with a title, a short summary and key points.\n")
	}
	if params.Topic != "" {
		fmt.Fprintf(&b, "Topic: %s\n", params.Topic)
	}
	if params.Difficulty != "" {
		fmt.Fprintf(&b, "Difficulty: %s\n", params.Difficulty)
	}
	if params.UnitTo > 0 {
		fmt.Fprintf(&b, "Units covered: %d to %d\n", params.UnitFrom, params.UnitTo)
	}
	writePedagogy(&b, input.PedagogyTags)
	writeGrounding(&b, "### SOURCE MATERIAL (CONTEXT) ###", input.Grounding)

	return Prompt{
		System: fmt.Sprintf(systemPromptTemplate, schema),
		User:   b.String(),
		Schema: schema,
	}, nil
}

// ReviewPrompt builds the prompt for a spaced review over saved artifacts.
func (DefaultPromptBuilder) ReviewPrompt(input ReviewInput) (Prompt, error) {
	if len(input.Artifacts) == 0 {
		return Prompt{}, fmt.Errorf("%w: review needs at least one artifact", core.ErrInvalidRequest)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Create %d review items as a JSON list under key 'items' ", itemCount(input.ItemCount))
	b.WriteString("that revisit the material the class already covered.\n")
	if len(input.Topics) > 0 {
		fmt.Fprintf(&b, "Topics to revisit: %s\n", strings.Join(input.Topics, ", "))
	}
	writePedagogy(&b, input.PedagogyTags)

	fmt.Fprintf(&b, "\n### REVIEW MATERIAL (%s to %s) ###\n",
		formatDate(input.Window.From), formatDate(input.Window.To))
	for i, a := range input.Artifacts {
		fmt.Fprintf(&b, "\n[%d] Type: %s\n", i+1, a.Type)
		if len(a.Tags) > 0 {
			fmt.Fprintf(&b, "Topics: %s\n", strings.Join(a.Tags, ", "))
		}
		fmt.Fprintf(&b, "Summary: %s\n", excerpt(a))
	}
	writeGrounding(&b, "### TEXTBOOK REFERENCE MATERIAL ###", input.Grounding)

	return Prompt{
		System: fmt.Sprintf(systemPromptTemplate, ItemsSchema),
		User:   b.String(),
		Schema: ItemsSchema,
	}, nil
}

func itemCount(n int) int {
	if n <= 0 {
		return defaultItemCount
	}
	return n
}

func writePedagogy(b *strings.Builder, tags []string) {
	if len(tags) == 0 {
		return
	}
	fmt.Fprintf(b, "Teaching approach: %s\n", strings.Join(tags, ", "))
}

func writeGrounding(b *strings.Builder, heading string, hits []*core.Hit) {
	if len(hits) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s\n", heading)
	for i, h := range hits {
		fmt.Fprintf(b, "\n[%d] (unit %d) %s\n", i+1, h.SequenceIndex, strings.TrimSpace(h.Text))
	}
}

func excerpt(a *core.Artifact) string {
	if s := strings.TrimSpace(a.Summary); s != "" {
		return s
	}
	runes := []rune(strings.TrimSpace(a.Content))
	if len(runes) > reviewExcerptLen {
		runes = runes[:reviewExcerptLen]
	}
	return string(runes)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "any time"
	}
	return t.Format(time.DateOnly)
}
