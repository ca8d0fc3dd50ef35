package ai

import (
	"context"

	"github.com/poiesic/syllabus/core"
)

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// TopicExtractor derives short topic tags from text.
// Implementations must be thread-safe for concurrent use.
type TopicExtractor interface {
	// ExtractTopics returns the topics of text ordered by importance.
	// Returns an empty slice if no topics are found.
	ExtractTopics(ctx context.Context, text string) ([]ExtractedTopic, error)
}

// ExtractedTopic is a topic identified in text.
type ExtractedTopic struct {
	// Name is lowercase, 1-3 words, singular form. Example: "photosynthesis"
	Name string

	// Kind is one of TopicKinds.
	Kind string

	// Importance ranges from 1 to 10. Higher is more central to the text.
	Importance int
}

// Prompt is a fully assembled LLM request.
type Prompt struct {
	System string
	User   string

	// Schema is the JSON schema the response must follow. Informational for
	// the model; responses are checked for well-formed JSON only.
	Schema string
}

// LLM turns prompts into JSON documents.
// Implementations must be thread-safe for concurrent use.
type LLM interface {
	// Generate returns a well-formed JSON document answering the prompt.
	// Unparseable model output is reported as ErrMalformedResponse.
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// TaskInput is everything needed to prompt for a generation task.
type TaskInput struct {
	Params       core.JobParams
	Grounding    []*core.Hit
	PedagogyTags []string
}

// ReviewInput is everything needed to prompt for a spaced review.
type ReviewInput struct {
	Window       core.DateRange
	Artifacts    []*core.Artifact
	Topics       []string
	Grounding    []*core.Hit
	PedagogyTags []string
	ItemCount    int
}

// PromptBuilder assembles prompts. Wording is owned by the builder.
type PromptBuilder interface {
	TaskPrompt(input TaskInput) (Prompt, error)
	ReviewPrompt(input ReviewInput) (Prompt, error)
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
type AIProvider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// TopicExtractor returns the topic extraction service.
	TopicExtractor() TopicExtractor

	// LLM returns the generation service.
	LLM() LLM

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
