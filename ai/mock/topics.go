package mock

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/poiesic/syllabus/ai"
)

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "for": true, "in": true,
	"is": true, "of": true, "on": true, "or": true, "the": true, "to": true,
	"with": true,
}

// MockTopicExtractor is a test double for ai.TopicExtractor.
type MockTopicExtractor struct {
	// ExtractTopicsFunc is called by ExtractTopics if set.
	// If nil, uses default simple word extraction.
	ExtractTopicsFunc func(ctx context.Context, text string) ([]ai.ExtractedTopic, error)

	callCount atomic.Int64
}

// NewMockTopicExtractor creates a mock topic extractor with default behavior.
func NewMockTopicExtractor() *MockTopicExtractor {
	return &MockTopicExtractor{}
}

// ExtractTopics returns up to five distinct non-stopword words of text as
// topics, with importance decreasing from 10.
func (m *MockTopicExtractor) ExtractTopics(ctx context.Context, text string) ([]ai.ExtractedTopic, error) {
	m.callCount.Add(1)

	if m.ExtractTopicsFunc != nil {
		return m.ExtractTopicsFunc(ctx, text)
	}

	topics := make([]ai.ExtractedTopic, 0, 5)
	seen := make(map[string]bool)
	importance := 10
	for _, word := range strings.Fields(strings.ToLower(text)) {
		if len(topics) == 5 {
			break
		}
		word = strings.Trim(word, ".,!?;:\"'()[]{}—–-")
		if word == "" || stopWords[word] || seen[word] {
			continue
		}
		seen[word] = true
		topics = append(topics, ai.ExtractedTopic{Name: word, Kind: "concept", Importance: importance})
		importance--
	}
	return topics, nil
}

// CallCount returns the number of times ExtractTopics was called.
func (m *MockTopicExtractor) CallCount() int {
	return int(m.callCount.Load())
}

// Reset clears the call count and custom functions.
func (m *MockTopicExtractor) Reset() {
	m.callCount.Store(0)
	m.ExtractTopicsFunc = nil
}
