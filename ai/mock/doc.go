// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder,
// ai.TopicExtractor, ai.LLM and ai.AIProvider for use in unit tests. The mocks
// run without external AI services, are safe for concurrent use and count
// their calls so tests can assert how often a collaborator was reached.
//
// # Usage in Tests
//
//	provider := mock.NewMockProvider().(*mock.MockProvider)
//	llm := provider.GetMockLLM()
//	llm.GenerateFunc = func(ctx context.Context, p ai.Prompt) (string, error) {
//	    return `{"items":[]}`, nil
//	}
//	// ... exercise code ...
//	assert.Equal(t, 1, llm.CallCount())
//
// # Default Behavior
//
//   - MockEmbedder: Returns deterministic unit vectors based on text hash
//   - MockTopicExtractor: Uses the first distinct non-stopword words as topics
//   - MockLLM: Returns DefaultResponse, optionally after Delay
//   - MockProvider: Aggregates the three services
package mock
