package mock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/poiesic/syllabus/ai"
)

// DefaultResponse is returned by MockLLM when no GenerateFunc is set.
const DefaultResponse = `{"items":[{"stem":"mock question","options":null,"answer":"mock answer","concept_tags":[],"uses_image":false}]}`

// MockLLM is a test double for ai.LLM.
type MockLLM struct {
	// GenerateFunc is called by Generate if set.
	GenerateFunc func(ctx context.Context, prompt ai.Prompt) (string, error)

	// Delay blocks each call before responding. A cancelled context ends the
	// wait early with the context error.
	Delay time.Duration

	callCount atomic.Int64
	last      atomic.Pointer[ai.Prompt]
}

// NewMockLLM creates a mock LLM that answers with DefaultResponse.
func NewMockLLM() *MockLLM {
	return &MockLLM{}
}

// Generate records the prompt and returns the scripted response.
func (m *MockLLM) Generate(ctx context.Context, prompt ai.Prompt) (string, error) {
	m.callCount.Add(1)
	m.last.Store(&prompt)

	if m.Delay > 0 {
		timer := time.NewTimer(m.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	return DefaultResponse, nil
}

// CallCount returns the number of times Generate was called.
func (m *MockLLM) CallCount() int {
	return int(m.callCount.Load())
}

// LastPrompt returns the most recent prompt, or nil before the first call.
func (m *MockLLM) LastPrompt() *ai.Prompt {
	return m.last.Load()
}

// Reset clears the call count and custom behavior.
func (m *MockLLM) Reset() {
	m.callCount.Store(0)
	m.last.Store(nil)
	m.GenerateFunc = nil
	m.Delay = 0
}
