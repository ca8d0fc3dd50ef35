// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package openai

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"

	"github.com/poiesic/syllabus/ai"
	"github.com/tmc/langchaingo/llms/openai"
)

// TopicExtractor implements ai.TopicExtractor using OpenAI-compatible chat APIs.
type TopicExtractor struct {
	client        contentGenerator
	minImportance int
	maxTopics     int
	logger        *slog.Logger
}

// topic matches the structure expected from the model.
type topic struct {
	Topic      string `json:"topic"`
	Kind       string `json:"kind"`
	Importance int    `json:"importance"`
}

type topicAnalysis struct {
	Topics []topic `json:"topics"`
}

// newTopicExtractor is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newTopicExtractor(config *ai.Config) (*TopicExtractor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.GeneratorHost),
		openai.WithToken(config.APIToken),
		openai.WithModel(config.GeneratorModel),
	)
	if err != nil {
		return nil, err
	}

	return &TopicExtractor{
		client:        client,
		minImportance: config.MinImportance,
		maxTopics:     config.MaxTopics,
		logger:        slog.Default().With("component", "openai-topics"),
	}, nil
}

// NewTopicExtractor creates a new topic extractor using the provided configuration.
//
// Returns ai.TopicExtractor interface to enforce abstraction.
func NewTopicExtractor(config *ai.Config) (ai.TopicExtractor, error) {
	return newTopicExtractor(config)
}

// ExtractTopics extracts topics from text using an LLM.
// Topics below the minimum importance are dropped and duplicates merged.
func (e *TopicExtractor) ExtractTopics(ctx context.Context, text string) ([]ai.ExtractedTopic, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return []ai.ExtractedTopic{}, nil
	}

	raw, err := completeJSON(ctx, e.client, e.logger, buildTopicSystemPrompt(), text, 0.0)
	if err != nil {
		return nil, err
	}

	var result topicAnalysis
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		e.logger.Warn("topic response did not match schema", "response", raw, "err", err)
		return []ai.ExtractedTopic{}, nil
	}

	return e.filter(result.Topics), nil
}

func (e *TopicExtractor) filter(topics []topic) []ai.ExtractedTopic {
	seen := make(map[string]bool, len(topics))
	extracted := make([]ai.ExtractedTopic, 0, len(topics))
	for _, t := range topics {
		name := normalizeTopic(t.Topic)
		if name == "" || seen[name] || t.Importance < e.minImportance {
			continue
		}
		seen[name] = true
		kind := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(t.Kind)), " ", "_")
		if !slices.Contains(ai.TopicKinds, kind) {
			kind = "concept"
		}
		extracted = append(extracted, ai.ExtractedTopic{Name: name, Kind: kind, Importance: t.Importance})
	}

	slices.SortStableFunc(extracted, func(a, b ai.ExtractedTopic) int {
		return b.Importance - a.Importance
	})
	if e.maxTopics > 0 && len(extracted) > e.maxTopics {
		extracted = extracted[:e.maxTopics]
	}

	e.logger.Debug("extracted topics", "total", len(topics), "kept", len(extracted))
	return extracted
}
