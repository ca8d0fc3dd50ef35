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


package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/syllabus/ai"
	"github.com/poiesic/syllabus/core"
	"github.com/poiesic/syllabus/storage"
)

const (
	// DefaultSearchLimit applies when a query does not set Limit.
	DefaultSearchLimit = 20

	// maxEmbedRunes bounds the content fallback embedded for an artifact
	// without a summary.
	maxEmbedRunes = 1000

	maxDerivedTags = 8
)

// Memory saves and searches the artifacts of teaching profiles.
type Memory struct {
	artifacts storage.ArtifactRepository
	embedder  ai.Embedder
	topics    ai.TopicExtractor
	logger    *slog.Logger
}

// Option configures a Memory.
type Option func(*Memory) error

// WithTopicExtractor derives tags for untagged artifacts with an extractor.
// Without one, tags are the most frequent words of the embedded text.
func WithTopicExtractor(topics ai.TopicExtractor) Option {
	return func(m *Memory) error {
		m.topics = topics
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Memory) error {
		if logger == nil {
			logger = slog.Default()
		}
		m.logger = logger
		return nil
	}
}

// NewMemory creates an artifact memory.
func NewMemory(artifacts storage.ArtifactRepository, embedder ai.Embedder, opts ...Option) (*Memory, error) {
	if artifacts == nil {
		return nil, ErrArtifactRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	m := &Memory{
		artifacts: artifacts,
		embedder:  embedder,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	m.logger = m.logger.With("component", "memory")
	return m, nil
}

// Query selects artifacts of one profile.
type Query struct {
	ProfileID core.ID

	// Query ranks results by similarity when set, otherwise newest first.
	Query string
	Range core.DateRange
	Type  string
	Limit int
}

// Save embeds, tags and stores a new artifact. The stored copy is returned.
// Saving an existing ID returns storage.ErrDuplicateKey.
func (m *Memory) Save(ctx context.Context, artifact *core.Artifact) (*core.Artifact, error) {
	if err := core.ValidateArtifact(artifact); err != nil {
		return nil, err
	}
	saved := *artifact
	saved.Tags = slices.Clone(artifact.Tags)
	saved.TextbookRefs = slices.Clone(artifact.TextbookRefs)
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = time.Now().UTC()
	}
	saved.CreatedAt = saved.CreatedAt.Truncate(time.Microsecond)

	text := embeddingText(&saved)
	vector, err := m.embedder.EmbedText(ctx, text)
	if err != nil {
		m.logger.Error("error embedding artifact", "profile", saved.ProfileID, "err", err)
		return nil, fmt.Errorf("embedding artifact: %w", err)
	}
	saved.Embedding = vector
	saved.Magnitude = storage.Magnitude(vector)

	if len(saved.Tags) == 0 {
		saved.Tags = m.deriveTags(ctx, text)
	}

	if err := m.artifacts.AddArtifact(ctx, &saved); err != nil {
		return nil, err
	}
	m.logger.Debug("artifact saved", "id", saved.ID, "profile", saved.ProfileID, "type", saved.Type, "tags", len(saved.Tags))
	return &saved, nil
}

func (m *Memory) deriveTags(ctx context.Context, text string) []string {
	if m.topics != nil {
		extracted, err := m.topics.ExtractTopics(ctx, text)
		if err == nil {
			tags := make([]string, 0, len(extracted))
			for _, topic := range extracted {
				if len(tags) == maxDerivedTags {
					break
				}
				tags = append(tags, topic.Name)
			}
			return tags
		}
		m.logger.Warn("topic extraction failed, falling back to keywords", "err", err)
	}
	return keywords(text, maxDerivedTags)
}

// embeddingText is the summary, or the leading part of the content when the
// artifact has none.
func embeddingText(a *core.Artifact) string {
	if s := strings.TrimSpace(a.Summary); s != "" {
		return s
	}
	runes := []rune(strings.TrimSpace(a.Content))
	if len(runes) > maxEmbedRunes {
		runes = runes[:maxEmbedRunes]
	}
	return string(runes)
}

// Search returns a profile's artifacts matching q.
func (m *Memory) Search(ctx context.Context, q Query) ([]*core.ArtifactHit, error) {
	if q.ProfileID == "" {
		return nil, fmt.Errorf("%w: profile id is required", core.ErrInvalidRequest)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	query := storage.ArtifactQuery{
		ProfileID: q.ProfileID,
		Type:      q.Type,
		Range:     q.Range,
		Limit:     limit,
	}
	if strings.TrimSpace(q.Query) != "" {
		vector, err := m.embedder.EmbedText(ctx, q.Query)
		if err != nil {
			return nil, fmt.Errorf("embedding query: %w", err)
		}
		query.Vector = vector
	}
	return m.artifacts.SearchArtifacts(ctx, query)
}

// Get returns an artifact owned by profileID.
func (m *Memory) Get(ctx context.Context, profileID, id core.ID) (*core.Artifact, error) {
	artifact, err := m.artifacts.GetArtifact(ctx, id)
	if err != nil {
		return nil, err
	}
	if artifact.ProfileID != profileID {
		return nil, fmt.Errorf("%w: artifact %s", core.ErrAccessDenied, id)
	}
	return artifact, nil
}

// Delete removes an artifact owned by profileID.
func (m *Memory) Delete(ctx context.Context, profileID, id core.ID) error {
	if _, err := m.Get(ctx, profileID, id); err != nil {
		return err
	}
	if err := m.artifacts.DeleteArtifact(ctx, id); err != nil {
		return err
	}
	m.logger.Info("artifact deleted", "id", id, "profile", profileID)
	return nil
}
