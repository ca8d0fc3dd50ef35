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
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/poiesic/syllabus/ai"
	"github.com/poiesic/syllabus/core"
	"github.com/poiesic/syllabus/search"
)

const (
	// DefaultWindow is used when a review request names no window.
	DefaultWindow = "last_7_days"

	DefaultReviewItems    = 5
	DefaultMaxArtifacts   = 50
	DefaultMaxTopics      = 10
	DefaultTopicGrounding = 3

	groundingWorkers = 4
)

// ParseWindow converts a named review window into an absolute range ending
// at now. Accepted forms are last_7_days, last_30_days, Nd, Nw, today,
// yesterday and this_week. Weeks start on Monday.
func ParseWindow(window string, now time.Time) (core.DateRange, error) {
	window = strings.ToLower(strings.TrimSpace(window))
	if window == "" {
		window = DefaultWindow
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch window {
	case "last_7_days":
		return core.DateRange{From: now.AddDate(0, 0, -7), To: now}, nil
	case "last_30_days":
		return core.DateRange{From: now.AddDate(0, 0, -30), To: now}, nil
	case "today":
		return core.DateRange{From: midnight, To: now}, nil
	case "yesterday":
		return core.DateRange{From: midnight.AddDate(0, 0, -1), To: midnight.Add(-time.Nanosecond)}, nil
	case "this_week":
		offset := (int(now.Weekday()) + 6) % 7
		return core.DateRange{From: midnight.AddDate(0, 0, -offset), To: now}, nil
	}

	if len(window) < 2 {
		return core.DateRange{}, fmt.Errorf("%w: %q", ErrInvalidWindow, window)
	}
	n, err := strconv.Atoi(window[:len(window)-1])
	if err != nil || n <= 0 {
		return core.DateRange{}, fmt.Errorf("%w: %q", ErrInvalidWindow, window)
	}
	switch window[len(window)-1] {
	case 'd':
		return core.DateRange{From: now.AddDate(0, 0, -n), To: now}, nil
	case 'w':
		return core.DateRange{From: now.AddDate(0, 0, -7*n), To: now}, nil
	}
	return core.DateRange{}, fmt.Errorf("%w: %q", ErrInvalidWindow, window)
}

// Retriever grounds review topics in textbook content. *search.Searcher
// satisfies it.
type Retriever interface {
	Search(ctx context.Context, req search.Request) ([]*core.Hit, error)
}

// ReviewRequest asks for a spaced review of one profile's recent artifacts.
type ReviewRequest struct {
	ProfileID   core.ID
	OwnerUserID string

	// Window is a ParseWindow expression. Range, when set, takes precedence.
	Window string
	Range  core.DateRange

	// Type restricts the reviewed artifacts to one artifact type.
	Type      string
	ItemCount int

	// MaxSequenceIndex bounds textbook grounding.
	MaxSequenceIndex *int

	// Save stores the generated review as a review artifact.
	Save bool
}

// Review is a composed review and the material it was built from.
type Review struct {
	Range     core.DateRange
	Artifacts []*core.Artifact
	Topics    []string
	Grounding []*core.Hit
	Result    string

	// Saved is the stored review artifact when the request asked for it.
	Saved *core.Artifact
}

// Reviewer composes reviews from artifact memory and textbook grounding.
type Reviewer struct {
	memory    *Memory
	profiles  search.ProfileResolver
	llm       ai.LLM
	prompts   ai.PromptBuilder
	retriever Retriever

	maxArtifacts   int
	maxTopics      int
	topicGrounding int
	logger         *slog.Logger
	now            func() time.Time
}

// ReviewerOption configures a Reviewer.
type ReviewerOption func(*Reviewer) error

// WithRetriever enables textbook grounding of review topics.
func WithRetriever(retriever Retriever) ReviewerOption {
	return func(r *Reviewer) error {
		r.retriever = retriever
		return nil
	}
}

// WithReviewPromptBuilder replaces ai.DefaultPromptBuilder.
func WithReviewPromptBuilder(prompts ai.PromptBuilder) ReviewerOption {
	return func(r *Reviewer) error {
		if prompts != nil {
			r.prompts = prompts
		}
		return nil
	}
}

// WithReviewLimits bounds the artifacts and topics a review considers, and
// the atoms retrieved per topic.
func WithReviewLimits(maxArtifacts, maxTopics, topicGrounding int) ReviewerOption {
	return func(r *Reviewer) error {
		if maxArtifacts < 1 || maxTopics < 1 || topicGrounding < 1 {
			return fmt.Errorf("review limits must be positive")
		}
		r.maxArtifacts = maxArtifacts
		r.maxTopics = maxTopics
		r.topicGrounding = topicGrounding
		return nil
	}
}

// WithReviewLogger sets a custom logger.
func WithReviewLogger(logger *slog.Logger) ReviewerOption {
	return func(r *Reviewer) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// NewReviewer creates a reviewer over memory.
func NewReviewer(memory *Memory, profiles search.ProfileResolver, llm ai.LLM, opts ...ReviewerOption) (*Reviewer, error) {
	if memory == nil {
		return nil, ErrArtifactRepositoryRequired
	}
	if profiles == nil {
		return nil, ErrProfileResolverRequired
	}
	if llm == nil {
		return nil, ErrLLMRequired
	}
	r := &Reviewer{
		memory:         memory,
		profiles:       profiles,
		llm:            llm,
		prompts:        ai.DefaultPromptBuilder{},
		maxArtifacts:   DefaultMaxArtifacts,
		maxTopics:      DefaultMaxTopics,
		topicGrounding: DefaultTopicGrounding,
		logger:         slog.Default(),
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "reviewer")
	return r, nil
}

// ComposeReview builds and generates a review of the artifacts a profile
// produced inside the requested window.
func (r *Reviewer) ComposeReview(ctx context.Context, req ReviewRequest) (*Review, error) {
	if req.ProfileID == "" {
		return nil, fmt.Errorf("%w: profile id is required", core.ErrInvalidRequest)
	}
	profile, err := r.profiles.GetProfile(ctx, req.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("%w: profile %s: %v", core.ErrAmbiguousScope, req.ProfileID, err)
	}
	if req.OwnerUserID != "" && req.OwnerUserID != profile.OwnerUserID {
		return nil, fmt.Errorf("%w: profile %s belongs to another user", core.ErrAccessDenied, profile.ID)
	}

	window := req.Range
	if window.From.IsZero() && window.To.IsZero() {
		window, err = ParseWindow(req.Window, r.now())
		if err != nil {
			return nil, err
		}
	}

	hits, err := r.memory.Search(ctx, Query{ProfileID: profile.ID, Range: window, Type: req.Type, Limit: r.maxArtifacts})
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, ErrNothingToReview
	}
	artifacts := make([]*core.Artifact, len(hits))
	for i, hit := range hits {
		artifacts[i] = hit.Artifact
	}

	review := &Review{
		Range:     window,
		Artifacts: artifacts,
		Topics:    collectTopics(artifacts, r.maxTopics),
	}
	if r.retriever != nil && len(review.Topics) > 0 {
		review.Grounding, err = r.ground(ctx, profile, review.Topics, req.MaxSequenceIndex)
		if err != nil {
			return nil, err
		}
	}

	itemCount := req.ItemCount
	if itemCount <= 0 {
		itemCount = DefaultReviewItems
	}
	prompt, err := r.prompts.ReviewPrompt(ai.ReviewInput{
		Window:       window,
		Artifacts:    artifacts,
		Topics:       review.Topics,
		Grounding:    review.Grounding,
		PedagogyTags: profile.PedagogyTags,
		ItemCount:    itemCount,
	})
	if err != nil {
		return nil, err
	}
	review.Result, err = r.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generating review: %w", err)
	}
	r.logger.Info("review composed", "profile", profile.ID, "artifacts", len(artifacts),
		"topics", len(review.Topics), "grounding", len(review.Grounding))

	if req.Save {
		refs := make([]core.ID, len(review.Grounding))
		for i, hit := range review.Grounding {
			refs[i] = hit.AtomID
		}
		review.Saved, err = r.memory.Save(ctx, &core.Artifact{
			ProfileID:    profile.ID,
			Type:         core.ArtifactTypeReview,
			Title:        fmt.Sprintf("Review %s to %s", window.From.Format(time.DateOnly), window.To.Format(time.DateOnly)),
			Summary:      "Review of " + strings.Join(review.Topics, ", "),
			Content:      review.Result,
			Tags:         review.Topics,
			TextbookRefs: refs,
		})
		if err != nil {
			return nil, fmt.Errorf("saving review: %w", err)
		}
	}
	return review, nil
}

// ground searches the profile's books for every topic in parallel and merges
// the hits.
func (r *Reviewer) ground(ctx context.Context, profile *core.Profile, topics []string, maxSeq *int) ([]*core.Hit, error) {
	var (
		mu     sync.Mutex
		merged = make(map[core.ID]*core.Hit)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(groundingWorkers)
	for _, topic := range topics {
		g.Go(func() error {
			hits, err := r.retriever.Search(gctx, search.Request{
				Query:            topic,
				ProfileID:        profile.ID,
				OwnerUserID:      profile.OwnerUserID,
				MaxSequenceIndex: maxSeq,
				Limit:            r.topicGrounding,
			})
			if err != nil {
				return fmt.Errorf("grounding topic %q: %w", topic, err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, hit := range hits {
				if prev, ok := merged[hit.AtomID]; !ok || hit.Score > prev.Score {
					merged[hit.AtomID] = hit
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, core.ErrAmbiguousScope) {
			r.logger.Warn("review grounding skipped", "profile", profile.ID, "err", err)
			return nil, nil
		}
		return nil, err
	}

	grounding := make([]*core.Hit, 0, len(merged))
	for _, hit := range merged {
		grounding = append(grounding, hit)
	}
	slices.SortFunc(grounding, core.CompareHits)
	return grounding, nil
}

// collectTopics ranks artifact tags by frequency. Untagged artifacts
// contribute keywords of their summary.
func collectTopics(artifacts []*core.Artifact, n int) []string {
	var terms []string
	for _, a := range artifacts {
		if len(a.Tags) > 0 {
			for _, tag := range a.Tags {
				if tag = strings.ToLower(strings.TrimSpace(tag)); tag != "" {
					terms = append(terms, tag)
				}
			}
			continue
		}
		terms = append(terms, keywords(embeddingText(a), maxDerivedTags)...)
	}
	return rank(terms, n)
}
