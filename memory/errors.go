package memory

import "errors"

var (
	// ErrArtifactRepositoryRequired is returned when no artifact repository is provided.
	ErrArtifactRepositoryRequired = errors.New("artifact repository is required")

	// ErrEmbedderRequired is returned when no embedder is provided.
	ErrEmbedderRequired = errors.New("embedder is required")

	// ErrProfileResolverRequired is returned when a reviewer has no profile resolver.
	ErrProfileResolverRequired = errors.New("profile resolver is required")

	// ErrLLMRequired is returned when a reviewer has no LLM.
	ErrLLMRequired = errors.New("llm is required")

	// ErrInvalidWindow is returned for a review window that cannot be parsed.
	ErrInvalidWindow = errors.New("invalid review window")

	// ErrNothingToReview is returned when no artifact falls inside the window.
	ErrNothingToReview = errors.New("no artifacts in review window")
)
