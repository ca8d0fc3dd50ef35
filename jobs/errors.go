package jobs

import "errors"

var (
	// ErrJobStoreRequired is returned when no job store is provided.
	ErrJobStoreRequired = errors.New("job store is required")

	// ErrRetrieverRequired is returned when no retriever is provided.
	ErrRetrieverRequired = errors.New("retriever is required")

	// ErrLLMRequired is returned when no LLM is provided.
	ErrLLMRequired = errors.New("llm is required")

	// ErrClaimContention is returned when a fingerprint stays claimed by a
	// job that can no longer be coalesced onto.
	ErrClaimContention = errors.New("fingerprint claim contention")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("workers already started")

	errCancelled = errors.New("job cancelled")
	errSkip      = errors.New("skip")
)
