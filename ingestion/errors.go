package ingestion

import "errors"

var (
	// ErrContentStoreRequired is returned when a content store is not provided.
	ErrContentStoreRequired = errors.New("content store required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrUnresolvedNode is recorded for chunks whose owning node does not exist.
	ErrUnresolvedNode = errors.New("owning node not found")

	// ErrOwnerMismatch is recorded for chunks owned by someone other than the owner of a private book.
	ErrOwnerMismatch = errors.New("chunk owner differs from book owner")
)
