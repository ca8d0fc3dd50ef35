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


package core

import (
	"errors"
	"fmt"
	"time"
)

// Scope and access errors. These surface synchronously to the caller.
var (
	// ErrAmbiguousScope means no book or profile could be resolved for a request.
	ErrAmbiguousScope = errors.New("ambiguous scope")

	// ErrAccessDenied means the caller does not own the addressed record.
	ErrAccessDenied = errors.New("access denied")

	// ErrBookNotReady means the book exists but is not searchable yet.
	ErrBookNotReady = errors.New("book not ready")

	// ErrBookExists means a ready book with the same ID is already stored.
	ErrBookExists = errors.New("book already exists")
)

// Domain validation errors
var (
	ErrInvalidBook     = errors.New("invalid book")
	ErrInvalidNode     = errors.New("invalid structure node")
	ErrInvalidAtom     = errors.New("invalid content atom")
	ErrInvalidArtifact = errors.New("invalid artifact")
	ErrInvalidProfile  = errors.New("invalid profile")
	ErrInvalidMetadata = errors.New("invalid metadata")
	ErrInvalidFilter   = errors.New("invalid filter")
	ErrInvalidRequest  = errors.New("invalid request")

	// ErrEmptyContent indicates a text field that must not be empty is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrInvalidTimestamp indicates a timestamp is in the future.
	ErrInvalidTimestamp = errors.New("timestamp cannot be in the future")
)

// Job errors
var (
	// ErrIllegalTransition is returned when a job status change would break monotonicity.
	ErrIllegalTransition = errors.New("illegal job status transition")

	ErrJobTimeout = errors.New("job timed out")
	ErrJobFailed  = errors.New("job failed")
)

// IngestionPartialFailure is returned when a book could not be fully ingested.
// The book is left non-ready rather than partially visible.
type IngestionPartialFailure struct {
	BookID ID
	Stage  string
	Failed int
	Total  int
	Err    error
}

func (e *IngestionPartialFailure) Error() string {
	return fmt.Sprintf("ingestion of book %s failed at %s (%d/%d failed): %v",
		e.BookID, e.Stage, e.Failed, e.Total, e.Err)
}

func (e *IngestionPartialFailure) Unwrap() error {
	return e.Err
}

// JobTimeoutError is the terminal failure of a job that exceeded its wall-clock timeout.
type JobTimeoutError struct {
	JobID   ID
	Timeout time.Duration
	Detail  string
}

func (e *JobTimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("job %s timed out after %s", e.JobID, e.Timeout)
	}
	return fmt.Sprintf("job %s timed out: %s", e.JobID, e.Detail)
}

func (e *JobTimeoutError) Is(target error) bool {
	return target == ErrJobTimeout
}

// JobFailedError wraps the collaborator failure that exhausted a job's retries.
type JobFailedError struct {
	JobID    ID
	Attempts int
	Cause    error
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed after %d attempt(s): %v", e.JobID, e.Attempts, e.Cause)
}

func (e *JobFailedError) Unwrap() error {
	return e.Cause
}

func (e *JobFailedError) Is(target error) bool {
	return target == ErrJobFailed
}
