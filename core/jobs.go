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
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a generation job.
type JobStatus int

const (
	JobStatusQueued JobStatus = iota + 1
	JobStatusRunning
	JobStatusSucceeded
	JobStatusFailed
	JobStatusCancelled
)

func (s JobStatus) String() string {
	switch s {
	case JobStatusQueued:
		return "QUEUED"
	case JobStatusRunning:
		return "RUNNING"
	case JobStatusSucceeded:
		return "SUCCEEDED"
	case JobStatusFailed:
		return "FAILED"
	case JobStatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status name in JSON output.
func (s JobStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCancelled
}

// CheckTransition validates a status change. Non-terminal jobs may be
// rewritten in place (same status); terminal jobs never change.
func CheckTransition(from, to JobStatus) error {
	if from.Terminal() {
		return fmt.Errorf("%w: job is %s", ErrIllegalTransition, from)
	}
	ok := false
	switch from {
	case JobStatusQueued:
		ok = to == JobStatusQueued || to == JobStatusRunning || to == JobStatusCancelled
	case JobStatusRunning:
		ok = to == JobStatusRunning || to == JobStatusSucceeded || to == JobStatusFailed || to == JobStatusCancelled
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// Task types understood by the generation collaborator.
const (
	TaskQuiz       = "quiz"
	TaskWorksheet  = "worksheet"
	TaskLessonPlan = "lesson_plan"
	TaskSummary    = "summary"
)

// JobParams describes a generation request. Unit bounds are sequence indexes
// within the scoped book; UnitTo is the curriculum boundary.
type JobParams struct {
	TaskType    string `validate:"required,oneof=quiz worksheet lesson_plan summary"`
	BookID      ID     `validate:"required_without=ProfileID"`
	ProfileID   ID     `validate:"required_without=BookID"`
	OwnerUserID string `validate:"required"`
	UnitFrom    int    `validate:"gte=0"`
	UnitTo      int    `validate:"gte=0,gtefield=UnitFrom"`
	Topic       string `validate:"max=512"`
	ItemCount   int    `validate:"gte=0,lte=50"`
	Difficulty  string `validate:"max=32"`
}

// Failure kinds recorded on a job.
const (
	FailureKindTimeout = "timeout"
	FailureKindFailed  = "failed"
)

// Job is a pollable asynchronous generation request.
type Job struct {
	ID              ID
	Fingerprint     string
	Params          JobParams
	Status          JobStatus
	Result          string // JSON document produced by the LLM collaborator
	Sources         []ID   // atoms used for grounding
	ErrorKind       string
	Error           string
	Attempts        int
	CacheHit        bool
	CancelRequested bool
	CreatedAt       time.Time
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Failure reconstructs the typed failure of a FAILED job, or nil.
func (j *Job) Failure() error {
	if j == nil || j.Status != JobStatusFailed {
		return nil
	}
	if j.ErrorKind == FailureKindTimeout {
		return &JobTimeoutError{JobID: j.ID, Detail: j.Error}
	}
	return &JobFailedError{JobID: j.ID, Attempts: j.Attempts, Cause: fmt.Errorf("%s", j.Error)}
}

// CachedResult is a fingerprint-keyed generation result.
type CachedResult struct {
	Fingerprint string
	Result      string
	Sources     []ID
	CreatedAt   time.Time
}
