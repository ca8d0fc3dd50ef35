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
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct validates a request struct using its `validate` tags.
// Field errors are flattened into a single ErrInvalidRequest.
func ValidateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, formatFieldError(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
}

func formatFieldError(e validator.FieldError) string {
	field := strings.ToLower(e.Field())
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_without":
		return fmt.Sprintf("%s is required when %s is empty", field, strings.ToLower(e.Param()))
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "gtefield":
		return fmt.Sprintf("%s must not be less than %s", field, strings.ToLower(e.Param()))
	case "gte", "lte", "max":
		return fmt.Sprintf("%s violates %s=%s", field, e.Tag(), e.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// ValidateBook validates a Book before it is written.
func ValidateBook(book *Book) error {
	if book == nil {
		return fmt.Errorf("%w: book is nil", ErrInvalidBook)
	}
	if !validRecordID(book.ID) {
		return fmt.Errorf("%w: invalid id %q", ErrInvalidBook, book.ID)
	}
	if strings.TrimSpace(book.Title) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidBook, ErrEmptyContent)
	}
	if err := ValidateMetadata(book.Metadata); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBook, err)
	}
	return nil
}

// ValidateNode validates a StructureNode.
//
// Validation rules:
//   - BookID and ID must be set
//   - the root (level 0) has no parent; other nodes must have one
//   - SequenceIndex must be non-negative
func ValidateNode(node *StructureNode) error {
	if node == nil {
		return fmt.Errorf("%w: node is nil", ErrInvalidNode)
	}
	if node.ID == "" || node.BookID == "" {
		return fmt.Errorf("%w: missing id or book id", ErrInvalidNode)
	}
	if node.SequenceIndex < 0 {
		return fmt.Errorf("%w: negative sequence index %d", ErrInvalidNode, node.SequenceIndex)
	}
	if node.NodeLevel == 0 && node.ParentID != "" {
		return fmt.Errorf("%w: root node cannot have a parent", ErrInvalidNode)
	}
	if node.NodeLevel > 0 && node.ParentID == "" {
		return fmt.Errorf("%w: node %s has no parent", ErrInvalidNode, node.ID)
	}
	if err := ValidateMetadata(node.Metadata); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidNode, err)
	}
	return nil
}

// ValidateAtom validates a ContentAtom before it is written.
func ValidateAtom(atom *ContentAtom) error {
	if atom == nil {
		return fmt.Errorf("%w: atom is nil", ErrInvalidAtom)
	}
	if atom.ID == "" || atom.BookID == "" || atom.NodeID == "" {
		return fmt.Errorf("%w: missing id, book id or node id", ErrInvalidAtom)
	}
	if strings.TrimSpace(atom.Text) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidAtom, ErrEmptyContent)
	}
	if len(atom.Embedding) == 0 {
		return fmt.Errorf("%w: missing embedding", ErrInvalidAtom)
	}
	if err := ValidateMetadata(atom.Metadata); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAtom, err)
	}
	return nil
}

// ValidateArtifact validates an Artifact.
//
// NOT validated (populated by memory on save):
//   - Embedding
//   - Tags (derived when empty)
func ValidateArtifact(artifact *Artifact) error {
	if artifact == nil {
		return fmt.Errorf("%w: artifact is nil", ErrInvalidArtifact)
	}
	if !validRecordID(artifact.ProfileID) {
		return fmt.Errorf("%w: invalid profile id %q", ErrInvalidArtifact, artifact.ProfileID)
	}
	switch artifact.Type {
	case ArtifactTypeQuiz, ArtifactTypeLesson, ArtifactTypeSummary, ArtifactTypeWorksheet, ArtifactTypeReview:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidArtifact, artifact.Type)
	}
	if strings.TrimSpace(artifact.Content) == "" && strings.TrimSpace(artifact.Summary) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidArtifact, ErrEmptyContent)
	}
	if !artifact.CreatedAt.IsZero() && !IsValidTimestamp(artifact.CreatedAt) {
		return fmt.Errorf("%w: %w", ErrInvalidArtifact, ErrInvalidTimestamp)
	}
	return nil
}

// ValidateProfile validates a Profile.
func ValidateProfile(profile *Profile) error {
	if profile == nil {
		return fmt.Errorf("%w: profile is nil", ErrInvalidProfile)
	}
	if !validRecordID(profile.ID) {
		return fmt.Errorf("%w: invalid id %q", ErrInvalidProfile, profile.ID)
	}
	if profile.OwnerUserID == "" {
		return fmt.Errorf("%w: missing owner", ErrInvalidProfile)
	}
	if len(UniqueIDs(profile.BookIDs)) != len(profile.BookIDs) {
		return fmt.Errorf("%w: repeated book id", ErrInvalidProfile)
	}
	return nil
}

// validRecordID rejects empty IDs and IDs containing the key separator.
func validRecordID(id ID) bool {
	return id != "" && !strings.ContainsRune(string(id), ':')
}

// IsValidTimestamp checks if a timestamp is valid (not in the future).
// A small allowance absorbs clock skew between processes.
func IsValidTimestamp(ts time.Time) bool {
	return !ts.After(time.Now().Add(time.Minute))
}
