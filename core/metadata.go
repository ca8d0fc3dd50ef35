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
	"regexp"
	"slices"
	"strconv"
)

const (
	// MaxMetadataValueLen bounds a single metadata value in bytes.
	MaxMetadataValueLen = 1024

	// FilterKeyAtomType addresses ContentAtom.AtomType rather than metadata.
	FilterKeyAtomType = "atom_type"
)

// Well-known metadata keys with typed values.
const (
	MetaSubject     = "subject"
	MetaGradeLevel  = "grade_level"
	MetaContentType = "content_type"
)

// Subject categories.
var Subjects = []string{"stem", "language", "history", "other"}

// ContentTypes is the closed set accepted for the content_type key.
var ContentTypes = []string{
	AtomTypeText,
	AtomTypeVocab,
	AtomTypeExercise,
	AtomTypeImageDescription,
	AtomTypeTable,
	AtomTypeComplexPage,
}

var metadataKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// ValidateMetadata checks a metadata bag against the shared schema.
func ValidateMetadata(m Metadata) error {
	for k, v := range m {
		if !metadataKeyPattern.MatchString(k) {
			return fmt.Errorf("%w: key %q", ErrInvalidMetadata, k)
		}
		if len(v) > MaxMetadataValueLen {
			return fmt.Errorf("%w: value of %q exceeds %d bytes", ErrInvalidMetadata, k, MaxMetadataValueLen)
		}
		switch k {
		case MetaGradeLevel:
			if _, err := strconv.Atoi(v); err != nil {
				return fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidMetadata, k, v)
			}
		case MetaSubject:
			if !slices.Contains(Subjects, v) {
				return fmt.Errorf("%w: unknown subject %q", ErrInvalidMetadata, v)
			}
		case MetaContentType:
			if !slices.Contains(ContentTypes, v) {
				return fmt.Errorf("%w: unknown content type %q", ErrInvalidMetadata, v)
			}
		}
	}
	return nil
}

// FilterOp is a metadata comparison operator.
type FilterOp string

const (
	OpEq    FilterOp = "eq"
	OpNotEq FilterOp = "ne"
	OpIn    FilterOp = "in"
)

// Filter is an exact-match constraint over an atom's metadata.
type Filter struct {
	Key    string
	Op     FilterOp
	Values []string
}

// Eq is shorthand for an equality filter.
func Eq(key, value string) Filter {
	return Filter{Key: key, Op: OpEq, Values: []string{value}}
}

// Validate checks the filter is well formed.
func (f Filter) Validate() error {
	if f.Key != FilterKeyAtomType && !metadataKeyPattern.MatchString(f.Key) {
		return fmt.Errorf("%w: key %q", ErrInvalidFilter, f.Key)
	}
	switch f.Op {
	case OpEq, OpNotEq:
		if len(f.Values) != 1 {
			return fmt.Errorf("%w: %s on %q needs exactly one value", ErrInvalidFilter, f.Op, f.Key)
		}
	case OpIn:
		if len(f.Values) == 0 {
			return fmt.Errorf("%w: in on %q needs at least one value", ErrInvalidFilter, f.Key)
		}
	default:
		return fmt.Errorf("%w: operator %q", ErrInvalidFilter, f.Op)
	}
	return nil
}

// Match evaluates the filter against an atom. A missing key never matches eq/in
// and always matches ne.
func (f Filter) Match(atom *ContentAtom) bool {
	var (
		value string
		ok    bool
	)
	if f.Key == FilterKeyAtomType {
		value, ok = atom.AtomType, true
	} else {
		value, ok = atom.Metadata[f.Key]
	}
	switch f.Op {
	case OpEq:
		return ok && value == f.Values[0]
	case OpNotEq:
		return !ok || value != f.Values[0]
	case OpIn:
		return ok && slices.Contains(f.Values, value)
	}
	return false
}

// MatchAll reports whether every filter matches.
func MatchAll(filters []Filter, atom *ContentAtom) bool {
	for _, f := range filters {
		if !f.Match(atom) {
			return false
		}
	}
	return true
}
