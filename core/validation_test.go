package core

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestValidateNode(t *testing.T) {
	tests := []struct {
		name    string
		node    *StructureNode
		wantErr error
	}{
		{
			name:    "valid root",
			node:    &StructureNode{ID: "r", BookID: "b", NodeLevel: 0, SequenceIndex: 0},
			wantErr: nil,
		},
		{
			name:    "valid child",
			node:    &StructureNode{ID: "n", BookID: "b", ParentID: "r", NodeLevel: 1, SequenceIndex: 1},
			wantErr: nil,
		},
		{
			name:    "nil node",
			node:    nil,
			wantErr: ErrInvalidNode,
		},
		{
			name:    "root with parent",
			node:    &StructureNode{ID: "r", BookID: "b", ParentID: "x", NodeLevel: 0},
			wantErr: ErrInvalidNode,
		},
		{
			name:    "orphan child",
			node:    &StructureNode{ID: "n", BookID: "b", NodeLevel: 2, SequenceIndex: 4},
			wantErr: ErrInvalidNode,
		},
		{
			name:    "negative sequence",
			node:    &StructureNode{ID: "n", BookID: "b", ParentID: "r", NodeLevel: 1, SequenceIndex: -1},
			wantErr: ErrInvalidNode,
		},
		{
			name: "bad metadata",
			node: &StructureNode{ID: "n", BookID: "b", ParentID: "r", NodeLevel: 1, SequenceIndex: 1,
				Metadata: Metadata{"Grade Level": "5"}},
			wantErr: ErrInvalidMetadata,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNode(tt.node)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateNode() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateNode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAtom(t *testing.T) {
	valid := func() *ContentAtom {
		return &ContentAtom{ID: "a", BookID: "b", NodeID: "n", Text: "photosynthesis", Embedding: []float32{1}}
	}

	tests := []struct {
		name    string
		mutate  func(a *ContentAtom)
		wantErr error
	}{
		{"valid", func(a *ContentAtom) {}, nil},
		{"empty text", func(a *ContentAtom) { a.Text = "  " }, ErrEmptyContent},
		{"missing embedding", func(a *ContentAtom) { a.Embedding = nil }, ErrInvalidAtom},
		{"missing node", func(a *ContentAtom) { a.NodeID = "" }, ErrInvalidAtom},
		{"unknown content type", func(a *ContentAtom) { a.Metadata = Metadata{MetaContentType: "video"} }, ErrInvalidMetadata},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			atom := valid()
			tt.mutate(atom)
			err := ValidateAtom(atom)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateAtom() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateAtom() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateMetadata(t *testing.T) {
	tests := []struct {
		name    string
		meta    Metadata
		wantErr bool
	}{
		{"nil", nil, false},
		{"open keys", Metadata{"cefr": "B1", "unit": "3"}, false},
		{"typed grade", Metadata{MetaGradeLevel: "7"}, false},
		{"grade not numeric", Metadata{MetaGradeLevel: "seven"}, true},
		{"known subject", Metadata{MetaSubject: "stem"}, false},
		{"unknown subject", Metadata{MetaSubject: "cooking"}, true},
		{"uppercase key", Metadata{"Unit": "3"}, true},
		{"oversized value", Metadata{"note": strings.Repeat("x", MaxMetadataValueLen+1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMetadata(tt.meta)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMetadata() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFilterMatch(t *testing.T) {
	atom := &ContentAtom{AtomType: AtomTypeVocab, Metadata: Metadata{MetaSubject: "language"}}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"atom type eq", Eq(FilterKeyAtomType, AtomTypeVocab), true},
		{"atom type mismatch", Eq(FilterKeyAtomType, AtomTypeText), false},
		{"metadata eq", Eq(MetaSubject, "language"), true},
		{"missing key eq", Eq("cefr", "B1"), false},
		{"missing key ne", Filter{Key: "cefr", Op: OpNotEq, Values: []string{"B1"}}, true},
		{"in", Filter{Key: MetaSubject, Op: OpIn, Values: []string{"stem", "language"}}, true},
		{"not in", Filter{Key: MetaSubject, Op: OpIn, Values: []string{"stem"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.filter.Validate(); err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if got := tt.filter.Match(atom); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}

	if err := (Filter{Key: "x", Op: "gt", Values: []string{"1"}}).Validate(); !errors.Is(err, ErrInvalidFilter) {
		t.Errorf("unsupported operator accepted: %v", err)
	}
}

func TestValidateArtifact(t *testing.T) {
	base := Artifact{ProfileID: "p1", Type: ArtifactTypeQuiz, Content: "1. What is a noun?"}

	if err := ValidateArtifact(&base); err != nil {
		t.Errorf("ValidateArtifact() error = %v, want nil", err)
	}

	badType := base
	badType.Type = "poster"
	if err := ValidateArtifact(&badType); !errors.Is(err, ErrInvalidArtifact) {
		t.Errorf("ValidateArtifact() error = %v, want ErrInvalidArtifact", err)
	}

	future := base
	future.CreatedAt = time.Now().Add(24 * time.Hour)
	if err := ValidateArtifact(&future); !errors.Is(err, ErrInvalidTimestamp) {
		t.Errorf("ValidateArtifact() error = %v, want ErrInvalidTimestamp", err)
	}
}

func TestValidateStruct_JobParams(t *testing.T) {
	ok := JobParams{TaskType: TaskQuiz, BookID: "b1", OwnerUserID: "u1", UnitFrom: 1, UnitTo: 3}
	if err := ValidateStruct(ok); err != nil {
		t.Errorf("ValidateStruct() error = %v, want nil", err)
	}

	noScope := JobParams{TaskType: TaskQuiz, OwnerUserID: "u1"}
	if err := ValidateStruct(noScope); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("ValidateStruct() error = %v, want ErrInvalidRequest", err)
	}

	inverted := JobParams{TaskType: TaskQuiz, BookID: "b1", OwnerUserID: "u1", UnitFrom: 5, UnitTo: 2}
	if err := ValidateStruct(inverted); err == nil {
		t.Errorf("ValidateStruct() accepted inverted unit range")
	}

	badTask := JobParams{TaskType: "essay", BookID: "b1", OwnerUserID: "u1"}
	if err := ValidateStruct(badTask); err == nil || !strings.Contains(err.Error(), "tasktype") {
		t.Errorf("ValidateStruct() error = %v, want tasktype message", err)
	}
}

func TestValidateProfile(t *testing.T) {
	tests := []struct {
		name    string
		profile *Profile
		wantErr bool
	}{
		{"valid", &Profile{ID: "p1", OwnerUserID: "u1", BookIDs: []ID{"b1", "b2"}}, false},
		{"no books", &Profile{ID: "p1", OwnerUserID: "u1"}, false},
		{"nil", nil, true},
		{"missing owner", &Profile{ID: "p1", BookIDs: []ID{"b1"}}, true},
		{"separator in id", &Profile{ID: "p:1", OwnerUserID: "u1"}, true},
		{"repeated book", &Profile{ID: "p1", OwnerUserID: "u1", BookIDs: []ID{"b1", "b2", "b1"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProfile(tt.profile)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateProfile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidProfile) {
				t.Errorf("ValidateProfile() error = %v, want ErrInvalidProfile", err)
			}
		})
	}
}

func TestUniqueIDs(t *testing.T) {
	got := UniqueIDs([]ID{"b2", "b1", "b2", "b3", "b1"})
	if !slices.Equal(got, []ID{"b2", "b1", "b3"}) {
		t.Errorf("UniqueIDs() = %v", got)
	}
	if got := UniqueIDs(nil); len(got) != 0 {
		t.Errorf("UniqueIDs(nil) = %v", got)
	}
}
