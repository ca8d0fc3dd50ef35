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


package storage

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/syllabus/core"
)

// Every record starts with a format version so fields can be appended later.
const recordVersion = 1

// fieldSink receives record fields in order. It is implemented once for
// sizing and once for writing so each record layout is declared a single time.
type fieldSink interface {
	str(v string)
	num(v int)
	i64(v int64)
	flag(v bool)
	f32(v float32)
}

type sizer struct{ n int }

func (s *sizer) str(v string)  { s.n += ord.String.Size(v) }
func (s *sizer) num(v int)     { s.n += varint.Int.Size(v) }
func (s *sizer) i64(v int64)   { s.n += varint.Int64.Size(v) }
func (s *sizer) flag(v bool)   { s.n += ord.Bool.Size(v) }
func (s *sizer) f32(v float32) { s.n += varint.Uint32.Size(math.Float32bits(v)) }

type writer struct {
	bs []byte
	n  int
}

func (w *writer) str(v string)  { w.n += ord.String.Marshal(v, w.bs[w.n:]) }
func (w *writer) num(v int)     { w.n += varint.Int.Marshal(v, w.bs[w.n:]) }
func (w *writer) i64(v int64)   { w.n += varint.Int64.Marshal(v, w.bs[w.n:]) }
func (w *writer) flag(v bool)   { w.n += ord.Bool.Marshal(v, w.bs[w.n:]) }
func (w *writer) f32(v float32) { w.n += varint.Uint32.Marshal(math.Float32bits(v), w.bs[w.n:]) }

func encode(fields func(s fieldSink)) []byte {
	var sz sizer
	sz.num(recordVersion)
	fields(&sz)
	w := &writer{bs: make([]byte, sz.n)}
	w.num(recordVersion)
	fields(w)
	return w.bs
}

func putTime(s fieldSink, t time.Time) {
	if t.IsZero() {
		s.flag(false)
		return
	}
	s.flag(true)
	s.i64(t.UnixMicro())
}

func putStrings(s fieldSink, vs []string) {
	s.num(len(vs))
	for _, v := range vs {
		s.str(v)
	}
}

func putIDs(s fieldSink, ids []core.ID) {
	s.num(len(ids))
	for _, id := range ids {
		s.str(string(id))
	}
}

func putVector(s fieldSink, v []float32) {
	s.num(len(v))
	for _, x := range v {
		s.f32(x)
	}
}

// putMeta writes keys in sorted order so equal bags encode identically.
func putMeta(s fieldSink, m core.Metadata) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	s.num(len(keys))
	for _, k := range keys {
		s.str(k)
		s.str(m[k])
	}
}

// reader decodes fields sequentially, remembering the first error.
type reader struct {
	bs  []byte
	n   int
	err error
}

func newReader(data []byte) *reader {
	r := &reader{bs: data}
	if v := r.num(); r.err == nil && v != recordVersion {
		r.err = fmt.Errorf("unsupported record version %d", v)
	}
	return r
}

func (r *reader) str() string {
	if r.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *reader) num() int {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Int.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *reader) i64() int64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Int64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *reader) flag() bool {
	if r.err != nil {
		return false
	}
	v, n, err := ord.Bool.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *reader) f32() float32 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Uint32.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return math.Float32frombits(v)
}

// count reads a collection length, rejecting values the remaining input cannot hold.
func (r *reader) count() int {
	c := r.num()
	if r.err == nil && (c < 0 || c > len(r.bs)-r.n) {
		r.err = ErrTruncatedData
		return 0
	}
	return c
}

func (r *reader) time() time.Time {
	if !r.flag() {
		return time.Time{}
	}
	return time.UnixMicro(r.i64()).UTC()
}

func (r *reader) strings() []string {
	c := r.count()
	if c == 0 {
		return nil
	}
	out := make([]string, 0, c)
	for i := 0; i < c && r.err == nil; i++ {
		out = append(out, r.str())
	}
	return out
}

func (r *reader) ids() []core.ID {
	c := r.count()
	if c == 0 {
		return nil
	}
	out := make([]core.ID, 0, c)
	for i := 0; i < c && r.err == nil; i++ {
		out = append(out, core.ID(r.str()))
	}
	return out
}

func (r *reader) vector() []float32 {
	c := r.count()
	if c == 0 {
		return nil
	}
	out := make([]float32, 0, c)
	for i := 0; i < c && r.err == nil; i++ {
		out = append(out, r.f32())
	}
	return out
}

func (r *reader) meta() core.Metadata {
	c := r.count()
	if c == 0 {
		return nil
	}
	out := make(core.Metadata, c)
	for i := 0; i < c && r.err == nil; i++ {
		k := r.str()
		out[k] = r.str()
	}
	return out
}

func (r *reader) done() error {
	if r.err != nil {
		return fmt.Errorf("%w: %w", ErrSerializationFailed, r.err)
	}
	return nil
}

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, ord.String.Size(string(id)))
	ord.String.Marshal(string(id), buf)
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	v, _, err := ord.String.Unmarshal(data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return core.ID(v), nil
}

// MarshalBook serializes a Book to bytes.
func MarshalBook(b *core.Book) []byte {
	return encode(func(s fieldSink) {
		s.str(string(b.ID))
		s.str(b.Title)
		s.str(b.Subject)
		s.num(b.GradeLevel)
		s.str(b.OwnerID)
		s.num(int(b.Status))
		s.num(b.Version)
		s.str(b.FailureReason)
		s.num(b.NodeCount)
		s.num(b.AtomCount)
		putTime(s, b.CreatedAt)
		putTime(s, b.UpdatedAt)
		putMeta(s, b.Metadata)
	})
}

// UnmarshalBook deserializes a Book from bytes.
func UnmarshalBook(data []byte) (*core.Book, error) {
	r := newReader(data)
	b := &core.Book{
		ID:            core.ID(r.str()),
		Title:         r.str(),
		Subject:       r.str(),
		GradeLevel:    r.num(),
		OwnerID:       r.str(),
		Status:        core.BookStatus(r.num()),
		Version:       r.num(),
		FailureReason: r.str(),
		NodeCount:     r.num(),
		AtomCount:     r.num(),
		CreatedAt:     r.time(),
		UpdatedAt:     r.time(),
		Metadata:      r.meta(),
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return b, nil
}

// MarshalNode serializes a StructureNode to bytes.
func MarshalNode(n *core.StructureNode) []byte {
	return encode(func(s fieldSink) {
		s.str(string(n.ID))
		s.str(string(n.BookID))
		s.str(string(n.ParentID))
		s.num(n.NodeLevel)
		s.str(n.Title)
		s.num(n.SequenceIndex)
		s.num(n.PageStart)
		s.num(n.PageEnd)
		putMeta(s, n.Metadata)
	})
}

// UnmarshalNode deserializes a StructureNode from bytes.
func UnmarshalNode(data []byte) (*core.StructureNode, error) {
	r := newReader(data)
	n := &core.StructureNode{
		ID:            core.ID(r.str()),
		BookID:        core.ID(r.str()),
		ParentID:      core.ID(r.str()),
		NodeLevel:     r.num(),
		Title:         r.str(),
		SequenceIndex: r.num(),
		PageStart:     r.num(),
		PageEnd:       r.num(),
		Metadata:      r.meta(),
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return n, nil
}

// MarshalAtom serializes a ContentAtom to bytes.
func MarshalAtom(a *core.ContentAtom) []byte {
	return encode(func(s fieldSink) {
		s.str(string(a.ID))
		s.str(string(a.BookID))
		s.str(string(a.NodeID))
		s.str(a.Text)
		putVector(s, a.Embedding)
		s.f32(a.Magnitude)
		s.str(a.AtomType)
		s.num(a.SequenceIndex)
		s.str(a.OwnerID)
		putMeta(s, a.Metadata)
		putTime(s, a.CreatedAt)
	})
}

// UnmarshalAtom deserializes a ContentAtom from bytes.
func UnmarshalAtom(data []byte) (*core.ContentAtom, error) {
	r := newReader(data)
	a := &core.ContentAtom{
		ID:            core.ID(r.str()),
		BookID:        core.ID(r.str()),
		NodeID:        core.ID(r.str()),
		Text:          r.str(),
		Embedding:     r.vector(),
		Magnitude:     r.f32(),
		AtomType:      r.str(),
		SequenceIndex: r.num(),
		OwnerID:       r.str(),
		Metadata:      r.meta(),
		CreatedAt:     r.time(),
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return a, nil
}

// MarshalProfile serializes a Profile to bytes.
func MarshalProfile(p *core.Profile) []byte {
	return encode(func(s fieldSink) {
		s.str(string(p.ID))
		s.str(p.OwnerUserID)
		s.str(p.Name)
		s.num(p.GradeLevel)
		putIDs(s, p.BookIDs)
		putStrings(s, p.PedagogyTags)
		putTime(s, p.CreatedAt)
		putTime(s, p.UpdatedAt)
	})
}

// UnmarshalProfile deserializes a Profile from bytes.
func UnmarshalProfile(data []byte) (*core.Profile, error) {
	r := newReader(data)
	p := &core.Profile{
		ID:           core.ID(r.str()),
		OwnerUserID:  r.str(),
		Name:         r.str(),
		GradeLevel:   r.num(),
		BookIDs:      r.ids(),
		PedagogyTags: r.strings(),
		CreatedAt:    r.time(),
		UpdatedAt:    r.time(),
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return p, nil
}

// MarshalArtifact serializes an Artifact to bytes.
func MarshalArtifact(a *core.Artifact) []byte {
	return encode(func(s fieldSink) {
		s.str(string(a.ID))
		s.str(string(a.ProfileID))
		s.str(a.Type)
		s.str(a.Title)
		s.str(a.Summary)
		putVector(s, a.Embedding)
		s.f32(a.Magnitude)
		s.str(a.Content)
		putStrings(s, a.Tags)
		putIDs(s, a.TextbookRefs)
		putTime(s, a.CreatedAt)
	})
}

// UnmarshalArtifact deserializes an Artifact from bytes.
func UnmarshalArtifact(data []byte) (*core.Artifact, error) {
	r := newReader(data)
	a := &core.Artifact{
		ID:           core.ID(r.str()),
		ProfileID:    core.ID(r.str()),
		Type:         r.str(),
		Title:        r.str(),
		Summary:      r.str(),
		Embedding:    r.vector(),
		Magnitude:    r.f32(),
		Content:      r.str(),
		Tags:         r.strings(),
		TextbookRefs: r.ids(),
		CreatedAt:    r.time(),
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return a, nil
}

// MarshalJob serializes a Job to bytes.
func MarshalJob(j *core.Job) []byte {
	return encode(func(s fieldSink) {
		s.str(string(j.ID))
		s.str(j.Fingerprint)
		s.str(j.Params.TaskType)
		s.str(string(j.Params.BookID))
		s.str(string(j.Params.ProfileID))
		s.str(j.Params.OwnerUserID)
		s.num(j.Params.UnitFrom)
		s.num(j.Params.UnitTo)
		s.str(j.Params.Topic)
		s.num(j.Params.ItemCount)
		s.str(j.Params.Difficulty)
		s.num(int(j.Status))
		s.str(j.Result)
		putIDs(s, j.Sources)
		s.str(j.ErrorKind)
		s.str(j.Error)
		s.num(j.Attempts)
		s.flag(j.CacheHit)
		s.flag(j.CancelRequested)
		putTime(s, j.CreatedAt)
		putTime(s, j.StartedAt)
		putTime(s, j.FinishedAt)
	})
}

// UnmarshalJob deserializes a Job from bytes.
func UnmarshalJob(data []byte) (*core.Job, error) {
	r := newReader(data)
	j := &core.Job{
		ID:          core.ID(r.str()),
		Fingerprint: r.str(),
		Params: core.JobParams{
			TaskType:    r.str(),
			BookID:      core.ID(r.str()),
			ProfileID:   core.ID(r.str()),
			OwnerUserID: r.str(),
			UnitFrom:    r.num(),
			UnitTo:      r.num(),
			Topic:       r.str(),
			ItemCount:   r.num(),
			Difficulty:  r.str(),
		},
		Status:          core.JobStatus(r.num()),
		Result:          r.str(),
		Sources:         r.ids(),
		ErrorKind:       r.str(),
		Error:           r.str(),
		Attempts:        r.num(),
		CacheHit:        r.flag(),
		CancelRequested: r.flag(),
		CreatedAt:       r.time(),
		StartedAt:       r.time(),
		FinishedAt:      r.time(),
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return j, nil
}

// MarshalCachedResult serializes a CachedResult to bytes.
func MarshalCachedResult(c *core.CachedResult) []byte {
	return encode(func(s fieldSink) {
		s.str(c.Fingerprint)
		s.str(c.Result)
		putIDs(s, c.Sources)
		putTime(s, c.CreatedAt)
	})
}

// UnmarshalCachedResult deserializes a CachedResult from bytes.
func UnmarshalCachedResult(data []byte) (*core.CachedResult, error) {
	r := newReader(data)
	c := &core.CachedResult{
		Fingerprint: r.str(),
		Result:      r.str(),
		Sources:     r.ids(),
		CreatedAt:   r.time(),
	}
	if err := r.done(); err != nil {
		return nil, err
	}
	return c, nil
}
