package storage

import (
	"testing"

	"github.com/poiesic/syllabus/core"
	"github.com/stretchr/testify/assert"
)

func TestTopHits(t *testing.T) {
	top := NewTopHits(3)
	for _, h := range []*core.Hit{
		{AtomID: "a", Score: 0.1},
		{AtomID: "b", Score: 0.9},
		{AtomID: "c", Score: 0.5, SequenceIndex: 4},
		{AtomID: "d", Score: 0.5, SequenceIndex: 2},
		{AtomID: "e", Score: 0.05},
		{AtomID: "f", Score: 0.95},
	} {
		top.Offer(h)
	}

	var ids []core.ID
	for _, h := range top.Hits() {
		ids = append(ids, h.AtomID)
	}
	assert.Equal(t, []core.ID{"f", "b", "d"}, ids)
}

func TestTopHits_Empty(t *testing.T) {
	top := NewTopHits(5)
	assert.NotNil(t, top.Hits())
	assert.Empty(t, top.Hits())
}
