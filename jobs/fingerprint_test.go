package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/poiesic/syllabus/core"
)

func TestFingerprint(t *testing.T) {
	base := core.JobParams{TaskType: core.TaskQuiz, BookID: "bio", OwnerUserID: "t1", UnitFrom: 1, UnitTo: 2, Topic: "Cell Division", ItemCount: 5}

	same := base
	same.Topic = "  cell   DIVISION "
	assert.Equal(t, Fingerprint(base), Fingerprint(same))
	assert.Len(t, Fingerprint(base), 64)

	tests := []struct {
		name   string
		mutate func(p *core.JobParams)
	}{
		{"owner", func(p *core.JobParams) { p.OwnerUserID = "t2" }},
		{"task", func(p *core.JobParams) { p.TaskType = core.TaskSummary }},
		{"unit range", func(p *core.JobParams) { p.UnitTo = 3 }},
		{"profile", func(p *core.JobParams) { p.ProfileID = "p1" }},
		{"item count", func(p *core.JobParams) { p.ItemCount = 6 }},
		{"difficulty", func(p *core.JobParams) { p.Difficulty = "hard" }},
		{"topic", func(p *core.JobParams) { p.Topic = "mitosis" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed := base
			tt.mutate(&changed)
			assert.NotEqual(t, Fingerprint(base), Fingerprint(changed))
		})
	}
}

func TestFingerprint_FieldBoundaries(t *testing.T) {
	a := core.JobParams{TaskType: core.TaskQuiz, BookID: "ab", ProfileID: "c", OwnerUserID: "t1"}
	b := core.JobParams{TaskType: core.TaskQuiz, BookID: "a", ProfileID: "bc", OwnerUserID: "t1"}
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}
