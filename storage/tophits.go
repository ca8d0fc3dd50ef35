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
	"slices"

	"github.com/poiesic/syllabus/core"
)

// TopHits keeps the best hits seen so far in core.CompareHits order.
type TopHits struct {
	limit int
	hits  []*core.Hit
}

// NewTopHits returns a collector bounded to limit hits.
func NewTopHits(limit int) *TopHits {
	return &TopHits{limit: limit, hits: make([]*core.Hit, 0, min(limit, 64))}
}

// Offer inserts h if it ranks within the limit.
func (t *TopHits) Offer(h *core.Hit) {
	if t.limit <= 0 {
		return
	}
	if len(t.hits) == t.limit && core.CompareHits(h, t.hits[len(t.hits)-1]) >= 0 {
		return
	}
	i, _ := slices.BinarySearchFunc(t.hits, h, core.CompareHits)
	if len(t.hits) == t.limit {
		t.hits = t.hits[:len(t.hits)-1]
	}
	t.hits = slices.Insert(t.hits, i, h)
}

// Hits returns the collected hits, best first. Never nil.
func (t *TopHits) Hits() []*core.Hit {
	return t.hits
}
