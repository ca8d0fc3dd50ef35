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

import "github.com/viant/vec/search"

// Magnitude returns the Euclidean norm of v.
func Magnitude(v []float32) float32 {
	if len(v) == 0 {
		return 0
	}
	return search.Float32s(v).Magnitude()
}

// Similarity returns the cosine similarity of two vectors given their
// precomputed magnitudes. A zero magnitude is recomputed. Vectors of different
// dimensions are not comparable and report ok=false.
func Similarity(a []float32, magA float32, b []float32, magB float32) (score float32, ok bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	if magA == 0 {
		magA = Magnitude(a)
	}
	if magB == 0 {
		magB = Magnitude(b)
	}
	if magA == 0 || magB == 0 {
		return 0, true
	}
	return dot(a, b) / (magA * magB), true
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
