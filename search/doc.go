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


// Package search answers retrieval queries over ingested textbooks.
//
// Every search runs under two guards that are part of the store query rather
// than applied to ranked results:
//   - Curriculum Guard: when MaxSequenceIndex is set, no hit is ordered after it
//   - Privacy Guard: hits are either shared or owned by the requesting user
//
// Scope is resolved before anything is read. A request names a book, a
// teaching profile, or both; a request naming neither is rejected with
// core.ErrAmbiguousScope unless AdminOverride is set. Hits are ranked by
// cosine similarity, ties broken by ascending sequence index and then atom ID.
// An empty hit list is a valid answer, not an error.
package search
