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


// Package storage provides the storage abstraction layer for syllabus.
//
// This package defines the repository interfaces that decouple persistence from
// ingestion, retrieval, job orchestration and teaching memory. Implementations
// live in subpackages: storage/badger for embedded storage and storage/redis
// for a job store shared between processes.
//
// # Architecture
//
//   - ContentStore: books, structure nodes and content atoms as one logical relation
//   - PlacementCatalog: which physical shard holds a book
//   - ProfileRepository: teaching profiles
//   - ArtifactRepository: saved artifacts and their similarity search
//   - JobStore: job table, fingerprint claims, result cache and work queue
//
// Content atoms are keyed by book and sequence index, so a curriculum-bounded
// query stops scanning at the boundary instead of filtering afterwards.
//
// # Usage
//
// Open an embedded store:
//
//	backend, err := badger.OpenBackend("/path/to/db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//	content := badger.NewContentRepository(backend)
//
// Use in tests with in-memory storage:
//
//	stores, err := badger.NewMemoryStores()
//
// # Serialization
//
// Records are encoded with mus-go primitives. Each encoding begins with a
// format version.
//
// # Thread Safety
//
// All repository implementations must be safe for concurrent use.
package storage
