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

package badger

import (
	"errors"
	"time"
)

// MemoryStores bundles every repository over one in-memory backend.
type MemoryStores struct {
	Backend   *Backend
	Content   *ContentRepository
	Catalog   *PlacementCatalog
	Profiles  *ProfileRepository
	Artifacts *ArtifactRepository
	Jobs      *JobStore
}

// NewMemoryStores creates in-memory repositories for testing.
// Caller must call Close when done.
func NewMemoryStores() (*MemoryStores, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, err
	}

	jobs, err := NewJobStore(backend, time.Hour)
	if err != nil {
		backend.Close()
		return nil, err
	}

	return &MemoryStores{
		Backend:   backend,
		Content:   NewContentRepository(backend),
		Catalog:   NewPlacementCatalog(backend),
		Profiles:  NewProfileRepository(backend),
		Artifacts: NewArtifactRepository(backend),
		Jobs:      jobs,
	}, nil
}

// Close releases the job store and closes the backend.
func (m *MemoryStores) Close() error {
	return errors.Join(m.Jobs.Close(), m.Backend.Close())
}
