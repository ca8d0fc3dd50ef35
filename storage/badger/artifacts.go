package badger

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/syllabus/core"
	"github.com/poiesic/syllabus/storage"
)

// ArtifactRepository implements storage.ArtifactRepository for BadgerDB.
type ArtifactRepository struct {
	backend *Backend
}

var _ storage.ArtifactRepository = (*ArtifactRepository)(nil)

// NewArtifactRepository creates a new ArtifactRepository.
func NewArtifactRepository(backend *Backend) *ArtifactRepository {
	return &ArtifactRepository{backend: backend}
}

// Close is a no-op; the backend is owned by the caller.
func (r *ArtifactRepository) Close() error {
	return nil
}

// AddArtifact writes a new artifact and its profile/date index entry.
func (r *ArtifactRepository) AddArtifact(ctx context.Context, artifact *core.Artifact) error {
	if err := core.ValidateArtifact(artifact); err != nil {
		return err
	}
	if artifact.ID == "" {
		artifact.ID = core.NewID()
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}
	if artifact.Magnitude == 0 {
		artifact.Magnitude = storage.Magnitude(artifact.Embedding)
	}

	return r.backend.Update(func(tx *badger.Txn) error {
		key := makeArtifactKey(artifact.ID)
		existing, err := readValue(tx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("artifact %s: %w", artifact.ID, storage.ErrDuplicateKey)
		}
		if err := tx.Set(key, storage.MarshalArtifact(artifact)); err != nil {
			return err
		}
		idxKey := makeArtifactIndexKey(artifact.ProfileID, artifact.CreatedAt, artifact.ID)
		return tx.Set(idxKey, []byte(artifact.ID))
	})
}

// GetArtifact retrieves an artifact by ID.
func (r *ArtifactRepository) GetArtifact(ctx context.Context, id core.ID) (*core.Artifact, error) {
	var result *core.Artifact
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readArtifact(tx, id)
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// DeleteArtifact removes an artifact and its index entry.
func (r *ArtifactRepository) DeleteArtifact(ctx context.Context, id core.ID) error {
	return r.backend.Update(func(tx *badger.Txn) error {
		artifact, err := readArtifact(tx, id)
		if err != nil {
			return err
		}
		if artifact == nil {
			return storage.ErrNotFound
		}
		if err := tx.Delete(makeArtifactIndexKey(artifact.ProfileID, artifact.CreatedAt, artifact.ID)); err != nil {
			return err
		}
		return tx.Delete(makeArtifactKey(id))
	})
}

// SearchArtifacts returns a profile's artifacts inside the date range. With a
// query vector they are ranked by similarity, otherwise newest first.
func (r *ArtifactRepository) SearchArtifacts(ctx context.Context, query storage.ArtifactQuery) ([]*core.ArtifactHit, error) {
	if query.ProfileID == "" {
		return nil, fmt.Errorf("%w: profile id is required", storage.ErrInvalidQuery)
	}

	var hits []*core.ArtifactHit
	queryMag := storage.Magnitude(query.Vector)
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeArtifactProfilePrefix(query.ProfileID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		start := opts.Prefix
		if !query.Range.From.IsZero() {
			start = makePartialArtifactIndexKey(query.ProfileID, query.Range.From)
		}
		var end []byte
		if !query.Range.To.IsZero() {
			end = makePartialArtifactIndexKey(query.ProfileID, query.Range.To.Add(time.Microsecond))
		}

		for iter.Seek(start); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := iter.Item()
			if end != nil && bytes.Compare(item.Key(), end) >= 0 {
				break
			}
			id, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			artifact, err := readArtifact(tx, core.ID(id))
			if err != nil {
				return err
			}
			if artifact == nil || !query.Range.Contains(artifact.CreatedAt) {
				continue
			}
			if query.Type != "" && artifact.Type != query.Type {
				continue
			}

			hit := &core.ArtifactHit{Artifact: artifact}
			if len(query.Vector) > 0 {
				score, ok := storage.Similarity(query.Vector, queryMag, artifact.Embedding, artifact.Magnitude)
				if !ok {
					continue
				}
				hit.Score = score
			}
			hits = append(hits, hit)
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(hits, compareArtifactHits)
	if query.Limit > 0 && len(hits) > query.Limit {
		hits = hits[:query.Limit]
	}
	if hits == nil {
		hits = []*core.ArtifactHit{}
	}
	return hits, nil
}

// compareArtifactHits orders by score descending, then newest first, then ID.
// Without a query vector all scores are zero.
func compareArtifactHits(a, b *core.ArtifactHit) int {
	switch {
	case a.Score > b.Score:
		return -1
	case a.Score < b.Score:
		return 1
	}
	if c := b.Artifact.CreatedAt.Compare(a.Artifact.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(string(a.Artifact.ID), string(b.Artifact.ID))
}

func readArtifact(tx *badger.Txn, id core.ID) (*core.Artifact, error) {
	raw, err := readValue(tx, makeArtifactKey(id))
	if err != nil || raw == nil {
		return nil, err
	}
	return storage.UnmarshalArtifact(raw)
}
