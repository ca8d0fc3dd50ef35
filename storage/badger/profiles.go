package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/syllabus/core"
	"github.com/poiesic/syllabus/storage"
)

// ProfileRepository implements storage.ProfileRepository for BadgerDB.
type ProfileRepository struct {
	backend *Backend
}

var _ storage.ProfileRepository = (*ProfileRepository)(nil)

// NewProfileRepository creates a new ProfileRepository.
func NewProfileRepository(backend *Backend) *ProfileRepository {
	return &ProfileRepository{backend: backend}
}

// Close is a no-op; the backend is owned by the caller.
func (r *ProfileRepository) Close() error {
	return nil
}

// PutProfile inserts or replaces a profile.
func (r *ProfileRepository) PutProfile(ctx context.Context, profile *core.Profile) error {
	if err := core.ValidateProfile(profile); err != nil {
		return err
	}
	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	return r.backend.Update(func(tx *badger.Txn) error {
		return tx.Set(makeProfileKey(profile.ID), storage.MarshalProfile(profile))
	})
}

// GetProfile retrieves a profile by ID.
func (r *ProfileRepository) GetProfile(ctx context.Context, id core.ID) (*core.Profile, error) {
	var result *core.Profile
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		raw, err := readValue(tx, makeProfileKey(id))
		if err != nil {
			return err
		}
		if raw == nil {
			return storage.ErrNotFound
		}
		result, err = storage.UnmarshalProfile(raw)
		return err
	}, false)
	return result, err
}

// DeleteProfile removes a profile.
func (r *ProfileRepository) DeleteProfile(ctx context.Context, id core.ID) error {
	return r.backend.Update(func(tx *badger.Txn) error {
		key := makeProfileKey(id)
		raw, err := readValue(tx, key)
		if err != nil {
			return err
		}
		if raw == nil {
			return storage.ErrNotFound
		}
		return tx.Delete(key)
	})
}
