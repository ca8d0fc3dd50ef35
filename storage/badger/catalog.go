package badger

import (
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/syllabus/core"
	"github.com/poiesic/syllabus/storage"
)

// PlacementCatalog implements storage.PlacementCatalog for BadgerDB.
type PlacementCatalog struct {
	backend *Backend
}

var _ storage.PlacementCatalog = (*PlacementCatalog)(nil)

// NewPlacementCatalog creates a new PlacementCatalog.
func NewPlacementCatalog(backend *Backend) *PlacementCatalog {
	return &PlacementCatalog{backend: backend}
}

// GetPlacement returns the shard holding a book.
func (c *PlacementCatalog) GetPlacement(ctx context.Context, bookID core.ID) (string, error) {
	var shard string
	err := c.backend.WithTx(func(tx *badger.Txn) error {
		raw, err := readValue(tx, makePlacementKey(bookID))
		if err != nil {
			return err
		}
		if raw == nil {
			return storage.ErrNotFound
		}
		shard = string(raw)
		return nil
	}, false)
	return shard, err
}

// SetPlacement records the shard holding a book.
func (c *PlacementCatalog) SetPlacement(ctx context.Context, bookID core.ID, shard string) error {
	return c.backend.Update(func(tx *badger.Txn) error {
		return tx.Set(makePlacementKey(bookID), []byte(shard))
	})
}

// DeletePlacement forgets a book's placement.
func (c *PlacementCatalog) DeletePlacement(ctx context.Context, bookID core.ID) error {
	return c.backend.Update(func(tx *badger.Txn) error {
		return tx.Delete(makePlacementKey(bookID))
	})
}

// ListPlacements returns every book placement.
func (c *PlacementCatalog) ListPlacements(ctx context.Context) (map[core.ID]string, error) {
	out := make(map[core.ID]string)
	prefix := []byte(placementPrefix + ":")
	err := c.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			item := iter.Item()
			bookID := core.ID(item.Key()[len(prefix):])
			err := item.Value(func(val []byte) error {
				out[bookID] = string(val)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	return out, err
}
