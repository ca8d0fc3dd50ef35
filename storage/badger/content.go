package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/syllabus/core"
	"github.com/poiesic/syllabus/storage"
)

// ContentRepository implements storage.ContentStore for BadgerDB.
type ContentRepository struct {
	backend *Backend
}

var _ storage.ContentStore = (*ContentRepository)(nil)

// NewContentRepository creates a new ContentRepository.
func NewContentRepository(backend *Backend) *ContentRepository {
	return &ContentRepository{backend: backend}
}

// Close is a no-op; the backend is owned by the caller.
func (r *ContentRepository) Close() error {
	return nil
}

// PutBook inserts or replaces a book catalog entry.
func (r *ContentRepository) PutBook(ctx context.Context, book *core.Book) error {
	if err := core.ValidateBook(book); err != nil {
		return err
	}
	now := time.Now().UTC()
	if book.CreatedAt.IsZero() {
		book.CreatedAt = now
	}
	book.UpdatedAt = now
	return r.backend.Update(func(tx *badger.Txn) error {
		return tx.Set(makeBookKey(book.ID), storage.MarshalBook(book))
	})
}

// GetBook retrieves a book by ID.
func (r *ContentRepository) GetBook(ctx context.Context, id core.ID) (*core.Book, error) {
	var result *core.Book
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readBook(tx, id)
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

// ListBooks returns books matching the filter ordered by ID.
func (r *ContentRepository) ListBooks(ctx context.Context, filter storage.BookFilter) ([]*core.Book, error) {
	var books []*core.Book
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(bookPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if filter.Limit > 0 && len(books) >= filter.Limit {
				break
			}
			var book *core.Book
			err := iter.Item().Value(func(val []byte) error {
				var err error
				book, err = storage.UnmarshalBook(val)
				return err
			})
			if err != nil {
				return err
			}
			if filter.Match(book) {
				books = append(books, book)
			}
		}
		return nil
	}, false)
	return books, err
}

// DeleteBook removes a book with all of its nodes and atoms.
// Returns ErrNotFound if neither the book nor any of its data exists.
func (r *ContentRepository) DeleteBook(ctx context.Context, id core.ID) error {
	var keys [][]byte

	atomKeys, err := r.backend.ScanKeys(makeAtomBookPrefix(id))
	if err != nil {
		return err
	}
	atomPrefixLen := len(makeAtomBookPrefix(id)) + 9
	for _, k := range atomKeys {
		keys = append(keys, k)
		if len(k) > atomPrefixLen {
			keys = append(keys, makeAtomIndexKey(core.ID(k[atomPrefixLen:])))
		}
	}

	nodeKeys, err := r.backend.ScanKeys(makeNodeBookPrefix(id))
	if err != nil {
		return err
	}
	nodePrefixLen := len(makeNodeBookPrefix(id))
	for _, k := range nodeKeys {
		keys = append(keys, k, makeNodeIndexKey(core.ID(k[nodePrefixLen:])))
	}

	bookKeys, err := r.backend.ScanKeys(makeBookKey(id))
	if err != nil {
		return err
	}
	for _, k := range bookKeys {
		// Prefix scan also matches longer IDs sharing this prefix.
		if bytes.Equal(k, makeBookKey(id)) {
			keys = append(keys, k)
		}
	}

	if len(keys) == 0 {
		return storage.ErrNotFound
	}
	return r.backend.DeleteKeys(keys)
}

// PutNodes writes structure nodes. All nodes must belong to one existing book.
func (r *ContentRepository) PutNodes(ctx context.Context, nodes ...*core.StructureNode) error {
	if len(nodes) == 0 {
		return nil
	}
	bookID := nodes[0].BookID
	for _, node := range nodes {
		if err := core.ValidateNode(node); err != nil {
			return err
		}
		if node.BookID != bookID {
			return fmt.Errorf("%w: nodes span books %s and %s", core.ErrInvalidNode, bookID, node.BookID)
		}
	}

	return r.backend.Update(func(tx *badger.Txn) error {
		book, err := readBook(tx, bookID)
		if err != nil {
			return err
		}
		if book == nil {
			return fmt.Errorf("book %s: %w", bookID, storage.ErrNotFound)
		}
		for _, node := range nodes {
			if err := tx.Set(makeNodeKey(bookID, node.ID), storage.MarshalNode(node)); err != nil {
				return err
			}
			if err := tx.Set(makeNodeIndexKey(node.ID), []byte(bookID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetNode retrieves a structure node by ID.
func (r *ContentRepository) GetNode(ctx context.Context, id core.ID) (*core.StructureNode, error) {
	var result *core.StructureNode
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		bookID, err := readValue(tx, makeNodeIndexKey(id))
		if err != nil {
			return err
		}
		if bookID == nil {
			return storage.ErrNotFound
		}
		raw, err := readValue(tx, makeNodeKey(core.ID(bookID), id))
		if err != nil {
			return err
		}
		if raw == nil {
			return storage.ErrNotFound
		}
		result, err = storage.UnmarshalNode(raw)
		return err
	}, false)
	return result, err
}

// GetNodes returns a book's nodes ordered by sequence index.
func (r *ContentRepository) GetNodes(ctx context.Context, bookID core.ID) ([]*core.StructureNode, error) {
	var nodes []*core.StructureNode
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeNodeBookPrefix(bookID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var node *core.StructureNode
			err := iter.Item().Value(func(val []byte) error {
				var err error
				node, err = storage.UnmarshalNode(val)
				return err
			})
			if err != nil {
				return err
			}
			nodes = append(nodes, node)
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(nodes, func(a, b *core.StructureNode) int {
		return a.SequenceIndex - b.SequenceIndex
	})
	return nodes, nil
}

// PutAtoms appends atoms. Atoms are immutable, so an existing ID is rejected.
func (r *ContentRepository) PutAtoms(ctx context.Context, atoms ...*core.ContentAtom) error {
	for _, atom := range atoms {
		if err := core.ValidateAtom(atom); err != nil {
			return err
		}
		if atom.Magnitude == 0 {
			atom.Magnitude = storage.Magnitude(atom.Embedding)
		}
		if atom.CreatedAt.IsZero() {
			atom.CreatedAt = time.Now().UTC()
		}
	}

	return r.backend.Update(func(tx *badger.Txn) error {
		for _, atom := range atoms {
			idxKey := makeAtomIndexKey(atom.ID)
			existing, err := readValue(tx, idxKey)
			if err != nil {
				return err
			}
			if existing != nil {
				return fmt.Errorf("atom %s: %w", atom.ID, storage.ErrDuplicateKey)
			}
			key := makeAtomKey(atom.BookID, atom.SequenceIndex, atom.ID)
			if err := tx.Set(key, storage.MarshalAtom(atom)); err != nil {
				return err
			}
			if err := tx.Set(idxKey, key); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetAtom retrieves an atom by ID.
func (r *ContentRepository) GetAtom(ctx context.Context, id core.ID) (*core.ContentAtom, error) {
	var result *core.ContentAtom
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		key, err := readValue(tx, makeAtomIndexKey(id))
		if err != nil {
			return err
		}
		if key == nil {
			return storage.ErrNotFound
		}
		raw, err := readValue(tx, key)
		if err != nil {
			return err
		}
		if raw == nil {
			return storage.ErrNotFound
		}
		result, err = storage.UnmarshalAtom(raw)
		return err
	}, false)
	return result, err
}

// GetAtoms returns a book's atoms ordered by sequence index.
func (r *ContentRepository) GetAtoms(ctx context.Context, bookID core.ID) ([]*core.ContentAtom, error) {
	var atoms []*core.ContentAtom
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanAtoms(ctx, tx, bookID, 0, -1, func(atom *core.ContentAtom) {
			atoms = append(atoms, atom)
		})
	}, false)
	return atoms, err
}

// SearchAtoms runs a filtered similarity query over the listed books.
// Only atoms inside the sequence window are read.
func (r *ContentRepository) SearchAtoms(ctx context.Context, query storage.AtomQuery) ([]*core.Hit, error) {
	if err := validateAtomQuery(query); err != nil {
		return nil, err
	}
	lo, hi := 0, -1
	if query.MinSequenceIndex != nil {
		lo = max(*query.MinSequenceIndex, 0)
	}
	if query.MaxSequenceIndex != nil {
		if *query.MaxSequenceIndex < 0 {
			return []*core.Hit{}, nil
		}
		hi = *query.MaxSequenceIndex
	}

	queryMag := storage.Magnitude(query.Vector)
	top := storage.NewTopHits(query.Limit)
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, bookID := range core.UniqueIDs(query.BookIDs) {
			err := scanAtoms(ctx, tx, bookID, lo, hi, func(atom *core.ContentAtom) {
				if !query.Admits(atom) {
					return
				}
				score, ok := storage.Similarity(query.Vector, queryMag, atom.Embedding, atom.Magnitude)
				if !ok {
					return
				}
				top.Offer(atomHit(atom, score))
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return top.Hits(), nil
}

// CountAtoms returns the number of stored atoms.
func (r *ContentRepository) CountAtoms(ctx context.Context) (int, error) {
	keys, err := r.backend.ScanKeys([]byte(atomIndexPrefix + ":"))
	return len(keys), err
}

func validateAtomQuery(q storage.AtomQuery) error {
	if len(q.BookIDs) == 0 {
		return fmt.Errorf("%w: no books in scope", storage.ErrInvalidQuery)
	}
	if q.Limit <= 0 {
		return fmt.Errorf("%w: limit must be positive", storage.ErrInvalidQuery)
	}
	if len(q.Vector) == 0 {
		return fmt.Errorf("%w: empty query vector", storage.ErrInvalidQuery)
	}
	for _, f := range q.Filters {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// scanAtoms visits a book's atoms with lo <= seq (and seq <= hi when hi >= 0)
// in key order. Iteration stops at the first key past hi.
func scanAtoms(ctx context.Context, tx *badger.Txn, bookID core.ID, lo, hi int, visit func(*core.ContentAtom)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makeAtomBookPrefix(bookID)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Seek(makeAtomSeqKey(bookID, lo)); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := iter.Item()
		if hi >= 0 && atomSeqFromKey(item.Key(), bookID) > hi {
			break
		}
		var atom *core.ContentAtom
		err := item.Value(func(val []byte) error {
			var err error
			atom, err = storage.UnmarshalAtom(val)
			return err
		})
		if err != nil {
			return err
		}
		visit(atom)
	}
	return nil
}

func atomHit(atom *core.ContentAtom, score float32) *core.Hit {
	return &core.Hit{
		AtomID:        atom.ID,
		BookID:        atom.BookID,
		NodeID:        atom.NodeID,
		Text:          atom.Text,
		Score:         score,
		SequenceIndex: atom.SequenceIndex,
		AtomType:      atom.AtomType,
		OwnerID:       atom.OwnerID,
		Metadata:      atom.Metadata,
	}
}

func readBook(tx *badger.Txn, id core.ID) (*core.Book, error) {
	raw, err := readValue(tx, makeBookKey(id))
	if err != nil || raw == nil {
		return nil, err
	}
	return storage.UnmarshalBook(raw)
}

// readValue returns a copy of the value at key, or nil if the key is absent.
func readValue(tx *badger.Txn, key []byte) ([]byte, error) {
	item, err := tx.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}
