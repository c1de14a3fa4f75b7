package cache

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when a cache entry doesn't exist.
var ErrNotFound = errors.New("cache entry not found")

// Store wraps Badger for cache operations.
type Store struct {
	db *badger.DB
}

// OpenStore opens or creates a cache store at the given path.
func OpenStore(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable badger logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get retrieves the entry for path.
func (s *Store) Get(path string) (*Entry, error) {
	var entry Entry

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(MakeKey(path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		return item.Value(entry.Decode)
	})

	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Put stores the entry for path.
func (s *Store) Put(path string, entry *Entry) error {
	value, err := entry.Encode()
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(MakeKey(path), value)
	})
}

// Delete removes the entry for path.
func (s *Store) Delete(path string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(MakeKey(path))
	})
}

// DeletePrefix removes all entries under dir and returns how many were
// removed.
func (s *Store) DeletePrefix(dir string) (int, error) {
	prefix := MakeKeyPrefix(dir)
	removed := 0

	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := txn.Delete(it.Item().KeyCopy(nil)); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// Each calls fn for every entry under dir, in key order.
func (s *Store) Each(dir string, fn func(path string, e *Entry) error) error {
	prefix := MakeKeyPrefix(dir)

	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var e Entry
			if err := item.Value(e.Decode); err != nil {
				return err
			}
			if err := fn(ParseKey(item.Key()), &e); err != nil {
				return err
			}
		}
		return nil
	})
}

// Size returns the on-disk size of the LSM tree and value log.
func (s *Store) Size() (lsm, vlog int64) {
	return s.db.Size()
}
