package kvdb

import (
	"bytes"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
)

var (
	// ErrNotFound is returned when a keyed lookup finds no row. Callers that
	// expect optional results should test for it explicitly; it is distinct
	// from a storage failure.
	ErrNotFound = errors.New("not found")

	// ErrStoreNotDeclared is returned when a transaction body touches a store
	// it did not declare, or one that does not exist.
	ErrStoreNotDeclared = errors.New("store not declared in this transaction")

	// ErrReadOnly is returned when a write is attempted in a read-only
	// transaction.
	ErrReadOnly = errors.New("transaction is read-only")

	// ErrUnavailable is returned when the storage substrate itself cannot be
	// reached. Fatal for the client instance; not retried here.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrStop terminates a Range or Prefix iteration early without error.
	ErrStop = errors.New("stop iteration")
)

// IsNotFound reports whether err is a missing-row lookup result.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Txn is a single transaction against a declared set of stores. It must not
// be retained outside the transaction body.
type Txn struct {
	tx       *bbolt.Tx
	writable bool
	declared map[string]bool // nil in upgrade transactions: every store is accessible
}

// Store returns a handle to a declared store.
func (t *Txn) Store(name string) (*Store, error) {
	if t.declared != nil && !t.declared[name] {
		return nil, fmt.Errorf("store %q: %w", name, ErrStoreNotDeclared)
	}

	var bucket = t.tx.Bucket([]byte(name))
	if bucket == nil {
		return nil, fmt.Errorf("store %q does not exist: %w", name, ErrStoreNotDeclared)
	}

	return &Store{name: name, bucket: bucket, writable: t.writable}, nil
}

// CreateStore creates a store if it does not already exist. Only valid in a
// write or upgrade transaction.
func (t *Txn) CreateStore(name string) error {
	if !t.writable {
		return fmt.Errorf("failed to create store %q: %w", name, ErrReadOnly)
	}

	if _, err := t.tx.CreateBucketIfNotExists([]byte(name)); err != nil {
		return fmt.Errorf("failed to create store %q: %w", name, err)
	}
	return nil
}

// DeleteStore drops a store and everything in it.
func (t *Txn) DeleteStore(name string) error {
	if !t.writable {
		return fmt.Errorf("failed to delete store %q: %w", name, ErrReadOnly)
	}

	if err := t.tx.DeleteBucket([]byte(name)); err != nil {
		return fmt.Errorf("failed to delete store %q: %w", name, err)
	}
	return nil
}

// StoreNames returns the names of all stores, excluding bookkeeping.
func (t *Txn) StoreNames() []string {
	var names []string
	_ = t.tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
		if string(name) != metaStore {
			names = append(names, string(name))
		}
		return nil
	})
	return names
}

// Store is a handle to one named store within a transaction.
type Store struct {
	name     string
	bucket   *bbolt.Bucket
	writable bool
}

// Get returns a copy of the value at key, or ErrNotFound.
func (s *Store) Get(key []byte) ([]byte, error) {
	var value = s.bucket.Get(key)
	if value == nil {
		return nil, fmt.Errorf("key in store %q: %w", s.name, ErrNotFound)
	}
	return bytes.Clone(value), nil
}

// Put writes value at key, replacing any prior value.
func (s *Store) Put(key, value []byte) error {
	if !s.writable {
		return fmt.Errorf("failed to put into store %q: %w", s.name, ErrReadOnly)
	}

	if err := s.bucket.Put(key, value); err != nil {
		return fmt.Errorf("failed to put into store %q: %w", s.name, err)
	}
	return nil
}

// Delete removes the row at key. Deleting an absent key is a no-op.
func (s *Store) Delete(key []byte) error {
	if !s.writable {
		return fmt.Errorf("failed to delete from store %q: %w", s.name, ErrReadOnly)
	}

	if err := s.bucket.Delete(key); err != nil {
		return fmt.Errorf("failed to delete from store %q: %w", s.name, err)
	}
	return nil
}

// Add writes value under the store's next auto-generated key and returns
// that key. Keys are strictly increasing for the lifetime of the store,
// including across schema upgrades, and are never reused.
func (s *Store) Add(value []byte) (uint64, error) {
	if !s.writable {
		return 0, fmt.Errorf("failed to add into store %q: %w", s.name, ErrReadOnly)
	}

	var id, err = s.bucket.NextSequence()
	if err != nil {
		return 0, fmt.Errorf("failed to generate key for store %q: %w", s.name, err)
	}

	if err := s.bucket.Put(Uint64Key(id), value); err != nil {
		return 0, fmt.Errorf("failed to add into store %q: %w", s.name, err)
	}
	return id, nil
}

// Range iterates every row in ascending key order. Returning ErrStop from fn
// ends the iteration without error.
func (s *Store) Range(fn func(key, value []byte) error) error {
	var cursor = s.bucket.Cursor()
	for key, value := cursor.First(); key != nil; key, value = cursor.Next() {
		if err := fn(key, value); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Prefix iterates, in ascending key order, every row whose key starts with
// prefix.
func (s *Store) Prefix(prefix []byte, fn func(key, value []byte) error) error {
	var cursor = s.bucket.Cursor()
	for key, value := cursor.Seek(prefix); key != nil && bytes.HasPrefix(key, prefix); key, value = cursor.Next() {
		if err := fn(key, value); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Last returns the highest key and its value, or ErrNotFound for an empty
// store.
func (s *Store) Last() ([]byte, []byte, error) {
	var key, value = s.bucket.Cursor().Last()
	if key == nil {
		return nil, nil, fmt.Errorf("store %q is empty: %w", s.name, ErrNotFound)
	}
	return bytes.Clone(key), bytes.Clone(value), nil
}

// Count returns the number of rows in the store as observed by this
// transaction.
func (s *Store) Count() (uint64, error) {
	var count uint64
	var err = s.Range(func(_, _ []byte) error {
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
