package localstore

import (
	"context"
	"fmt"

	"go-localstore/kvdb"
)

// documentStore handles the cached remote document rows. Documents are
// opaque to this layer; the query engine that consumes them lives above it.
type documentStore struct {
	db *kvdb.DB
}

func newDocumentStore(db *kvdb.DB) *documentStore {
	return &documentStore{db: db}
}

var documentStoreNames = []string{StoreRemoteDocuments}

// Put caches the document bytes at path, replacing any prior entry.
func (s *documentStore) Put(ctx context.Context, path string, document []byte) error {
	var err = s.db.Write(ctx, documentStoreNames, func(tx *kvdb.Txn) error {
		store, err := tx.Store(StoreRemoteDocuments)
		if err != nil {
			return err
		}
		return store.Put([]byte(path), document)
	})
	if err != nil {
		return fmt.Errorf("failed to put document %s: %w", path, err)
	}
	return nil
}

// Get returns the cached document at path, or nil if not cached.
func (s *documentStore) Get(ctx context.Context, path string) ([]byte, error) {
	var document []byte
	var err = s.db.Read(ctx, documentStoreNames, func(tx *kvdb.Txn) error {
		store, err := tx.Store(StoreRemoteDocuments)
		if err != nil {
			return err
		}

		value, err := store.Get([]byte(path))
		if kvdb.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		document = value
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", path, err)
	}
	return document, nil
}

// Delete evicts the cached document at path. Evicting an absent path is a
// no-op.
func (s *documentStore) Delete(ctx context.Context, path string) error {
	var err = s.db.Write(ctx, documentStoreNames, func(tx *kvdb.Txn) error {
		store, err := tx.Store(StoreRemoteDocuments)
		if err != nil {
			return err
		}
		return store.Delete([]byte(path))
	})
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", path, err)
	}
	return nil
}
