package localstore

import (
	"context"
	"encoding/json"
	"fmt"

	"go-localstore/kvdb"
)

// mutationStore handles all database operations for mutation batches.
type mutationStore struct {
	db *kvdb.DB
}

// newMutationStore creates a mutationStore over the shared database handle.
func newMutationStore(db *kvdb.DB) *mutationStore {
	return &mutationStore{db: db}
}

// mutationStoreNames is the store set every batch write touches: the row
// store plus its by-user index, maintained in the same transaction.
var mutationStoreNames = []string{StoreMutationBatches, StoreMutationBatchesByUser}

// Add appends a batch to the log, assigns the next monotonic batch ID, and
// writes the by-user index entry in the same transaction.
func (s *mutationStore) Add(ctx context.Context, batch *MutationBatch) (uint64, error) {
	var batchID uint64
	var err = s.db.Write(ctx, mutationStoreNames, func(tx *kvdb.Txn) error {
		var err error
		batchID, err = addBatchRow(tx, batch)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to add mutation batch: %w", err)
	}
	return batchID, nil
}

// Get returns the batch with the given ID, or nil if not found.
func (s *mutationStore) Get(ctx context.Context, batchID uint64) (*MutationBatch, error) {
	var batch *MutationBatch
	var err = s.db.Read(ctx, mutationStoreNames, func(tx *kvdb.Txn) error {
		var err error
		batch, err = getBatchRow(tx, batchID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get mutation batch %d: %w", batchID, err)
	}
	return batch, nil
}

// ForUser returns all batches owned by userID in ascending batch ID order.
func (s *mutationStore) ForUser(ctx context.Context, userID string) ([]*MutationBatch, error) {
	var batches []*MutationBatch
	var err = s.db.Read(ctx, mutationStoreNames, func(tx *kvdb.Txn) error {
		var err error
		batches, err = batchesForUser(tx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list mutation batches for user %s: %w", userID, err)
	}
	return batches, nil
}

// HighestBatchID returns the highest batch ID ever assigned, 0 for an empty
// log.
func (s *mutationStore) HighestBatchID(ctx context.Context) (uint64, error) {
	var highest uint64
	var err = s.db.Read(ctx, mutationStoreNames, func(tx *kvdb.Txn) error {
		store, err := tx.Store(StoreMutationBatches)
		if err != nil {
			return err
		}

		key, _, err := store.Last()
		if kvdb.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}

		highest, err = kvdb.ParseUint64Key(key)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to find highest batch id: %w", err)
	}
	return highest, nil
}

// userIndexKey builds the (userId, batchId) index key. Length-prefixed
// segments keep one user's entries from matching another user's prefix.
func userIndexKey(userID string, batchID uint64) []byte {
	return kvdb.CompositeKey([]byte(userID), kvdb.Uint64Key(batchID))
}

// addBatchRow writes a batch and its index entry inside tx.
func addBatchRow(tx *kvdb.Txn, batch *MutationBatch) (uint64, error) {
	store, err := tx.Store(StoreMutationBatches)
	if err != nil {
		return 0, err
	}
	index, err := tx.Store(StoreMutationBatchesByUser)
	if err != nil {
		return 0, err
	}

	// Two-step write: the auto key must be known before the row is encoded,
	// because the row carries its own batch ID.
	batchID, err := store.Add(nil)
	if err != nil {
		return 0, err
	}

	var row = *batch
	row.BatchID = batchID

	encoded, err := json.Marshal(&row)
	if err != nil {
		return 0, fmt.Errorf("failed to encode mutation batch: %w", err)
	}

	if err := store.Put(kvdb.Uint64Key(batchID), encoded); err != nil {
		return 0, err
	}
	if err := index.Put(userIndexKey(row.UserID, batchID), kvdb.Uint64Key(batchID)); err != nil {
		return 0, err
	}

	return batchID, nil
}

// getBatchRow reads one batch inside tx, returning nil when absent.
func getBatchRow(tx *kvdb.Txn, batchID uint64) (*MutationBatch, error) {
	store, err := tx.Store(StoreMutationBatches)
	if err != nil {
		return nil, err
	}

	value, err := store.Get(kvdb.Uint64Key(batchID))
	if kvdb.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var batch MutationBatch
	if err := json.Unmarshal(value, &batch); err != nil {
		return nil, fmt.Errorf("failed to decode mutation batch %d: %w", batchID, err)
	}
	return &batch, nil
}

// batchesForUser walks the by-user index inside tx.
func batchesForUser(tx *kvdb.Txn, userID string) ([]*MutationBatch, error) {
	index, err := tx.Store(StoreMutationBatchesByUser)
	if err != nil {
		return nil, err
	}

	var batches []*MutationBatch
	err = index.Prefix(kvdb.CompositeKey([]byte(userID)), func(_, value []byte) error {
		batchID, err := kvdb.ParseUint64Key(value)
		if err != nil {
			return err
		}

		batch, err := getBatchRow(tx, batchID)
		if err != nil {
			return err
		}
		if batch == nil {
			return fmt.Errorf("index entry for user %s points at missing batch %d", userID, batchID)
		}

		batches = append(batches, batch)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batches, nil
}
