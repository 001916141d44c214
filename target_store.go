package localstore

import (
	"context"
	"encoding/json"
	"fmt"

	"go-localstore/kvdb"
)

// globalKey is the singleton row key inside StoreTargetGlobal.
var globalKey = []byte("global")

// targetStore handles all database operations for per-target state and the
// global aggregate record.
type targetStore struct {
	db *kvdb.DB
}

// newTargetStore creates a targetStore over the shared database handle.
func newTargetStore(db *kvdb.DB) *targetStore {
	return &targetStore{db: db}
}

var targetStoreNames = []string{StoreTargets, StoreTargetGlobal}

// GetGlobal returns the aggregate record.
func (s *targetStore) GetGlobal(ctx context.Context) (*TargetGlobal, error) {
	var global *TargetGlobal
	var err = s.db.Read(ctx, targetStoreNames, func(tx *kvdb.Txn) error {
		var err error
		global, err = getGlobalRow(tx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get target global metadata: %w", err)
	}
	return global, nil
}

// PutGlobal replaces the aggregate record.
func (s *targetStore) PutGlobal(ctx context.Context, global *TargetGlobal) error {
	var err = s.db.Write(ctx, targetStoreNames, func(tx *kvdb.Txn) error {
		store, err := tx.Store(StoreTargetGlobal)
		if err != nil {
			return err
		}
		return putGlobalRow(store, global)
	})
	if err != nil {
		return fmt.Errorf("failed to put target global metadata: %w", err)
	}
	return nil
}

// Get returns the target with the given ID, or nil if not found.
func (s *targetStore) Get(ctx context.Context, targetID uint64) (*TargetData, error) {
	var target *TargetData
	var err = s.db.Read(ctx, targetStoreNames, func(tx *kvdb.Txn) error {
		store, err := tx.Store(StoreTargets)
		if err != nil {
			return err
		}

		value, err := store.Get(kvdb.Uint64Key(targetID))
		if kvdb.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}

		var row TargetData
		if err := json.Unmarshal(value, &row); err != nil {
			return fmt.Errorf("failed to decode target row: %w", err)
		}
		target = &row
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get target %d: %w", targetID, err)
	}
	return target, nil
}

// Put inserts or updates a target row. For an insert it also updates the
// aggregate record in the same transaction: the count and the
// highest-target-id high-water mark.
func (s *targetStore) Put(ctx context.Context, target *TargetData) error {
	var err = s.db.Write(ctx, targetStoreNames, func(tx *kvdb.Txn) error {
		store, err := tx.Store(StoreTargets)
		if err != nil {
			return err
		}

		var key = kvdb.Uint64Key(target.TargetID)
		_, err = store.Get(key)
		var inserting = kvdb.IsNotFound(err)
		if err != nil && !inserting {
			return err
		}

		encoded, err := json.Marshal(target)
		if err != nil {
			return fmt.Errorf("failed to encode target row: %w", err)
		}
		if err := store.Put(key, encoded); err != nil {
			return err
		}

		global, err := getGlobalRow(tx)
		if err != nil {
			return err
		}
		if inserting {
			global.TargetCount++
		}
		if target.TargetID > global.HighestTargetID {
			global.HighestTargetID = target.TargetID
		}
		if target.LastListenSequenceNumber > global.HighestListenSequenceNumber {
			global.HighestListenSequenceNumber = target.LastListenSequenceNumber
		}

		globalStore, err := tx.Store(StoreTargetGlobal)
		if err != nil {
			return err
		}
		return putGlobalRow(globalStore, global)
	})
	if err != nil {
		return fmt.Errorf("failed to put target %d: %w", target.TargetID, err)
	}
	return nil
}

// Delete removes a target row and decrements the aggregate count in the
// same transaction. Deleting an absent target is a no-op.
func (s *targetStore) Delete(ctx context.Context, targetID uint64) error {
	var err = s.db.Write(ctx, targetStoreNames, func(tx *kvdb.Txn) error {
		store, err := tx.Store(StoreTargets)
		if err != nil {
			return err
		}

		var key = kvdb.Uint64Key(targetID)
		if _, err := store.Get(key); kvdb.IsNotFound(err) {
			return nil
		} else if err != nil {
			return err
		}

		if err := store.Delete(key); err != nil {
			return err
		}

		global, err := getGlobalRow(tx)
		if err != nil {
			return err
		}
		global.TargetCount--

		globalStore, err := tx.Store(StoreTargetGlobal)
		if err != nil {
			return err
		}
		return putGlobalRow(globalStore, global)
	})
	if err != nil {
		return fmt.Errorf("failed to delete target %d: %w", targetID, err)
	}
	return nil
}

// getGlobalRow reads the singleton inside tx. A zero record is returned if
// it has never been written.
func getGlobalRow(tx *kvdb.Txn) (*TargetGlobal, error) {
	store, err := tx.Store(StoreTargetGlobal)
	if err != nil {
		return nil, err
	}

	value, err := store.Get(globalKey)
	if kvdb.IsNotFound(err) {
		return &TargetGlobal{}, nil
	}
	if err != nil {
		return nil, err
	}

	var global TargetGlobal
	if err := json.Unmarshal(value, &global); err != nil {
		return nil, fmt.Errorf("failed to decode target global metadata: %w", err)
	}
	return &global, nil
}

// putGlobalRow writes the singleton inside tx.
func putGlobalRow(store *kvdb.Store, global *TargetGlobal) error {
	encoded, err := json.Marshal(global)
	if err != nil {
		return fmt.Errorf("failed to encode target global metadata: %w", err)
	}
	return store.Put(globalKey, encoded)
}
