package localstore

import (
	"context"
	"encoding/json"
	"fmt"

	"go-localstore/kvdb"
)

// runMigrations brings the database schema up to target. Every step
// v -> v+1 for v in [stored, target) runs in order inside one upgrade
// transaction; if any step fails the whole upgrade rolls back and the
// stored version is unchanged.
func runMigrations(ctx context.Context, db *kvdb.DB, target int) error {
	return db.UpgradeTo(ctx, target, func(tx *kvdb.Txn, from, to int) error {
		for _, step := range migrations {
			if step.from < from || step.from >= to {
				continue
			}
			if err := step.run(tx); err != nil {
				return fmt.Errorf("schema upgrade v%d to v%d failed: %w", step.from, step.from+1, err)
			}
		}
		return nil
	})
}

// createBaseStores is the v0 -> v1 step: the primary stores for the base
// feature set.
func createBaseStores(tx *kvdb.Txn) error {
	for _, name := range []string{StoreRemoteDocuments, StoreMutationBatches, StoreTargets} {
		if err := tx.CreateStore(name); err != nil {
			return err
		}
	}
	return nil
}

// createTargetGlobal is the v1 -> v2 step: create the aggregate singleton
// store and populate it from the TargetData rows that exist at migration
// time. The count is recomputed from ground truth, never defaulted.
func createTargetGlobal(tx *kvdb.Txn) error {
	if err := tx.CreateStore(StoreTargetGlobal); err != nil {
		return err
	}

	targets, err := tx.Store(StoreTargets)
	if err != nil {
		return err
	}

	var global TargetGlobal
	err = targets.Range(func(key, value []byte) error {
		var target TargetData
		if err := json.Unmarshal(value, &target); err != nil {
			return fmt.Errorf("failed to decode target row: %w", err)
		}

		global.TargetCount++
		if target.TargetID > global.HighestTargetID {
			global.HighestTargetID = target.TargetID
		}
		if target.LastListenSequenceNumber > global.HighestListenSequenceNumber {
			global.HighestListenSequenceNumber = target.LastListenSequenceNumber
		}
		return nil
	})
	if err != nil {
		return err
	}

	store, err := tx.Store(StoreTargetGlobal)
	if err != nil {
		return err
	}
	return putGlobalRow(store, &global)
}

// indexMutationBatchesByUser is the v2 -> v3 step: add the by-user secondary
// index and backfill it from every existing batch. The rows themselves are
// not rewritten, so their field values and the store's auto-key high-water
// mark are preserved exactly.
func indexMutationBatchesByUser(tx *kvdb.Txn) error {
	if err := tx.CreateStore(StoreMutationBatchesByUser); err != nil {
		return err
	}

	batches, err := tx.Store(StoreMutationBatches)
	if err != nil {
		return err
	}
	index, err := tx.Store(StoreMutationBatchesByUser)
	if err != nil {
		return err
	}

	return batches.Range(func(key, value []byte) error {
		var batch MutationBatch
		if err := json.Unmarshal(value, &batch); err != nil {
			return fmt.Errorf("failed to decode mutation batch row: %w", err)
		}
		return index.Put(userIndexKey(batch.UserID, batch.BatchID), key)
	})
}
