package localstore

import (
	"go-localstore/kvdb"
)

// SchemaVersion is the layout version this release of the engine requires.
// Opening an older database applies every migration step between the stored
// version and this one, in order, inside a single upgrade transaction.
const SchemaVersion = 3

// Object store names. The per-version store set is part of the on-disk
// contract; changing it requires a new schema version and a migration step.
const (
	// StoreRemoteDocuments holds cached documents keyed by document path.
	StoreRemoteDocuments = "remoteDocuments"

	// StoreMutationBatches is the append-only, auto-keyed log of pending
	// local write batches.
	StoreMutationBatches = "mutationBatches"

	// StoreTargets holds per-listen-target state keyed by target ID.
	StoreTargets = "targets"

	// StoreTargetGlobal holds the singleton aggregate over StoreTargets.
	// Introduced at version 2.
	StoreTargetGlobal = "targetGlobal"

	// StoreMutationBatchesByUser is the secondary index
	// (userId, batchId) -> batchId over StoreMutationBatches.
	// Introduced at version 3.
	StoreMutationBatchesByUser = "mutationBatchesByUser"

	// StoreClientLeases holds client ownership leases. It is provisioned at
	// open, outside the versioned schema, because the coordinator must run
	// before the migration runner.
	StoreClientLeases = "clientLeases"
)

// migration is one incremental upgrade step, taking the schema from version
// `from` to `from+1`. Steps only touch the supplied upgrade transaction.
type migration struct {
	from int
	run  func(tx *kvdb.Txn) error
}

// migrations is the ordered catalog of upgrade steps. Adding a schema
// version is an append here, not a new branch anywhere else.
var migrations = []migration{
	{from: 0, run: createBaseStores},
	{from: 1, run: createTargetGlobal},
	{from: 2, run: indexMutationBatchesByUser},
}

// StoreSet returns the documented set of object stores required at a schema
// version. Each version's set is a strict superset of the previous one.
func StoreSet(version int) []string {
	var names = []string{StoreRemoteDocuments, StoreMutationBatches, StoreTargets}
	if version >= 2 {
		names = append(names, StoreTargetGlobal)
	}
	if version >= 3 {
		names = append(names, StoreMutationBatchesByUser)
	}
	return names
}
