// Package localstore is a versioned, transactional local persistence engine
// for an offline-capable client. It evolves its on-disk layout across schema
// versions inside atomic upgrade transactions, and arbitrates access to the
// single shared storage location among concurrent client instances through
// a lease protocol backed by the same storage.
package localstore

import (
	"context"
	"fmt"

	"go-localstore/kvdb"
)

// Persistence is one client instance's session against the shared local
// database. It owns its database handle reference and its own client
// identity; multiple sessions (the multi-tab case) may share one *kvdb.DB.
type Persistence struct {
	db          *kvdb.DB
	clientID    string
	options     options
	coordinator *coordinator
	mutations   *mutationStore
	targets     *targetStore
	documents   *documentStore
}

// OpenDB opens the shared database file and provisions the client lease
// store, which lives outside the versioned schema because ownership is
// decided before any migration runs.
func OpenDB(path string, opts ...kvdb.Option) (*kvdb.DB, error) {
	opts = append(opts, kvdb.WithBootstrapStores(StoreClientLeases))
	return kvdb.Open(path, opts...)
}

// New creates a persistence session over db.
func New(db *kvdb.DB, opts ...Option) *Persistence {
	var options = defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &Persistence{
		db:          db,
		clientID:    options.clientID,
		options:     options,
		coordinator: newCoordinator(db, options.clientID, options),
		mutations:   newMutationStore(db),
		targets:     newTargetStore(db),
		documents:   newDocumentStore(db),
	}
}

// ClientID returns this session's client identity string.
func (p *Persistence) ClientID() string {
	return p.clientID
}

// Start acquires ownership and brings the schema up to date. The
// coordinator runs first; no other component touches the database until
// ownership is granted. With synchronizeTabs false the session demands
// exclusive access; with true it cooperates with other shared sessions.
func (p *Persistence) Start(ctx context.Context, synchronizeTabs bool) error {
	if err := p.coordinator.start(ctx, synchronizeTabs); err != nil {
		return fmt.Errorf("failed to start persistence: %w", err)
	}

	if err := runMigrations(ctx, p.db, SchemaVersion); err != nil {
		// Ownership without a usable schema is worthless; release it so a
		// later attempt starts clean.
		_ = p.coordinator.shutdown(ctx)
		return fmt.Errorf("failed to start persistence: %w", err)
	}

	p.options.logger.Info("persistence started",
		"client_id", p.clientID,
		"schema_version", SchemaVersion,
		"synchronize_tabs", synchronizeTabs)

	return nil
}

// Shutdown releases this session's lease and ends the session. Idempotent.
func (p *Persistence) Shutdown(ctx context.Context) error {
	return p.coordinator.shutdown(ctx)
}

// SchemaVersion returns the stored schema version of the shared database.
func (p *Persistence) SchemaVersion() (int, error) {
	return p.db.Version()
}

// active guards the store surface behind the session lifecycle.
func (p *Persistence) active() error {
	p.coordinator.mu.Lock()
	defer p.coordinator.mu.Unlock()

	switch p.coordinator.state {
	case stateActive:
		return nil
	case stateShutDown:
		return ErrShutdown
	default:
		return ErrNotStarted
	}
}

// AddMutationBatch appends a local write batch and returns its assigned
// batch ID.
func (p *Persistence) AddMutationBatch(ctx context.Context, batch *MutationBatch) (uint64, error) {
	if err := p.active(); err != nil {
		return 0, err
	}
	return p.mutations.Add(ctx, batch)
}

// LookupMutationBatch returns the batch with the given ID, or nil if it does
// not exist.
func (p *Persistence) LookupMutationBatch(ctx context.Context, batchID uint64) (*MutationBatch, error) {
	if err := p.active(); err != nil {
		return nil, err
	}
	return p.mutations.Get(ctx, batchID)
}

// MutationBatchesForUser returns all batches owned by userID in ascending
// batch ID order.
func (p *Persistence) MutationBatchesForUser(ctx context.Context, userID string) ([]*MutationBatch, error) {
	if err := p.active(); err != nil {
		return nil, err
	}
	return p.mutations.ForUser(ctx, userID)
}

// GetTargetGlobal returns the aggregate metadata over all targets.
func (p *Persistence) GetTargetGlobal(ctx context.Context) (*TargetGlobal, error) {
	if err := p.active(); err != nil {
		return nil, err
	}
	return p.targets.GetGlobal(ctx)
}

// StoreTargetData inserts or updates a target row, maintaining the
// aggregate record in the same transaction.
func (p *Persistence) StoreTargetData(ctx context.Context, target *TargetData) error {
	if err := p.active(); err != nil {
		return err
	}
	return p.targets.Put(ctx, target)
}

// LookupTargetData returns the target with the given ID, or nil if it does
// not exist.
func (p *Persistence) LookupTargetData(ctx context.Context, targetID uint64) (*TargetData, error) {
	if err := p.active(); err != nil {
		return nil, err
	}
	return p.targets.Get(ctx, targetID)
}

// RemoveTargetData deletes a target row, maintaining the aggregate record
// in the same transaction.
func (p *Persistence) RemoveTargetData(ctx context.Context, targetID uint64) error {
	if err := p.active(); err != nil {
		return err
	}
	return p.targets.Delete(ctx, targetID)
}

// PutRemoteDocument caches an opaque document payload at path.
func (p *Persistence) PutRemoteDocument(ctx context.Context, path string, document []byte) error {
	if err := p.active(); err != nil {
		return err
	}
	return p.documents.Put(ctx, path, document)
}

// GetRemoteDocument returns the cached document at path, or nil when the
// path is not cached.
func (p *Persistence) GetRemoteDocument(ctx context.Context, path string) ([]byte, error) {
	if err := p.active(); err != nil {
		return nil, err
	}
	return p.documents.Get(ctx, path)
}

// DeleteRemoteDocument evicts the cached document at path.
func (p *Persistence) DeleteRemoteDocument(ctx context.Context, path string) error {
	if err := p.active(); err != nil {
		return err
	}
	return p.documents.Delete(ctx, path)
}

// HighestBatchID returns the highest mutation batch ID ever assigned.
func (p *Persistence) HighestBatchID(ctx context.Context) (uint64, error) {
	if err := p.active(); err != nil {
		return 0, err
	}
	return p.mutations.HighestBatchID(ctx)
}

// Leases returns a snapshot of every persisted client lease.
func (p *Persistence) Leases(ctx context.Context) ([]ClientLeaseInfo, error) {
	var leases, err = p.coordinator.currentLeases(ctx)
	if err != nil {
		return nil, err
	}

	var infos = make([]ClientLeaseInfo, len(leases))
	for i, lease := range leases {
		infos[i] = ClientLeaseInfo{
			ClientID:  lease.ClientID,
			Shared:    lease.Mode == leaseShared,
			UpdatedAt: lease.UpdatedAt,
		}
	}
	return infos, nil
}
