// Package kvdb is a thin transactional adapter over bbolt. It exposes the
// substrate as a set of named stores with ordered keys, auto-generated
// monotonic keys, and read-only or read-write transactions scoped to a
// declared set of stores. A single schema-version record is kept in a
// bookkeeping bucket and advanced only through UpgradeTo.
package kvdb

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

const metaStore = "_meta"

var versionKey = []byte("schemaVersion")

// DB wraps a bbolt database handle. Multiple client sessions may share one
// DB; bbolt serializes write transactions against it.
type DB struct {
	bolt      *bbolt.DB
	logger    *slog.Logger
	bootstrap []string
	noSync    bool
}

// Option configures a DB before it is opened.
type Option func(*DB)

// WithLogger sets the logger for the database.
// DEFAULT: A no-op logger
func WithLogger(logger *slog.Logger) Option {
	return func(db *DB) {
		if logger == nil {
			db.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
			return
		}

		db.logger = logger
	}
}

// WithBootstrapStores names stores that must exist regardless of the schema
// version. They are provisioned at open, before any upgrade runs, so that
// coordination state can live outside the versioned schema.
func WithBootstrapStores(names ...string) Option {
	return func(db *DB) {
		db.bootstrap = append(db.bootstrap, names...)
	}
}

// WithNoSync disables fsync per transaction. Use only in tests.
func WithNoSync(noSync bool) Option {
	return func(db *DB) {
		db.noSync = noSync
	}
}

// Open opens (or creates) the database file at path and provisions the
// bookkeeping bucket plus any bootstrap stores. A database that cannot be
// opened is reported as ErrUnavailable.
func Open(path string, opts ...Option) (*DB, error) {
	var db = &DB{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(db)
	}

	var bolt, err = bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  db.noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w: %v", path, ErrUnavailable, err)
	}
	db.bolt = bolt

	if err := db.provision(); err != nil {
		_ = bolt.Close()
		return nil, err
	}

	db.logger.Debug("opened database", "path", path)
	return db, nil
}

// provision creates the bookkeeping bucket and bootstrap stores.
func (db *DB) provision() error {
	return db.bolt.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(metaStore)); err != nil {
			return fmt.Errorf("failed to create bookkeeping store: %w", err)
		}
		for _, name := range db.bootstrap {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create bootstrap store %q: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the underlying database file.
func (db *DB) Close() error {
	return db.bolt.Close()
}

// Version returns the stored schema version, 0 for a freshly created
// database.
func (db *DB) Version() (int, error) {
	var version int
	var err = db.bolt.View(func(tx *bbolt.Tx) error {
		version = readVersion(tx)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// UpgradeFunc is the body of an upgrade transaction. It receives the version
// the database was opened at and the requested target version.
type UpgradeFunc func(tx *Txn, from, to int) error

// UpgradeTo advances the stored schema version to target by running fn
// inside a single write transaction with every store accessible. The new
// version is recorded in the same transaction, so either the whole upgrade
// applies or the database stays at the prior version. A target at or below
// the stored version is a no-op and fn is not called.
func (db *DB) UpgradeTo(ctx context.Context, target int, fn UpgradeFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return db.bolt.Update(func(btx *bbolt.Tx) error {
		var from = readVersion(btx)
		if target <= from {
			return nil
		}

		var tx = &Txn{tx: btx, writable: true}
		if err := fn(tx, from, target); err != nil {
			return err
		}

		if err := writeVersion(btx, target); err != nil {
			return err
		}

		db.logger.Info("schema upgraded", "from", from, "to", target)
		return nil
	})
}

// Read runs fn in a read-only transaction restricted to the declared stores.
func (db *DB) Read(ctx context.Context, stores []string, fn func(tx *Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return db.bolt.View(func(btx *bbolt.Tx) error {
		return fn(&Txn{tx: btx, declared: declaredSet(stores)})
	})
}

// Write runs fn in a read-write transaction restricted to the declared
// stores. The body's effects commit atomically, or not at all if fn returns
// an error.
func (db *DB) Write(ctx context.Context, stores []string, fn func(tx *Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return db.bolt.Update(func(btx *bbolt.Tx) error {
		return fn(&Txn{tx: btx, writable: true, declared: declaredSet(stores)})
	})
}

func declaredSet(stores []string) map[string]bool {
	var declared = make(map[string]bool, len(stores))
	for _, name := range stores {
		declared[name] = true
	}
	return declared
}

func readVersion(tx *bbolt.Tx) int {
	var meta = tx.Bucket([]byte(metaStore))
	if meta == nil {
		return 0
	}

	var raw = meta.Get(versionKey)
	if raw == nil {
		return 0
	}

	version, err := ParseUint64Key(raw)
	if err != nil {
		return 0
	}
	return int(version)
}

func writeVersion(tx *bbolt.Tx, version int) error {
	var meta = tx.Bucket([]byte(metaStore))
	if err := meta.Put(versionKey, Uint64Key(uint64(version))); err != nil {
		return fmt.Errorf("failed to record schema version %d: %w", version, err)
	}
	return nil
}
