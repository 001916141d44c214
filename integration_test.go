package localstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-localstore/kvdb"
)

func TestIntegration(t *testing.T) {
	var (
		newCtx = func() context.Context {
			return context.Background()
		}
		newDb = func(t *testing.T) *kvdb.DB {
			var path = filepath.Join(t.TempDir(), "client.db")
			db, err := OpenDB(path, kvdb.WithNoSync(true))
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			return db
		}
		newBatch = func(userID string) *MutationBatch {
			return &MutationBatch{
				UserID:         userID,
				LocalWriteTime: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
				Mutations:      []Mutation{{Key: "docs/a", Value: []byte("v")}},
			}
		}
	)

	t.Run("should bring a fresh database to the current schema on start", func(t *testing.T) {
		t.Parallel()

		// Arrange
		var (
			db  = newDb(t)
			ctx = newCtx()
			sut = New(db)
		)

		// Act
		err := sut.Start(ctx, false)
		require.NoError(t, err)
		defer sut.Shutdown(ctx)

		// Assert
		version, err := sut.SchemaVersion()
		require.NoError(t, err)
		assert.Equal(t, SchemaVersion, version)

		var names []string
		err = db.Read(ctx, nil, func(tx *kvdb.Txn) error {
			names = tx.StoreNames()
			return nil
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, append(StoreSet(SchemaVersion), StoreClientLeases), names)
	})

	t.Run("should serve the mutation log and target metadata after start", func(t *testing.T) {
		t.Parallel()

		// Arrange
		var (
			db  = newDb(t)
			ctx = newCtx()
			sut = New(db)
		)
		require.NoError(t, sut.Start(ctx, false))
		defer sut.Shutdown(ctx)

		// Act
		firstID, err := sut.AddMutationBatch(ctx, newBatch("alice"))
		require.NoError(t, err)
		secondID, err := sut.AddMutationBatch(ctx, newBatch("alice"))
		require.NoError(t, err)

		require.NoError(t, sut.StoreTargetData(ctx, &TargetData{TargetID: 1, LastListenSequenceNumber: 5}))
		require.NoError(t, sut.StoreTargetData(ctx, &TargetData{TargetID: 2, LastListenSequenceNumber: 6}))

		// Assert
		assert.Greater(t, secondID, firstID)

		got, err := sut.LookupMutationBatch(ctx, firstID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "alice", got.UserID)

		batches, err := sut.MutationBatchesForUser(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, batches, 2)

		global, err := sut.GetTargetGlobal(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), global.TargetCount)
		assert.Equal(t, uint64(2), global.HighestTargetID)

		require.NoError(t, sut.RemoveTargetData(ctx, 1))
		global, err = sut.GetTargetGlobal(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), global.TargetCount)
	})

	t.Run("should block the store surface before start and after shutdown", func(t *testing.T) {
		t.Parallel()

		// Arrange
		var (
			db  = newDb(t)
			ctx = newCtx()
			sut = New(db)
		)

		// Act & Assert
		_, err := sut.AddMutationBatch(ctx, newBatch("alice"))
		assert.ErrorIs(t, err, ErrNotStarted)

		require.NoError(t, sut.Start(ctx, false))
		require.NoError(t, sut.Shutdown(ctx))

		_, err = sut.AddMutationBatch(ctx, newBatch("alice"))
		assert.ErrorIs(t, err, ErrShutdown)
	})

	t.Run("should arbitrate exclusive access between two sessions", func(t *testing.T) {
		t.Parallel()

		// Arrange
		var (
			db     = newDb(t)
			ctx    = newCtx()
			first  = New(db)
			second = New(db)
		)
		require.NoError(t, first.Start(ctx, false))

		// Act & Assert
		var err = second.Start(ctx, false)
		assert.ErrorIs(t, err, ErrOwnershipConflict)

		require.NoError(t, first.Shutdown(ctx))
		require.NoError(t, second.Start(ctx, false))
		require.NoError(t, second.Shutdown(ctx))
	})

	t.Run("should let synchronized sessions share the database", func(t *testing.T) {
		t.Parallel()

		// Arrange
		var (
			db     = newDb(t)
			ctx    = newCtx()
			first  = New(db)
			second = New(db)
		)

		// Act
		require.NoError(t, first.Start(ctx, true))
		require.NoError(t, second.Start(ctx, true))
		defer first.Shutdown(ctx)
		defer second.Shutdown(ctx)

		// Assert: writes from one session are visible to the other.
		batchID, err := first.AddMutationBatch(ctx, newBatch("alice"))
		require.NoError(t, err)

		got, err := second.LookupMutationBatch(ctx, batchID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "alice", got.UserID)

		leases, err := first.Leases(ctx)
		require.NoError(t, err)
		assert.Len(t, leases, 2)
	})

	t.Run("should recover ownership from a crashed session", func(t *testing.T) {
		t.Parallel()

		// Arrange
		var (
			db    = newDb(t)
			ctx   = newCtx()
			ttl   = 100 * time.Millisecond
			first = New(db, WithLeaseTTL(ttl))
		)
		require.NoError(t, first.Start(ctx, false))
		first.simulateCrash()

		// Act: wait out the staleness threshold, then take over.
		time.Sleep(2 * ttl)
		var second = New(db, WithLeaseTTL(ttl))
		var err = second.Start(ctx, false)

		// Assert
		require.NoError(t, err)
		require.NoError(t, second.Shutdown(ctx))
	})

	t.Run("should keep batch ids and data across reopen", func(t *testing.T) {
		t.Parallel()

		// Arrange
		var (
			ctx  = newCtx()
			path = filepath.Join(t.TempDir(), "client.db")
		)

		db, err := OpenDB(path, kvdb.WithNoSync(true))
		require.NoError(t, err)

		var first = New(db)
		require.NoError(t, first.Start(ctx, false))
		firstID, err := first.AddMutationBatch(ctx, newBatch("alice"))
		require.NoError(t, err)
		require.NoError(t, first.Shutdown(ctx))
		require.NoError(t, db.Close())

		// Act
		db, err = OpenDB(path, kvdb.WithNoSync(true))
		require.NoError(t, err)
		defer db.Close()

		var second = New(db)
		require.NoError(t, second.Start(ctx, false))
		defer second.Shutdown(ctx)

		// Assert
		got, err := second.LookupMutationBatch(ctx, firstID)
		require.NoError(t, err)
		require.NotNil(t, got)

		nextID, err := second.AddMutationBatch(ctx, newBatch("alice"))
		require.NoError(t, err)
		assert.Greater(t, nextID, firstID)
	})
}
