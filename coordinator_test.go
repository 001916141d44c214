package localstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-localstore/kvdb"
)

func TestCoordinator(t *testing.T) {
	var (
		newCtx = func() context.Context {
			return context.Background()
		}
		newDb = func(t *testing.T) *kvdb.DB {
			return kvdb.SetupTestDB(t, kvdb.WithBootstrapStores(StoreClientLeases))
		}
		newClient = func(db *kvdb.DB, clientID string, opts ...Option) *coordinator {
			var options = defaultOptions()
			WithClientID(clientID)(&options)
			for _, opt := range opts {
				opt(&options)
			}
			return newCoordinator(db, clientID, options)
		}
	)

	t.Run("should fail a second exclusive client while the first holds the lease", func(t *testing.T) {
		// Arrange
		var (
			db     = newDb(t)
			ctx    = newCtx()
			first  = newClient(db, "client-1")
			second = newClient(db, "client-2")
		)

		require.NoError(t, first.start(ctx, false))
		defer first.shutdown(ctx)

		// Act
		var err = second.start(ctx, false)

		// Assert
		assert.ErrorIs(t, err, ErrOwnershipConflict)
	})

	t.Run("should grant exclusive access after the holder shuts down", func(t *testing.T) {
		// Arrange
		var (
			db     = newDb(t)
			ctx    = newCtx()
			first  = newClient(db, "client-1")
			second = newClient(db, "client-2")
		)

		require.NoError(t, first.start(ctx, false))
		require.NoError(t, first.shutdown(ctx))

		// Act
		var err = second.start(ctx, false)

		// Assert
		require.NoError(t, err)
		require.NoError(t, second.shutdown(ctx))
	})

	t.Run("should let two shared clients start concurrently", func(t *testing.T) {
		// Arrange
		var (
			db     = newDb(t)
			ctx    = newCtx()
			first  = newClient(db, "client-1")
			second = newClient(db, "client-2")
		)

		// Act
		var firstErr = first.start(ctx, true)
		var secondErr = second.start(ctx, true)

		// Assert
		require.NoError(t, firstErr)
		require.NoError(t, secondErr)

		require.NoError(t, first.shutdown(ctx))
		require.NoError(t, second.shutdown(ctx))
	})

	t.Run("should fail a shared client against a live exclusive lease", func(t *testing.T) {
		// Arrange
		var (
			db     = newDb(t)
			ctx    = newCtx()
			first  = newClient(db, "client-1")
			second = newClient(db, "client-2")
		)

		require.NoError(t, first.start(ctx, false))
		defer first.shutdown(ctx)

		// Act
		var err = second.start(ctx, true)

		// Assert
		assert.ErrorIs(t, err, ErrOwnershipConflict)
	})

	t.Run("should fail an exclusive client against a live shared lease", func(t *testing.T) {
		// Arrange
		var (
			db     = newDb(t)
			ctx    = newCtx()
			first  = newClient(db, "client-1")
			second = newClient(db, "client-2")
		)

		require.NoError(t, first.start(ctx, true))
		defer first.shutdown(ctx)

		// Act
		var err = second.start(ctx, false)

		// Assert
		assert.ErrorIs(t, err, ErrOwnershipConflict)
	})

	t.Run("should reclaim a stale lease from a vanished client", func(t *testing.T) {
		// Arrange
		var (
			db    = newDb(t)
			ctx   = newCtx()
			epoch = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
			now   = epoch
			clock = func() time.Time { return now }
		)

		var first = newClient(db, "client-1", WithNow(clock))
		require.NoError(t, first.start(ctx, false))
		first.cancel() // heartbeat stops, lease record stays: a crashed tab

		// Act: within the TTL the dead lease still blocks...
		var second = newClient(db, "client-2", WithNow(clock))
		err := second.start(ctx, false)
		assert.ErrorIs(t, err, ErrOwnershipConflict)

		// ...but once the timestamp is older than the TTL it is reclaimed.
		now = epoch.Add(defaultOptions().leaseTTL + time.Second)
		err = second.start(ctx, false)

		// Assert
		require.NoError(t, err)
		require.NoError(t, second.shutdown(ctx))
	})

	t.Run("should never treat the client's own prior lease as a conflict", func(t *testing.T) {
		// Arrange
		var (
			db    = newDb(t)
			ctx   = newCtx()
			first = newClient(db, "client-1")
		)
		require.NoError(t, first.start(ctx, false))
		first.cancel() // same identity comes back without having shut down

		// Act
		var again = newClient(db, "client-1")
		var err = again.start(ctx, false)

		// Assert
		require.NoError(t, err)
		require.NoError(t, again.shutdown(ctx))
	})

	t.Run("should keep the lease live through heartbeat refreshes", func(t *testing.T) {
		// Arrange
		var (
			db     = newDb(t)
			ctx    = newCtx()
			ttl    = 100 * time.Millisecond
			first  = newClient(db, "client-1", WithLeaseTTL(ttl))
			second = newClient(db, "client-2", WithLeaseTTL(ttl))
		)

		require.NoError(t, first.start(ctx, false))
		defer first.shutdown(ctx)

		// Act: well past the TTL, the heartbeat must have kept refreshing.
		time.Sleep(3 * ttl)
		var err = second.start(ctx, false)

		// Assert
		assert.ErrorIs(t, err, ErrOwnershipConflict)
	})

	t.Run("should make shutdown idempotent", func(t *testing.T) {
		// Arrange
		var (
			db    = newDb(t)
			ctx   = newCtx()
			first = newClient(db, "client-1")
		)
		require.NoError(t, first.start(ctx, false))

		// Act
		require.NoError(t, first.shutdown(ctx))
		var err = first.shutdown(ctx)

		// Assert
		assert.NoError(t, err)
	})

	t.Run("should refuse to start after shutdown", func(t *testing.T) {
		// Arrange
		var (
			db    = newDb(t)
			ctx   = newCtx()
			first = newClient(db, "client-1")
		)
		require.NoError(t, first.start(ctx, false))
		require.NoError(t, first.shutdown(ctx))

		// Act
		var err = first.start(ctx, false)

		// Assert
		assert.ErrorIs(t, err, ErrShutdown)
	})

	t.Run("should refuse a second start on a running client", func(t *testing.T) {
		// Arrange
		var (
			db    = newDb(t)
			ctx   = newCtx()
			first = newClient(db, "client-1")
		)
		require.NoError(t, first.start(ctx, false))
		defer first.shutdown(ctx)

		// Act
		var err = first.start(ctx, false)

		// Assert
		assert.ErrorIs(t, err, ErrAlreadyStarted)
	})
}
