package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go-localstore/kvdb"
)

// coordinator arbitrates access to the shared storage location among
// concurrent client instances. The only synchronization primitive is the
// storage itself: acquisition, refresh, and staleness reclaim are all
// read-modify-write transactions against the clientLeases store.
type coordinator struct {
	db       *kvdb.DB
	clientID string
	options  options

	mu     sync.Mutex
	state  clientState
	mode   leaseMode
	cancel context.CancelFunc
}

// newCoordinator creates a coordinator for one client identity.
func newCoordinator(db *kvdb.DB, clientID string, opts options) *coordinator {
	return &coordinator{
		db:       db,
		clientID: clientID,
		options:  opts,
		state:    stateNotStarted,
	}
}

var leaseStoreNames = []string{StoreClientLeases}

// start attempts to acquire ownership. With synchronizeTabs false the
// client demands exclusive access and any live foreign lease is a conflict;
// with synchronizeTabs true a shared lease is taken, compatible with other
// shared leases but still blocked by a live foreign exclusive lease.
//
// start does not wait for a conflicting peer: it either resolves with
// ownership granted or fails with ErrOwnershipConflict. A caller wanting
// retry-on-conflict re-invokes start after a backoff.
func (c *coordinator) start(ctx context.Context, synchronizeTabs bool) error {
	c.mu.Lock()
	switch c.state {
	case stateShutDown:
		c.mu.Unlock()
		return ErrShutdown
	case stateStarting, stateActive:
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.state = stateStarting
	c.mu.Unlock()

	var mode = leaseExclusive
	if synchronizeTabs {
		mode = leaseShared
	}

	if err := c.acquireLease(ctx, mode); err != nil {
		c.mu.Lock()
		c.state = stateNotStarted
		c.mu.Unlock()
		return err
	}

	var workerCtx context.Context
	c.mu.Lock()
	c.state = stateActive
	c.mode = mode
	workerCtx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	go c.refreshLeaseWorker(workerCtx)

	c.options.logger.Info("acquired client lease",
		"client_id", c.clientID,
		"mode", mode,
		"lease_ttl", c.options.leaseTTL)

	return nil
}

// shutdown releases this client's lease and stops the heartbeat. Idempotent.
func (c *coordinator) shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.state == stateShutDown {
		c.mu.Unlock()
		return nil
	}
	c.state = stateShutDown
	var cancel = c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var err = c.db.Write(ctx, leaseStoreNames, func(tx *kvdb.Txn) error {
		leases, err := tx.Store(StoreClientLeases)
		if err != nil {
			return err
		}
		return leases.Delete([]byte(c.clientID))
	})
	if err != nil {
		return fmt.Errorf("failed to release client lease: %w", err)
	}

	c.options.logger.Info("released client lease", "client_id", c.clientID)
	return nil
}

// acquireLease scans all leases in one write transaction, reclaims stale
// ones, fails on a live conflicting claim, and upserts this client's lease.
// A prior lease held under this client's own identity is never a conflict,
// so start is idempotent for the same identity.
func (c *coordinator) acquireLease(ctx context.Context, mode leaseMode) error {
	return c.db.Write(ctx, leaseStoreNames, func(tx *kvdb.Txn) error {
		leases, err := tx.Store(StoreClientLeases)
		if err != nil {
			return err
		}

		var (
			now   = c.options.now()
			stale [][]byte
		)
		err = leases.Range(func(key, value []byte) error {
			var lease clientLease
			if err := json.Unmarshal(value, &lease); err != nil {
				return fmt.Errorf("failed to decode client lease: %w", err)
			}

			if lease.ClientID == c.clientID {
				return nil
			}

			// A vanished peer cannot release its lease; judge it dead once
			// the heartbeat timestamp falls outside the TTL and reclaim.
			if now.Sub(lease.UpdatedAt) > c.options.leaseTTL {
				stale = append(stale, append([]byte(nil), key...))
				return nil
			}

			if lease.Mode == leaseExclusive || mode == leaseExclusive {
				return ErrOwnershipConflict
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, key := range stale {
			c.options.logger.Warn("reclaiming stale client lease", "client_id", string(key))
			if err := leases.Delete(key); err != nil {
				return err
			}
		}

		return c.putLease(leases, mode, now)
	})
}

// refreshLease re-stamps this client's lease timestamp. A no-op unless the
// client is active, so a late heartbeat cannot resurrect a released lease.
func (c *coordinator) refreshLease(ctx context.Context) error {
	c.mu.Lock()
	if c.state != stateActive {
		c.mu.Unlock()
		return nil
	}
	var mode = c.mode
	c.mu.Unlock()

	return c.db.Write(ctx, leaseStoreNames, func(tx *kvdb.Txn) error {
		leases, err := tx.Store(StoreClientLeases)
		if err != nil {
			return err
		}
		return c.putLease(leases, mode, c.options.now())
	})
}

func (c *coordinator) putLease(leases *kvdb.Store, mode leaseMode, now time.Time) error {
	encoded, err := json.Marshal(&clientLease{
		ClientID:  c.clientID,
		Mode:      mode,
		UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("failed to encode client lease: %w", err)
	}
	return leases.Put([]byte(c.clientID), encoded)
}

// refreshLeaseWorker periodically refreshes this client's lease so peers
// keep judging it live.
func (c *coordinator) refreshLeaseWorker(ctx context.Context) {
	var ticker = time.NewTicker(c.options.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.refreshLease(ctx); err != nil {
				c.options.logger.Error("failed to refresh client lease", "error", err)
			}
		}
	}
}

// currentLeases returns a snapshot of every persisted lease, for the demo
// binary's status view.
func (c *coordinator) currentLeases(ctx context.Context) ([]clientLease, error) {
	var snapshot []clientLease
	var err = c.db.Read(ctx, leaseStoreNames, func(tx *kvdb.Txn) error {
		leases, err := tx.Store(StoreClientLeases)
		if err != nil {
			return err
		}
		return leases.Range(func(_, value []byte) error {
			var lease clientLease
			if err := json.Unmarshal(value, &lease); err != nil {
				return fmt.Errorf("failed to decode client lease: %w", err)
			}
			snapshot = append(snapshot, lease)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list client leases: %w", err)
	}
	return snapshot, nil
}
