package localstore

import (
	"time"
)

// MutationBatch is one local write batch awaiting acknowledgment. The batch
// ID is assigned by the store, is strictly increasing for the lifetime of
// the database (including across schema upgrades), and is never reused.
type MutationBatch struct {
	BatchID        uint64     `json:"batchId"`
	UserID         string     `json:"userId"`
	LocalWriteTime time.Time  `json:"localWriteTime"`
	Mutations      []Mutation `json:"mutations"`
}

// Mutation is a single write op inside a batch. The payload is opaque to
// this layer; it only has to survive storage byte-for-byte.
type Mutation struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// TargetData is the persisted state of one active listen target.
type TargetData struct {
	TargetID                 uint64    `json:"targetId"`
	SnapshotVersion          time.Time `json:"snapshotVersion"`
	ResumeToken              []byte    `json:"resumeToken"`
	LastListenSequenceNumber uint64    `json:"lastListenSequenceNumber"`
}

// TargetGlobal is the singleton aggregate over all TargetData rows.
// TargetCount must always equal the number of TargetData rows; migrations
// recompute it from the rows rather than trusting a prior value.
type TargetGlobal struct {
	HighestTargetID             uint64 `json:"highestTargetId"`
	HighestListenSequenceNumber uint64 `json:"highestListenSequenceNumber"`
	TargetCount                 uint64 `json:"targetCount"`
}

// ClientLeaseInfo is a read-only view of one persisted client lease.
type ClientLeaseInfo struct {
	ClientID  string
	Shared    bool
	UpdatedAt time.Time
}

// leaseMode is the access mode claimed by a client lease.
type leaseMode string

const (
	leaseExclusive leaseMode = "exclusive"
	leaseShared    leaseMode = "shared"
)

// clientLease is one client instance's ownership/liveness claim, persisted
// in the clientLeases store and keyed by ClientID.
type clientLease struct {
	ClientID  string    `json:"clientId"`
	Mode      leaseMode `json:"mode"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// clientState tracks a session's lifecycle. ShutDown is terminal.
type clientState int

const (
	stateNotStarted clientState = iota
	stateStarting
	stateActive
	stateShutDown
)
