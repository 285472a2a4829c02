package model

import (
	"strconv"
	"time"
)

// SnapshotLockKey is the lock-table key serializing operations on one
// snapshot row.
func SnapshotLockKey(id uint64) string { return "snapshot/" + strconv.FormatUint(id, 10) }

// ChainLockKey is the lock-table key serializing chain walks over the
// snapshots of one volume.
func ChainLockKey(volumeID uint64) string { return "chain/" + strconv.FormatUint(volumeID, 10) }

// LockRecord is a lease held on a lock-table key. The fencing token grows
// with every grant of the key so a holder whose lease lapsed can be told
// apart from its successor.
type LockRecord struct {
	Key          string    `json:"key"`
	HolderNonce  string    `json:"holder_nonce"`
	AcquiredAt   time.Time `json:"acquired_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	FencingToken int64     `json:"fencing_token"`
	Purpose      string    `json:"purpose,omitempty"`
}

// IsExpired reports whether the lease has lapsed at now.
func (l *LockRecord) IsExpired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// LockPolicy sets the lease length of a grant and how often a waiter
// rechecks a busy key.
type LockPolicy struct {
	DefaultLeaseTTL time.Duration `json:"default_lease_ttl"`
	PollInterval    time.Duration `json:"poll_interval"`
}
