package model

import "time"

// SnapshotState is the lifecycle state of a persisted snapshot.
type SnapshotState string

const (
	SnapshotAllocated        SnapshotState = "Allocated"
	SnapshotCreating         SnapshotState = "Creating"
	SnapshotCreatedOnPrimary SnapshotState = "CreatedOnPrimary"
	SnapshotBackingUp        SnapshotState = "BackingUp"
	SnapshotBackedUp         SnapshotState = "BackedUp"
	SnapshotError            SnapshotState = "Error"
	SnapshotDestroying       SnapshotState = "Destroying"
	SnapshotDestroyed        SnapshotState = "Destroyed"
)

// SnapshotEvent drives the snapshot state machine.
type SnapshotEvent string

const (
	SnapshotCreateRequested       SnapshotEvent = "CreateRequested"
	SnapshotOperationSucceeded    SnapshotEvent = "OperationSucceeded"
	SnapshotOperationFailed       SnapshotEvent = "OperationFailed"
	SnapshotOperationNotPerformed SnapshotEvent = "OperationNotPerformed"
	SnapshotBackupToSecondary     SnapshotEvent = "BackupToSecondary"
	SnapshotDestroyRequested      SnapshotEvent = "DestroyRequested"
)

// Snapshot is the persisted snapshot row.
type Snapshot struct {
	ID             uint64         `json:"id"`
	UUID           string         `json:"uuid"`
	Name           string         `json:"name"`
	VolumeID       uint64         `json:"volume_id"`
	AccountID      uint64         `json:"account_id"`
	DataCenterID   uint64         `json:"data_center_id"`
	State          SnapshotState  `json:"state"`
	ParentID       *uint64        `json:"parent_id,omitempty"`
	BackupID       string         `json:"backup_id,omitempty"`
	HypervisorType HypervisorType `json:"hypervisor_type"`
	Size           int64          `json:"size"`
	CreatedAt      time.Time      `json:"created_at"`
	Removed        *time.Time     `json:"removed,omitempty"`
	Version        uint64         `json:"version"`
}

// IsRemoved returns true if the row has been soft deleted.
func (s *Snapshot) IsRemoved() bool {
	return s.Removed != nil
}

// HasParent returns true if the snapshot is a link in a delta chain.
func (s *Snapshot) HasParent() bool {
	return s.ParentID != nil && *s.ParentID != 0
}
