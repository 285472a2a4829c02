package model

import "time"

// StoreRefState is the state of a snapshot materialised on one data store.
type StoreRefState string

const (
	RefAllocated  StoreRefState = "Allocated"
	RefCreating   StoreRefState = "Creating"
	RefReady      StoreRefState = "Ready"
	RefCopying    StoreRefState = "Copying"
	RefDestroying StoreRefState = "Destroying"
	RefDestroyed  StoreRefState = "Destroyed"
	RefFailed     StoreRefState = "Failed"
)

// StoreRefEvent drives the object-in-store state machine.
type StoreRefEvent string

const (
	RefCreateOnlyRequested StoreRefEvent = "CreateOnlyRequested"
	RefCopyingRequested    StoreRefEvent = "CopyingRequested"
	RefDestroyRequested    StoreRefEvent = "DestroyRequested"
	RefOperationSucceeded  StoreRefEvent = "OperationSucceeded"
	RefOperationFailed     StoreRefEvent = "OperationFailed"
)

// StoreRef records that a snapshot exists (or is being made to exist) on a
// particular data store.
type StoreRef struct {
	ID               uint64        `json:"id"`
	SnapshotID       uint64        `json:"snapshot_id"`
	StoreID          uint64        `json:"store_id"`
	StoreUUID        string        `json:"store_uuid"`
	Role             DataStoreRole `json:"role"`
	State            StoreRefState `json:"state"`
	InstallPath      string        `json:"install_path,omitempty"`
	ParentSnapshotID uint64        `json:"parent_snapshot_id,omitempty"`
	VolumeID         uint64        `json:"volume_id"`
	Size             int64         `json:"size"`
	PhysicalSize     int64         `json:"physical_size"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	Version          uint64        `json:"version"`
}

// IsLive returns true unless the ref has been destroyed.
func (r *StoreRef) IsLive() bool {
	return r.State != RefDestroyed
}
