package model

// VolumeState is the lifecycle state of a volume, as far as snapshots care.
type VolumeState string

const (
	VolumeAllocated          VolumeState = "Allocated"
	VolumeReady              VolumeState = "Ready"
	VolumeSnapshotting       VolumeState = "Snapshotting"
	VolumeRevertSnapshotting VolumeState = "RevertSnapshotting"
	VolumeDestroy            VolumeState = "Destroy"
)

// VolumeEvent drives the volume state machine.
type VolumeEvent string

const (
	VolumeSnapshotRequested       VolumeEvent = "SnapshotRequested"
	VolumeRevertSnapshotRequested VolumeEvent = "RevertSnapshotRequested"
	VolumeOperationSucceeded      VolumeEvent = "OperationSucceeded"
	VolumeOperationFailed         VolumeEvent = "OperationFailed"
)

// Volume is the persisted volume row.
type Volume struct {
	ID             uint64         `json:"id"`
	UUID           string         `json:"uuid"`
	Name           string         `json:"name"`
	AccountID      uint64         `json:"account_id"`
	DataCenterID   uint64         `json:"data_center_id"`
	PoolID         uint64         `json:"pool_id"`
	Path           string         `json:"path,omitempty"`
	Size           int64          `json:"size"`
	HypervisorType HypervisorType `json:"hypervisor_type"`
	State          VolumeState    `json:"state"`
	Version        uint64         `json:"version"`
}
