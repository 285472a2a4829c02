package model

// EngineType identifies the clone engine a filesystem store uses.
type EngineType string

const (
	EngineJuiceFSClone EngineType = "juicefs-clone"
	EngineReflinkCopy  EngineType = "reflink-copy"
	EngineCopy         EngineType = "copy"
)

// HashValue is a SHA-256 hash stored as hex string.
type HashValue string

// DataStoreRole is the role a data store plays for snapshots.
type DataStoreRole string

const (
	RolePrimary DataStoreRole = "Primary"
	RoleImage   DataStoreRole = "Image"
)

// HypervisorType identifies the hypervisor family owning a volume.
type HypervisorType string

const (
	HypervisorXenServer HypervisorType = "XenServer"
	HypervisorKVM       HypervisorType = "KVM"
	HypervisorVMware    HypervisorType = "VMware"
	HypervisorNone      HypervisorType = "None"
)

// CapabilityStorageSystemSnapshot is advertised by primary stores that can
// take snapshots natively on the storage array.
const CapabilityStorageSystemSnapshot = "STORAGE_SYSTEM_SNAPSHOT"

// StrategyPriority ranks how well a strategy can handle an operation.
type StrategyPriority int

const (
	CantHandle StrategyPriority = iota
	PriorityDefault
	PriorityHypervisor
	PriorityPlugin
	PriorityHighest
)

func (p StrategyPriority) String() string {
	switch p {
	case CantHandle:
		return "CANT_HANDLE"
	case PriorityDefault:
		return "DEFAULT"
	case PriorityHypervisor:
		return "HYPERVISOR"
	case PriorityPlugin:
		return "PLUGIN"
	case PriorityHighest:
		return "HIGHEST"
	}
	return "UNKNOWN"
}

// SnapshotOperation names a snapshot lifecycle operation for strategy selection.
type SnapshotOperation string

const (
	OpTake   SnapshotOperation = "take"
	OpBackup SnapshotOperation = "backup"
	OpDelete SnapshotOperation = "delete"
	OpRevert SnapshotOperation = "revert"
)

// LockState represents the current state of a lock.
type LockState string

const (
	LockStateHeld    LockState = "held"
	LockStateExpired LockState = "expired"
	LockStateFree    LockState = "free"
)
