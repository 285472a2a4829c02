package snapshot

import (
	"github.com/jvs-project/volsnap/internal/fsm"
	"github.com/jvs-project/volsnap/pkg/metrics"
	"github.com/jvs-project/volsnap/pkg/model"
)

// DeltaMax is the default longest chain of incremental backups before a
// full backup is forced. The snapshot.delta.max setting overrides it.
const DeltaMax = 16

// Machine names as they appear in logs, metrics and audit records.
const (
	MachineSnapshot = "snapshot"
	MachineVolume   = "volume"
	MachineStoreRef = "store_ref"
)

type (
	SnapshotMachine = fsm.Machine[model.SnapshotState, model.SnapshotEvent, *model.Snapshot]
	VolumeMachine   = fsm.Machine[model.VolumeState, model.VolumeEvent, *model.Volume]
	StoreRefMachine = fsm.Machine[model.StoreRefState, model.StoreRefEvent, *model.StoreRef]

	SnapshotListener = fsm.Listener[model.SnapshotState, model.SnapshotEvent, *model.Snapshot]
	VolumeListener   = fsm.Listener[model.VolumeState, model.VolumeEvent, *model.Volume]
	StoreRefListener = fsm.Listener[model.StoreRefState, model.StoreRefEvent, *model.StoreRef]
)

// Machines holds the three lifecycle machines. Build it once at startup and
// share it.
type Machines struct {
	Snapshot *SnapshotMachine
	Volume   *VolumeMachine
	StoreRef *StoreRefMachine
}

// Listeners are extra observers attached when the machines are built.
type Listeners struct {
	Snapshot []SnapshotListener
	Volume   []VolumeListener
	StoreRef []StoreRefListener
}

// Merge returns the listeners of l followed by those of other.
func (l Listeners) Merge(other Listeners) Listeners {
	return Listeners{
		Snapshot: append(append([]SnapshotListener(nil), l.Snapshot...), other.Snapshot...),
		Volume:   append(append([]VolumeListener(nil), l.Volume...), other.Volume...),
		StoreRef: append(append([]StoreRefListener(nil), l.StoreRef...), other.StoreRef...),
	}
}

// NewMachines builds the snapshot, volume and store ref machines. Every
// committed transition is counted in the default metrics collector before
// the extra listeners run.
func NewMachines(l Listeners) (*Machines, error) {
	m := metrics.Default()

	sb := fsm.NewBuilder[model.SnapshotState, model.SnapshotEvent, *model.Snapshot](
		MachineSnapshot, func(s *model.Snapshot) model.SnapshotState { return s.State }).
		AddTransition(model.SnapshotAllocated, model.SnapshotCreateRequested, model.SnapshotCreating).
		AddTransition(model.SnapshotCreating, model.SnapshotOperationSucceeded, model.SnapshotCreatedOnPrimary).
		AddTransition(model.SnapshotCreating, model.SnapshotOperationNotPerformed, model.SnapshotBackedUp).
		AddTransition(model.SnapshotCreating, model.SnapshotOperationFailed, model.SnapshotError).
		AddTransition(model.SnapshotCreatedOnPrimary, model.SnapshotBackupToSecondary, model.SnapshotBackingUp).
		AddTransition(model.SnapshotCreatedOnPrimary, model.SnapshotOperationNotPerformed, model.SnapshotBackedUp).
		AddTransition(model.SnapshotCreatedOnPrimary, model.SnapshotDestroyRequested, model.SnapshotDestroying).
		AddTransition(model.SnapshotBackingUp, model.SnapshotOperationSucceeded, model.SnapshotBackedUp).
		AddTransition(model.SnapshotBackingUp, model.SnapshotOperationFailed, model.SnapshotError).
		AddTransition(model.SnapshotBackedUp, model.SnapshotDestroyRequested, model.SnapshotDestroying).
		AddTransition(model.SnapshotDestroying, model.SnapshotOperationSucceeded, model.SnapshotDestroyed).
		AddTransition(model.SnapshotDestroying, model.SnapshotOperationFailed, model.SnapshotBackedUp).
		AddTransition(model.SnapshotError, model.SnapshotDestroyRequested, model.SnapshotDestroying).
		AddListener(fsm.ListenerFunc[model.SnapshotState, model.SnapshotEvent, *model.Snapshot](
			func(t fsm.Transition[model.SnapshotState, model.SnapshotEvent], _ *model.Snapshot, _ any) error {
				m.IncTransition(MachineSnapshot, string(t.Event))
				return nil
			}))
	for _, x := range l.Snapshot {
		sb.AddListener(x)
	}
	snap, err := sb.Build()
	if err != nil {
		return nil, err
	}

	vb := fsm.NewBuilder[model.VolumeState, model.VolumeEvent, *model.Volume](
		MachineVolume, func(v *model.Volume) model.VolumeState { return v.State }).
		AddTransition(model.VolumeReady, model.VolumeSnapshotRequested, model.VolumeSnapshotting).
		AddTransition(model.VolumeSnapshotting, model.VolumeOperationSucceeded, model.VolumeReady).
		AddTransition(model.VolumeSnapshotting, model.VolumeOperationFailed, model.VolumeReady).
		AddTransition(model.VolumeReady, model.VolumeRevertSnapshotRequested, model.VolumeRevertSnapshotting).
		AddTransition(model.VolumeRevertSnapshotting, model.VolumeOperationSucceeded, model.VolumeReady).
		AddTransition(model.VolumeRevertSnapshotting, model.VolumeOperationFailed, model.VolumeReady).
		AddListener(fsm.ListenerFunc[model.VolumeState, model.VolumeEvent, *model.Volume](
			func(t fsm.Transition[model.VolumeState, model.VolumeEvent], _ *model.Volume, _ any) error {
				m.IncTransition(MachineVolume, string(t.Event))
				return nil
			}))
	for _, x := range l.Volume {
		vb.AddListener(x)
	}
	vol, err := vb.Build()
	if err != nil {
		return nil, err
	}

	rb := fsm.NewBuilder[model.StoreRefState, model.StoreRefEvent, *model.StoreRef](
		MachineStoreRef, func(r *model.StoreRef) model.StoreRefState { return r.State }).
		AddTransition(model.RefAllocated, model.RefCreateOnlyRequested, model.RefCreating).
		AddTransition(model.RefAllocated, model.RefDestroyRequested, model.RefDestroying).
		AddTransition(model.RefCreating, model.RefOperationSucceeded, model.RefReady).
		AddTransition(model.RefCreating, model.RefOperationFailed, model.RefFailed).
		AddTransition(model.RefReady, model.RefCopyingRequested, model.RefCopying).
		AddTransition(model.RefCopying, model.RefOperationSucceeded, model.RefReady).
		AddTransition(model.RefCopying, model.RefOperationFailed, model.RefReady).
		AddTransition(model.RefReady, model.RefDestroyRequested, model.RefDestroying).
		AddTransition(model.RefFailed, model.RefDestroyRequested, model.RefDestroying).
		AddTransition(model.RefDestroying, model.RefOperationSucceeded, model.RefDestroyed).
		AddTransition(model.RefDestroying, model.RefOperationFailed, model.RefDestroying).
		AddListener(fsm.ListenerFunc[model.StoreRefState, model.StoreRefEvent, *model.StoreRef](
			func(t fsm.Transition[model.StoreRefState, model.StoreRefEvent], _ *model.StoreRef, _ any) error {
				m.IncTransition(MachineStoreRef, string(t.Event))
				return nil
			}))
	for _, x := range l.StoreRef {
		rb.AddListener(x)
	}
	ref, err := rb.Build()
	if err != nil {
		return nil, err
	}

	return &Machines{Snapshot: snap, Volume: vol, StoreRef: ref}, nil
}
