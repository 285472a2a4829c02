package strategy

import (
	"context"
	"fmt"

	"github.com/jvs-project/volsnap/internal/snapshot"
	"github.com/jvs-project/volsnap/pkg/model"
)

// Offload hands snapshots to primary storage that snapshots natively. The
// snapshot never leaves the array, so a taken snapshot counts as backed up.
type Offload struct {
	base
}

// NewOffload creates the array offload strategy.
func NewOffload(d Deps) *Offload {
	return &Offload{base: newBase(d, "offload")}
}

// Name returns the strategy name used in logs and metrics.
func (s *Offload) Name() string { return "offload" }

// CanHandle claims every operation on volumes whose primary store
// advertises native snapshots.
func (s *Offload) CanHandle(snap *snapshot.Object, op model.SnapshotOperation) model.StrategyPriority {
	vol := snap.BaseVolume()
	if vol == nil {
		return model.CantHandle
	}
	if s.stores.HasCapability(vol.PoolID, model.CapabilityStorageSystemSnapshot) {
		return model.PriorityHighest
	}
	return model.CantHandle
}

// TakeSnapshot snapshots on the array under the snapshot row lock and
// marks the result backed up.
func (s *Offload) TakeSnapshot(ctx context.Context, snap *snapshot.Object) (*snapshot.Object, error) {
	if err := s.catalog.AcquireInLockTable(ctx, snap.ID(), s.lockWait); err != nil {
		return nil, fmt.Errorf("take snapshot %d: %w", snap.ID(), err)
	}
	defer func() {
		s.quietly(s.catalog.ReleaseFromLockTable(snap.ID()), "release snapshot lock", snap.ID())
	}()

	taken, err := s.take(ctx, snap)
	if err != nil {
		return nil, err
	}
	if err := taken.ProcessEvent(model.SnapshotOperationNotPerformed); err != nil {
		return nil, fmt.Errorf("mark snapshot %d backed up: %w", snap.ID(), err)
	}
	return taken, nil
}

// BackupSnapshot returns snap unchanged; array snapshots are not copied.
func (s *Offload) BackupSnapshot(_ context.Context, snap *snapshot.Object) (*snapshot.Object, error) {
	return snap, nil
}

// DeleteSnapshot removes the array snapshot of a BackedUp snapshot.
// Destroyed and Error snapshots are handled without the backend.
func (s *Offload) DeleteSnapshot(ctx context.Context, id uint64) (bool, error) {
	row, err := s.catalog.FindSnapshotIncludingRemoved(id)
	if err != nil {
		return false, err
	}
	switch row.State {
	case model.SnapshotDestroyed:
		return true, nil
	case model.SnapshotError:
		return true, s.catalog.RemoveSnapshot(id)
	case model.SnapshotBackedUp:
	default:
		return false, invalidf("cannot delete snapshot %d in state %s", id, row.State)
	}

	obj, err := s.factory.GetSnapshotOnPrimary(id)
	if err != nil {
		return false, err
	}
	if obj == nil {
		return true, s.catalog.RemoveSnapshot(id)
	}
	if obj.StoreRef().State == model.RefCopying {
		return false, invalidf("snapshot %d is being copied", id)
	}

	if err := obj.ProcessEvent(model.SnapshotDestroyRequested); err != nil {
		return false, fmt.Errorf("delete snapshot %d: %w", id, err)
	}
	if !s.svc.DeleteSnapshot(ctx, obj) {
		s.quietly(obj.ProcessEvent(model.SnapshotOperationFailed), "restore snapshot state", id)
		return false, nil
	}
	if err := obj.ProcessEvent(model.SnapshotOperationSucceeded); err != nil {
		return false, fmt.Errorf("delete snapshot %d: %w", id, err)
	}
	return true, s.catalog.RemoveSnapshot(id)
}

// RevertSnapshot reverts the volume from the array snapshot.
func (s *Offload) RevertSnapshot(ctx context.Context, snap *snapshot.Object) (bool, error) {
	return s.revert(ctx, snap)
}
