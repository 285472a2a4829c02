package strategy

import (
	"context"
	"fmt"

	"github.com/jvs-project/volsnap/internal/snapshot"
	"github.com/jvs-project/volsnap/pkg/model"
)

// Generic handles any snapshot with full backups only.
type Generic struct {
	base
}

// NewGeneric creates the fallback strategy.
func NewGeneric(d Deps) *Generic {
	return &Generic{base: newBase(d, "generic")}
}

// Name returns the strategy name used in logs and metrics.
func (s *Generic) Name() string { return "generic" }

// CanHandle claims every snapshot at the default priority.
func (s *Generic) CanHandle(*snapshot.Object, model.SnapshotOperation) model.StrategyPriority {
	return model.PriorityDefault
}

// TakeSnapshot takes the snapshot on primary storage.
func (s *Generic) TakeSnapshot(ctx context.Context, snap *snapshot.Object) (*snapshot.Object, error) {
	return s.take(ctx, snap)
}

// BackupSnapshot makes a full copy on the image store.
func (s *Generic) BackupSnapshot(ctx context.Context, snap *snapshot.Object) (*snapshot.Object, error) {
	snap.SetFullBackup(true)
	return s.svc.BackupSnapshot(ctx, snap)
}

// DeleteSnapshot deletes every copy of snapshot id.
func (s *Generic) DeleteSnapshot(ctx context.Context, id uint64) (bool, error) {
	row, err := s.catalog.FindSnapshotIncludingRemoved(id)
	if err != nil {
		return false, err
	}
	switch row.State {
	case model.SnapshotAllocated:
		return true, s.catalog.RemoveSnapshot(id)
	case model.SnapshotDestroyed:
		return true, nil
	case model.SnapshotError:
		return true, s.purge(id)
	case model.SnapshotCreatedOnPrimary:
		if !s.deleteOnPrimary(ctx, id) {
			return false, nil
		}
	case model.SnapshotBackedUp:
	default:
		return false, invalidf("cannot delete snapshot %d in state %s", id, row.State)
	}

	obj, err := s.factory.BindToPrimary(id)
	if err != nil {
		return false, err
	}
	if err := obj.ProcessEvent(model.SnapshotDestroyRequested); err != nil {
		return false, fmt.Errorf("delete snapshot %d: %w", id, err)
	}

	ok := true
	if image, err := s.factory.GetSnapshotByRole(id, model.RoleImage); err != nil {
		s.quietly(err, "resolve backup", id)
		ok = false
	} else if image != nil {
		ok = s.svc.DeleteSnapshot(ctx, image)
	}
	if ok {
		ok = s.deleteOnPrimary(ctx, id)
	}
	if !ok {
		s.quietly(obj.ProcessEvent(model.SnapshotOperationFailed), "restore snapshot state", id)
		return false, nil
	}
	if err := obj.ProcessEvent(model.SnapshotOperationSucceeded); err != nil {
		return false, fmt.Errorf("delete snapshot %d: %w", id, err)
	}
	return true, s.catalog.RemoveSnapshot(id)
}

// RevertSnapshot reverts the volume from the primary copy.
func (s *Generic) RevertSnapshot(ctx context.Context, snap *snapshot.Object) (bool, error) {
	return s.revert(ctx, snap)
}
