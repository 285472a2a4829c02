package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jvs-project/volsnap/internal/datastore"
	"github.com/jvs-project/volsnap/internal/snapshot"
	"github.com/jvs-project/volsnap/pkg/errclass"
	"github.com/jvs-project/volsnap/pkg/model"
)

// Delta backs up hypervisor snapshots as chains of incremental backups.
// A chain is cut with a full backup every deltaMax links, and whenever the
// volume moved to another primary pool.
type Delta struct {
	base
	deltaMax int
}

// NewDelta creates the hypervisor delta strategy.
func NewDelta(d Deps) *Delta {
	n := d.DeltaMax
	if n <= 0 {
		n = snapshot.DeltaMax
	}
	return &Delta{base: newBase(d, "delta"), deltaMax: n}
}

// Name returns the strategy name used in logs and metrics.
func (s *Delta) Name() string { return "delta" }

// CanHandle claims XenServer volumes.
func (s *Delta) CanHandle(snap *snapshot.Object, _ model.SnapshotOperation) model.StrategyPriority {
	hv := snap.Snapshot().HypervisorType
	if vol := snap.BaseVolume(); vol != nil && hv == "" {
		hv = vol.HypervisorType
	}
	if hv == model.HypervisorXenServer {
		return model.PriorityHypervisor
	}
	return model.CantHandle
}

// TakeSnapshot takes a hypervisor snapshot on primary storage.
func (s *Delta) TakeSnapshot(ctx context.Context, snap *snapshot.Object) (*snapshot.Object, error) {
	return s.take(ctx, snap)
}

// BackupSnapshot backs snap up from primary storage. When snap's data is
// its parent's data, the parent's backup is shared instead of copied.
func (s *Delta) BackupSnapshot(ctx context.Context, snap *snapshot.Object) (*snapshot.Object, error) {
	parent, err := snap.Parent()
	if err != nil {
		return nil, fmt.Errorf("backup snapshot %d: %w", snap.ID(), err)
	}
	if parent != nil && parent.Path() != "" && parent.Path() == snap.Path() {
		shared, err := s.shareParentBackup(snap, parent)
		if err != nil || shared != nil {
			return shared, err
		}
	}

	full, err := s.needsFullBackup(snap)
	if err != nil {
		return nil, fmt.Errorf("backup snapshot %d: %w", snap.ID(), err)
	}
	snap.SetFullBackup(full)
	return s.svc.BackupSnapshot(ctx, snap)
}

// shareParentBackup records the backup of parent as the backup of snap.
// It returns nil, nil when parent has no ready backup.
func (s *Delta) shareParentBackup(snap, parent *snapshot.Object) (*snapshot.Object, error) {
	parentRef, err := s.catalog.FindStoreRefByRole(parent.ID(), model.RoleImage)
	if errors.Is(err, errclass.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if parentRef.State != model.RefReady {
		return nil, nil
	}
	store, err := s.stores.Store(parentRef.StoreID)
	if err != nil {
		return nil, err
	}
	bound, err := s.factory.Bind(snap.ID(), store.ID())
	if err != nil {
		return nil, err
	}
	if _, err := store.Create(bound); err != nil {
		return nil, fmt.Errorf("create snapshot %d on image store: %w", snap.ID(), err)
	}
	dest, err := s.factory.GetSnapshot(snap.ID(), store.ID())
	if err != nil {
		return nil, err
	}
	if err := dest.ProcessStoreEvent(model.RefCreateOnlyRequested, nil); err != nil {
		return nil, fmt.Errorf("backup snapshot %d: %w", snap.ID(), err)
	}
	answer := &datastore.Answer{
		InstallPath: parentRef.InstallPath,
		BackupID:    parent.Snapshot().BackupID,
		Size:        parentRef.Size,
		Incremental: true,
	}
	if err := dest.ProcessStoreEvent(model.RefOperationSucceeded, answer); err != nil {
		s.quietly(dest.ProcessStoreEvent(model.RefOperationFailed, nil), "fail backup ref", snap.ID())
		return nil, fmt.Errorf("backup snapshot %d: %w", snap.ID(), err)
	}
	if err := snap.ProcessEvent(model.SnapshotOperationNotPerformed); err != nil {
		return nil, fmt.Errorf("backup snapshot %d: %w", snap.ID(), err)
	}
	s.logger.Debug("empty delta, sharing parent backup", map[string]any{
		"snapshot": snap.ID(), "parent": parent.ID(), "backup": answer.BackupID,
	})
	return s.factory.GetSnapshot(snap.ID(), store.ID())
}

// needsFullBackup decides between a full and an incremental backup of snap.
func (s *Delta) needsFullBackup(snap *snapshot.Object) (bool, error) {
	volID := snap.Snapshot().VolumeID
	if vol := snap.BaseVolume(); vol != nil {
		oldest, err := s.catalog.FindOldestRefForVolume(volID, model.RolePrimary)
		switch {
		case err == nil && oldest.StoreID != vol.PoolID:
			return true, nil
		case err != nil && !errors.Is(err, errclass.ErrNotFound):
			return false, err
		}
	}

	cur, err := s.catalog.FindLatestRefForVolume(volID, model.RoleImage, snap.ID())
	if errors.Is(err, errclass.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if ref := snap.StoreRef(); ref == nil || ref.ParentSnapshotID != cur.SnapshotID {
		return true, nil
	}

	i := 1
	for ; i < s.deltaMax; i++ {
		if cur.ParentSnapshotID == 0 {
			break
		}
		cur, err = s.catalog.FindStoreRefByRole(cur.ParentSnapshotID, model.RoleImage)
		if errors.Is(err, errclass.ErrNotFound) {
			break
		}
		if err != nil {
			return false, err
		}
	}
	return i >= s.deltaMax, nil
}

// DeleteSnapshot deletes snapshot id, keeping backups that later links
// of its chain still depend on.
func (s *Delta) DeleteSnapshot(ctx context.Context, id uint64) (bool, error) {
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
		return s.deletePrimaryOnly(ctx, id)
	case model.SnapshotBackedUp:
	default:
		return false, invalidf("cannot delete snapshot %d in state %s", id, row.State)
	}

	obj, err := s.factory.GetSnapshotByRole(id, model.RoleImage)
	if err != nil {
		return false, err
	}
	if obj == nil {
		if obj, err = s.factory.BindToPrimary(id); err != nil {
			return false, err
		}
	}
	if err := obj.ProcessEvent(model.SnapshotDestroyRequested); err != nil {
		return false, fmt.Errorf("delete snapshot %d: %w", id, err)
	}

	ok, err := s.deleteUnderChainLock(ctx, obj)
	if err != nil || !ok {
		s.quietly(obj.ProcessEvent(model.SnapshotOperationFailed), "restore snapshot state", id)
		return false, err
	}
	if !s.deleteOnPrimary(ctx, id) {
		s.logger.Warn("primary copy left behind", map[string]any{"snapshot": id})
	}
	if err := obj.ProcessEvent(model.SnapshotOperationSucceeded); err != nil {
		return false, fmt.Errorf("delete snapshot %d: %w", id, err)
	}
	return true, s.catalog.RemoveSnapshot(id)
}

// deletePrimaryOnly deletes a snapshot that was never backed up.
func (s *Delta) deletePrimaryOnly(ctx context.Context, id uint64) (bool, error) {
	if !s.deleteOnPrimary(ctx, id) {
		return false, nil
	}
	obj, err := s.factory.BindToPrimary(id)
	if err != nil {
		return false, err
	}
	if err := obj.ProcessEvent(model.SnapshotDestroyRequested); err != nil {
		return false, fmt.Errorf("delete snapshot %d: %w", id, err)
	}
	if err := obj.ProcessEvent(model.SnapshotOperationSucceeded); err != nil {
		return false, fmt.Errorf("delete snapshot %d: %w", id, err)
	}
	return true, s.catalog.RemoveSnapshot(id)
}

// deleteUnderChainLock runs the chain walk for image copies while holding
// the chain lock of the volume.
func (s *Delta) deleteUnderChainLock(ctx context.Context, obj *snapshot.Object) (bool, error) {
	if obj.Store().Role() != model.RoleImage {
		return true, nil
	}
	volID := obj.Snapshot().VolumeID
	if err := s.catalog.AcquireChainLock(ctx, volID, s.lockWait); err != nil {
		return false, fmt.Errorf("delete snapshot %d: %w", obj.ID(), err)
	}
	defer func() {
		s.quietly(s.catalog.ReleaseChainLock(volID), "release chain lock", obj.ID())
	}()
	return s.deleteChain(ctx, obj)
}

// deleteChain walks from cur towards the root of its backup chain, removing
// backups no live snapshot depends on. The result is that of cur itself.
func (s *Delta) deleteChain(ctx context.Context, cur *snapshot.Object) (bool, error) {
	var (
		result    bool
		resultSet bool
	)
	set := func(ok bool) {
		if !resultSet {
			result, resultSet = ok, true
		}
	}

	for cur != nil {
		switch cur.State() {
		case model.SnapshotDestroying, model.SnapshotDestroyed, model.SnapshotError:
		default:
			set(true)
			return result, nil
		}
		parentID := cur.StoreRef().ParentSnapshotID

		child, err := s.catalog.FindNextSnapshot(cur.ID())
		if err != nil {
			return result, err
		}
		if child != nil {
			shares, err := s.sharesBackup(cur, child)
			if err != nil {
				return result, err
			}
			if shares {
				if err := s.handOver(cur, child.ID, parentID); err != nil {
					return result, err
				}
			}
			set(true)
			return result, nil
		}

		var parent *snapshot.Object
		if parentID != 0 {
			if parent, err = s.factory.GetSnapshot(parentID, cur.Store().ID()); err != nil {
				return result, err
			}
		}
		if parent != nil && parent.StoreRef().IsLive() && parent.Path() == cur.Path() {
			if err := s.destroyRef(cur); err != nil {
				return result, err
			}
			set(true)
		} else {
			set(s.svc.DeleteSnapshot(ctx, cur))
		}
		cur = parent
	}
	set(true)
	return result, nil
}

func (s *Delta) sharesBackup(cur *snapshot.Object, child *model.Snapshot) (bool, error) {
	backupID := cur.Snapshot().BackupID
	if backupID == "" {
		return false, nil
	}
	sharing, err := s.catalog.ListByBackupUUID(cur.Snapshot().VolumeID, backupID)
	if err != nil {
		return false, err
	}
	for _, x := range sharing {
		if x.ID == child.ID {
			return true, nil
		}
	}
	return false, nil
}

// handOver re-points the child sharing cur's backup to cur's parent and
// retires cur's ref. The backup data stays with the child.
func (s *Delta) handOver(cur *snapshot.Object, childID, parentID uint64) error {
	child, err := s.catalog.FindSnapshotIncludingRemoved(childID)
	if err != nil {
		return err
	}
	if cur.Snapshot().HasParent() {
		p := *cur.Snapshot().ParentID
		child.ParentID = &p
	} else {
		child.ParentID = nil
	}
	if err := s.catalog.UpdateSnapshot(child); err != nil {
		return fmt.Errorf("re-point snapshot %d: %w", childID, err)
	}

	childRef, err := s.catalog.FindStoreRef(childID, cur.Store().ID())
	if err != nil {
		return err
	}
	childRef.ParentSnapshotID = parentID
	if err := s.catalog.UpdateStoreRef(childRef); err != nil {
		return fmt.Errorf("re-point ref of snapshot %d: %w", childID, err)
	}
	return s.destroyRef(cur)
}

// RevertSnapshot reverts the volume from the primary copy.
func (s *Delta) RevertSnapshot(ctx context.Context, snap *snapshot.Object) (bool, error) {
	return s.revert(ctx, snap)
}
