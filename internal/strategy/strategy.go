// Package strategy holds the backend specific snapshot algorithms built on
// the snapshot service, and the selector that picks one per operation.
package strategy

import (
	"context"
	"errors"
	"time"

	"github.com/jvs-project/volsnap/internal/catalog"
	"github.com/jvs-project/volsnap/internal/datastore"
	"github.com/jvs-project/volsnap/internal/snapshot"
	"github.com/jvs-project/volsnap/pkg/logging"
	"github.com/jvs-project/volsnap/pkg/model"
)

// Strategy implements the snapshot lifecycle for one kind of backend.
type Strategy interface {
	Name() string
	CanHandle(snap *snapshot.Object, op model.SnapshotOperation) model.StrategyPriority
	TakeSnapshot(ctx context.Context, snap *snapshot.Object) (*snapshot.Object, error)
	BackupSnapshot(ctx context.Context, snap *snapshot.Object) (*snapshot.Object, error)
	DeleteSnapshot(ctx context.Context, id uint64) (bool, error)
	RevertSnapshot(ctx context.Context, snap *snapshot.Object) (bool, error)
}

// Deps are the collaborators every strategy uses.
type Deps struct {
	Service *snapshot.Service
	// LockWait bounds how long a snapshot row lock is waited for.
	LockWait time.Duration
	// DeltaMax bounds incremental backup chains. Zero means
	// snapshot.DeltaMax.
	DeltaMax int
}

type base struct {
	svc      *snapshot.Service
	factory  *snapshot.Factory
	catalog  *catalog.Catalog
	stores   *datastore.Manager
	lockWait time.Duration
	logger   *logging.Logger
}

func newBase(d Deps, name string) base {
	f := d.Service.Factory()
	return base{
		svc:      d.Service,
		factory:  f,
		catalog:  f.Catalog(),
		stores:   f.Stores(),
		lockWait: d.LockWait,
		logger:   logging.WithFields(map[string]any{"component": "strategy", "strategy": name}),
	}
}

// withVolume brackets fn with the volume transitions start and
// OperationSucceeded or OperationFailed.
func (b *base) withVolume(snap *snapshot.Object, start model.VolumeEvent, fn func() error) error {
	if err := snap.ProcessVolumeEvent(start); err != nil {
		return err
	}
	err := fn()
	end := model.VolumeOperationSucceeded
	if err != nil {
		end = model.VolumeOperationFailed
	}
	if verr := snap.ProcessVolumeEvent(end); verr != nil {
		b.logger.WarnErr("volume transition failed", verr, map[string]any{"snapshot": snap.ID(), "event": end})
	}
	return err
}

// take is the volume bracketed service take shared by the strategies.
func (b *base) take(ctx context.Context, snap *snapshot.Object) (*snapshot.Object, error) {
	var res *snapshot.Result
	err := b.withVolume(snap, model.VolumeSnapshotRequested, func() error {
		var err error
		res, err = b.svc.TakeSnapshot(ctx, snap)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res.Snapshot, nil
}

// revert restores the volume of snap from primary storage inside a volume
// bracket.
func (b *base) revert(ctx context.Context, snap *snapshot.Object) (bool, error) {
	onPrimary, err := b.factory.GetSnapshotOnPrimary(snap.ID())
	if err != nil {
		return false, err
	}
	if onPrimary == nil {
		return false, invalidf("snapshot %d is not on primary storage", snap.ID())
	}
	ok := false
	err = b.withVolume(onPrimary, model.VolumeRevertSnapshotRequested, func() error {
		ok = b.svc.RevertSnapshot(ctx, snap.ID())
		if !ok {
			return errRevertFailed
		}
		return nil
	})
	if errors.Is(err, errRevertFailed) {
		return false, nil
	}
	return ok, err
}

// destroyRef marks the ref of obj destroyed without touching its data.
func (b *base) destroyRef(obj *snapshot.Object) error {
	if obj.StoreRef().State != model.RefDestroying {
		if err := obj.ProcessStoreEvent(model.RefDestroyRequested, nil); err != nil {
			return err
		}
	}
	return obj.ProcessStoreEvent(model.RefOperationSucceeded, nil)
}

// deleteOnPrimary removes the primary copy of snapshot id, if any.
func (b *base) deleteOnPrimary(ctx context.Context, id uint64) bool {
	obj, err := b.factory.GetSnapshotOnPrimary(id)
	if err != nil {
		b.logger.WarnErr("resolve primary copy", err, map[string]any{"snapshot": id})
		return false
	}
	if obj == nil {
		return true
	}
	return b.svc.DeleteSnapshot(ctx, obj)
}

// purge removes the row of snapshot id and all its refs.
func (b *base) purge(id uint64) error {
	refs, err := b.catalog.ListStoreRefs(id)
	if err != nil {
		return err
	}
	for _, r := range refs {
		if err := b.catalog.RemoveStoreRef(r.ID); err != nil {
			return err
		}
	}
	return b.catalog.RemoveSnapshot(id)
}

func (b *base) quietly(err error, what string, id uint64) {
	if err != nil {
		b.logger.WarnErr(what, err, map[string]any{"snapshot": id})
	}
}
