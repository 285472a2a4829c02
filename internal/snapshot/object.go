package snapshot

import (
	"errors"
	"fmt"

	"github.com/jvs-project/volsnap/internal/catalog"
	"github.com/jvs-project/volsnap/internal/datastore"
	"github.com/jvs-project/volsnap/pkg/errclass"
	"github.com/jvs-project/volsnap/pkg/model"
)

// Object is a snapshot bound to one data store. The store ref is nil until
// the snapshot has been created on that store.
type Object struct {
	snap       *model.Snapshot
	volume     *model.Volume
	store      datastore.DataStore
	ref        *model.StoreRef
	factory    *Factory
	fullBackup bool
}

var (
	_ datastore.DataObject = (*Object)(nil)
	_ datastore.ParentHint = (*Object)(nil)
)

func (o *Object) ID() uint64                 { return o.snap.ID }
func (o *Object) UUID() string               { return o.snap.UUID }
func (o *Object) Store() datastore.DataStore { return o.store }

// Snapshot returns the bound row. Transitions update it in place.
func (o *Object) Snapshot() *model.Snapshot { return o.snap }

// State returns the snapshot state.
func (o *Object) State() model.SnapshotState { return o.snap.State }

// StoreRef returns the ref on the bound store, or nil.
func (o *Object) StoreRef() *model.StoreRef { return o.ref }

// Path returns the install path on the bound store.
func (o *Object) Path() string {
	if o.ref == nil {
		return ""
	}
	return o.ref.InstallPath
}

// BaseVolume returns the volume the snapshot was taken from.
func (o *Object) BaseVolume() *model.Volume { return o.volume }

// ParentID returns the snapshot this one was taken after, or 0.
func (o *Object) ParentID() uint64 {
	if o.snap.HasParent() {
		return *o.snap.ParentID
	}
	return 0
}

// FullBackup reports whether the next backup must not be incremental.
func (o *Object) FullBackup() bool { return o.fullBackup }

// SetFullBackup marks the next backup as full or incremental.
func (o *Object) SetFullBackup(full bool) { o.fullBackup = full }

// TO returns the transfer object handed to drivers.
func (o *Object) TO() datastore.SnapshotTO {
	to := datastore.SnapshotTO{
		SnapshotID:   o.snap.ID,
		SnapshotUUID: o.snap.UUID,
		VolumeID:     o.snap.VolumeID,
		StoreID:      o.store.ID(),
		Path:         o.Path(),
		BackupID:     o.snap.BackupID,
		FullBackup:   o.fullBackup,
	}
	if o.volume != nil {
		to.VolumeUUID = o.volume.UUID
		to.VolumePath = o.volume.Path
	}
	if o.ref != nil && o.ref.ParentSnapshotID != 0 {
		parent, err := o.factory.catalog.FindStoreRef(o.ref.ParentSnapshotID, o.store.ID())
		if err == nil && parent.IsLive() {
			to.ParentPath = parent.InstallPath
		}
	}
	return to
}

// Parent resolves the parent snapshot on a store of the same role. It
// returns nil when there is no parent or the parent is not there.
func (o *Object) Parent() (*Object, error) {
	id := o.ParentID()
	if id == 0 {
		return nil, nil
	}
	return o.factory.GetSnapshotByRole(id, o.store.Role())
}

// Child resolves the newest live snapshot that chains to this one on the
// bound store, or nil.
func (o *Object) Child() (*Object, error) {
	ref, err := o.factory.catalog.FindChildRef(o.store.ID(), o.snap.ID)
	if errors.Is(err, errclass.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return o.factory.GetSnapshot(ref.SnapshotID, o.store.ID())
}

// ProcessEvent drives the snapshot machine.
func (o *Object) ProcessEvent(event model.SnapshotEvent) error {
	_, err := o.factory.machines.Snapshot.Transit(o.snap, event, nil, snapshotPersister{o.factory.catalog})
	return err
}

// ProcessStoreEvent drives the store ref machine. A non-nil answer sets the
// install path and sizes of the ref in the same write. On image stores a
// full (non incremental) answer also cuts the ref out of its delta chain,
// and the backup id it reports is recorded on the snapshot.
func (o *Object) ProcessStoreEvent(event model.StoreRefEvent, answer *datastore.Answer) error {
	if o.ref == nil {
		return errclass.ErrNotFound.WithMessagef("snapshot %d has no ref on store %d", o.snap.ID, o.store.ID())
	}
	var patch *catalog.RefPatch
	if answer != nil {
		patch = &catalog.RefPatch{
			InstallPath:  answer.InstallPath,
			Size:         answer.Size,
			PhysicalSize: answer.PhysicalSize,
			ClearParent:  o.store.Role() == model.RoleImage && !answer.Incremental,
		}
	}
	if _, err := o.factory.machines.StoreRef.Transit(o.ref, event, patch, refPersister{o.factory.catalog}); err != nil {
		return err
	}
	if answer == nil || event != model.RefOperationSucceeded {
		return nil
	}

	changed := false
	if answer.BackupID != "" && o.snap.BackupID != answer.BackupID {
		o.snap.BackupID = answer.BackupID
		changed = true
	}
	if answer.Size > 0 && o.snap.Size != answer.Size {
		o.snap.Size = answer.Size
		changed = true
	}
	if !changed {
		return nil
	}
	if err := o.factory.catalog.UpdateSnapshot(o.snap); err != nil {
		return fmt.Errorf("record answer on snapshot %d: %w", o.snap.ID, err)
	}
	return nil
}

// ProcessVolumeEvent drives the volume machine of the base volume.
func (o *Object) ProcessVolumeEvent(event model.VolumeEvent) error {
	if o.volume == nil {
		return errclass.ErrNotFound.WithMessagef("snapshot %d has no volume", o.snap.ID)
	}
	return o.factory.ProcessVolumeEvent(o.volume, event)
}

// Refresh reloads the snapshot row and store ref.
func (o *Object) Refresh() error {
	snap, err := o.factory.catalog.FindSnapshotIncludingRemoved(o.snap.ID)
	if err != nil {
		return err
	}
	o.snap = snap
	if o.ref != nil {
		ref, err := o.factory.catalog.FindStoreRefByID(o.ref.ID)
		if err != nil {
			return err
		}
		o.ref = ref
	}
	return nil
}

func (o *Object) String() string {
	return fmt.Sprintf("snapshot %d on store %d", o.snap.ID, o.store.ID())
}

type snapshotPersister struct{ c *catalog.Catalog }

func (p snapshotPersister) CurrentState(s *model.Snapshot) (model.SnapshotState, error) {
	return p.c.SnapshotState(s)
}

func (p snapshotPersister) UpdateState(current model.SnapshotState, event model.SnapshotEvent, next model.SnapshotState, s *model.Snapshot, data any) (bool, error) {
	return p.c.UpdateSnapshotState(current, event, next, s, data)
}

type volumePersister struct{ c *catalog.Catalog }

func (p volumePersister) CurrentState(v *model.Volume) (model.VolumeState, error) {
	return p.c.VolumeState(v)
}

func (p volumePersister) UpdateState(current model.VolumeState, event model.VolumeEvent, next model.VolumeState, v *model.Volume, data any) (bool, error) {
	return p.c.UpdateVolumeState(current, event, next, v, data)
}

type refPersister struct{ c *catalog.Catalog }

func (p refPersister) CurrentState(r *model.StoreRef) (model.StoreRefState, error) {
	return p.c.StoreRefState(r)
}

func (p refPersister) UpdateState(current model.StoreRefState, event model.StoreRefEvent, next model.StoreRefState, r *model.StoreRef, data any) (bool, error) {
	return p.c.UpdateStoreRefState(current, event, next, r, data)
}

func (o *Object) withRef(ref *model.StoreRef) *Object {
	c := *o
	c.ref = ref
	return &c
}

func (o *Object) bindTo(store datastore.DataStore) *Object {
	c := *o
	c.store = store
	c.ref = nil
	return &c
}
