package snapshot

import (
	"errors"
	"fmt"

	"github.com/jvs-project/volsnap/internal/catalog"
	"github.com/jvs-project/volsnap/internal/datastore"
	"github.com/jvs-project/volsnap/pkg/errclass"
	"github.com/jvs-project/volsnap/pkg/model"
)

// Factory binds snapshot rows to data stores.
type Factory struct {
	catalog  *catalog.Catalog
	stores   *datastore.Manager
	machines *Machines
}

// NewFactory creates a factory.
func NewFactory(cat *catalog.Catalog, stores *datastore.Manager, machines *Machines) *Factory {
	return &Factory{catalog: cat, stores: stores, machines: machines}
}

// Catalog returns the persistence layer.
func (f *Factory) Catalog() *catalog.Catalog { return f.catalog }

// Stores returns the store registry.
func (f *Factory) Stores() *datastore.Manager { return f.stores }

// Machines returns the lifecycle machines.
func (f *Factory) Machines() *Machines { return f.machines }

// Bind binds snapshot id to a store whether or not it exists there yet.
func (f *Factory) Bind(id, storeID uint64) (*Object, error) {
	snap, err := f.catalog.FindSnapshotIncludingRemoved(id)
	if err != nil {
		return nil, err
	}
	store, err := f.stores.Store(storeID)
	if err != nil {
		return nil, err
	}
	ref, err := f.catalog.FindStoreRef(id, storeID)
	switch {
	case errors.Is(err, errclass.ErrNotFound):
		ref = nil
	case err != nil:
		return nil, err
	}
	return f.newObject(snap, store, ref)
}

// BindToPrimary binds snapshot id to the primary store of its volume.
func (f *Factory) BindToPrimary(id uint64) (*Object, error) {
	snap, err := f.catalog.FindSnapshotIncludingRemoved(id)
	if err != nil {
		return nil, err
	}
	vol, err := f.catalog.FindVolume(snap.VolumeID)
	if err != nil {
		return nil, fmt.Errorf("volume of snapshot %d: %w", id, err)
	}
	return f.Bind(id, vol.PoolID)
}

// GetSnapshot returns snapshot id bound to a store. It returns nil, nil
// when the snapshot has no ref on that store.
func (f *Factory) GetSnapshot(id, storeID uint64) (*Object, error) {
	snap, err := f.catalog.FindSnapshotIncludingRemoved(id)
	if err != nil {
		return nil, err
	}
	ref, err := f.catalog.FindStoreRef(id, storeID)
	if errors.Is(err, errclass.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	store, err := f.stores.Store(storeID)
	if err != nil {
		return nil, err
	}
	return f.newObject(snap, store, ref)
}

// GetSnapshotByRole returns snapshot id bound to the store holding its
// newest live ref of role, or nil, nil.
func (f *Factory) GetSnapshotByRole(id uint64, role model.DataStoreRole) (*Object, error) {
	snap, err := f.catalog.FindSnapshotIncludingRemoved(id)
	if err != nil {
		return nil, err
	}
	ref, err := f.catalog.FindStoreRefByRole(id, role)
	if errors.Is(err, errclass.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	store, err := f.stores.Store(ref.StoreID)
	if err != nil {
		return nil, err
	}
	return f.newObject(snap, store, ref)
}

// GetSnapshotOnPrimary is GetSnapshotByRole for the primary role.
func (f *Factory) GetSnapshotOnPrimary(id uint64) (*Object, error) {
	return f.GetSnapshotByRole(id, model.RolePrimary)
}

// ListSnapshotOnStores returns the snapshot bound to every store it has a
// live ref on. Refs on unregistered stores are skipped.
func (f *Factory) ListSnapshotOnStores(id uint64) ([]*Object, error) {
	snap, err := f.catalog.FindSnapshotIncludingRemoved(id)
	if err != nil {
		return nil, err
	}
	refs, err := f.catalog.ListStoreRefs(id)
	if err != nil {
		return nil, err
	}
	var out []*Object
	for _, ref := range refs {
		if !ref.IsLive() {
			continue
		}
		store, err := f.stores.Store(ref.StoreID)
		if err != nil {
			continue
		}
		obj, err := f.newObject(snap, store, ref)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// ForRef binds the snapshot of ref to ref's store. A ref whose snapshot
// row was purged binds to a Destroyed placeholder row.
func (f *Factory) ForRef(ref *model.StoreRef) (*Object, error) {
	snap, err := f.catalog.FindSnapshotIncludingRemoved(ref.SnapshotID)
	if errors.Is(err, errclass.ErrNotFound) {
		snap = &model.Snapshot{ID: ref.SnapshotID, VolumeID: ref.VolumeID, State: model.SnapshotDestroyed}
	} else if err != nil {
		return nil, err
	}
	store, err := f.stores.Store(ref.StoreID)
	if err != nil {
		return nil, err
	}
	return f.newObject(snap, store, ref)
}

func (f *Factory) newObject(snap *model.Snapshot, store datastore.DataStore, ref *model.StoreRef) (*Object, error) {
	vol, err := f.catalog.FindVolume(snap.VolumeID)
	if err != nil && !errors.Is(err, errclass.ErrNotFound) {
		return nil, fmt.Errorf("volume of snapshot %d: %w", snap.ID, err)
	}
	return &Object{snap: snap, volume: vol, store: store, ref: ref, factory: f}, nil
}

// ProcessVolumeEvent drives the volume machine for v outside of a snapshot
// operation.
func (f *Factory) ProcessVolumeEvent(v *model.Volume, event model.VolumeEvent) error {
	_, err := f.machines.Volume.Transit(v, event, nil, volumePersister{f.catalog})
	return err
}
