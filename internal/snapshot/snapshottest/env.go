// Package snapshottest wires a catalog, scripted stores and the snapshot
// service together for tests.
package snapshottest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jvs-project/volsnap/internal/catalog"
	"github.com/jvs-project/volsnap/internal/datastore"
	"github.com/jvs-project/volsnap/internal/datastore/datastoretest"
	"github.com/jvs-project/volsnap/internal/snapshot"
	"github.com/jvs-project/volsnap/pkg/model"
)

// Store ids registered by New.
const (
	PrimaryStoreID = 1
	ImageStoreID   = 2 // zone default
	OtherImageID   = 3
	Zone           = 1
)

// Env is a ready to use snapshot stack.
type Env struct {
	T        *testing.T
	Catalog  *catalog.Catalog
	Stores   *datastore.Manager
	Machines *snapshot.Machines
	Factory  *snapshot.Factory
	Service  *snapshot.Service
	Primary  *datastoretest.Driver
	Image    *datastoretest.Driver
	Volume   *model.Volume
}

// Options tweak New.
type Options struct {
	PrimaryCaps map[string]string
	Hypervisor  model.HypervisorType
	WaitTimeout time.Duration
	Listeners   snapshot.Listeners
}

// New builds an Env with one primary store and two image stores in Zone,
// and one Ready volume on the primary store.
func New(t *testing.T, opts Options) *Env {
	t.Helper()
	cat, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	primary := datastoretest.New(opts.PrimaryCaps)
	image := datastoretest.New(nil)
	stores := datastore.NewManager(time.Minute)
	require.NoError(t, stores.Register(datastore.NewStore(datastore.Info{
		ID: PrimaryStoreID, UUID: "primary-1", Name: "primary", Role: model.RolePrimary, DataCenterID: Zone,
	}, primary, cat)))
	require.NoError(t, stores.Register(datastore.NewStore(datastore.Info{
		ID: ImageStoreID, UUID: "image-1", Name: "image", Role: model.RoleImage, DataCenterID: Zone,
	}, image, cat)))
	require.NoError(t, stores.Register(datastore.NewStore(datastore.Info{
		ID: OtherImageID, UUID: "image-2", Name: "image-other", Role: model.RoleImage, DataCenterID: Zone,
	}, image, cat)))

	machines, err := snapshot.NewMachines(opts.Listeners)
	require.NoError(t, err)
	factory := snapshot.NewFactory(cat, stores, machines)

	hv := opts.Hypervisor
	if hv == "" {
		hv = model.HypervisorKVM
	}
	vol := &model.Volume{
		UUID:           "vol-1",
		Name:           "data",
		DataCenterID:   Zone,
		PoolID:         PrimaryStoreID,
		Path:           "volumes/vol-1",
		HypervisorType: hv,
		State:          model.VolumeReady,
	}
	require.NoError(t, cat.CreateVolume(vol))

	return &Env{
		T:        t,
		Catalog:  cat,
		Stores:   stores,
		Machines: machines,
		Factory:  factory,
		Service:  snapshot.NewService(factory, datastore.NewDataMotion(), opts.WaitTimeout),
		Primary:  primary,
		Image:    image,
		Volume:   vol,
	}
}

// NewSnapshot persists an Allocated snapshot of the env volume. A non-zero
// parent is recorded as its parent.
func (e *Env) NewSnapshot(parent uint64) *model.Snapshot {
	e.T.Helper()
	s := &model.Snapshot{
		Name:           "snap",
		VolumeID:       e.Volume.ID,
		DataCenterID:   Zone,
		HypervisorType: e.Volume.HypervisorType,
	}
	if parent != 0 {
		s.ParentID = &parent
	}
	require.NoError(e.T, e.Catalog.CreateSnapshot(s))
	return s
}

// OnPrimary binds snapshot id to the primary store.
func (e *Env) OnPrimary(id uint64) *snapshot.Object {
	e.T.Helper()
	obj, err := e.Factory.Bind(id, PrimaryStoreID)
	require.NoError(e.T, err)
	return obj
}

// Snapshot reloads snapshot id.
func (e *Env) Snapshot(id uint64) *model.Snapshot {
	e.T.Helper()
	s, err := e.Catalog.FindSnapshotIncludingRemoved(id)
	require.NoError(e.T, err)
	return s
}

// Ref reloads the ref of snapshot id on a store.
func (e *Env) Ref(id, storeID uint64) *model.StoreRef {
	e.T.Helper()
	r, err := e.Catalog.FindStoreRef(id, storeID)
	require.NoError(e.T, err)
	return r
}

// VolumeState reloads the env volume state.
func (e *Env) VolumeState() model.VolumeState {
	e.T.Helper()
	v, err := e.Catalog.FindVolume(e.Volume.ID)
	require.NoError(e.T, err)
	return v.State
}

// Copies returns the copies performed by any driver.
func (e *Env) Copies() int32 {
	return e.Primary.Copies.Load() + e.Image.Copies.Load()
}

// Deletes returns the deletes performed by any driver.
func (e *Env) Deletes() int32 {
	return e.Primary.Deletes.Load() + e.Image.Deletes.Load()
}
