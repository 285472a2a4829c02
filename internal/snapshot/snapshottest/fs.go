package snapshottest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jvs-project/volsnap/internal/async"
	"github.com/jvs-project/volsnap/internal/catalog"
	"github.com/jvs-project/volsnap/internal/datastore"
	"github.com/jvs-project/volsnap/internal/datastore/fsdriver"
	"github.com/jvs-project/volsnap/internal/engine"
	"github.com/jvs-project/volsnap/internal/snapshot"
	"github.com/jvs-project/volsnap/pkg/model"
)

// FSEnv is a snapshot stack on one primary and one image filesystem store
// using the copy engine.
type FSEnv struct {
	T        *testing.T
	Catalog  *catalog.Catalog
	Stores   *datastore.Manager
	Machines *snapshot.Machines
	Factory  *snapshot.Factory
	Service  *snapshot.Service
	Primary  *fsdriver.Driver
	Image    *fsdriver.Driver
	Volume   *model.Volume
}

// NewFS builds an FSEnv with an empty KVM volume on the primary store.
func NewFS(t *testing.T, l snapshot.Listeners) *FSEnv {
	t.Helper()
	cat, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	exec := async.NewExecutor(2)
	t.Cleanup(func() { exec.Stop() })

	primary, err := fsdriver.New(t.TempDir(), model.RolePrimary, engine.NewCopyEngine(), exec)
	require.NoError(t, err)
	image, err := fsdriver.New(t.TempDir(), model.RoleImage, engine.NewCopyEngine(), exec)
	require.NoError(t, err)

	stores := datastore.NewManager(time.Minute)
	require.NoError(t, stores.Register(datastore.NewStore(datastore.Info{
		ID: PrimaryStoreID, UUID: "primary-1", Name: "primary", Role: model.RolePrimary, DataCenterID: Zone,
	}, primary, cat)))
	require.NoError(t, stores.Register(datastore.NewStore(datastore.Info{
		ID: ImageStoreID, UUID: "image-1", Name: "image", Role: model.RoleImage, DataCenterID: Zone,
	}, image, cat)))

	machines, err := snapshot.NewMachines(l)
	require.NoError(t, err)
	factory := snapshot.NewFactory(cat, stores, machines)

	path, err := primary.CreateVolume("vol-1")
	require.NoError(t, err)
	vol := &model.Volume{
		UUID:           "vol-1",
		Name:           "data",
		DataCenterID:   Zone,
		PoolID:         PrimaryStoreID,
		Path:           path,
		HypervisorType: model.HypervisorKVM,
		State:          model.VolumeReady,
	}
	require.NoError(t, cat.CreateVolume(vol))

	return &FSEnv{
		T:        t,
		Catalog:  cat,
		Stores:   stores,
		Machines: machines,
		Factory:  factory,
		Service:  snapshot.NewService(factory, datastore.NewDataMotion(), 10*time.Second),
		Primary:  primary,
		Image:    image,
		Volume:   vol,
	}
}

// WriteFile writes a file into the env volume.
func (e *FSEnv) WriteFile(name, content string) {
	e.T.Helper()
	path := filepath.Join(e.Primary.Root(), e.Volume.Path, name)
	require.NoError(e.T, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(e.T, os.WriteFile(path, []byte(content), 0644))
}

// NewSnapshot persists an Allocated snapshot of the env volume.
func (e *FSEnv) NewSnapshot(name string) *model.Snapshot {
	e.T.Helper()
	s := &model.Snapshot{
		Name:           name,
		VolumeID:       e.Volume.ID,
		DataCenterID:   Zone,
		HypervisorType: e.Volume.HypervisorType,
	}
	require.NoError(e.T, e.Catalog.CreateSnapshot(s))
	return s
}

// Dir returns the absolute directory of ref.
func (e *FSEnv) Dir(ref *model.StoreRef) string {
	root := e.Primary.Root()
	if ref.Role == model.RoleImage {
		root = e.Image.Root()
	}
	return filepath.Join(root, filepath.FromSlash(ref.InstallPath))
}

// Ref reloads the ref of snapshot id on a store.
func (e *FSEnv) Ref(id, storeID uint64) *model.StoreRef {
	e.T.Helper()
	r, err := e.Catalog.FindStoreRef(id, storeID)
	require.NoError(e.T, err)
	return r
}
