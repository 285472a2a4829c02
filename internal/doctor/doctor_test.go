package doctor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/volsnap/internal/doctor"
	"github.com/jvs-project/volsnap/internal/snapshot"
	"github.com/jvs-project/volsnap/internal/snapshot/snapshottest"
	"github.com/jvs-project/volsnap/internal/strategy"
	"github.com/jvs-project/volsnap/pkg/model"
)

func findings(r *doctor.Result, category string) []doctor.Finding {
	var out []doctor.Finding
	for _, f := range r.Findings {
		if f.Category == category {
			out = append(out, f)
		}
	}
	return out
}

func TestDoctor_HealthyCatalog(t *testing.T) {
	env := snapshottest.New(t, snapshottest.Options{})
	env.NewSnapshot(0)

	result, err := doctor.NewDoctor(env.Factory).Check(true)
	require.NoError(t, err)
	assert.True(t, result.Healthy)
	assert.Empty(t, result.Findings)
}

func TestDoctor_StuckRowsAreRepaired(t *testing.T) {
	env := snapshottest.New(t, snapshottest.Options{})
	s := env.NewSnapshot(0)
	require.NoError(t, env.OnPrimary(s.ID).ProcessEvent(model.SnapshotCreateRequested))
	require.NoError(t, env.Factory.ProcessVolumeEvent(env.Volume, model.VolumeSnapshotRequested))
	require.NoError(t, env.Catalog.CreateStoreRef(&model.StoreRef{
		SnapshotID: s.ID, StoreID: snapshottest.PrimaryStoreID, Role: model.RolePrimary,
		VolumeID: env.Volume.ID, State: model.RefCreating,
	}))

	d := doctor.NewDoctor(env.Factory)
	result, err := d.Check(false)
	require.NoError(t, err)
	assert.False(t, result.Healthy)
	require.Len(t, findings(result, "volume"), 1)
	require.Len(t, findings(result, "snapshot"), 1)
	require.Len(t, findings(result, "store_ref"), 1)
	for _, f := range result.Findings {
		assert.True(t, f.Repairable, f.Description)
	}

	assert.Equal(t, 3, d.Repair(result))
	assert.Equal(t, model.VolumeReady, env.VolumeState())
	assert.Equal(t, model.SnapshotError, env.Snapshot(s.ID).State)
	assert.Equal(t, model.RefFailed, env.Ref(s.ID, snapshottest.PrimaryStoreID).State)

	again, err := d.Check(false)
	require.NoError(t, err)
	assert.True(t, again.Healthy)
	assert.Empty(t, again.Findings)
}

func TestDoctor_RefOnUnknownStore(t *testing.T) {
	env := snapshottest.New(t, snapshottest.Options{})
	s := env.NewSnapshot(0)
	require.NoError(t, env.Catalog.CreateStoreRef(&model.StoreRef{
		SnapshotID: s.ID, StoreID: 99, Role: model.RoleImage, State: model.RefReady, InstallPath: "x",
	}))

	d := doctor.NewDoctor(env.Factory)
	result, err := d.Check(false)
	require.NoError(t, err)
	assert.False(t, result.Healthy)
	refs := findings(result, "store_ref")
	require.Len(t, refs, 1)
	assert.Equal(t, doctor.SeverityCritical, refs[0].Severity)
	assert.False(t, refs[0].Repairable)
	assert.Equal(t, 0, d.Repair(result))
}

func TestDoctor_Leftovers(t *testing.T) {
	env := snapshottest.NewFS(t, snapshot.Listeners{})
	leftover := filepath.Join(env.Primary.Root(), "volumes", "vol-1.old")
	require.NoError(t, os.MkdirAll(leftover, 0755))

	d := doctor.NewDoctor(env.Factory)
	result, err := d.Check(false)
	require.NoError(t, err)
	assert.True(t, result.Healthy)
	tmp := findings(result, "tmp")
	require.Len(t, tmp, 1)
	assert.Equal(t, doctor.SeverityInfo, tmp[0].Severity)
	assert.Equal(t, leftover, tmp[0].Path)

	assert.Equal(t, 1, d.Repair(result))
	assert.NoDirExists(t, leftover)
	assert.True(t, result.Findings[0].Repaired)
}

func TestDoctor_StrictDetectsTamper(t *testing.T) {
	env := snapshottest.NewFS(t, snapshot.Listeners{})
	env.WriteFile("disk.img", "v1")
	s := env.NewSnapshot("first")
	mgr := strategy.NewManager(strategy.NewSelector(strategy.NewGeneric(strategy.Deps{Service: env.Service})), env.Factory)
	_, err := mgr.TakeSnapshot(context.Background(), s.ID)
	require.NoError(t, err)

	ref := env.Ref(s.ID, snapshottest.PrimaryStoreID)
	require.NoError(t, os.WriteFile(filepath.Join(env.Dir(ref), "disk.img"), []byte("evil"), 0644))

	d := doctor.NewDoctor(env.Factory)
	relaxed, err := d.Check(false)
	require.NoError(t, err)
	assert.True(t, relaxed.Healthy)

	strict, err := d.Check(true)
	require.NoError(t, err)
	assert.False(t, strict.Healthy)
	integrity := findings(strict, "integrity")
	require.Len(t, integrity, 1)
	assert.Equal(t, doctor.SeverityCritical, integrity[0].Severity)
	assert.Equal(t, s.ID, integrity[0].ObjectID)
}
