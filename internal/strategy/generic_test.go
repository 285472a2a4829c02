package strategy_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/volsnap/internal/snapshot/snapshottest"
	"github.com/jvs-project/volsnap/pkg/errclass"
	"github.com/jvs-project/volsnap/pkg/model"
)

func TestGeneric_BackupIsAlwaysFull(t *testing.T) {
	s := newStack(t, snapshottest.Options{}, 0)
	fulls := s.recordCopies()

	s1 := s.take(0)
	s.backup(s1.ID())
	s2 := s.take(0)
	b2 := s.backup(s2.ID())

	assert.Equal(t, []bool{true, true}, *fulls)
	assert.Equal(t, uint64(snapshottest.ImageStoreID), b2.Store().ID())
	assert.Zero(t, s.Ref(s2.ID(), snapshottest.ImageStoreID).ParentSnapshotID)
	assert.Equal(t, model.SnapshotBackedUp, s.Snapshot(s2.ID()).State)
}

func TestGeneric_DeleteRemovesEveryCopy(t *testing.T) {
	s := newStack(t, snapshottest.Options{}, 0)
	obj := s.take(0)
	s.backup(obj.ID())

	ok, err := s.Manager.DeleteSnapshot(context.Background(), obj.ID())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(1), s.Image.Deletes.Load())
	assert.Equal(t, int32(1), s.Primary.Deletes.Load())
	assert.Equal(t, model.SnapshotDestroyed, s.Snapshot(obj.ID()).State)
	assert.True(t, s.Snapshot(obj.ID()).IsRemoved())
}

func TestGeneric_DeleteFailureKeepsSnapshot(t *testing.T) {
	s := newStack(t, snapshottest.Options{}, 0)
	obj := s.take(0)
	s.backup(obj.ID())
	s.Image.DeleteResult = failWith("nfs unreachable")

	ok, err := s.Manager.DeleteSnapshot(context.Background(), obj.ID())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, model.SnapshotBackedUp, s.Snapshot(obj.ID()).State)
	assert.False(t, s.Snapshot(obj.ID()).IsRemoved())
	assert.Equal(t, int32(0), s.Primary.Deletes.Load())
}

func TestGeneric_DeleteCreatedOnPrimary(t *testing.T) {
	s := newStack(t, snapshottest.Options{}, 0)
	obj := s.take(0)

	ok, err := s.Manager.DeleteSnapshot(context.Background(), obj.ID())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.SnapshotDestroyed, s.Snapshot(obj.ID()).State)
	assert.Equal(t, int32(1), s.Primary.Deletes.Load())
}

func TestGeneric_DeleteErroredSnapshotPurgesRefs(t *testing.T) {
	s := newStack(t, snapshottest.Options{}, 0)
	s.Primary.TakeResult = failWith("out of space")
	row := s.NewSnapshot(0)
	_, err := s.Manager.TakeSnapshot(context.Background(), row.ID)
	require.Error(t, err)

	ok, err := s.Manager.DeleteSnapshot(context.Background(), row.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	refs, err := s.Catalog.ListStoreRefs(row.ID)
	require.NoError(t, err)
	assert.Empty(t, refs)
	assert.True(t, s.Snapshot(row.ID).IsRemoved())
	assert.Equal(t, int32(0), s.Deletes())
}

func TestRevert_BracketsVolume(t *testing.T) {
	rec := newRecorder()
	s := newStack(t, snapshottest.Options{Listeners: rec.listeners()}, 0)
	obj := s.take(0)

	ok, err := s.Manager.RevertSnapshot(context.Background(), obj.ID())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(1), s.Primary.Reverts.Load())
	assert.Equal(t, model.VolumeReady, s.VolumeState())
	assert.Equal(t, []model.VolumeEvent{
		model.VolumeSnapshotRequested, model.VolumeOperationSucceeded,
		model.VolumeRevertSnapshotRequested, model.VolumeOperationSucceeded,
	}, rec.volumeEvents())
}

func TestRevert_BackendFailure(t *testing.T) {
	rec := newRecorder()
	s := newStack(t, snapshottest.Options{Listeners: rec.listeners()}, 0)
	obj := s.take(0)
	s.Primary.RevertResult = failWith("volume attached")

	ok, err := s.Manager.RevertSnapshot(context.Background(), obj.ID())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, model.VolumeReady, s.VolumeState())
	events := rec.volumeEvents()
	assert.Equal(t, model.VolumeOperationFailed, events[len(events)-1])
}

func TestRevert_RequiresPrimaryCopy(t *testing.T) {
	s := newStack(t, snapshottest.Options{Hypervisor: model.HypervisorXenServer}, 0)
	row := s.NewSnapshot(0)

	ok, err := s.Manager.RevertSnapshot(context.Background(), row.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, err, errclass.ErrInvalidParameter)
	assert.Equal(t, int32(0), s.Primary.Reverts.Load())
}

func TestGeneric_InterruptedTakeFailsSnapshot(t *testing.T) {
	s := newStack(t, snapshottest.Options{WaitTimeout: 20 * time.Millisecond}, 0)
	s.Primary.Hang = true
	row := s.NewSnapshot(0)

	_, err := s.Manager.TakeSnapshot(context.Background(), row.ID)
	assert.ErrorIs(t, err, errclass.ErrInterrupted)
	assert.Equal(t, model.SnapshotError, s.Snapshot(row.ID).State)
	assert.Equal(t, model.RefFailed, s.Ref(row.ID, snapshottest.PrimaryStoreID).State)
	assert.Equal(t, model.VolumeReady, s.VolumeState())
}

func TestGeneric_InterruptedBackupFailsSnapshot(t *testing.T) {
	s := newStack(t, snapshottest.Options{WaitTimeout: 20 * time.Millisecond}, 0)
	obj := s.take(0)
	s.Primary.Hang = true

	_, err := s.Manager.BackupSnapshot(context.Background(), obj.ID())
	assert.ErrorIs(t, err, errclass.ErrInterrupted)
	assert.Equal(t, model.SnapshotError, s.Snapshot(obj.ID()).State)
	assert.Equal(t, model.RefFailed, s.Ref(obj.ID(), snapshottest.ImageStoreID).State)
}
