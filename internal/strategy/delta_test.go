package strategy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/volsnap/internal/datastore"
	"github.com/jvs-project/volsnap/internal/snapshot"
	"github.com/jvs-project/volsnap/internal/snapshot/snapshottest"
	"github.com/jvs-project/volsnap/internal/strategy"
	"github.com/jvs-project/volsnap/pkg/errclass"
	"github.com/jvs-project/volsnap/pkg/model"
)

func xenOptions(rec *recorder) snapshottest.Options {
	opts := snapshottest.Options{Hypervisor: model.HypervisorXenServer}
	if rec != nil {
		opts.Listeners = rec.listeners()
	}
	return opts
}

// reuseTakePath makes the next takes answer with the install path of obj,
// as a backend does when nothing changed since obj was taken.
func reuseTakePath(s *stack, obj *snapshot.Object) {
	path := obj.Path()
	s.Primary.TakeResult = func(datastore.SnapshotTO) datastore.CommandResult {
		return datastore.Succeeded(&datastore.Answer{InstallPath: path, Size: 1024})
	}
}

func TestDelta_EndToEndEmptyDelta(t *testing.T) {
	rec := newRecorder()
	s := newStack(t, xenOptions(rec), 0)

	s1 := s.take(0)
	assert.Equal(t, model.SnapshotCreatedOnPrimary, s.Snapshot(s1.ID()).State)

	b1 := s.backup(s1.ID())
	assert.Equal(t, model.SnapshotBackedUp, s.Snapshot(s1.ID()).State)
	assert.Equal(t, uint64(snapshottest.ImageStoreID), b1.Store().ID())
	assert.Equal(t, int32(1), s.Copies())
	backupID := s.Snapshot(s1.ID()).BackupID
	require.NotEmpty(t, backupID)

	reuseTakePath(s, s1)
	s2 := s.take(s1.ID())
	require.Equal(t, s1.Path(), s2.Path())

	b2 := s.backup(s2.ID())
	assert.Equal(t, int32(1), s.Copies())
	assert.Equal(t, model.SnapshotBackedUp, s.Snapshot(s2.ID()).State)
	assert.Equal(t, backupID, s.Snapshot(s2.ID()).BackupID)
	assert.Equal(t, uint64(snapshottest.ImageStoreID), b2.Store().ID())
	assert.Equal(t, b1.Path(), b2.Path())
	assert.Equal(t, s1.ID(), s.Ref(s2.ID(), snapshottest.ImageStoreID).ParentSnapshotID)

	last := rec.lastSnapshotTransition(s2.ID())
	assert.Equal(t, model.SnapshotCreatedOnPrimary, last.From)
	assert.Equal(t, model.SnapshotOperationNotPerformed, last.Event)
	assert.Equal(t, model.SnapshotBackedUp, last.To)
}

func TestDelta_EmptyDeltaNeedsBackedUpParent(t *testing.T) {
	s := newStack(t, xenOptions(nil), 0)
	s1 := s.take(0)
	reuseTakePath(s, s1)
	s2 := s.take(s1.ID())

	s.backup(s2.ID())
	assert.Equal(t, int32(1), s.Copies())
	assert.NotEqual(t, s.Snapshot(s1.ID()).BackupID, s.Snapshot(s2.ID()).BackupID)
}

func TestDelta_ChainLengthForcesFullBackup(t *testing.T) {
	s := newStack(t, xenOptions(nil), 2)
	fulls := s.recordCopies()

	s1 := s.take(0)
	s.backup(s1.ID())
	s2 := s.take(0)
	s.backup(s2.ID())
	s3 := s.take(0)
	s.backup(s3.ID())

	assert.Equal(t, []bool{true, false, true}, *fulls)
	assert.Equal(t, s1.ID(), s.Ref(s2.ID(), snapshottest.ImageStoreID).ParentSnapshotID)
	assert.Zero(t, s.Ref(s3.ID(), snapshottest.ImageStoreID).ParentSnapshotID)
}

func TestDelta_DefaultChainStaysIncremental(t *testing.T) {
	s := newStack(t, xenOptions(nil), 0)
	fulls := s.recordCopies()

	for i := 0; i < 4; i++ {
		obj := s.take(0)
		s.backup(obj.ID())
	}
	assert.Equal(t, []bool{true, false, false, false}, *fulls)
}

func TestDelta_PoolMigrationForcesFullBackup(t *testing.T) {
	s := newStack(t, xenOptions(nil), 0)
	fulls := s.recordCopies()
	s1 := s.take(0)
	s.backup(s1.ID())
	s2 := s.take(0)

	vol, err := s.Catalog.FindVolume(s.Volume.ID)
	require.NoError(t, err)
	vol.PoolID = 9
	require.NoError(t, s.Catalog.UpdateVolume(vol))

	_, err = strategy.NewDelta(s.Deps).BackupSnapshot(context.Background(), s.OnPrimary(s2.ID()))
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true}, *fulls)
}

func TestDelta_DeleteSnapshotSharingParentBackup(t *testing.T) {
	s := newStack(t, xenOptions(nil), 0)
	s1 := s.take(0)
	s.backup(s1.ID())
	reuseTakePath(s, s1)
	s2 := s.take(s1.ID())
	s.backup(s2.ID())

	ok, err := s.Manager.DeleteSnapshot(context.Background(), s2.ID())
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, int32(0), s.Deletes())
	assert.Equal(t, model.SnapshotDestroyed, s.Snapshot(s2.ID()).State)
	assert.Equal(t, model.RefDestroyed, s.Ref(s2.ID(), snapshottest.ImageStoreID).State)
	assert.Equal(t, model.RefDestroyed, s.Ref(s2.ID(), snapshottest.PrimaryStoreID).State)
	assert.Equal(t, model.RefReady, s.Ref(s1.ID(), snapshottest.ImageStoreID).State)
	assert.Equal(t, model.SnapshotBackedUp, s.Snapshot(s1.ID()).State)
}

func TestDelta_DeleteHandsBackupToChild(t *testing.T) {
	s := newStack(t, xenOptions(nil), 0)
	s1 := s.take(0)
	b1 := s.backup(s1.ID())
	reuseTakePath(s, s1)
	s2 := s.take(s1.ID())
	s.backup(s2.ID())

	ok, err := s.Manager.DeleteSnapshot(context.Background(), s1.ID())
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, int32(0), s.Deletes())
	assert.Equal(t, model.SnapshotDestroyed, s.Snapshot(s1.ID()).State)
	assert.Equal(t, model.RefDestroyed, s.Ref(s1.ID(), snapshottest.ImageStoreID).State)

	child := s.Snapshot(s2.ID())
	assert.False(t, child.HasParent())
	assert.Equal(t, model.SnapshotBackedUp, child.State)
	ref := s.Ref(s2.ID(), snapshottest.ImageStoreID)
	assert.Equal(t, model.RefReady, ref.State)
	assert.Zero(t, ref.ParentSnapshotID)
	assert.Equal(t, b1.Path(), ref.InstallPath)
}

func TestDelta_DeleteChainReleasesParentsNoLongerNeeded(t *testing.T) {
	s := newStack(t, xenOptions(nil), 0)
	ctx := context.Background()
	s1 := s.take(0)
	s.backup(s1.ID())
	s2 := s.take(0)
	s.backup(s2.ID())
	require.Equal(t, s1.ID(), s.Ref(s2.ID(), snapshottest.ImageStoreID).ParentSnapshotID)

	ok, err := s.Manager.DeleteSnapshot(ctx, s1.ID())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(0), s.Image.Deletes.Load())
	assert.Equal(t, int32(1), s.Primary.Deletes.Load())
	assert.Equal(t, model.RefReady, s.Ref(s1.ID(), snapshottest.ImageStoreID).State)

	ok, err = s.Manager.DeleteSnapshot(ctx, s2.ID())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(2), s.Image.Deletes.Load())
	assert.Equal(t, int32(2), s.Primary.Deletes.Load())
	assert.Equal(t, model.RefDestroyed, s.Ref(s1.ID(), snapshottest.ImageStoreID).State)
	assert.Equal(t, model.RefDestroyed, s.Ref(s2.ID(), snapshottest.ImageStoreID).State)

	ok, err = s.Manager.DeleteSnapshot(ctx, s2.ID())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(4), s.Deletes())
}

func TestDelta_DeleteWaitsForChainLock(t *testing.T) {
	s := newStack(t, xenOptions(nil), 0)
	ctx := context.Background()
	s1 := s.take(0)
	s.backup(s1.ID())

	require.NoError(t, s.Catalog.AcquireChainLock(ctx, s.Volume.ID, 0))
	ok, err := s.Manager.DeleteSnapshot(ctx, s1.ID())
	assert.False(t, ok)
	assert.ErrorIs(t, err, errclass.ErrLockConflict)
	assert.Equal(t, model.SnapshotBackedUp, s.Snapshot(s1.ID()).State)
	assert.Equal(t, int32(0), s.Deletes())

	require.NoError(t, s.Catalog.ReleaseChainLock(s.Volume.ID))
	ok, err = s.Manager.DeleteSnapshot(ctx, s1.ID())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDelta_DeleteEarlyStates(t *testing.T) {
	s := newStack(t, xenOptions(nil), 0)
	ctx := context.Background()

	allocated := s.NewSnapshot(0)
	ok, err := s.Manager.DeleteSnapshot(ctx, allocated.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, s.Snapshot(allocated.ID).IsRemoved())

	onPrimary := s.take(0)
	ok, err = s.Manager.DeleteSnapshot(ctx, onPrimary.ID())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.SnapshotDestroyed, s.Snapshot(onPrimary.ID()).State)
	assert.Equal(t, int32(1), s.Primary.Deletes.Load())
	assert.Equal(t, int32(0), s.Image.Deletes.Load())
}

func TestDelta_TakeFailureRollsBackVolume(t *testing.T) {
	rec := newRecorder()
	s := newStack(t, xenOptions(rec), 0)
	s.Primary.TakeResult = failWith("vdi snapshot failed")
	row := s.NewSnapshot(0)

	_, err := s.Manager.TakeSnapshot(context.Background(), row.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errclass.ErrBackendFailure)
	assert.Equal(t, model.SnapshotError, s.Snapshot(row.ID).State)
	assert.Equal(t, model.VolumeReady, s.VolumeState())
	assert.Equal(t, []model.VolumeEvent{model.VolumeSnapshotRequested, model.VolumeOperationFailed}, rec.volumeEvents())
}
