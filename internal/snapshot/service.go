package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jvs-project/volsnap/internal/async"
	"github.com/jvs-project/volsnap/internal/datastore"
	"github.com/jvs-project/volsnap/pkg/errclass"
	"github.com/jvs-project/volsnap/pkg/logging"
	"github.com/jvs-project/volsnap/pkg/metrics"
	"github.com/jvs-project/volsnap/pkg/model"
)

// Result is the outcome of a successful backend call.
type Result struct {
	Snapshot *Object
	Answer   *datastore.Answer
}

type outcome struct {
	result *Result
	err    error
}

// opContext carries one in-flight operation across the async boundary.
type opContext struct {
	src    *Object
	dst    *Object
	future *async.Future[outcome]
	// abandon fails the rows of an operation whose result was not awaited.
	// A callback arriving afterwards finds no transition and only logs.
	abandon func()
}

// Service implements the backend agnostic snapshot primitives. Every call
// blocks on the backend result; WaitTimeout, when set, bounds that wait.
type Service struct {
	factory     *Factory
	motion      *datastore.DataMotion
	metrics     *metrics.Collector
	waitTimeout time.Duration
	logger      *logging.Logger
}

// NewService creates a service. A zero waitTimeout waits indefinitely.
func NewService(factory *Factory, motion *datastore.DataMotion, waitTimeout time.Duration) *Service {
	return &Service{
		factory:     factory,
		motion:      motion,
		metrics:     metrics.Default(),
		waitTimeout: waitTimeout,
		logger:      logging.WithFields(map[string]any{"component": "snapshot-service"}),
	}
}

// Factory returns the factory the service binds snapshots with.
func (s *Service) Factory() *Factory { return s.factory }

// TakeSnapshot creates snap on its primary store through the primary
// driver. On backend failure the snapshot and its new ref are failed and an
// error is returned.
func (s *Service) TakeSnapshot(ctx context.Context, snap *Object) (res *Result, err error) {
	defer s.observe(model.OpTake, time.Now(), &err)

	driver, ok := snap.Store().Driver().(datastore.PrimaryDriver)
	if !ok {
		return nil, errclass.ErrInvalidParameter.WithMessagef("store %d cannot take snapshots", snap.Store().ID())
	}
	if err := snap.ProcessEvent(model.SnapshotCreateRequested); err != nil {
		return nil, fmt.Errorf("take snapshot %d: %w", snap.ID(), err)
	}
	ref, err := snap.Store().Create(snap)
	if err != nil {
		s.quietly(snap.ProcessEvent(model.SnapshotOperationFailed), "fail snapshot", snap)
		return nil, fmt.Errorf("create snapshot %d on primary: %w", snap.ID(), err)
	}
	onPrimary := snap.withRef(ref)
	if err := onPrimary.ProcessStoreEvent(model.RefCreateOnlyRequested, nil); err != nil {
		s.quietly(onPrimary.ProcessEvent(model.SnapshotOperationFailed), "fail snapshot", snap)
		s.retire(onPrimary)
		return nil, fmt.Errorf("take snapshot %d: %w", snap.ID(), err)
	}

	waitCtx, cancel := async.WithWaitTimeout(ctx, s.waitTimeout)
	defer cancel()
	oc := &opContext{src: onPrimary, future: async.NewFuture[outcome]()}
	oc.abandon = func() {
		s.quietly(onPrimary.ProcessStoreEvent(model.RefOperationFailed, nil), "fail snapshot ref", onPrimary)
		s.quietly(onPrimary.ProcessEvent(model.SnapshotOperationFailed), "fail snapshot", onPrimary)
	}
	d := async.NewDispatcher("take", oc, s.takeCallback)
	invoke(d, func() { driver.TakeSnapshot(waitCtx, onPrimary.TO(), d) })
	return s.join(waitCtx, oc, "take snapshot", snap)
}

// retire moves a ref that never left Allocated to Destroying, where gc
// collects it.
func (s *Service) retire(obj *Object) {
	if ref := obj.StoreRef(); ref != nil && ref.State == model.RefAllocated {
		s.quietly(obj.ProcessStoreEvent(model.RefDestroyRequested, nil), "retire ref", obj)
	}
}

func (s *Service) takeCallback(oc *opContext, r datastore.CommandResult) {
	snap := oc.src
	if !r.Success {
		s.logger.Warn("take snapshot failed", map[string]any{"snapshot": snap.ID(), "detail": r.Result})
		s.quietly(snap.ProcessEvent(model.SnapshotOperationFailed), "fail snapshot", snap)
		s.quietly(snap.ProcessStoreEvent(model.RefOperationFailed, nil), "fail snapshot ref", snap)
		oc.future.Complete(outcome{err: errclass.ErrBackendFailure.WithMessagef("take snapshot %d: %s", snap.ID(), r.Result)})
		return
	}

	err := snap.ProcessStoreEvent(model.RefOperationSucceeded, r.Answer)
	if err == nil {
		err = s.recordParent(snap)
	}
	if err == nil {
		err = snap.ProcessEvent(model.SnapshotOperationSucceeded)
	}
	if err != nil {
		s.quietly(snap.ProcessEvent(model.SnapshotOperationFailed), "fail snapshot", snap)
		oc.future.Complete(outcome{err: fmt.Errorf("take snapshot %d: %w", snap.ID(), err)})
		return
	}
	s.complete(oc, snap.ID(), snap.Store().ID(), r.Answer)
}

// recordParent stores the primary parent a snapshot chained to on the row
// when the caller did not name one.
func (s *Service) recordParent(snap *Object) error {
	ref := snap.StoreRef()
	if snap.Snapshot().HasParent() || ref == nil || ref.ParentSnapshotID == 0 {
		return nil
	}
	parent := ref.ParentSnapshotID
	snap.Snapshot().ParentID = &parent
	return s.factory.catalog.UpdateSnapshot(snap.Snapshot())
}

// BackupSnapshot copies snap from primary storage to an image store and
// returns the snapshot bound to that store. A snapshot whose parent is
// backed up lands on the parent's image store; otherwise the zone default
// is used.
func (s *Service) BackupSnapshot(ctx context.Context, snap *Object) (res *Object, err error) {
	defer s.observe(model.OpBackup, time.Now(), &err)

	if snap.StoreRef() == nil || snap.Store().Role() != model.RolePrimary {
		return nil, errclass.ErrInvalidParameter.WithMessagef("snapshot %d is not bound to primary storage", snap.ID())
	}
	imageStore, err := s.FindImageStore(snap)
	if err != nil {
		return nil, err
	}

	if err := snap.ProcessEvent(model.SnapshotBackupToSecondary); err != nil {
		return nil, fmt.Errorf("backup snapshot %d: %w", snap.ID(), err)
	}
	dest := snap.bindTo(imageStore)
	ref, err := imageStore.Create(dest)
	if err != nil {
		s.quietly(snap.ProcessEvent(model.SnapshotOperationFailed), "fail snapshot", snap)
		return nil, fmt.Errorf("create snapshot %d on image store: %w", snap.ID(), err)
	}
	dest = dest.withRef(ref)
	if err := dest.ProcessStoreEvent(model.RefCreateOnlyRequested, nil); err != nil {
		s.quietly(snap.ProcessEvent(model.SnapshotOperationFailed), "fail snapshot", snap)
		s.retire(dest)
		return nil, fmt.Errorf("backup snapshot %d: %w", snap.ID(), err)
	}
	if err := snap.ProcessStoreEvent(model.RefCopyingRequested, nil); err != nil {
		s.quietly(snap.ProcessEvent(model.SnapshotOperationFailed), "fail snapshot", snap)
		s.quietly(dest.ProcessStoreEvent(model.RefOperationFailed, nil), "fail backup ref", dest)
		return nil, fmt.Errorf("backup snapshot %d: %w", snap.ID(), err)
	}

	waitCtx, cancel := async.WithWaitTimeout(ctx, s.waitTimeout)
	defer cancel()
	oc := &opContext{src: snap, dst: dest, future: async.NewFuture[outcome]()}
	oc.abandon = func() {
		s.quietly(snap.ProcessStoreEvent(model.RefOperationFailed, nil), "release source ref", snap)
		s.quietly(snap.ProcessEvent(model.SnapshotOperationFailed), "fail snapshot", snap)
		s.quietly(dest.ProcessStoreEvent(model.RefOperationFailed, nil), "fail backup ref", dest)
	}
	d := async.NewDispatcher("backup", oc, s.copyCallback)
	invoke(d, func() { s.motion.CopyAsync(waitCtx, snap, dest, d) })
	out, err := s.join(waitCtx, oc, "backup snapshot", snap)
	if err != nil {
		return nil, err
	}
	return out.Snapshot, nil
}

func (s *Service) copyCallback(oc *opContext, r datastore.CommandResult) {
	src, dst := oc.src, oc.dst
	fail := func(err error) {
		s.quietly(src.ProcessStoreEvent(model.RefOperationFailed, nil), "release source ref", src)
		s.quietly(src.ProcessEvent(model.SnapshotOperationFailed), "fail snapshot", src)
		s.quietly(dst.ProcessStoreEvent(model.RefOperationFailed, nil), "fail backup ref", dst)
		oc.future.Complete(outcome{err: err})
	}
	if !r.Success {
		s.logger.Warn("backup failed", map[string]any{"snapshot": src.ID(), "detail": r.Result})
		fail(errclass.ErrBackendFailure.WithMessagef("backup snapshot %d: %s", src.ID(), r.Result))
		return
	}

	if err := dst.ProcessStoreEvent(model.RefOperationSucceeded, r.Answer); err != nil {
		fail(fmt.Errorf("backup snapshot %d: %w", src.ID(), err))
		return
	}
	s.quietly(src.ProcessStoreEvent(model.RefOperationSucceeded, nil), "release source ref", src)
	if err := src.ProcessEvent(model.SnapshotOperationSucceeded); err != nil {
		s.quietly(src.ProcessEvent(model.SnapshotOperationFailed), "fail snapshot", src)
		oc.future.Complete(outcome{err: fmt.Errorf("backup snapshot %d: %w", src.ID(), err)})
		return
	}
	s.complete(oc, dst.ID(), dst.Store().ID(), r.Answer)
}

// FindImageStore picks where snap is backed up: the image store holding
// its parent's backup, else the default image store of its zone.
func (s *Service) FindImageStore(snap *Object) (datastore.DataStore, error) {
	if parentID := snap.ParentID(); parentID != 0 {
		ref, err := s.factory.catalog.FindStoreRefByRole(parentID, model.RoleImage)
		switch {
		case err == nil && ref.State == model.RefReady:
			if store, err := s.factory.stores.Store(ref.StoreID); err == nil {
				return store, nil
			}
		case err != nil && !errors.Is(err, errclass.ErrNotFound):
			return nil, err
		}
	}
	return s.factory.stores.DefaultImageStore(zoneOf(snap))
}

func zoneOf(snap *Object) uint64 {
	if zone := snap.Snapshot().DataCenterID; zone != 0 {
		return zone
	}
	if vol := snap.BaseVolume(); vol != nil {
		return vol.DataCenterID
	}
	return snap.Store().DataCenterID()
}

// DeleteSnapshot destroys the ref snap is bound to and removes its data.
// Failures are logged and reported as false.
func (s *Service) DeleteSnapshot(ctx context.Context, snap *Object) (ok bool) {
	var err error
	defer s.observe(model.OpDelete, time.Now(), &err)
	defer func() {
		if err != nil {
			s.logger.WarnErr("delete snapshot failed", err, map[string]any{"snapshot": snap.ID(), "store": snap.Store().ID()})
		}
	}()

	ref := snap.StoreRef()
	if ref == nil {
		err = errclass.ErrNotFound.WithMessagef("snapshot %d has no ref on store %d", snap.ID(), snap.Store().ID())
		return false
	}
	if ref.State != model.RefDestroying {
		if err = snap.ProcessStoreEvent(model.RefDestroyRequested, nil); err != nil {
			return false
		}
	}

	shared, err := s.pathShared(snap)
	if err != nil {
		return false
	}
	if shared {
		s.logger.Debug("install path still referenced, keeping data", map[string]any{"snapshot": snap.ID(), "path": snap.Path()})
		err = snap.ProcessStoreEvent(model.RefOperationSucceeded, nil)
		return err == nil
	}

	waitCtx, cancel := async.WithWaitTimeout(ctx, s.waitTimeout)
	defer cancel()
	oc := &opContext{src: snap, future: async.NewFuture[outcome]()}
	d := async.NewDispatcher("delete", oc, s.deleteCallback)
	driver := snap.Store().Driver()
	invoke(d, func() { driver.DeleteAsync(waitCtx, snap.Store(), snap, d) })
	_, err = s.join(waitCtx, oc, "delete snapshot", snap)
	return err == nil
}

func (s *Service) pathShared(snap *Object) (bool, error) {
	if snap.Path() == "" {
		return false, nil
	}
	refs, err := s.factory.catalog.ListStoreRefsByPath(snap.Store().ID(), snap.Path())
	if err != nil {
		return false, err
	}
	for _, r := range refs {
		if r.ID != snap.StoreRef().ID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) deleteCallback(oc *opContext, r datastore.CommandResult) {
	snap := oc.src
	if !r.Success {
		s.quietly(snap.ProcessStoreEvent(model.RefOperationFailed, nil), "fail ref", snap)
		oc.future.Complete(outcome{err: errclass.ErrBackendFailure.WithMessagef("delete snapshot %d: %s", snap.ID(), r.Result)})
		return
	}
	if err := snap.ProcessStoreEvent(model.RefOperationSucceeded, nil); err != nil {
		oc.future.Complete(outcome{err: err})
		return
	}
	oc.future.Complete(outcome{result: &Result{Snapshot: snap, Answer: r.Answer}})
}

// RevertSnapshot restores the volume of snapshot id from its primary copy.
// Failures are logged and reported as false.
func (s *Service) RevertSnapshot(ctx context.Context, id uint64) (ok bool) {
	var err error
	defer s.observe(model.OpRevert, time.Now(), &err)
	defer func() {
		if err != nil {
			s.logger.WarnErr("revert snapshot failed", err, map[string]any{"snapshot": id})
		}
	}()

	snap, err := s.factory.GetSnapshotOnPrimary(id)
	if err != nil {
		return false
	}
	if snap == nil {
		err = errclass.ErrNotFound.WithMessagef("snapshot %d is not on primary storage", id)
		return false
	}
	driver, isPrimary := snap.Store().Driver().(datastore.PrimaryDriver)
	if !isPrimary {
		err = errclass.ErrInvalidParameter.WithMessagef("store %d cannot revert snapshots", snap.Store().ID())
		return false
	}

	waitCtx, cancel := async.WithWaitTimeout(ctx, s.waitTimeout)
	defer cancel()
	oc := &opContext{src: snap, future: async.NewFuture[outcome]()}
	d := async.NewDispatcher("revert", oc, func(oc *opContext, r datastore.CommandResult) {
		if !r.Success {
			oc.future.Complete(outcome{err: errclass.ErrBackendFailure.WithMessagef("revert snapshot %d: %s", id, r.Result)})
			return
		}
		oc.future.Complete(outcome{result: &Result{Snapshot: oc.src, Answer: r.Answer}})
	})
	invoke(d, func() { driver.RevertSnapshot(waitCtx, snap.TO(), d) })
	_, err = s.join(waitCtx, oc, "revert snapshot", snap)
	return err == nil
}

func (s *Service) complete(oc *opContext, id, storeID uint64, answer *datastore.Answer) {
	fresh, err := s.factory.GetSnapshot(id, storeID)
	if err != nil || fresh == nil {
		s.logger.Warn("re-resolving snapshot failed", map[string]any{"snapshot": id, "store": storeID})
		fresh = oc.src
		if oc.dst != nil {
			fresh = oc.dst
		}
	}
	oc.future.Complete(outcome{result: &Result{Snapshot: fresh, Answer: answer}})
}

func (s *Service) join(ctx context.Context, oc *opContext, op string, snap *Object) (*Result, error) {
	out, err := oc.future.Get(ctx)
	if err != nil {
		if oc.abandon != nil {
			oc.abandon()
		}
		return nil, fmt.Errorf("%s %d: %w", op, snap.ID(), err)
	}
	if out.err != nil {
		return nil, out.err
	}
	return out.result, nil
}

func (s *Service) quietly(err error, what string, snap *Object) {
	if err != nil {
		s.logger.WarnErr(what, err, map[string]any{"snapshot": snap.ID(), "store": snap.Store().ID()})
	}
}

func (s *Service) observe(op model.SnapshotOperation, start time.Time, err *error) {
	s.metrics.ObserveOperation(string(op), "service", *err == nil, time.Since(start))
}

// invoke runs call, failing c if it panics on the calling goroutine.
func invoke(c datastore.Completion, call func()) {
	defer func() {
		if r := recover(); r != nil {
			c.Complete(datastore.Failed(fmt.Errorf("backend panic: %v", r)))
		}
	}()
	call()
}
