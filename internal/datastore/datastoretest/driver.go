// Package datastoretest provides a scriptable in-memory driver for tests of
// code built on the datastore package.
package datastoretest

import (
	"context"
	"fmt"
	"path"
	"sync"
	"sync/atomic"

	"github.com/jvs-project/volsnap/internal/datastore"
	"github.com/jvs-project/volsnap/pkg/model"
)

// Driver is a datastore.PrimaryDriver whose results are scripted. Unless a
// hook is set every call succeeds on a new goroutine.
type Driver struct {
	mu   sync.Mutex
	caps map[string]string
	seq  int

	// Hooks override the result of a call.
	TakeResult   func(to datastore.SnapshotTO) datastore.CommandResult
	CopyResult   func(src, dst datastore.SnapshotTO) datastore.CommandResult
	DeleteResult func(to datastore.SnapshotTO) datastore.CommandResult
	RevertResult func(to datastore.SnapshotTO) datastore.CommandResult

	// CompleteTwice makes every call complete a second time with a failure.
	CompleteTwice bool
	// Hang makes every call never complete.
	Hang bool
	// Panic makes every call panic on the calling goroutine.
	Panic bool

	Takes   atomic.Int32
	Copies  atomic.Int32
	Deletes atomic.Int32
	Reverts atomic.Int32

	wg sync.WaitGroup
}

var _ datastore.PrimaryDriver = (*Driver)(nil)

// New returns a driver advertising caps.
func New(caps map[string]string) *Driver {
	if caps == nil {
		caps = map[string]string{}
	}
	return &Driver{caps: caps}
}

func (d *Driver) Name() string { return "fake" }

// Capabilities returns a copy of the advertised capabilities.
func (d *Driver) Capabilities() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]string, len(d.caps))
	for k, v := range d.caps {
		out[k] = v
	}
	return out
}

// SetCapability changes an advertised capability.
func (d *Driver) SetCapability(key, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.caps[key] = value
}

// Wait blocks until every completion has been delivered.
func (d *Driver) Wait() { d.wg.Wait() }

func (d *Driver) next() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	return d.seq
}

func (d *Driver) deliver(c datastore.Completion, r datastore.CommandResult) {
	if d.Panic {
		panic("scripted driver panic")
	}
	if d.Hang {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		c.Complete(r)
		if d.CompleteTwice {
			c.Complete(datastore.Failed(fmt.Errorf("second completion")))
		}
	}()
}

func (d *Driver) TakeSnapshot(_ context.Context, to datastore.SnapshotTO, c datastore.Completion) {
	d.Takes.Add(1)
	r := datastore.Succeeded(&datastore.Answer{
		InstallPath: path.Join("snapshots", to.SnapshotUUID),
		Size:        1024,
	})
	if d.TakeResult != nil {
		r = d.TakeResult(to)
	}
	d.deliver(c, r)
}

func (d *Driver) RevertSnapshot(_ context.Context, to datastore.SnapshotTO, c datastore.Completion) {
	d.Reverts.Add(1)
	r := datastore.Succeeded(&datastore.Answer{InstallPath: to.VolumePath})
	if d.RevertResult != nil {
		r = d.RevertResult(to)
	}
	d.deliver(c, r)
}

func (d *Driver) DeleteAsync(_ context.Context, _ datastore.DataStore, obj datastore.DataObject, c datastore.Completion) {
	d.Deletes.Add(1)
	r := datastore.Succeeded(&datastore.Answer{})
	if d.DeleteResult != nil {
		r = d.DeleteResult(obj.TO())
	}
	d.deliver(c, r)
}

func (d *Driver) CopyAsync(_ context.Context, src, dst datastore.DataObject, c datastore.Completion) {
	d.Copies.Add(1)
	srcTO, dstTO := src.TO(), dst.TO()
	backupID := fmt.Sprintf("backup-%d", d.next())
	r := datastore.Succeeded(&datastore.Answer{
		InstallPath: path.Join("snapshots", dstTO.VolumeUUID, backupID),
		BackupID:    backupID,
		Size:        1024,
		Incremental: !dstTO.FullBackup && dstTO.ParentPath != "",
	})
	if d.CopyResult != nil {
		r = d.CopyResult(srcTO, dstTO)
	}
	d.deliver(c, r)
}

// CanCopy accepts primary to image copies.
func (d *Driver) CanCopy(src, dst datastore.DataObject) bool {
	return src.Store().Role() == model.RolePrimary && dst.Store().Role() == model.RoleImage
}
