// Package datastore abstracts the primary and image (secondary) stores that
// snapshots are materialised on, and the drivers that move data between
// them.
package datastore

import (
	"context"

	"github.com/jvs-project/volsnap/pkg/model"
)

// SnapshotTO is the transfer object a driver receives for a snapshot bound
// to one store.
type SnapshotTO struct {
	SnapshotID   uint64
	SnapshotUUID string
	VolumeID     uint64
	VolumeUUID   string
	VolumePath   string
	StoreID      uint64
	Path         string // install path on the store, relative to its root
	ParentPath   string // install path of the parent on the same store
	BackupID     string
	FullBackup   bool
}

// DataObject is a snapshot bound to a data store.
type DataObject interface {
	ID() uint64
	UUID() string
	Store() DataStore
	TO() SnapshotTO
}

// Answer is what a backend reports back about the object it produced.
type Answer struct {
	InstallPath  string
	BackupID     string
	Size         int64
	PhysicalSize int64
	Incremental  bool
	PayloadHash  model.HashValue
}

// CommandResult is the outcome of one asynchronous backend call.
type CommandResult struct {
	Success bool
	Result  string // failure detail when !Success
	Answer  *Answer
}

// Failed builds an unsuccessful result from err.
func Failed(err error) CommandResult {
	return CommandResult{Result: err.Error()}
}

// Succeeded builds a successful result carrying a.
func Succeeded(a *Answer) CommandResult {
	return CommandResult{Success: true, Answer: a}
}

// Completion receives the result of a backend call exactly once. Complete
// reports whether the result was accepted.
type Completion interface {
	Complete(result CommandResult) bool
}

// CompletionFunc adapts a function to a Completion.
type CompletionFunc func(CommandResult)

// Complete calls f.
func (f CompletionFunc) Complete(result CommandResult) bool {
	f(result)
	return true
}

// Driver performs backend operations for a store.
type Driver interface {
	Name() string
	Capabilities() map[string]string
	DeleteAsync(ctx context.Context, store DataStore, obj DataObject, c Completion)
	CopyAsync(ctx context.Context, src, dst DataObject, c Completion)
	CanCopy(src, dst DataObject) bool
}

// PrimaryDriver is a Driver for primary storage, which can also take and
// revert snapshots.
type PrimaryDriver interface {
	Driver
	TakeSnapshot(ctx context.Context, snap SnapshotTO, c Completion)
	RevertSnapshot(ctx context.Context, snap SnapshotTO, c Completion)
}

// DataStore is a primary or image store.
type DataStore interface {
	ID() uint64
	UUID() string
	Name() string
	Role() model.DataStoreRole
	DataCenterID() uint64
	Driver() Driver
	Capabilities() map[string]string
	// Create records obj on this store, returning the existing ref when
	// one already exists.
	Create(obj DataObject) (*model.StoreRef, error)
}
