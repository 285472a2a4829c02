// Package fsdriver stores volumes, snapshots and backups as directory trees
// under a store root, cloning them with an engine.Engine.
//
// Primary stores keep volumes in volumes/<volume-uuid> and snapshots in
// snapshots/<snapshot-uuid>. Image stores keep backups in
// snapshots/<volume-uuid>/<backup-id>. Every tree carries a payload hash
// sidecar so unchanged volumes can be detected without rereading parents.
package fsdriver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jvs-project/volsnap/internal/async"
	"github.com/jvs-project/volsnap/internal/datastore"
	"github.com/jvs-project/volsnap/internal/engine"
	"github.com/jvs-project/volsnap/internal/integrity"
	"github.com/jvs-project/volsnap/pkg/errclass"
	"github.com/jvs-project/volsnap/pkg/fsutil"
	"github.com/jvs-project/volsnap/pkg/logging"
	"github.com/jvs-project/volsnap/pkg/model"
	"github.com/jvs-project/volsnap/pkg/pathutil"
	"github.com/jvs-project/volsnap/pkg/uuidutil"
)

const (
	volumesDir   = "volumes"
	snapshotsDir = "snapshots"

	// Trees a revert stages next to the volume it replaces.
	revertInfix = ".revert-"
	oldSuffix   = ".old"
)

// Name is the driver name reported in logs and capabilities.
const Name = "filesystem"

// Driver is a datastore.PrimaryDriver for directory backed stores.
type Driver struct {
	root   string
	role   model.DataStoreRole
	engine engine.Engine
	exec   *async.Executor
	logger *logging.Logger
}

var _ datastore.PrimaryDriver = (*Driver)(nil)

// New creates a driver for the store rooted at root. Work runs on exec.
func New(root string, role model.DataStoreRole, eng engine.Engine, exec *async.Executor) (*Driver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, snapshotsDir), 0755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	if role == model.RolePrimary {
		if err := os.MkdirAll(filepath.Join(abs, volumesDir), 0755); err != nil {
			return nil, fmt.Errorf("create volumes dir: %w", err)
		}
	}
	return &Driver{
		root:   abs,
		role:   role,
		engine: eng,
		exec:   exec,
		logger: logging.WithFields(map[string]any{"component": "fsdriver", "root": abs}),
	}, nil
}

// Open creates a driver whose engine is chosen by name ("auto" detects).
func Open(root string, role model.DataStoreRole, engineName string, exec *async.Executor) (*Driver, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	eng, err := engine.ForStore(engineName, root)
	if err != nil {
		return nil, err
	}
	return New(root, role, eng, exec)
}

func (d *Driver) Name() string { return Name }

// Root returns the absolute store root.
func (d *Driver) Root() string { return d.root }

// Engine returns the clone engine.
func (d *Driver) Engine() engine.Engine { return d.engine }

// Capabilities advertises array-level snapshots on primary stores whose
// engine clones natively.
func (d *Driver) Capabilities() map[string]string {
	caps := map[string]string{"engine": string(d.engine.Name())}
	if d.role == model.RolePrimary && d.engine.NativeClone() {
		caps[model.CapabilityStorageSystemSnapshot] = "true"
	}
	return caps
}

// VolumePath returns the install path of a volume on a primary store.
func VolumePath(volumeUUID string) string {
	return filepath.Join(volumesDir, volumeUUID)
}

// CreateVolume creates the empty tree of a volume and returns its install
// path.
func (d *Driver) CreateVolume(volumeUUID string) (string, error) {
	if d.role != model.RolePrimary {
		return "", errclass.ErrInvalidParameter.WithMessage("volumes live on primary stores")
	}
	rel := VolumePath(volumeUUID)
	if err := os.MkdirAll(d.abs(rel), 0755); err != nil {
		return "", fmt.Errorf("create volume %s: %w", volumeUUID, err)
	}
	return rel, nil
}

// Leftovers lists the staging and previous volume trees an interrupted
// revert left behind.
func (d *Driver) Leftovers() ([]string, error) {
	if d.role != model.RolePrimary {
		return nil, nil
	}
	dir := filepath.Join(d.root, volumesDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read volumes dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if strings.Contains(name, revertInfix) || strings.HasSuffix(name, oldSuffix) {
			out = append(out, filepath.Join(dir, name))
		}
	}
	return out, nil
}

func (d *Driver) abs(rel string) string {
	return filepath.Join(d.root, filepath.FromSlash(rel))
}

func (d *Driver) run(ctx context.Context, op string, c datastore.Completion, fn func() (*datastore.Answer, error)) {
	async.Go(d.exec, func() {
		if err := ctx.Err(); err != nil {
			c.Complete(datastore.Failed(errclass.ErrInterrupted.Wrap(err, op+" cancelled")))
			return
		}
		answer, err := fn()
		if err != nil {
			d.logger.WarnErr(op+" failed", err)
			c.Complete(datastore.Failed(err))
			return
		}
		c.Complete(datastore.Succeeded(answer))
	}, func(err error) {
		c.Complete(datastore.Failed(err))
	})
}

// TakeSnapshot clones the volume into snapshots/<snapshot-uuid>. When the
// volume payload equals the parent snapshot's, the parent path is reported
// and nothing is cloned.
func (d *Driver) TakeSnapshot(ctx context.Context, snap datastore.SnapshotTO, c datastore.Completion) {
	d.run(ctx, "take snapshot", c, func() (*datastore.Answer, error) {
		return d.takeSnapshot(snap)
	})
}

func (d *Driver) takeSnapshot(snap datastore.SnapshotTO) (*datastore.Answer, error) {
	volumeDir := d.abs(snap.VolumePath)
	if !fsutil.Exists(volumeDir) {
		return nil, errclass.ErrNotFound.WithMessagef("volume %s has no data at %s", snap.VolumeUUID, snap.VolumePath)
	}
	hash, err := integrity.ComputePayloadRootHash(volumeDir)
	if err != nil {
		return nil, fmt.Errorf("hash volume: %w", err)
	}

	if snap.ParentPath != "" && fsutil.Exists(d.abs(snap.ParentPath)) {
		parentHash, err := integrity.ReadPayloadHash(d.abs(snap.ParentPath))
		if err != nil {
			return nil, fmt.Errorf("hash parent: %w", err)
		}
		if parentHash == hash {
			d.logger.Debug("volume unchanged since parent", map[string]any{
				"snapshot": snap.SnapshotUUID,
				"parent":   snap.ParentPath,
			})
			return &datastore.Answer{InstallPath: snap.ParentPath, PayloadHash: hash}, nil
		}
	}

	rel := filepath.Join(snapshotsDir, snap.SnapshotUUID)
	dst := d.abs(rel)
	if err := removeTree(dst); err != nil {
		return nil, err
	}
	result, err := d.engine.Clone(volumeDir, dst)
	if err != nil {
		return nil, fmt.Errorf("clone volume: %w", err)
	}
	d.logDegraded(result, snap.SnapshotUUID)
	if err := integrity.WritePayloadHash(dst, hash); err != nil {
		return nil, fmt.Errorf("record payload hash: %w", err)
	}
	size, err := fsutil.DirSize(dst)
	if err != nil {
		return nil, err
	}
	physical := size
	if d.engine.NativeClone() {
		physical = 0
	}
	return &datastore.Answer{
		InstallPath:  filepath.ToSlash(rel),
		Size:         size,
		PhysicalSize: physical,
		PayloadHash:  hash,
	}, nil
}

// RevertSnapshot replaces the volume tree with a clone of the snapshot.
func (d *Driver) RevertSnapshot(ctx context.Context, snap datastore.SnapshotTO, c datastore.Completion) {
	d.run(ctx, "revert snapshot", c, func() (*datastore.Answer, error) {
		return d.revertSnapshot(snap)
	})
}

func (d *Driver) revertSnapshot(snap datastore.SnapshotTO) (*datastore.Answer, error) {
	if snap.Path == "" {
		return nil, errclass.ErrInvalidParameter.WithMessagef("snapshot %s has no install path", snap.SnapshotUUID)
	}
	src, err := pathutil.Resolve(d.root, snap.Path)
	if err != nil {
		return nil, err
	}
	if !fsutil.Exists(src) {
		return nil, errclass.ErrNotFound.WithMessagef("snapshot %s has no data at %s", snap.SnapshotUUID, snap.Path)
	}
	volumeDir := d.abs(snap.VolumePath)
	staging := volumeDir + revertInfix + uuidutil.Short(uuidutil.NewV4())
	result, err := d.engine.Clone(src, staging)
	if err != nil {
		removeTree(staging)
		return nil, fmt.Errorf("clone snapshot: %w", err)
	}
	d.logDegraded(result, snap.SnapshotUUID)

	old := volumeDir + oldSuffix
	if err := removeTree(old); err != nil {
		return nil, err
	}
	if fsutil.Exists(volumeDir) {
		if err := os.Rename(volumeDir, old); err != nil {
			removeTree(staging)
			return nil, fmt.Errorf("move volume aside: %w", err)
		}
	}
	if err := fsutil.RenameAndSync(staging, volumeDir); err != nil {
		os.Rename(old, volumeDir)
		return nil, fmt.Errorf("install reverted volume: %w", err)
	}
	if err := removeTree(old); err != nil {
		d.logger.WarnErr("remove previous volume tree", err)
	}
	return &datastore.Answer{InstallPath: snap.VolumePath}, nil
}

// DeleteAsync removes the tree of obj. Objects never materialised succeed.
func (d *Driver) DeleteAsync(ctx context.Context, store datastore.DataStore, obj datastore.DataObject, c datastore.Completion) {
	to := obj.TO()
	d.run(ctx, "delete", c, func() (*datastore.Answer, error) {
		if to.Path == "" {
			return &datastore.Answer{}, nil
		}
		dir, err := pathutil.Resolve(d.root, to.Path)
		if err != nil {
			return nil, err
		}
		if err := removeTree(dir); err != nil {
			return nil, err
		}
		if err := integrity.RemovePayloadHash(dir); err != nil {
			return nil, fmt.Errorf("remove payload hash: %w", err)
		}
		d.logger.Debug("deleted tree", map[string]any{"store": store.ID(), "path": to.Path})
		return &datastore.Answer{InstallPath: to.Path}, nil
	})
}

func (d *Driver) logDegraded(result *engine.CloneResult, id string) {
	if result != nil && result.Degraded {
		d.logger.Warn("clone degraded", map[string]any{
			"engine":       d.engine.Name(),
			"snapshot":     id,
			"degradations": result.Degradations,
		})
	}
}

func removeTree(path string) error {
	if err := os.RemoveAll(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
