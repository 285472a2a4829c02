package fsdriver

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jvs-project/volsnap/internal/datastore"
	"github.com/jvs-project/volsnap/internal/integrity"
	"github.com/jvs-project/volsnap/pkg/errclass"
	"github.com/jvs-project/volsnap/pkg/fsutil"
	"github.com/jvs-project/volsnap/pkg/model"
	"github.com/jvs-project/volsnap/pkg/uuidutil"
)

// CanCopy reports whether src lives on a filesystem primary store and dst
// on a filesystem image store.
func (d *Driver) CanCopy(src, dst datastore.DataObject) bool {
	s, ok := src.Store().Driver().(*Driver)
	if !ok || s.role != model.RolePrimary {
		return false
	}
	t, ok := dst.Store().Driver().(*Driver)
	return ok && t.role == model.RoleImage
}

// CopyAsync backs src up to dst under a new backup id. Unless dst asks for
// a full backup, files unchanged since the parent backup are hard linked
// to it and the answer is marked incremental.
func (d *Driver) CopyAsync(ctx context.Context, src, dst datastore.DataObject, c datastore.Completion) {
	from, ok := src.Store().Driver().(*Driver)
	if !ok {
		c.Complete(datastore.Failed(errclass.ErrInvalidParameter.WithMessage("source is not a filesystem store")))
		return
	}
	to, ok := dst.Store().Driver().(*Driver)
	if !ok {
		c.Complete(datastore.Failed(errclass.ErrInvalidParameter.WithMessage("destination is not a filesystem store")))
		return
	}
	srcTO, dstTO := src.TO(), dst.TO()
	d.run(ctx, "backup", c, func() (*datastore.Answer, error) {
		return copyBackup(from, to, srcTO, dstTO)
	})
}

func copyBackup(from, to *Driver, srcTO, dstTO datastore.SnapshotTO) (*datastore.Answer, error) {
	if srcTO.Path == "" {
		return nil, errclass.ErrInvalidParameter.WithMessagef("snapshot %s is not on primary", srcTO.SnapshotUUID)
	}
	srcDir := from.abs(srcTO.Path)
	if !fsutil.Exists(srcDir) {
		return nil, errclass.ErrNotFound.WithMessagef("snapshot %s has no data at %s", srcTO.SnapshotUUID, srcTO.Path)
	}
	hash, err := integrity.ReadPayloadHash(srcDir)
	if err != nil {
		return nil, fmt.Errorf("hash snapshot: %w", err)
	}

	backupID := uuidutil.NewV4()
	rel := filepath.Join(snapshotsDir, dstTO.VolumeUUID, backupID)
	dstDir := to.abs(rel)
	if err := os.MkdirAll(filepath.Dir(dstDir), 0755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	result, err := to.engine.Clone(srcDir, dstDir)
	if err != nil {
		removeTree(dstDir)
		return nil, fmt.Errorf("copy snapshot: %w", err)
	}
	to.logDegraded(result, srcTO.SnapshotUUID)

	size, err := fsutil.DirSize(dstDir)
	if err != nil {
		return nil, err
	}
	answer := &datastore.Answer{
		InstallPath:  filepath.ToSlash(rel),
		BackupID:     backupID,
		Size:         size,
		PhysicalSize: size,
		PayloadHash:  hash,
	}

	if !dstTO.FullBackup && dstTO.ParentPath != "" && fsutil.Exists(to.abs(dstTO.ParentPath)) {
		shared, err := linkUnchanged(to.abs(dstTO.ParentPath), dstDir)
		if err != nil {
			removeTree(dstDir)
			return nil, fmt.Errorf("link unchanged files: %w", err)
		}
		answer.Incremental = true
		answer.PhysicalSize = size - shared
	}

	if err := integrity.WritePayloadHash(dstDir, hash); err != nil {
		return nil, fmt.Errorf("record payload hash: %w", err)
	}
	return answer, nil
}

// linkUnchanged replaces every regular file under dir whose content equals
// the file at the same path under parent with a hard link to it. It
// returns the bytes now shared with parent.
func linkUnchanged(parent, dir string) (int64, error) {
	var shared int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		base := filepath.Join(parent, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		same, err := sameContent(base, path, info.Size())
		if err != nil || !same {
			return err
		}
		tmp := path + ".link"
		if err := os.Link(base, tmp); err != nil {
			// cross-device parents keep the copy
			return nil
		}
		if err := os.Rename(tmp, path); err != nil {
			os.Remove(tmp)
			return err
		}
		shared += info.Size()
		return nil
	})
	return shared, err
}

func sameContent(a, b string, size int64) (bool, error) {
	info, err := os.Lstat(a)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !info.Mode().IsRegular() || info.Size() != size {
		return false, nil
	}
	ha, err := fileDigest(a)
	if err != nil {
		return false, err
	}
	hb, err := fileDigest(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ha, hb), nil
}

func fileDigest(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
