package catalog

import (
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/jvs-project/volsnap/pkg/errclass"
	"github.com/jvs-project/volsnap/pkg/model"
	"github.com/jvs-project/volsnap/pkg/uuidutil"
)

// FilterOptions for listing snapshots.
type FilterOptions struct {
	VolumeID       uint64
	State          model.SnapshotState
	IncludeRemoved bool
	Since          time.Time
	Until          time.Time
}

func (o FilterOptions) matches(s *model.Snapshot) bool {
	if !o.IncludeRemoved && s.IsRemoved() {
		return false
	}
	if o.VolumeID != 0 && s.VolumeID != o.VolumeID {
		return false
	}
	if o.State != "" && s.State != o.State {
		return false
	}
	if !o.Since.IsZero() && s.CreatedAt.Before(o.Since) {
		return false
	}
	if !o.Until.IsZero() && s.CreatedAt.After(o.Until) {
		return false
	}
	return true
}

// CreateSnapshot inserts s, assigning its id, uuid and creation time.
func (c *Catalog) CreateSnapshot(s *model.Snapshot) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		id, err := nextID(tx, bucketSnapshots)
		if err != nil {
			return err
		}
		s.ID = id
		if s.UUID == "" {
			s.UUID = uuidutil.NewV4()
		}
		if s.State == "" {
			s.State = model.SnapshotAllocated
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = c.now()
		}
		s.Version = 1
		return put(tx, bucketSnapshots, id, s)
	})
}

// FindSnapshot returns a live snapshot row.
func (c *Catalog) FindSnapshot(id uint64) (*model.Snapshot, error) {
	s, err := c.FindSnapshotIncludingRemoved(id)
	if err != nil {
		return nil, err
	}
	if s.IsRemoved() {
		return nil, errclass.ErrNotFound.WithMessagef("snapshot %d was removed", id)
	}
	return s, nil
}

// FindSnapshotIncludingRemoved returns a snapshot row even if soft deleted.
func (c *Catalog) FindSnapshotIncludingRemoved(id uint64) (*model.Snapshot, error) {
	var s *model.Snapshot
	err := c.db.View(func(tx *bolt.Tx) error {
		var err error
		s, err = get[model.Snapshot](tx, bucketSnapshots, id)
		return err
	})
	return s, err
}

// UpdateSnapshot overwrites the row of s. The state is left to
// UpdateSnapshotState.
func (c *Catalog) UpdateSnapshot(s *model.Snapshot) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		stored, err := get[model.Snapshot](tx, bucketSnapshots, s.ID)
		if err != nil {
			return err
		}
		s.State = stored.State
		s.Version++
		return put(tx, bucketSnapshots, s.ID, s)
	})
}

// UpdateSnapshotState moves s from current to next if the stored state is
// still current. It reports false when another writer got there first.
func (c *Catalog) UpdateSnapshotState(current model.SnapshotState, event model.SnapshotEvent, next model.SnapshotState, s *model.Snapshot, data any) (bool, error) {
	updated := false
	err := c.db.Update(func(tx *bolt.Tx) error {
		stored, err := get[model.Snapshot](tx, bucketSnapshots, s.ID)
		if err != nil {
			return err
		}
		if stored.State != current {
			return nil
		}
		stored.State = next
		stored.Version++
		if err := put(tx, bucketSnapshots, s.ID, stored); err != nil {
			return err
		}
		*s = *stored
		updated = true
		return nil
	})
	return updated, err
}

// SnapshotState returns the stored state of s.
func (c *Catalog) SnapshotState(s *model.Snapshot) (model.SnapshotState, error) {
	stored, err := c.FindSnapshotIncludingRemoved(s.ID)
	if err != nil {
		return "", err
	}
	return stored.State, nil
}

// RemoveSnapshot soft deletes the row so chain walks can still resolve it.
func (c *Catalog) RemoveSnapshot(id uint64) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		s, err := get[model.Snapshot](tx, bucketSnapshots, id)
		if err != nil {
			return err
		}
		if s.IsRemoved() {
			return nil
		}
		now := c.now()
		s.Removed = &now
		s.Version++
		return put(tx, bucketSnapshots, id, s)
	})
}

// PurgeSnapshot deletes the row. Purging a missing row is not an error.
func (c *Catalog) PurgeSnapshot(id uint64) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Delete(itob(id))
	})
}

// ListSnapshots returns snapshots matching opts in id order.
func (c *Catalog) ListSnapshots(opts FilterOptions) ([]*model.Snapshot, error) {
	var out []*model.Snapshot
	err := c.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = scan(tx, bucketSnapshots, opts.matches)
		return err
	})
	return out, err
}

// ListSnapshotsByVolume returns the live snapshots of a volume, newest first.
func (c *Catalog) ListSnapshotsByVolume(volumeID uint64) ([]*model.Snapshot, error) {
	out, err := c.ListSnapshots(FilterOptions{VolumeID: volumeID})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// ListSnapshotsByState returns live snapshots in state.
func (c *Catalog) ListSnapshotsByState(state model.SnapshotState) ([]*model.Snapshot, error) {
	return c.ListSnapshots(FilterOptions{State: state})
}

// ListByBackupUUID returns the live snapshots of a volume whose backup is
// backupID.
func (c *Catalog) ListByBackupUUID(volumeID uint64, backupID string) ([]*model.Snapshot, error) {
	if backupID == "" {
		return nil, nil
	}
	var out []*model.Snapshot
	err := c.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = scan(tx, bucketSnapshots, func(s *model.Snapshot) bool {
			return !s.IsRemoved() && s.VolumeID == volumeID && s.BackupID == backupID
		})
		return err
	})
	return out, err
}

// FindNextSnapshot returns the snapshot whose live image store ref names id
// as its parent, or nil when id has no live child. Removed children still
// count while their backup is live.
func (c *Catalog) FindNextSnapshot(id uint64) (*model.Snapshot, error) {
	var child *model.Snapshot
	err := c.db.View(func(tx *bolt.Tx) error {
		refs, err := scan(tx, bucketStoreRefs, func(r *model.StoreRef) bool {
			return r.Role == model.RoleImage && r.ParentSnapshotID == id && r.SnapshotID != id && r.IsLive()
		})
		if err != nil {
			return err
		}
		for _, r := range refs {
			s, err := get[model.Snapshot](tx, bucketSnapshots, r.SnapshotID)
			if errors.Is(err, errclass.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			child = s
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find next snapshot of %d: %w", id, err)
	}
	return child, nil
}
