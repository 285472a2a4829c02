package catalog

import (
	bolt "go.etcd.io/bbolt"

	"github.com/jvs-project/volsnap/pkg/errclass"
	"github.com/jvs-project/volsnap/pkg/model"
)

// CreateStoreRef inserts r, assigning its id and timestamps.
func (c *Catalog) CreateStoreRef(r *model.StoreRef) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		id, err := nextID(tx, bucketStoreRefs)
		if err != nil {
			return err
		}
		now := c.now()
		r.ID = id
		if r.State == "" {
			r.State = model.RefAllocated
		}
		r.CreatedAt = now
		r.UpdatedAt = now
		r.Version = 1
		return put(tx, bucketStoreRefs, id, r)
	})
}

// FindStoreRefByID returns a ref row.
func (c *Catalog) FindStoreRefByID(id uint64) (*model.StoreRef, error) {
	var r *model.StoreRef
	err := c.db.View(func(tx *bolt.Tx) error {
		var err error
		r, err = get[model.StoreRef](tx, bucketStoreRefs, id)
		return err
	})
	return r, err
}

// FindStoreRef returns the newest ref of a snapshot on a store.
func (c *Catalog) FindStoreRef(snapshotID, storeID uint64) (*model.StoreRef, error) {
	return c.newestRef(func(r *model.StoreRef) bool {
		return r.SnapshotID == snapshotID && r.StoreID == storeID
	}, "snapshot %d has no ref on store %d", snapshotID, storeID)
}

// FindStoreRefByRole returns the newest live ref of a snapshot in role.
func (c *Catalog) FindStoreRefByRole(snapshotID uint64, role model.DataStoreRole) (*model.StoreRef, error) {
	return c.newestRef(func(r *model.StoreRef) bool {
		return r.SnapshotID == snapshotID && r.Role == role && r.IsLive()
	}, "snapshot %d has no live %s ref", snapshotID, role)
}

// FindParentRef returns the newest ready ref of the volume on a store,
// excluding snapshotID itself. This is the parent a new ref chains to.
func (c *Catalog) FindParentRef(role model.DataStoreRole, storeID, volumeID, snapshotID uint64) (*model.StoreRef, error) {
	return c.newestRef(func(r *model.StoreRef) bool {
		return r.Role == role && r.StoreID == storeID && r.VolumeID == volumeID &&
			r.SnapshotID != snapshotID && r.State == model.RefReady
	}, "volume %d has no ready ref on store %d", volumeID, storeID)
}

// FindChildRef returns the newest live ref on a store that chains to
// snapshotID.
func (c *Catalog) FindChildRef(storeID, snapshotID uint64) (*model.StoreRef, error) {
	return c.newestRef(func(r *model.StoreRef) bool {
		return r.StoreID == storeID && r.ParentSnapshotID == snapshotID && r.IsLive()
	}, "snapshot %d has no child on store %d", snapshotID, storeID)
}

// FindLatestRefForVolume returns the newest ready ref of the volume in role,
// excluding snapshotID.
func (c *Catalog) FindLatestRefForVolume(volumeID uint64, role model.DataStoreRole, snapshotID uint64) (*model.StoreRef, error) {
	return c.newestRef(func(r *model.StoreRef) bool {
		return r.VolumeID == volumeID && r.Role == role && r.SnapshotID != snapshotID && r.State == model.RefReady
	}, "volume %d has no ready %s ref", volumeID, role)
}

// FindOldestRefForVolume returns the oldest ready ref of the volume in role.
func (c *Catalog) FindOldestRefForVolume(volumeID uint64, role model.DataStoreRole) (*model.StoreRef, error) {
	var found *model.StoreRef
	err := c.db.View(func(tx *bolt.Tx) error {
		refs, err := scan(tx, bucketStoreRefs, func(r *model.StoreRef) bool {
			return r.VolumeID == volumeID && r.Role == role && r.State == model.RefReady
		})
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			return errclass.ErrNotFound.WithMessagef("volume %d has no ready %s ref", volumeID, role)
		}
		found = refs[0]
		return nil
	})
	return found, err
}

func (c *Catalog) newestRef(keep func(*model.StoreRef) bool, format string, args ...any) (*model.StoreRef, error) {
	var found *model.StoreRef
	err := c.db.View(func(tx *bolt.Tx) error {
		refs, err := scan(tx, bucketStoreRefs, keep)
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			return errclass.ErrNotFound.WithMessagef(format, args...)
		}
		found = refs[len(refs)-1]
		return nil
	})
	return found, err
}

// ListStoreRefs returns every ref of a snapshot.
func (c *Catalog) ListStoreRefs(snapshotID uint64) ([]*model.StoreRef, error) {
	return c.listRefs(func(r *model.StoreRef) bool { return r.SnapshotID == snapshotID })
}

// ListStoreRefsByState returns refs in any of states.
func (c *Catalog) ListStoreRefsByState(states ...model.StoreRefState) ([]*model.StoreRef, error) {
	return c.listRefs(func(r *model.StoreRef) bool {
		for _, s := range states {
			if r.State == s {
				return true
			}
		}
		return false
	})
}

// ListStoreRefsByPath returns the live refs on a store installed at path.
func (c *Catalog) ListStoreRefsByPath(storeID uint64, path string) ([]*model.StoreRef, error) {
	return c.listRefs(func(r *model.StoreRef) bool {
		return r.StoreID == storeID && r.InstallPath == path && r.IsLive()
	})
}

// ListAllStoreRefs returns every ref.
func (c *Catalog) ListAllStoreRefs() ([]*model.StoreRef, error) {
	return c.listRefs(nil)
}

func (c *Catalog) listRefs(keep func(*model.StoreRef) bool) ([]*model.StoreRef, error) {
	var out []*model.StoreRef
	err := c.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = scan(tx, bucketStoreRefs, keep)
		return err
	})
	return out, err
}

// UpdateStoreRef overwrites the row of r.
func (c *Catalog) UpdateStoreRef(r *model.StoreRef) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		if _, err := get[model.StoreRef](tx, bucketStoreRefs, r.ID); err != nil {
			return err
		}
		r.Version++
		r.UpdatedAt = c.now()
		return put(tx, bucketStoreRefs, r.ID, r)
	})
}

// UpdateStoreRefState is the compare-and-set used by the store ref machine.
// When data is a *RefPatch, its install path and sizes
// are written in the same transaction.
func (c *Catalog) UpdateStoreRefState(current model.StoreRefState, event model.StoreRefEvent, next model.StoreRefState, r *model.StoreRef, data any) (bool, error) {
	updated := false
	err := c.db.Update(func(tx *bolt.Tx) error {
		stored, err := get[model.StoreRef](tx, bucketStoreRefs, r.ID)
		if err != nil {
			return err
		}
		if stored.State != current {
			return nil
		}
		if patch, ok := data.(*RefPatch); ok && patch != nil {
			patch.apply(stored)
		}
		stored.State = next
		stored.Version++
		stored.UpdatedAt = c.now()
		if err := put(tx, bucketStoreRefs, r.ID, stored); err != nil {
			return err
		}
		*r = *stored
		updated = true
		return nil
	})
	return updated, err
}

// StoreRefState returns the stored state of r.
func (c *Catalog) StoreRefState(r *model.StoreRef) (model.StoreRefState, error) {
	stored, err := c.FindStoreRefByID(r.ID)
	if err != nil {
		return "", err
	}
	return stored.State, nil
}

// RemoveStoreRef deletes the row.
func (c *Catalog) RemoveStoreRef(id uint64) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStoreRefs).Delete(itob(id))
	})
}

// RefPatch carries the fields a backend answer sets on a ref.
type RefPatch struct {
	InstallPath  string
	Size         int64
	PhysicalSize int64
	// ClearParent cuts the ref out of its delta chain, as after a full
	// backup.
	ClearParent bool
}

func (p *RefPatch) apply(r *model.StoreRef) {
	if p.InstallPath != "" {
		r.InstallPath = p.InstallPath
	}
	if p.Size > 0 {
		r.Size = p.Size
	}
	if p.PhysicalSize > 0 {
		r.PhysicalSize = p.PhysicalSize
	}
	if p.ClearParent {
		r.ParentSnapshotID = 0
	}
}
