package catalog

import (
	bolt "go.etcd.io/bbolt"

	"github.com/jvs-project/volsnap/pkg/model"
	"github.com/jvs-project/volsnap/pkg/uuidutil"
)

// CreateVolume inserts v, assigning its id and uuid.
func (c *Catalog) CreateVolume(v *model.Volume) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		id, err := nextID(tx, bucketVolumes)
		if err != nil {
			return err
		}
		v.ID = id
		if v.UUID == "" {
			v.UUID = uuidutil.NewV4()
		}
		if v.State == "" {
			v.State = model.VolumeReady
		}
		v.Version = 1
		return put(tx, bucketVolumes, id, v)
	})
}

// FindVolume returns a volume row.
func (c *Catalog) FindVolume(id uint64) (*model.Volume, error) {
	var v *model.Volume
	err := c.db.View(func(tx *bolt.Tx) error {
		var err error
		v, err = get[model.Volume](tx, bucketVolumes, id)
		return err
	})
	return v, err
}

// UpdateVolume overwrites the row of v.
func (c *Catalog) UpdateVolume(v *model.Volume) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		if _, err := get[model.Volume](tx, bucketVolumes, v.ID); err != nil {
			return err
		}
		v.Version++
		return put(tx, bucketVolumes, v.ID, v)
	})
}

// UpdateVolumeState is the compare-and-set used by the volume state machine.
func (c *Catalog) UpdateVolumeState(current model.VolumeState, event model.VolumeEvent, next model.VolumeState, v *model.Volume, data any) (bool, error) {
	updated := false
	err := c.db.Update(func(tx *bolt.Tx) error {
		stored, err := get[model.Volume](tx, bucketVolumes, v.ID)
		if err != nil {
			return err
		}
		if stored.State != current {
			return nil
		}
		stored.State = next
		stored.Version++
		if err := put(tx, bucketVolumes, v.ID, stored); err != nil {
			return err
		}
		*v = *stored
		updated = true
		return nil
	})
	return updated, err
}

// VolumeState returns the stored state of v.
func (c *Catalog) VolumeState(v *model.Volume) (model.VolumeState, error) {
	stored, err := c.FindVolume(v.ID)
	if err != nil {
		return "", err
	}
	return stored.State, nil
}

// ListVolumes returns every volume in id order.
func (c *Catalog) ListVolumes() ([]*model.Volume, error) {
	var out []*model.Volume
	err := c.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = scan[model.Volume](tx, bucketVolumes, nil)
		return err
	})
	return out, err
}
