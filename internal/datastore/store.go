package datastore

import (
	"errors"
	"fmt"

	"github.com/jvs-project/volsnap/pkg/errclass"
	"github.com/jvs-project/volsnap/pkg/model"
)

// RefStore is the persistence a store needs to record objects.
type RefStore interface {
	FindStoreRef(snapshotID, storeID uint64) (*model.StoreRef, error)
	FindParentRef(role model.DataStoreRole, storeID, volumeID, snapshotID uint64) (*model.StoreRef, error)
	CreateStoreRef(r *model.StoreRef) error
}

// Info describes a store.
type Info struct {
	ID           uint64
	UUID         string
	Name         string
	Role         model.DataStoreRole
	DataCenterID uint64
}

// Store is the DataStore implementation shared by every driver.
type Store struct {
	info   Info
	driver Driver
	refs   RefStore
}

// NewStore binds info to driver, recording refs in refs.
func NewStore(info Info, driver Driver, refs RefStore) *Store {
	return &Store{info: info, driver: driver, refs: refs}
}

func (s *Store) ID() uint64                { return s.info.ID }
func (s *Store) UUID() string              { return s.info.UUID }
func (s *Store) Name() string              { return s.info.Name }
func (s *Store) Role() model.DataStoreRole { return s.info.Role }
func (s *Store) DataCenterID() uint64      { return s.info.DataCenterID }
func (s *Store) Driver() Driver            { return s.driver }

// Capabilities returns the driver's capabilities.
func (s *Store) Capabilities() map[string]string {
	return s.driver.Capabilities()
}

// Create records obj on the store in state Allocated. On primary stores the
// new ref chains to the newest ready ref of the same volume; on image stores
// it chains to the snapshot's own parent (see ParentHint) when that parent is
// ready here.
func (s *Store) Create(obj DataObject) (*model.StoreRef, error) {
	existing, err := s.refs.FindStoreRef(obj.ID(), s.info.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, errclass.ErrNotFound) {
		return nil, fmt.Errorf("look up ref of snapshot %d on store %d: %w", obj.ID(), s.info.ID, err)
	}

	to := obj.TO()
	ref := &model.StoreRef{
		SnapshotID: obj.ID(),
		StoreID:    s.info.ID,
		StoreUUID:  s.info.UUID,
		Role:       s.info.Role,
		State:      model.RefAllocated,
		VolumeID:   to.VolumeID,
	}

	parent, err := s.parentOf(obj, to.VolumeID)
	if err != nil {
		return nil, err
	}
	ref.ParentSnapshotID = parent

	if err := s.refs.CreateStoreRef(ref); err != nil {
		return nil, fmt.Errorf("create ref of snapshot %d on store %d: %w", obj.ID(), s.info.ID, err)
	}
	return ref, nil
}

// ParentHint is implemented by objects that know their snapshot parent.
type ParentHint interface {
	ParentID() uint64
}

func (s *Store) parentOf(obj DataObject, volumeID uint64) (uint64, error) {
	if s.info.Role == model.RoleImage {
		hint, ok := obj.(ParentHint)
		if !ok || hint.ParentID() == 0 {
			return 0, nil
		}
		p, err := s.refs.FindStoreRef(hint.ParentID(), s.info.ID)
		if errors.Is(err, errclass.ErrNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("find parent ref: %w", err)
		}
		if p.State != model.RefReady {
			return 0, nil
		}
		return p.SnapshotID, nil
	}

	p, err := s.refs.FindParentRef(s.info.Role, s.info.ID, volumeID, obj.ID())
	if errors.Is(err, errclass.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("find parent ref: %w", err)
	}
	return p.SnapshotID, nil
}
