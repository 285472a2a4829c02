package datastore

import (
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/jvs-project/volsnap/pkg/errclass"
	"github.com/jvs-project/volsnap/pkg/model"
)

// Manager is the registry of data stores.
type Manager struct {
	mu     sync.RWMutex
	stores map[uint64]DataStore
	order  []uint64
	caps   *ttlcache.Cache[uint64, map[string]string]
}

// NewManager creates an empty registry whose capability lookups are cached
// for capabilityTTL.
func NewManager(capabilityTTL time.Duration) *Manager {
	if capabilityTTL <= 0 {
		capabilityTTL = time.Minute
	}
	return &Manager{
		stores: make(map[uint64]DataStore),
		caps: ttlcache.New(
			ttlcache.WithTTL[uint64, map[string]string](capabilityTTL),
		),
	}
}

// Register adds ds. Ids must be unique.
func (m *Manager) Register(ds DataStore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stores[ds.ID()]; ok {
		return fmt.Errorf("store %d already registered", ds.ID())
	}
	m.stores[ds.ID()] = ds
	m.order = append(m.order, ds.ID())
	return nil
}

// Store returns the store with id.
func (m *Manager) Store(id uint64) (DataStore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ds, ok := m.stores[id]
	if !ok {
		return nil, errclass.ErrStoreUnavailable.WithMessagef("store %d is not registered", id)
	}
	return ds, nil
}

// StoreByUUID returns the store with uuid.
func (m *Manager) StoreByUUID(uuid string) (DataStore, error) {
	for _, ds := range m.Stores() {
		if ds.UUID() == uuid {
			return ds, nil
		}
	}
	return nil, errclass.ErrStoreUnavailable.WithMessagef("store %s is not registered", uuid)
}

// PrimaryStore returns the primary store with id.
func (m *Manager) PrimaryStore(id uint64) (DataStore, error) {
	ds, err := m.Store(id)
	if err != nil {
		return nil, err
	}
	if ds.Role() != model.RolePrimary {
		return nil, errclass.ErrStoreUnavailable.WithMessagef("store %d is not a primary store", id)
	}
	return ds, nil
}

// ImageStores returns the image stores of a zone in registration order.
func (m *Manager) ImageStores(zone uint64) []DataStore {
	var out []DataStore
	for _, ds := range m.Stores() {
		if ds.Role() == model.RoleImage && ds.DataCenterID() == zone {
			out = append(out, ds)
		}
	}
	return out
}

// DefaultImageStore returns the first image store of a zone.
func (m *Manager) DefaultImageStore(zone uint64) (DataStore, error) {
	stores := m.ImageStores(zone)
	if len(stores) == 0 {
		return nil, errclass.ErrStoreUnavailable.WithMessagef("zone %d has no image store", zone)
	}
	return stores[0], nil
}

// Stores returns every store in registration order.
func (m *Manager) Stores() []DataStore {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]DataStore, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.stores[id])
	}
	return out
}

// Capabilities returns the capabilities of store id, asking the driver at
// most once per cache TTL.
func (m *Manager) Capabilities(id uint64) (map[string]string, error) {
	if item := m.caps.Get(id); item != nil {
		return item.Value(), nil
	}
	ds, err := m.Store(id)
	if err != nil {
		return nil, err
	}
	caps := ds.Capabilities()
	m.caps.Set(id, caps, ttlcache.DefaultTTL)
	return caps, nil
}

// HasCapability reports whether store id advertises key with value "true".
func (m *Manager) HasCapability(id uint64, key string) bool {
	caps, err := m.Capabilities(id)
	if err != nil {
		return false
	}
	return caps[key] == "true"
}

// InvalidateCapabilities drops the cached capabilities of store id.
func (m *Manager) InvalidateCapabilities(id uint64) {
	m.caps.Delete(id)
}
