// Package catalog persists snapshots, volumes and store references in an
// embedded bbolt database and exposes the compare-and-set state updates the
// state machines rely on.
package catalog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/jvs-project/volsnap/internal/lock"
	"github.com/jvs-project/volsnap/pkg/errclass"
	"github.com/jvs-project/volsnap/pkg/model"
)

var (
	bucketSnapshots = []byte("snapshots")
	bucketVolumes   = []byte("volumes")
	bucketStoreRefs = []byte("store_refs")
)

// Catalog is the persistence layer of the snapshot core.
type Catalog struct {
	db    *bolt.DB
	locks *lock.Manager
	now   func() time.Time

	mu      sync.Mutex
	rowLock map[string]*model.LockRecord
}

// Open opens (creating if needed) the database at path.
func Open(path string, locks *lock.Manager) (*Catalog, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSnapshots, bucketVolumes, bucketStoreRefs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	if locks == nil {
		locks = lock.NewManager(lock.DefaultPolicy, nil)
	}
	return &Catalog{
		db:      db,
		locks:   locks,
		now:     func() time.Time { return time.Now().UTC() },
		rowLock: make(map[string]*model.LockRecord),
	}, nil
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// AcquireInLockTable locks the snapshot row id, waiting at most wait.
func (c *Catalog) AcquireInLockTable(ctx context.Context, id uint64, wait time.Duration) error {
	return c.acquire(ctx, model.SnapshotLockKey(id), wait)
}

// ReleaseFromLockTable unlocks the snapshot row id.
func (c *Catalog) ReleaseFromLockTable(id uint64) error {
	return c.release(model.SnapshotLockKey(id))
}

// AcquireChainLock serialises chain walks over the snapshots of a volume.
func (c *Catalog) AcquireChainLock(ctx context.Context, volumeID uint64, wait time.Duration) error {
	return c.acquire(ctx, model.ChainLockKey(volumeID), wait)
}

// ReleaseChainLock releases the chain lock of a volume.
func (c *Catalog) ReleaseChainLock(volumeID uint64) error {
	return c.release(model.ChainLockKey(volumeID))
}

func (c *Catalog) acquire(ctx context.Context, key string, wait time.Duration) error {
	rec, err := c.locks.Acquire(ctx, key, "catalog", wait)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.rowLock[key] = rec
	c.mu.Unlock()
	return nil
}

func (c *Catalog) release(key string) error {
	c.mu.Lock()
	rec, ok := c.rowLock[key]
	delete(c.rowLock, key)
	c.mu.Unlock()
	if !ok {
		return errclass.ErrLockNotHeld.WithMessagef("%s is not held", key)
	}
	return c.locks.Release(key, rec.HolderNonce)
}

func itob(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

func get[T any](tx *bolt.Tx, bucket []byte, id uint64) (*T, error) {
	raw := tx.Bucket(bucket).Get(itob(id))
	if raw == nil {
		return nil, errclass.ErrNotFound.WithMessagef("%s %d", bucket, id)
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s %d: %w", bucket, id, err)
	}
	return &v, nil
}

func put(tx *bolt.Tx, bucket []byte, id uint64, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %d: %w", bucket, id, err)
	}
	return tx.Bucket(bucket).Put(itob(id), raw)
}

// scan decodes every row of bucket in id order, keeping those keep accepts.
func scan[T any](tx *bolt.Tx, bucket []byte, keep func(*T) bool) ([]*T, error) {
	var out []*T
	err := tx.Bucket(bucket).ForEach(func(k, raw []byte) error {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("decode %s %d: %w", bucket, binary.BigEndian.Uint64(k), err)
		}
		if keep == nil || keep(&v) {
			out = append(out, &v)
		}
		return nil
	})
	return out, err
}

func nextID(tx *bolt.Tx, bucket []byte) (uint64, error) {
	return tx.Bucket(bucket).NextSequence()
}
