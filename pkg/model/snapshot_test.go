package model_test

import (
	"testing"
	"time"

	"github.com/jvs-project/volsnap/pkg/model"
	"github.com/stretchr/testify/assert"
)

func TestSnapshot_HasParent(t *testing.T) {
	s := &model.Snapshot{}
	assert.False(t, s.HasParent())

	zero := uint64(0)
	s.ParentID = &zero
	assert.False(t, s.HasParent())

	pid := uint64(7)
	s.ParentID = &pid
	assert.True(t, s.HasParent())
}

func TestSnapshot_IsRemoved(t *testing.T) {
	s := &model.Snapshot{}
	assert.False(t, s.IsRemoved())
	now := time.Now()
	s.Removed = &now
	assert.True(t, s.IsRemoved())
}

func TestStrategyPriority_Ordering(t *testing.T) {
	assert.Less(t, int(model.CantHandle), int(model.PriorityDefault))
	assert.Less(t, int(model.PriorityDefault), int(model.PriorityHypervisor))
	assert.Less(t, int(model.PriorityHypervisor), int(model.PriorityPlugin))
	assert.Less(t, int(model.PriorityPlugin), int(model.PriorityHighest))
	assert.Equal(t, "HIGHEST", model.PriorityHighest.String())
	assert.Equal(t, "CANT_HANDLE", model.CantHandle.String())
}

func TestLockRecord_IsExpired(t *testing.T) {
	now := time.Now()
	rec := &model.LockRecord{ExpiresAt: now.Add(time.Second)}
	assert.False(t, rec.IsExpired(now))
	assert.True(t, rec.IsExpired(now.Add(2*time.Second)))
}

func TestLockKeys(t *testing.T) {
	assert.Equal(t, "snapshot/12", model.SnapshotLockKey(12))
	assert.Equal(t, "chain/3", model.ChainLockKey(3))
	assert.NotEqual(t, model.SnapshotLockKey(3), model.ChainLockKey(3))
}
