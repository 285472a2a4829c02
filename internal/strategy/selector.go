package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/jvs-project/volsnap/internal/snapshot"
	"github.com/jvs-project/volsnap/pkg/errclass"
	"github.com/jvs-project/volsnap/pkg/logging"
	"github.com/jvs-project/volsnap/pkg/metrics"
	"github.com/jvs-project/volsnap/pkg/model"
)

// Selector is an ordered registry of strategies.
type Selector struct {
	mu         sync.RWMutex
	strategies []Strategy
}

// NewSelector creates a selector over strategies in registration order.
func NewSelector(strategies ...Strategy) *Selector {
	return &Selector{strategies: strategies}
}

// Register appends st.
func (s *Selector) Register(st Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategies = append(s.strategies, st)
}

// Select returns the strategy ranking op on snap highest. The earliest
// registered strategy wins ties.
func (s *Selector) Select(snap *snapshot.Object, op model.SnapshotOperation) (Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best     Strategy
		bestPrio = model.CantHandle
	)
	for _, st := range s.strategies {
		if p := st.CanHandle(snap, op); p > bestPrio {
			best, bestPrio = st, p
		}
	}
	if best == nil {
		return nil, errclass.ErrNoStrategy.WithMessagef("no strategy can %s snapshot %d", op, snap.ID())
	}
	return best, nil
}

// Manager runs snapshot operations by id through the selected strategy.
type Manager struct {
	selector *Selector
	factory  *snapshot.Factory
	metrics  *metrics.Collector
	logger   *logging.Logger
}

// NewManager creates a manager.
func NewManager(selector *Selector, factory *snapshot.Factory) *Manager {
	return &Manager{
		selector: selector,
		factory:  factory,
		metrics:  metrics.Default(),
		logger:   logging.WithFields(map[string]any{"component": "strategy-manager"}),
	}
}

// TakeSnapshot takes snapshot id on the primary store of its volume.
func (m *Manager) TakeSnapshot(ctx context.Context, id uint64) (*snapshot.Object, error) {
	snap, st, err := m.resolve(id, model.OpTake)
	if err != nil {
		return nil, err
	}
	defer m.observe(model.OpTake, st, time.Now(), &err)
	out, err := st.TakeSnapshot(ctx, snap)
	return out, err
}

// BackupSnapshot backs up snapshot id, which must be on primary storage.
func (m *Manager) BackupSnapshot(ctx context.Context, id uint64) (*snapshot.Object, error) {
	snap, err := m.factory.GetSnapshotOnPrimary(id)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, invalidf("snapshot %d is not on primary storage", id)
	}
	st, err := m.selector.Select(snap, model.OpBackup)
	if err != nil {
		return nil, err
	}
	defer m.observe(model.OpBackup, st, time.Now(), &err)
	out, err := st.BackupSnapshot(ctx, snap)
	return out, err
}

// DeleteSnapshot deletes snapshot id.
func (m *Manager) DeleteSnapshot(ctx context.Context, id uint64) (bool, error) {
	_, st, err := m.resolve(id, model.OpDelete)
	if err != nil {
		return false, err
	}
	defer m.observe(model.OpDelete, st, time.Now(), &err)
	ok, err := st.DeleteSnapshot(ctx, id)
	return ok, err
}

// RevertSnapshot reverts the volume of snapshot id to it.
func (m *Manager) RevertSnapshot(ctx context.Context, id uint64) (bool, error) {
	snap, st, err := m.resolve(id, model.OpRevert)
	if err != nil {
		return false, err
	}
	defer m.observe(model.OpRevert, st, time.Now(), &err)
	ok, err := st.RevertSnapshot(ctx, snap)
	return ok, err
}

func (m *Manager) resolve(id uint64, op model.SnapshotOperation) (*snapshot.Object, Strategy, error) {
	snap, err := m.factory.BindToPrimary(id)
	if err != nil {
		return nil, nil, err
	}
	st, err := m.selector.Select(snap, op)
	if err != nil {
		return nil, nil, err
	}
	m.logger.Debug("strategy selected", map[string]any{"snapshot": id, "operation": op, "strategy": st.Name()})
	return snap, st, nil
}

func (m *Manager) observe(op model.SnapshotOperation, st Strategy, start time.Time, err *error) {
	m.metrics.ObserveOperation(string(op), st.Name(), *err == nil, time.Since(start))
}
