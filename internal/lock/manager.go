// Package lock implements the in-process lock table used to serialise work on
// a snapshot row or a whole delta chain.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/jvs-project/volsnap/pkg/errclass"
	"github.com/jvs-project/volsnap/pkg/logging"
	"github.com/jvs-project/volsnap/pkg/model"
	"github.com/jvs-project/volsnap/pkg/uuidutil"
)

// DefaultPolicy is used when a zero policy is supplied.
var DefaultPolicy = model.LockPolicy{
	DefaultLeaseTTL: 5 * time.Minute,
	PollInterval:    100 * time.Millisecond,
}

// Manager is a lock table keyed by string. Each held entry carries a holder
// nonce, a lease and a fencing token that grows every time the key changes
// hands.
type Manager struct {
	policy model.LockPolicy
	clock  clock.Clock
	logger *logging.Logger

	mu      sync.Mutex
	held    map[string]*model.LockRecord
	tokens  map[string]int64
	changed chan struct{}
}

// NewManager creates a lock table.
func NewManager(policy model.LockPolicy, clk clock.Clock) *Manager {
	if policy.DefaultLeaseTTL <= 0 {
		policy.DefaultLeaseTTL = DefaultPolicy.DefaultLeaseTTL
	}
	if policy.PollInterval <= 0 {
		policy.PollInterval = DefaultPolicy.PollInterval
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Manager{
		policy:  policy,
		clock:   clk,
		logger:  logging.WithFields(map[string]any{"component": "lock"}),
		held:    make(map[string]*model.LockRecord),
		tokens:  make(map[string]int64),
		changed: make(chan struct{}),
	}
}

// Acquire takes key, waiting up to wait for the current holder to release
// it. An expired lease is taken over.
func (m *Manager) Acquire(ctx context.Context, key, purpose string, wait time.Duration) (*model.LockRecord, error) {
	deadline := m.clock.Now().Add(wait)
	for {
		rec, wake, holder := m.tryAcquire(key, purpose)
		if rec != nil {
			return rec, nil
		}

		remaining := deadline.Sub(m.clock.Now())
		if remaining <= 0 {
			return nil, errclass.ErrLockConflict.WithMessagef("%s is held for %q", key, holder)
		}
		poll := m.policy.PollInterval
		if remaining < poll {
			poll = remaining
		}
		select {
		case <-ctx.Done():
			return nil, errclass.ErrInterrupted.Wrap(ctx.Err(), "waiting for lock "+key)
		case <-wake:
		case <-m.clock.After(poll):
		}
	}
}

func (m *Manager) tryAcquire(key, purpose string) (*model.LockRecord, <-chan struct{}, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now().UTC()
	if cur, ok := m.held[key]; ok {
		if !cur.IsExpired(now) {
			return nil, m.changed, cur.Purpose
		}
		m.logger.Warn("taking over expired lock", map[string]any{
			"key":           key,
			"previous":      cur.Purpose,
			"fencing_token": cur.FencingToken,
		})
	}

	m.tokens[key]++
	rec := &model.LockRecord{
		Key:          key,
		HolderNonce:  uuidutil.NewV4(),
		AcquiredAt:   now,
		ExpiresAt:    now.Add(m.policy.DefaultLeaseTTL),
		FencingToken: m.tokens[key],
		Purpose:      purpose,
	}
	m.held[key] = rec
	cp := *rec
	return &cp, nil, ""
}

// Renew extends the lease on a held lock.
func (m *Manager) Renew(key, holderNonce string) (*model.LockRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.held[key]
	if !ok {
		return nil, errclass.ErrLockNotHeld.WithMessage("no lock held")
	}
	if rec.HolderNonce != holderNonce {
		return nil, errclass.ErrLockNotHeld.WithMessage("nonce mismatch")
	}
	now := m.clock.Now().UTC()
	if rec.IsExpired(now) {
		return nil, errclass.ErrLockExpired.WithMessage("lock has expired")
	}
	rec.ExpiresAt = now.Add(m.policy.DefaultLeaseTTL)
	cp := *rec
	return &cp, nil
}

// Release frees key. Releasing a key that is not held is a no-op.
func (m *Manager) Release(key, holderNonce string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.held[key]
	if !ok {
		return nil
	}
	if rec.HolderNonce != holderNonce {
		return errclass.ErrLockNotHeld.WithMessage("cannot release: nonce mismatch")
	}
	delete(m.held, key)
	close(m.changed)
	m.changed = make(chan struct{})
	return nil
}

// ValidateFencing checks that token is the current holder's token.
func (m *Manager) ValidateFencing(key string, token int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.held[key]
	if !ok {
		return errclass.ErrLockNotHeld.WithMessage("no lock held")
	}
	if rec.FencingToken != token {
		return errclass.ErrLockNotHeld.WithMessagef("expected token %d, got %d", rec.FencingToken, token)
	}
	return nil
}

// Status returns the current lock state of key.
func (m *Manager) Status(key string) (model.LockState, *model.LockRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.held[key]
	if !ok {
		return model.LockStateFree, nil
	}
	cp := *rec
	if rec.IsExpired(m.clock.Now()) {
		return model.LockStateExpired, &cp
	}
	return model.LockStateHeld, &cp
}
