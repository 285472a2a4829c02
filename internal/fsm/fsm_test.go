package fsm_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/volsnap/internal/fsm"
	"github.com/jvs-project/volsnap/pkg/errclass"
)

type entity struct {
	id    int
	state string
}

type memPersister struct {
	mu      sync.Mutex
	stored  map[int]string
	updates atomic.Int32
	// loseFirst makes the first n compare-and-sets fail after moving the
	// stored state to raceTo.
	loseFirst int
	raceTo    string
	fail      error
}

func newMemPersister(states map[int]string) *memPersister {
	return &memPersister{stored: states}
}

func (p *memPersister) CurrentState(obj *entity) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stored[obj.id], nil
}

func (p *memPersister) UpdateState(current, event, next string, obj *entity, data any) (bool, error) {
	p.updates.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return false, p.fail
	}
	if p.loseFirst > 0 {
		p.loseFirst--
		if p.raceTo != "" {
			p.stored[obj.id] = p.raceTo
		}
		return false, nil
	}
	if p.stored[obj.id] != current {
		return false, nil
	}
	p.stored[obj.id] = next
	obj.state = next
	return true, nil
}

func stateOf(e *entity) string { return e.state }

func volumeLike(t *testing.T, listeners ...fsm.Listener[string, string, *entity]) *fsm.Machine[string, string, *entity] {
	b := fsm.NewBuilder[string, string, *entity]("volume", stateOf).
		AddTransition("Ready", "SnapshotRequested", "Snapshotting").
		AddTransition("Snapshotting", "OperationSucceeded", "Ready").
		AddTransition("Snapshotting", "OperationFailed", "Ready").
		AddTransition("Busy", "SnapshotRequested", "Snapshotting").
		WithRetry(3, time.Millisecond)
	for _, l := range listeners {
		b.AddListener(l)
	}
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

func TestBuild_DuplicateTransition(t *testing.T) {
	_, err := fsm.NewBuilder[string, string, *entity]("dup", stateOf).
		AddTransition("A", "go", "B").
		AddTransition("A", "go", "C").
		Build()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errclass.ErrDuplicateTransition))
}

func TestBuild_RequiresStateAccessor(t *testing.T) {
	_, err := fsm.NewBuilder[string, string, *entity]("nil", nil).Build()
	assert.Error(t, err)
}

func TestNextState(t *testing.T) {
	m := volumeLike(t)

	next, err := m.NextState("Ready", "SnapshotRequested")
	require.NoError(t, err)
	assert.Equal(t, "Snapshotting", next)

	_, err = m.NextState("Ready", "OperationSucceeded")
	assert.True(t, errors.Is(err, errclass.ErrNoTransition))
	assert.Len(t, m.Transitions(), 4)
	assert.Equal(t, "volume", m.Name())
}

func TestTransit_IllegalLeavesStoreUntouched(t *testing.T) {
	p := newMemPersister(map[int]string{1: "Ready"})
	m := volumeLike(t)
	e := &entity{id: 1, state: "Ready"}

	_, err := m.Transit(e, "OperationFailed", nil, p)
	assert.True(t, errors.Is(err, errclass.ErrNoTransition))
	assert.Equal(t, int32(0), p.updates.Load())
	assert.Equal(t, "Ready", p.stored[1])
	assert.Equal(t, "Ready", e.state)
}

func TestTransit_NotifiesListenersInOrder(t *testing.T) {
	var calls []string
	first := fsm.ListenerFunc[string, string, *entity](func(tr fsm.Transition[string, string], obj *entity, data any) error {
		calls = append(calls, "first:"+tr.From+">"+tr.To)
		return errors.New("ignored")
	})
	second := fsm.ListenerFunc[string, string, *entity](func(tr fsm.Transition[string, string], obj *entity, data any) error {
		calls = append(calls, "second:"+data.(string))
		return nil
	})
	p := newMemPersister(map[int]string{1: "Ready"})
	m := volumeLike(t, first, second)

	next, err := m.Transit(&entity{id: 1, state: "Ready"}, "SnapshotRequested", "payload", p)
	require.NoError(t, err)
	assert.Equal(t, "Snapshotting", next)
	assert.Equal(t, []string{"first:Ready>Snapshotting", "second:payload"}, calls)
}

func TestTransit_ReReadsAfterLostRace(t *testing.T) {
	p := newMemPersister(map[int]string{1: "Ready"})
	p.loseFirst = 1
	p.raceTo = "Busy"
	m := volumeLike(t)
	e := &entity{id: 1, state: "Ready"}

	next, err := m.Transit(e, "SnapshotRequested", nil, p)
	require.NoError(t, err)
	assert.Equal(t, "Snapshotting", next)
	assert.Equal(t, int32(2), p.updates.Load())
}

func TestTransit_GivesUpAfterAttempts(t *testing.T) {
	p := newMemPersister(map[int]string{1: "Ready"})
	p.loseFirst = 100
	m := volumeLike(t)

	_, err := m.Transit(&entity{id: 1, state: "Ready"}, "SnapshotRequested", nil, p)
	assert.True(t, errors.Is(err, errclass.ErrConcurrentUpdate))
	assert.Equal(t, int32(3), p.updates.Load())
}

func TestTransit_PersisterErrorIsFatal(t *testing.T) {
	boom := errors.New("disk gone")
	p := newMemPersister(map[int]string{1: "Ready"})
	p.fail = boom
	m := volumeLike(t)

	_, err := m.Transit(&entity{id: 1, state: "Ready"}, "SnapshotRequested", nil, p)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), p.updates.Load())
}

func TestTransit_ConcurrentCallersOneWinner(t *testing.T) {
	p := newMemPersister(map[int]string{1: "Ready"})
	m := volumeLike(t)

	const callers = 16
	var (
		wg      sync.WaitGroup
		won     atomic.Int32
		refused atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Transit(&entity{id: 1, state: "Ready"}, "SnapshotRequested", nil, p)
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, errclass.ErrNoTransition):
				refused.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, int32(callers-1), refused.Load())
	assert.Equal(t, "Snapshotting", p.stored[1])
}
