// Package fsm implements the table driven state machines that govern
// snapshots, volumes and store references.
//
// A Machine is built once through a Builder and is immutable afterwards.
// Transit commits a transition through a Persister whose UpdateState is a
// compare-and-set on the stored state, so two callers racing on the same
// entity cannot both win.
package fsm

import (
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"github.com/jvs-project/volsnap/pkg/errclass"
	"github.com/jvs-project/volsnap/pkg/logging"
)

const (
	defaultAttempts = 5
	defaultDelay    = 5 * time.Millisecond
)

// Transition is one committed edge of a machine.
type Transition[S, E comparable] struct {
	From  S
	Event E
	To    S
}

// Persister stores entity state. UpdateState must only write when the
// stored state still equals current, reporting false otherwise.
type Persister[S, E comparable, O any] interface {
	CurrentState(obj O) (S, error)
	UpdateState(current S, event E, next S, obj O, data any) (bool, error)
}

// Listener observes committed transitions.
type Listener[S, E comparable, O any] interface {
	OnTransition(t Transition[S, E], obj O, data any) error
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc[S, E comparable, O any] func(t Transition[S, E], obj O, data any) error

// OnTransition calls f.
func (f ListenerFunc[S, E, O]) OnTransition(t Transition[S, E], obj O, data any) error {
	return f(t, obj, data)
}

type edge[S, E comparable] struct {
	from  S
	event E
}

// Builder accumulates transitions and listeners for a Machine.
type Builder[S, E comparable, O any] struct {
	name      string
	stateOf   func(O) S
	table     map[edge[S, E]]S
	order     []Transition[S, E]
	listeners []Listener[S, E, O]
	attempts  int
	delay     time.Duration
	clock     clock.Clock
	errs      []error
}

// NewBuilder starts a machine called name. stateOf reads the in-memory
// state of an entity.
func NewBuilder[S, E comparable, O any](name string, stateOf func(O) S) *Builder[S, E, O] {
	return &Builder[S, E, O]{
		name:     name,
		stateOf:  stateOf,
		table:    make(map[edge[S, E]]S),
		attempts: defaultAttempts,
		delay:    defaultDelay,
		clock:    clock.WallClock,
	}
}

// AddTransition declares from --event--> to.
func (b *Builder[S, E, O]) AddTransition(from S, event E, to S) *Builder[S, E, O] {
	k := edge[S, E]{from: from, event: event}
	if existing, ok := b.table[k]; ok {
		b.errs = append(b.errs, errclass.ErrDuplicateTransition.WithMessagef(
			"%s: %v --%v--> already leads to %v", b.name, from, event, existing))
		return b
	}
	b.table[k] = to
	b.order = append(b.order, Transition[S, E]{From: from, Event: event, To: to})
	return b
}

// AddListener registers l. Listeners run in registration order.
func (b *Builder[S, E, O]) AddListener(l Listener[S, E, O]) *Builder[S, E, O] {
	b.listeners = append(b.listeners, l)
	return b
}

// WithRetry bounds how often Transit re-reads state after losing a race.
func (b *Builder[S, E, O]) WithRetry(attempts int, delay time.Duration) *Builder[S, E, O] {
	b.attempts = attempts
	b.delay = delay
	return b
}

// WithClock sets the clock used between retries.
func (b *Builder[S, E, O]) WithClock(c clock.Clock) *Builder[S, E, O] {
	b.clock = c
	return b
}

// Build returns the immutable machine or the first configuration error.
func (b *Builder[S, E, O]) Build() (*Machine[S, E, O], error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	if b.stateOf == nil {
		return nil, fmt.Errorf("fsm %s: state accessor is required", b.name)
	}
	if b.attempts < 1 || b.delay <= 0 {
		return nil, fmt.Errorf("fsm %s: retry policy must be positive", b.name)
	}

	table := make(map[edge[S, E]]S, len(b.table))
	for k, v := range b.table {
		table[k] = v
	}
	return &Machine[S, E, O]{
		name:      b.name,
		stateOf:   b.stateOf,
		table:     table,
		order:     append([]Transition[S, E](nil), b.order...),
		listeners: append([]Listener[S, E, O](nil), b.listeners...),
		attempts:  b.attempts,
		delay:     b.delay,
		clock:     b.clock,
		logger:    logging.WithFields(map[string]any{"component": "fsm", "machine": b.name}),
	}, nil
}

// Machine is an immutable transition table. Safe for concurrent use.
type Machine[S, E comparable, O any] struct {
	name      string
	stateOf   func(O) S
	table     map[edge[S, E]]S
	order     []Transition[S, E]
	listeners []Listener[S, E, O]
	attempts  int
	delay     time.Duration
	clock     clock.Clock
	logger    *logging.Logger
}

// Name returns the machine name.
func (m *Machine[S, E, O]) Name() string {
	return m.name
}

// Transitions returns the table in declaration order.
func (m *Machine[S, E, O]) Transitions() []Transition[S, E] {
	return append([]Transition[S, E](nil), m.order...)
}

// NextState returns the target of from --event-->.
func (m *Machine[S, E, O]) NextState(from S, event E) (S, error) {
	to, ok := m.table[edge[S, E]{from: from, event: event}]
	if !ok {
		var zero S
		return zero, errclass.ErrNoTransition.WithMessagef("%s: no transition from %v on %v", m.name, from, event)
	}
	return to, nil
}

var errLostRace = errors.New("state changed underneath")

// Transit moves obj along event and persists the result. It returns the new
// state. An illegal transition fails without touching p. When the
// compare-and-set loses, the stored state is re-read and the transition
// re-evaluated, up to the configured attempts.
func (m *Machine[S, E, O]) Transit(obj O, event E, data any, p Persister[S, E, O]) (S, error) {
	var (
		committed Transition[S, E]
		fatal     error
		attempt   int
	)
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			current := m.stateOf(obj)
			if attempt > 0 {
				stored, err := p.CurrentState(obj)
				if err != nil {
					fatal = fmt.Errorf("%s: read state: %w", m.name, err)
					return fatal
				}
				current = stored
			}
			attempt++

			next, err := m.NextState(current, event)
			if err != nil {
				fatal = err
				return err
			}
			ok, err := p.UpdateState(current, event, next, obj, data)
			if err != nil {
				fatal = fmt.Errorf("%s: update state: %w", m.name, err)
				return fatal
			}
			if !ok {
				return errLostRace
			}
			committed = Transition[S, E]{From: current, Event: event, To: next}
			return nil
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, errLostRace)
		},
		NotifyFunc: func(err error, attempt int) {
			m.logger.Debug("transition lost race, retrying", map[string]any{"event": event, "attempt": attempt})
		},
		Attempts: m.attempts,
		Delay:    m.delay,
		Clock:    m.clock,
	})
	if err != nil {
		var zero S
		if fatal != nil {
			return zero, fatal
		}
		return zero, errclass.ErrConcurrentUpdate.WithMessagef("%s: %v lost %d races", m.name, event, attempt)
	}

	m.notify(committed, obj, data)
	return committed.To, nil
}

func (m *Machine[S, E, O]) notify(t Transition[S, E], obj O, data any) {
	for _, l := range m.listeners {
		if err := l.OnTransition(t, obj, data); err != nil {
			m.logger.WarnErr("transition listener failed", err, map[string]any{
				"from":  t.From,
				"event": t.Event,
				"to":    t.To,
			})
		}
	}
}
