package async

import (
	"fmt"
	"sync"

	"github.com/jvs-project/volsnap/pkg/logging"
	"github.com/jvs-project/volsnap/pkg/metrics"
)

// Dispatcher delivers one backend result to a callback bound to a context
// value. Later completions are dropped.
type Dispatcher[C, R any] struct {
	ctx      C
	callback func(C, R)
	once     sync.Once
	name     string
}

// NewDispatcher binds ctx and callback. name appears in logs.
func NewDispatcher[C, R any](name string, ctx C, callback func(C, R)) *Dispatcher[C, R] {
	return &Dispatcher[C, R]{ctx: ctx, callback: callback, name: name}
}

// Context returns the bound context value.
func (d *Dispatcher[C, R]) Context() C {
	return d.ctx
}

// Complete invokes the callback with r the first time it is called and
// reports whether it did.
func (d *Dispatcher[C, R]) Complete(r R) bool {
	fired := false
	d.once.Do(func() {
		fired = true
		d.callback(d.ctx, r)
	})
	if !fired {
		metrics.Default().IncDuplicateCompletion()
		logging.Warn("duplicate completion dropped", map[string]any{"dispatcher": d.name})
	}
	return fired
}

// Go runs call on e. If call panics, onPanic receives the panic as an
// error so the caller can fail its completion. When e is stopped, onPanic
// receives errclass.ErrExecutorStopped.
func Go(e *Executor, call func(), onPanic func(error)) {
	err := e.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				onPanic(fmt.Errorf("backend panic: %v", r))
			}
		}()
		call()
	})
	if err != nil {
		onPanic(err)
	}
}
