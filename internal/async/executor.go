package async

import (
	"fmt"

	"gopkg.in/tomb.v2"

	"github.com/jvs-project/volsnap/pkg/errclass"
	"github.com/jvs-project/volsnap/pkg/logging"
)

// Executor is a fixed pool of workers supervised by a tomb. Submitted tasks
// never run on the submitting goroutine.
type Executor struct {
	tomb   tomb.Tomb
	tasks  chan func()
	logger *logging.Logger
}

// NewExecutor starts workers goroutines. A non-positive count starts one.
func NewExecutor(workers int) *Executor {
	if workers < 1 {
		workers = 1
	}
	e := &Executor{
		tasks:  make(chan func()),
		logger: logging.WithFields(map[string]any{"component": "executor"}),
	}
	for i := 0; i < workers; i++ {
		e.tomb.Go(e.loop)
	}
	return e
}

func (e *Executor) loop() error {
	for {
		select {
		case <-e.tomb.Dying():
			return nil
		case task := <-e.tasks:
			e.run(task)
		}
	}
}

func (e *Executor) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("task panicked", map[string]any{"panic": fmt.Sprint(r)})
		}
	}()
	task()
}

// Submit hands fn to a worker, blocking while every worker is busy. A task
// accepted by Submit always runs.
func (e *Executor) Submit(fn func()) error {
	select {
	case <-e.tomb.Dying():
		return errclass.ErrExecutorStopped
	case e.tasks <- fn:
		return nil
	}
}

// Stop waits for running tasks and stops the workers.
func (e *Executor) Stop() error {
	e.tomb.Kill(nil)
	return e.tomb.Wait()
}
