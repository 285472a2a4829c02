package async_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/volsnap/internal/async"
	"github.com/jvs-project/volsnap/pkg/errclass"
)

func TestFuture_FirstCompletionWins(t *testing.T) {
	f := async.NewFuture[string]()
	assert.False(t, f.IsDone())

	assert.True(t, f.Complete("first"))
	assert.False(t, f.Complete("second"))
	assert.True(t, f.IsDone())

	v, err := f.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestFuture_GetBlocksUntilComplete(t *testing.T) {
	f := async.NewFuture[int]()
	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Complete(42)
	}()

	v, err := f.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	<-f.Done()
}

func TestFuture_CancelledWaitIsInterrupted(t *testing.T) {
	f := async.NewFuture[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Get(ctx)
	assert.True(t, errors.Is(err, errclass.ErrInterrupted))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestWithWaitTimeout(t *testing.T) {
	ctx, cancel := async.WithWaitTimeout(context.Background(), 0)
	defer cancel()
	_, ok := ctx.Deadline()
	assert.False(t, ok)

	ctx2, cancel2 := async.WithWaitTimeout(context.Background(), time.Millisecond)
	defer cancel2()
	_, err := async.NewFuture[int]().Get(ctx2)
	assert.True(t, errors.Is(err, errclass.ErrInterrupted))
}

func TestDispatcher_CallbackRunsOnce(t *testing.T) {
	var calls atomic.Int32
	var got string
	d := async.NewDispatcher("test", "ctx-7", func(c string, r string) {
		calls.Add(1)
		got = c + "/" + r
	})

	var wg sync.WaitGroup
	var fired atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Complete("done") {
				fired.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, "ctx-7/done", got)
	assert.Equal(t, "ctx-7", d.Context())
}

func TestExecutor_RunsOffCallerGoroutine(t *testing.T) {
	e := async.NewExecutor(2)
	defer e.Stop()

	f := async.NewFuture[int]()
	require.NoError(t, e.Submit(func() { f.Complete(1) }))

	v, err := f.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestExecutor_SurvivesPanic(t *testing.T) {
	e := async.NewExecutor(1)
	defer e.Stop()

	require.NoError(t, e.Submit(func() { panic("boom") }))

	f := async.NewFuture[bool]()
	require.NoError(t, e.Submit(func() { f.Complete(true) }))
	v, err := f.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, v)
}

func TestExecutor_SubmitAfterStop(t *testing.T) {
	e := async.NewExecutor(1)
	require.NoError(t, e.Stop())

	err := e.Submit(func() {})
	assert.True(t, errors.Is(err, errclass.ErrExecutorStopped))
}

func TestGo_PanicFailsCompletion(t *testing.T) {
	e := async.NewExecutor(1)
	defer e.Stop()

	f := async.NewFuture[error]()
	async.Go(e, func() { panic("driver bug") }, func(err error) { f.Complete(err) })

	err, getErr := f.Get(context.Background())
	require.NoError(t, getErr)
	assert.ErrorContains(t, err, "driver bug")
}

func TestGo_StoppedExecutor(t *testing.T) {
	e := async.NewExecutor(1)
	require.NoError(t, e.Stop())

	f := async.NewFuture[error]()
	async.Go(e, func() { f.Complete(nil) }, func(err error) { f.Complete(err) })

	err, _ := f.Get(context.Background())
	assert.True(t, errors.Is(err, errclass.ErrExecutorStopped))
}
