package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	op      string
	current int
	total   int
	message string
}

func recorder() (Callback, func() []call) {
	var mu sync.Mutex
	var calls []call
	cb := func(op string, current, total int, message string) {
		mu.Lock()
		calls = append(calls, call{op, current, total, message})
		mu.Unlock()
	}
	return cb, func() []call {
		mu.Lock()
		defer mu.Unlock()
		return append([]call(nil), calls...)
	}
}

func TestNew_DefaultsToNoop(t *testing.T) {
	p := New("verify", 3, nil)
	assert.NotPanics(t, func() { p.Increment("x") })
	assert.Equal(t, 1, p.Current())
}

func TestIncrementAndDone(t *testing.T) {
	cb, calls := recorder()
	p := New("gc", 4, cb)

	p.Increment("snapshot 1")
	p.Increment("snapshot 2")
	p.Done("finished")

	got := calls()
	require.Len(t, got, 3)
	assert.Equal(t, call{"gc", 1, 4, "snapshot 1"}, got[0])
	assert.Equal(t, call{"gc", 2, 4, "snapshot 2"}, got[1])
	assert.Equal(t, call{"gc", 4, 4, "finished"}, got[2])
	assert.Equal(t, 4, p.Current())
}

func TestIncrement_Concurrent(t *testing.T) {
	p := New("gc", 100, nil)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Increment("")
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, p.Current())
}

func TestTerminal_Render(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, true)
	cb := term.Callback()

	cb("verify", 5, 10, "snapshot 3")
	out := buf.String()
	assert.Contains(t, out, "verify [")
	assert.Contains(t, out, "5/10 (50%)")
	assert.Contains(t, out, "snapshot 3")
	assert.Contains(t, out, strings.Repeat("=", 15)+strings.Repeat(" ", 15))

	cb("verify", 10, 10, "")
	assert.Contains(t, buf.String(), "10/10 (100%)")

	term.Finish()
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestTerminal_ClampsAndZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, true)

	term.Callback()("gc", 3, 0, "")
	assert.Contains(t, buf.String(), "1/1 (100%)")
}

func TestTerminal_Disabled(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, false)
	assert.False(t, term.IsEnabled())

	term.Callback()("verify", 1, 2, "")
	term.Finish()
	assert.Empty(t, buf.String())

	term.SetEnabled(true)
	term.Callback()("verify", 1, 2, "")
	assert.NotEmpty(t, buf.String())
}
