package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveOperation(t *testing.T) {
	c := NewCollector()
	c.ObserveOperation("take", "generic", true, 20*time.Millisecond)
	c.ObserveOperation("take", "generic", false, time.Second)
	c.ObserveOperation("take", "generic", true, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.operations.WithLabelValues("take", "generic", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("take", "generic", ResultFailure)))
}

func TestTransitionsAndDuplicates(t *testing.T) {
	c := NewCollector()
	c.IncTransition("snapshot", "CreateRequested")
	c.IncTransition("snapshot", "CreateRequested")
	c.IncDuplicateCompletion()
	c.AddGCPurged("store_ref", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.transitions.WithLabelValues("snapshot", "CreateRequested")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.duplicateCompletions))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.gcPurged.WithLabelValues("store_ref")))
}

func TestRegister(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, Register(reg))
	assert.Error(t, Register(reg))

	Default().IncDuplicateCompletion()
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
