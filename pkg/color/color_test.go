package color

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func restore(t *testing.T) {
	enabled, overridden := state.enabled.Load(), state.overridden.Load()
	t.Cleanup(func() {
		state.enabled.Store(enabled)
		state.overridden.Store(overridden)
	})
}

func TestEnableDisable(t *testing.T) {
	restore(t)

	Enable()
	assert.True(t, Enabled())
	Disable()
	assert.False(t, Enabled())
}

func TestInit_RespectsNoColor(t *testing.T) {
	restore(t)
	state.overridden.Store(false)

	t.Setenv("NO_COLOR", "1")
	Init(false)
	assert.False(t, Enabled())
}

func TestInit_OverrideWins(t *testing.T) {
	restore(t)
	t.Setenv("NO_COLOR", "1")

	Enable()
	Init(true)
	assert.True(t, Enabled())
}

func TestState(t *testing.T) {
	restore(t)
	Enable()

	tests := []struct {
		state string
		code  string
	}{
		{"Ready", Green},
		{"BackedUp", Green},
		{"Error", Red},
		{"Failed", Red},
		{"Destroyed", DimCode},
		{"Allocated", Blue},
		{"BackingUp", Yellow},
		{"Snapshotting", Yellow},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			assert.Equal(t, tt.code+tt.state+Reset, State(tt.state))
		})
	}
}

func TestDisabledIsPlain(t *testing.T) {
	restore(t)
	Disable()

	assert.Equal(t, "x", Success("x"))
	assert.Equal(t, "x", Error("x"))
	assert.Equal(t, "Ready", State("Ready"))
	assert.Equal(t, "ok 1", Successf("ok %d", 1))
}
