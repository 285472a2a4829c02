package template

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var at = time.Date(2026, 3, 7, 9, 5, 2, 0, time.UTC)

func TestExpand(t *testing.T) {
	tests := []struct {
		name  string
		input string
		vars  map[string]string
		want  string
	}{
		{"date", "snap-{date}", nil, "snap-2026-03-07"},
		{"time", "snap-{time}", nil, "snap-090502"},
		{"datetime", "snap-{datetime}", nil, "snap-20260307-090502"},
		{"unix", "{unix}", nil, "1772874302"},
		{"arch", "{arch}", nil, runtime.GOARCH},
		{"custom var", "{volume}-{date}", map[string]string{"volume": "data"}, "data-2026-03-07"},
		{"var overrides builtin", "{date}", map[string]string{"date": "today"}, "today"},
		{"unknown placeholder kept", "{nope}", nil, "{nope}"},
		{"no placeholders", "plain", nil, "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Expand(tt.input, tt.vars, at))
		})
	}
}

func TestExpand_HostAndUser(t *testing.T) {
	got := Expand("{user}@{hostname}", nil, at)
	assert.NotContains(t, got, "{user}")
	assert.NotContains(t, got, "{hostname}")
}

func TestSnapshotName(t *testing.T) {
	assert.Equal(t, "data-20260307-090502", SnapshotName("", "data", 4, at))
	assert.Equal(t, "vol4-2026-03-07", SnapshotName("vol{volume_id}-{date}", "data", 4, at))
}
