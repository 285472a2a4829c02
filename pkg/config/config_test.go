package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/volsnap/pkg/config"
	"github.com/jvs-project/volsnap/pkg/model"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, "16", cfg.Value(config.KeyDeltaMax))
	assert.Equal(t, 16, cfg.IntValue(config.KeyDeltaMax, 0))
	assert.Zero(t, cfg.Async.WaitTimeout)
	assert.Equal(t, 30*time.Second, cfg.Lock.WaitTimeout)
}

func TestLoad_NotExists(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), config.DefaultFileName))
	require.NoError(t, err)
	assert.Equal(t, "volsnap.db", cfg.Database.Path)
}

func TestLoad_Exists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.DefaultFileName)
	content := `
database:
  path: catalog.db
stores:
  - id: 1
    uuid: p-1
    name: primary
    role: Primary
    zone: 1
    root: /srv/primary
    engine: copy
  - id: 2
    name: image
    role: Image
    zone: 1
    root: /srv/image
async:
  workers: 2
  wait_timeout: 90s
settings:
  snapshot.delta.max: "4"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "catalog.db"), cfg.Database.Path)
	require.Len(t, cfg.Stores, 2)
	assert.Equal(t, model.RolePrimary, cfg.Stores[0].Role)
	assert.Equal(t, "copy", cfg.Stores[0].Engine)
	assert.Equal(t, 2, cfg.Async.Workers)
	assert.Equal(t, 90*time.Second, cfg.Async.WaitTimeout)
	assert.Equal(t, 4, cfg.IntValue(config.KeyDeltaMax, 16))
	assert.Equal(t, 4, cfg.GC.Concurrency)
}

func TestLoad_DeltaMaxDefaultKeptWhenSettingsPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte("settings:\n  other: x\n"), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "16", cfg.Value(config.KeyDeltaMax))
	assert.Equal(t, "x", cfg.Value("other"))
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte("stores: [this is invalid yaml\n"), 0644))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"zero id":   "stores:\n  - id: 0\n    role: Primary\n    root: /a\n",
		"dup id":    "stores:\n  - id: 1\n    role: Primary\n    root: /a\n  - id: 1\n    role: Image\n    root: /b\n",
		"bad role":  "stores:\n  - id: 1\n    role: Tape\n    root: /a\n",
		"no root":   "stores:\n  - id: 1\n    role: Image\n",
		"hook url":  "webhooks:\n  hooks:\n    - url: ftp://x\n      events: [\"*\"]\n",
		"no events": "webhooks:\n  hooks:\n    - url: http://x\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), config.DefaultFileName)
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))
			_, err := config.Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", config.DefaultFileName)
	cfg := config.Default()
	cfg.Stores = []config.StoreConfig{{ID: 7, Name: "img", Role: model.RoleImage, Root: "/x"}}
	cfg.Lock.WaitTimeout = 5 * time.Second

	require.NoError(t, config.Save(path, cfg))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	require.Len(t, loaded.Stores, 1)
	assert.Equal(t, uint64(7), loaded.Stores[0].ID)
	assert.Equal(t, 5*time.Second, loaded.Lock.WaitTimeout)
}

func TestIntValueMalformed(t *testing.T) {
	cfg := config.Default()
	cfg.Settings[config.KeyDeltaMax] = "lots"
	assert.Equal(t, 16, cfg.IntValue(config.KeyDeltaMax, 16))
}

func TestLoad_SnapshotAndWebhooks(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.DefaultFileName)
	content := `snapshot:
  name_template: "{volume}-{date}"
webhooks:
  hooks:
    - url: https://hooks.example.com/volsnap
      events: ["snapshot.*"]
      timeout: 2s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "{volume}-{date}", cfg.Snapshot.NameTemplate)
	require.Len(t, cfg.Webhooks.Hooks, 1)
	assert.Equal(t, 2*time.Second, cfg.Webhooks.Hooks[0].Timeout)
	assert.Equal(t, 3, cfg.Webhooks.MaxRetries, "defaults kept for unset fields")
}
