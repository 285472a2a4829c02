package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getProjectRoot returns the absolute path to the project root.
func getProjectRoot(t *testing.T) string {
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	t.Fatal("go.mod not found")
	return ""
}

// buildBinary compiles cmd/volsnap into a temp dir.
func buildBinary(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping build test in short mode")
	}
	binPath := filepath.Join(t.TempDir(), "volsnap")
	buildCmd := exec.Command("go", "build", "-o", binPath, ".")
	buildCmd.Dir = filepath.Join(getProjectRoot(t), "cmd", "volsnap")
	output, err := buildCmd.CombinedOutput()
	require.NoError(t, err, "build failed: %s", string(output))
	return binPath
}

func TestMainHelpFlag(t *testing.T) {
	bin := buildBinary(t)

	out, err := exec.Command(bin, "--help").CombinedOutput()
	require.NoError(t, err)
	assert.Contains(t, string(out), "volsnap")
	assert.Contains(t, string(out), "snapshot")
}

func TestMainUnknownCommand(t *testing.T) {
	bin := buildBinary(t)

	out, err := exec.Command(bin, "unknown-command-xyz").CombinedOutput()
	assert.Error(t, err)
	assert.Contains(t, strings.ToLower(string(out)), "unknown")
}

func TestBinaryConfigAndStores(t *testing.T) {
	bin := buildBinary(t)
	cfg := filepath.Join(t.TempDir(), "volsnap.yaml")

	out, err := exec.Command(bin, "--config", cfg, "config", "init").CombinedOutput()
	require.NoError(t, err, string(out))

	out, err = exec.Command(bin, "--config", cfg, "--json", "store", "list").CombinedOutput()
	require.NoError(t, err, string(out))
	assert.Contains(t, string(out), `"role": "Primary"`)
	assert.Contains(t, string(out), `"role": "Image"`)
}

func TestMainEntryPoints(t *testing.T) {
	_ = main
}
