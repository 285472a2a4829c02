package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jvs-project/volsnap/pkg/model"
)

// EnvOverride forces the engine used by Detect.
const EnvOverride = "VOLSNAP_ENGINE"

// NewEngine creates an engine of the given type, falling back to copy for
// unknown types.
func NewEngine(engineType model.EngineType) Engine {
	switch engineType {
	case model.EngineJuiceFSClone:
		return NewJuiceFSEngine()
	case model.EngineReflinkCopy:
		return NewReflinkEngine()
	default:
		return NewCopyEngine()
	}
}

// ForStore resolves a store's configured engine name. "auto" or "" detects
// the best engine for root.
func ForStore(name, root string) (Engine, error) {
	switch name {
	case "", "auto":
		return Detect(root)
	case "juicefs", string(model.EngineJuiceFSClone):
		return NewJuiceFSEngine(), nil
	case "reflink", string(model.EngineReflinkCopy):
		return NewReflinkEngine(), nil
	case string(model.EngineCopy):
		return NewCopyEngine(), nil
	}
	return nil, fmt.Errorf("unknown engine %q", name)
}

// Detect picks the best engine for root: juicefs-clone when root is on a
// JuiceFS mount, reflink-copy when the filesystem supports FICLONE,
// otherwise copy. EnvOverride wins when set to a known engine.
func Detect(root string) (Engine, error) {
	if name := os.Getenv(EnvOverride); name != "" && name != "auto" {
		if eng, err := ForStore(name, root); err == nil {
			return eng, nil
		}
	}

	juicefs := NewJuiceFSEngine()
	if juicefs.available() && juicefs.onJuiceFS(root) {
		return juicefs, nil
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("prepare %s: %w", root, err)
	}
	probe, err := os.MkdirTemp(root, ".volsnap-reflink-probe-")
	if err == nil {
		defer os.RemoveAll(probe)
		src := filepath.Join(probe, "src")
		if err := os.WriteFile(src, []byte("probe"), 0600); err == nil {
			info, statErr := os.Stat(src)
			if statErr == nil && reflinkFile(src, filepath.Join(probe, "dst"), info) == nil {
				return NewReflinkEngine(), nil
			}
		}
	}

	return NewCopyEngine(), nil
}
