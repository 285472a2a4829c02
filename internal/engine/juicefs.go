package engine

import (
	"bufio"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/jvs-project/volsnap/pkg/logging"
	"github.com/jvs-project/volsnap/pkg/model"
)

// JuiceFSEngine clones with `juicefs clone`, which is a metadata-only
// operation on a JuiceFS mount. Off JuiceFS it degrades to a byte copy.
type JuiceFSEngine struct {
	fallback   *CopyEngine
	mountsFile string
	command    string
}

// NewJuiceFSEngine creates a new JuiceFSEngine.
func NewJuiceFSEngine() *JuiceFSEngine {
	return &JuiceFSEngine{
		fallback:   NewCopyEngine(),
		mountsFile: "/proc/mounts",
		command:    "juicefs",
	}
}

// Name returns the engine type.
func (e *JuiceFSEngine) Name() model.EngineType {
	return model.EngineJuiceFSClone
}

// NativeClone is true: juicefs clone shares chunks with the source.
func (e *JuiceFSEngine) NativeClone() bool {
	return true
}

// Clone runs juicefs clone, degrading to copy when the command is missing,
// src is not on JuiceFS, or the clone fails.
func (e *JuiceFSEngine) Clone(src, dst string) (*CloneResult, error) {
	switch {
	case !e.available():
		return e.degraded(src, dst, "juicefs-not-available")
	case !e.onJuiceFS(src):
		return e.degraded(src, dst, "not-on-juicefs")
	}

	out, err := exec.Command(e.command, "clone", src, dst, "-p").CombinedOutput()
	if err != nil {
		logging.Warn("juicefs clone failed, copying instead", map[string]any{
			"src":    src,
			"output": strings.TrimSpace(string(out)),
		})
		os.RemoveAll(dst)
		return e.degraded(src, dst, "juicefs-clone-failed")
	}
	return &CloneResult{}, nil
}

func (e *JuiceFSEngine) degraded(src, dst, kind string) (*CloneResult, error) {
	result, err := e.fallback.Clone(src, dst)
	if err != nil {
		return nil, err
	}
	result.degrade(kind)
	return result, nil
}

func (e *JuiceFSEngine) available() bool {
	_, err := exec.LookPath(e.command)
	return err == nil
}

// onJuiceFS reports whether path lies under a mount whose filesystem type
// names juicefs.
func (e *JuiceFSEngine) onJuiceFS(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	f, err := os.Open(e.mountsFile)
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 || !strings.Contains(strings.ToLower(fields[2]), "juicefs") {
			continue
		}
		mount := fields[1]
		if abs == mount || strings.HasPrefix(abs, strings.TrimSuffix(mount, "/")+"/") {
			return true
		}
	}
	return false
}
