package engine

import (
	"os"

	"github.com/jvs-project/volsnap/pkg/model"
)

// ReflinkEngine performs reflink (CoW) copies on supported filesystems and
// falls back to a byte copy per file when the ioctl is refused.
type ReflinkEngine struct{}

// NewReflinkEngine creates a new ReflinkEngine.
func NewReflinkEngine() *ReflinkEngine {
	return &ReflinkEngine{}
}

// Name returns the engine type.
func (e *ReflinkEngine) Name() model.EngineType {
	return model.EngineReflinkCopy
}

// NativeClone is true: reflinked files share extents with their source.
func (e *ReflinkEngine) NativeClone() bool {
	return true
}

// Clone reflinks src to dst, degrading per file to a plain copy.
func (e *ReflinkEngine) Clone(src, dst string) (*CloneResult, error) {
	return cloneTree(src, dst, func(s, d string, info os.FileInfo) (string, error) {
		if err := reflinkFile(s, d, info); err == nil {
			return "", nil
		}
		return "reflink", copyFile(s, d, info)
	})
}
