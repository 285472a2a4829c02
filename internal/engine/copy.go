package engine

import (
	"os"

	"github.com/jvs-project/volsnap/pkg/model"
)

// CopyEngine performs a full recursive copy.
type CopyEngine struct{}

// NewCopyEngine creates a new CopyEngine.
func NewCopyEngine() *CopyEngine {
	return &CopyEngine{}
}

// Name returns the engine type.
func (e *CopyEngine) Name() model.EngineType {
	return model.EngineCopy
}

// NativeClone is false: every byte is copied.
func (e *CopyEngine) NativeClone() bool {
	return false
}

// Clone recursively copies src to dst.
func (e *CopyEngine) Clone(src, dst string) (*CloneResult, error) {
	return cloneTree(src, dst, func(s, d string, info os.FileInfo) (string, error) {
		return "", copyFile(s, d, info)
	})
}
