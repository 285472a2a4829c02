// Package engine clones directory trees for the filesystem store driver.
// Engines trade speed for portability: juicefs-clone and reflink-copy share
// data blocks with the source, copy duplicates them.
package engine

import (
	"github.com/jvs-project/volsnap/pkg/model"
)

// CloneResult describes how faithfully a clone was made.
type CloneResult struct {
	Degraded     bool     // true if any degradation occurred
	Degradations []string // list of degradation types
}

func (r *CloneResult) degrade(kind string) {
	r.Degraded = true
	for _, d := range r.Degradations {
		if d == kind {
			return
		}
	}
	r.Degradations = append(r.Degradations, kind)
}

// Engine clones a directory tree.
type Engine interface {
	// Name returns the engine type identifier.
	Name() model.EngineType

	// Clone copies src to dst. dst must not exist.
	Clone(src, dst string) (*CloneResult, error)

	// NativeClone reports whether clones share storage with their source
	// without copying data.
	NativeClone() bool
}
