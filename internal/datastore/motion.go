package datastore

import (
	"context"
	"fmt"

	"github.com/jvs-project/volsnap/pkg/logging"
)

// DataMotion moves objects between stores.
type DataMotion struct {
	logger *logging.Logger
}

// NewDataMotion creates a DataMotion.
func NewDataMotion() *DataMotion {
	return &DataMotion{logger: logging.WithFields(map[string]any{"component": "datamotion"})}
}

// CopyAsync hands the copy to the first driver, source side then
// destination side, that can perform it. c fails when none can.
func (m *DataMotion) CopyAsync(ctx context.Context, src, dst DataObject, c Completion) {
	for _, d := range []Driver{src.Store().Driver(), dst.Store().Driver()} {
		if d.CanCopy(src, dst) {
			m.logger.Debug("dispatching copy", map[string]any{
				"driver":   d.Name(),
				"snapshot": src.ID(),
				"from":     src.Store().ID(),
				"to":       dst.Store().ID(),
			})
			d.CopyAsync(ctx, src, dst, c)
			return
		}
	}
	c.Complete(Failed(fmt.Errorf("no driver can copy snapshot %d from store %d to store %d",
		src.ID(), src.Store().ID(), dst.Store().ID())))
}
