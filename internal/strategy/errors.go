package strategy

import (
	"errors"

	"github.com/jvs-project/volsnap/pkg/errclass"
)

var errRevertFailed = errors.New("revert failed")

func invalidf(format string, args ...any) error {
	return errclass.ErrInvalidParameter.WithMessagef(format, args...)
}
