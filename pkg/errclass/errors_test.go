package errclass_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jvs-project/volsnap/pkg/errclass"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	err := errclass.ErrLockConflict.WithMessage("snapshot 12 is locked")
	assert.Equal(t, "E_LOCK_CONFLICT: snapshot 12 is locked", err.Error())
	assert.Equal(t, "E_NOT_FOUND", errclass.ErrNotFound.Error())
}

func TestError_Is(t *testing.T) {
	err := errclass.ErrNoTransition.WithMessagef("%s on %s", "BackupToSecondary", "Allocated")
	require.True(t, errors.Is(err, errclass.ErrNoTransition))
	require.False(t, errors.Is(err, errclass.ErrConcurrentUpdate))

	wrapped := fmt.Errorf("take snapshot: %w", err)
	require.True(t, errors.Is(wrapped, errclass.ErrNoTransition))
}

func TestError_WrapKeepsCause(t *testing.T) {
	cause := errors.New("array offline")
	err := errclass.ErrBackendFailure.Wrap(cause, "take snapshot")
	assert.True(t, errors.Is(err, errclass.ErrBackendFailure))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "E_BACKEND_FAILURE: take snapshot: array offline", err.Error())
}

func TestError_WithMessageDoesNotMutateClass(t *testing.T) {
	_ = errclass.ErrInvalidParameter.WithMessage("x")
	assert.Empty(t, errclass.ErrInvalidParameter.Message)
}
