package strategy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/volsnap/internal/snapshot"
	"github.com/jvs-project/volsnap/internal/snapshot/snapshottest"
	"github.com/jvs-project/volsnap/internal/strategy"
	"github.com/jvs-project/volsnap/pkg/errclass"
	"github.com/jvs-project/volsnap/pkg/model"
)

type stubStrategy struct {
	name string
	prio model.StrategyPriority
}

func (s stubStrategy) Name() string { return s.name }

func (s stubStrategy) CanHandle(*snapshot.Object, model.SnapshotOperation) model.StrategyPriority {
	return s.prio
}

func (s stubStrategy) TakeSnapshot(context.Context, *snapshot.Object) (*snapshot.Object, error) {
	return nil, nil
}

func (s stubStrategy) BackupSnapshot(context.Context, *snapshot.Object) (*snapshot.Object, error) {
	return nil, nil
}

func (s stubStrategy) DeleteSnapshot(context.Context, uint64) (bool, error) { return true, nil }

func (s stubStrategy) RevertSnapshot(context.Context, *snapshot.Object) (bool, error) {
	return true, nil
}

func TestSelect_HighestWinsInAnyOrder(t *testing.T) {
	env := snapshottest.New(t, snapshottest.Options{})
	snap := env.OnPrimary(env.NewSnapshot(0).ID)

	def := stubStrategy{"default", model.PriorityDefault}
	hv := stubStrategy{"hypervisor", model.PriorityHypervisor}
	top := stubStrategy{"top", model.PriorityHighest}
	orders := [][]strategy.Strategy{
		{def, hv, top},
		{top, def, hv},
		{hv, top, def},
		{def, top, hv},
	}
	for _, order := range orders {
		st, err := strategy.NewSelector(order...).Select(snap, model.OpTake)
		require.NoError(t, err)
		assert.Equal(t, "top", st.Name())
	}
}

func TestSelect_FirstRegisteredWinsTies(t *testing.T) {
	env := snapshottest.New(t, snapshottest.Options{})
	snap := env.OnPrimary(env.NewSnapshot(0).ID)

	sel := strategy.NewSelector(stubStrategy{"a", model.PriorityPlugin})
	sel.Register(stubStrategy{"b", model.PriorityPlugin})
	sel.Register(stubStrategy{"c", model.PriorityDefault})

	st, err := sel.Select(snap, model.OpBackup)
	require.NoError(t, err)
	assert.Equal(t, "a", st.Name())
}

func TestSelect_NoStrategy(t *testing.T) {
	env := snapshottest.New(t, snapshottest.Options{})
	snap := env.OnPrimary(env.NewSnapshot(0).ID)
	sel := strategy.NewSelector(stubStrategy{"x", model.CantHandle}, stubStrategy{"y", model.CantHandle})

	for i := 0; i < 3; i++ {
		st, err := sel.Select(snap, model.OpDelete)
		assert.Nil(t, st)
		assert.ErrorIs(t, err, errclass.ErrNoStrategy)
	}

	_, err := strategy.NewSelector().Select(snap, model.OpDelete)
	assert.ErrorIs(t, err, errclass.ErrNoStrategy)
}

func TestSelect_BuiltinStrategies(t *testing.T) {
	tests := []struct {
		name string
		opts snapshottest.Options
		want string
	}{
		{"kvm volume", snapshottest.Options{}, "generic"},
		{"xenserver volume", snapshottest.Options{Hypervisor: model.HypervisorXenServer}, "delta"},
		{"array snapshots", snapshottest.Options{
			Hypervisor:  model.HypervisorXenServer,
			PrimaryCaps: map[string]string{model.CapabilityStorageSystemSnapshot: "true"},
		}, "offload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStack(t, tt.opts, 0)
			snap := s.OnPrimary(s.NewSnapshot(0).ID)
			sel := strategy.NewSelector(strategy.NewGeneric(s.Deps), strategy.NewDelta(s.Deps), strategy.NewOffload(s.Deps))
			for _, op := range []model.SnapshotOperation{model.OpTake, model.OpBackup, model.OpDelete, model.OpRevert} {
				st, err := sel.Select(snap, op)
				require.NoError(t, err)
				assert.Equal(t, tt.want, st.Name(), "operation %s", op)
			}
		})
	}
}

func TestManager_BackupRequiresPrimaryCopy(t *testing.T) {
	s := newStack(t, snapshottest.Options{}, 0)
	row := s.NewSnapshot(0)

	_, err := s.Manager.BackupSnapshot(context.Background(), row.ID)
	assert.ErrorIs(t, err, errclass.ErrInvalidParameter)
	assert.Equal(t, int32(0), s.Copies())
}
