package strategy_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jvs-project/volsnap/internal/datastore"
	"github.com/jvs-project/volsnap/internal/fsm"
	"github.com/jvs-project/volsnap/internal/snapshot"
	"github.com/jvs-project/volsnap/internal/snapshot/snapshottest"
	"github.com/jvs-project/volsnap/internal/strategy"
	"github.com/jvs-project/volsnap/pkg/model"
)

type stack struct {
	*snapshottest.Env
	Deps    strategy.Deps
	Manager *strategy.Manager
}

func newStack(t *testing.T, opts snapshottest.Options, deltaMax int) *stack {
	t.Helper()
	env := snapshottest.New(t, opts)
	deps := strategy.Deps{Service: env.Service, LockWait: 20 * time.Millisecond, DeltaMax: deltaMax}
	sel := strategy.NewSelector(strategy.NewOffload(deps), strategy.NewDelta(deps), strategy.NewGeneric(deps))
	return &stack{Env: env, Deps: deps, Manager: strategy.NewManager(sel, env.Factory)}
}

func (s *stack) take(parent uint64) *snapshot.Object {
	s.T.Helper()
	row := s.NewSnapshot(parent)
	obj, err := s.Manager.TakeSnapshot(context.Background(), row.ID)
	require.NoError(s.T, err)
	return obj
}

func (s *stack) backup(id uint64) *snapshot.Object {
	s.T.Helper()
	obj, err := s.Manager.BackupSnapshot(context.Background(), id)
	require.NoError(s.T, err)
	return obj
}

// recordCopies scripts the primary driver to answer copies like the default
// and returns the FullBackup flag of every copy made.
func (s *stack) recordCopies() *[]bool {
	var fulls []bool
	s.Primary.CopyResult = func(_, dst datastore.SnapshotTO) datastore.CommandResult {
		fulls = append(fulls, dst.FullBackup)
		id := fmt.Sprintf("b-%d", dst.SnapshotID)
		return datastore.Succeeded(&datastore.Answer{
			InstallPath: "snapshots/vol-1/" + id,
			BackupID:    id,
			Size:        1024,
			Incremental: !dst.FullBackup && dst.ParentPath != "",
		})
	}
	return &fulls
}

type snapshotTransition = fsm.Transition[model.SnapshotState, model.SnapshotEvent]

// recorder collects committed transitions.
type recorder struct {
	mu        sync.Mutex
	snapshots map[uint64][]snapshotTransition
	volume    []model.VolumeEvent
}

func newRecorder() *recorder {
	return &recorder{snapshots: map[uint64][]snapshotTransition{}}
}

func (r *recorder) listeners() snapshot.Listeners {
	return snapshot.Listeners{
		Snapshot: []snapshot.SnapshotListener{
			fsm.ListenerFunc[model.SnapshotState, model.SnapshotEvent, *model.Snapshot](
				func(t snapshotTransition, s *model.Snapshot, _ any) error {
					r.mu.Lock()
					defer r.mu.Unlock()
					r.snapshots[s.ID] = append(r.snapshots[s.ID], t)
					return nil
				}),
		},
		Volume: []snapshot.VolumeListener{
			fsm.ListenerFunc[model.VolumeState, model.VolumeEvent, *model.Volume](
				func(t fsm.Transition[model.VolumeState, model.VolumeEvent], _ *model.Volume, _ any) error {
					r.mu.Lock()
					defer r.mu.Unlock()
					r.volume = append(r.volume, t.Event)
					return nil
				}),
		},
	}
}

func (r *recorder) lastSnapshotTransition(id uint64) snapshotTransition {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := r.snapshots[id]
	if len(ts) == 0 {
		return snapshotTransition{}
	}
	return ts[len(ts)-1]
}

func (r *recorder) volumeEvents() []model.VolumeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.VolumeEvent(nil), r.volume...)
}

func failWith(detail string) func(datastore.SnapshotTO) datastore.CommandResult {
	return func(datastore.SnapshotTO) datastore.CommandResult {
		return datastore.CommandResult{Result: detail}
	}
}
