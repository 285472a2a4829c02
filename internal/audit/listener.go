package audit

import (
	"github.com/jvs-project/volsnap/internal/fsm"
	"github.com/jvs-project/volsnap/internal/snapshot"
	"github.com/jvs-project/volsnap/pkg/model"
)

// TransitionListener returns an fsm listener writing one record per
// committed transition of machine. describe names the entity.
func TransitionListener[S, E ~string, O any](a Appender, machine string, describe func(O) (uint64, string, map[string]any)) fsm.Listener[S, E, O] {
	return fsm.ListenerFunc[S, E, O](func(t fsm.Transition[S, E], obj O, _ any) error {
		id, uuid, details := describe(obj)
		return a.Append(&model.AuditRecord{
			Machine:    machine,
			EntityID:   id,
			EntityUUID: uuid,
			Event:      string(t.Event),
			FromState:  string(t.From),
			ToState:    string(t.To),
			Details:    details,
		})
	})
}

// Listeners audits the snapshot, volume and store ref machines.
func Listeners(a Appender) snapshot.Listeners {
	return snapshot.Listeners{
		Snapshot: []snapshot.SnapshotListener{
			TransitionListener[model.SnapshotState, model.SnapshotEvent](a, snapshot.MachineSnapshot,
				func(s *model.Snapshot) (uint64, string, map[string]any) {
					return s.ID, s.UUID, map[string]any{"volume_id": s.VolumeID}
				}),
		},
		Volume: []snapshot.VolumeListener{
			TransitionListener[model.VolumeState, model.VolumeEvent](a, snapshot.MachineVolume,
				func(v *model.Volume) (uint64, string, map[string]any) {
					return v.ID, v.UUID, map[string]any{"pool_id": v.PoolID}
				}),
		},
		StoreRef: []snapshot.StoreRefListener{
			TransitionListener[model.StoreRefState, model.StoreRefEvent](a, snapshot.MachineStoreRef,
				func(r *model.StoreRef) (uint64, string, map[string]any) {
					details := map[string]any{"snapshot_id": r.SnapshotID, "store_id": r.StoreID}
					if r.InstallPath != "" {
						details["install_path"] = r.InstallPath
					}
					return r.ID, "", details
				}),
		},
	}
}
