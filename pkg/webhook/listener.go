package webhook

import (
	"github.com/jvs-project/volsnap/internal/fsm"
	"github.com/jvs-project/volsnap/internal/snapshot"
	"github.com/jvs-project/volsnap/pkg/model"
)

// TransitionListener returns an fsm listener queueing one event per
// committed transition of machine.
func TransitionListener[S, E ~string, O any](c *Client, machine string, describe func(O) (uint64, string, map[string]any)) fsm.Listener[S, E, O] {
	return fsm.ListenerFunc[S, E, O](func(t fsm.Transition[S, E], obj O, _ any) error {
		id, uuid, details := describe(obj)
		c.Send(Event{
			Name:       machine + "." + string(t.To),
			Machine:    machine,
			EntityID:   id,
			EntityUUID: uuid,
			Trigger:    string(t.Event),
			FromState:  string(t.From),
			ToState:    string(t.To),
			Details:    details,
		})
		return nil
	})
}

// Listeners notifies c of transitions of the snapshot, volume and store ref
// machines.
func Listeners(c *Client) snapshot.Listeners {
	return snapshot.Listeners{
		Snapshot: []snapshot.SnapshotListener{
			TransitionListener[model.SnapshotState, model.SnapshotEvent](c, snapshot.MachineSnapshot,
				func(s *model.Snapshot) (uint64, string, map[string]any) {
					return s.ID, s.UUID, map[string]any{"volume_id": s.VolumeID, "name": s.Name}
				}),
		},
		Volume: []snapshot.VolumeListener{
			TransitionListener[model.VolumeState, model.VolumeEvent](c, snapshot.MachineVolume,
				func(v *model.Volume) (uint64, string, map[string]any) {
					return v.ID, v.UUID, map[string]any{"name": v.Name}
				}),
		},
		StoreRef: []snapshot.StoreRefListener{
			TransitionListener[model.StoreRefState, model.StoreRefEvent](c, snapshot.MachineStoreRef,
				func(r *model.StoreRef) (uint64, string, map[string]any) {
					return r.ID, "", map[string]any{"snapshot_id": r.SnapshotID, "store_id": r.StoreID}
				}),
		},
	}
}
