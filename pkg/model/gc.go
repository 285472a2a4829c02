package model

import "time"

// GCPlan is the output of the gc plan phase.
type GCPlan struct {
	PlanID            string    `json:"plan_id"`
	CreatedAt         time.Time `json:"created_at"`
	ErroredSnapshots  []uint64  `json:"errored_snapshots"`
	OrphanedStoreRefs []uint64  `json:"orphaned_store_refs"`
}

// Empty returns true if there is nothing to collect.
func (p *GCPlan) Empty() bool {
	return len(p.ErroredSnapshots) == 0 && len(p.OrphanedStoreRefs) == 0
}

// GCResult summarises a gc run.
type GCResult struct {
	PlanID         string `json:"plan_id"`
	PurgedSnapshot int    `json:"purged_snapshots"`
	PurgedRefs     int    `json:"purged_store_refs"`
	Failed         int    `json:"failed"`
}
