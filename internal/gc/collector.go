// Package gc reclaims errored snapshots and store refs nothing points to
// any more.
package gc

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jvs-project/volsnap/internal/audit"
	"github.com/jvs-project/volsnap/internal/catalog"
	"github.com/jvs-project/volsnap/internal/snapshot"
	"github.com/jvs-project/volsnap/pkg/errclass"
	"github.com/jvs-project/volsnap/pkg/logging"
	"github.com/jvs-project/volsnap/pkg/metrics"
	"github.com/jvs-project/volsnap/pkg/model"
	"github.com/jvs-project/volsnap/pkg/progress"
	"github.com/jvs-project/volsnap/pkg/uuidutil"
)

// Collector handles garbage collection.
type Collector struct {
	svc         *snapshot.Service
	factory     *snapshot.Factory
	catalog     *catalog.Catalog
	concurrency int
	audit       audit.Appender
	metrics     *metrics.Collector
	progress    progress.Callback
	logger      *logging.Logger
}

// NewCollector creates a collector running at most concurrency deletes at
// once.
func NewCollector(svc *snapshot.Service, concurrency int) *Collector {
	if concurrency <= 0 {
		concurrency = 1
	}
	f := svc.Factory()
	return &Collector{
		svc:         svc,
		factory:     f,
		catalog:     f.Catalog(),
		concurrency: concurrency,
		metrics:     metrics.Default(),
		logger:      logging.WithFields(map[string]any{"component": "gc"}),
	}
}

// WithAudit records every run to a.
func (c *Collector) WithAudit(a audit.Appender) *Collector {
	c.audit = a
	return c
}

// WithProgress reports every collected entry to cb.
func (c *Collector) WithProgress(cb progress.Callback) *Collector {
	c.progress = cb
	return c
}

// Plan lists what a run would collect.
func (c *Collector) Plan() (*model.GCPlan, error) {
	errored, err := c.catalog.ListSnapshotsByState(model.SnapshotError)
	if err != nil {
		return nil, fmt.Errorf("list errored snapshots: %w", err)
	}
	refs, err := c.catalog.ListAllStoreRefs()
	if err != nil {
		return nil, fmt.Errorf("list store refs: %w", err)
	}

	plan := &model.GCPlan{
		PlanID:    uuidutil.NewV4(),
		CreatedAt: time.Now().UTC(),
	}
	erroredSet := make(map[uint64]bool, len(errored))
	for _, s := range errored {
		plan.ErroredSnapshots = append(plan.ErroredSnapshots, s.ID)
		erroredSet[s.ID] = true
	}
	for _, r := range refs {
		if erroredSet[r.SnapshotID] {
			continue
		}
		orphan, err := c.orphaned(r)
		if err != nil {
			return nil, err
		}
		if orphan {
			plan.OrphanedStoreRefs = append(plan.OrphanedStoreRefs, r.ID)
		}
	}
	return plan, nil
}

// orphaned reports whether r is left over from a failed operation or from
// a purged snapshot.
func (c *Collector) orphaned(r *model.StoreRef) (bool, error) {
	switch r.State {
	case model.RefFailed, model.RefDestroying:
		return true, nil
	case model.RefDestroyed:
		return false, nil
	}
	_, err := c.catalog.FindSnapshotIncludingRemoved(r.SnapshotID)
	if errors.Is(err, errclass.ErrNotFound) {
		return true, nil
	}
	return false, err
}

// Run collects plan. Entries that no longer qualify are skipped and
// failures are counted without stopping the run.
func (c *Collector) Run(ctx context.Context, plan *model.GCPlan) (*model.GCResult, error) {
	var purgedSnaps, purgedRefs, failed atomic.Int32
	p := progress.New("gc", len(plan.ErroredSnapshots)+len(plan.OrphanedStoreRefs), c.progress)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, id := range plan.ErroredSnapshots {
		g.Go(func() error {
			ok, err := c.collectSnapshot(gctx, id)
			c.tally(ok, err, &purgedSnaps, &failed, "snapshot", id)
			p.Increment(fmt.Sprintf("snapshot %d", id))
			return nil
		})
	}
	for _, id := range plan.OrphanedStoreRefs {
		g.Go(func() error {
			ok, err := c.collectRef(gctx, id)
			c.tally(ok, err, &purgedRefs, &failed, "store_ref", id)
			p.Increment(fmt.Sprintf("store ref %d", id))
			return nil
		})
	}
	_ = g.Wait()

	res := &model.GCResult{
		PlanID:         plan.PlanID,
		PurgedSnapshot: int(purgedSnaps.Load()),
		PurgedRefs:     int(purgedRefs.Load()),
		Failed:         int(failed.Load()),
	}
	c.metrics.AddGCPurged("snapshot", res.PurgedSnapshot)
	c.metrics.AddGCPurged("store_ref", res.PurgedRefs)
	c.logger.Info("gc run finished", map[string]any{
		"plan_id":   res.PlanID,
		"snapshots": res.PurgedSnapshot,
		"refs":      res.PurgedRefs,
		"failed":    res.Failed,
	})

	if c.audit != nil {
		if err := c.audit.Append(&model.AuditRecord{
			Machine: "gc",
			Event:   "Run",
			Details: map[string]any{
				"plan_id":          res.PlanID,
				"purged_snapshots": res.PurgedSnapshot,
				"purged_refs":      res.PurgedRefs,
				"failed":           res.Failed,
			},
		}); err != nil {
			return res, fmt.Errorf("audit gc run: %w", err)
		}
	}
	return res, ctx.Err()
}

func (c *Collector) tally(ok bool, err error, purged, failed *atomic.Int32, kind string, id uint64) {
	switch {
	case err != nil:
		failed.Add(1)
		c.logger.WarnErr("gc failed", err, map[string]any{"kind": kind, "id": id})
	case ok:
		purged.Add(1)
	}
}

// collectSnapshot removes the data of an errored snapshot from every store
// and purges it. It reports false when the snapshot left the Error state.
func (c *Collector) collectSnapshot(ctx context.Context, id uint64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	row, err := c.catalog.FindSnapshot(id)
	if errors.Is(err, errclass.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if row.State != model.SnapshotError {
		return false, nil
	}

	objs, err := c.factory.ListSnapshotOnStores(id)
	if err != nil {
		return false, err
	}
	for _, obj := range objs {
		if !c.svc.DeleteSnapshot(ctx, obj) {
			return false, fmt.Errorf("delete snapshot %d on store %d", id, obj.Store().ID())
		}
	}
	refs, err := c.catalog.ListStoreRefs(id)
	if err != nil {
		return false, err
	}
	for _, r := range refs {
		if err := c.catalog.RemoveStoreRef(r.ID); err != nil {
			return false, err
		}
	}

	obj, err := c.factory.BindToPrimary(id)
	if err == nil {
		if err = obj.ProcessEvent(model.SnapshotDestroyRequested); err == nil {
			err = obj.ProcessEvent(model.SnapshotOperationSucceeded)
		}
	}
	if err != nil {
		c.logger.WarnErr("retire errored snapshot", err, map[string]any{"snapshot": id})
	}
	return true, c.catalog.PurgeSnapshot(id)
}

// collectRef deletes the data of an orphaned ref and purges it. It reports
// false when the ref is no longer orphaned.
func (c *Collector) collectRef(ctx context.Context, id uint64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ref, err := c.catalog.FindStoreRefByID(id)
	if errors.Is(err, errclass.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	orphan, err := c.orphaned(ref)
	if err != nil || !orphan {
		return false, err
	}

	obj, err := c.factory.ForRef(ref)
	if err != nil {
		return false, err
	}
	if !c.svc.DeleteSnapshot(ctx, obj) {
		return false, fmt.Errorf("delete ref %d of snapshot %d", id, ref.SnapshotID)
	}
	return true, c.catalog.RemoveStoreRef(id)
}
