// Package doctor finds catalog rows and store trees left behind by
// interrupted operations and can push them to a state the normal paths
// (retry, delete, gc) know how to handle.
package doctor

import (
	"fmt"
	"os"

	"github.com/jvs-project/volsnap/internal/catalog"
	"github.com/jvs-project/volsnap/internal/datastore"
	"github.com/jvs-project/volsnap/internal/snapshot"
	"github.com/jvs-project/volsnap/internal/verify"
	"github.com/jvs-project/volsnap/pkg/logging"
	"github.com/jvs-project/volsnap/pkg/model"
)

// Severities
const (
	SeverityCritical = "critical"
	SeverityError    = "error"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Finding represents a detected issue.
type Finding struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	ObjectID    uint64 `json:"object_id,omitempty"`
	Path        string `json:"path,omitempty"`
	Repairable  bool   `json:"repairable"`
	Repaired    bool   `json:"repaired,omitempty"`

	repair func() error
}

// Result contains doctor check results.
type Result struct {
	Healthy  bool      `json:"healthy"`
	Findings []Finding `json:"findings"`
}

func (r *Result) add(f Finding) {
	f.Repairable = f.repair != nil
	if f.Severity == SeverityCritical || f.Severity == SeverityError {
		r.Healthy = false
	}
	r.Findings = append(r.Findings, f)
}

// leftoverLister is implemented by drivers that can report trees orphaned by
// an interrupted revert.
type leftoverLister interface {
	Leftovers() ([]string, error)
}

// Doctor performs catalog health checks.
type Doctor struct {
	factory  *snapshot.Factory
	catalog  *catalog.Catalog
	stores   *datastore.Manager
	verifier *verify.Verifier
	logger   *logging.Logger
}

// NewDoctor creates a doctor working through factory.
func NewDoctor(factory *snapshot.Factory) *Doctor {
	return &Doctor{
		factory:  factory,
		catalog:  factory.Catalog(),
		stores:   factory.Stores(),
		verifier: verify.NewVerifier(factory.Catalog(), factory.Stores()),
		logger:   logging.WithFields(map[string]any{"component": "doctor"}),
	}
}

// Check runs all diagnostic checks. Rows in a transient state are reported
// as stuck, so Check must not run while operations are in flight. strict
// also verifies the payload of every Ready copy.
func (d *Doctor) Check(strict bool) (*Result, error) {
	result := &Result{Healthy: true}

	if err := d.checkVolumes(result); err != nil {
		return nil, err
	}
	if err := d.checkSnapshots(result); err != nil {
		return nil, err
	}
	if err := d.checkStoreRefs(result); err != nil {
		return nil, err
	}
	d.checkLeftovers(result)
	if strict {
		d.checkIntegrity(result)
	}
	return result, nil
}

// Repair runs the repair of every repairable finding in result and returns
// how many succeeded. Failures are logged and left unrepaired.
func (d *Doctor) Repair(result *Result) int {
	n := 0
	for i := range result.Findings {
		f := &result.Findings[i]
		if f.repair == nil || f.Repaired {
			continue
		}
		if err := f.repair(); err != nil {
			d.logger.WarnErr("repair failed", err, map[string]any{"category": f.Category, "object": f.ObjectID})
			continue
		}
		f.Repaired = true
		n++
	}
	return n
}

func (d *Doctor) checkVolumes(result *Result) error {
	vols, err := d.catalog.ListVolumes()
	if err != nil {
		return fmt.Errorf("list volumes: %w", err)
	}
	for _, v := range vols {
		if v.State != model.VolumeSnapshotting && v.State != model.VolumeRevertSnapshotting {
			continue
		}
		result.add(Finding{
			Category:    "volume",
			Description: fmt.Sprintf("volume %d stuck in %s", v.ID, v.State),
			Severity:    SeverityError,
			ObjectID:    v.ID,
			repair: func() error {
				return d.factory.ProcessVolumeEvent(v, model.VolumeOperationFailed)
			},
		})
	}
	return nil
}

func (d *Doctor) checkSnapshots(result *Result) error {
	snaps, err := d.catalog.ListSnapshots(catalog.FilterOptions{})
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	for _, s := range snaps {
		switch s.State {
		case model.SnapshotCreating, model.SnapshotBackingUp, model.SnapshotDestroying:
		default:
			continue
		}
		id := s.ID
		result.add(Finding{
			Category:    "snapshot",
			Description: fmt.Sprintf("snapshot %d stuck in %s", id, s.State),
			Severity:    SeverityError,
			ObjectID:    id,
			repair: func() error {
				obj, err := d.factory.BindToPrimary(id)
				if err != nil {
					return err
				}
				return obj.ProcessEvent(model.SnapshotOperationFailed)
			},
		})
	}
	return nil
}

func (d *Doctor) checkStoreRefs(result *Result) error {
	refs, err := d.catalog.ListAllStoreRefs()
	if err != nil {
		return fmt.Errorf("list store refs: %w", err)
	}
	for _, r := range refs {
		if !r.IsLive() {
			continue
		}
		if _, err := d.stores.Store(r.StoreID); err != nil {
			result.add(Finding{
				Category:    "store_ref",
				Description: fmt.Sprintf("ref %d of snapshot %d is on unknown store %d", r.ID, r.SnapshotID, r.StoreID),
				Severity:    SeverityCritical,
				ObjectID:    r.ID,
			})
			continue
		}
		if r.State != model.RefCreating && r.State != model.RefCopying {
			continue
		}
		ref := r
		result.add(Finding{
			Category:    "store_ref",
			Description: fmt.Sprintf("ref %d of snapshot %d on store %d stuck in %s", r.ID, r.SnapshotID, r.StoreID, r.State),
			Severity:    SeverityError,
			ObjectID:    r.ID,
			repair: func() error {
				obj, err := d.factory.ForRef(ref)
				if err != nil {
					return err
				}
				return obj.ProcessStoreEvent(model.RefOperationFailed, nil)
			},
		})
	}
	return nil
}

func (d *Doctor) checkLeftovers(result *Result) {
	for _, ds := range d.stores.Stores() {
		lister, ok := ds.Driver().(leftoverLister)
		if !ok {
			continue
		}
		paths, err := lister.Leftovers()
		if err != nil {
			result.add(Finding{
				Category:    "tmp",
				Description: fmt.Sprintf("cannot scan store %d: %v", ds.ID(), err),
				Severity:    SeverityWarning,
			})
			continue
		}
		for _, p := range paths {
			path := p
			result.add(Finding{
				Category:    "tmp",
				Description: fmt.Sprintf("leftover revert tree on store %d", ds.ID()),
				Severity:    SeverityInfo,
				Path:        path,
				repair:      func() error { return os.RemoveAll(path) },
			})
		}
	}
}

func (d *Doctor) checkIntegrity(result *Result) {
	results, err := d.verifier.VerifyAll()
	if err != nil {
		result.add(Finding{
			Category:    "integrity",
			Description: fmt.Sprintf("verification failed: %v", err),
			Severity:    SeverityError,
		})
		return
	}
	for _, r := range results {
		if r.OK() || r.Severity == verify.SeveritySkipped {
			continue
		}
		severity := SeverityWarning
		if r.TamperDetected {
			severity = SeverityCritical
		}
		result.add(Finding{
			Category:    "integrity",
			Description: fmt.Sprintf("snapshot %d on store %d: %s", r.SnapshotID, r.StoreID, r.Error),
			Severity:    severity,
			ObjectID:    r.SnapshotID,
			Path:        r.InstallPath,
		})
	}
}
