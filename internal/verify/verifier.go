// Package verify checks that the copies recorded in the catalog are still on
// their stores and hash to the payload recorded when they were written.
package verify

import (
	"fmt"
	"path/filepath"

	"github.com/jvs-project/volsnap/internal/catalog"
	"github.com/jvs-project/volsnap/internal/datastore"
	"github.com/jvs-project/volsnap/internal/integrity"
	"github.com/jvs-project/volsnap/pkg/fsutil"
	"github.com/jvs-project/volsnap/pkg/model"
	"github.com/jvs-project/volsnap/pkg/progress"
)

// Severities reported in Result.
const (
	SeverityCritical = "critical"
	SeverityError    = "error"
	SeverityWarning  = "warning"
	SeveritySkipped  = "skipped"
)

// Result contains verification results for one store copy of a snapshot.
type Result struct {
	SnapshotID       uint64 `json:"snapshot_id"`
	RefID            uint64 `json:"ref_id"`
	StoreID          uint64 `json:"store_id"`
	InstallPath      string `json:"install_path"`
	PayloadHashValid bool   `json:"payload_hash_valid"`
	TamperDetected   bool   `json:"tamper_detected"`
	Severity         string `json:"severity,omitempty"`
	Error            string `json:"error,omitempty"`
}

// OK returns true if the copy verified cleanly.
func (r *Result) OK() bool {
	return r.PayloadHashValid && r.Severity == ""
}

// Rooted is implemented by drivers whose data lives under a local directory.
type Rooted interface {
	Root() string
}

// Verifier performs integrity verification of store copies.
type Verifier struct {
	catalog  *catalog.Catalog
	stores   *datastore.Manager
	progress progress.Callback
}

// NewVerifier creates a new verifier.
func NewVerifier(cat *catalog.Catalog, stores *datastore.Manager) *Verifier {
	return &Verifier{catalog: cat, stores: stores}
}

// WithProgress reports every verified copy to cb.
func (v *Verifier) WithProgress(cb progress.Callback) *Verifier {
	v.progress = cb
	return v
}

func (v *Verifier) verifyRefs(refs []*model.StoreRef) []*Result {
	p := progress.New("verify", len(refs), v.progress)
	results := make([]*Result, 0, len(refs))
	for _, r := range refs {
		results = append(results, v.verifyRef(r))
		p.Increment(fmt.Sprintf("snapshot %d on store %d", r.SnapshotID, r.StoreID))
	}
	return results
}

// VerifySnapshot verifies every Ready copy of snapshot id.
func (v *Verifier) VerifySnapshot(id uint64) ([]*Result, error) {
	if _, err := v.catalog.FindSnapshotIncludingRemoved(id); err != nil {
		return nil, err
	}
	refs, err := v.catalog.ListStoreRefs(id)
	if err != nil {
		return nil, fmt.Errorf("list refs of snapshot %d: %w", id, err)
	}
	var ready []*model.StoreRef
	for _, r := range refs {
		if r.State == model.RefReady {
			ready = append(ready, r)
		}
	}
	return v.verifyRefs(ready), nil
}

// VerifyAll verifies every Ready copy in the catalog.
func (v *Verifier) VerifyAll() ([]*Result, error) {
	refs, err := v.catalog.ListStoreRefsByState(model.RefReady)
	if err != nil {
		return nil, fmt.Errorf("list ready refs: %w", err)
	}
	return v.verifyRefs(refs), nil
}

func (v *Verifier) verifyRef(r *model.StoreRef) *Result {
	result := &Result{
		SnapshotID:  r.SnapshotID,
		RefID:       r.ID,
		StoreID:     r.StoreID,
		InstallPath: r.InstallPath,
	}
	if r.InstallPath == "" {
		result.Severity = SeverityError
		result.Error = "ready copy has no install path"
		return result
	}

	ds, err := v.stores.Store(r.StoreID)
	if err != nil {
		result.Severity = SeverityError
		result.Error = err.Error()
		return result
	}
	rooted, ok := ds.Driver().(Rooted)
	if !ok {
		result.Severity = SeveritySkipped
		result.Error = fmt.Sprintf("driver %s has no local root", ds.Driver().Name())
		return result
	}

	dir := filepath.Join(rooted.Root(), filepath.FromSlash(r.InstallPath))
	if !fsutil.Exists(dir) {
		result.TamperDetected = true
		result.Severity = SeverityCritical
		result.Error = "data missing"
		return result
	}

	recorded, ok, err := integrity.RecordedPayloadHash(dir)
	if err != nil {
		result.Severity = SeverityError
		result.Error = err.Error()
		return result
	}
	if !ok {
		result.Severity = SeverityWarning
		result.Error = "no payload hash recorded"
		return result
	}
	computed, err := integrity.ComputePayloadRootHash(dir)
	if err != nil {
		result.Severity = SeverityError
		result.Error = fmt.Sprintf("compute payload hash: %v", err)
		return result
	}

	result.PayloadHashValid = computed == recorded
	if !result.PayloadHashValid {
		result.TamperDetected = true
		result.Severity = SeverityCritical
		result.Error = "payload hash mismatch"
	}
	return result
}
