package model

import "time"

// AuditRecord is a single line in the audit log (JSONL format).
// One record is written per committed state transition.
type AuditRecord struct {
	Timestamp  time.Time      `json:"timestamp"`
	Machine    string         `json:"machine"`
	EntityID   uint64         `json:"entity_id"`
	EntityUUID string         `json:"entity_uuid,omitempty"`
	Event      string         `json:"event"`
	FromState  string         `json:"from_state"`
	ToState    string         `json:"to_state"`
	Details    map[string]any `json:"details,omitempty"`
	PrevHash   HashValue      `json:"prev_hash"`
	RecordHash HashValue      `json:"record_hash"`
}
