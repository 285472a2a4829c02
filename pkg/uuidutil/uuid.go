// Package uuidutil generates and checks the UUIDs volsnap assigns to
// volumes, snapshots and stores.
package uuidutil

import (
	"github.com/google/uuid"
)

// NewV4 generates a random UUID v4 string.
// Panics if the random source fails.
func NewV4() string {
	return uuid.Must(uuid.NewRandom()).String()
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	return uuid.Validate(s) == nil
}

// Short returns the first segment of id, used in log lines and install paths.
func Short(id string) string {
	if len(id) < 8 {
		return id
	}
	return id[:8]
}
