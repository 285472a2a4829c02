// Package integrity hashes volume payloads and audit records.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/jvs-project/volsnap/pkg/jsonutil"
	"github.com/jvs-project/volsnap/pkg/model"
)

// Checksum returns the SHA-256 of the canonical JSON encoding of v.
func Checksum(v any) (model.HashValue, error) {
	data, err := jsonutil.CanonicalMarshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical marshal: %w", err)
	}
	sum := sha256.Sum256(data)
	return model.HashValue(hex.EncodeToString(sum[:])), nil
}
