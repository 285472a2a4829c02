// Package audit keeps a tamper evident log of lifecycle transitions.
package audit

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jvs-project/volsnap/pkg/errclass"
	"github.com/jvs-project/volsnap/pkg/jsonutil"
	"github.com/jvs-project/volsnap/pkg/model"
)

// Appender records audit records.
type Appender interface {
	Append(rec *model.AuditRecord) error
}

// FileAppender appends audit records to a JSONL file with hash chain.
type FileAppender struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// NewFileAppender creates a new FileAppender.
func NewFileAppender(path string) *FileAppender {
	return &FileAppender{path: path, now: func() time.Time { return time.Now().UTC() }}
}

// Path returns the log file path.
func (a *FileAppender) Path() string { return a.path }

// Append chains rec to the last record and writes it. Timestamp, PrevHash
// and RecordHash are filled in.
func (a *FileAppender) Append(rec *model.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(a.path), 0755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	file, err := os.OpenFile(a.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	if err := lockFile(file); err != nil {
		return fmt.Errorf("lock audit log: %w", err)
	}
	defer unlockFile(file)

	prevHash, err := lastRecordHash(file)
	if err != nil {
		return fmt.Errorf("get last record hash: %w", err)
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = a.now()
	}
	rec.PrevHash = prevHash
	rec.RecordHash = ""
	hash, err := computeRecordHash(rec)
	if err != nil {
		return fmt.Errorf("compute record hash: %w", err)
	}
	rec.RecordHash = hash

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek to end: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync audit log: %w", err)
	}
	return nil
}

// LastRecordHash returns the hash of the last record in the log.
func (a *FileAppender) LastRecordHash() (model.HashValue, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	file, err := os.Open(a.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()
	return lastRecordHash(file)
}

// Records returns every record in the log, oldest first.
func (a *FileAppender) Records() ([]*model.AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	file, err := os.Open(a.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	var out []*model.AuditRecord
	err = scan(file, func(_ int, rec *model.AuditRecord) error {
		out = append(out, rec)
		return nil
	})
	return out, err
}

// Verify checks every record hash and link of the chain.
func (a *FileAppender) Verify() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	file, err := os.Open(a.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	var prev model.HashValue
	count := 0
	err = scan(file, func(line int, rec *model.AuditRecord) error {
		if rec.PrevHash != prev {
			return errclass.ErrAuditChainBroken.WithMessagef("line %d: prev_hash does not match the record before it", line)
		}
		stored := rec.RecordHash
		rec.RecordHash = ""
		want, err := computeRecordHash(rec)
		if err != nil {
			return err
		}
		if want != stored {
			return errclass.ErrAuditChainBroken.WithMessagef("line %d: record_hash mismatch", line)
		}
		prev = stored
		count++
		return nil
	})
	return count, err
}

func lastRecordHash(file *os.File) (model.HashValue, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("seek to start: %w", err)
	}
	var last model.HashValue
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rec model.AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // skip malformed lines
		}
		last = rec.RecordHash
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan audit log: %w", err)
	}
	return last, nil
}

// scan decodes every line of r. Numbers in details keep their exact
// encoding so hashes recompute.
func scan(r io.Reader, fn func(line int, rec *model.AuditRecord) error) error {
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		dec := json.NewDecoder(bytes.NewReader(scanner.Bytes()))
		dec.UseNumber()
		var rec model.AuditRecord
		if err := dec.Decode(&rec); err != nil {
			return errclass.ErrAuditChainBroken.WithMessagef("line %d: %v", line, err)
		}
		if err := fn(line, &rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan audit log: %w", err)
	}
	return nil
}

func computeRecordHash(rec *model.AuditRecord) (model.HashValue, error) {
	data, err := jsonutil.CanonicalMarshal(rec)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return model.HashValue(hex.EncodeToString(sum[:])), nil
}
