package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jvs-project/volsnap/pkg/fsutil"
	"github.com/jvs-project/volsnap/pkg/model"
)

// hashSuffix names the sidecar file holding a tree's payload hash.
const hashSuffix = ".payload-hash"

// ComputePayloadRootHash computes a deterministic hash of the tree at root.
// Each entry contributes "<type>:<path>:<mode>:<hash>" and the sorted lines
// are hashed together. Modification times are ignored so a clone hashes
// the same as its source.
func ComputePayloadRootHash(root string) (model.HashValue, error) {
	var lines []string

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("relative path: %w", err)
		}
		entryHash, err := computeEntryHash(path, info)
		if err != nil {
			return fmt.Errorf("hash entry %s: %w", rel, err)
		}
		lines = append(lines, fmt.Sprintf("%s:%s:%04o:%s",
			entryType(info), filepath.ToSlash(rel), info.Mode().Perm(), entryHash))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("walk payload: %w", err)
	}

	sort.Strings(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return model.HashValue(hex.EncodeToString(sum[:])), nil
}

func entryType(info os.FileInfo) string {
	switch {
	case info.IsDir():
		return "dir"
	case info.Mode()&os.ModeSymlink != 0:
		return "symlink"
	default:
		return "file"
	}
}

func computeEntryHash(path string, info os.FileInfo) (string, error) {
	h := sha256.New()

	switch {
	case info.IsDir():
		h.Write([]byte(info.Name()))
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return "", fmt.Errorf("read symlink: %w", err)
		}
		h.Write([]byte(target))
	default:
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("open file: %w", err)
		}
		defer f.Close()
		if _, err := io.Copy(h, f); err != nil {
			return "", fmt.Errorf("read file: %w", err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// WritePayloadHash records hash next to the tree at root.
func WritePayloadHash(root string, hash model.HashValue) error {
	return fsutil.AtomicWrite(root+hashSuffix, []byte(hash), 0644)
}

// ReadPayloadHash returns the recorded hash of root, computing and recording
// it when missing.
func ReadPayloadHash(root string) (model.HashValue, error) {
	data, err := os.ReadFile(root + hashSuffix)
	if err == nil {
		return model.HashValue(strings.TrimSpace(string(data))), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("read payload hash: %w", err)
	}
	hash, err := ComputePayloadRootHash(root)
	if err != nil {
		return "", err
	}
	if err := WritePayloadHash(root, hash); err != nil {
		return "", err
	}
	return hash, nil
}

// RecordedPayloadHash returns the hash recorded for root without computing
// one. ok is false when nothing is recorded.
func RecordedPayloadHash(root string) (hash model.HashValue, ok bool, err error) {
	data, err := os.ReadFile(root + hashSuffix)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read payload hash: %w", err)
	}
	return model.HashValue(strings.TrimSpace(string(data))), true, nil
}

// RemovePayloadHash deletes the sidecar of root.
func RemovePayloadHash(root string) error {
	if err := os.Remove(root + hashSuffix); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
