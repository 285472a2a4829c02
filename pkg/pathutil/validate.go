// Package pathutil provides name and path validation for volumes, snapshots
// and store trees.
package pathutil

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/jvs-project/volsnap/pkg/errclass"
)

// MaxNameLength bounds volume and snapshot names.
const MaxNameLength = 255

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidateName checks that a volume or snapshot name is safe to print and
// to use as a path component. kind names the object in error messages.
func ValidateName(kind, name string) error {
	if name == "" {
		return errclass.ErrNameInvalid.WithMessagef("%s name must not be empty", kind)
	}

	name = norm.NFC.String(name)

	if len(name) > MaxNameLength {
		return errclass.ErrNameInvalid.WithMessagef("%s name longer than %d bytes", kind, MaxNameLength)
	}
	if strings.Contains(name, "..") {
		return errclass.ErrNameInvalid.WithMessagef("%s name must not contain '..': %s", kind, name)
	}
	if strings.ContainsAny(name, "/\\") {
		return errclass.ErrNameInvalid.WithMessagef("%s name must not contain separators: %s", kind, name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return errclass.ErrNameInvalid.WithMessagef("%s name must not contain control characters: %q", kind, name)
		}
	}
	if !nameRegex.MatchString(name) {
		return errclass.ErrNameInvalid.WithMessagef("%s name must match [a-zA-Z0-9._-]+: %s", kind, name)
	}
	return nil
}

// Resolve joins the slash separated rel onto root and verifies the result
// stays under root.
func Resolve(root, rel string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(rel))
	if err := ValidatePathSafety(root, target); err != nil {
		return "", err
	}
	return target, nil
}

// ValidatePathSafety verifies target path does not escape root.
func ValidatePathSafety(root, targetPath string) error {
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return errclass.ErrPathEscape.WithMessagef("cannot resolve store root: %v", err)
	}

	// A target that does not exist yet is checked through its closest
	// existing ancestor.
	resolvedTarget, err := filepath.EvalSymlinks(targetPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return errclass.ErrPathEscape.WithMessagef("cannot resolve target: %v", err)
		}
		resolvedTarget = resolveClosestAncestor(targetPath)
	}

	if resolvedTarget != resolvedRoot &&
		!strings.HasPrefix(resolvedTarget+string(filepath.Separator), resolvedRoot+string(filepath.Separator)) {
		return errclass.ErrPathEscape.WithMessagef("path escapes store root: %s", targetPath)
	}
	return nil
}

func resolveClosestAncestor(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		if !os.IsNotExist(err) || dir == path {
			return filepath.Clean(path)
		}
		resolved = resolveClosestAncestor(dir)
	}
	return filepath.Join(resolved, base)
}
