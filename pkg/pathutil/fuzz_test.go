package pathutil_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/jvs-project/volsnap/pkg/pathutil"
)

// Run with: go test -fuzz=FuzzValidateName -fuzztime=30s ./pkg/pathutil
func FuzzValidateName(f *testing.F) {
	for _, seed := range []string{
		"", "data", "..", "../escape", "a/b", `a\b`, "tab\there", "nul\x00", "daily-1", "café",
	} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, name string) {
		if pathutil.ValidateName("snapshot", name) != nil {
			return
		}
		if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
			t.Fatalf("accepted unsafe name %q", name)
		}
		if filepath.Base(name) != name {
			t.Fatalf("accepted name %q that is not a single path element", name)
		}
	})
}

func FuzzResolve(f *testing.F) {
	for _, seed := range []string{"volumes/vol-1", "../x", "a/../../b", "/etc/passwd", "", "."} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, rel string) {
		root := t.TempDir()
		got, err := pathutil.Resolve(root, rel)
		if err != nil {
			return
		}
		if got != root && !strings.HasPrefix(got, root+string(filepath.Separator)) {
			t.Fatalf("Resolve(%q) = %q escapes %q", rel, got, root)
		}
	})
}
