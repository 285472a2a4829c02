package cli

import (
	"fmt"
	"strings"

	"github.com/jvs-project/volsnap/internal/catalog"
	"github.com/jvs-project/volsnap/internal/snapshot"
	"github.com/jvs-project/volsnap/pkg/color"
	"github.com/jvs-project/volsnap/pkg/errclass"
	"github.com/jvs-project/volsnap/pkg/model"
)

// exactScore is the lowest FindMatches score that names a single row: an
// id, a full uuid or a uuid prefix.
const exactScore = 900

// resolveSnapshot finds the live snapshot named by query. Ambiguous names
// are rejected with the candidates listed.
func resolveSnapshot(cat *catalog.Catalog, query string) (*model.Snapshot, error) {
	snaps, err := cat.ListSnapshots(catalog.FilterOptions{})
	if err != nil {
		return nil, err
	}
	matches := snapshot.FindMatches(snaps, query, 0)
	if len(matches) == 0 {
		return nil, errclass.ErrNotFound.WithMessage(formatSnapshotNotFound(query))
	}
	best := matches[0]
	if best.Score >= exactScore || len(matches) == 1 || matches[1].Score < best.Score {
		return best.Snapshot, nil
	}
	return nil, errclass.ErrInvalidParameter.WithMessagef("%q is ambiguous. %s", query, didYouMean(matches))
}

func didYouMean(matches []*snapshot.MatchScore) string {
	var suggestions []string
	for i, m := range matches {
		if i >= 3 {
			break
		}
		suggestions = append(suggestions, fmt.Sprintf("%s (%s)", color.ID(fmt.Sprint(m.Snapshot.ID)), m.Snapshot.Name))
	}
	hint := "Did you mean"
	if len(suggestions) > 1 {
		hint += " one of"
	}
	return fmt.Sprintf("%s: %s?", hint, strings.Join(suggestions, ", "))
}

func formatSnapshotNotFound(query string) string {
	return fmt.Sprintf("snapshot %q not found. Run %s to see available snapshots.", query, "volsnap snapshot list")
}
