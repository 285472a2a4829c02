package snapshot

import (
	"sort"
	"strconv"
	"strings"

	"github.com/jvs-project/volsnap/pkg/model"
)

// MatchScore represents how well a snapshot matches a query.
type MatchScore struct {
	Snapshot  *model.Snapshot
	Score     int
	MatchType string // "id", "uuid", "name"
}

// FindMatches scores snaps against query and returns up to maxResults
// matches, best first. Ties keep the input order.
func FindMatches(snaps []*model.Snapshot, query string, maxResults int) []*MatchScore {
	queryLower := strings.ToLower(query)

	var matches []*MatchScore
	for _, s := range snaps {
		score, matchType := scoreMatch(s, query, queryLower)
		if score > 0 {
			matches = append(matches, &MatchScore{Snapshot: s, Score: score, MatchType: matchType})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if maxResults > 0 && len(matches) > maxResults {
		matches = matches[:maxResults]
	}
	return matches
}

// scoreMatch calculates a relevance score for a snapshot against a query.
// Higher score = better match. Returns 0 for no match.
func scoreMatch(s *model.Snapshot, query, queryLower string) (int, string) {
	nameLower := strings.ToLower(s.Name)

	if strconv.FormatUint(s.ID, 10) == query {
		return 1000, "id"
	}
	if s.UUID == queryLower {
		return 950, "uuid"
	}
	if len(query) >= 4 && strings.HasPrefix(s.UUID, queryLower) {
		return 900, "uuid"
	}
	if nameLower == "" {
		return 0, ""
	}
	if nameLower == queryLower {
		return 600, "name"
	}
	if strings.HasPrefix(nameLower, queryLower) {
		return 500, "name"
	}
	if strings.Contains(nameLower, queryLower) {
		return 100, "name"
	}
	return 0, ""
}
