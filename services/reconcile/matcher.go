package reconcile

import (
	"sort"

	"shelfr/models"
	"shelfr/utils/similarity"
)

// DefaultFuzzyThreshold is the minimum similarity (0..100) for a fuzzy title
// match to surface as a candidate. Tunable via settings; matches below the
// threshold are ignored entirely.
const DefaultFuzzyThreshold = 75

// Matcher scans the local collection for entries matching a set of incoming
// candidate titles. It never returns an error: a title that fails to
// normalize degrades to empty and is skipped, never aborting the scan.
type Matcher struct {
	threshold int
}

// NewMatcher creates a matcher with the given fuzzy threshold. Values
// outside (0,100] fall back to DefaultFuzzyThreshold.
func NewMatcher(threshold int) *Matcher {
	if threshold <= 0 || threshold > 100 {
		threshold = DefaultFuzzyThreshold
	}
	return &Matcher{threshold: threshold}
}

// FindCandidates returns ranked match candidates for the incoming titles,
// plus the entries excluded because their stored external id for the
// payload's source contradicts the incoming id. An id mismatch overrides any
// title match: two franchises sharing a title must never be merged.
func (m *Matcher) FindCandidates(entries []models.CatalogEntry, titles []string, source, externalID string) (candidates []models.MatchCandidate, conflicts []models.ConflictRef) {
	incoming := normalizeSet(titles)
	if len(incoming) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if _, dup := seen[entry.ID]; dup {
			continue
		}

		cand, ok := m.matchEntry(entry, incoming)
		if !ok {
			continue
		}
		seen[entry.ID] = struct{}{}

		if externalID != "" {
			if stored := entry.ExternalID(source); stored != "" && stored != externalID {
				conflicts = append(conflicts, models.ConflictRef{
					EntryID:    entry.ID,
					Title:      entry.Title,
					ExternalID: stored,
				})
				continue
			}
		}

		candidates = append(candidates, cand)
	}

	// Rank by score; stable so equal scores keep collection scan order.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})

	return candidates, conflicts
}

// matchEntry evaluates one entry against the incoming candidate set and
// returns the strongest match found.
func (m *Matcher) matchEntry(entry models.CatalogEntry, incoming map[string]string) (models.MatchCandidate, bool) {
	canonical := similarity.Normalize(entry.Title)

	if canonical != "" {
		if raw, hit := incoming[canonical]; hit {
			return models.MatchCandidate{
				EntryID:      entry.ID,
				Title:        entry.Title,
				MatchKind:    models.MatchKindExactTitle,
				Similarity:   100,
				MatchedTitle: raw,
			}, true
		}
	}

	// Alternative titles may contain duplicates; normalization dedupes them.
	altSet := normalizeSet(entry.AlternativeTitles)
	for key, alt := range altSet {
		if _, hit := incoming[key]; hit {
			return models.MatchCandidate{
				EntryID:      entry.ID,
				Title:        entry.Title,
				MatchKind:    models.MatchKindFuzzyTitle,
				Similarity:   100,
				MatchedTitle: alt,
			}, true
		}
	}

	// No set membership; fall back to the similarity metric. The score is
	// computed against the individual matched title pair, not an aggregate.
	best := models.MatchCandidate{EntryID: entry.ID, Title: entry.Title, MatchKind: models.MatchKindFuzzyTitle}
	stored := append([]string{entry.Title}, entry.AlternativeTitles...)
	for _, own := range stored {
		for _, raw := range incoming {
			score := similarity.Score(own, raw)
			if score > best.Similarity {
				best.Similarity = score
				best.MatchedTitle = own
			}
		}
	}

	if best.Similarity < m.threshold {
		return models.MatchCandidate{}, false
	}
	return best, true
}
