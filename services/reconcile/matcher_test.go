package reconcile

import (
	"testing"

	"shelfr/models"
)

func entryWith(id, title string, alts []string, externalIDs map[string]string) models.CatalogEntry {
	return models.CatalogEntry{
		ID:                id,
		Title:             title,
		AlternativeTitles: alts,
		ExternalIDs:       externalIDs,
	}
}

func TestFindCandidatesExactTitle(t *testing.T) {
	m := NewMatcher(DefaultFuzzyThreshold)
	entries := []models.CatalogEntry{
		entryWith("a", "One Piece", nil, nil),
		entryWith("b", "Bleach", nil, nil),
	}

	candidates, conflicts := m.FindCandidates(entries, []string{"one.piece"}, models.SourceJikan, "")
	if len(conflicts) != 0 {
		t.Fatalf("unexpected conflicts: %v", conflicts)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected one candidate, got %d", len(candidates))
	}
	if candidates[0].EntryID != "a" || candidates[0].Similarity != 100 || candidates[0].MatchKind != models.MatchKindExactTitle {
		t.Errorf("unexpected candidate: %+v", candidates[0])
	}
}

func TestFindCandidatesAlternativeTitleEquality(t *testing.T) {
	m := NewMatcher(DefaultFuzzyThreshold)
	entries := []models.CatalogEntry{
		entryWith("a", "Shingeki no Kyojin", []string{"Attack on Titan"}, nil),
	}

	candidates, _ := m.FindCandidates(entries, []string{"attack on titan"}, models.SourceJikan, "")
	if len(candidates) != 1 {
		t.Fatalf("expected one candidate, got %d", len(candidates))
	}
	// Alt-title equality is certain but reported as a fuzzy kind: the
	// canonical titles themselves differ.
	if candidates[0].Similarity != 100 || candidates[0].MatchKind != models.MatchKindFuzzyTitle {
		t.Errorf("unexpected candidate: %+v", candidates[0])
	}
}

func TestFindCandidatesBelowThresholdIgnored(t *testing.T) {
	m := NewMatcher(DefaultFuzzyThreshold)
	entries := []models.CatalogEntry{
		entryWith("a", "Completely Different Series", nil, nil),
	}

	candidates, _ := m.FindCandidates(entries, []string{"Chainsaw Man"}, models.SourceJikan, "")
	if len(candidates) != 0 {
		t.Errorf("expected no candidates below threshold, got %v", candidates)
	}
}

func TestFindCandidatesExternalIDMismatchIsConflict(t *testing.T) {
	m := NewMatcher(DefaultFuzzyThreshold)
	entries := []models.CatalogEntry{
		entryWith("a", "Hunter x Hunter", nil, map[string]string{models.SourceJikan: "136"}),
	}

	// Same title, contradictory id for the same source: never a candidate.
	candidates, conflicts := m.FindCandidates(entries, []string{"Hunter x Hunter"}, models.SourceJikan, "11061")
	if len(candidates) != 0 {
		t.Errorf("expected no candidates, got %v", candidates)
	}
	if len(conflicts) != 1 {
		t.Fatalf("expected one conflict, got %d", len(conflicts))
	}
	if conflicts[0].EntryID != "a" || conflicts[0].ExternalID != "136" {
		t.Errorf("unexpected conflict: %+v", conflicts[0])
	}
}

func TestFindCandidatesRankedByScore(t *testing.T) {
	m := NewMatcher(DefaultFuzzyThreshold)
	entries := []models.CatalogEntry{
		entryWith("partial", "The One Piece", nil, nil),
		entryWith("exact", "One Piece", nil, nil),
	}

	candidates, _ := m.FindCandidates(entries, []string{"One Piece"}, models.SourceSheet, "")
	if len(candidates) < 2 {
		t.Fatalf("expected both entries to surface, got %d", len(candidates))
	}
	if candidates[0].EntryID != "exact" {
		t.Errorf("expected exact match ranked first, got %+v", candidates[0])
	}
	if candidates[0].Similarity <= candidates[1].Similarity {
		t.Errorf("expected descending similarity, got %d then %d", candidates[0].Similarity, candidates[1].Similarity)
	}
}

func TestFindCandidatesEmptyTitlesMatchNothing(t *testing.T) {
	m := NewMatcher(DefaultFuzzyThreshold)
	entries := []models.CatalogEntry{entryWith("a", "Naruto", nil, nil)}

	candidates, conflicts := m.FindCandidates(entries, []string{"", "   ", "!!!"}, models.SourceSheet, "")
	if len(candidates) != 0 || len(conflicts) != 0 {
		t.Errorf("titles that normalize to empty must never match, got %v / %v", candidates, conflicts)
	}
}
