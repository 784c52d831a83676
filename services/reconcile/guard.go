package reconcile

import (
	"strings"

	"shelfr/models"
)

// Tie-break rules for fields not covered by an explicit priority rule.
const (
	TieBreakPreferIncoming = "prefer_incoming"
	TieBreakPreferExisting = "prefer_existing"
)

// MergePolicy configures the source-priority-aware merge applied on update.
type MergePolicy struct {
	// AuthoritativeSources maps a field name to the only import source
	// allowed to write it. Fields absent from the map accept any source.
	AuthoritativeSources map[string]string
	// TieBreak decides the winner when an unprotected, non-authoritative,
	// non-count field already holds a value and the payload disagrees.
	TieBreak string
}

// DefaultMergePolicy treats Jikan as authoritative for the curated list
// fields and lets incoming values win elsewhere.
func DefaultMergePolicy() MergePolicy {
	return MergePolicy{
		AuthoritativeSources: map[string]string{
			models.FieldAlternativeTitles: models.SourceJikan,
			models.FieldGenres:            models.SourceJikan,
			models.FieldStudios:           models.SourceJikan,
		},
		TieBreak: TieBreakPreferIncoming,
	}
}

// countFields only ever grow during automated imports: an external source
// reporting fewer episodes than we know about is stale, not a correction.
var countFields = map[string]struct{}{
	models.FieldEpisodes: {},
	models.FieldChapters: {},
}

// IsFieldProtected reports whether the field was last written by a human
// edit and must never be overwritten by an automated import.
func IsFieldProtected(marker models.FieldSet, field string) bool {
	return marker.Has(field)
}

// BuildSafeUpdate computes the write set for updating an existing entry from
// an import payload. Protected fields are dropped, empty incoming values
// never erase stored data, authoritative fields require the designated
// source, and count fields never decrease unless forceOverwrite is set.
// The returned map is what storage applies generically; an empty map means
// nothing to write.
func BuildSafeUpdate(existing models.CatalogEntry, incoming map[string]any, marker models.FieldSet, source string, forceOverwrite bool, policy MergePolicy) map[string]any {
	update := make(map[string]any, len(incoming))

	for field, value := range incoming {
		field = strings.TrimSpace(field)
		if field == "" || IsFieldProtected(marker, field) {
			continue
		}
		if isEmptyValue(value) {
			// Payloads describe what changed, not what is absent.
			continue
		}

		if owner, ok := policy.AuthoritativeSources[field]; ok && owner != source {
			continue
		}

		if _, isCount := countFields[field]; isCount && !forceOverwrite {
			if asInt(value) <= existingCount(existing, field) {
				continue
			}
		}

		if policy.TieBreak == TieBreakPreferExisting {
			if !isEmptyValue(existingValue(existing, field)) && field != models.FieldEpisodes && field != models.FieldChapters {
				continue
			}
		}

		update[field] = value
	}

	return update
}

func existingCount(entry models.CatalogEntry, field string) int {
	switch field {
	case models.FieldEpisodes:
		return entry.Episodes
	case models.FieldChapters:
		return entry.Chapters
	}
	return 0
}

func existingValue(entry models.CatalogEntry, field string) any {
	switch field {
	case models.FieldTitle:
		return entry.Title
	case models.FieldAlternativeTitles:
		return entry.AlternativeTitles
	case models.FieldMediaType:
		return entry.MediaType
	case models.FieldStatus:
		return entry.Status
	case models.FieldEpisodes:
		return entry.Episodes
	case models.FieldChapters:
		return entry.Chapters
	case models.FieldStartDate:
		return entry.StartDate
	case models.FieldEndDate:
		return entry.EndDate
	case models.FieldSynopsis:
		return entry.Synopsis
	case models.FieldGenres:
		return entry.Genres
	case models.FieldStudios:
		return entry.Studios
	case models.FieldScore:
		return entry.Score
	case models.FieldCoverURL:
		return entry.CoverURL
	}
	return nil
}

// isEmptyValue reports whether an incoming value carries no data. Empty
// values never erase what is already stored.
func isEmptyValue(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []string:
		return len(v) == 0
	case []any:
		return len(v) == 0
	case int:
		return v == 0
	case int64:
		return v == 0
	case float64:
		return v == 0
	default:
		return false
	}
}

// asInt coerces the numeric shapes JSON decoding produces.
func asInt(value any) int {
	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
