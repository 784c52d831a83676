package models

import (
	"sort"
	"strings"
	"time"
)

// Media types tracked by the catalog.
const (
	MediaTypeAnime = "anime"
	MediaTypeManga = "manga"
	MediaTypeGame  = "game"
)

// Catalog entry field names as used in update maps, the
// user_modified_fields marker and the entries table columns.
const (
	FieldTitle             = "title"
	FieldAlternativeTitles = "alternative_titles"
	FieldMediaType         = "media_type"
	FieldStatus            = "status"
	FieldEpisodes          = "episodes"
	FieldChapters          = "chapters"
	FieldStartDate         = "start_date"
	FieldEndDate           = "end_date"
	FieldSynopsis          = "synopsis"
	FieldGenres            = "genres"
	FieldStudios           = "studios"
	FieldScore             = "score"
	FieldCoverURL          = "cover_url"
)

// CatalogEntry represents one media work in the local collection.
type CatalogEntry struct {
	ID                string            `json:"id"`
	Title             string            `json:"title"`
	AlternativeTitles []string          `json:"alternativeTitles,omitempty"`
	MediaType         string            `json:"mediaType"` // anime | manga | game
	Status            string            `json:"status,omitempty"`
	Episodes          int               `json:"episodes,omitempty"`
	Chapters          int               `json:"chapters,omitempty"`
	StartDate         string            `json:"startDate,omitempty"`
	EndDate           string            `json:"endDate,omitempty"`
	Synopsis          string            `json:"synopsis,omitempty"`
	Genres            []string          `json:"genres,omitempty"`
	Studios           []string          `json:"studios,omitempty"`
	Score             float64           `json:"score,omitempty"`
	CoverURL          string            `json:"coverUrl,omitempty"`
	ExternalIDs       map[string]string `json:"externalIds,omitempty"` // source -> id, at most one per source
	SourceImport      string            `json:"sourceImport,omitempty"`
	UserModifiedFields FieldSet         `json:"userModifiedFields,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// ExternalID returns the stored id for a source, or "" when absent.
func (e CatalogEntry) ExternalID(source string) string {
	if e.ExternalIDs == nil {
		return ""
	}
	return e.ExternalIDs[source]
}

// UnitTotal returns the known unit count for the entry's media type
// (episodes for anime, chapters for manga). Zero means unknown.
func (e CatalogEntry) UnitTotal() int {
	if e.MediaType == MediaTypeManga {
		return e.Chapters
	}
	return e.Episodes
}

// FieldSet is a set of field names, serialized as a sorted comma-joined list.
// The catalog stores one per entry to mark fields last written by a human edit.
type FieldSet map[string]struct{}

// ParseFieldSet decodes the serialized form produced by String.
func ParseFieldSet(raw string) FieldSet {
	fs := make(FieldSet)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			fs[part] = struct{}{}
		}
	}
	return fs
}

// Has reports whether the field is in the set.
func (fs FieldSet) Has(field string) bool {
	if fs == nil {
		return false
	}
	_, ok := fs[field]
	return ok
}

// Add inserts the field into the set.
func (fs FieldSet) Add(field string) {
	field = strings.TrimSpace(field)
	if field != "" {
		fs[field] = struct{}{}
	}
}

// String returns the serialized form: sorted field names joined by commas.
func (fs FieldSet) String() string {
	if len(fs) == 0 {
		return ""
	}
	names := make([]string, 0, len(fs))
	for name := range fs {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
