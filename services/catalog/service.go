// Package catalog is the read/edit surface over the entry store. Edits made
// here are user edits: every field they touch is added to the entry's
// modified-field marker so later imports cannot silently overwrite it.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"shelfr/models"
	"shelfr/utils/similarity"
)

var (
	// ErrEntryNotFound is returned when the requested entry does not exist.
	ErrEntryNotFound = errors.New("catalog entry not found")
	// ErrInvalidField is returned when an edit names an unknown field.
	ErrInvalidField = errors.New("unknown catalog field")
	// ErrTitleRequired is returned when a new entry has no title.
	ErrTitleRequired = errors.New("entry title is required")
)

// editableFields are the entry fields a user edit may touch.
var editableFields = map[string]struct{}{
	models.FieldTitle:             {},
	models.FieldAlternativeTitles: {},
	models.FieldMediaType:         {},
	models.FieldStatus:            {},
	models.FieldEpisodes:          {},
	models.FieldChapters:          {},
	models.FieldStartDate:         {},
	models.FieldEndDate:           {},
	models.FieldSynopsis:          {},
	models.FieldGenres:            {},
	models.FieldStudios:           {},
	models.FieldScore:             {},
	models.FieldCoverURL:          {},
}

// Store is the storage contract for catalog reads and edits.
type Store interface {
	GetEntryByID(ctx context.Context, id string) (models.CatalogEntry, bool, error)
	ListAllEntries(ctx context.Context) ([]models.CatalogEntry, error)
	InsertEntry(ctx context.Context, entry models.CatalogEntry) error
	UpdateEntry(ctx context.Context, id string, fields map[string]any) error
	DeleteEntry(ctx context.Context, id string) error
}

// ListFilter narrows a catalog listing. Zero values mean "no filter".
type ListFilter struct {
	MediaType string
	Genre     string
	Query     string // matched against canonical and alternative titles
}

// Service exposes catalog reads and user edits.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates the catalog service.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Get loads one entry.
func (s *Service) Get(ctx context.Context, id string) (models.CatalogEntry, error) {
	entry, found, err := s.store.GetEntryByID(ctx, id)
	if err != nil {
		return models.CatalogEntry{}, err
	}
	if !found {
		return models.CatalogEntry{}, ErrEntryNotFound
	}
	return entry, nil
}

// List returns entries matching the filter, sorted by title.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]models.CatalogEntry, error) {
	entries, err := s.store.ListAllEntries(ctx)
	if err != nil {
		return nil, err
	}

	query := similarity.Normalize(filter.Query)
	filtered := entries[:0]
	for _, entry := range entries {
		if filter.MediaType != "" && entry.MediaType != filter.MediaType {
			continue
		}
		if filter.Genre != "" && !containsFold(entry.Genres, filter.Genre) {
			continue
		}
		if query != "" && !titleMatches(entry, query) {
			continue
		}
		filtered = append(filtered, entry)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return strings.ToLower(filtered[i].Title) < strings.ToLower(filtered[j].Title)
	})
	return filtered, nil
}

// Create adds a hand-entered entry. Unlike imports it bypasses matching; the
// caller explicitly wants a new row.
func (s *Service) Create(ctx context.Context, entry models.CatalogEntry) (models.CatalogEntry, error) {
	entry.Title = strings.TrimSpace(entry.Title)
	if entry.Title == "" {
		return models.CatalogEntry{}, ErrTitleRequired
	}
	if entry.MediaType == "" {
		entry.MediaType = models.MediaTypeAnime
	}

	now := s.now().UTC()
	entry.ID = uuid.NewString()
	entry.SourceImport = models.SourceManual
	entry.UserModifiedFields = models.FieldSet{}
	entry.CreatedAt = now
	entry.UpdatedAt = now

	if err := s.store.InsertEntry(ctx, entry); err != nil {
		return models.CatalogEntry{}, err
	}
	log.Printf("[catalog] created entry=%s title=%q", entry.ID, entry.Title)
	return entry, nil
}

// Edit applies a user edit to one entry. Every field in the map is recorded
// in the entry's modified-field marker, which future imports must respect.
func (s *Service) Edit(ctx context.Context, id string, fields map[string]any) (models.CatalogEntry, error) {
	if len(fields) == 0 {
		return s.Get(ctx, id)
	}

	entry, err := s.Get(ctx, id)
	if err != nil {
		return models.CatalogEntry{}, err
	}

	marker := entry.UserModifiedFields
	if marker == nil {
		marker = models.FieldSet{}
	}

	writeSet := make(map[string]any, len(fields)+1)
	for field, value := range fields {
		if _, ok := editableFields[field]; !ok {
			return models.CatalogEntry{}, fmt.Errorf("%w: %s", ErrInvalidField, field)
		}
		writeSet[field] = value
		marker.Add(field)
	}
	writeSet["user_modified_fields"] = marker

	if err := s.store.UpdateEntry(ctx, id, writeSet); err != nil {
		return models.CatalogEntry{}, err
	}

	log.Printf("[catalog] user edit entry=%s fields=%s", id, marker.String())
	return s.Get(ctx, id)
}

// ClearModifiedFields releases named fields (or all when names is empty)
// back to import control.
func (s *Service) ClearModifiedFields(ctx context.Context, id string, names []string) (models.CatalogEntry, error) {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return models.CatalogEntry{}, err
	}

	marker := entry.UserModifiedFields
	if len(names) == 0 {
		marker = models.FieldSet{}
	} else {
		for _, name := range names {
			delete(marker, name)
		}
	}

	if err := s.store.UpdateEntry(ctx, id, map[string]any{"user_modified_fields": marker}); err != nil {
		return models.CatalogEntry{}, err
	}
	return s.Get(ctx, id)
}

// Delete removes one entry. Progress rows cascade in storage.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteEntry(ctx, id); err != nil {
		return err
	}
	log.Printf("[catalog] deleted entry=%s", id)
	return nil
}

func titleMatches(entry models.CatalogEntry, normalizedQuery string) bool {
	if strings.Contains(similarity.Normalize(entry.Title), normalizedQuery) {
		return true
	}
	for _, alt := range entry.AlternativeTitles {
		if strings.Contains(similarity.Normalize(alt), normalizedQuery) {
			return true
		}
	}
	return false
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}
