package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"shelfr/models"
	"shelfr/utils/similarity"
)

var (
	// ErrNoTitles means the payload carried neither a usable title nor an
	// external id; nothing is written.
	ErrNoTitles = errors.New("import payload has no usable title or external id")
	// ErrTargetNotFound means a confirmed target id does not exist.
	ErrTargetNotFound = errors.New("confirmed target entry not found")
)

// Store is the storage contract the resolver depends on. Implemented by
// internal/database; mutations are serialized by the storage layer itself.
type Store interface {
	GetEntryByExternalID(ctx context.Context, source, externalID string) (models.CatalogEntry, bool, error)
	GetEntryByID(ctx context.Context, id string) (models.CatalogEntry, bool, error)
	ListAllEntries(ctx context.Context) ([]models.CatalogEntry, error)
	InsertEntry(ctx context.Context, entry models.CatalogEntry) error
	UpdateEntry(ctx context.Context, id string, fields map[string]any) error
	SetExternalID(ctx context.Context, entryID, source, externalID string) error
}

// Resolver classifies an import payload as CREATE, UPDATE, AMBIGUOUS or
// REJECT and performs the resulting write through the field protection guard.
type Resolver struct {
	store   Store
	matcher *Matcher
	policy  MergePolicy
	now     func() time.Time
}

// NewResolver creates a resolver around the given store.
func NewResolver(store Store, matcher *Matcher, policy MergePolicy) *Resolver {
	if matcher == nil {
		matcher = NewMatcher(DefaultFuzzyThreshold)
	}
	return &Resolver{
		store:   store,
		matcher: matcher,
		policy:  policy,
		now:     time.Now,
	}
}

// Resolve decides what to do with one import payload and applies the
// decision. AMBIGUOUS and REJECT outcomes write nothing; the caller must
// re-invoke with a confirmed target id or the force-create flag.
func (r *Resolver) Resolve(ctx context.Context, payload models.ImportPayload) (models.ReconcileResult, error) {
	externalID := strings.TrimSpace(payload.ExternalID)
	// Matching and validation run on titles that survive normalization;
	// storage keeps every non-blank title, native scripts included.
	titles := usableTitles(payload.Titles)
	stored := presentTitles(payload.Titles)

	if len(titles) == 0 && externalID == "" {
		return models.ReconcileResult{Error: ErrNoTitles.Error()}, ErrNoTitles
	}

	// Caller already disambiguated: write straight to the chosen entry.
	if target := strings.TrimSpace(payload.ConfirmedTargetID); target != "" {
		entry, found, err := r.store.GetEntryByID(ctx, target)
		if err != nil {
			return models.ReconcileResult{}, fmt.Errorf("load confirmed target: %w", err)
		}
		if !found {
			return models.ReconcileResult{Error: ErrTargetNotFound.Error()}, ErrTargetNotFound
		}
		return r.update(ctx, entry, payload, models.MatchKindExactID)
	}

	// An external id hit is deterministic; no disambiguation needed even
	// when the incoming title differs from the stored one.
	if externalID != "" {
		entry, found, err := r.store.GetEntryByExternalID(ctx, payload.Source, externalID)
		if err != nil {
			return models.ReconcileResult{}, fmt.Errorf("lookup by external id: %w", err)
		}
		if found {
			return r.update(ctx, entry, payload, models.MatchKindExactID)
		}
	}

	if payload.ForceCreate {
		return r.create(ctx, payload, stored, externalID)
	}

	entries, err := r.store.ListAllEntries(ctx)
	if err != nil {
		return models.ReconcileResult{}, fmt.Errorf("list entries: %w", err)
	}

	candidates, conflicts := r.matcher.FindCandidates(entries, titles, payload.Source, externalID)

	switch {
	case len(candidates) == 0 && len(conflicts) == 0:
		return r.create(ctx, payload, stored, externalID)

	case len(candidates) == 1 && candidates[0].Similarity == 100:
		entry, found, err := r.store.GetEntryByID(ctx, candidates[0].EntryID)
		if err != nil {
			return models.ReconcileResult{}, fmt.Errorf("load matched entry: %w", err)
		}
		if !found {
			// Entry vanished between scan and write; treat as new.
			return r.create(ctx, payload, stored, externalID)
		}
		return r.update(ctx, entry, payload, candidates[0].MatchKind)

	case len(candidates) > 0:
		// Probable but not certain; hand the list back instead of guessing.
		return models.ReconcileResult{
			Decision:   models.DecisionAmbiguous,
			Candidates: candidates,
		}, nil

	default:
		conflict := conflicts[0]
		return models.ReconcileResult{
			Decision: models.DecisionReject,
			Conflict: &conflict,
			Error: fmt.Sprintf("entry %q already has external id %s for source %s",
				conflict.Title, conflict.ExternalID, payload.Source),
		}, nil
	}
}

func (r *Resolver) update(ctx context.Context, entry models.CatalogEntry, payload models.ImportPayload, matchKind string) (models.ReconcileResult, error) {
	writeSet := BuildSafeUpdate(entry, payload.Fields, entry.UserModifiedFields, payload.Source, payload.ForceOverwrite, r.policy)

	if stamp := mergeProvenance(entry.SourceImport, payload.Source); stamp != entry.SourceImport {
		writeSet["source_import"] = stamp
	}

	if len(writeSet) > 0 {
		if err := r.store.UpdateEntry(ctx, entry.ID, writeSet); err != nil {
			return models.ReconcileResult{}, fmt.Errorf("update entry %s: %w", entry.ID, err)
		}
	}

	externalID := strings.TrimSpace(payload.ExternalID)
	if externalID != "" && entry.ExternalID(payload.Source) == "" {
		if err := r.store.SetExternalID(ctx, entry.ID, payload.Source, externalID); err != nil {
			return models.ReconcileResult{}, fmt.Errorf("set external id on %s: %w", entry.ID, err)
		}
	}

	log.Printf("[reconcile] update entry=%s source=%s kind=%s fields=%d", entry.ID, payload.Source, matchKind, len(writeSet))
	return models.ReconcileResult{Decision: models.DecisionUpdate, EntryID: entry.ID}, nil
}

func (r *Resolver) create(ctx context.Context, payload models.ImportPayload, titles []string, externalID string) (models.ReconcileResult, error) {
	if len(titles) == 0 {
		// An id-only payload can update an existing entry but a new entry
		// needs at least one real title.
		return models.ReconcileResult{Error: ErrNoTitles.Error()}, ErrNoTitles
	}

	// Prefer a title that normalizes to something searchable as the
	// canonical one; the rest, native scripts included, become alternatives.
	primary := titles[0]
	for _, t := range titles {
		if similarity.Normalize(t) != "" {
			primary = t
			break
		}
	}
	var alternatives []string
	for _, t := range titles {
		if t != primary {
			alternatives = append(alternatives, t)
		}
	}

	now := r.now().UTC()
	entry := models.CatalogEntry{
		ID:                 uuid.NewString(),
		Title:              primary,
		AlternativeTitles:  alternatives,
		MediaType:          models.MediaTypeAnime,
		SourceImport:       mergeProvenance(stringField(payload.Fields, "source_import"), payload.Source),
		UserModifiedFields: models.FieldSet{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	applyFields(&entry, payload.Fields)

	if externalID != "" {
		entry.ExternalIDs = map[string]string{payload.Source: externalID}
	}

	if err := r.store.InsertEntry(ctx, entry); err != nil {
		return models.ReconcileResult{}, fmt.Errorf("insert entry: %w", err)
	}

	log.Printf("[reconcile] create entry=%s source=%s title=%q", entry.ID, payload.Source, entry.Title)
	return models.ReconcileResult{Decision: models.DecisionCreate, EntryID: entry.ID}, nil
}

// mergeProvenance joins import source labels with "+" instead of replacing
// them, so an entry touched by two sources keeps both attributions.
func mergeProvenance(existing, source string) string {
	existing = strings.TrimSpace(existing)
	source = strings.TrimSpace(source)
	if source == "" {
		return existing
	}
	if existing == "" {
		return source
	}
	for _, part := range strings.Split(existing, "+") {
		if part == source {
			return existing
		}
	}
	return existing + "+" + source
}

// usableTitles drops titles that normalize to empty so a blank title field
// can never cause every entry to match.
func usableTitles(titles []string) []string {
	out := make([]string, 0, len(titles))
	for _, t := range titles {
		if similarity.Normalize(t) != "" {
			out = append(out, strings.TrimSpace(t))
		}
	}
	return out
}

// presentTitles keeps every non-blank title as given, trimmed. A title that
// normalizes to empty cannot drive matching but still belongs on the entry.
func presentTitles(titles []string) []string {
	out := make([]string, 0, len(titles))
	for _, t := range titles {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func stringField(fields map[string]any, name string) string {
	if fields == nil {
		return ""
	}
	if v, ok := fields[name].(string); ok {
		return v
	}
	return ""
}

// applyFields copies payload field values onto a fresh entry, coercing the
// shapes JSON decoding produces.
func applyFields(entry *models.CatalogEntry, fields map[string]any) {
	for field, value := range fields {
		if isEmptyValue(value) {
			continue
		}
		switch field {
		case models.FieldTitle:
			if s, ok := value.(string); ok {
				entry.Title = strings.TrimSpace(s)
			}
		case models.FieldAlternativeTitles:
			entry.AlternativeTitles = toStringSlice(value)
		case models.FieldMediaType:
			if s, ok := value.(string); ok {
				entry.MediaType = s
			}
		case models.FieldStatus:
			if s, ok := value.(string); ok {
				entry.Status = s
			}
		case models.FieldEpisodes:
			entry.Episodes = asInt(value)
		case models.FieldChapters:
			entry.Chapters = asInt(value)
		case models.FieldStartDate:
			if s, ok := value.(string); ok {
				entry.StartDate = s
			}
		case models.FieldEndDate:
			if s, ok := value.(string); ok {
				entry.EndDate = s
			}
		case models.FieldSynopsis:
			if s, ok := value.(string); ok {
				entry.Synopsis = s
			}
		case models.FieldGenres:
			entry.Genres = toStringSlice(value)
		case models.FieldStudios:
			entry.Studios = toStringSlice(value)
		case models.FieldScore:
			if f, ok := value.(float64); ok {
				entry.Score = f
			}
		case models.FieldCoverURL:
			if s, ok := value.(string); ok {
				entry.CoverURL = s
			}
		}
	}
}

func toStringSlice(value any) []string {
	switch v := value.(type) {
	case []string:
		return dropEmpty(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return dropEmpty(out)
	case string:
		return ExtractAlternativeTitles(v)
	}
	return nil
}
