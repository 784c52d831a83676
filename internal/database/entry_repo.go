package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"shelfr/models"
)

// ErrUnknownField is returned when an update map names a column that is not
// part of the entries table.
var ErrUnknownField = errors.New("unknown entry field")

// entryColumns whitelists the columns a generic update may touch.
var entryColumns = map[string]struct{}{
	"title":                {},
	"alternative_titles":   {},
	"media_type":           {},
	"status":               {},
	"episodes":             {},
	"chapters":             {},
	"start_date":           {},
	"end_date":             {},
	"synopsis":             {},
	"genres":               {},
	"studios":              {},
	"score":                {},
	"cover_url":            {},
	"source_import":        {},
	"user_modified_fields": {},
}

// EntryRepository persists catalog entries and their external ids.
type EntryRepository struct {
	db *sql.DB
}

// NewEntryRepository creates a repository over the shared connection.
func NewEntryRepository(db *sql.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

const entrySelect = `
SELECT e.id, e.title, e.alternative_titles, e.media_type, e.status,
       e.episodes, e.chapters, e.start_date, e.end_date, e.synopsis,
       e.genres, e.studios, e.score, e.cover_url, e.source_import,
       e.user_modified_fields, e.created_at, e.updated_at
FROM entries e`

// GetEntryByID loads one entry by its internal id.
func (r *EntryRepository) GetEntryByID(ctx context.Context, id string) (models.CatalogEntry, bool, error) {
	row := r.db.QueryRowContext(ctx, entrySelect+" WHERE e.id = ?", id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CatalogEntry{}, false, nil
	}
	if err != nil {
		return models.CatalogEntry{}, false, fmt.Errorf("get entry %s: %w", id, err)
	}

	if err := r.attachExternalIDs(ctx, &entry); err != nil {
		return models.CatalogEntry{}, false, err
	}
	return entry, true, nil
}

// GetEntryByExternalID loads the entry holding the given id for a source.
func (r *EntryRepository) GetEntryByExternalID(ctx context.Context, source, externalID string) (models.CatalogEntry, bool, error) {
	row := r.db.QueryRowContext(ctx, entrySelect+`
JOIN entry_external_ids x ON x.entry_id = e.id
WHERE x.source = ? AND x.external_id = ?`, source, externalID)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CatalogEntry{}, false, nil
	}
	if err != nil {
		return models.CatalogEntry{}, false, fmt.Errorf("get entry by external id %s/%s: %w", source, externalID, err)
	}

	if err := r.attachExternalIDs(ctx, &entry); err != nil {
		return models.CatalogEntry{}, false, err
	}
	return entry, true, nil
}

// ListAllEntries returns every entry with external ids attached, ordered by
// creation time for a stable scan order.
func (r *EntryRepository) ListAllEntries(ctx context.Context) ([]models.CatalogEntry, error) {
	rows, err := r.db.QueryContext(ctx, entrySelect+" ORDER BY e.created_at, e.id")
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []models.CatalogEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}

	if len(entries) == 0 {
		return entries, nil
	}

	// One pass over the id table instead of a query per entry.
	idRows, err := r.db.QueryContext(ctx, "SELECT entry_id, source, external_id FROM entry_external_ids")
	if err != nil {
		return nil, fmt.Errorf("list external ids: %w", err)
	}
	defer idRows.Close()

	byEntry := make(map[string]map[string]string)
	for idRows.Next() {
		var entryID, source, externalID string
		if err := idRows.Scan(&entryID, &source, &externalID); err != nil {
			return nil, fmt.Errorf("scan external id: %w", err)
		}
		if byEntry[entryID] == nil {
			byEntry[entryID] = make(map[string]string)
		}
		byEntry[entryID][source] = externalID
	}
	if err := idRows.Err(); err != nil {
		return nil, fmt.Errorf("list external ids: %w", err)
	}

	for i := range entries {
		entries[i].ExternalIDs = byEntry[entries[i].ID]
	}
	return entries, nil
}

// InsertEntry writes a new entry and its external ids in one transaction.
func (r *EntryRepository) InsertEntry(ctx context.Context, entry models.CatalogEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
INSERT INTO entries (id, title, alternative_titles, media_type, status,
                     episodes, chapters, start_date, end_date, synopsis,
                     genres, studios, score, cover_url, source_import,
                     user_modified_fields, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Title, encodeStrings(entry.AlternativeTitles),
		entry.MediaType, entry.Status, entry.Episodes, entry.Chapters,
		entry.StartDate, entry.EndDate, entry.Synopsis,
		encodeStrings(entry.Genres), encodeStrings(entry.Studios),
		entry.Score, entry.CoverURL, entry.SourceImport,
		entry.UserModifiedFields.String(), entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert entry %s: %w", entry.ID, err)
	}

	for source, externalID := range entry.ExternalIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO entry_external_ids (entry_id, source, external_id) VALUES (?, ?, ?)",
			entry.ID, source, externalID); err != nil {
			return fmt.Errorf("insert external id %s/%s: %w", source, externalID, err)
		}
	}

	return tx.Commit()
}

// UpdateEntry applies a declarative field-diff map to one entry. Slice
// values are serialized, field names are validated against the column
// whitelist, and updated_at is always bumped.
func (r *EntryRepository) UpdateEntry(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		if _, ok := entryColumns[name]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownField, name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	assignments := make([]string, 0, len(names)+1)
	args := make([]any, 0, len(names)+2)
	for _, name := range names {
		assignments = append(assignments, name+" = ?")
		args = append(args, encodeValue(fields[name]))
	}
	assignments = append(assignments, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	query := "UPDATE entries SET " + strings.Join(assignments, ", ") + " WHERE id = ?"
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update entry %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update entry %s: no such entry", id)
	}
	return nil
}

// SetExternalID records an external id for an entry, replacing a previous
// id for the same source if present.
func (r *EntryRepository) SetExternalID(ctx context.Context, entryID, source, externalID string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO entry_external_ids (entry_id, source, external_id)
VALUES (?, ?, ?)
ON CONFLICT (entry_id, source) DO UPDATE SET external_id = excluded.external_id`,
		entryID, source, externalID)
	if err != nil {
		return fmt.Errorf("set external id %s/%s on %s: %w", source, externalID, entryID, err)
	}
	return nil
}

// DeleteEntry removes an entry; external ids and user states cascade.
func (r *EntryRepository) DeleteEntry(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete entry %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("delete entry %s: no such entry", id)
	}
	return nil
}

func (r *EntryRepository) attachExternalIDs(ctx context.Context, entry *models.CatalogEntry) error {
	rows, err := r.db.QueryContext(ctx,
		"SELECT source, external_id FROM entry_external_ids WHERE entry_id = ?", entry.ID)
	if err != nil {
		return fmt.Errorf("load external ids for %s: %w", entry.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var source, externalID string
		if err := rows.Scan(&source, &externalID); err != nil {
			return fmt.Errorf("scan external id: %w", err)
		}
		if entry.ExternalIDs == nil {
			entry.ExternalIDs = make(map[string]string)
		}
		entry.ExternalIDs[source] = externalID
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (models.CatalogEntry, error) {
	var entry models.CatalogEntry
	var altTitles, genres, studios, modified string

	err := row.Scan(&entry.ID, &entry.Title, &altTitles, &entry.MediaType,
		&entry.Status, &entry.Episodes, &entry.Chapters, &entry.StartDate,
		&entry.EndDate, &entry.Synopsis, &genres, &studios, &entry.Score,
		&entry.CoverURL, &entry.SourceImport, &modified,
		&entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return models.CatalogEntry{}, err
	}

	entry.AlternativeTitles = decodeStrings(altTitles)
	entry.Genres = decodeStrings(genres)
	entry.Studios = decodeStrings(studios)
	entry.UserModifiedFields = models.ParseFieldSet(modified)
	return entry, nil
}

// encodeValue serializes update-map values into column shapes.
func encodeValue(value any) any {
	switch v := value.(type) {
	case []string:
		return encodeStrings(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return encodeStrings(out)
	case models.FieldSet:
		return v.String()
	default:
		return value
	}
}

// encodeStrings stores string lists as JSON arrays so values containing the
// legacy delimiters survive a round trip.
func encodeStrings(values []string) string {
	if len(values) == 0 {
		return ""
	}
	data, err := json.Marshal(values)
	if err != nil {
		return ""
	}
	return string(data)
}

func decodeStrings(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err == nil {
		return values
	}

	// Legacy rows used delimiter-joined free text.
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ';' || r == ',' || r == '|'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
