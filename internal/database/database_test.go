package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shelfr/models"
)

func openTestDB(t *testing.T) (*EntryRepository, *UserStateRepository) {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewEntryRepository(db.Connection()), NewUserStateRepository(db.Connection())
}

func testEntry(id string) models.CatalogEntry {
	now := time.Now().UTC().Truncate(time.Second)
	return models.CatalogEntry{
		ID:                id,
		Title:             "Vinland Saga",
		AlternativeTitles: []string{"ヴィンランド・サガ", "Saga of Vinland, Deluxe"},
		MediaType:         models.MediaTypeManga,
		Status:            "publishing",
		Chapters:          212,
		Synopsis:          "Thorfinn's revenge.",
		Genres:            []string{"Action", "Historical"},
		Score:             8.8,
		SourceImport:      models.SourceSheet,
		ExternalIDs:       map[string]string{models.SourceJikan: "642"},
		UserModifiedFields: models.FieldSet{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestEntryInsertAndGet(t *testing.T) {
	entries, _ := openTestDB(t)
	ctx := context.Background()

	want := testEntry("e1")
	require.NoError(t, entries.InsertEntry(ctx, want))

	got, found, err := entries.GetEntryByID(ctx, "e1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, want.Title, got.Title)
	// Alt titles contain a comma; the JSON encoding must survive the trip.
	require.Equal(t, want.AlternativeTitles, got.AlternativeTitles)
	require.Equal(t, want.Genres, got.Genres)
	require.Equal(t, want.Chapters, got.Chapters)
	require.Equal(t, "642", got.ExternalID(models.SourceJikan))

	_, found, err = entries.GetEntryByID(ctx, "missing")
	require.NoError(t, err)
	require.False(t, found)
}

func TestEntryGetByExternalID(t *testing.T) {
	entries, _ := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, entries.InsertEntry(ctx, testEntry("e1")))

	got, found, err := entries.GetEntryByExternalID(ctx, models.SourceJikan, "642")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "e1", got.ID)

	_, found, err = entries.GetEntryByExternalID(ctx, models.SourceJikan, "1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestUpdateEntryValidatesColumns(t *testing.T) {
	entries, _ := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, entries.InsertEntry(ctx, testEntry("e1")))

	err := entries.UpdateEntry(ctx, "e1", map[string]any{"drop table": "x"})
	require.ErrorIs(t, err, ErrUnknownField)

	marker := models.FieldSet{}
	marker.Add(models.FieldSynopsis)
	require.NoError(t, entries.UpdateEntry(ctx, "e1", map[string]any{
		"synopsis":             "edited by hand",
		"episodes":             24,
		"genres":               []any{"Action", "Seinen"},
		"user_modified_fields": marker,
	}))

	got, _, err := entries.GetEntryByID(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, "edited by hand", got.Synopsis)
	require.Equal(t, 24, got.Episodes)
	require.Equal(t, []string{"Action", "Seinen"}, got.Genres)
	require.True(t, got.UserModifiedFields.Has(models.FieldSynopsis))

	err = entries.UpdateEntry(ctx, "missing", map[string]any{"synopsis": "x"})
	require.Error(t, err)
}

func TestSetExternalIDReplacesPerSource(t *testing.T) {
	entries, _ := openTestDB(t)
	ctx := context.Background()

	entry := testEntry("e1")
	entry.ExternalIDs = nil
	require.NoError(t, entries.InsertEntry(ctx, entry))

	require.NoError(t, entries.SetExternalID(ctx, "e1", models.SourceJikan, "100"))
	require.NoError(t, entries.SetExternalID(ctx, "e1", models.SourceJikan, "200"))

	got, _, err := entries.GetEntryByID(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, "200", got.ExternalID(models.SourceJikan))
	require.Len(t, got.ExternalIDs, 1)
}

func TestListAllEntriesAttachesExternalIDs(t *testing.T) {
	entries, _ := openTestDB(t)
	ctx := context.Background()

	first := testEntry("e1")
	second := testEntry("e2")
	second.Title = "Berserk"
	second.ExternalIDs = map[string]string{models.SourceJikan: "2"}
	require.NoError(t, entries.InsertEntry(ctx, first))
	require.NoError(t, entries.InsertEntry(ctx, second))

	all, err := entries.ListAllEntries(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	byID := make(map[string]models.CatalogEntry, len(all))
	for _, e := range all {
		byID[e.ID] = e
	}
	require.Equal(t, "642", byID["e1"].ExternalID(models.SourceJikan))
	require.Equal(t, "2", byID["e2"].ExternalID(models.SourceJikan))
}

func TestDeleteEntryCascades(t *testing.T) {
	entries, states := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, entries.InsertEntry(ctx, testEntry("e1")))
	require.NoError(t, states.UpsertUserState(ctx, models.UserMediaState{
		EntryID: "e1",
		UserID:  "u1",
		Status:  models.StatusInProgress,
		Units:   map[int]models.UnitProgress{1: {Done: true, Timestamp: time.Now().UTC()}},
	}))

	require.NoError(t, entries.DeleteEntry(ctx, "e1"))

	_, found, err := states.GetUserState(ctx, "e1", "u1")
	require.NoError(t, err)
	require.False(t, found, "user state must cascade with the entry")

	err = entries.DeleteEntry(ctx, "e1")
	require.Error(t, err)
}

func TestUserStateRoundTrip(t *testing.T) {
	entries, states := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, entries.InsertEntry(ctx, testEntry("e1")))

	state := models.UserMediaState{
		EntryID:  "e1",
		UserID:   "u1",
		Status:   models.StatusInProgress,
		Units:    map[int]models.UnitProgress{1: {Done: true, Timestamp: time.Now().UTC()}, 7: {Done: true, Timestamp: time.Now().UTC()}},
		Favorite: true,
		Tags:     []string{"rewatch"},
	}
	require.NoError(t, states.UpsertUserState(ctx, state))

	got, found, err := states.GetUserState(ctx, "e1", "u1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, models.StatusInProgress, got.Status)
	require.Equal(t, 2, got.DoneCount())
	require.True(t, got.Units[7].Done)
	require.True(t, got.Favorite)
	require.Equal(t, []string{"rewatch"}, got.Tags)

	// Upsert replaces the whole row.
	state.Units = map[int]models.UnitProgress{1: {Done: true, Timestamp: time.Now().UTC()}}
	state.Status = models.StatusOnHold
	require.NoError(t, states.UpsertUserState(ctx, state))

	got, _, err = states.GetUserState(ctx, "e1", "u1")
	require.NoError(t, err)
	require.Equal(t, models.StatusOnHold, got.Status)
	require.Equal(t, 1, got.DoneCount())

	list, err := states.ListUserStates(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, found, err = states.GetUserState(ctx, "e1", "other")
	require.NoError(t, err)
	require.False(t, found)
}
