package progress

import (
	"context"
	"errors"
	"testing"

	"shelfr/models"
)

type fakeEntryStore struct {
	entries map[string]models.CatalogEntry
}

func (s *fakeEntryStore) GetEntryByID(_ context.Context, id string) (models.CatalogEntry, bool, error) {
	e, ok := s.entries[id]
	return e, ok, nil
}

type fakeStateStore struct {
	states map[string]models.UserMediaState
}

func stateKey(entryID, userID string) string { return entryID + "|" + userID }

func (s *fakeStateStore) GetUserState(_ context.Context, entryID, userID string) (models.UserMediaState, bool, error) {
	st, ok := s.states[stateKey(entryID, userID)]
	return st, ok, nil
}

func (s *fakeStateStore) ListUserStates(_ context.Context, userID string) ([]models.UserMediaState, error) {
	var out []models.UserMediaState
	for _, st := range s.states {
		if st.UserID == userID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *fakeStateStore) UpsertUserState(_ context.Context, state models.UserMediaState) error {
	s.states[stateKey(state.EntryID, state.UserID)] = state
	return nil
}

func newTestService(entries ...models.CatalogEntry) (*Service, *fakeStateStore) {
	es := &fakeEntryStore{entries: make(map[string]models.CatalogEntry)}
	for _, e := range entries {
		es.entries[e.ID] = e
	}
	ss := &fakeStateStore{states: make(map[string]models.UserMediaState)}
	return NewService(es, ss), ss
}

func TestToggleUnitDerivesStatus(t *testing.T) {
	svc, _ := newTestService(models.CatalogEntry{
		ID: "e1", MediaType: models.MediaTypeAnime, Episodes: 3,
	})
	ctx := context.Background()

	state, err := svc.ToggleUnit(ctx, "e1", "u1", 1)
	if err != nil {
		t.Fatalf("toggle returned error: %v", err)
	}
	if state.Status != models.StatusInProgress {
		t.Fatalf("after one episode expected in_progress, got %s", state.Status)
	}

	if _, err := svc.ToggleUnit(ctx, "e1", "u1", 2); err != nil {
		t.Fatal(err)
	}
	state, err = svc.ToggleUnit(ctx, "e1", "u1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if state.Status != models.StatusCompleted {
		t.Fatalf("after all episodes expected completed, got %s", state.Status)
	}

	// Untoggling the last episode drops back to in_progress.
	state, err = svc.ToggleUnit(ctx, "e1", "u1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if state.Status != models.StatusInProgress {
		t.Fatalf("expected in_progress after untoggle, got %s", state.Status)
	}
	if state.DoneCount() != 2 {
		t.Fatalf("expected two units done, got %d", state.DoneCount())
	}
}

func TestToggleAllOffReturnsToNotStarted(t *testing.T) {
	svc, _ := newTestService(models.CatalogEntry{ID: "e1", MediaType: models.MediaTypeAnime, Episodes: 12})
	ctx := context.Background()

	if _, err := svc.ToggleUnit(ctx, "e1", "u1", 5); err != nil {
		t.Fatal(err)
	}
	state, err := svc.ToggleUnit(ctx, "e1", "u1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if state.Status != models.StatusNotStarted {
		t.Fatalf("expected not_started with zero units done, got %s", state.Status)
	}
}

func TestUnknownTotalNeverChangesStatus(t *testing.T) {
	// Episodes unknown (zero): units accrue but the status never moves.
	svc, _ := newTestService(models.CatalogEntry{ID: "e1", MediaType: models.MediaTypeAnime})
	ctx := context.Background()

	var state models.UserMediaState
	var err error
	for unit := 1; unit <= 50; unit++ {
		state, err = svc.ToggleUnit(ctx, "e1", "u1", unit)
		if err != nil {
			t.Fatal(err)
		}
	}
	if state.Status != models.StatusNotStarted {
		t.Fatalf("toggling with an unknown total must not change status, got %s", state.Status)
	}
	if state.DoneCount() != 50 {
		t.Fatalf("expected 50 units recorded, got %d", state.DoneCount())
	}

	// A manual status survives the same way.
	if _, err := svc.SetManualStatus(ctx, "e1", "u1", models.StatusOnHold); err != nil {
		t.Fatal(err)
	}
	state, err = svc.ToggleUnit(ctx, "e1", "u1", 51)
	if err != nil {
		t.Fatal(err)
	}
	if state.Status != models.StatusOnHold {
		t.Fatalf("expected on_hold to stick, got %s", state.Status)
	}
}

func TestMarkAllCompleteRequiresTotal(t *testing.T) {
	svc, _ := newTestService(
		models.CatalogEntry{ID: "known", MediaType: models.MediaTypeManga, Chapters: 4},
		models.CatalogEntry{ID: "unknown", MediaType: models.MediaTypeManga},
	)
	ctx := context.Background()

	state, err := svc.MarkAllComplete(ctx, "known", "u1")
	if err != nil {
		t.Fatalf("mark all returned error: %v", err)
	}
	if state.Status != models.StatusCompleted || state.DoneCount() != 4 {
		t.Fatalf("expected 4 chapters done and completed, got %d / %s", state.DoneCount(), state.Status)
	}

	if _, err := svc.MarkAllComplete(ctx, "unknown", "u1"); !errors.Is(err, ErrUnknownTotal) {
		t.Fatalf("expected ErrUnknownTotal, got %v", err)
	}
}

func TestManualStatusSticks(t *testing.T) {
	svc, _ := newTestService(models.CatalogEntry{ID: "e1", MediaType: models.MediaTypeAnime, Episodes: 12})
	ctx := context.Background()

	state, err := svc.SetManualStatus(ctx, "e1", "u1", models.StatusOnHold)
	if err != nil {
		t.Fatalf("set status returned error: %v", err)
	}
	if state.Status != models.StatusOnHold {
		t.Fatalf("expected on_hold, got %s", state.Status)
	}

	// Toggling units while on hold records progress but keeps the status.
	state, err = svc.ToggleUnit(ctx, "e1", "u1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if state.Status != models.StatusOnHold {
		t.Fatalf("manual status must survive unit toggles, got %s", state.Status)
	}

	// Handing control back to derivation recomputes immediately.
	state, err = svc.SetManualStatus(ctx, "e1", "u1", models.StatusInProgress)
	if err != nil {
		t.Fatal(err)
	}
	if state.Status != models.StatusInProgress {
		t.Fatalf("expected derived in_progress, got %s", state.Status)
	}
}

func TestSetManualStatusRejectsUnknownValues(t *testing.T) {
	svc, _ := newTestService(models.CatalogEntry{ID: "e1"})

	if _, err := svc.SetManualStatus(context.Background(), "e1", "u1", "paused"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestToggleUnitValidation(t *testing.T) {
	svc, _ := newTestService(models.CatalogEntry{ID: "e1"})
	ctx := context.Background()

	if _, err := svc.ToggleUnit(ctx, "e1", "u1", 0); !errors.Is(err, ErrInvalidUnit) {
		t.Fatalf("expected ErrInvalidUnit for unit 0, got %v", err)
	}
	if _, err := svc.ToggleUnit(ctx, "missing", "u1", 1); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}

func TestFavoriteAndTagsLeaveProgressAlone(t *testing.T) {
	svc, store := newTestService(models.CatalogEntry{ID: "e1", Episodes: 2})
	ctx := context.Background()

	if _, err := svc.ToggleUnit(ctx, "e1", "u1", 1); err != nil {
		t.Fatal(err)
	}

	state, err := svc.SetFavorite(ctx, "e1", "u1", true)
	if err != nil {
		t.Fatal(err)
	}
	if !state.Favorite || state.DoneCount() != 1 || state.Status != models.StatusInProgress {
		t.Fatalf("favorite flip must not touch progress: %+v", state)
	}

	state, err = svc.SetTags(ctx, "e1", "u1", []string{"rewatch", "comfort"})
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Tags) != 2 {
		t.Fatalf("expected tags stored, got %v", state.Tags)
	}

	stored := store.states[stateKey("e1", "u1")]
	if !stored.Favorite || len(stored.Tags) != 2 {
		t.Fatalf("expected persisted state to carry favorite and tags: %+v", stored)
	}
}

func TestGetStateMissingRowReadsFresh(t *testing.T) {
	svc, _ := newTestService(models.CatalogEntry{ID: "e1"})

	state, err := svc.GetState(context.Background(), "e1", "u1")
	if err != nil {
		t.Fatalf("get state returned error: %v", err)
	}
	if state.Status != models.StatusNotStarted || state.DoneCount() != 0 {
		t.Fatalf("expected fresh not_started state, got %+v", state)
	}
}
