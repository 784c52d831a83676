package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"shelfr/models"
	"shelfr/services/jikan"
	"shelfr/services/reconcile"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

// memStore is an in-memory reconcile.Store for import pipeline tests.
type memStore struct {
	mu      sync.Mutex
	entries map[string]models.CatalogEntry
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]models.CatalogEntry)}
}

func (s *memStore) GetEntryByExternalID(_ context.Context, source, externalID string) (models.CatalogEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ExternalID(source) == externalID {
			return e, true, nil
		}
	}
	return models.CatalogEntry{}, false, nil
}

func (s *memStore) GetEntryByID(_ context.Context, id string) (models.CatalogEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return e, ok, nil
}

func (s *memStore) ListAllEntries(_ context.Context) ([]models.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CatalogEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out, nil
}

func (s *memStore) InsertEntry(_ context.Context, entry models.CatalogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = entry
	return nil
}

func (s *memStore) UpdateEntry(_ context.Context, id string, fields map[string]any) error {
	return nil
}

func (s *memStore) SetExternalID(_ context.Context, entryID, source, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[entryID]
	if e.ExternalIDs == nil {
		e.ExternalIDs = make(map[string]string)
	}
	e.ExternalIDs[source] = externalID
	s.entries[entryID] = e
	return nil
}

func newImportService(store reconcile.Store, jikanClient *jikan.Client) *Service {
	resolver := reconcile.NewResolver(store, nil, reconcile.DefaultMergePolicy())
	return NewService(fastOrchestrator(2), resolver, jikanClient, nil, nil, "en")
}

func TestSheetPayloadSplitsAltTitles(t *testing.T) {
	payload := SheetPayload(models.SheetImport{
		Title:     "Gachiakuta",
		AltTitles: "ガチアクタ; Gachi Akuta | GA",
	})

	if payload.Source != models.SourceSheet {
		t.Errorf("expected sheet source, got %q", payload.Source)
	}
	if len(payload.Titles) != 4 {
		t.Fatalf("expected primary plus three alternatives, got %v", payload.Titles)
	}
	if payload.Titles[0] != "Gachiakuta" {
		t.Errorf("primary title must come first, got %q", payload.Titles[0])
	}
}

func TestImportOneCreatesFromSheetRow(t *testing.T) {
	store := newMemStore()
	svc := newImportService(store, nil)

	result, err := svc.ImportOne(context.Background(), SheetPayload(models.SheetImport{
		Title:  "Dorohedoro",
		Fields: map[string]any{models.FieldMediaType: models.MediaTypeManga, models.FieldChapters: float64(190)},
	}))
	if err != nil {
		t.Fatalf("import returned error: %v", err)
	}
	if result.Decision != models.DecisionCreate {
		t.Fatalf("expected create, got %s", result.Decision)
	}

	entry := store.entries[result.EntryID]
	if entry.MediaType != models.MediaTypeManga || entry.Chapters != 190 {
		t.Errorf("fields not applied: %+v", entry)
	}
}

func TestImportOneFetchesBareJikanReference(t *testing.T) {
	var requested string
	httpc := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			requested = req.URL.Path
			return jsonResponse(http.StatusOK, `{"data":{
				"mal_id": 21,
				"title": "One Piece",
				"title_english": "One Piece",
				"type": "TV",
				"episodes": 1100,
				"status": "Currently Airing",
				"synopsis": "Pirates.",
				"score": 8.7,
				"genres": [{"name":"Action"}],
				"studios": [{"name":"Toei Animation"}],
				"images": {"jpg": {"large_image_url": "https://cdn.example/21l.jpg"}}
			}}`), nil
		}),
	}

	store := newMemStore()
	svc := newImportService(store, jikan.NewClient("https://api.example/v4", httpc))

	result, err := svc.ImportOne(context.Background(), models.ImportPayload{
		Source:     models.SourceJikan,
		ExternalID: "21",
	})
	if err != nil {
		t.Fatalf("import returned error: %v", err)
	}
	if result.Decision != models.DecisionCreate {
		t.Fatalf("expected create, got %s", result.Decision)
	}
	if requested != "/v4/anime/21/full" {
		t.Errorf("unexpected endpoint: %s", requested)
	}

	entry := store.entries[result.EntryID]
	if entry.Title != "One Piece" || entry.Episodes != 1100 {
		t.Errorf("fetched fields not applied: %+v", entry)
	}
	if entry.ExternalID(models.SourceJikan) != "21" {
		t.Errorf("external id not stored: %+v", entry.ExternalIDs)
	}
	if entry.CoverURL != "https://cdn.example/21l.jpg" {
		t.Errorf("cover url not applied: %q", entry.CoverURL)
	}
}

func TestImportOneNotFoundIsNotRetried(t *testing.T) {
	calls := 0
	httpc := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			calls++
			return jsonResponse(http.StatusNotFound, `{}`), nil
		}),
	}

	svc := newImportService(newMemStore(), jikan.NewClient("https://api.example/v4", httpc))

	_, err := svc.ImportOne(context.Background(), models.ImportPayload{
		Source:     models.SourceJikan,
		ExternalID: "999999",
	})
	if !errors.Is(err, jikan.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("not-found must be permanent, got %d calls", calls)
	}
}

func TestStartBatchAllowsOneActiveRun(t *testing.T) {
	release := make(chan struct{})
	httpc := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			<-release
			return jsonResponse(http.StatusOK, `{"data":{"mal_id":1,"title":"Cowboy Bebop","type":"TV","episodes":26}}`), nil
		}),
	}

	svc := newImportService(newMemStore(), jikan.NewClient("https://api.example/v4", httpc))

	runID, err := svc.StartBatch([]BatchItem{{Source: models.SourceJikan, ExternalID: "1"}})
	if err != nil {
		t.Fatalf("start batch returned error: %v", err)
	}

	if _, err := svc.StartBatch([]BatchItem{{Source: models.SourceJikan, ExternalID: "2"}}); !errors.Is(err, ErrBatchActive) {
		t.Fatalf("expected ErrBatchActive, got %v", err)
	}

	close(release)

	deadline := time.After(5 * time.Second)
	for {
		status, err := svc.Status(runID)
		if err != nil {
			t.Fatalf("status returned error: %v", err)
		}
		if status.Done {
			if status.Result == nil || status.Result.Imported != 1 {
				t.Fatalf("unexpected result: %+v", status.Result)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("batch did not finish in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// A finished run no longer blocks new batches.
	if _, err := svc.StartBatch([]BatchItem{{Source: models.SourceManual, Manual: &models.ManualImport{Title: "Pluto"}}}); err != nil {
		t.Fatalf("expected new batch after completion, got %v", err)
	}
}

func TestBatchRateLimitedItemFailsOthersProceed(t *testing.T) {
	titles := map[string]string{
		"1": "Akira", "2": "Monster", "3": "Pluto", "4": "Berserk", "5": "Mushishi",
		"6": "Hellsing", "7": "Bakuman", "8": "Dororo", "9": "Gantz", "10": "Claymore",
	}

	var mu sync.Mutex
	rateLimited := 0
	httpc := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			// Path shape is /v4/anime/<id>/full.
			parts := strings.Split(req.URL.Path, "/")
			id := parts[len(parts)-2]
			if id == "4" {
				mu.Lock()
				rateLimited++
				mu.Unlock()
				return jsonResponse(http.StatusTooManyRequests, `{}`), nil
			}
			body := fmt.Sprintf(`{"data":{"mal_id":%s,"title":%q,"type":"TV","episodes":12}}`, id, titles[id])
			return jsonResponse(http.StatusOK, body), nil
		}),
	}

	resolver := reconcile.NewResolver(newMemStore(), nil, reconcile.DefaultMergePolicy())
	svc := NewService(fastOrchestrator(3), resolver, jikan.NewClient("https://api.example/v4", httpc), nil, nil, "en")

	items := make([]BatchItem, 0, 10)
	for i := 1; i <= 10; i++ {
		items = append(items, BatchItem{Source: models.SourceJikan, ExternalID: strconv.Itoa(i)})
	}

	runID, err := svc.StartBatch(items)
	if err != nil {
		t.Fatalf("start batch returned error: %v", err)
	}

	deadline := time.After(5 * time.Second)
	var status RunStatus
	for {
		status, err = svc.Status(runID)
		if err != nil {
			t.Fatalf("status returned error: %v", err)
		}
		if status.Done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("batch did not finish in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	result := status.Result
	if result == nil {
		t.Fatal("finished run has no result")
	}
	if result.Imported != 9 {
		t.Errorf("expected the nine healthy items imported, got %d", result.Imported)
	}
	if result.Errors != 1 || len(result.Failures) != 1 {
		t.Fatalf("expected exactly one failure, got errors=%d failures=%v", result.Errors, result.Failures)
	}
	if result.Failures[0].Index != 3 || result.Failures[0].Label != "4" {
		t.Errorf("unexpected failure record: %+v", result.Failures[0])
	}
	if result.Cancelled {
		t.Error("a failed item must not cancel the batch")
	}

	mu.Lock()
	defer mu.Unlock()
	if rateLimited != 3 {
		t.Errorf("rate-limited item should be attempted exactly three times, got %d", rateLimited)
	}
}

func TestStatusAndCancelUnknownRun(t *testing.T) {
	svc := newImportService(newMemStore(), nil)

	if _, err := svc.Status("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if err := svc.Cancel("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}
