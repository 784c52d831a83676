package importer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"shelfr/models"
	"shelfr/services/enrich"
	"shelfr/services/jikan"
	"shelfr/services/reconcile"
)

var (
	// ErrBatchActive is returned when a batch start races an unfinished run.
	ErrBatchActive = errors.New("a batch import is already running")
	// ErrRunNotFound is returned for status or cancel calls on unknown run ids.
	ErrRunNotFound = errors.New("batch run not found")
)

// BatchItem is one record of a batch request. Jikan items carry an external
// id to fetch; sheet and manual items carry the record inline.
type BatchItem struct {
	Source     string               `json:"source"`
	MediaType  string               `json:"mediaType,omitempty"`
	ExternalID string               `json:"externalId,omitempty"`
	Sheet      *models.SheetImport  `json:"sheet,omitempty"`
	Manual     *models.ManualImport `json:"manual,omitempty"`
}

// RunStatus is the externally visible snapshot of a batch run.
type RunStatus struct {
	ID        string       `json:"id"`
	StartedAt time.Time    `json:"startedAt"`
	Done      bool         `json:"done"`
	Progress  Progress     `json:"progress"`
	Result    *BatchResult `json:"result,omitempty"`
}

type batchRun struct {
	id        string
	startedAt time.Time
	cancel    context.CancelFunc
	done      bool
	progress  Progress
	result    *BatchResult
}

// Service turns incoming records into catalog writes: it fetches remote
// metadata, applies best-effort enrichment and hands the canonical payload
// to the resolver. One batch run at a time; progress is polled by id.
type Service struct {
	orch       *Orchestrator
	resolver   *reconcile.Resolver
	jikan      *jikan.Client
	translator *enrich.Translator
	covers     *enrich.CoverResolver
	targetLang string

	mu   sync.RWMutex
	runs map[string]*batchRun
}

// NewService creates the import service.
func NewService(orch *Orchestrator, resolver *reconcile.Resolver, jikanClient *jikan.Client, translator *enrich.Translator, covers *enrich.CoverResolver, targetLang string) *Service {
	if orch == nil {
		orch = NewOrchestrator(0, 0, 0)
	}
	if targetLang == "" {
		targetLang = "en"
	}
	return &Service{
		orch:       orch,
		resolver:   resolver,
		jikan:      jikanClient,
		translator: translator,
		covers:     covers,
		targetLang: targetLang,
		runs:       make(map[string]*batchRun),
	}
}

// SheetPayload converts a spreadsheet row into the canonical payload. The
// raw alternative-title cell is split here, at the boundary, so the matcher
// only ever sees individual titles.
func SheetPayload(row models.SheetImport) models.ImportPayload {
	titles := append([]string{row.Title}, reconcile.ExtractAlternativeTitles(row.AltTitles)...)
	return models.ImportPayload{
		Source: models.SourceSheet,
		Titles: titles,
		Fields: row.Fields,
	}
}

// ImportOne reconciles a single payload. Payloads that reference an external
// source without inline fields are fetched (with retry) first, then enriched.
func (s *Service) ImportOne(ctx context.Context, payload models.ImportPayload) (models.ReconcileResult, error) {
	payload, err := s.materialize(ctx, payload)
	if err != nil {
		return models.ReconcileResult{Error: err.Error()}, err
	}
	s.enrichFields(ctx, &payload)
	return s.resolver.Resolve(ctx, payload)
}

// StartBatch launches a batch run in the background and returns its id.
// Only one run may be active at a time.
func (s *Service) StartBatch(items []BatchItem) (string, error) {
	if len(items) == 0 {
		return "", errors.New("batch request has no items")
	}

	s.mu.Lock()
	for _, run := range s.runs {
		if !run.done {
			s.mu.Unlock()
			return "", ErrBatchActive
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &batchRun{
		id:        uuid.NewString(),
		startedAt: time.Now().UTC(),
		cancel:    cancel,
		progress:  Progress{Total: len(items), EtaMs: -1},
	}
	s.runs[run.id] = run
	s.mu.Unlock()

	go s.runBatch(ctx, run, items)
	log.Printf("[importer] batch %s started with %d items", run.id, len(items))
	return run.id, nil
}

// Status returns the snapshot for one run.
func (s *Service) Status(runID string) (RunStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return RunStatus{}, ErrRunNotFound
	}
	return RunStatus{
		ID:        run.id,
		StartedAt: run.startedAt,
		Done:      run.done,
		Progress:  run.progress,
		Result:    run.result,
	}, nil
}

// Cancel requests cancellation of a running batch. The run stops at the next
// item boundary; the item in flight finishes its write first.
func (s *Service) Cancel(runID string) error {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return ErrRunNotFound
	}

	run.cancel()
	log.Printf("[importer] batch %s cancellation requested", runID)
	return nil
}

func (s *Service) runBatch(ctx context.Context, run *batchRun, items []BatchItem) {
	defer run.cancel()

	labels := make([]string, len(items))
	for i, item := range items {
		labels[i] = itemLabel(item)
	}

	result := s.orch.RunBatch(ctx, labels, func(ctx context.Context, i int) (Outcome, error) {
		return s.importItem(ctx, items[i])
	}, func(p Progress) {
		s.mu.Lock()
		run.progress = p
		s.mu.Unlock()
	})

	s.mu.Lock()
	run.done = true
	run.result = &result
	s.mu.Unlock()

	log.Printf("[importer] batch %s finished: imported=%d updated=%d skipped=%d errors=%d cancelled=%v in %dms",
		run.id, result.Imported, result.Updated, result.Skipped, result.Errors, result.Cancelled, result.TotalTimeMs)
}

func (s *Service) importItem(ctx context.Context, item BatchItem) (Outcome, error) {
	payload, err := s.itemPayload(ctx, item)
	if err != nil {
		return OutcomeSkipped, err
	}

	s.enrichFields(ctx, &payload)

	result, err := s.resolver.Resolve(ctx, payload)
	if err != nil {
		return OutcomeSkipped, err
	}

	switch result.Decision {
	case models.DecisionCreate:
		return OutcomeImported, nil
	case models.DecisionUpdate:
		return OutcomeUpdated, nil
	default:
		// AMBIGUOUS and REJECT wrote nothing; the item needs a human.
		log.Printf("[importer] item %q needs review: %s", itemLabel(item), result.Decision)
		return OutcomeSkipped, nil
	}
}

func (s *Service) itemPayload(ctx context.Context, item BatchItem) (models.ImportPayload, error) {
	switch {
	case item.Sheet != nil:
		return SheetPayload(*item.Sheet), nil
	case item.Manual != nil:
		return item.Manual.Payload(), nil
	case item.ExternalID != "":
		return s.fetchRemote(ctx, item.MediaType, item.ExternalID)
	default:
		return models.ImportPayload{}, errors.New("batch item carries no record")
	}
}

// materialize fetches remote metadata for payloads that arrived as a bare
// external-id reference (possibly with a media-type hint), keeping any
// caller-set disambiguation flags.
func (s *Service) materialize(ctx context.Context, payload models.ImportPayload) (models.ImportPayload, error) {
	if payload.Source != models.SourceJikan || payload.ExternalID == "" {
		return payload, nil
	}
	if len(payload.Titles) > 0 || stringField(payload.Fields, models.FieldTitle) != "" {
		return payload, nil
	}

	mediaType := stringField(payload.Fields, models.FieldMediaType)
	fetched, err := s.fetchRemote(ctx, mediaType, payload.ExternalID)
	if err != nil {
		return models.ImportPayload{}, err
	}

	fetched.ConfirmedTargetID = payload.ConfirmedTargetID
	fetched.ForceCreate = payload.ForceCreate
	fetched.ForceOverwrite = payload.ForceOverwrite
	return fetched, nil
}

func (s *Service) fetchRemote(ctx context.Context, mediaType, externalID string) (models.ImportPayload, error) {
	if s.jikan == nil {
		return models.ImportPayload{}, errors.New("no metadata source configured")
	}

	var remote models.RemoteMedia
	err := s.orch.FetchWithRetry(ctx, func(ctx context.Context) error {
		var fetchErr error
		remote, fetchErr = s.jikan.FetchByExternalID(ctx, mediaType, externalID)
		return fetchErr
	})
	if err != nil {
		return models.ImportPayload{}, fmt.Errorf("fetch %s/%s: %w", mediaType, externalID, err)
	}
	return remote.Payload(), nil
}

// enrichFields applies the best-effort secondary lookups in place. Every
// failure degrades silently: the payload always stays importable.
func (s *Service) enrichFields(ctx context.Context, payload *models.ImportPayload) {
	if payload.Fields == nil {
		return
	}

	if s.translator.Enabled() {
		if synopsis := stringField(payload.Fields, models.FieldSynopsis); synopsis != "" {
			payload.Fields[models.FieldSynopsis] = s.translator.TranslateOrOriginal(ctx, synopsis, s.targetLang)
		}
	}

	if s.covers.Enabled() && stringField(payload.Fields, models.FieldCoverURL) == "" && len(payload.Titles) > 0 {
		if cover := s.covers.Resolve(ctx, payload.Titles[0]); cover != "" {
			payload.Fields[models.FieldCoverURL] = cover
		}
	}
}

func itemLabel(item BatchItem) string {
	switch {
	case item.Sheet != nil:
		return item.Sheet.Title
	case item.Manual != nil:
		return item.Manual.Title
	default:
		return strings.TrimSpace(item.MediaType + " " + item.ExternalID)
	}
}

func stringField(fields map[string]any, name string) string {
	if fields == nil {
		return ""
	}
	if v, ok := fields[name].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
