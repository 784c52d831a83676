package importer

import (
	"context"
	"errors"
	"testing"
	"time"

	"shelfr/services/jikan"
)

func fastOrchestrator(maxAttempts int) *Orchestrator {
	o := NewOrchestrator(maxAttempts, time.Millisecond, time.Millisecond)
	o.transientDelay = time.Millisecond
	return o
}

func TestFetchWithRetryRecoversFromRateLimit(t *testing.T) {
	o := fastOrchestrator(3)

	calls := 0
	err := o.FetchWithRetry(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &jikan.RateLimitError{Status: "429 Too Many Requests"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestFetchWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	o := fastOrchestrator(2)

	calls := 0
	transient := errors.New("connection reset")
	err := o.FetchWithRetry(context.Background(), func(context.Context) error {
		calls++
		return transient
	})
	if !errors.Is(err, transient) {
		t.Fatalf("expected last error returned, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestFetchWithRetryNotFoundIsPermanent(t *testing.T) {
	o := fastOrchestrator(5)

	calls := 0
	err := o.FetchWithRetry(context.Background(), func(context.Context) error {
		calls++
		return jikan.ErrNotFound
	})
	if !errors.Is(err, jikan.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("not-found must not be retried, got %d attempts", calls)
	}
}

func TestRunBatchCountsOutcomes(t *testing.T) {
	o := fastOrchestrator(1)
	labels := []string{"a", "b", "c", "d"}

	var progresses []Progress
	result := o.RunBatch(context.Background(), labels, func(_ context.Context, i int) (Outcome, error) {
		switch i {
		case 0:
			return OutcomeImported, nil
		case 1:
			return OutcomeUpdated, nil
		case 2:
			return OutcomeSkipped, nil
		default:
			return OutcomeSkipped, errors.New("boom")
		}
	}, func(p Progress) {
		progresses = append(progresses, p)
	})

	if result.Imported != 1 || result.Updated != 1 || result.Skipped != 1 || result.Errors != 1 {
		t.Fatalf("unexpected counters: %+v", result)
	}
	if result.Cancelled {
		t.Error("batch was not cancelled")
	}
	if len(result.Failures) != 1 || result.Failures[0].Index != 3 || result.Failures[0].Label != "d" {
		t.Fatalf("unexpected failures: %+v", result.Failures)
	}

	if len(progresses) != len(labels) {
		t.Fatalf("expected one progress per item, got %d", len(progresses))
	}
	last := progresses[len(progresses)-1]
	if last.Current != 4 || last.Total != 4 || last.EtaMs != 0 {
		t.Fatalf("unexpected final progress: %+v", last)
	}
	for _, p := range progresses {
		if p.EtaMs < -1 {
			t.Fatalf("EtaMs must be -1 or a projection, got %d", p.EtaMs)
		}
	}
}

func TestRunBatchStopsAtItemBoundaryOnCancel(t *testing.T) {
	o := fastOrchestrator(1)
	ctx, cancel := context.WithCancel(context.Background())

	processed := 0
	result := o.RunBatch(ctx, []string{"a", "b", "c"}, func(_ context.Context, i int) (Outcome, error) {
		processed++
		if i == 0 {
			cancel()
		}
		return OutcomeImported, nil
	}, nil)

	if !result.Cancelled {
		t.Fatal("expected cancelled result")
	}
	// The in-flight item finishes; the next one is never started.
	if processed != 1 {
		t.Fatalf("expected exactly one item processed, got %d", processed)
	}
	if result.Imported != 1 {
		t.Fatalf("expected the finished item counted, got %+v", result)
	}
}

func TestEtaMs(t *testing.T) {
	tests := []struct {
		name      string
		processed int
		total     int
		elapsed   time.Duration
		want      int64
	}{
		{"nothing processed", 0, 10, time.Second, -1},
		{"all processed", 10, 10, time.Second, 0},
		{"zero elapsed is non-finite", 1, 10, 0, -1},
		{"halfway", 5, 10, 5 * time.Second, 5000},
		{"total below processed", 5, 3, time.Second, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := etaMs(tt.processed, tt.total, tt.elapsed); got != tt.want {
				t.Errorf("etaMs(%d, %d, %v) = %d, want %d", tt.processed, tt.total, tt.elapsed, got, tt.want)
			}
		})
	}
}
