// Package importer drives imports against rate-limited external sources:
// retrying individual fetches, pacing batch runs, and reporting progress.
package importer

import (
	"context"
	"errors"
	"math"
	"runtime"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/time/rate"

	"shelfr/services/jikan"
)

// Defaults for the retry and pacing schedule; overridable via settings.
const (
	DefaultMaxAttempts     = 3
	DefaultBaseDelay       = 2 * time.Second
	DefaultTransientDelay  = 500 * time.Millisecond
	DefaultMinItemInterval = time.Second
	yieldEvery             = 5 // cooperative scheduling point, every few items
)

// Outcome classifies a successfully processed batch item.
type Outcome int

const (
	OutcomeImported Outcome = iota
	OutcomeUpdated
	OutcomeSkipped
)

// Progress is emitted after every batch item. EtaMs is -1 while the
// throughput is zero or non-finite; consumers never see Inf or NaN.
type Progress struct {
	Current      int    `json:"current"`
	Total        int    `json:"total"`
	CurrentLabel string `json:"currentLabel"`
	ElapsedMs    int64  `json:"elapsedMs"`
	EtaMs        int64  `json:"etaMs"`
	Imported     int    `json:"imported"`
	Updated      int    `json:"updated"`
	Skipped      int    `json:"skipped"`
	Errors       int    `json:"errors"`
}

// BatchFailure records one failed item; the batch keeps going.
type BatchFailure struct {
	Index int    `json:"index"`
	Label string `json:"label"`
	Error string `json:"error"`
}

// BatchResult summarizes a finished (or cancelled) batch run.
type BatchResult struct {
	Imported    int            `json:"imported"`
	Updated     int            `json:"updated"`
	Skipped     int            `json:"skipped"`
	Errors      int            `json:"errors"`
	Cancelled   bool           `json:"cancelled"`
	TotalTimeMs int64          `json:"totalTimeMs"`
	Failures    []BatchFailure `json:"failures,omitempty"`
}

// Orchestrator sequences outbound calls against rate-limited sources.
type Orchestrator struct {
	maxAttempts    uint
	baseDelay      time.Duration
	transientDelay time.Duration
	limiter        *rate.Limiter
}

// NewOrchestrator builds an orchestrator. Zero arguments select defaults.
func NewOrchestrator(maxAttempts int, baseDelay, minItemInterval time.Duration) *Orchestrator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if minItemInterval <= 0 {
		minItemInterval = DefaultMinItemInterval
	}
	return &Orchestrator{
		maxAttempts:    uint(maxAttempts),
		baseDelay:      baseDelay,
		transientDelay: DefaultTransientDelay,
		limiter:        rate.NewLimiter(rate.Every(minItemInterval), 1),
	}
}

// FetchWithRetry runs one outbound call with the retry schedule: a rate
// limit (HTTP 429) waits attempt*baseDelay, any other transient failure a
// short fixed delay, up to the bounded attempt count. Permanent failures
// (not-found, cancellation) are returned immediately.
func (o *Orchestrator) FetchWithRetry(ctx context.Context, call func(context.Context) error) error {
	return retry.Do(
		func() error { return call(ctx) },
		retry.Context(ctx),
		retry.Attempts(o.maxAttempts),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, jikan.ErrNotFound) &&
				!errors.Is(err, context.Canceled) &&
				!errors.Is(err, context.DeadlineExceeded)
		}),
		retry.DelayType(func(n uint, err error, _ *retry.Config) time.Duration {
			if jikan.IsRateLimited(err) {
				return time.Duration(n+1) * o.baseDelay
			}
			return o.transientDelay
		}),
	)
}

// RunBatch processes items sequentially. Between items it enforces the
// minimum inter-call delay and yields to the scheduler every few items so
// the host process stays responsive. Cancellation is checked only at item
// boundaries: an item's write is either fully applied or not attempted.
// A single item failure is recorded and never aborts the rest of the batch.
func (o *Orchestrator) RunBatch(ctx context.Context, labels []string, work func(ctx context.Context, index int) (Outcome, error), onProgress func(Progress)) BatchResult {
	start := time.Now()
	result := BatchResult{}
	total := len(labels)

	for i, label := range labels {
		select {
		case <-ctx.Done():
			result.Cancelled = true
			result.TotalTimeMs = time.Since(start).Milliseconds()
			return result
		default:
		}

		if i > 0 {
			if err := o.limiter.Wait(ctx); err != nil {
				result.Cancelled = true
				result.TotalTimeMs = time.Since(start).Milliseconds()
				return result
			}
		}

		outcome, err := work(ctx, i)
		switch {
		case err != nil:
			result.Errors++
			result.Failures = append(result.Failures, BatchFailure{Index: i, Label: label, Error: err.Error()})
		case outcome == OutcomeImported:
			result.Imported++
		case outcome == OutcomeUpdated:
			result.Updated++
		default:
			result.Skipped++
		}

		if onProgress != nil {
			onProgress(Progress{
				Current:      i + 1,
				Total:        total,
				CurrentLabel: label,
				ElapsedMs:    time.Since(start).Milliseconds(),
				EtaMs:        etaMs(i+1, total, time.Since(start)),
				Imported:     result.Imported,
				Updated:      result.Updated,
				Skipped:      result.Skipped,
				Errors:       result.Errors,
			})
		}

		if (i+1)%yieldEvery == 0 {
			runtime.Gosched()
		}
	}

	result.TotalTimeMs = time.Since(start).Milliseconds()
	return result
}

// etaMs projects the remaining time from observed throughput. It returns -1
// whenever the projection would be zero-division, non-finite or negative.
func etaMs(processed, total int, elapsed time.Duration) int64 {
	if processed <= 0 || total <= processed {
		if total == processed {
			return 0
		}
		return -1
	}

	throughput := float64(processed) / float64(elapsed.Milliseconds())
	if throughput <= 0 || math.IsInf(throughput, 0) || math.IsNaN(throughput) {
		return -1
	}

	eta := float64(total-processed) / throughput
	if math.IsInf(eta, 0) || math.IsNaN(eta) || eta < 0 {
		return -1
	}
	return int64(eta)
}
