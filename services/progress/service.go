// Package progress owns the per-user watch state machine. Status moves
// between not_started, in_progress and completed are derived from unit
// progress; on_hold and dropped are set only by an explicit user action and
// never overridden automatically.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"shelfr/models"
)

var (
	// ErrEntryNotFound is returned when the referenced catalog entry is gone.
	ErrEntryNotFound = errors.New("catalog entry not found")
	// ErrInvalidUnit is returned for unit numbers below 1.
	ErrInvalidUnit = errors.New("unit number must be at least 1")
	// ErrInvalidStatus is returned for unknown status values.
	ErrInvalidStatus = errors.New("unknown watch status")
	// ErrUnknownTotal is returned when mark-all needs a unit count the entry
	// does not have.
	ErrUnknownTotal = errors.New("entry has no known unit total")
)

// EntryStore is the slice of catalog storage the state machine reads.
type EntryStore interface {
	GetEntryByID(ctx context.Context, id string) (models.CatalogEntry, bool, error)
}

// StateStore persists per (entry, user) progress rows.
type StateStore interface {
	GetUserState(ctx context.Context, entryID, userID string) (models.UserMediaState, bool, error)
	ListUserStates(ctx context.Context, userID string) ([]models.UserMediaState, error)
	UpsertUserState(ctx context.Context, state models.UserMediaState) error
}

// Service applies progress updates and derives watch status.
type Service struct {
	entries EntryStore
	states  StateStore
	now     func() time.Time
}

// NewService creates the progress service.
func NewService(entries EntryStore, states StateStore) *Service {
	return &Service{entries: entries, states: states, now: time.Now}
}

// GetState returns the state row for an (entry, user) pair. A pair with no
// row yet reads as a fresh not_started state.
func (s *Service) GetState(ctx context.Context, entryID, userID string) (models.UserMediaState, error) {
	state, found, err := s.states.GetUserState(ctx, entryID, userID)
	if err != nil {
		return models.UserMediaState{}, err
	}
	if !found {
		return freshState(entryID, userID), nil
	}
	return state, nil
}

// ListStates returns every state row for one user.
func (s *Service) ListStates(ctx context.Context, userID string) ([]models.UserMediaState, error) {
	return s.states.ListUserStates(ctx, userID)
}

// ToggleUnit flips one episode/chapter between done and not done, then
// re-derives the status. Derivation only runs when the entry's unit total is
// known: toggling against an unknown total records the unit but leaves a
// manually meaningful status untouched.
func (s *Service) ToggleUnit(ctx context.Context, entryID, userID string, unit int) (models.UserMediaState, error) {
	if unit < 1 {
		return models.UserMediaState{}, ErrInvalidUnit
	}

	entry, state, err := s.load(ctx, entryID, userID)
	if err != nil {
		return models.UserMediaState{}, err
	}

	if state.Units == nil {
		state.Units = make(map[int]models.UnitProgress)
	}
	if state.Units[unit].Done {
		delete(state.Units, unit)
	} else {
		state.Units[unit] = models.UnitProgress{Done: true, Timestamp: s.now().UTC()}
	}

	// Unit totals are not always known (airing shows, open-ended manga).
	// Units are recorded regardless, but the status only moves once the
	// total is known.
	if entry.UnitTotal() > 0 {
		s.derive(&state, entry)
	}
	return s.save(ctx, state)
}

// MarkAllComplete marks units 1..total done in one write. It requires a
// known unit total; an entry without one cannot be bulk-completed.
func (s *Service) MarkAllComplete(ctx context.Context, entryID, userID string) (models.UserMediaState, error) {
	entry, state, err := s.load(ctx, entryID, userID)
	if err != nil {
		return models.UserMediaState{}, err
	}

	total := entry.UnitTotal()
	if total <= 0 {
		return models.UserMediaState{}, ErrUnknownTotal
	}

	now := s.now().UTC()
	if state.Units == nil {
		state.Units = make(map[int]models.UnitProgress, total)
	}
	for unit := 1; unit <= total; unit++ {
		if !state.Units[unit].Done {
			state.Units[unit] = models.UnitProgress{Done: true, Timestamp: now}
		}
	}

	s.derive(&state, entry)
	return s.save(ctx, state)
}

// SetManualStatus records an explicit user status choice. on_hold and
// dropped stick until the user changes them; choosing an auto-managed status
// hands control back to derivation immediately.
func (s *Service) SetManualStatus(ctx context.Context, entryID, userID, status string) (models.UserMediaState, error) {
	if !models.ValidStatus(status) {
		return models.UserMediaState{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	entry, state, err := s.load(ctx, entryID, userID)
	if err != nil {
		return models.UserMediaState{}, err
	}

	state.Status = status
	if models.AutoManagedStatus(status) {
		s.derive(&state, entry)
	}
	return s.save(ctx, state)
}

// SetFavorite flips the favorite flag without touching progress.
func (s *Service) SetFavorite(ctx context.Context, entryID, userID string, favorite bool) (models.UserMediaState, error) {
	_, state, err := s.load(ctx, entryID, userID)
	if err != nil {
		return models.UserMediaState{}, err
	}
	state.Favorite = favorite
	return s.save(ctx, state)
}

// SetTags replaces the user's tags for one entry.
func (s *Service) SetTags(ctx context.Context, entryID, userID string, tags []string) (models.UserMediaState, error) {
	_, state, err := s.load(ctx, entryID, userID)
	if err != nil {
		return models.UserMediaState{}, err
	}
	state.Tags = tags
	return s.save(ctx, state)
}

// derive recomputes an auto-managed status from unit progress. Manual
// statuses are left alone, and an unknown unit total never flips a state to
// completed.
func (s *Service) derive(state *models.UserMediaState, entry models.CatalogEntry) {
	if !models.AutoManagedStatus(state.Status) {
		return
	}

	done := state.DoneCount()
	total := entry.UnitTotal()

	switch {
	case done == 0:
		state.Status = models.StatusNotStarted
	case total > 0 && done >= total:
		state.Status = models.StatusCompleted
	default:
		state.Status = models.StatusInProgress
	}
}

func (s *Service) load(ctx context.Context, entryID, userID string) (models.CatalogEntry, models.UserMediaState, error) {
	entry, found, err := s.entries.GetEntryByID(ctx, entryID)
	if err != nil {
		return models.CatalogEntry{}, models.UserMediaState{}, err
	}
	if !found {
		return models.CatalogEntry{}, models.UserMediaState{}, ErrEntryNotFound
	}

	state, found, err := s.states.GetUserState(ctx, entryID, userID)
	if err != nil {
		return models.CatalogEntry{}, models.UserMediaState{}, err
	}
	if !found {
		state = freshState(entryID, userID)
	}
	return entry, state, nil
}

func (s *Service) save(ctx context.Context, state models.UserMediaState) (models.UserMediaState, error) {
	state.UpdatedAt = s.now().UTC()
	if err := s.states.UpsertUserState(ctx, state); err != nil {
		return models.UserMediaState{}, err
	}
	log.Printf("[progress] entry=%s user=%s status=%s done=%d", state.EntryID, state.UserID, state.Status, state.DoneCount())
	return state, nil
}

func freshState(entryID, userID string) models.UserMediaState {
	return models.UserMediaState{
		EntryID: entryID,
		UserID:  userID,
		Status:  models.StatusNotStarted,
	}
}
