package models

import "time"

// Watch statuses. The first three are auto-managed by the progress state
// machine; on_hold and dropped are manual-only and never auto-overridden.
const (
	StatusNotStarted = "not_started"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusOnHold     = "on_hold"
	StatusDropped    = "dropped"
)

// AutoManagedStatus reports whether the state machine owns transitions away
// from the given status.
func AutoManagedStatus(status string) bool {
	switch status {
	case "", StatusNotStarted, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// ValidStatus reports whether the value is one of the known watch statuses.
func ValidStatus(status string) bool {
	switch status {
	case StatusNotStarted, StatusInProgress, StatusCompleted, StatusOnHold, StatusDropped:
		return true
	}
	return false
}

// UnitProgress records completion of a single episode or chapter.
type UnitProgress struct {
	Done      bool      `json:"done"`
	Timestamp time.Time `json:"timestamp"`
}

// UserMediaState holds per (entry, user) progress and derived status.
// Exactly one row exists per pair; created lazily on first write.
type UserMediaState struct {
	EntryID   string               `json:"entryId"`
	UserID    string               `json:"userId"`
	Status    string               `json:"status"`
	Units     map[int]UnitProgress `json:"units,omitempty"` // unit number -> progress
	Favorite  bool                 `json:"favorite,omitempty"`
	Tags      []string             `json:"tags,omitempty"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

// DoneCount returns how many units are marked done.
func (s UserMediaState) DoneCount() int {
	count := 0
	for _, unit := range s.Units {
		if unit.Done {
			count++
		}
	}
	return count
}
