package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"shelfr/models"
)

// UserStateRepository persists per (entry, user) progress rows.
type UserStateRepository struct {
	db *sql.DB
}

// NewUserStateRepository creates a repository over the shared connection.
func NewUserStateRepository(db *sql.DB) *UserStateRepository {
	return &UserStateRepository{db: db}
}

// GetUserState loads the state row for an (entry, user) pair. A missing row
// is not an error: rows are created lazily on first write.
func (r *UserStateRepository) GetUserState(ctx context.Context, entryID, userID string) (models.UserMediaState, bool, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT entry_id, user_id, status, units, favorite, tags, updated_at
FROM user_states WHERE entry_id = ? AND user_id = ?`, entryID, userID)

	var state models.UserMediaState
	var units, tags string
	err := row.Scan(&state.EntryID, &state.UserID, &state.Status, &units,
		&state.Favorite, &tags, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserMediaState{}, false, nil
	}
	if err != nil {
		return models.UserMediaState{}, false, fmt.Errorf("get user state %s/%s: %w", entryID, userID, err)
	}

	state.Units = decodeUnits(units)
	state.Tags = decodeStrings(tags)
	return state, true, nil
}

// ListUserStates returns every state row for one user.
func (r *UserStateRepository) ListUserStates(ctx context.Context, userID string) ([]models.UserMediaState, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT entry_id, user_id, status, units, favorite, tags, updated_at
FROM user_states WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user states for %s: %w", userID, err)
	}
	defer rows.Close()

	var states []models.UserMediaState
	for rows.Next() {
		var state models.UserMediaState
		var units, tags string
		if err := rows.Scan(&state.EntryID, &state.UserID, &state.Status,
			&units, &state.Favorite, &tags, &state.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user state: %w", err)
		}
		state.Units = decodeUnits(units)
		state.Tags = decodeStrings(tags)
		states = append(states, state)
	}
	return states, rows.Err()
}

// UpsertUserState writes the full state row, creating it if absent.
func (r *UserStateRepository) UpsertUserState(ctx context.Context, state models.UserMediaState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO user_states (entry_id, user_id, status, units, favorite, tags, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (entry_id, user_id) DO UPDATE SET
    status = excluded.status,
    units = excluded.units,
    favorite = excluded.favorite,
    tags = excluded.tags,
    updated_at = excluded.updated_at`,
		state.EntryID, state.UserID, state.Status, encodeUnits(state.Units),
		state.Favorite, encodeStrings(state.Tags), state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert user state %s/%s: %w", state.EntryID, state.UserID, err)
	}
	return nil
}

// Progress maps are keyed by unit number; JSON requires string keys.
func encodeUnits(units map[int]models.UnitProgress) string {
	if len(units) == 0 {
		return "{}"
	}
	keyed := make(map[string]models.UnitProgress, len(units))
	for unit, progress := range units {
		keyed[strconv.Itoa(unit)] = progress
	}
	data, err := json.Marshal(keyed)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func decodeUnits(raw string) map[int]models.UnitProgress {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "{}" {
		return nil
	}

	var keyed map[string]models.UnitProgress
	if err := json.Unmarshal([]byte(raw), &keyed); err != nil {
		return nil
	}

	units := make(map[int]models.UnitProgress, len(keyed))
	for key, progress := range keyed {
		unit, err := strconv.Atoi(key)
		if err != nil || unit < 1 {
			continue
		}
		units[unit] = progress
	}
	if len(units) == 0 {
		return nil
	}
	return units
}
