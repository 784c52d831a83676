package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"shelfr/services/progress"

	"github.com/gorilla/mux"
)

type ProgressHandler struct {
	Service *progress.Service
}

func NewProgressHandler(service *progress.Service) *ProgressHandler {
	return &ProgressHandler{Service: service}
}

func (h *ProgressHandler) ListStates(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(mux.Vars(r)["userID"])
	if userID == "" {
		http.Error(w, "user id is required", http.StatusBadRequest)
		return
	}

	states, err := h.Service.ListStates(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(states)
}

func (h *ProgressHandler) GetState(w http.ResponseWriter, r *http.Request) {
	userID, entryID, ok := h.ids(w, r)
	if !ok {
		return
	}

	state, err := h.Service.GetState(r.Context(), entryID, userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(state)
}

// ToggleUnit flips one episode/chapter between done and not done.
func (h *ProgressHandler) ToggleUnit(w http.ResponseWriter, r *http.Request) {
	userID, entryID, ok := h.ids(w, r)
	if !ok {
		return
	}

	var body struct {
		Unit int `json:"unit"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	state, err := h.Service.ToggleUnit(r.Context(), entryID, userID, body.Unit)
	if err != nil {
		h.writeProgressError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(state)
}

// MarkAllComplete marks every unit done in one action.
func (h *ProgressHandler) MarkAllComplete(w http.ResponseWriter, r *http.Request) {
	userID, entryID, ok := h.ids(w, r)
	if !ok {
		return
	}

	state, err := h.Service.MarkAllComplete(r.Context(), entryID, userID)
	if err != nil {
		h.writeProgressError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(state)
}

// SetStatus records an explicit status choice (on_hold, dropped, ...).
func (h *ProgressHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	userID, entryID, ok := h.ids(w, r)
	if !ok {
		return
	}

	var body struct {
		Status string `json:"status"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	state, err := h.Service.SetManualStatus(r.Context(), entryID, userID, body.Status)
	if err != nil {
		h.writeProgressError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(state)
}

func (h *ProgressHandler) SetFavorite(w http.ResponseWriter, r *http.Request) {
	userID, entryID, ok := h.ids(w, r)
	if !ok {
		return
	}

	var body struct {
		Favorite bool `json:"favorite"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	state, err := h.Service.SetFavorite(r.Context(), entryID, userID, body.Favorite)
	if err != nil {
		h.writeProgressError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(state)
}

func (h *ProgressHandler) SetTags(w http.ResponseWriter, r *http.Request) {
	userID, entryID, ok := h.ids(w, r)
	if !ok {
		return
	}

	var body struct {
		Tags []string `json:"tags"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	state, err := h.Service.SetTags(r.Context(), entryID, userID, body.Tags)
	if err != nil {
		h.writeProgressError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(state)
}

func (h *ProgressHandler) Options(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *ProgressHandler) ids(w http.ResponseWriter, r *http.Request) (userID, entryID string, ok bool) {
	vars := mux.Vars(r)
	userID = strings.TrimSpace(vars["userID"])
	entryID = strings.TrimSpace(vars["entryID"])
	if userID == "" || entryID == "" {
		http.Error(w, "user id and entry id are required", http.StatusBadRequest)
		return "", "", false
	}
	return userID, entryID, true
}

func (h *ProgressHandler) writeProgressError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, progress.ErrEntryNotFound):
		status = http.StatusNotFound
	case errors.Is(err, progress.ErrInvalidUnit),
		errors.Is(err, progress.ErrInvalidStatus),
		errors.Is(err, progress.ErrUnknownTotal):
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}
