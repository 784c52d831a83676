package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"shelfr/models"
	"shelfr/services/catalog"

	"github.com/gorilla/mux"
)

type EntriesHandler struct {
	Service *catalog.Service
}

func NewEntriesHandler(service *catalog.Service) *EntriesHandler {
	return &EntriesHandler{Service: service}
}

func (h *EntriesHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := catalog.ListFilter{
		MediaType: r.URL.Query().Get("mediaType"),
		Genre:     r.URL.Query().Get("genre"),
		Query:     r.URL.Query().Get("q"),
	}

	entries, err := h.Service.List(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []models.CatalogEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

func (h *EntriesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["entryID"])
	if id == "" {
		http.Error(w, "entry id is required", http.StatusBadRequest)
		return
	}

	entry, err := h.Service.Get(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, catalog.ErrEntryNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}

func (h *EntriesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var entry models.CatalogEntry
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&entry); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	created, err := h.Service.Create(r.Context(), entry)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, catalog.ErrTitleRequired) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(created)
}

// Edit applies a user edit. The body is a field -> value map; every touched
// field becomes protected against later imports.
func (h *EntriesHandler) Edit(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["entryID"])
	if id == "" {
		http.Error(w, "entry id is required", http.StatusBadRequest)
		return
	}

	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry, err := h.Service.Edit(r.Context(), id, fields)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, catalog.ErrEntryNotFound):
			status = http.StatusNotFound
		case errors.Is(err, catalog.ErrInvalidField):
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}

// ClearModified releases fields back to import control.
func (h *EntriesHandler) ClearModified(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["entryID"])
	if id == "" {
		http.Error(w, "entry id is required", http.StatusBadRequest)
		return
	}

	var body struct {
		Fields []string `json:"fields"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entry, err := h.Service.ClearModifiedFields(r.Context(), id, body.Fields)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, catalog.ErrEntryNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}

func (h *EntriesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["entryID"])
	if id == "" {
		http.Error(w, "entry id is required", http.StatusBadRequest)
		return
	}

	if err := h.Service.Delete(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, catalog.ErrEntryNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *EntriesHandler) Options(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
