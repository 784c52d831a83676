package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"shelfr/models"
	"shelfr/services/importer"
	"shelfr/services/reconcile"

	"github.com/gorilla/mux"
)

type ImportsHandler struct {
	Service *importer.Service
}

func NewImportsHandler(service *importer.Service) *ImportsHandler {
	return &ImportsHandler{Service: service}
}

// Reconcile runs one payload through the resolution engine. AMBIGUOUS and
// REJECT come back as 200 responses carrying the candidate or conflict data;
// the client re-submits with confirmedTargetId or forceCreate.
func (h *ImportsHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var payload models.ImportPayload
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.Service.ImportOne(r.Context(), payload)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, reconcile.ErrNoTitles):
			status = http.StatusBadRequest
		case errors.Is(err, reconcile.ErrTargetNotFound):
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// Sheet reconciles one spreadsheet row.
func (h *ImportsHandler) Sheet(w http.ResponseWriter, r *http.Request) {
	var row models.SheetImport
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&row); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.Service.ImportOne(r.Context(), importer.SheetPayload(row))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, reconcile.ErrNoTitles) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// StartBatch launches a background batch run and returns its id.
func (h *ImportsHandler) StartBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Items []importer.BatchItem `json:"items"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	runID, err := h.Service.StartBatch(body.Items)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, importer.ErrBatchActive) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"runId": runID})
}

// BatchStatus returns the progress snapshot for one run.
func (h *ImportsHandler) BatchStatus(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(mux.Vars(r)["runID"])
	if runID == "" {
		http.Error(w, "run id is required", http.StatusBadRequest)
		return
	}

	status, err := h.Service.Status(runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// CancelBatch requests cancellation; the run stops at the next item boundary.
func (h *ImportsHandler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(mux.Vars(r)["runID"])
	if runID == "" {
		http.Error(w, "run id is required", http.StatusBadRequest)
		return
	}

	if err := h.Service.Cancel(runID); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "cancelling"})
}

func (h *ImportsHandler) Options(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
