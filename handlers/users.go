package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"shelfr/models"
	"shelfr/services/users"

	"github.com/gorilla/mux"
)

// profileDirectory is the slice of users.Service the HTTP layer needs.
type profileDirectory interface {
	List() []models.User
	Create(name string) (models.User, error)
	Rename(id, name string) (models.User, error)
	SetColor(id, color string) (models.User, error)
	SetPin(id, pin string) (models.User, error)
	ClearPin(id string) (models.User, error)
	VerifyPin(id, pin string) error
	Delete(id string) error
}

var _ profileDirectory = (*users.Service)(nil)

type UsersHandler struct {
	Service profileDirectory
}

func NewUsersHandler(service profileDirectory) *UsersHandler {
	return &UsersHandler{Service: service}
}

// profileID pulls the profile id out of the route.
func profileID(r *http.Request) string {
	return strings.TrimSpace(mux.Vars(r)["userID"])
}

// profileStatus maps profile service errors onto HTTP statuses.
func profileStatus(err error) int {
	switch {
	case errors.Is(err, users.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, users.ErrNameRequired),
		errors.Is(err, users.ErrPinRequired),
		errors.Is(err, users.ErrPinTooShort):
		return http.StatusBadRequest
	case errors.Is(err, users.ErrLastUser):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondProfile(w http.ResponseWriter, status int, profile models.User) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(profile)
}

func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Service.List())
}

func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	profile, err := h.Service.Create(body.Name)
	if err != nil {
		http.Error(w, err.Error(), profileStatus(err))
		return
	}
	respondProfile(w, http.StatusCreated, profile)
}

func (h *UsersHandler) Rename(w http.ResponseWriter, r *http.Request) {
	id := profileID(r)
	if id == "" {
		http.Error(w, "user id is required", http.StatusBadRequest)
		return
	}

	var body struct {
		Name string `json:"name"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	profile, err := h.Service.Rename(id, body.Name)
	if err != nil {
		http.Error(w, err.Error(), profileStatus(err))
		return
	}
	respondProfile(w, http.StatusOK, profile)
}

func (h *UsersHandler) SetColor(w http.ResponseWriter, r *http.Request) {
	id := profileID(r)
	if id == "" {
		http.Error(w, "user id is required", http.StatusBadRequest)
		return
	}

	var body struct {
		Color string `json:"color"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	profile, err := h.Service.SetColor(id, body.Color)
	if err != nil {
		http.Error(w, err.Error(), profileStatus(err))
		return
	}
	respondProfile(w, http.StatusOK, profile)
}

// Delete removes a profile. Deleting the last remaining profile is refused
// with 409 so the collection always keeps an owner.
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := profileID(r)
	if id == "" {
		http.Error(w, "user id is required", http.StatusBadRequest)
		return
	}

	if err := h.Service.Delete(id); err != nil {
		http.Error(w, err.Error(), profileStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetPin sets or replaces the profile's PIN.
func (h *UsersHandler) SetPin(w http.ResponseWriter, r *http.Request) {
	id := profileID(r)
	if id == "" {
		http.Error(w, "user id is required", http.StatusBadRequest)
		return
	}

	var body struct {
		Pin string `json:"pin"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	profile, err := h.Service.SetPin(id, body.Pin)
	if err != nil {
		http.Error(w, err.Error(), profileStatus(err))
		return
	}
	respondProfile(w, http.StatusOK, profile)
}

// ClearPin removes the profile's PIN.
func (h *UsersHandler) ClearPin(w http.ResponseWriter, r *http.Request) {
	id := profileID(r)
	if id == "" {
		http.Error(w, "user id is required", http.StatusBadRequest)
		return
	}

	profile, err := h.Service.ClearPin(id)
	if err != nil {
		http.Error(w, err.Error(), profileStatus(err))
		return
	}
	respondProfile(w, http.StatusOK, profile)
}

// VerifyPin checks a PIN attempt. A wrong PIN is 401; a pinless profile
// accepts any attempt.
func (h *UsersHandler) VerifyPin(w http.ResponseWriter, r *http.Request) {
	id := profileID(r)
	if id == "" {
		http.Error(w, "user id is required", http.StatusBadRequest)
		return
	}

	var body struct {
		Pin string `json:"pin"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.Service.VerifyPin(id, body.Pin); err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, users.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"valid": true})
}

func (h *UsersHandler) Options(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
