package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/spf13/afero"

	"shelfr/models"
	"shelfr/services/users"
)

func newUsersFixture(t *testing.T) *UsersHandler {
	t.Helper()
	svc, err := users.NewService(afero.NewMemMapFs(), "data")
	if err != nil {
		t.Fatalf("users service: %v", err)
	}
	return NewUsersHandler(svc)
}

func withProfileVar(r *http.Request, id string) *http.Request {
	return mux.SetURLVars(r, map[string]string{"userID": id})
}

func TestUsersCreateAndList(t *testing.T) {
	h := newUsersFixture(t)

	rec := httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(`{"name":"Kenji"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: got %d, body %s", rec.Code, rec.Body.String())
	}

	var created models.User
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created profile: %v", err)
	}
	if created.Name != "Kenji" || created.ID == "" {
		t.Errorf("unexpected profile: %+v", created)
	}

	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	var listed []models.User
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	// The default profile plus the one just created.
	if len(listed) != 2 {
		t.Fatalf("expected two profiles, got %d", len(listed))
	}
	if listed[0].ID != models.DefaultUserID {
		t.Errorf("default profile must list first, got %q", listed[0].ID)
	}
}

func TestUsersCreateRejectsBlankName(t *testing.T) {
	h := newUsersFixture(t)

	rec := httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(`{"name":"   "}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUsersRenameUnknownProfile(t *testing.T) {
	h := newUsersFixture(t)

	req := withProfileVar(httptest.NewRequest(http.MethodPatch, "/api/users/ghost", strings.NewReader(`{"name":"New"}`)), "ghost")
	rec := httptest.NewRecorder()
	h.Rename(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestUsersDeleteLastProfileConflicts(t *testing.T) {
	h := newUsersFixture(t)

	req := withProfileVar(httptest.NewRequest(http.MethodDelete, "/api/users/default", nil), models.DefaultUserID)
	rec := httptest.NewRecorder()
	h.Delete(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("deleting the only profile must 409, got %d", rec.Code)
	}

	// With a second profile present the delete goes through.
	rec = httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(`{"name":"Second"}`)))
	var second models.User
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode created profile: %v", err)
	}

	req = withProfileVar(httptest.NewRequest(http.MethodDelete, "/api/users/"+second.ID, nil), second.ID)
	rec = httptest.NewRecorder()
	h.Delete(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestUsersPinLifecycle(t *testing.T) {
	h := newUsersFixture(t)

	// Too short is rejected up front.
	req := withProfileVar(httptest.NewRequest(http.MethodPut, "/api/users/default/pin", strings.NewReader(`{"pin":"12"}`)), models.DefaultUserID)
	rec := httptest.NewRecorder()
	h.SetPin(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("short PIN must 400, got %d", rec.Code)
	}

	req = withProfileVar(httptest.NewRequest(http.MethodPut, "/api/users/default/pin", strings.NewReader(`{"pin":"4321"}`)), models.DefaultUserID)
	rec = httptest.NewRecorder()
	h.SetPin(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("set PIN: got %d, body %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "4321") {
		t.Error("response must not leak the PIN or its hash")
	}

	// Wrong attempt is 401, right attempt succeeds.
	req = withProfileVar(httptest.NewRequest(http.MethodPost, "/api/users/default/pin/verify", strings.NewReader(`{"pin":"0000"}`)), models.DefaultUserID)
	rec = httptest.NewRecorder()
	h.VerifyPin(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong PIN must 401, got %d", rec.Code)
	}

	req = withProfileVar(httptest.NewRequest(http.MethodPost, "/api/users/default/pin/verify", strings.NewReader(`{"pin":"4321"}`)), models.DefaultUserID)
	rec = httptest.NewRecorder()
	h.VerifyPin(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("right PIN must pass, got %d", rec.Code)
	}

	req = withProfileVar(httptest.NewRequest(http.MethodDelete, "/api/users/default/pin", nil), models.DefaultUserID)
	rec = httptest.NewRecorder()
	h.ClearPin(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear PIN: got %d", rec.Code)
	}

	// Pinless again: any attempt verifies.
	req = withProfileVar(httptest.NewRequest(http.MethodPost, "/api/users/default/pin/verify", strings.NewReader(`{"pin":""}`)), models.DefaultUserID)
	rec = httptest.NewRecorder()
	h.VerifyPin(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("pinless profile must verify any attempt, got %d", rec.Code)
	}
}

func TestUsersCreateRejectsUnknownFields(t *testing.T) {
	h := newUsersFixture(t)

	rec := httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/users", strings.NewReader(`{"name":"X","role":"admin"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown body field must 400, got %d", rec.Code)
	}
}
