// Package users stores the named profiles a collection is browsed with.
// Profiles live in one JSON file; the optional per-profile PIN is hashed
// with bcrypt and kept out of API responses by the model itself.
package users

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/crypto/bcrypt"

	"shelfr/models"
)

const minPinLength = 4

var (
	ErrStorageDirRequired = errors.New("storage directory not provided")
	ErrNameRequired       = errors.New("name is required")
	ErrUserNotFound       = errors.New("user not found")
	ErrPinRequired        = errors.New("PIN is required")
	ErrPinInvalid         = errors.New("invalid PIN")
	ErrPinTooShort        = errors.New("PIN must be at least 4 characters")
	ErrLastUser           = errors.New("the last profile cannot be deleted")
)

// profileRecord is the on-disk shape. The API model strips the PIN hash
// when it serializes, so persistence carries its own encoding.
type profileRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	PinHash   string    `json:"pinHash,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Service keeps the profile set in memory and mirrors every change to disk.
type Service struct {
	fs   afero.Fs
	path string

	mu       sync.RWMutex
	profiles map[string]models.User
}

// NewService opens the profile store inside storageDir. A nil fs selects
// the OS filesystem; tests pass a memory one.
func NewService(fs afero.Fs, storageDir string) (*Service, error) {
	if strings.TrimSpace(storageDir) == "" {
		return nil, ErrStorageDirRequired
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if err := fs.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create profiles dir: %w", err)
	}

	s := &Service{
		fs:       fs,
		path:     filepath.Join(storageDir, "users.json"),
		profiles: make(map[string]models.User),
	}
	if err := s.load(); err != nil {
		return nil, err
	}

	// A fresh install starts with one profile so progress always has an
	// owner to attach to.
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.profiles) == 0 {
		if _, err := s.addLocked(models.DefaultUserName); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// List returns every profile, oldest first.
func (s *Service) List() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked()
}

// Get returns one profile by id.
func (s *Service) Get(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[strings.TrimSpace(id)]
	return p, ok
}

// Exists reports whether a profile with the given id is registered.
func (s *Service) Exists(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// Create registers a new profile.
func (s *Service) Create(name string) (models.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.User{}, ErrNameRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(name)
}

// Rename changes a profile's display name.
func (s *Service) Rename(id, name string) (models.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.User{}, ErrNameRequired
	}
	return s.change(id, func(p *models.User) error {
		p.Name = name
		return nil
	})
}

// SetColor changes the accent color shown for the profile.
func (s *Service) SetColor(id, color string) (models.User, error) {
	return s.change(id, func(p *models.User) error {
		p.Color = strings.TrimSpace(color)
		return nil
	})
}

// SetPin sets or replaces the profile's PIN.
func (s *Service) SetPin(id, pin string) (models.User, error) {
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return models.User{}, ErrPinRequired
	}
	if len(pin) < minPinLength {
		return models.User{}, ErrPinTooShort
	}
	return s.change(id, func(p *models.User) error {
		hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash PIN: %w", err)
		}
		p.PinHash = string(hash)
		return nil
	})
}

// ClearPin removes the profile's PIN.
func (s *Service) ClearPin(id string) (models.User, error) {
	return s.change(id, func(p *models.User) error {
		p.PinHash = ""
		return nil
	})
}

// VerifyPin checks a PIN attempt. A profile without a PIN accepts any
// attempt, the empty one included.
func (s *Service) VerifyPin(id, pin string) error {
	profile, ok := s.Get(id)
	if !ok {
		return ErrUserNotFound
	}
	if profile.PinHash == "" {
		return nil
	}
	if bcrypt.CompareHashAndPassword([]byte(profile.PinHash), []byte(pin)) != nil {
		return ErrPinInvalid
	}
	return nil
}

// HasPin reports whether the profile is PIN-protected.
func (s *Service) HasPin(id string) bool {
	profile, ok := s.Get(id)
	return ok && profile.PinHash != ""
}

// Delete removes a profile. At least one always remains, so the collection
// is never ownerless.
func (s *Service) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id = strings.TrimSpace(id)
	if _, ok := s.profiles[id]; !ok {
		return ErrUserNotFound
	}
	if len(s.profiles) == 1 {
		return ErrLastUser
	}

	delete(s.profiles, id)
	return s.flushLocked()
}

func (s *Service) addLocked(name string) (models.User, error) {
	// The very first profile gets the stable id single-user installs used.
	id := models.DefaultUserID
	if len(s.profiles) > 0 {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	profile := models.User{ID: id, Name: name, CreatedAt: now, UpdatedAt: now}
	s.profiles[id] = profile

	if err := s.flushLocked(); err != nil {
		delete(s.profiles, id)
		return models.User{}, err
	}
	return profile, nil
}

// change applies fn to one profile under the lock and persists the result.
func (s *Service) change(id string, fn func(*models.User) error) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[strings.TrimSpace(id)]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	if err := fn(&profile); err != nil {
		return models.User{}, err
	}

	profile.UpdatedAt = time.Now().UTC()
	s.profiles[profile.ID] = profile

	if err := s.flushLocked(); err != nil {
		return models.User{}, err
	}
	return profile, nil
}

func (s *Service) sortedLocked() []models.User {
	out := make([]models.User, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Service) load() error {
	exists, err := afero.Exists(s.fs, s.path)
	if err != nil {
		return fmt.Errorf("stat profiles file: %w", err)
	}
	if !exists {
		return nil
	}

	raw, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return fmt.Errorf("read profiles file: %w", err)
	}

	var records []profileRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("decode profiles: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if strings.TrimSpace(rec.ID) == "" {
			continue
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC()
		}
		if rec.UpdatedAt.IsZero() {
			rec.UpdatedAt = rec.CreatedAt
		}
		s.profiles[rec.ID] = models.User{
			ID:        rec.ID,
			Name:      rec.Name,
			Color:     rec.Color,
			PinHash:   rec.PinHash,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		}
	}
	return nil
}

// flushLocked rewrites the whole profile file: temp file first, then a
// rename over the old one so a crash never leaves a half-written store.
func (s *Service) flushLocked() error {
	profiles := s.sortedLocked()
	records := make([]profileRecord, len(profiles))
	for i, p := range profiles {
		records[i] = profileRecord{
			ID:        p.ID,
			Name:      p.Name,
			Color:     p.Color,
			PinHash:   p.PinHash,
			CreatedAt: p.CreatedAt,
			UpdatedAt: p.UpdatedAt,
		}
	}

	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profiles: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write profiles: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace profiles file: %w", err)
	}
	return nil
}
