package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-password/password"
	"github.com/spf13/afero"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server         ServerSettings         `json:"server"`
	Database       DatabaseSettings       `json:"database"`
	Cache          CacheSettings          `json:"cache"`
	Users          UsersSettings          `json:"users"`
	Sources        SourceSettings         `json:"sources"`
	Matching       MatchingSettings       `json:"matching"`
	Import         ImportSettings         `json:"import"`
	Log            LogConfig              `json:"log"`
	ScheduledTasks ScheduledTasksSettings `json:"scheduledTasks,omitempty"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// PIN guards mutating endpoints. Generated on first run when empty.
	PIN string `json:"pin"`
}

// DatabaseSettings defines where the catalog database lives.
type DatabaseSettings struct {
	Path string `json:"path"`
}

type CacheSettings struct {
	Directory string `json:"directory"`
}

// UsersSettings defines where user profiles are stored.
type UsersSettings struct {
	Directory string `json:"directory"`
}

// JikanSettings configures the MyAnimeList metadata source.
type JikanSettings struct {
	BaseURL string `json:"baseUrl"`
	Enabled bool   `json:"enabled"`
}

// TranslateSettings configures the optional synopsis translation service.
type TranslateSettings struct {
	BaseURL        string `json:"baseUrl"`
	APIKey         string `json:"apiKey"`
	TargetLanguage string `json:"targetLanguage"`
}

// CoverSettings configures the optional secondary cover image source.
type CoverSettings struct {
	BaseURL string `json:"baseUrl"`
}

// SourceSettings groups external data source configuration.
type SourceSettings struct {
	Jikan     JikanSettings     `json:"jikan"`
	Translate TranslateSettings `json:"translate"`
	Covers    CoverSettings     `json:"covers"`
}

// TieBreak determines which side wins when two imports disagree on a field
// neither user nor an authoritative source owns.
type TieBreak string

const (
	TieBreakPreferIncoming TieBreak = "prefer_incoming"
	TieBreakPreferExisting TieBreak = "prefer_existing"
)

// MatchingSettings tunes the entry resolution engine.
type MatchingSettings struct {
	// FuzzyThreshold is the minimum title similarity (0-100) for a
	// probable match. Matches at 100 are certain; below the threshold the
	// titles are considered distinct works.
	FuzzyThreshold int `json:"fuzzyThreshold"`
	TieBreak       TieBreak `json:"tieBreak"`
	// AuthoritativeSources maps field name -> import source allowed to
	// overwrite that field even when another import wrote it earlier.
	AuthoritativeSources map[string]string `json:"authoritativeSources,omitempty"`
}

// ImportSettings tunes batch import pacing and retry behavior.
type ImportSettings struct {
	MaxAttempts         int `json:"maxAttempts"`
	RetryBaseDelayMs    int `json:"retryBaseDelayMs"`
	ItemIntervalMs      int `json:"itemIntervalMs"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	File       string `json:"file"`
	Level      string `json:"level"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

// ScheduledTaskType defines the type of scheduled task
type ScheduledTaskType string

const (
	// ScheduledTaskTypeLibraryRefresh re-imports metadata for entries that
	// track an external id, picking up new episode counts and statuses.
	ScheduledTaskTypeLibraryRefresh ScheduledTaskType = "library_refresh"
)

// ScheduledTaskFrequency defines how often a task runs
type ScheduledTaskFrequency string

const (
	ScheduledTaskFrequencyHourly  ScheduledTaskFrequency = "hourly"
	ScheduledTaskFrequency6Hours  ScheduledTaskFrequency = "6hours"
	ScheduledTaskFrequency12Hours ScheduledTaskFrequency = "12hours"
	ScheduledTaskFrequencyDaily   ScheduledTaskFrequency = "daily"
	ScheduledTaskFrequencyWeekly  ScheduledTaskFrequency = "weekly"
)

// ScheduledTaskStatus represents the last run status
type ScheduledTaskStatus string

const (
	ScheduledTaskStatusPending ScheduledTaskStatus = "pending"
	ScheduledTaskStatusRunning ScheduledTaskStatus = "running"
	ScheduledTaskStatusSuccess ScheduledTaskStatus = "success"
	ScheduledTaskStatusError   ScheduledTaskStatus = "error"
)

// ScheduledTask represents a single scheduled task configuration
type ScheduledTask struct {
	ID            string                 `json:"id"`
	Type          ScheduledTaskType      `json:"type"`
	Name          string                 `json:"name"`
	Enabled       bool                   `json:"enabled"`
	Frequency     ScheduledTaskFrequency `json:"frequency"`
	Config        map[string]string      `json:"config"` // task-specific config (e.g., mediaType filter)
	LastRunAt     *time.Time             `json:"lastRunAt,omitempty"`
	LastStatus    ScheduledTaskStatus    `json:"lastStatus"`
	LastError     string                 `json:"lastError,omitempty"`
	ItemsUpdated  int                    `json:"itemsUpdated,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
}

// ScheduledTasksSettings contains all scheduled task configurations
type ScheduledTasksSettings struct {
	Tasks                []ScheduledTask `json:"tasks"`
	CheckIntervalSeconds int             `json:"checkIntervalSeconds"` // How often scheduler checks for due tasks (default: 60)
}

// DefaultSettings returns sane defaults for a fresh install.
func DefaultSettings() Settings {
	return Settings{
		Server:   ServerSettings{Host: "0.0.0.0", Port: 7878},
		Database: DatabaseSettings{Path: "data/shelfr.db"},
		Cache:    CacheSettings{Directory: "cache"},
		Users:    UsersSettings{Directory: "data"},
		Sources: SourceSettings{
			Jikan:     JikanSettings{BaseURL: "https://api.jikan.moe/v4", Enabled: true},
			Translate: TranslateSettings{TargetLanguage: "en"},
			Covers:    CoverSettings{},
		},
		Matching: MatchingSettings{
			FuzzyThreshold: 75,
			TieBreak:       TieBreakPreferIncoming,
			AuthoritativeSources: map[string]string{
				"alternative_titles": "jikan",
				"genres":             "jikan",
				"studios":            "jikan",
			},
		},
		Import: ImportSettings{
			MaxAttempts:      3,
			RetryBaseDelayMs: 2000,
			ItemIntervalMs:   1000,
		},
		Log: LogConfig{
			File:       "cache/logs/backend.log",
			Level:      "info",
			MaxSize:    50,   // 50 MB per file
			MaxBackups: 3,    // keep 3 old files
			MaxAge:     7,    // 7 days
			Compress:   true, // compress old files
		},
		ScheduledTasks: ScheduledTasksSettings{
			Tasks:                []ScheduledTask{},
			CheckIntervalSeconds: 60,
		},
	}
}

// Manager loads and persists settings to a JSON file.
type Manager struct {
	fs   afero.Fs
	path string
}

// NewManager creates a manager for the given path. A nil fs selects the OS
// filesystem; tests pass a memory one.
func NewManager(fs afero.Fs, configPath string) *Manager {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Manager{fs: fs, path: configPath}
}

// EnsureDir ensures parent directory exists.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return m.fs.MkdirAll(dir, 0o755)
}

// Load reads the settings file or creates defaults if missing. Settings
// added after the file was written are backfilled with their defaults.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := m.fs.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		defaults := DefaultSettings()
		defaults.Server.PIN = generatePIN()
		if err := m.Save(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}

	f, err := m.fs.Open(m.path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()

	var s Settings
	if err := json.NewDecoder(f).Decode(&s); err != nil {
		return Settings{}, err
	}

	// Backfill defaults for newly introduced settings when config predates them
	changed := false

	if strings.TrimSpace(s.Server.Host) == "" {
		s.Server.Host = "0.0.0.0"
	}
	if s.Server.Port == 0 {
		s.Server.Port = 7878
	}
	if strings.TrimSpace(s.Server.PIN) == "" {
		s.Server.PIN = generatePIN()
		changed = true
	}

	if strings.TrimSpace(s.Database.Path) == "" {
		s.Database.Path = "data/shelfr.db"
	}
	if strings.TrimSpace(s.Cache.Directory) == "" {
		s.Cache.Directory = "cache"
	}
	if strings.TrimSpace(s.Users.Directory) == "" {
		s.Users.Directory = "data"
	}

	if strings.TrimSpace(s.Sources.Jikan.BaseURL) == "" {
		s.Sources.Jikan.BaseURL = "https://api.jikan.moe/v4"
		s.Sources.Jikan.Enabled = true
	}
	if strings.TrimSpace(s.Sources.Translate.TargetLanguage) == "" {
		s.Sources.Translate.TargetLanguage = "en"
	}

	if s.Matching.FuzzyThreshold == 0 {
		s.Matching.FuzzyThreshold = 75
	}
	if s.Matching.TieBreak == "" {
		s.Matching.TieBreak = TieBreakPreferIncoming
	}
	if len(s.Matching.AuthoritativeSources) == 0 {
		s.Matching.AuthoritativeSources = DefaultSettings().Matching.AuthoritativeSources
	}

	if s.Import.MaxAttempts == 0 {
		s.Import.MaxAttempts = 3
	}
	if s.Import.RetryBaseDelayMs == 0 {
		s.Import.RetryBaseDelayMs = 2000
	}
	if s.Import.ItemIntervalMs == 0 {
		s.Import.ItemIntervalMs = 1000
	}

	if strings.TrimSpace(s.Log.File) == "" {
		s.Log.File = "cache/logs/backend.log"
	}
	if s.Log.MaxSize == 0 {
		s.Log.MaxSize = 50
	}
	if s.Log.MaxBackups == 0 {
		s.Log.MaxBackups = 3
	}
	if s.Log.MaxAge == 0 {
		s.Log.MaxAge = 7
	}

	if s.ScheduledTasks.CheckIntervalSeconds == 0 {
		s.ScheduledTasks.CheckIntervalSeconds = 60
	}
	if s.ScheduledTasks.Tasks == nil {
		s.ScheduledTasks.Tasks = []ScheduledTask{}
	}

	if changed {
		if err := m.Save(s); err != nil {
			return Settings{}, err
		}
	}

	return s, nil
}

// Save writes the provided settings to disk atomically.
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := m.fs.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = m.fs.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = m.fs.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = m.fs.Remove(tmp)
		return err
	}
	return m.fs.Rename(tmp, m.path)
}

// generatePIN produces the initial 6-digit server PIN.
func generatePIN() string {
	pin, err := password.Generate(6, 6, 0, false, true)
	if err != nil {
		log.Printf("[config] PIN generation failed, using fallback: %v", err)
		return "000000"
	}
	return pin
}
