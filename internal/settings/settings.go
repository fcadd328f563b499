// Package settings is the process-wide store of user preferences.
//
// The store is read once, lazily, and written back on every Update. Persistence
// is best-effort: a broken or unwritable backend never blocks the caller, the
// in-memory snapshot stays authoritative for the session.
package settings

import (
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"dvzoll/internal/consts"
	"dvzoll/internal/entity"
	"dvzoll/internal/platform"
	"dvzoll/pkg/calc"

	"github.com/adrg/xdg"
)

// Bounds of MaxConcurrentDownloads.
const (
	MinConcurrentDownloads = 1
	MaxConcurrentDownloads = 8
)

// Settings holds the user preferences.
type Settings struct {
	DownloadDirectory      string      `json:"downloadDirectory"`
	AutoUpdateEnabled      bool        `json:"autoUpdateEnabled"`
	NotificationsEnabled   bool        `json:"notificationsEnabled"`
	MaxConcurrentDownloads int         `json:"maxConcurrentDownloads"`
	LastSelectedMode       entity.Mode `json:"lastSelectedMode"`
	LastSelectedQuality    string      `json:"lastSelectedQuality"`
	LastSelectedIsPlaylist bool        `json:"lastSelectedIsPlaylist"`
}

// Patch is a partial update; nil fields keep their current value.
type Patch struct {
	DownloadDirectory      *string      `json:"downloadDirectory,omitempty"`
	AutoUpdateEnabled      *bool        `json:"autoUpdateEnabled,omitempty"`
	NotificationsEnabled   *bool        `json:"notificationsEnabled,omitempty"`
	MaxConcurrentDownloads *int         `json:"maxConcurrentDownloads,omitempty"`
	LastSelectedMode       *entity.Mode `json:"lastSelectedMode,omitempty"`
	LastSelectedQuality    *string      `json:"lastSelectedQuality,omitempty"`
	LastSelectedIsPlaylist *bool        `json:"lastSelectedIsPlaylist,omitempty"`
}

// Defaults returns the hardcoded fallback settings.
func Defaults() Settings {
	return Settings{
		DownloadDirectory:      filepath.Join(xdg.UserDirs.Download, consts.AppName),
		AutoUpdateEnabled:      true,
		NotificationsEnabled:   true,
		MaxConcurrentDownloads: 3,
		LastSelectedMode:       entity.ModeVideo,
		LastSelectedQuality:    platform.DefaultQuality(entity.ModeVideo),
		LastSelectedIsPlaylist: false,
	}
}

// Apply merges p over s, field by field.
func (s Settings) Apply(p Patch) Settings {
	if p.DownloadDirectory != nil {
		s.DownloadDirectory = *p.DownloadDirectory
	}

	if p.AutoUpdateEnabled != nil {
		s.AutoUpdateEnabled = *p.AutoUpdateEnabled
	}

	if p.NotificationsEnabled != nil {
		s.NotificationsEnabled = *p.NotificationsEnabled
	}

	if p.MaxConcurrentDownloads != nil {
		s.MaxConcurrentDownloads = *p.MaxConcurrentDownloads
	}

	if p.LastSelectedMode != nil {
		s.LastSelectedMode = *p.LastSelectedMode
	}

	if p.LastSelectedQuality != nil {
		s.LastSelectedQuality = *p.LastSelectedQuality
	}

	if p.LastSelectedIsPlaylist != nil {
		s.LastSelectedIsPlaylist = *p.LastSelectedIsPlaylist
	}

	return s
}

// normalize repairs values that are well-formed but out of domain.
func (s Settings) normalize() Settings {
	def := Defaults()

	if strings.TrimSpace(s.DownloadDirectory) == "" {
		s.DownloadDirectory = def.DownloadDirectory
	}

	s.MaxConcurrentDownloads = calc.Clamp(s.MaxConcurrentDownloads, MinConcurrentDownloads, MaxConcurrentDownloads)

	if !s.LastSelectedMode.Valid() {
		s.LastSelectedMode = def.LastSelectedMode
	}

	if !platform.ValidQuality(s.LastSelectedMode, s.LastSelectedQuality) {
		s.LastSelectedQuality = platform.DefaultQuality(s.LastSelectedMode)
	}

	return s
}

// Decode parses a persisted document. Every field that is missing or does not
// decode into its type keeps the default; an unparseable document yields Defaults.
func Decode(data []byte) Settings {
	s := Defaults()

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return s
	}

	field(raw, "downloadDirectory", &s.DownloadDirectory)
	field(raw, "autoUpdateEnabled", &s.AutoUpdateEnabled)
	field(raw, "notificationsEnabled", &s.NotificationsEnabled)
	field(raw, "maxConcurrentDownloads", &s.MaxConcurrentDownloads)
	field(raw, "lastSelectedMode", &s.LastSelectedMode)
	field(raw, "lastSelectedQuality", &s.LastSelectedQuality)
	field(raw, "lastSelectedIsPlaylist", &s.LastSelectedIsPlaylist)

	return s.normalize()
}

func field[T any](raw map[string]json.RawMessage, key string, dst *T) {
	msg, ok := raw[key]
	if !ok {
		return
	}

	var v T
	if err := json.Unmarshal(msg, &v); err != nil {
		return
	}

	*dst = v
}

// Store is the single source of truth for Settings.
type Store struct {
	log     *slog.Logger
	backend Backend

	mu     sync.Mutex
	cur    Settings
	loaded bool
	subs   map[int]func(Settings)
	nextID int
}

// New returns a store over backend. Nothing is read until first access.
func New(log *slog.Logger, backend Backend) *Store {
	return &Store{
		log:     log.With(slog.String("package", "settings")),
		backend: backend,
		subs:    make(map[int]func(Settings)),
	}
}

// Load re-reads the persisted document and makes it the current snapshot.
// It never fails: read errors and corrupt documents yield defaults.
func (s *Store) Load() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loadLocked()

	return s.cur
}

func (s *Store) loadLocked() {
	s.loaded = true

	data, err := s.backend.Read()
	if err != nil {
		s.log.Debug("settings not readable, using defaults", slog.Any("error", err))
		s.cur = Defaults()

		return
	}

	s.cur = Decode(data)
}

// Get returns the current snapshot, loading it on first use.
func (s *Store) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		s.loadLocked()
	}

	return s.cur
}

// Update merges p into the current snapshot, persists it and notifies subscribers.
// Calls are serialised, so rapid successive updates each persist once, last write wins.
// Subscribers run under the store lock and must not call back into the store.
func (s *Store) Update(p Patch) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		s.loadLocked()
	}

	s.cur = s.cur.Apply(p).normalize()
	s.persistLocked()

	for _, fn := range s.subs {
		fn(s.cur)
	}

	return s.cur
}

func (s *Store) persistLocked() {
	data, err := json.MarshalIndent(s.cur, "", "  ")
	if err != nil {
		s.log.Warn("settings marshal", slog.Any("error", err))

		return
	}

	if err := s.backend.Write(data); err != nil {
		s.log.Warn("settings persist failed, keeping in-memory snapshot", slog.Any("error", err))
	}
}

// Subscribe registers fn for every snapshot produced by Update.
func (s *Store) Subscribe(fn func(Settings)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		delete(s.subs, id)
	}
}
