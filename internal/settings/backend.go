package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"dvzoll/internal/consts"

	"github.com/adrg/xdg"
	"github.com/gofrs/flock"
)

// Backend is the durable storage of the settings document.
type Backend interface {
	Read() ([]byte, error)
	Write(data []byte) error
}

// File stores the document as a JSON file guarded by a lock file, so two
// processes sharing the config directory never interleave writes.
type File struct {
	path string
}

// NewFile returns a file backend at path, or at the XDG config location when path is empty.
func NewFile(path string) (*File, error) {
	if path == "" {
		var err error

		path, err = xdg.ConfigFile(filepath.Join("dvzoll", consts.SettingsKey+".json"))
		if err != nil {
			return nil, fmt.Errorf("resolve settings path: %w", err)
		}
	}

	return &File{path: path}, nil
}

// Path returns the location of the settings file.
func (f *File) Path() string {
	return f.path
}

// Read returns the raw document.
func (f *File) Read() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	return data, nil
}

// Write replaces the document atomically: temp file in the same directory, then rename.
func (f *File) Write(data []byte) error {
	dir := filepath.Dir(f.path)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	lock := flock.New(f.path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock settings: %w", err)
	}

	defer lock.Unlock() //nolint:errcheck

	tmp, err := os.CreateTemp(dir, ".settings-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}

	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()

		return fmt.Errorf("write temp: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}

	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("rename settings: %w", err)
	}

	return nil
}

// ErrNotPersisted is returned by an empty Memory backend.
var ErrNotPersisted = errors.New("settings not persisted")

// Memory keeps the document in memory. WriteErr, when set, fails every write.
type Memory struct {
	mu       sync.Mutex
	data     []byte
	writes   int
	WriteErr error
}

// NewMemory returns a memory backend preloaded with data.
func NewMemory(data []byte) *Memory {
	return &Memory{data: data}
}

// Read returns the stored document.
func (m *Memory) Read() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return nil, ErrNotPersisted
	}

	return append([]byte(nil), m.data...), nil
}

// Write stores a copy of data.
func (m *Memory) Write(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.WriteErr != nil {
		return m.WriteErr
	}

	m.data = append([]byte(nil), data...)
	m.writes++

	return nil
}

// Writes reports how many writes succeeded.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.writes
}
