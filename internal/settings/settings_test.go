package settings_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"dvzoll/internal/entity"
	"dvzoll/internal/settings"
	"dvzoll/pkg/logger"
	"dvzoll/pkg/ptr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	def := settings.Defaults()

	tests := []struct {
		name string
		data string
		want func() settings.Settings
	}{
		{
			name: "corrupt blob yields defaults",
			data: `{"downloadDirectory": "/tmp/x"`,
			want: func() settings.Settings { return def },
		},
		{
			name: "not an object yields defaults",
			data: `[1,2,3]`,
			want: func() settings.Settings { return def },
		},
		{
			name: "partial record merges over defaults",
			data: `{"downloadDirectory":"/data/media","notificationsEnabled":false}`,
			want: func() settings.Settings {
				s := def
				s.DownloadDirectory = "/data/media"
				s.NotificationsEnabled = false

				return s
			},
		},
		{
			name: "malformed fields fall back one by one",
			data: `{"maxConcurrentDownloads":"many","autoUpdateEnabled":"yes","lastSelectedIsPlaylist":true}`,
			want: func() settings.Settings {
				s := def
				s.LastSelectedIsPlaylist = true

				return s
			},
		},
		{
			name: "concurrency is clamped",
			data: `{"maxConcurrentDownloads":42}`,
			want: func() settings.Settings {
				s := def
				s.MaxConcurrentDownloads = settings.MaxConcurrentDownloads

				return s
			},
		},
		{
			name: "quality not offered for mode is repaired",
			data: `{"lastSelectedMode":"audio","lastSelectedQuality":"1080p"}`,
			want: func() settings.Settings {
				s := def
				s.LastSelectedMode = entity.ModeAudio
				s.LastSelectedQuality = "MP3 320"

				return s
			},
		},
		{
			name: "unknown mode falls back",
			data: `{"lastSelectedMode":"podcast"}`,
			want: func() settings.Settings { return def },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want(), settings.Decode([]byte(tt.data)))
		})
	}
}

func TestStoreRoundTrip(t *testing.T) {
	backend := settings.NewMemory(nil)
	store := settings.New(logger.Discard(), backend)

	before := store.Get()
	require.Equal(t, settings.Defaults(), before)

	got := store.Update(settings.Patch{
		DownloadDirectory:   ptr.Of("/srv/media"),
		LastSelectedMode:    ptr.Of(entity.ModeAudio),
		LastSelectedQuality: ptr.Of("FLAC"),
	})

	assert.Equal(t, "/srv/media", got.DownloadDirectory)
	assert.Equal(t, entity.ModeAudio, got.LastSelectedMode)
	assert.Equal(t, "FLAC", got.LastSelectedQuality)
	assert.Equal(t, before.MaxConcurrentDownloads, got.MaxConcurrentDownloads)
	assert.Equal(t, before.NotificationsEnabled, got.NotificationsEnabled)

	// simulate a fresh process reading the same storage
	fresh := settings.New(logger.Discard(), backend).Load()
	assert.Equal(t, got, fresh)
}

func TestStoreCorruptPersisted(t *testing.T) {
	store := settings.New(logger.Discard(), settings.NewMemory([]byte("{{{not json")))

	assert.Equal(t, settings.Defaults(), store.Load())
}

func TestStorePersistFailureIsSwallowed(t *testing.T) {
	backend := settings.NewMemory(nil)
	backend.WriteErr = errors.New("quota exceeded")

	store := settings.New(logger.Discard(), backend)

	got := store.Update(settings.Patch{MaxConcurrentDownloads: ptr.Of(5)})
	assert.Equal(t, 5, got.MaxConcurrentDownloads)
	assert.Equal(t, 5, store.Get().MaxConcurrentDownloads, "in-memory snapshot stays authoritative")
	assert.Zero(t, backend.Writes())
}

func TestStoreSubscribe(t *testing.T) {
	store := settings.New(logger.Discard(), settings.NewMemory(nil))

	var seen []settings.Settings

	unsubscribe := store.Subscribe(func(s settings.Settings) {
		seen = append(seen, s)
	})

	store.Update(settings.Patch{AutoUpdateEnabled: ptr.Of(false)})
	store.Update(settings.Patch{MaxConcurrentDownloads: ptr.Of(0)})
	unsubscribe()
	store.Update(settings.Patch{LastSelectedIsPlaylist: ptr.Of(true)})

	require.Len(t, seen, 2)
	assert.False(t, seen[0].AutoUpdateEnabled)
	assert.Equal(t, settings.MinConcurrentDownloads, seen[1].MaxConcurrentDownloads)
}

func TestStoreRapidUpdatesPersistEach(t *testing.T) {
	backend := settings.NewMemory(nil)
	store := settings.New(logger.Discard(), backend)

	const n = 50

	var wg sync.WaitGroup

	for i := range n {
		wg.Go(func() {
			store.Update(settings.Patch{MaxConcurrentDownloads: ptr.Of(i%8 + 1)})
		})
	}

	wg.Wait()

	assert.Equal(t, n, backend.Writes())

	persisted := settings.New(logger.Discard(), backend).Load()
	assert.Equal(t, store.Get(), persisted, "last write wins")
}

func TestFileBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dvzoll-settings.json")

	backend, err := settings.NewFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, backend.Path())

	_, err = backend.Read()
	require.Error(t, err)

	store := settings.New(logger.Discard(), backend)
	store.Update(settings.Patch{DownloadDirectory: ptr.Of("/mnt/media")})

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var onDisk settings.Settings
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, "/mnt/media", onDisk.DownloadDirectory)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)

	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp", "temp files must not survive")
	}
}
