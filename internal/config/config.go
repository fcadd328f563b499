// Package config handles application configuration loading and management.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration.
type Config struct {
	HTTP       HTTP
	App        App
	Attempt    Attempt
	History    History
	Storage    Storage
	Metadata   Metadata
	Auth       Auth
	Settings   Settings
	DepManager DepManager
	Proxy      Proxy
}

// App holds application-wide configuration.
type App struct {
	LogLevel string `env:"DVZOLL_APP_LOG_LEVEL" envDefault:"info"`
}

// HTTP holds HTTP server configuration.
type HTTP struct {
	Port            string        `env:"DVZOLL_HTTP_PORT"             envDefault:"127.0.0.1:8080"`
	HandlerTimeout  time.Duration `env:"DVZOLL_HTTP_HANDLER_TIMEOUT"  envDefault:"20s"`
	ShutdownTimeout time.Duration `env:"DVZOLL_HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	// CORSOrigins is a comma-separated list of allowed origins, "*" allows any.
	// Empty allows same-origin requests only.
	CORSOrigins string `env:"DVZOLL_HTTP_CORS_ORIGINS" envDefault:""`
}

// Attempt holds the timing of the simulated progress source.
type Attempt struct {
	// Simulate forces the simulated source even when a download bridge is available.
	Simulate             bool          `env:"DVZOLL_ATTEMPT_SIMULATE"               envDefault:"false"`
	FetchDelay           time.Duration `env:"DVZOLL_ATTEMPT_FETCH_DELAY"            envDefault:"1500ms"`
	TickInterval         time.Duration `env:"DVZOLL_ATTEMPT_TICK_INTERVAL"          envDefault:"300ms"`
	ConvertDelay         time.Duration `env:"DVZOLL_ATTEMPT_CONVERT_DELAY"          envDefault:"1200ms"`
	PlaylistTickInterval time.Duration `env:"DVZOLL_ATTEMPT_PLAYLIST_TICK_INTERVAL" envDefault:"200ms"`
	MinStep              int           `env:"DVZOLL_ATTEMPT_MIN_STEP"               envDefault:"4"`
	MaxStep              int           `env:"DVZOLL_ATTEMPT_MAX_STEP"               envDefault:"15"`
	PlaylistTracks       int           `env:"DVZOLL_ATTEMPT_PLAYLIST_TRACKS"        envDefault:"5"`
	MaxPlaylistTracks    int           `env:"DVZOLL_ATTEMPT_MAX_PLAYLIST_TRACKS"    envDefault:"100"`
}

// History holds history record processing configuration.
type History struct {
	Workers   int           `env:"DVZOLL_HISTORY_WORKERS"    envDefault:"2"`
	QueueSize int           `env:"DVZOLL_HISTORY_QUEUE_SIZE" envDefault:"100"`
	Timeout   time.Duration `env:"DVZOLL_HISTORY_TIMEOUT"    envDefault:"30m"`
	// Processor selects what a worker does with a record: "noop" marks it completed,
	// "mock" runs the mock downloader, "bridge" downloads it with the real tools.
	Processor  string        `env:"DVZOLL_HISTORY_PROCESSOR"   envDefault:"noop"`
	RateLimit  int           `env:"DVZOLL_HISTORY_RATE_LIMIT"  envDefault:"20"`
	RateWindow time.Duration `env:"DVZOLL_HISTORY_RATE_WINDOW" envDefault:"1h"`
	ListLimit  int           `env:"DVZOLL_HISTORY_LIST_LIMIT"  envDefault:"50"`
	OutputDir  string        `env:"DVZOLL_HISTORY_OUTPUT_DIR"  envDefault:"./data/downloads"`
}

// Storage holds storage configuration.
type Storage struct {
	Path            string        `env:"DVZOLL_STORAGE_PATH"             envDefault:"./data/dvzoll.db"`
	TTL             time.Duration `env:"DVZOLL_STORAGE_TTL"              envDefault:"720h"`
	CleanupInterval time.Duration `env:"DVZOLL_STORAGE_CLEANUP_INTERVAL" envDefault:"1h"`
}

// Metadata holds configuration of the metadata/redirect endpoint.
type Metadata struct {
	OEmbedURL    string        `env:"DVZOLL_METADATA_OEMBED_URL"     envDefault:"https://www.youtube.com/oembed"`
	RedirectBase string        `env:"DVZOLL_METADATA_REDIRECT_BASE"  envDefault:"https://cobalt.tools/"`
	Timeout      time.Duration `env:"DVZOLL_METADATA_TIMEOUT"        envDefault:"5s"`
	MaxURLLength int           `env:"DVZOLL_METADATA_MAX_URL_LENGTH" envDefault:"2000"`
	// RPS and Burst bound outbound oEmbed calls.
	RPS   float64 `env:"DVZOLL_METADATA_RPS"   envDefault:"5"`
	Burst int     `env:"DVZOLL_METADATA_BURST" envDefault:"10"`
}

// Auth holds the static bearer token table of the history endpoint.
type Auth struct {
	// List is a comma-separated list of token:user pairs.
	List string `env:"DVZOLL_AUTH_TOKENS" envDefault:""`

	// Tokens maps bearer tokens to user ids.
	Tokens map[string]string `env:"-"`
}

// parseList parses the comma-separated token list.
func (a *Auth) parseList() {
	a.Tokens = make(map[string]string)

	for pair := range strings.SplitSeq(a.List, ",") {
		token, user, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || token == "" || user == "" {
			continue
		}

		a.Tokens[token] = user
	}
}

// Settings holds the location of the persisted user settings.
type Settings struct {
	// Path of the settings file, empty means the XDG config directory.
	Path string `env:"DVZOLL_SETTINGS_PATH" envDefault:""`
}

// DepManager holds binary dependency management configuration.
type DepManager struct {
	// BinsDir is the directory where installed binaries are stored
	BinsDir string `env:"DVZOLL_DEPMANAGER_BINS_DIR" envDefault:"./bins"`
	// UseSystemBinaries skips installing and looks tools up in PATH only.
	UseSystemBinaries bool `env:"DVZOLL_DEPMANAGER_USE_SYSTEM_BINARIES" envDefault:"true"`

	FFmpegLinuxARM64 string `env:"DVZOLL_DEPMANAGER_FFMPEG_LINUX_ARM64" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-linuxarm64-gpl.tar.xz"` //nolint:lll
	FFmpegLinuxAMD64 string `env:"DVZOLL_DEPMANAGER_FFMPEG_LINUX_AMD64" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-linux64-gpl.tar.xz"`    //nolint:lll
	YTdlpLinuxARM64  string `env:"DVZOLL_DEPMANAGER_YTDLP_LINUX_ARM64" envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_linux_aarch64"`                          //nolint:lll
	YTdlpLinuxAMD64  string `env:"DVZOLL_DEPMANAGER_YTDLP_LINUX_AMD64" envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_linux"`                                  //nolint:lll
}

// Proxy holds the outbound proxies handed to the download tools.
type Proxy struct {
	// List is a comma-separated list of proxy URLs (http, https, socks5, socks5h).
	List string `env:"DVZOLL_PROXY_LIST" envDefault:""`
	// HealthCheckInterval is how often every proxy is dialed, zero disables the checker.
	HealthCheckInterval time.Duration `env:"DVZOLL_PROXY_HEALTH_CHECK_INTERVAL" envDefault:"5m"`
	// FailureBackoff is the first cooldown of a proxy that reached MaxFailures.
	FailureBackoff time.Duration `env:"DVZOLL_PROXY_FAILURE_BACKOFF" envDefault:"1m"`
	MaxBackoff     time.Duration `env:"DVZOLL_PROXY_MAX_BACKOFF"     envDefault:"1h"`
	MaxFailures    int           `env:"DVZOLL_PROXY_MAX_FAILURES"    envDefault:"3"`

	// Proxies is the parsed list.
	Proxies []string `env:"-"`
}

// parseList parses the comma-separated proxy list.
func (p *Proxy) parseList() {
	p.Proxies = nil

	for proxy := range strings.SplitSeq(p.List, ",") {
		proxy = strings.TrimSpace(proxy)
		if proxy != "" {
			p.Proxies = append(p.Proxies, proxy)
		}
	}
}

// SetAbsPaths converts the BinsDir path to an absolute path.
func (d *DepManager) SetAbsPaths() error {
	var err error
	if d.BinsDir, err = filepath.Abs(d.BinsDir); err != nil {
		return fmt.Errorf("bins dir: %w", err)
	}

	return nil
}

// SetAbsPaths converts storage and output paths to absolute paths.
func (c *Config) SetAbsPaths() error {
	var err error
	if c.Storage.Path, err = filepath.Abs(c.Storage.Path); err != nil {
		return fmt.Errorf("storage path: %w", err)
	}

	if c.History.OutputDir, err = filepath.Abs(c.History.OutputDir); err != nil {
		return fmt.Errorf("history output dir: %w", err)
	}

	if c.Settings.Path != "" {
		if c.Settings.Path, err = filepath.Abs(c.Settings.Path); err != nil {
			return fmt.Errorf("settings path: %w", err)
		}
	}

	return c.DepManager.SetAbsPaths()
}

// New loads configuration from environment variables.
func New() (*Config, error) {
	cfg := &Config{}

	err := env.Parse(cfg)
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	err = cfg.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set absolute paths: %w", err)
	}

	cfg.Auth.parseList()
	cfg.Proxy.parseList()

	return cfg, nil
}

// AllowedOrigins returns the parsed CORS origin list.
func (h HTTP) AllowedOrigins() []string {
	var origins []string

	for origin := range strings.SplitSeq(h.CORSOrigins, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			origins = append(origins, origin)
		}
	}

	return origins
}
