// Package depmanager handles the external tools the download bridge drives.
// It resolves yt-dlp, spotdl and ffmpeg, probes whether they answer, and can
// install yt-dlp and ffmpeg binaries for linux.
package depmanager

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"dvzoll/internal/config"
	"dvzoll/internal/entity"
	"dvzoll/internal/errs"
	"dvzoll/internal/observability"

	"github.com/ulikunitz/xz"
	"golang.org/x/sync/errgroup"
)

// BinaryName represents the name of a binary dependency.
type BinaryName string

// Binary dependency names.
const (
	BinaryYTdlp   BinaryName = "yt-dlp"
	BinarySpotdl  BinaryName = "spotdl"
	BinaryFFmpeg  BinaryName = "ffmpeg"
	BinaryFFprobe BinaryName = "ffprobe"
)

// Platform operating system names and architectures.
const (
	platformLinux   = "linux"
	platformWindows = "windows"
	archARM64       = "arm64"
	archAMD64       = "amd64"
)

const (
	// downloadTimeout is the HTTP client timeout for downloading binaries.
	downloadTimeout = 10 * time.Minute
	// probeTimeout bounds a single version probe.
	probeTimeout = 15 * time.Second
	// filePermExecutable is the file permission for executable binaries.
	filePermExecutable = 0o755
)

// Platform represents the OS and architecture combination.
type Platform struct {
	OS   string
	Arch string
}

// String returns the platform string in format "os/arch".
func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// runFunc executes bin with args and reports whether it exited cleanly.
type runFunc func(ctx context.Context, bin string, args ...string) error

func runCommand(ctx context.Context, bin string, args ...string) error {
	return exec.CommandContext(ctx, bin, args...).Run()
}

// Manager manages binary dependencies.
type Manager struct {
	log      *slog.Logger
	cfg      config.DepManager
	metrics  *observability.Metrics
	platform Platform
	client   *http.Client
	run      runFunc
	lookPath func(string) (string, error)

	mu       sync.RWMutex
	binPaths map[BinaryName]string // binary name -> resolved path
}

// New creates a new dependency manager.
func New(log *slog.Logger, cfg config.DepManager, metrics *observability.Metrics) *Manager {
	return &Manager{
		log:     log.With(slog.String("package", "depmanager")),
		cfg:     cfg,
		metrics: metrics,
		platform: Platform{
			OS:   runtime.GOOS,
			Arch: runtime.GOARCH,
		},
		client: &http.Client{
			Timeout: downloadTimeout,
		},
		run:      runCommand,
		lookPath: exec.LookPath,
		binPaths: make(map[BinaryName]string),
	}
}

// Start resolves the tools. Unless system binaries are requested, missing
// yt-dlp and ffmpeg are installed into the bins dir first. A failed install is
// logged, the tool check reports what is missing.
func (m *Manager) Start(ctx context.Context) {
	if !m.cfg.UseSystemBinaries {
		if err := m.InstallAll(ctx); err != nil {
			m.log.ErrorContext(ctx, "install binaries", slog.Any("error", err))
		}
	}

	m.SetSystemBinaries()
}

// SetSystemBinaries looks up the tools not installed in the bins dir in PATH.
func (m *Manager) SetSystemBinaries() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, binary := range []BinaryName{BinaryYTdlp, BinarySpotdl, BinaryFFmpeg} {
		if _, ok := m.binPaths[binary]; ok {
			continue
		}

		path, err := m.lookPath(string(binary))
		if err != nil {
			m.log.Debug("binary not found in PATH", slog.String("binary", string(binary)))

			continue
		}

		m.binPaths[binary] = path
	}
}

// Path returns the resolved path of a binary: installed bins first, then PATH.
func (m *Manager) Path(name BinaryName) (string, error) {
	if p := m.GetInstalledPath(name); p != "" {
		return p, nil
	}

	if m.isBinaryExists(name) {
		m.setBinaryPath(name)

		return m.GetBinaryPath(name), nil
	}

	path, err := m.lookPath(string(name))
	if err != nil {
		return "", fmt.Errorf("%w: %s", errs.ErrBinaryNotFound, name)
	}

	return path, nil
}

// InstallAll downloads yt-dlp and ffmpeg unless they already exist in the bins dir.
func (m *Manager) InstallAll(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.BinsDir, filePermExecutable); err != nil {
		return fmt.Errorf("create bins directory: %w", err)
	}

	for _, binary := range []BinaryName{BinaryFFmpeg, BinaryYTdlp} {
		if m.isBinaryExists(binary) {
			m.setBinaryPath(binary)
			m.log.DebugContext(ctx, "binary already exists", slog.String("binary", string(binary)))

			continue
		}

		if err := m.downloadAndInstall(ctx, binary); err != nil {
			return fmt.Errorf("download and install %s: %w", binary, err)
		}
	}

	m.log.InfoContext(ctx, "binaries are installed", slog.Any("binaries", m.snapshot()))

	return nil
}

// CheckToolsInstalled probes every tool concurrently; a tool is installed when
// its version command exits cleanly.
func (m *Manager) CheckToolsInstalled(ctx context.Context) entity.ToolStatus {
	var status entity.ToolStatus

	probes := []struct {
		name BinaryName
		arg  string
		dst  *bool
	}{
		{BinaryYTdlp, "--version", &status.YTdlp},
		{BinarySpotdl, "--version", &status.Spotdl},
		{BinaryFFmpeg, "-version", &status.FFmpeg},
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, p := range probes {
		g.Go(func() error {
			*p.dst = m.probe(gctx, p.name, p.arg)
			m.metrics.RecordTool(string(p.name), *p.dst)

			return nil
		})
	}

	_ = g.Wait()

	return status
}

func (m *Manager) probe(ctx context.Context, name BinaryName, arg string) bool {
	path, err := m.Path(name)
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := m.run(ctx, path, arg); err != nil {
		m.log.DebugContext(ctx, "tool probe failed", slog.String("binary", string(name)), slog.Any("error", err))

		return false
	}

	return true
}

// GetBinaryPath returns the full path to a binary in the bins dir.
//   - /home/user/ + binary => /home/user/binary
func (m *Manager) GetBinaryPath(name BinaryName) string {
	filename := string(name)
	if m.platform.OS == platformWindows {
		filename += ".exe"
	}

	return filepath.Join(m.cfg.BinsDir, filename)
}

// GetInstalledPath returns the resolved path for a binary, or empty if unknown.
func (m *Manager) GetInstalledPath(name BinaryName) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.binPaths[name]
}

func (m *Manager) snapshot() map[BinaryName]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return maps.Clone(m.binPaths)
}

// isBinaryExists checks if a binary file exists and has non-zero size.
func (m *Manager) isBinaryExists(name BinaryName) bool {
	info, err := os.Stat(m.GetBinaryPath(name))

	return err == nil && info.Size() > 0
}

func (m *Manager) setBinaryPath(name BinaryName) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.binPaths[name] = m.GetBinaryPath(name)
}

// downloadAndInstall downloads and installs a dependency binary.
func (m *Manager) downloadAndInstall(ctx context.Context, name BinaryName) error {
	log := m.log.With(slog.String("binary", string(name)))

	url := m.getBinaryURL(name)
	if url == "" {
		return fmt.Errorf("%w: no download URL for %s on %s", errs.ErrUnsupportedOS, name, m.platform)
	}

	log.InfoContext(ctx, "downloading binary", slog.String("url", url))

	binPaths, err := m.downloadDependency(ctx, url, name)
	if err != nil {
		return fmt.Errorf("download dependency: %w", err)
	}

	for _, path := range binPaths {
		if err := os.Chmod(path, filePermExecutable); err != nil {
			return fmt.Errorf("chmod: %w", err)
		}

		m.setBinaryPath(BinaryName(filepath.Base(path)))
	}

	log.InfoContext(ctx, "binary installed successfully", slog.Any("paths", binPaths))

	return nil
}

func (m *Manager) getBinaryURL(name BinaryName) string {
	switch name {
	case BinaryYTdlp:
		return m.selectURL(m.cfg.YTdlpLinuxARM64, m.cfg.YTdlpLinuxAMD64)
	case BinaryFFmpeg, BinaryFFprobe:
		return m.selectURL(m.cfg.FFmpegLinuxARM64, m.cfg.FFmpegLinuxAMD64)
	}

	return ""
}

// selectURL picks the download URL for the running platform; only linux builds are published.
func (m *Manager) selectURL(linuxARM64, linuxAMD64 string) string {
	if m.platform.OS != platformLinux {
		return ""
	}

	switch m.platform.Arch {
	case archARM64:
		return linuxARM64
	case archAMD64:
		return linuxAMD64
	}

	return ""
}

// downloadDependency downloads a binary or archive and returns the installed paths.
func (m *Manager) downloadDependency(ctx context.Context, url string, name BinaryName) ([]string, error) {
	binPath := m.GetBinaryPath(name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	destDir := filepath.Dir(binPath)

	tmpFile, err := os.CreateTemp(destDir, "download-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	tmpPath := tmpFile.Name()

	defer func() {
		tmpFile.Close()
		os.Remove(tmpPath)
	}()

	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	if !isArchive(url) {
		if err := os.Rename(tmpPath, binPath); err != nil {
			return nil, fmt.Errorf("rename: %w", err)
		}

		return []string{binPath}, nil
	}

	targets := getFilesNeeded(name)

	if err := extractFiles(tmpPath, destDir, url, targets); err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}

	installed := make([]string, 0, len(targets))
	for target := range targets {
		installed = append(installed, filepath.Join(destDir, target))
	}

	return installed, nil
}

func isArchive(url string) bool {
	return strings.HasSuffix(url, ".tar.xz") || strings.HasSuffix(url, ".tar.gz")
}

// getFilesNeeded returns the set of files needed from an archive for a given binary.
func getFilesNeeded(name BinaryName) map[string]struct{} {
	files := make(map[string]struct{})

	switch name {
	case BinaryFFmpeg:
		files[string(BinaryFFmpeg)] = struct{}{}
		files[string(BinaryFFprobe)] = struct{}{}
	default:
		files[string(name)] = struct{}{}
	}

	return files
}

func extractFiles(archivePath, destDir, url string, targets map[string]struct{}) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer file.Close()

	var reader io.Reader

	switch {
	case strings.HasSuffix(url, ".tar.xz"):
		reader, err = xz.NewReader(file)
		if err != nil {
			return fmt.Errorf("create xz reader: %w", err)
		}
	case strings.HasSuffix(url, ".tar.gz"):
		gzReader, err := gzip.NewReader(file)
		if err != nil {
			return fmt.Errorf("create gzip reader: %w", err)
		}
		defer gzReader.Close()

		reader = gzReader
	default:
		return errors.New("unsupported archive format")
	}

	return extractTarSelected(reader, destDir, targets)
}

func extractTarSelected(reader io.Reader, destDir string, targets map[string]struct{}) error {
	tarReader := tar.NewReader(reader)
	extracted := 0

	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		if header.Typeflag != tar.TypeReg {
			continue
		}

		filename := filepath.Base(header.Name)
		if _, ok := targets[filename]; !ok {
			continue
		}

		outFile, err := os.OpenFile(filepath.Join(destDir, filename), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermExecutable)
		if err != nil {
			return fmt.Errorf("create dest file: %w", err)
		}

		_, err = io.Copy(outFile, tarReader)
		outFile.Close()

		if err != nil {
			return fmt.Errorf("extract file: %w", err)
		}

		extracted++

		if extracted == len(targets) {
			return nil
		}
	}

	if extracted == 0 {
		return errors.New("no target files found in tar archive")
	}

	return nil
}
