package downloader

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"dvzoll/internal/consts"
	"dvzoll/internal/depmanager"
	"dvzoll/internal/entity"
	"dvzoll/internal/errs"
	"dvzoll/internal/observability"
	"dvzoll/internal/platform"
	"dvzoll/pkg/gen"
	"dvzoll/pkg/shellquote"

	"github.com/h2non/filetype"
)

const fullProgress = 100

var (
	maxLineSize = 10 * 1024 * 1024 // 10 MiB scanner buffer, fits -J output
	bufSize     = 4096             // 4 KiB buffer size

	reProgress = regexp.MustCompile(`\[download\]\s+(\d+(?:\.\d+)?)%`)
	reFilepath = regexp.MustCompile(`(?i)^[^\{\[\n].*\.[a-z0-9]{1,6}$`)

	// run() takes the last file path printed on stdout as the result.
	defaultPrintAfterMove = "after_move:filepath"
)

// Exec runs yt-dlp, or spotdl for Spotify, as child processes.
type Exec struct {
	log      *slog.Logger
	resolver Resolver
	metrics  *observability.Metrics
	proxies  Proxies
}

var _ Downloader = (*Exec)(nil)

// ExecOption configures an Exec.
type ExecOption func(*Exec)

// WithProxies routes every invocation through a proxy picked from p.
func WithProxies(p Proxies) ExecOption {
	return func(d *Exec) {
		d.proxies = p
	}
}

// NewExec creates the process based downloader.
func NewExec(log *slog.Logger, resolver Resolver, metrics *observability.Metrics, opts ...ExecOption) *Exec {
	d := &Exec{
		log:      log.With(slog.String("package", "downloader")),
		resolver: resolver,
		metrics:  metrics,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *Exec) pickProxy() string {
	if d.proxies == nil {
		return ""
	}

	return d.proxies.Pick()
}

// reportProxy tells the pool how the invocation went. Media errors say nothing
// about the proxy and are not counted.
func (d *Exec) reportProxy(proxyURL string, runErr error, errLine string) {
	if proxyURL == "" || d.proxies == nil {
		return
	}

	switch {
	case runErr == nil:
		d.proxies.MarkSuccess(proxyURL)
	case reNetworkFailure.MatchString(errLine):
		d.proxies.MarkFailed(proxyURL)
	}
}

// BuildArgs returns the tool and command line for req.
func BuildArgs(req entity.DownloadRequest) (depmanager.BinaryName, []string) {
	if req.Platform == entity.PlatformSpotify {
		return depmanager.BinarySpotdl, []string{
			"download", req.URL,
			"--output", req.OutputDir,
			"--format", platform.AudioFormat(req.Quality),
			"--bitrate", platform.AudioBitrate(req.Quality),
		}
	}

	args := []string{
		"-o", filepath.Join(req.OutputDir, "%(title)s.%(ext)s"),
		"--no-overwrites",
		"--newline",
		// --print implies --quiet, keep the progress lines
		"--progress",
		"--print", defaultPrintAfterMove,
	}

	if req.Mode == entity.ModeAudio {
		args = append(args, "-x", "--audio-format", platform.AudioFormat(req.Quality), "--audio-quality", "0")
	} else {
		h := platform.VideoHeight(req.Quality)
		args = append(args,
			"-f", fmt.Sprintf("bestvideo[height<=%d]+bestaudio/best[height<=%d]", h, h),
			"--merge-output-format", "mp4",
		)
	}

	if req.IsPlaylist {
		args = append(args, "--yes-playlist")
	} else {
		args = append(args, "--no-playlist")
	}

	return depmanager.BinaryYTdlp, append(args, req.URL)
}

// DownloadMedia runs the download and forwards progress. A tool that runs but
// fails yields a result with Success false and the tool's error line.
func (d *Exec) DownloadMedia(
	ctx context.Context,
	req entity.DownloadRequest,
	onProgress func(percent int),
) (entity.DownloadResult, error) {
	name, args := BuildArgs(req)
	log := d.log.With(slog.String("downloader", string(name)), slog.String("url", req.URL))

	bin, err := d.resolver.Path(name)
	if err != nil {
		return entity.DownloadResult{}, fmt.Errorf("resolve %s: %w", name, err)
	}

	proxyURL := d.pickProxy()
	args = withProxy(name, args, proxyURL)

	d.metrics.RecordDownloaderRequest(string(name))
	log.DebugContext(ctx, "executing", slog.String("cmd", shellquote.Join(bin, args)))

	out, runErr := d.run(ctx, bin, args, func(line string) {
		if p, ok := ParseProgress(line); ok && onProgress != nil {
			onProgress(int(p))
		}
	})

	if ctx.Err() == nil {
		d.reportProxy(proxyURL, runErr, out.errLine)
	}

	if runErr != nil {
		d.metrics.RecordDownloaderError(string(name))

		if ctx.Err() != nil {
			return entity.DownloadResult{}, fmt.Errorf("%s %s: %w", name, classifyProcessingError(ctx.Err()), ctx.Err())
		}

		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return entity.DownloadResult{}, fmt.Errorf("run %s: %w", name, runErr)
		}

		log.WarnContext(ctx, "download failed", slog.Any("error", runErr), slog.String("stderr", out.stderrTail))

		return entity.DownloadResult{Success: false, Message: out.failureMessage(name)}, nil
	}

	res := entity.DownloadResult{Success: true, Message: "Download completed", OutputPath: out.path}
	if res.OutputPath == "" {
		res.OutputPath = req.OutputDir
	}

	if kind, err := filetype.MatchFile(res.OutputPath); err == nil && kind != filetype.Unknown {
		res.MIME = kind.MIME.Value
	}

	if onProgress != nil {
		onProgress(fullProgress)
	}

	log.InfoContext(ctx, "done", slog.String("output_path", res.OutputPath), slog.String("mime", res.MIME))

	return res, nil
}

// ListTracks resolves playlist entries without downloading them. Spotify
// collections are handed to spotdl whole, as a single entry.
func (d *Exec) ListTracks(ctx context.Context, url string) ([]entity.TrackInfo, error) {
	if platform.Detect(url).Platform == entity.PlatformSpotify {
		return []entity.TrackInfo{{ID: gen.UUIDv5(url), Title: "Spotify collection", URL: url}}, nil
	}

	bin, err := d.resolver.Path(depmanager.BinaryYTdlp)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", depmanager.BinaryYTdlp, err)
	}

	d.metrics.RecordDownloaderRequest(consts.DownloaderYTdlp)

	proxyURL := d.pickProxy()
	args := withProxy(depmanager.BinaryYTdlp, []string{"--flat-playlist", "-J", "--yes-playlist", url}, proxyURL)

	out, err := d.run(ctx, bin, args, nil)
	if ctx.Err() == nil {
		d.reportProxy(proxyURL, err, out.errLine)
	}

	if err != nil {
		d.metrics.RecordDownloaderError(consts.DownloaderYTdlp)

		return nil, fmt.Errorf("list playlist: %s: %w", out.failureMessage(depmanager.BinaryYTdlp), err)
	}

	tracks, err := ParsePlaylist([]byte(out.stdout))
	if err != nil {
		return nil, err
	}

	if len(tracks) == 0 {
		return nil, errs.ErrNoTracks
	}

	return tracks, nil
}

// ParseProgress extracts the percentage of a yt-dlp progress line.
func ParseProgress(line string) (float64, bool) {
	m := reProgress.FindStringSubmatch(line)
	if len(m) < 2 {
		return 0, false
	}

	p, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}

	return p, true
}

// ParsePlaylist converts the flat playlist JSON of yt-dlp into tracks.
func ParsePlaylist(data []byte) ([]entity.TrackInfo, error) {
	var pl PlaylistJSON
	if err := json.Unmarshal(data, &pl); err != nil {
		return nil, fmt.Errorf("decode playlist: %w", err)
	}

	tracks := make([]entity.TrackInfo, 0, len(pl.Entries))

	for i, e := range pl.Entries {
		url := e.URL
		if url == "" {
			url = e.WebpageURL
		}

		if url == "" {
			continue
		}

		title := e.Title
		if title == "" || title == "NA" {
			title = "Track " + strconv.Itoa(i+1)
		}

		tracks = append(tracks, entity.TrackInfo{ID: e.ID, Title: title, URL: url})
	}

	return tracks, nil
}

// output is what a tool wrote while running.
type output struct {
	stdout     string
	path       string
	errLine    string
	stderrTail string
}

func (o output) failureMessage(name depmanager.BinaryName) string {
	if o.errLine != "" {
		return o.errLine
	}

	return fmt.Sprintf("%s failed", name)
}

// run starts bin and scans both pipes line by line until it exits.
func (d *Exec) run(ctx context.Context, bin string, args []string, onLine func(string)) (output, error) {
	cmd := exec.CommandContext(ctx, bin, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return output{}, fmt.Errorf("stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return output{}, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return output{}, fmt.Errorf("start command: %w", err)
	}

	var (
		out       output
		stdoutBuf strings.Builder
		stderrBuf []string
		wg        sync.WaitGroup
	)

	wg.Go(func() {
		scan(stdout, func(line string) {
			stdoutBuf.WriteString(line)
			stdoutBuf.WriteByte('\n')

			if onLine != nil {
				onLine(line)
			}

			if trimmed := strings.TrimSpace(line); reFilepath.MatchString(trimmed) {
				out.path = trimmed
			}
		})
	})

	wg.Go(func() {
		scan(stderr, func(line string) {
			if onLine != nil {
				onLine(line)
			}

			if msg, ok := strings.CutPrefix(strings.TrimSpace(line), "ERROR:"); ok {
				out.errLine = strings.TrimSpace(msg)
			}

			stderrBuf = append(stderrBuf, line)
			if len(stderrBuf) > 20 {
				stderrBuf = stderrBuf[1:]
			}
		})
	})

	wg.Wait()

	out.stdout = stdoutBuf.String()
	out.stderrTail = strings.Join(stderrBuf, "\n")

	if err := cmd.Wait(); err != nil {
		return out, err
	}

	return out, nil
}

func scan(r io.Reader, fn func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, bufSize), maxLineSize)
	scanner.Split(splitLinesAny)

	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			fn(line)
		}
	}

	// drain so the child never blocks on a full pipe
	_, _ = io.Copy(io.Discard, r)
}
