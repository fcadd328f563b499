package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"dvzoll/internal/consts"
	"dvzoll/internal/entity"
	"dvzoll/pkg/gen"
)

// Mock pretends to download: progress in ten steps over Duration, no files.
type Mock struct {
	log      *slog.Logger
	Duration time.Duration
	Tracks   int
}

var _ Downloader = (*Mock)(nil)

// NewMock returns a mock downloader finishing each item after d.
func NewMock(log *slog.Logger, d time.Duration) *Mock {
	return &Mock{
		log:      log.With(slog.String("package", "downloader"), slog.String("downloader", consts.DownloaderMock)),
		Duration: d,
		Tracks:   3,
	}
}

// DownloadMedia simulates the download of req.
func (m *Mock) DownloadMedia(ctx context.Context, req entity.DownloadRequest, onProgress func(int)) (entity.DownloadResult, error) {
	log := m.log.With(slog.String("func", "DownloadMedia"), slog.String("url", req.URL))

	if err := simulateDownload(ctx, m.Duration, onProgress); err != nil {
		log.ErrorContext(ctx, "simulate download", slog.Any("error", err))

		return entity.DownloadResult{}, err
	}

	ext := "mp4"
	if req.Mode == entity.ModeAudio {
		ext = "mp3"
	}

	path := filepath.Join(req.OutputDir, fmt.Sprintf("%s_%s.%s", req.Platform, gen.UUIDv5(req.URL)[:8], ext))

	log.InfoContext(ctx, "done", slog.String("output_path", path))

	return entity.DownloadResult{Success: true, Message: "Download completed", OutputPath: path}, nil
}

// ListTracks returns Tracks made-up entries.
func (m *Mock) ListTracks(_ context.Context, url string) ([]entity.TrackInfo, error) {
	tracks := make([]entity.TrackInfo, m.Tracks)
	for i := range tracks {
		n := strconv.Itoa(i + 1)
		tracks[i] = entity.TrackInfo{ID: gen.UUIDv5(url, n), Title: "Track " + n, URL: url + "#" + n}
	}

	return tracks, nil
}

func simulateDownload(ctx context.Context, duration time.Duration, onProgress func(int)) error {
	const steps = 10

	ticker := time.NewTicker(max(duration/steps, time.Millisecond))
	defer ticker.Stop()

	for step := 1; step <= steps; step++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if onProgress != nil {
				onProgress(step * (fullProgress / steps))
			}
		}
	}

	return nil
}
