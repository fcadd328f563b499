package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dvzoll/internal/downloader"
	"dvzoll/internal/entity"
)

// Processor does the work behind a history record. The returned path is
// stored on the record when it completes.
type Processor interface {
	Process(ctx context.Context, rec entity.Record) (outputPath string, err error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, rec entity.Record) (string, error)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, rec entity.Record) (string, error) {
	return f(ctx, rec)
}

// DownloadError is a download the tool ran and reported as failed.
type DownloadError struct {
	Message string
}

func (e *DownloadError) Error() string { return "download failed: " + e.Message }

// Noop completes every record immediately without doing any work.
func Noop() Processor {
	return ProcessorFunc(func(context.Context, entity.Record) (string, error) {
		return "", nil
	})
}

// Bridge downloads records through a downloader into outputDir.
type Bridge struct {
	log        *slog.Logger
	downloader downloader.Downloader
	outputDir  string
}

var _ Processor = (*Bridge)(nil)

// NewBridge creates a processor downloading into outputDir.
func NewBridge(log *slog.Logger, d downloader.Downloader, outputDir string) *Bridge {
	return &Bridge{
		log:        log.With(slog.String("package", "service"), slog.String("processor", "bridge")),
		downloader: d,
		outputDir:  outputDir,
	}
}

// Process downloads rec and returns the produced path.
func (b *Bridge) Process(ctx context.Context, rec entity.Record) (string, error) {
	log := b.log.With(slog.String("record_id", rec.ID))
	started := time.Now()

	res, err := b.downloader.DownloadMedia(ctx, entity.DownloadRequest{
		URL:        rec.URL,
		Mode:       rec.Mode,
		Quality:    rec.Quality,
		Platform:   rec.Platform,
		IsPlaylist: rec.IsPlaylist,
		OutputDir:  b.outputDir,
	}, func(percent int) {
		log.DebugContext(ctx, "progress", slog.Int("percent", percent))
	})
	if err != nil {
		return "", fmt.Errorf("download media: %w", err)
	}

	if !res.Success {
		return "", &DownloadError{Message: res.Message}
	}

	log.InfoContext(ctx, "downloaded", slog.String("output_path", res.OutputPath), slog.Duration("took", time.Since(started)))

	return res.OutputPath, nil
}
