package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

func (stg *storage) CleanupExpiredRecords(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := stg.log.With(slog.String("action", "cleanup_expired_records"), slog.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			if _, err := stg.DeleteExpired(ctx); err != nil && ctx.Err() == nil {
				log.ErrorContext(ctx, "cleanup failed", slog.Any("error", err))
			}
		case <-ctx.Done():
			log.Info("cleanup expired records stopped")

			return
		}
	}
}

type expiredRecord struct {
	id         string
	outputPath string
}

func (stg *storage) DeleteExpired(ctx context.Context) (int, error) {
	if stg.cfg.TTL <= 0 {
		return 0, nil
	}

	log := stg.log
	cutoff := stg.now().Add(-stg.cfg.TTL)

	expired, err := stg.expiredRecords(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if len(expired) == 0 {
		log.DebugContext(ctx, "no expired records found to clean up")

		return 0, nil
	}

	log.InfoContext(ctx, "about to remove expired records", slog.Int("count", len(expired)))

	ids := make([]any, 0, len(expired))
	deletedFiles := 0

	for _, rec := range expired {
		ids = append(ids, rec.id)

		if stg.removeOutput(ctx, rec.outputPath) {
			deletedFiles++
		}
	}

	res, err := stg.db.ExecContext(ctx,
		`DELETE FROM download_history WHERE id IN (`+placeholders(len(ids))+`)`, ids...)
	if err != nil {
		return 0, fmt.Errorf("delete expired records: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	stg.metrics.RecordCleanup(int(n))

	log.DebugContext(ctx, "expired records cleaned up",
		slog.Int64("records", n),
		slog.Int("deleted_files", deletedFiles))

	return int(n), nil
}

func (stg *storage) expiredRecords(ctx context.Context, cutoff time.Time) ([]expiredRecord, error) {
	rows, err := stg.db.QueryContext(ctx,
		`SELECT id, output_path FROM download_history WHERE created_at < ?`, cutoff.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query expired records: %w", err)
	}
	defer rows.Close()

	var expired []expiredRecord

	for rows.Next() {
		var rec expiredRecord
		if err := rows.Scan(&rec.id, &rec.outputPath); err != nil {
			return nil, fmt.Errorf("scan expired record: %w", err)
		}

		expired = append(expired, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired records: %w", err)
	}

	return expired, nil
}

// removeOutput deletes a produced file. Directories and relative paths are left alone.
func (stg *storage) removeOutput(ctx context.Context, path string) bool {
	if path == "" {
		return false
	}

	log := stg.log

	if !filepath.IsAbs(path) {
		log.ErrorContext(ctx, "non-absolute path found", slog.String("filename", path))

		return false
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.ErrorContext(ctx, "failed to delete file", slog.String("filename", path), slog.Any("error", err))

		return false
	}

	log.DebugContext(ctx, "successfully deleted file", slog.String("filename", path))

	return true
}
