// Package storage persists history records in SQLite and expires old ones.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dvzoll/internal/config"
	"dvzoll/internal/entity"
	"dvzoll/internal/errs"
	"dvzoll/internal/observability"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// MemoryPath keeps the database in memory, used by tests and throwaway runs.
const MemoryPath = ":memory:"

// Storer defines the interface for storage operations.
type Storer interface {
	CreateRecord(ctx context.Context, rec *entity.Record) error
	GetRecord(ctx context.Context, id string) (entity.Record, error)
	UpdateRecordStatus(ctx context.Context, id string, status entity.RecordStatus, errorMsg, outputPath string) error

	// CountRecordsSince counts the records of userID created at or after since.
	CountRecordsSince(ctx context.Context, userID string, since time.Time) (int, error)
	// OldestRecordSince returns the creation time of the oldest record of userID at or after since.
	OldestRecordSince(ctx context.Context, userID string, since time.Time) (time.Time, error)
	// ListRecords returns up to limit records of userID, newest first.
	ListRecords(ctx context.Context, userID string, limit int) ([]entity.Record, error)
	// UnfinishedRecords returns pending and processing records, oldest first.
	UnfinishedRecords(ctx context.Context) ([]entity.Record, error)

	// DeleteExpired removes records older than the configured TTL and their files.
	DeleteExpired(ctx context.Context) (int, error)
	CleanupExpiredRecords(ctx context.Context, interval time.Duration)

	Close() error
}

type storage struct {
	log     *slog.Logger
	cfg     config.Storage
	db      *sql.DB
	metrics *observability.Metrics
	now     func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS download_history (
	id          TEXT PRIMARY KEY,
	user_id     TEXT    NOT NULL,
	url         TEXT    NOT NULL,
	title       TEXT    NOT NULL,
	platform    TEXT    NOT NULL,
	mode        TEXT    NOT NULL,
	quality     TEXT    NOT NULL,
	is_playlist INTEGER NOT NULL DEFAULT 0,
	track_count INTEGER NOT NULL DEFAULT 1,
	status      TEXT    NOT NULL,
	error       TEXT    NOT NULL DEFAULT '',
	output_path TEXT    NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_download_history_user_created ON download_history (user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_download_history_status ON download_history (status);
`

const recordColumns = `id, user_id, url, title, platform, mode, quality, is_playlist, track_count,
	status, error, output_path, created_at, updated_at`

// New opens the database at cfg.Path, applies the schema and starts the
// cleanup loop bound to ctx.
func New(ctx context.Context, log *slog.Logger, cfg config.Storage, metrics *observability.Metrics) (Storer, error) {
	db, err := open(cfg.Path)
	if err != nil {
		return nil, err
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("apply schema: %w", err)
	}

	stg := &storage{
		log:     log.With(slog.String("package", "storage")),
		cfg:     cfg,
		db:      db,
		metrics: metrics,
		now:     time.Now,
	}

	if cfg.CleanupInterval > 0 {
		go stg.CleanupExpiredRecords(ctx, cfg.CleanupInterval)
	}

	return stg, nil
}

func open(path string) (*sql.DB, error) {
	if path == "" {
		path = MemoryPath
	}

	dsn := path
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}

		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// every connection to :memory: is a separate database, writes are serialised anyway
	db.SetMaxOpenConns(1)

	return db, nil
}

func (stg *storage) Close() error {
	if err := stg.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}

	return nil
}

func (stg *storage) CreateRecord(ctx context.Context, rec *entity.Record) error {
	if rec == nil {
		return errs.ErrRecordNil
	}

	now := stg.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	_, err := stg.db.ExecContext(ctx, `INSERT INTO download_history (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.URL, rec.Title, string(rec.Platform), string(rec.Mode), rec.Quality,
		rec.IsPlaylist, rec.TrackCount, string(rec.Status), rec.Error, rec.OutputPath,
		rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	stg.log.DebugContext(ctx, "record stored", slog.Any("record", *rec))

	return nil
}

func (stg *storage) GetRecord(ctx context.Context, id string) (entity.Record, error) {
	row := stg.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM download_history WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Record{}, errs.ErrRecordNotFound
	}

	if err != nil {
		return entity.Record{}, fmt.Errorf("get record: %w", err)
	}

	return rec, nil
}

func (stg *storage) UpdateRecordStatus(
	ctx context.Context,
	id string,
	status entity.RecordStatus,
	errorMsg, outputPath string,
) error {
	res, err := stg.db.ExecContext(ctx,
		`UPDATE download_history SET status = ?, error = ?, output_path = ?, updated_at = ? WHERE id = ?`,
		string(status), errorMsg, outputPath, stg.now().UTC().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("update record status: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errs.ErrRecordNotFound
	}

	stg.log.DebugContext(ctx, "record status updated", slog.String("id", id), slog.String("status", string(status)))

	return nil
}

func (stg *storage) CountRecordsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int

	err := stg.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM download_history WHERE user_id = ? AND created_at >= ?`,
		userID, since.UnixNano(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}

	return n, nil
}

func (stg *storage) OldestRecordSince(ctx context.Context, userID string, since time.Time) (time.Time, error) {
	var oldest sql.NullInt64

	err := stg.db.QueryRowContext(ctx,
		`SELECT MIN(created_at) FROM download_history WHERE user_id = ? AND created_at >= ?`,
		userID, since.UnixNano(),
	).Scan(&oldest)
	if err != nil {
		return time.Time{}, fmt.Errorf("oldest record: %w", err)
	}

	if !oldest.Valid {
		return time.Time{}, errs.ErrRecordNotFound
	}

	return time.Unix(0, oldest.Int64).UTC(), nil
}

func (stg *storage) ListRecords(ctx context.Context, userID string, limit int) ([]entity.Record, error) {
	rows, err := stg.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM download_history WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	return collect(rows)
}

func (stg *storage) UnfinishedRecords(ctx context.Context) ([]entity.Record, error) {
	rows, err := stg.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM download_history WHERE status IN (?, ?)
		ORDER BY created_at, rowid`,
		string(entity.RecordStatusPending), string(entity.RecordStatusProcessing),
	)
	if err != nil {
		return nil, fmt.Errorf("list unfinished records: %w", err)
	}

	return collect(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (entity.Record, error) {
	var (
		rec                  entity.Record
		platform, mode, stat string
		created, updated     int64
	)

	err := row.Scan(&rec.ID, &rec.UserID, &rec.URL, &rec.Title, &platform, &mode, &rec.Quality,
		&rec.IsPlaylist, &rec.TrackCount, &stat, &rec.Error, &rec.OutputPath, &created, &updated)
	if err != nil {
		return entity.Record{}, err
	}

	rec.Platform = entity.Platform(platform)
	rec.Mode = entity.Mode(mode)
	rec.Status = entity.RecordStatus(stat)
	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.UpdatedAt = time.Unix(0, updated).UTC()

	return rec, nil
}

func collect(rows *sql.Rows) ([]entity.Record, error) {
	defer rows.Close()

	var records []entity.Record

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return records, nil
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
