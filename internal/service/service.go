// Package service accepts history submissions and moves them through a worker pool.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dvzoll/internal/config"
	"dvzoll/internal/consts"
	"dvzoll/internal/entity"
	"dvzoll/internal/errs"
	"dvzoll/internal/observability"
	"dvzoll/internal/platform"
	"dvzoll/internal/storage"
	"dvzoll/pkg/gen"
	"dvzoll/pkg/urls"
)

// Submission is the body of a history POST.
type Submission struct {
	URL        string `json:"url"`
	Mode       string `json:"mode"`
	Quality    string `json:"quality"`
	IsPlaylist bool   `json:"is_playlist"`
	TrackCount int    `json:"track_count"`
}

// Rejection is a submission refused before it was stored. Message is safe to show to the caller.
type Rejection struct {
	Err        error
	Message    string
	RetryAfter time.Time
}

func (r *Rejection) Error() string { return r.Message }

func (r *Rejection) Unwrap() error { return r.Err }

func reject(err error, msg string) *Rejection {
	return &Rejection{Err: err, Message: msg}
}

// History is the history record service.
type History interface {
	Start(ctx context.Context)
	Wait()

	Submit(ctx context.Context, userID string, sub Submission) (entity.Record, error)
	List(ctx context.Context, userID string) ([]entity.Record, error)
	Get(ctx context.Context, id string) (entity.Record, error)
}

type history struct {
	log       *slog.Logger
	cfg       config.History
	storer    storage.Storer
	processor Processor
	metrics   *observability.Metrics
	queue     chan entity.Record
	now       func() time.Time

	// submitMu makes the rate limit check and the insert atomic per process.
	submitMu sync.Mutex

	wg        sync.WaitGroup
	closed    atomic.Bool
	startOnce sync.Once
}

var _ History = (*history)(nil)

// New creates the history service. Start launches its workers.
func New(
	log *slog.Logger,
	cfg config.History,
	storer storage.Storer,
	processor Processor,
	metrics *observability.Metrics,
) History {
	return &history{
		log:       log.With(slog.String("package", "service")),
		cfg:       cfg,
		storer:    storer,
		processor: processor,
		metrics:   metrics,
		queue:     make(chan entity.Record, max(cfg.QueueSize, 1)),
		now:       time.Now,
	}
}

// Start requeues records left unfinished by a previous run and starts the workers.
func (svc *history) Start(ctx context.Context) {
	svc.startOnce.Do(func() {
		svc.requeueUnfinished(ctx)

		for i := range max(svc.cfg.Workers, 1) {
			svc.wg.Add(1)

			go svc.worker(ctx, i)
		}
	})
}

// Wait blocks until every worker has returned.
func (svc *history) Wait() {
	svc.wg.Wait()
}

func (svc *history) Submit(ctx context.Context, userID string, sub Submission) (entity.Record, error) {
	if svc.closed.Load() {
		return entity.Record{}, errs.ErrServiceClosed
	}

	rec, err := svc.validate(sub)
	if err != nil {
		return entity.Record{}, err
	}

	rec.UserID = userID

	log := svc.log.With(slog.String("func", "Submit"), slog.String("user_id", userID))

	svc.submitMu.Lock()

	if err := svc.checkRate(ctx, userID); err != nil {
		svc.submitMu.Unlock()

		return entity.Record{}, err
	}

	now := svc.now().UTC()
	rec.ID = gen.ID()
	rec.Status = entity.RecordStatusPending
	rec.CreatedAt = now
	rec.UpdatedAt = now

	err = svc.storer.CreateRecord(ctx, &rec)

	svc.submitMu.Unlock()

	if err != nil {
		return entity.Record{}, fmt.Errorf("create record: %w", err)
	}

	svc.metrics.RecordRecordCreated()
	log.InfoContext(ctx, "record accepted", slog.Any("record", rec))

	select {
	case svc.queue <- rec:
		return rec, nil
	case <-ctx.Done():
		svc.markFailed(context.WithoutCancel(ctx), rec.ID, "request cancelled")

		return entity.Record{}, fmt.Errorf("enqueue record canceled: %w", ctx.Err())
	default:
		svc.markFailed(ctx, rec.ID, "queue is full")

		return entity.Record{}, fmt.Errorf("%w: %d/%d", errs.ErrQueueFull, len(svc.queue), cap(svc.queue))
	}
}

func (svc *history) List(ctx context.Context, userID string) ([]entity.Record, error) {
	records, err := svc.storer.ListRecords(ctx, userID, svc.cfg.ListLimit)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	if records == nil {
		records = []entity.Record{}
	}

	return records, nil
}

func (svc *history) Get(ctx context.Context, id string) (entity.Record, error) {
	rec, err := svc.storer.GetRecord(ctx, id)
	if err != nil {
		return entity.Record{}, fmt.Errorf("get record: %w", err)
	}

	return rec, nil
}

// validate checks sub in the order the endpoint reports problems and builds the record.
func (svc *history) validate(sub Submission) (entity.Record, error) {
	url := strings.TrimSpace(sub.URL)

	if url == "" || sub.Mode == "" || sub.Quality == "" {
		return entity.Record{}, reject(errs.ErrMissingFields, consts.RespMissingFields)
	}

	if !urls.IsURLValid(url) {
		return entity.Record{}, reject(errs.ErrInvalidURL, consts.RespInvalidURL)
	}

	mode := entity.Mode(sub.Mode)
	if !mode.Valid() {
		return entity.Record{}, reject(errs.ErrInvalidMode, consts.RespInvalidMode)
	}

	if !platform.ValidQuality(mode, sub.Quality) {
		return entity.Record{}, reject(errs.ErrInvalidQuality, fmt.Sprintf("Invalid quality for %s. Options: %s",
			mode, strings.Join(platform.Qualities(mode), ", ")))
	}

	det := platform.Detect(url)
	if !det.SupportsMode(mode) {
		modes := make([]string, len(det.Modes))
		for i, m := range det.Modes {
			modes[i] = string(m)
		}

		return entity.Record{}, reject(errs.ErrModeNotSupported, fmt.Sprintf("%s only supports: %s",
			det.Platform, strings.Join(modes, ", ")))
	}

	isPlaylist := sub.IsPlaylist || platform.IsPlaylistURL(url)

	trackCount := 1
	if isPlaylist && sub.TrackCount > 0 {
		trackCount = sub.TrackCount
	}

	return entity.Record{
		URL:        urls.Normalize(url),
		Title:      fmt.Sprintf("%s %s - %s", det.Platform, mode, sub.Quality),
		Mode:       mode,
		Quality:    sub.Quality,
		Platform:   det.Platform,
		IsPlaylist: isPlaylist,
		TrackCount: trackCount,
	}, nil
}

// checkRate refuses the submission when userID already has RateLimit records in the window.
func (svc *history) checkRate(ctx context.Context, userID string) error {
	if svc.cfg.RateLimit <= 0 {
		return nil
	}

	since := svc.now().Add(-svc.cfg.RateWindow)

	n, err := svc.storer.CountRecordsSince(ctx, userID, since)
	if err != nil {
		return fmt.Errorf("count recent records: %w", err)
	}

	if n < svc.cfg.RateLimit {
		return nil
	}

	svc.metrics.RecordRateLimited()
	svc.log.WarnContext(ctx, "rate limit hit", slog.String("user_id", userID), slog.Int("count", n))

	rej := reject(errs.ErrRateLimited, fmt.Sprintf(consts.RespRateLimited, svc.cfg.RateLimit))

	if oldest, err := svc.storer.OldestRecordSince(ctx, userID, since); err == nil {
		rej.RetryAfter = oldest.Add(svc.cfg.RateWindow)
	}

	return rej
}

func (svc *history) requeueUnfinished(ctx context.Context) {
	log := svc.log.With(slog.String("func", "requeueUnfinished"))

	records, err := svc.storer.UnfinishedRecords(ctx)
	if err != nil {
		log.ErrorContext(ctx, "list unfinished records", slog.Any("error", err))

		return
	}

	for _, rec := range records {
		select {
		case svc.queue <- rec:
		default:
			svc.markFailed(ctx, rec.ID, "interrupted")
		}
	}

	if len(records) > 0 {
		log.InfoContext(ctx, "unfinished records requeued", slog.Int("count", len(records)))
	}
}

func (svc *history) worker(ctx context.Context, workerID int) {
	defer svc.wg.Done()

	log := svc.log.With(slog.Int("worker_id", workerID))

	for {
		select {
		case rec := <-svc.queue:
			svc.processRecord(ctx, rec)
		case <-ctx.Done():
			svc.closed.Store(true)
			log.InfoContext(ctx, "got ctx done signal", slog.Any("error", ctx.Err()))

			return
		}
	}
}

func (svc *history) processRecord(ctx context.Context, rec entity.Record) {
	log := svc.log.With(slog.String("func", "processRecord"), slog.String("record_id", rec.ID))
	done := svc.metrics.RecordTimer()

	if err := svc.storer.UpdateRecordStatus(ctx, rec.ID, entity.RecordStatusProcessing, "", ""); err != nil {
		log.ErrorContext(ctx, "mark processing", slog.Any("error", err))
	}

	recCtx := ctx
	if svc.cfg.Timeout > 0 {
		var cancel context.CancelFunc

		recCtx, cancel = context.WithTimeout(ctx, svc.cfg.Timeout)
		defer cancel()
	}

	outputPath, err := svc.processor.Process(recCtx, rec)
	if err != nil {
		if ctx.Err() != nil {
			// shutting down, the record is picked up again on the next start
			done("interrupted")
			svc.resetPending(rec.ID)

			return
		}

		log.WarnContext(ctx, "record failed", slog.Any("error", err))
		done(string(entity.RecordStatusFailed))
		svc.markFailed(ctx, rec.ID, failureMessage(err))

		return
	}

	if err := svc.storer.UpdateRecordStatus(ctx, rec.ID, entity.RecordStatusCompleted, "", outputPath); err != nil {
		log.ErrorContext(ctx, "mark completed", slog.Any("error", err))
	}

	done(string(entity.RecordStatusCompleted))
	log.DebugContext(ctx, "record processed", slog.String("output_path", outputPath))
}

func (svc *history) markFailed(ctx context.Context, id, msg string) {
	if err := svc.storer.UpdateRecordStatus(ctx, id, entity.RecordStatusFailed, msg, ""); err != nil {
		svc.log.ErrorContext(ctx, "mark failed", slog.String("record_id", id), slog.Any("error", err))
	}
}

func (svc *history) resetPending(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := svc.storer.UpdateRecordStatus(ctx, id, entity.RecordStatusPending, "", ""); err != nil {
		svc.log.ErrorContext(ctx, "reset pending", slog.String("record_id", id), slog.Any("error", err))
	}
}

// failureMessage turns a processing error into text safe to store and show.
func failureMessage(err error) string {
	var failed *DownloadError

	switch {
	case errors.As(err, &failed):
		return failed.Message
	case errors.Is(err, context.DeadlineExceeded):
		return "download timed out"
	case errors.Is(err, errs.ErrBinaryNotFound):
		return "download tool is not installed"
	default:
		return "download failed"
	}
}
