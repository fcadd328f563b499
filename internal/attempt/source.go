package attempt

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"dvzoll/internal/config"
	"dvzoll/internal/entity"
	"dvzoll/internal/errs"
	"dvzoll/pkg/gen"
)

// Request is a validated submission.
type Request struct {
	URL        string
	Mode       entity.Mode
	Quality    string
	Platform   entity.Platform
	IsPlaylist bool
	// TrackCount sizes the simulated playlist, 0 uses the configured default.
	TrackCount int
	OutputDir  string
}

// Source emits the events of one attempt. Run returns when the attempt is
// finished or ctx is cancelled; every timer it creates is stopped before it returns.
type Source interface {
	Run(ctx context.Context, req Request, emit func(Event))
}

// Bridge is the external download tooling.
type Bridge interface {
	DownloadMedia(ctx context.Context, req entity.DownloadRequest, onProgress func(percent int)) (entity.DownloadResult, error)
	ListTracks(ctx context.Context, url string) ([]entity.TrackInfo, error)
}

// Stepper returns the next random progress increment.
type Stepper func() int

// RandomStepper draws uniformly from [lo, hi] using r, or the global source when r is nil.
func RandomStepper(r *rand.Rand, lo, hi int) Stepper {
	lo = max(lo, 1)
	hi = max(hi, lo)

	return func() int {
		if r == nil {
			return lo + rand.IntN(hi-lo+1)
		}

		return lo + r.IntN(hi-lo+1)
	}
}

// simulatedSingle walks fetching, downloading, converting and done on timers.
type simulatedSingle struct {
	timing config.Attempt
	step   Stepper
}

func (s simulatedSingle) Run(ctx context.Context, req Request, emit func(Event)) {
	if !sleep(ctx, s.timing.FetchDelay) {
		return
	}

	emit(Fetched{Filename: mockFilename(req)})

	ticker := time.NewTicker(s.timing.TickInterval)
	defer ticker.Stop()

	for progress := 0; progress < 100; {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			progress = min(100, progress+s.step())
			emit(Progressed{Percent: progress})
		}
	}

	ticker.Stop()
	emit(Converting{})

	if !sleep(ctx, s.timing.ConvertDelay) {
		return
	}

	emit(Completed{})
}

// simulatedPlaylist advances mock tracks one at a time.
type simulatedPlaylist struct {
	timing config.Attempt
	step   Stepper
}

func (s simulatedPlaylist) Run(ctx context.Context, req Request, emit func(Event)) {
	n := req.TrackCount
	if n <= 0 {
		n = s.timing.PlaylistTracks
	}

	tracks := make([]entity.Track, n)
	for i := range tracks {
		tracks[i] = entity.Track{
			ID:    gen.UUIDv5(req.URL, strconv.Itoa(i)),
			Title: "Track " + strconv.Itoa(i+1),
		}
	}

	emit(TracksResolved{Tracks: tracks})

	ticker := time.NewTicker(s.timing.PlaylistTickInterval)
	defer ticker.Stop()

	cur, progress := 0, 0
	for cur < n {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			progress = min(100, progress+s.step())
			emit(TrackProgressed{Index: cur, Percent: progress})

			if progress == 100 {
				emit(TrackFinished{Index: cur})
				cur, progress = cur+1, 0
			}
		}
	}
}

// sleep waits d unless ctx ends first; the timer never outlives the call.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func mockFilename(req Request) string {
	ext := "mp4"
	if req.Mode == entity.ModeAudio {
		ext = "mp3"
	}

	return fmt.Sprintf("%s_%s.%s", req.Platform, gen.UUIDv5(req.URL)[:8], ext)
}

// bridgeSingle hands the whole attempt to the bridge and maps its outcome.
type bridgeSingle struct {
	bridge Bridge
}

func (s bridgeSingle) Run(ctx context.Context, req Request, emit func(Event)) {
	res, err := s.bridge.DownloadMedia(ctx, downloadRequest(req), func(percent int) {
		emit(Progressed{Percent: percent})
	})
	if ctx.Err() != nil {
		return
	}

	if msg, failed := failure(res, err); failed {
		emit(Failed{Message: msg})

		return
	}

	emit(Completed{OutputPath: res.OutputPath})
}

// bridgePlaylist lists the entries, then downloads them one by one.
// A failing entry is marked and skipped.
type bridgePlaylist struct {
	bridge Bridge
}

func (s bridgePlaylist) Run(ctx context.Context, req Request, emit func(Event)) {
	infos, err := s.bridge.ListTracks(ctx, req.URL)
	if ctx.Err() != nil {
		return
	}

	if err == nil && len(infos) == 0 {
		err = errs.ErrNoTracks
	}

	if err != nil {
		emit(Failed{Message: userMessage(err)})

		return
	}

	tracks := make([]entity.Track, len(infos))
	for i, info := range infos {
		id := info.ID
		if id == "" {
			id = gen.UUIDv5(req.URL, strconv.Itoa(i))
		}

		tracks[i] = entity.Track{ID: id, Title: info.Title, URL: info.URL}
	}

	emit(TracksResolved{Tracks: tracks})

	for i, tr := range tracks {
		item := downloadRequest(req)
		item.URL = tr.URL
		item.IsPlaylist = false

		res, err := s.bridge.DownloadMedia(ctx, item, func(percent int) {
			emit(TrackProgressed{Index: i, Percent: percent})
		})
		if ctx.Err() != nil {
			return
		}

		if msg, failed := failure(res, err); failed {
			emit(TrackFailed{Index: i, Message: msg})

			continue
		}

		emit(TrackFinished{Index: i})
	}
}

func downloadRequest(req Request) entity.DownloadRequest {
	return entity.DownloadRequest{
		URL:        req.URL,
		Mode:       req.Mode,
		Quality:    req.Quality,
		Platform:   req.Platform,
		IsPlaylist: req.IsPlaylist,
		OutputDir:  req.OutputDir,
	}
}

func failure(res entity.DownloadResult, err error) (string, bool) {
	if err != nil {
		return userMessage(err), true
	}

	if !res.Success {
		if res.Message == "" {
			return errs.ErrDownloadFailed.Error(), true
		}

		return res.Message, true
	}

	return "", false
}

// userMessage keeps the bridge's message but hides wrapped internals of unknown errors.
func userMessage(err error) string {
	switch {
	case errors.Is(err, errs.ErrBinaryNotFound):
		return "download tool is not installed"
	case errors.Is(err, errs.ErrNoTracks):
		return errs.ErrNoTracks.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "download timed out"
	default:
		return err.Error()
	}
}
