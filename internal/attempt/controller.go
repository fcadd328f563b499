package attempt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"dvzoll/internal/config"
	"dvzoll/internal/entity"
	"dvzoll/internal/errs"
	"dvzoll/internal/observability"
	"dvzoll/internal/platform"
	"dvzoll/internal/settings"
	"dvzoll/pkg/gen"
	"dvzoll/pkg/urls"
)

const (
	kindSingle   = "single"
	kindPlaylist = "playlist"

	defaultMaxPlaylistTracks = 100

	sourceSimulated = "simulated"
	sourceBridge    = "bridge"
)

// Preferences is the part of the settings store the controller reads and updates.
type Preferences interface {
	Get() settings.Settings
	Update(p settings.Patch) settings.Settings
}

// Validate checks req and fills the derived fields. An empty quality selects
// the default of the mode. TrackCount must not exceed maxTracks.
func (r Request) Validate(maxTracks int) (Request, error) {
	r.URL = strings.TrimSpace(r.URL)
	if r.URL == "" || !urls.IsURLValid(r.URL) {
		return r, errs.ErrInvalidURL
	}

	if !r.Mode.Valid() {
		return r, errs.ErrInvalidMode
	}

	if r.Quality == "" {
		r.Quality = platform.DefaultQuality(r.Mode)
	}

	if !platform.ValidQuality(r.Mode, r.Quality) {
		return r, fmt.Errorf("%w: %q for %s", errs.ErrInvalidQuality, r.Quality, r.Mode)
	}

	det := platform.Detect(r.URL)
	if !det.SupportsMode(r.Mode) {
		return r, fmt.Errorf("%w: %s only supports %v", errs.ErrModeNotSupported, det.Platform, det.Modes)
	}

	if r.TrackCount > maxTracks {
		return r, fmt.Errorf("%w: %d is above %d", errs.ErrInvalidTrackCount, r.TrackCount, maxTracks)
	}

	r.Platform = det.Platform
	r.TrackCount = max(r.TrackCount, 0)

	return r, nil
}

// Option configures a Controller.
type Option func(*Controller)

// WithStepper replaces the random increment of the simulated sources.
func WithStepper(step Stepper) Option {
	return func(c *Controller) {
		c.step = step
	}
}

// WithBridge runs attempts through b instead of the simulated sources.
func WithBridge(b Bridge) Option {
	return func(c *Controller) {
		c.bridge = b
	}
}

// WithPreferences remembers the last selections in p and takes the default
// output directory from it.
func WithPreferences(p Preferences) Option {
	return func(c *Controller) {
		c.prefs = p
	}
}

// WithMetrics records attempt metrics in m.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// Controller owns at most one observable attempt at a time.
//
// Every attempt runs in its own goroutine and is tagged with a generation.
// Replacing or cancelling an attempt bumps the generation, cancels the goroutine
// and waits for it to exit, so late events of a replaced attempt never reach
// the snapshot.
type Controller struct {
	log     *slog.Logger
	timing  config.Attempt
	step    Stepper
	bridge  Bridge
	prefs   Preferences
	metrics *observability.Metrics

	// opMu serialises Submit, Restart, Cancel and Close.
	opMu sync.Mutex

	mu     sync.Mutex
	gen    uint64
	cur    entity.Attempt
	kind   string
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
	subs   map[int]func(entity.Attempt)
	nextID int
}

// New returns an idle controller.
func New(log *slog.Logger, timing config.Attempt, opts ...Option) *Controller {
	c := &Controller{
		log:    log.With(slog.String("package", "attempt")),
		timing: timing,
		cur:    entity.Attempt{Status: entity.AttemptStatusIdle},
		subs:   make(map[int]func(entity.Attempt)),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.step == nil {
		c.step = RandomStepper(nil, timing.MinStep, timing.MaxStep)
	}

	return c
}

// Submit starts a new attempt. It fails without touching the state when req is
// invalid or when an attempt is still running.
func (c *Controller) Submit(ctx context.Context, req Request) (entity.Attempt, error) {
	req, err := req.Validate(c.maxTracks())
	if err != nil {
		return entity.Attempt{}, err
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	closed, busy := c.closed, c.cur.Status.Busy()
	c.mu.Unlock()

	switch {
	case closed:
		return entity.Attempt{}, errs.ErrServiceClosed
	case busy:
		return entity.Attempt{}, errs.ErrAttemptInProgress
	}

	c.stop()

	return c.start(ctx, req), nil
}

func (c *Controller) maxTracks() int {
	if c.timing.MaxPlaylistTracks > 0 {
		return c.timing.MaxPlaylistTracks
	}

	return defaultMaxPlaylistTracks
}

// Restart cancels the running attempt, if any, and starts req in its place.
func (c *Controller) Restart(ctx context.Context, req Request) (entity.Attempt, error) {
	req, err := req.Validate(c.maxTracks())
	if err != nil {
		return entity.Attempt{}, err
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.isClosed() {
		return entity.Attempt{}, errs.ErrServiceClosed
	}

	c.stop()

	return c.start(ctx, req), nil
}

// Cancel tears the current attempt down and returns the controller to idle.
func (c *Controller) Cancel() entity.Attempt {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cur = entity.Attempt{Status: entity.AttemptStatusIdle, UpdatedAt: time.Now()}
	c.publishLocked()

	return c.cur.Clone()
}

// Close cancels the current attempt and rejects further submissions.
func (c *Controller) Close() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.stop()
}

// Snapshot returns a copy of the current attempt.
func (c *Controller) Snapshot() entity.Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cur.Clone()
}

// Subscribe registers fn for every state change. fn runs under the controller
// lock in event order and must not block or call back into the controller.
func (c *Controller) Subscribe(fn func(entity.Attempt)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.subs[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		delete(c.subs, id)
	}
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

// stop invalidates the current generation, cancels its goroutine and waits for it.
// Must be called with opMu held.
func (c *Controller) stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.gen++

	if c.cur.Status.Busy() {
		c.metrics.RecordAttemptAbandoned()
		c.log.Info("attempt cancelled", slog.Any("attempt", c.cur))
	}
	c.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}

// start launches req as a new generation. Must be called with opMu held.
func (c *Controller) start(ctx context.Context, req Request) entity.Attempt {
	if req.OutputDir == "" && c.prefs != nil {
		req.OutputDir = c.prefs.Get().DownloadDirectory
	}

	src, kind, source := c.source(req)

	// the attempt outlives the request that submitted it
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	c.mu.Lock()
	now := time.Now()
	c.cur = entity.Attempt{
		ID:         gen.ID(),
		URL:        req.URL,
		Mode:       req.Mode,
		Quality:    req.Quality,
		Platform:   req.Platform,
		IsPlaylist: req.IsPlaylist,
		Status:     entity.AttemptStatusFetching,
		StartedAt:  now,
		UpdatedAt:  now,
	}
	c.kind = kind
	c.cancel, c.done = cancel, done
	generation := c.gen
	c.publishLocked()
	snapshot := c.cur.Clone()
	c.mu.Unlock()

	c.metrics.RecordAttemptStarted(kind, source)
	c.log.Info("attempt started", slog.Any("attempt", snapshot), slog.String("source", source))

	go func() {
		defer close(done)

		src.Run(runCtx, req, func(ev Event) {
			c.apply(generation, ev)
		})
	}()

	if c.prefs != nil {
		c.prefs.Update(settings.Patch{
			LastSelectedMode:       &req.Mode,
			LastSelectedQuality:    &req.Quality,
			LastSelectedIsPlaylist: &req.IsPlaylist,
		})
	}

	return snapshot
}

func (c *Controller) source(req Request) (Source, string, string) {
	kind := kindSingle
	if req.IsPlaylist {
		kind = kindPlaylist
	}

	if c.bridge == nil || c.timing.Simulate {
		if req.IsPlaylist {
			return simulatedPlaylist{timing: c.timing, step: c.step}, kind, sourceSimulated
		}

		return simulatedSingle{timing: c.timing, step: c.step}, kind, sourceSimulated
	}

	if req.IsPlaylist {
		return bridgePlaylist{bridge: c.bridge}, kind, sourceBridge
	}

	return bridgeSingle{bridge: c.bridge}, kind, sourceBridge
}

// apply folds ev into the snapshot when it belongs to the current generation.
func (c *Controller) apply(generation uint64, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.gen {
		c.metrics.RecordStaleEvent()

		return
	}

	prev := c.cur
	c.cur = Reduce(prev, ev, time.Now())

	if !prev.Status.Terminal() && c.cur.Status.Terminal() {
		c.metrics.RecordAttemptFinished(c.kind, string(c.cur.Status), c.cur.UpdatedAt.Sub(c.cur.StartedAt))
		c.log.Info("attempt finished", slog.Any("attempt", c.cur))
	}

	c.publishLocked()
}

func (c *Controller) publishLocked() {
	for _, fn := range c.subs {
		fn(c.cur.Clone())
	}
}
