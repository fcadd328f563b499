// Package httprouter wires the HTTP API of the daemon.
package httprouter

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"dvzoll/internal/attempt"
	"dvzoll/internal/consts"
	"dvzoll/internal/entity"
	"dvzoll/internal/infrastructure/delivery/http/middleware"
	"dvzoll/internal/metadata"
	"dvzoll/internal/observability"
	"dvzoll/internal/service"
	"dvzoll/internal/settings"
)

// AttemptController is the part of attempt.Controller the API drives.
type AttemptController interface {
	Submit(ctx context.Context, req attempt.Request) (entity.Attempt, error)
	Restart(ctx context.Context, req attempt.Request) (entity.Attempt, error)
	Cancel() entity.Attempt
	Snapshot() entity.Attempt
	Subscribe(fn func(entity.Attempt)) (unsubscribe func())
}

// SettingsStore reads and patches the user settings.
type SettingsStore interface {
	Get() settings.Settings
	Update(p settings.Patch) settings.Settings
}

// ToolChecker reports which external tools are usable.
type ToolChecker interface {
	CheckToolsInstalled(ctx context.Context) entity.ToolStatus
}

// Deps are the components behind the routes.
type Deps struct {
	Attempts    AttemptController
	Settings    SettingsStore
	History     service.History
	Metadata    *metadata.Service
	Tools       ToolChecker
	Metrics     *observability.Metrics
	AuthTokens  map[string]string
	CORSOrigins []string
	// HandlerTimeout bounds the handlers that reach storage or the network.
	HandlerTimeout time.Duration
}

type Router struct {
	*http.ServeMux

	log         *slog.Logger
	deps        Deps
	globalChain []func(http.Handler) http.Handler
	routeChain  []func(http.Handler) http.Handler
	isSubRouter bool
}

func New(log *slog.Logger, deps Deps) *Router {
	r := &Router{
		ServeMux: http.NewServeMux(),
		log:      log.With(slog.String("package", "httprouter")),
		deps:     deps,
	}

	r.SetGlobalMiddlewares()
	r.SetRoutes()

	return r
}

func (r *Router) Use(middleware ...func(http.Handler) http.Handler) {
	if r.isSubRouter {
		r.routeChain = append(r.routeChain, middleware...)
	} else {
		r.globalChain = append(r.globalChain, middleware...)
	}
}

func (r *Router) Group(fn func(r *Router)) {
	subRouter := &Router{
		isSubRouter: true,
		routeChain:  slices.Clone(r.routeChain),
		ServeMux:    r.ServeMux,
		log:         r.log,
		deps:        r.deps,
	}

	fn(subRouter)
}

func (r *Router) HandleFunc(pattern string, h http.HandlerFunc) {
	r.Handle(pattern, h)
}

func (r *Router) Handle(pattern string, h http.Handler) {
	for _, middleware := range slices.Backward(r.routeChain) {
		h = middleware(h)
	}

	r.ServeMux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var h http.Handler = r.ServeMux

	for _, middleware := range slices.Backward(r.globalChain) {
		h = middleware(h)
	}

	h.ServeHTTP(w, req)
}

func (r *Router) timeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := r.deps.HandlerTimeout
	if timeout <= 0 {
		timeout = consts.DefaultHandlerTimeout
	}

	return context.WithTimeout(ctx, timeout)
}

func (r *Router) SetGlobalMiddlewares() {
	r.Use(
		middleware.Recoverer,
		middleware.RequestID,
		middleware.Logger,
		middleware.Metrics(r.deps.Metrics),
		middleware.CORS(r.deps.CORSOrigins),
	)
}

func (r *Router) SetRoutes() {
	r.SetRoutesHealthcheck()
	r.SetRoutesMetadata()
	r.SetRoutesHistory()
	r.SetRoutesSettings()
	r.SetRoutesAttempt()
}

func (r *Router) SetRoutesHealthcheck() {
	healthcheckRouter := &Router{
		ServeMux: http.NewServeMux(),
	}
	healthcheckRouter.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/v1/", http.StripPrefix("/v1", healthcheckRouter))

	if r.deps.Metrics != nil {
		r.Handle("GET /metrics", r.deps.Metrics.Handler())
	}
}

func (r *Router) SetRoutesMetadata() {
	r.HandleFunc("POST /v1/download", r.Download)
	r.HandleFunc("GET /v1/classify", r.Classify)
}

func (r *Router) SetRoutesHistory() {
	r.Group(func(r *Router) {
		r.Use(middleware.Auth(r.deps.AuthTokens))

		r.HandleFunc("POST /v1/history", r.SubmitRecord)
		r.HandleFunc("GET /v1/history", r.ListHistory)
	})
}

func (r *Router) SetRoutesSettings() {
	r.HandleFunc("GET /v1/settings", r.GetSettings)
	r.HandleFunc("PATCH /v1/settings", r.PatchSettings)
	r.HandleFunc("GET /v1/tools", r.GetTools)
}

func (r *Router) SetRoutesAttempt() {
	r.HandleFunc("POST /v1/attempt", r.SubmitAttempt)
	r.HandleFunc("GET /v1/attempt", r.GetAttempt)
	r.HandleFunc("DELETE /v1/attempt", r.CancelAttempt)
	r.HandleFunc("GET /v1/attempt/ws", r.StreamAttempt)
}
