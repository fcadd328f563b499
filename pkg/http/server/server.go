package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultIdleTimeout       = 60 * time.Second
	defaultAddr              = ":80"
	defaultShutdownTimeout   = 3 * time.Second
)

type Server struct {
	server          *http.Server
	errCh           chan error
	shutdownTimeout time.Duration
}

type Options struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// New starts serving handler in the background. Listen and serve errors are
// reported on Notify.
func New(ctx context.Context, handler http.Handler, opt Options) *Server {
	addr := opt.Addr
	if addr == "" {
		addr = defaultAddr
	}

	shutdownTimeout := opt.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	// write timeout stays unset: the attempt websocket is long lived
	httpServer := &http.Server{
		Handler:           handler,
		Addr:              addr,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	srv := &Server{
		server:          httpServer,
		errCh:           make(chan error, 1),
		shutdownTimeout: shutdownTimeout,
	}

	go srv.start()

	return srv
}

func (s *Server) start() {
	err := s.server.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		s.errCh <- err
	}

	close(s.errCh)
}

// Notify is closed once the server stopped; it first yields the error if it failed.
func (s *Server) Notify() <-chan error {
	return s.errCh
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	return s.server.Shutdown(ctx)
}
