// Package middleware holds the HTTP middlewares of the API.
package middleware

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"dvzoll/internal/consts"
	"dvzoll/internal/observability"

	"github.com/google/uuid"
	"github.com/vfaronov/httpheader"
)

type contextKey string

const (
	// RequestIDKey holds the request id in the request context.
	RequestIDKey contextKey = "requestID"
	// UserIDKey holds the authenticated user id in the request context.
	UserIDKey contextKey = "userID"
)

const (
	HeaderXRequestID = "X-Request-ID"
)

// RequestLog is the request summary written by Logger.
type RequestLog struct {
	Method        string `json:"method"`
	URI           string `json:"uri"`
	RemoteAddr    string `json:"remote_addr"`
	Proto         string `json:"proto"`
	ContentLength int64  `json:"content_length"`
}

// Recoverer turns a handler panic into a 500. http.ErrAbortHandler is re-panicked.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}

		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler { //nolint:errorlint,err113
					panic(rvr)
				}

				slog.ErrorContext(r.Context(), "handler panic", slog.Any("panic", rvr), slog.String("uri", r.RequestURI))

				if sw.status == 0 {
					w.WriteHeader(http.StatusInternalServerError)
				}
			}
		}()

		next.ServeHTTP(sw, r)
	})
}

func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(HeaderXRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), RequestIDKey, reqID)
		w.Header().Set(HeaderXRequestID, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.DebugContext(r.Context(), "http request",
			slog.Any("request", RequestLog{
				Method:        r.Method,
				URI:           r.RequestURI,
				RemoteAddr:    r.RemoteAddr,
				Proto:         r.Proto,
				ContentLength: r.ContentLength,
			}))
		next.ServeHTTP(w, r)
	})
}

// Metrics records every request by matched route pattern.
func Metrics(m *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}

			next.ServeHTTP(sw, r)

			pattern := r.Pattern
			if pattern == "" {
				pattern = "unmatched"
			}

			status := sw.status
			if status == 0 {
				status = http.StatusOK
			}

			m.RecordHTTPRequest(r.Method, pattern, status, time.Since(start))
		})
	}
}

// CORS answers preflight requests and sets the allow headers for the given
// origins. "*" allows any origin. Writes from an origin outside the list are
// refused with 403.
func CORS(origins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := OriginAllowed(origins, origin)
			if allowed {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", allowOrigin(origins, origin))
				h.Set("Access-Control-Allow-Headers", "authorization, content-type, x-request-id")
				h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				h.Add("Vary", "Origin")
			}

			if !allowed && !safeMethod(r.Method) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": consts.RespOriginForbidden})

				return
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// OriginAllowed reports whether origin is in origins. Requests without an
// Origin header are same-origin and always allowed.
func OriginAllowed(origins []string, origin string) bool {
	if origin == "" {
		return true
	}

	return slices.Contains(origins, "*") || slices.Contains(origins, origin)
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

func allowOrigin(origins []string, origin string) string {
	if slices.Contains(origins, "*") || origin == "" {
		return "*"
	}

	return origin
}

// Auth resolves the bearer token against tokens and stores the user id in the
// request context. Failures are answered with {"error": ...} and 401.
func Auth(tokens map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				unauthorized(w, consts.RespMissingAuth)

				return
			}

			auth := httpheader.Authorization(r.Header)
			if !strings.EqualFold(auth.Scheme, "Bearer") || auth.Token == "" {
				unauthorized(w, consts.RespUnauthorized)

				return
			}

			userID, ok := tokens[auth.Token]
			if !ok {
				slog.WarnContext(r.Context(), "unknown bearer token", slog.String("remote_addr", r.RemoteAddr))
				unauthorized(w, consts.RespUnauthorized)

				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), UserIDKey, userID)))
		})
	}
}

// UserID returns the user id stored by Auth.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserIDKey).(string)

	return id, ok && id != ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="dvzoll"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// statusWriter remembers the status code. It stays hijackable for websockets.
type statusWriter struct {
	http.ResponseWriter

	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}

	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}

	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

var errNotHijacker = errors.New("response writer does not support hijacking")

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errNotHijacker
	}

	w.status = http.StatusSwitchingProtocols

	return h.Hijack()
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
