package httprouter

import (
	"log/slog"
	"net/http"
	"time"

	"dvzoll/internal/entity"
	"dvzoll/internal/infrastructure/delivery/http/middleware"

	"github.com/gorilla/websocket"
)

const (
	streamBuffer    = 16
	streamWriteWait = 5 * time.Second
	streamPongWait  = 60 * time.Second
	streamPingEvery = streamPongWait * 9 / 10
)

func (r *Router) upgrader() *websocket.Upgrader {
	origins := r.deps.CORSOrigins

	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return middleware.OriginAllowed(origins, req.Header.Get("Origin"))
		},
	}
}

// StreamAttempt pushes every attempt snapshot to a websocket client, starting
// with the current one. A slow client loses intermediate snapshots, never the latest.
func (r *Router) StreamAttempt(w http.ResponseWriter, req *http.Request) {
	log := r.log.With(slog.String("func", "StreamAttempt"))

	conn, err := r.upgrader().Upgrade(w, req, nil)
	if err != nil {
		log.DebugContext(req.Context(), "upgrade", slog.Any("error", err))

		return
	}
	defer conn.Close()

	updates := make(chan entity.Attempt, streamBuffer)

	unsubscribe := r.deps.Attempts.Subscribe(func(a entity.Attempt) {
		for {
			select {
			case updates <- a:
				return
			default:
			}

			select {
			case <-updates:
			default:
			}
		}
	})
	defer unsubscribe()

	// taken after subscribing, so queued snapshots older than it are skipped
	current := r.deps.Attempts.Snapshot()

	if err := writeSnapshot(conn, current); err != nil {
		return
	}

	closed := make(chan struct{})

	go func() {
		defer close(closed)

		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})

		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-req.Context().Done():
			return
		case a := <-updates:
			if a.UpdatedAt.Before(current.UpdatedAt) {
				continue
			}

			current = a

			if err := writeSnapshot(conn, a); err != nil {
				log.DebugContext(req.Context(), "write snapshot", slog.Any("error", err))

				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

func writeSnapshot(conn *websocket.Conn, a entity.Attempt) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))

	return conn.WriteJSON(a)
}
