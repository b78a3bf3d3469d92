// Package server exposes the session over HTTP: a WebSocket feed of
// snapshots that also accepts control commands, Prometheus metrics and a
// health check.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/petems/loudkeep/internal/app"
	"github.com/petems/loudkeep/internal/audio"
	"github.com/petems/loudkeep/internal/session"
)

// Controller is the part of the app the server drives. *app.App satisfies it.
type Controller interface {
	Dispatch(ctx context.Context, cmd app.Command) app.Reply
	Subscribe(buffer int) (<-chan session.Snapshot, func())
	Snapshot() session.Snapshot
	Devices() []audio.DeviceDescriptor
}

// Message is one frame sent to WebSocket clients.
type Message struct {
	Type     string            `json:"type"`
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
	Reply    *app.Reply        `json:"reply,omitempty"`
}

type Server struct {
	ctrl     Controller
	metrics  http.Handler
	upgrader *websocket.Upgrader
	log      zerolog.Logger
}

// New creates a server. metrics may be nil, in which case /metrics is not served.
func New(ctrl Controller, metrics http.Handler, log zerolog.Logger) *Server {
	return &Server{
		ctrl:     ctrl,
		metrics:  metrics,
		upgrader: newUpgrader(log),
		log:      log,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /devices", s.handleDevices)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.ctrl.Snapshot()
	writeJSON(w, map[string]any{
		"status":    "ok",
		"recording": snap.Recording,
		"saved":     snap.Saved,
		"discarded": snap.Discarded,
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.ctrl.Devices())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// handleWebSocket streams snapshots and answers commands on one connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	// Only the writer goroutine writes to the connection.
	send := make(chan Message, 16)
	done := make(chan struct{})

	go s.runWriter(conn, send)
	go s.runReader(r.Context(), conn, send, done)
	s.runEventLoop(send, done)
}

func (s *Server) runWriter(conn *websocket.Conn, send <-chan Message) {
	defer func() {
		if err := conn.Close(); err != nil {
			s.log.Debug().Err(err).Msg("WebSocket close error")
		}
	}()
	for msg := range send {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (s *Server) runReader(ctx context.Context, conn *websocket.Conn, send chan<- Message, done chan<- struct{}) {
	defer close(done)

	for {
		var cmd app.Command
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		s.log.Debug().Str("command", cmd.Command).Msg("WebSocket command")

		reply := s.ctrl.Dispatch(context.WithoutCancel(ctx), cmd)
		select {
		case send <- Message{Type: "reply", Reply: &reply}:
		default:
			s.log.Warn().Str("command", cmd.Command).Msg("WebSocket client too slow, reply dropped")
		}
	}
}

// runEventLoop forwards snapshots until the reader finishes, then closes send.
func (s *Server) runEventLoop(send chan Message, done <-chan struct{}) {
	defer close(send)

	snaps, unsubscribe := s.ctrl.Subscribe(8)
	defer unsubscribe()

	for {
		select {
		case <-done:
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			select {
			case send <- Message{Type: "snapshot", Snapshot: &snap}:
			case <-done:
				return
			}
		}
	}
}
