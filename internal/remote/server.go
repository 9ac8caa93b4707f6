// Package remote serves the playback state over a websocket so a mini
// player running elsewhere (a browser tab, a phone on the LAN) can follow
// and drive the local engine.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jfmyers9/newsreel/internal/control"
	"github.com/jfmyers9/newsreel/internal/playback"
)

const (
	writeTimeout    = 10 * time.Second
	statusTimeout   = 5 * time.Second
	shutdownTimeout = 5 * time.Second
	outboxSize      = 16
)

// Engine is the part of the playback engine a remote player needs
type Engine interface {
	Submit(cmd playback.Command)
	Snapshot(ctx context.Context) (playback.Snapshot, error)
	Subscribe(fn func(playback.Snapshot)) *playback.Subscription
	Unsubscribe(sub *playback.Subscription)
}

// Server bridges websocket clients to the engine. Each connection is its
// own subscriber; messages out are control.Status JSON, messages in are
// control.Request JSON.
type Server struct {
	engine   Engine
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a Server for engine
func NewServer(engine Engine, logger zerolog.Logger) *Server {
	return &Server{
		engine: engine,
		logger: logger.With().Str("component", "remote").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes: GET /status and the /ws websocket
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Remote player server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("remote server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("remote server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("remote server: %w", err)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), statusTimeout)
	defer cancel()

	snap, err := s.engine.Snapshot(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(control.StatusFromSnapshot(snap)); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write status")
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	outbox := make(chan control.Status, outboxSize)
	sub := s.engine.Subscribe(func(snap playback.Snapshot) {
		select {
		case outbox <- control.StatusFromSnapshot(snap):
		default:
			// Client is behind; the next transition or resync catches it up
		}
	})
	defer s.engine.Unsubscribe(sub)

	s.logger.Info().Str("remote", r.RemoteAddr).Str("subscription", sub.ID()).Msg("Remote player connected")
	s.engine.Submit(playback.Resync())

	// Reader: commands in, until the client goes away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			var req control.Request
			if err := conn.ReadJSON(&req); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Debug().Err(err).Msg("Remote player read failed")
				}
				return
			}
			s.apply(req)
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			s.logger.Info().Str("remote", r.RemoteAddr).Msg("Remote player disconnected")
			return
		case st := <-outbox:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(st); err != nil {
				s.logger.Debug().Err(err).Msg("Remote player write failed")
				return
			}
		}
	}
}

// apply submits a remote command. Status requests just resync the client.
func (s *Server) apply(req control.Request) {
	cmd, ok, err := control.ToCommand(req)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Ignoring remote command")
		return
	}
	if !ok {
		cmd = playback.Resync()
	}
	s.engine.Submit(cmd)
}
