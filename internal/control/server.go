package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jfmyers9/newsreel/internal/frame"
	"github.com/jfmyers9/newsreel/internal/playback"
)

// SocketName is the control socket's file name inside the data directory
const SocketName = "newsreel.sock"

const replyTimeout = 5 * time.Second

// Engine is the part of the playback engine the server drives
type Engine interface {
	Submit(cmd playback.Command)
	Snapshot(ctx context.Context) (playback.Snapshot, error)
}

// Server answers control requests on a unix socket
type Server struct {
	engine Engine
	logger zerolog.Logger

	wg sync.WaitGroup
}

// NewServer creates a Server for engine
func NewServer(engine Engine, logger zerolog.Logger) *Server {
	return &Server{
		engine: engine,
		logger: logger.With().Str("component", "control").Logger(),
	}
}

// SocketPath returns the control socket path for a data directory
func SocketPath(dataDir string) string {
	return filepath.Join(dataDir, SocketName)
}

// ListenAndServe listens on the unix socket at path and serves until ctx
// is cancelled. A stale socket file left by a crashed player is replaced.
func (s *Server) ListenAndServe(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	if conn, err := net.DialTimeout("unix", path, time.Second); err == nil {
		_ = conn.Close()
		return fmt.Errorf("another player is listening on %s", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	defer func() { _ = os.Remove(path) }()

	s.logger.Info().Str("socket", path).Msg("Control socket listening")
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes ln
// and waits for open connections to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(ctx, conn)
		}()
	}
}

// ServeConn answers requests on conn until the peer closes it or sends a
// close frame.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		op, payload, err := frame.Read(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.logger.Debug().Err(err).Msg("Control connection read failed")
			}
			return
		}

		switch op {
		case opClose:
			return
		case opRequest:
			reply := s.handle(ctx, payload)
			data, err := json.Marshal(reply)
			if err != nil {
				s.logger.Warn().Err(err).Msg("Failed to encode reply")
				return
			}
			if err := frame.Write(conn, opReply, data); err != nil {
				s.logger.Debug().Err(err).Msg("Control connection write failed")
				return
			}
		default:
			s.logger.Warn().Uint32("op", op).Msg("Unknown control frame")
			return
		}
	}
}

// handle applies one request and returns the state after it
func (s *Server) handle(ctx context.Context, payload []byte) Reply {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return Reply{Error: fmt.Sprintf("invalid request: %v", err)}
	}
	reply := Reply{ID: req.ID}

	cmd, ok, err := ToCommand(req)
	if err != nil {
		reply.Error = err.Error()
		return reply
	}
	if ok {
		s.logger.Debug().Str("op", req.Op).Str("request", req.ID).Msg("Control request")
		s.engine.Submit(cmd)
	}

	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	snap, err := s.engine.Snapshot(ctx)
	if err != nil {
		reply.Error = err.Error()
		return reply
	}
	reply.Status = StatusFromSnapshot(snap)
	return reply
}
