package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
)

// Server owns the listener and spawns one Handler per accepted
// connection. Stop cancels every handler and waits for them to drain.
type Server struct {
	deps     Deps
	addr     string
	listener net.Listener
	running  atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	log      *slog.Logger
}

func NewServer(deps Deps, addr string) *Server {
	return &Server{deps: deps, addr: addr, log: deps.Log}
}

// Start binds the listener and begins accepting in a goroutine. It is an
// error to start an already running server.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running on %s", s.addr)
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.running.Store(true)

	ctx, s.cancel = context.WithCancel(ctx)
	s.log.Info("server started", slog.String("addr", listener.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ctx)
	}()
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop closes the listener, cancels every connection handler and waits
// for them to finish. Safe to call on a stopped server.
func (s *Server) Stop() {
	if !s.running.Swap(false) {
		return
	}
	_ = s.listener.Close()
	s.cancel()
	s.wg.Wait()
	s.log.Info("server stopped")
}

func (s *Server) acceptLoop(ctx context.Context) {
	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			s.log.Error("accept failed", slog.Any("error", err))
			continue
		}

		s.log.Debug("connection accepted", slog.String("remote", conn.RemoteAddr().String()))
		handler := NewHandler(s.deps, conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			handler.Run(ctx)
		}()
	}
}
