// Package control serves a small line protocol, modelled on MPD's, for
// inspecting and steering a running bridge.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/famish99/os2lbridge/internal/bridge"
)

// Bridge is the part of the polling loop the server drives
type Bridge interface {
	Query(ctx context.Context, cmd bridge.Command) (bridge.Status, error)
	SetNotify(fn func(subsystem string))
}

// Server implements the control protocol server
type Server struct {
	mu       sync.Mutex
	listener net.Listener
	bridge   Bridge
	addr     string
	version  string
	running  bool
	done     chan struct{}
	logger   *slog.Logger

	// Idle connection management
	idleMu    sync.RWMutex
	idleConns map[*idleConnection]bool
}

// NewServer creates a control server for b and registers it for idle
// notifications
func NewServer(addr string, b Bridge, version string) *Server {
	s := &Server{
		addr:      addr,
		bridge:    b,
		version:   version,
		done:      make(chan struct{}),
		logger:    slog.Default().With("component", "control"),
		idleConns: make(map[*idleConnection]bool),
	}
	b.SetNotify(s.NotifySubsystemChange)
	return s
}

// Start starts listening
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start control server: %w", err)
	}

	s.listener = listener
	s.running = true

	s.logger.Info("control server listening", "addr", listener.Addr())

	go s.acceptLoop()

	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop closes the listener and ends idle waits
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false
	close(s.done)
	return s.listener.Close()
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if !running {
				return
			}
			s.logger.Warn("accept error", "error", err)
			continue
		}

		go s.handleConnection(conn)
	}
}
