package os2l

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/famish99/os2lbridge/internal/timeouts"
)

// Session is one TCP connection to an OS2L receiver
type Session struct {
	conn      net.Conn
	mu        sync.Mutex
	connected bool
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// Dial opens a session to addr (host:port)
func Dial(ctx context.Context, addr string, logger *slog.Logger) (*Session, error) {
	d := net.Dialer{Timeout: timeouts.PeerDial}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return NewSession(conn, logger), nil
}

// NewSession wraps an established connection and starts draining whatever
// the receiver sends back.
func NewSession(conn net.Conn, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		conn:      conn,
		connected: true,
		done:      make(chan struct{}),
		logger:    logger,
	}
	go s.readLoop()
	return s
}

// readLoop logs incoming messages; the receiver closing the stream ends the
// session.
func (s *Session) readLoop() {
	defer s.Close()

	scanner := bufio.NewScanner(s.conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := Decode(line)
		if err != nil {
			s.logger.Debug("ignoring message from receiver", "line", string(line), "error", err)
			continue
		}
		s.logger.Debug("message from receiver", "event", msg.Event(), "message", msg)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Debug("receiver stream ended", "error", err)
	}
}

// Send writes one message
func (s *Session) Send(msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return ErrNotConnected
	}
	if _, err := s.conn.Write(data); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Event(), err)
	}
	return nil
}

// Handshake sends the subscription sequence. sleep is called for each pause
// between groups.
func (s *Session) Handshake(sleep func(time.Duration)) error {
	for _, group := range handshake() {
		for _, msg := range group.messages {
			if err := s.Send(msg); err != nil {
				return fmt.Errorf("handshake: %w", err)
			}
		}
		sleep(group.pause)
	}
	return nil
}

// Done is closed once the session has ended for any reason
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close closes the session and releases resources
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.connected = false
		s.conn.Close()
		s.mu.Unlock()
		close(s.done)
	})
}
