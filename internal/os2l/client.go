package os2l

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/famish99/os2lbridge/internal/timeouts"
)

// ErrNotConnected is returned by sends while no session is up
var ErrNotConnected = errors.New("not connected")

// Client keeps a session to one receiver alive. A lost session is
// re-established in the background; sends made meanwhile fail fast.
type Client struct {
	addr      string
	mu        sync.Mutex
	connected bool
	session   *Session

	reconnecting bool
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup

	logger       *slog.Logger
	sleep        func(time.Duration)
	connectLimit time.Duration
	onConnect    func()
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithClientLogger sets the logger
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithConnectLimit caps how long a single Connect keeps retrying
func WithConnectLimit(d time.Duration) ClientOption {
	return func(c *Client) { c.connectLimit = d }
}

// WithOnConnect registers a callback run after every successful handshake,
// including reconnects. It runs without the client lock held.
func WithOnConnect(fn func()) ClientOption {
	return func(c *Client) { c.onConnect = fn }
}

// NewClient creates a client for addr (host:port)
func NewClient(addr string, opts ...ClientOption) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		addr:         addr,
		ctx:          ctx,
		cancel:       cancel,
		logger:       slog.Default(),
		sleep:        time.Sleep,
		connectLimit: timeouts.PeerReconnect,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Addr returns the receiver address
func (c *Client) Addr() string {
	return c.addr
}

// Connect dials and handshakes, retrying with exponential backoff
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.connect(ctx, c.connectLimit)
}

func (c *Client) connect(ctx context.Context, limit time.Duration) error {
	op := func() (*Session, error) {
		s, err := Dial(ctx, c.addr, c.logger)
		if err != nil {
			return nil, err
		}
		if err := s.Handshake(c.sleep); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	}

	s, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(limit),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("os2l connect failed, retrying", "addr", c.addr, "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.addr, err)
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		s.Close()
		return ErrNotConnected
	}
	c.session = s
	c.connected = true
	c.reconnecting = false
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info("os2l connected", "addr", c.addr)
	go c.watch(s)

	if c.onConnect != nil {
		c.onConnect()
	}
	return nil
}

// watch reconnects when s ends without Close being called
func (c *Client) watch(s *Session) {
	defer c.wg.Done()
	select {
	case <-s.Done():
		c.lost(s, errors.New("receiver closed the connection"))
	case <-c.ctx.Done():
	}
}

// lost marks s as gone and starts a background reconnect
func (c *Client) lost(s *Session, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != s || c.ctx.Err() != nil {
		return
	}
	c.connected = false
	c.session = nil
	s.Close()
	c.logger.Warn("os2l connection lost", "addr", c.addr, "error", cause)

	if c.reconnecting {
		return
	}
	c.reconnecting = true
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		// no elapsed limit: retry until the client is closed
		if err := c.connect(c.ctx, 0); err != nil {
			c.mu.Lock()
			c.reconnecting = false
			c.mu.Unlock()
			if c.ctx.Err() == nil {
				c.logger.Error("os2l reconnect gave up", "addr", c.addr, "error", err)
			}
		}
	}()
}

// Send writes msg to the current session
func (c *Client) Send(msg Message) error {
	c.mu.Lock()
	s := c.session
	connected := c.connected
	c.mu.Unlock()

	if !connected || s == nil {
		return ErrNotConnected
	}
	if err := s.Send(msg); err != nil {
		c.lost(s, err)
		return err
	}
	return nil
}

// Connected reports whether a session is up
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close stops reconnecting and closes the session
func (c *Client) Close() error {
	c.cancel()

	c.mu.Lock()
	s := c.session
	c.session = nil
	c.connected = false
	c.mu.Unlock()

	if s != nil {
		s.Close()
	}
	c.wg.Wait()
	return nil
}
