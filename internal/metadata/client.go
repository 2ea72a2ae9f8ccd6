// Package metadata looks up track details from the DJ software's local API.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/famish99/os2lbridge/internal/timeouts"
)

const (
	// DefaultBaseURL is where the local API listens
	DefaultBaseURL = "http://127.0.0.1:30001"
	// UserAgent is the agent string the API expects from its own client
	UserAgent = "rekordbox/6.8.4.0001 Windows 11(64bit)"

	DefaultCacheSize = 256
)

// ErrNotFound means the API has no record of the requested track
var ErrNotFound = errors.New("track not found")

// Track is the subset of a content record the bridge needs
type Track struct {
	Path  string
	Title string
}

// Client performs lookups over HTTP. Successful results are cached by id.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *lru.Cache
	tracer  trace.Tracer
	logger  *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout. Non-positive values keep the
// default; lookups are never unbounded.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for baseURL with an LRU of cacheSize entries.
// A cacheSize <= 0 uses DefaultCacheSize.
func NewClient(baseURL string, cacheSize int, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup cache: %w", err)
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeouts.MetadataRequest},
		cache:   cache,
		tracer:  otel.Tracer("github.com/famish99/os2lbridge/internal/metadata"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// LookupTrack fetches the path and title of track id using the bearer token
func (c *Client) LookupTrack(ctx context.Context, id int32, token string) (Track, error) {
	if v, ok := c.cache.Get(id); ok {
		return v.(Track), nil
	}

	ctx, span := c.tracer.Start(ctx, "metadata.LookupTrack",
		trace.WithAttributes(attribute.Int("track.id", int(id))))
	defer span.End()

	track, err := c.fetch(ctx, id, token)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return Track{}, err
	}

	c.cache.Add(id, track)
	c.logger.Debug("track resolved", "track_id", id, "path", track.Path)
	return track, nil
}

func (c *Client) fetch(ctx context.Context, id int32, token string) (Track, error) {
	url := fmt.Sprintf("%s/api/v1/data/djmdContents/%d/", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Track{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return Track{}, fmt.Errorf("failed to query track %d: %w", id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Track{}, fmt.Errorf("failed to read track %d: %w", id, err)
	}

	if resp.StatusCode == http.StatusNotFound || gjson.GetBytes(body, "code").Int() == http.StatusNotFound {
		return Track{}, fmt.Errorf("track %d: %w", id, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return Track{}, fmt.Errorf("track %d: unexpected status %s", id, resp.Status)
	}

	item := gjson.GetBytes(body, "item")
	path := item.Get("FolderPath")
	if !path.Exists() {
		return Track{}, fmt.Errorf("track %d: response has no item.FolderPath", id)
	}
	return Track{
		Path:  path.String(),
		Title: item.Get("FileNameL").String(),
	}, nil
}

// Purge drops every cached result
func (c *Client) Purge() {
	c.cache.Purge()
}
