package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/disaster-coordination-service/internal/domain"
	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/gorilla/websocket"
)

const (
	seqHeader      = "X-Store-Seq"
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
	readTimeout    = 90 * time.Second
	writeWait      = 10 * time.Second
)

var errGap = errors.New("event sequence gap")

// Change describes one update to the mirror. Resync is set after a full
// refetch; otherwise Event is the event that was applied.
type Change struct {
	Resync bool
	Seq    uint64
	Event  domain.Event
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithOnChange registers fn to run after every change to the mirror. fn runs
// on the client's goroutine and must not block for long.
func WithOnChange(fn func(Change)) Option {
	return func(c *Client) { c.onChange = fn }
}

// WithHTTPClient overrides the client used for list fetches.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client keeps a Mirror converged with a coordination server.
type Client struct {
	baseURL    string
	token      string
	mirror     *Mirror
	httpClient *http.Client
	dialer     *websocket.Dialer
	onChange   func(Change)
	logger     *slog.Logger
}

// NewClient creates a Client for the server at baseURL (http or https).
func NewClient(baseURL string, m *Mirror, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		mirror:     m,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		onChange:   func(Change) {},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mirror returns the mirror the client maintains.
func (c *Client) Mirror() *Mirror { return c.mirror }

// Run synchronizes the mirror until ctx is cancelled. Each session subscribes
// to the event stream first and then fetches the full list, so no event
// committed after the fetch can be missed. When the stream ends or a gap is
// detected the client reconnects with backoff and refetches.
func (c *Client) Run(ctx context.Context) error {
	if _, err := c.streamURL(); err != nil {
		return err
	}

	backoff := initialBackoff
	for {
		synced, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if synced {
			backoff = initialBackoff
		}
		c.logger.Warn("mirror out of sync, reconnecting", "error", err, "backoff", backoff)
		if !retry.SleepWithContext(ctx, backoff) {
			return nil
		}
		backoff = retry.NextBackoff(backoff, maxBackoff)
	}
}

// session runs one connect, fetch, apply cycle. synced reports whether the
// mirror was reset from a fresh fetch before the session ended.
func (c *Client) session(ctx context.Context) (synced bool, err error) {
	wsURL, err := c.streamURL()
	if err != nil {
		return false, err
	}
	conn, _, err := c.dialer.DialContext(ctx, wsURL, c.authHeader())
	if err != nil {
		return false, fmt.Errorf("dial event stream: %w", err)
	}
	defer func() { _ = conn.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	records, seq, err := c.fetch(ctx)
	if err != nil {
		return false, err
	}
	c.mirror.Reset(records, seq)
	c.logger.Info("mirror synchronized", "records", len(records), "seq", seq)
	c.onChange(Change{Resync: true, Seq: seq})

	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		var ev domain.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return true, fmt.Errorf("read event: %w", err)
		}
		applied, gap := c.mirror.Apply(ev)
		if applied {
			c.onChange(Change{Seq: ev.Seq, Event: ev})
		}
		if gap {
			return true, fmt.Errorf("%w at seq %d", errGap, ev.Seq)
		}
	}
}

// fetch lists every record together with the sequence number it reflects.
func (c *Client) fetch(ctx context.Context) ([]domain.Disaster, uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/disasters", nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build list request: %w", err)
	}
	for k, v := range c.authHeader() {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("list disasters: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
		return nil, 0, fmt.Errorf("list disasters: status %d: %s", resp.StatusCode, body.Error)
	}

	seq, err := strconv.ParseUint(resp.Header.Get(seqHeader), 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("list disasters: bad %s header: %w", seqHeader, err)
	}
	var records []domain.Disaster
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, 0, fmt.Errorf("decode disasters: %w", err)
	}
	return records, seq, nil
}

func (c *Client) streamURL() (string, error) {
	u, err := url.Parse(c.baseURL + "/ws")
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	return u.String(), nil
}

func (c *Client) authHeader() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}
