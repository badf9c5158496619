package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"prize-ledger/internal/domain"
	"prize-ledger/internal/observability"
)

// ErrClientClosed is returned by operations on a closed Client.
var ErrClientClosed = errors.New("client closed")

// Gap is a run of events the client never received because the hub no longer
// retained them when the client caught up.
type Gap struct {
	After uint64 // last seq delivered before the gap
	Next  uint64 // first seq delivered after it
}

// Missed returns the number of events in the gap.
func (g Gap) Missed() uint64 {
	return g.Next - g.After - 1
}

// ClientConfig configures Client behavior.
type ClientConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages. It must exceed the server's
	// ping interval.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// Buffer is the capacity of the Events channel.
	Buffer int
	// OnGap, when set, is called from the read loop for every gap.
	OnGap func(Gap)

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// DefaultClientConfig returns default Client configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       90 * time.Second,
		WriteTimeout:      10 * time.Second,
		Buffer:            1024,
	}
}

// Client subscribes to a Hub and reconnects with ?since=<last seq> so events
// are not repeated across reconnects. Events the hub no longer retains are
// reported as a Gap before the first event after them is delivered.
type Client struct {
	endpoint string
	config   ClientConfig
	clock    clockwork.Clock
	log      *slog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	lastSeq    atomic.Uint64
	reconnects atomic.Uint64
	gaps       atomic.Uint64
	missed     atomic.Uint64

	events chan domain.Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// Dial connects to endpoint and starts streaming events after since.
func Dial(ctx context.Context, endpoint string, since uint64, config *ClientConfig) (*Client, error) {
	cfg := DefaultClientConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}

	c := &Client{
		endpoint: endpoint,
		config:   cfg,
		clock:    cfg.Clock,
		log:      cfg.Logger,
		events:   make(chan domain.Event, cfg.Buffer),
		done:     make(chan struct{}),
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.log == nil {
		c.log = slog.New(slog.DiscardHandler)
	}
	c.log = c.log.With("component", "stream_client")
	c.lastSeq.Store(since)

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

// Events returns the event channel. It is closed after Close.
func (c *Client) Events() <-chan domain.Event {
	return c.events
}

// LastSeq returns the seq of the last delivered event.
func (c *Client) LastSeq() uint64 {
	return c.lastSeq.Load()
}

// Reconnects returns how many times the client reconnected.
func (c *Client) Reconnects() uint64 {
	return c.reconnects.Load()
}

// Gaps returns how many gaps the client saw.
func (c *Client) Gaps() uint64 {
	return c.gaps.Load()
}

// Missed returns how many events fell into gaps.
func (c *Client) Missed() uint64 {
	return c.missed.Load()
}

func (c *Client) streamURL() (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("since", strconv.FormatUint(c.lastSeq.Load(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// connect establishes WebSocket connection.
func (c *Client) connect(ctx context.Context) error {
	target, err := c.streamURL()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.closed.Load() {
		conn.Close()
		return ErrClientClosed
	}
	c.conn = conn
	return nil
}

// Close closes the connection and the Events channel.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	close(c.events)
	return nil
}

// readLoop reads events and reconnects with exponential backoff on failure.
func (c *Client) readLoop() {
	defer c.wg.Done()

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		_ = conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.log.Warn("stream read failed, reconnecting", "error", err)
			if !c.reconnect() {
				return
			}
			continue
		}

		var e domain.Event
		if err := json.Unmarshal(message, &e); err != nil {
			c.log.Warn("malformed event", "error", err)
			continue
		}
		// Replayed history may overlap what was already delivered.
		last := c.lastSeq.Load()
		if e.Seq <= last {
			continue
		}
		// With no position yet the first event starts the stream.
		if last > 0 && e.Seq > last+1 {
			c.reportGap(Gap{After: last, Next: e.Seq})
		}

		select {
		case c.events <- e:
			c.lastSeq.Store(e.Seq)
		case <-c.done:
			return
		}
	}
}

func (c *Client) reportGap(g Gap) {
	c.gaps.Add(1)
	c.missed.Add(g.Missed())
	observability.RecordStreamMissed(g.Missed())
	c.log.Warn("events missed", "after", g.After, "next", g.Next, "missed", g.Missed())
	if c.config.OnGap != nil {
		c.config.OnGap(g)
	}
}

// reconnect retries until connected or closed. It reports whether the client
// is connected again.
func (c *Client) reconnect() bool {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()

	delay := c.config.ReconnectDelay
	for {
		select {
		case <-c.done:
			return false
		case <-c.clock.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := c.connect(ctx)
		cancel()
		if err == nil {
			c.reconnects.Add(1)
			c.log.Info("stream reconnected", "since", c.lastSeq.Load())
			return true
		}
		if errors.Is(err, ErrClientClosed) {
			return false
		}

		delay *= 2
		if delay > c.config.MaxReconnectDelay {
			delay = c.config.MaxReconnectDelay
		}
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := c.clock.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.Chan():
			c.connMu.Lock()
			if c.conn != nil {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// A dead connection surfaces as a read error.
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}
