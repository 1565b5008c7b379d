// Package transport connects a tracker to the collector over a WebSocket.
// Outbound messages are queued and written by a single goroutine; inbound
// replies are published on the event bus.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-pathsync/pkg/eventbus"
	"github.com/teslashibe/go-pathsync/pkg/protocol"
)

var (
	// ErrNotConnected is returned by Send while no connection is open.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrQueueFull is returned by Send when the outbound queue is full.
	ErrQueueFull = errors.New("transport: send queue full")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport: closed")
)

// Config configures a Client.
type Config struct {
	URL       string // collector base URL, e.g. ws://localhost:8080
	SessionID string

	QueueSize        int
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	PingPeriod       time.Duration // must be less than PongWait
	ReconnectDelay   time.Duration
	MaxMessageSize   int64
}

// DefaultConfig returns the recommended configuration for url and session.
func DefaultConfig(baseURL, sessionID string) Config {
	return Config{
		URL:              baseURL,
		SessionID:        sessionID,
		QueueSize:        64,
		HandshakeTimeout: 10 * time.Second,
		WriteWait:        10 * time.Second,
		PongWait:         60 * time.Second,
		PingPeriod:       54 * time.Second,
		ReconnectDelay:   2 * time.Second,
		MaxMessageSize:   1 << 20,
	}
}

// SessionURL returns the collector endpoint for the session.
func (c Config) SessionURL() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("transport: parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("transport: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/session/" + url.PathEscape(c.SessionID)
	return u.String(), nil
}

// Stats counts traffic on the client.
type Stats struct {
	Sent        int64
	Received    int64
	Dropped     int64
	Connects    int64
	LastLatency time.Duration
}

// conn is one open connection with its own outbound queue.
type conn struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *conn) shutdown() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// Client is the tracker's Transport.
type Client struct {
	cfg    Config
	bus    *eventbus.Bus
	logger *slog.Logger
	dialer *websocket.Dialer

	mu     sync.RWMutex
	cur    *conn
	closed bool

	sent        atomic.Int64
	received    atomic.Int64
	dropped     atomic.Int64
	connects    atomic.Int64
	lastLatency atomic.Int64
}

// New creates a client. Call Connect or Run to open the connection.
func New(cfg Config, bus *eventbus.Bus, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		bus:    bus,
		logger: logger.With("component", "transport"),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}
}

// Connect dials the collector and starts the read and write pumps.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	target, err := c.cfg.SessionURL()
	if err != nil {
		return err
	}

	ws, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", target, err)
	}

	cn := &conn{
		ws:   ws,
		send: make(chan []byte, c.cfg.QueueSize),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return ErrClosed
	}
	if c.cur != nil {
		c.cur.shutdown()
	}
	c.cur = cn
	c.mu.Unlock()

	c.connects.Add(1)
	c.logger.Info("connected", "url", target)

	go c.writePump(cn)
	go c.readPump(cn)
	return nil
}

// Run keeps the client connected until ctx is done, redialing after
// ReconnectDelay whenever the connection drops.
func (c *Client) Run(ctx context.Context) {
	for {
		if err := c.Connect(ctx); err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			c.logger.Warn("connect failed", "error", err)
		} else {
			c.mu.RLock()
			cn := c.cur
			c.mu.RUnlock()
			select {
			case <-ctx.Done():
				return
			case <-cn.done:
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

// Send queues msg without blocking.
func (c *Client) Send(msg *protocol.Message) error {
	c.mu.RLock()
	cn, closed := c.cur, c.closed
	c.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if cn == nil {
		return ErrNotConnected
	}
	select {
	case <-cn.done:
		return ErrNotConnected
	default:
	}

	data, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("transport: encode %s: %w", msg.Type, err)
	}

	select {
	case cn.send <- data:
		return nil
	default:
		c.dropped.Add(1)
		return ErrQueueFull
	}
}

// Connected reports whether a connection is open.
func (c *Client) Connected() bool {
	c.mu.RLock()
	cn := c.cur
	c.mu.RUnlock()
	if cn == nil {
		return false
	}
	select {
	case <-cn.done:
		return false
	default:
		return true
	}
}

// Drain waits until the outbound queue is empty, so a final message can be
// written before Close.
func (c *Client) Drain(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		c.mu.RLock()
		cn := c.cur
		c.mu.RUnlock()
		if cn == nil {
			return ErrNotConnected
		}
		if len(cn.send) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cn.done:
			return ErrNotConnected
		case <-ticker.C:
		}
	}
}

// Close shuts the connection down. Queued messages not yet written are
// lost; call Drain first to flush them.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cn := c.cur
	c.mu.Unlock()

	if cn != nil {
		deadline := time.Now().Add(c.cfg.WriteWait)
		_ = cn.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		cn.shutdown()
	}
	return nil
}

// Stats returns traffic counters.
func (c *Client) Stats() Stats {
	return Stats{
		Sent:        c.sent.Load(),
		Received:    c.received.Load(),
		Dropped:     c.dropped.Load(),
		Connects:    c.connects.Load(),
		LastLatency: time.Duration(c.lastLatency.Load()),
	}
}

// Ping sends an application level ping; the pong updates LastLatency.
func (c *Client) Ping(id string) error {
	msg, err := protocol.NewPingMessage(id)
	if err != nil {
		return err
	}
	return c.Send(msg)
}

// writePump is the only writer on the connection.
func (c *Client) writePump(cn *conn) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		cn.shutdown()
	}()

	for {
		select {
		case <-cn.done:
			return

		case data := <-cn.send:
			cn.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := cn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("write failed", "error", err)
				return
			}
			c.sent.Add(1)

		case <-ticker.C:
			cn.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := cn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump(cn *conn) {
	defer cn.shutdown()

	if c.cfg.MaxMessageSize > 0 {
		cn.ws.SetReadLimit(c.cfg.MaxMessageSize)
	}
	cn.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	cn.ws.SetPongHandler(func(string) error {
		cn.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, data, err := cn.ws.ReadMessage()
		if err != nil {
			select {
			case <-cn.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Warn("connection lost", "error", err)
				}
			}
			return
		}
		cn.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		c.received.Add(1)

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			c.logger.Warn("invalid message", "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

// dispatch publishes collector replies on the bus.
func (c *Client) dispatch(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypePathStarted:
		data, err := msg.GetPathStartedData()
		if err != nil {
			c.logger.Warn("invalid path_started", "error", err)
			return
		}
		c.bus.Publish(eventbus.TopicPathStarted, *data)

	case protocol.TypePathSegmentsAdded:
		data, err := msg.GetPathSegmentsAddedData()
		if err != nil {
			c.logger.Warn("invalid path_segments_added", "error", err)
			return
		}
		c.bus.Publish(eventbus.TopicSegmentsAdded, *data)

	case protocol.TypeError:
		data, err := msg.GetErrorData()
		if err != nil {
			return
		}
		rerr := data.AsRemoteError()
		c.logger.Warn("collector error", "error", rerr)
		c.bus.Publish(eventbus.TopicTransportError, rerr)

	case protocol.TypePing:
		data, err := msg.GetPingData()
		if err != nil {
			return
		}
		now := time.Now().UnixMilli()
		if pong, err := protocol.NewPongMessage(data.ID, data.Timestamp, now); err == nil {
			_ = c.Send(pong)
		}

	case protocol.TypePong:
		data, err := msg.GetPongData()
		if err != nil {
			return
		}
		c.lastLatency.Store(int64(time.Since(time.UnixMilli(data.PingTS))))

	default:
		c.logger.Debug("unhandled message", "type", msg.Type)
	}
}
