// Package cloud relays headings and locations to a remote dashboard over WebSocket
package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-compass/internal/compass"
	"github.com/teslashibe/go-compass/internal/location"
	"github.com/teslashibe/go-compass/internal/protocol"
)

// Config holds relay client configuration
type Config struct {
	URL              string        // WebSocket URL (e.g., "ws://dashboard.example.com/ws/device")
	ReconnectBackoff time.Duration // Initial reconnect delay
	MaxBackoff       time.Duration // Maximum reconnect delay
	PingInterval     time.Duration // Ping interval for keepalive
	WriteTimeout     time.Duration // Write timeout
	PublishInterval  time.Duration // Heading publish period
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		URL:              "ws://localhost:8080/ws/device",
		ReconnectBackoff: 1 * time.Second,
		MaxBackoff:       30 * time.Second,
		PingInterval:     10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PublishInterval:  1 * time.Second,
	}
}

// HeadingProvider exposes the latest heading
type HeadingProvider interface {
	Latest() compass.Result
}

// LocationProvider exposes the latest location
type LocationProvider interface {
	Latest() location.Data
}

// Client manages the WebSocket connection to the dashboard
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected bool
	cancel    context.CancelFunc

	// Answers get_stats requests
	onStatsRequest func() interface{}

	// Stats
	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	reconnects       atomic.Uint64
}

// NewClient creates a new relay client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
	}
}

// OnStatsRequest sets the callback that answers get_stats messages
func (c *Client) OnStatsRequest(callback func() interface{}) {
	c.mu.Lock()
	c.onStatsRequest = callback
	c.mu.Unlock()
}

// Connect starts the connection loop in the background
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go c.connectionLoop(ctx)
	return nil
}

// connectionLoop manages connection with auto-reconnect
func (c *Client) connectionLoop(ctx context.Context) {
	backoff := c.cfg.ReconnectBackoff

	for {
		select {
		case <-ctx.Done():
			c.closeConnection()
			return
		default:
		}

		err := c.connect(ctx)
		if err != nil {
			c.logger.Warn("dashboard connection failed",
				"error", err,
				"retry_in", backoff,
			)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}

			// Exponential backoff
			backoff *= 2
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
			c.reconnects.Add(1)
			continue
		}

		// Reset backoff on successful connection
		backoff = c.cfg.ReconnectBackoff

		// Read messages until error
		c.readLoop(ctx)
	}
}

// connect establishes the WebSocket connection
func (c *Client) connect(ctx context.Context) error {
	c.logger.Info("connecting to dashboard", "url", c.cfg.URL)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("connected to dashboard")

	go c.pingLoop(ctx, conn)

	return nil
}

// pingLoop sends periodic pings on one connection
func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			current := c.conn
			c.mu.Unlock()

			if current != conn {
				return
			}

			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

// readLoop reads messages from the dashboard
func (c *Client) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("read error", "error", err)
			c.closeConnection()
			return
		}

		c.messagesReceived.Add(1)
		c.handleMessage(data)
	}
}

// handleMessage processes incoming messages
func (c *Client) handleMessage(data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		c.logger.Warn("parse message error", "error", err)
		return
	}

	c.mu.Lock()
	statsCb := c.onStatsRequest
	c.mu.Unlock()

	switch msg.Type {
	case protocol.TypePing:
		// Respond with pong
		pong := &protocol.Message{Type: protocol.TypePong, Timestamp: time.Now().UnixMilli()}
		c.SendMessage(pong)

	case protocol.TypeGetStats:
		if statsCb == nil {
			return
		}
		reply, err := protocol.NewMessage(protocol.TypeStats, statsCb())
		if err == nil {
			c.SendMessage(reply)
		}

	default:
		c.logger.Debug("ignoring dashboard message", "type", msg.Type)
	}
}

// SendMessage sends a message to the dashboard
func (c *Client) SendMessage(msg *protocol.Message) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()

	if err != nil {
		c.logger.Warn("send error", "error", err)
		c.closeConnection()
		return fmt.Errorf("write: %w", err)
	}

	c.messagesSent.Add(1)
	return nil
}

// SendHeading sends one heading to the dashboard
func (c *Client) SendHeading(r compass.Result) error {
	msg, err := protocol.NewHeadingMessage(protocol.HeadingFromResult(r))
	if err != nil {
		return err
	}
	return c.SendMessage(msg)
}

// SendLocation sends one location to the dashboard
func (c *Client) SendLocation(d location.Data) error {
	msg, err := protocol.NewLocationMessage(protocol.LocationFromData(d))
	if err != nil {
		return err
	}
	return c.SendMessage(msg)
}

// Publish sends the latest heading every PublishInterval and the location
// whenever it changes, until ctx is cancelled (blocking, use goroutine).
// locations may be nil.
func (c *Client) Publish(ctx context.Context, headings HeadingProvider, locations LocationProvider) {
	interval := c.cfg.PublishInterval
	if interval <= 0 {
		interval = DefaultConfig().PublishInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastLocation location.Data
	var sentLocation bool

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !c.IsConnected() {
			// Resend location after reconnect
			sentLocation = false
			continue
		}

		if err := c.SendHeading(headings.Latest()); err != nil {
			continue
		}

		if locations == nil {
			continue
		}

		loc := locations.Latest()
		if sentLocation && loc == lastLocation {
			continue
		}
		if err := c.SendLocation(loc); err == nil {
			lastLocation = loc
			sentLocation = true
		}
	}
}

// closeConnection closes the WebSocket connection
func (c *Client) closeConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close shuts down the client
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.closeConnection()
	return nil
}

// IsConnected returns connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Stats returns client statistics
type Stats struct {
	Connected        bool   `json:"connected"`
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesReceived uint64 `json:"messages_received"`
	Reconnects       uint64 `json:"reconnects"`
}

// GetStats returns client statistics
func (c *Client) GetStats() Stats {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()

	return Stats{
		Connected:        connected,
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		Reconnects:       c.reconnects.Load(),
	}
}
