package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-compass/internal/compass"
	"github.com/teslashibe/go-compass/internal/location"
	"github.com/teslashibe/go-compass/internal/protocol"
)

// BroadcastInterval is the heading broadcast period (10Hz)
const BroadcastInterval = 100 * time.Millisecond

// WriteTimeout bounds each frame write so one stalled client cannot hold
// up the others
const WriteTimeout = time.Second

// LocationProvider exposes the latest location and pushes updates
type LocationProvider interface {
	Latest() location.Data
	Subscribe() chan location.Data
	Unsubscribe(ch chan location.Data)
}

// WSHub manages WebSocket connections and broadcasts heading updates
type WSHub struct {
	tracker   *compass.Tracker
	locations LocationProvider
	logger    *slog.Logger

	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}

	// Connections do not support concurrent writers
	writeMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWSHub creates a new WebSocket hub. locations may be nil.
func NewWSHub(tracker *compass.Tracker, locations LocationProvider, logger *slog.Logger) *WSHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHub{
		tracker:   tracker,
		locations: locations,
		logger:    logger,
		clients:   make(map[*websocket.Conn]struct{}),
		done:      make(chan struct{}),
	}
}

// Run broadcasts the heading every tick and pushes direction and location
// changes as soon as the tracker and location service report them
func (h *WSHub) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()
	defer close(h.done)

	var results chan compass.Result
	if h.tracker != nil {
		results = h.tracker.Subscribe()
		defer h.tracker.Unsubscribe(results)
	}

	var updates chan location.Data
	if h.locations != nil {
		updates = h.locations.Subscribe()
		defer h.locations.Unsubscribe(updates)
	}

	ticker := time.NewTicker(BroadcastInterval)
	defer ticker.Stop()

	h.logger.Info("websocket hub started")

	b := newBroadcaster(h.tracker, h.locations)
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket hub stopped")
			return

		case <-ticker.C:
			if h.tracker != nil {
				h.broadcast(b.heading(h.tracker.Latest()))
			}

		case result, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			h.broadcast(b.direction(result))

		case d, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			h.broadcast(b.location(d))
		}
	}
}

// broadcaster turns tracker results and location updates into messages,
// suppressing directions and locations that have not changed
type broadcaster struct {
	lastDirection string
	lastLocation  location.Data
}

// newBroadcaster starts from the current state, which new clients receive
// in their greeting
func newBroadcaster(tracker *compass.Tracker, locations LocationProvider) *broadcaster {
	b := &broadcaster{}
	if tracker != nil {
		b.lastDirection = string(tracker.Latest().Direction)
	}
	if locations != nil {
		b.lastLocation = locations.Latest()
	}
	return b
}

func (b *broadcaster) heading(r compass.Result) *protocol.Message {
	msg, err := protocol.NewHeadingMessage(protocol.HeadingFromResult(r))
	if err != nil {
		return nil
	}
	return msg
}

// direction returns a message when r changes the compass label, else nil
func (b *broadcaster) direction(r compass.Result) *protocol.Message {
	h := protocol.HeadingFromResult(r)
	if h.Direction == b.lastDirection {
		return nil
	}

	msg, err := protocol.NewDirectionMessage(h.Direction, b.lastDirection, h.DegreesRounded)
	if err != nil {
		return nil
	}
	b.lastDirection = h.Direction
	return msg
}

// location returns a message when d differs from the last one sent, else nil
func (b *broadcaster) location(d location.Data) *protocol.Message {
	if d == b.lastLocation {
		return nil
	}

	msg, err := protocol.NewLocationMessage(protocol.LocationFromData(d))
	if err != nil {
		return nil
	}
	b.lastLocation = d
	return msg
}

// greeting is the current state sent to a client as it connects
func greeting(tracker *compass.Tracker, locations LocationProvider) []*protocol.Message {
	var out []*protocol.Message

	if tracker != nil {
		h := protocol.HeadingFromResult(tracker.Latest())
		if msg, err := protocol.NewHeadingMessage(h); err == nil {
			out = append(out, msg)
		}
		if msg, err := protocol.NewDirectionMessage(h.Direction, "", h.DegreesRounded); err == nil {
			out = append(out, msg)
		}
	}

	if locations != nil {
		if msg, err := protocol.NewLocationMessage(protocol.LocationFromData(locations.Latest())); err == nil {
			out = append(out, msg)
		}
	}

	return out
}

// frameWriter is the part of a connection the hub writes through
type frameWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
}

// writeFrame writes one text frame under the write deadline
func writeFrame(w frameWriter, data []byte) error {
	if err := w.SetWriteDeadline(time.Now().Add(WriteTimeout)); err != nil {
		return err
	}
	return w.WriteMessage(websocket.TextMessage, data)
}

func (h *WSHub) broadcast(msg *protocol.Message) {
	if msg == nil {
		return
	}

	data, err := msg.Bytes()
	if err != nil {
		h.logger.Warn("websocket marshal error", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	for conn := range h.clients {
		if err := writeFrame(conn, data); err != nil {
			// The read loop sees the close and unregisters the client
			h.logger.Debug("websocket write error", "error", err)
			conn.Close()
		}
	}
}

func (h *WSHub) send(c *websocket.Conn, msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		return
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if err := writeFrame(c, data); err != nil {
		h.logger.Debug("websocket write error", "error", err)
	}
}

// register greets c with the current state and adds it to the broadcast
// set. Holding mu keeps a broadcast from slipping between the two.
func (h *WSHub) register(c *websocket.Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, msg := range greeting(h.tracker, h.locations) {
		h.send(c, msg)
	}

	h.clients[c] = struct{}{}
	return len(h.clients)
}

// UpgradeHandler returns the WebSocket upgrade handler
func (h *WSHub) UpgradeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return websocket.New(h.handleConnection)(c)
		}

		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error":   "WebSocket upgrade required",
			"message": "Connect via WebSocket to receive the heading stream",
		})
	}
}

func (h *WSHub) handleConnection(c *websocket.Conn) {
	clientCount := h.register(c)

	h.logger.Info("websocket client connected",
		"remote_addr", c.RemoteAddr().String(),
		"clients", clientCount,
	)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		clientCount := len(h.clients)
		h.mu.Unlock()

		h.logger.Info("websocket client disconnected",
			"remote_addr", c.RemoteAddr().String(),
			"clients", clientCount,
		)
	}()

	// Keep connection alive, read for close or commands
	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			// Connection closed
			break
		}

		h.handleCommand(c, msg)
	}
}

func (h *WSHub) handleCommand(c *websocket.Conn, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		if reply, err := protocol.NewErrorMessage("malformed message"); err == nil {
			h.send(c, reply)
		}
		return
	}

	switch msg.Type {
	case protocol.TypePing:
		h.send(c, &protocol.Message{Type: protocol.TypePong, Timestamp: time.Now().UnixMilli()})

	case protocol.TypeGetStats:
		if h.tracker == nil {
			return
		}
		if reply, err := protocol.NewMessage(protocol.TypeStats, h.tracker.Stats()); err == nil {
			h.send(c, reply)
		}

	default:
		if reply, err := protocol.NewErrorMessage("unknown message type %q", msg.Type); err == nil {
			h.send(c, reply)
		}
	}
}

// ClientCount returns the number of connected WebSocket clients
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close shuts down the WebSocket hub
func (h *WSHub) Close() {
	h.mu.RLock()
	cancel := h.cancel
	h.mu.RUnlock()

	if cancel != nil {
		cancel()
		<-h.done
	}

	// Close all client connections
	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()
}
