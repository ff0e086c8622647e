package cloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-compass/internal/compass"
	"github.com/teslashibe/go-compass/internal/heading"
	"github.com/teslashibe/go-compass/internal/location"
	"github.com/teslashibe/go-compass/internal/protocol"
)

type staticHeading struct{ r compass.Result }

func (s staticHeading) Latest() compass.Result { return s.r }

type staticLocation struct{ d location.Data }

func (s staticLocation) Latest() location.Data { return s.d }

func testResult(deg float64) compass.Result {
	return compass.Result{Reading: heading.NewReading(deg, time.Now())}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ReconnectBackoff <= 0 {
		t.Error("ReconnectBackoff should be positive")
	}
	if cfg.MaxBackoff <= 0 {
		t.Error("MaxBackoff should be positive")
	}
	if cfg.PingInterval <= 0 {
		t.Error("PingInterval should be positive")
	}
	if cfg.PublishInterval <= 0 {
		t.Error("PublishInterval should be positive")
	}
}

func TestNewClient(t *testing.T) {
	client := NewClient(DefaultConfig(), nil)

	if client == nil {
		t.Fatal("NewClient returned nil")
	}

	if client.IsConnected() {
		t.Error("Client should not be connected initially")
	}
}

func TestSendHeadingNotConnected(t *testing.T) {
	client := NewClient(DefaultConfig(), nil)

	if err := client.SendHeading(testResult(90)); err == nil {
		t.Error("SendHeading should return error when not connected")
	}
}

func TestSendLocationNotConnected(t *testing.T) {
	client := NewClient(DefaultConfig(), nil)

	if err := client.SendLocation(location.DefaultData()); err == nil {
		t.Error("SendLocation should return error when not connected")
	}
}

func TestGetStats(t *testing.T) {
	client := NewClient(DefaultConfig(), nil)

	stats := client.GetStats()

	if stats.Connected {
		t.Error("Stats.Connected should be false initially")
	}
	if stats.MessagesSent != 0 {
		t.Error("Stats.MessagesSent should be 0 initially")
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// recordingServer upgrades every request and records the message types it reads
type recordingServer struct {
	mu    sync.Mutex
	types []protocol.MessageType
	msgs  []*protocol.Message
}

func (s *recordingServer) record(msg *protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types = append(s.types, msg.Type)
	s.msgs = append(s.msgs, msg)
}

func (s *recordingServer) count(t protocol.MessageType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, typ := range s.types {
		if typ == t {
			n++
		}
	}
	return n
}

func (s *recordingServer) handler(t *testing.T, greet ...*protocol.Message) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("Upgrade error: %v", err)
			return
		}
		defer conn.Close()

		for _, msg := range greet {
			data, _ := json.Marshal(msg)
			conn.WriteMessage(websocket.TextMessage, data)
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := protocol.ParseMessage(data)
			if err != nil {
				t.Logf("Parse error: %v", err)
				continue
			}
			s.record(msg)
		}
	}
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestConnectAndSend(t *testing.T) {
	rec := &recordingServer{}
	server := httptest.NewServer(rec.handler(t))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = wsURL(server)
	cfg.ReconnectBackoff = 100 * time.Millisecond

	client := NewClient(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Wait for connection
	time.Sleep(200 * time.Millisecond)

	if !client.IsConnected() {
		t.Fatal("Client should be connected")
	}

	if err := client.SendHeading(testResult(90)); err != nil {
		t.Errorf("SendHeading() error = %v", err)
	}

	if err := client.SendLocation(location.Data{Latitude: 1, Longitude: 2, Address: "here"}); err != nil {
		t.Errorf("SendLocation() error = %v", err)
	}

	// Wait for messages to be received
	time.Sleep(100 * time.Millisecond)

	if rec.count(protocol.TypeHeading) != 1 {
		t.Errorf("expected 1 heading, got %d", rec.count(protocol.TypeHeading))
	}
	if rec.count(protocol.TypeLocation) != 1 {
		t.Errorf("expected 1 location, got %d", rec.count(protocol.TypeLocation))
	}

	rec.mu.Lock()
	h, err := rec.msgs[0].GetHeading()
	rec.mu.Unlock()
	if err != nil {
		t.Fatalf("GetHeading() error = %v", err)
	}
	if h.DegreesRounded != 90 || h.Direction != "E" {
		t.Errorf("got %d %s, want 90 E", h.DegreesRounded, h.Direction)
	}

	if stats := client.GetStats(); stats.MessagesSent < 2 {
		t.Errorf("MessagesSent should be at least 2, got %d", stats.MessagesSent)
	}

	client.Close()

	if client.IsConnected() {
		t.Error("Client should not be connected after Close()")
	}
}

func TestAnswersPingAndStats(t *testing.T) {
	ping, _ := protocol.NewMessage(protocol.TypePing, nil)
	getStats, _ := protocol.NewMessage(protocol.TypeGetStats, nil)

	rec := &recordingServer{}
	server := httptest.NewServer(rec.handler(t, ping, getStats))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = wsURL(server)

	client := NewClient(cfg, nil)
	client.OnStatsRequest(func() interface{} {
		return map[string]int{"reading_count": 7}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client.Connect(ctx)

	// Wait for replies
	time.Sleep(300 * time.Millisecond)

	if rec.count(protocol.TypePong) != 1 {
		t.Errorf("expected 1 pong, got %d", rec.count(protocol.TypePong))
	}
	if rec.count(protocol.TypeStats) != 1 {
		t.Errorf("expected 1 stats reply, got %d", rec.count(protocol.TypeStats))
	}

	client.Close()
}

func TestPublish(t *testing.T) {
	rec := &recordingServer{}
	server := httptest.NewServer(rec.handler(t))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = wsURL(server)
	cfg.PublishInterval = 20 * time.Millisecond

	client := NewClient(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client.Connect(ctx)

	loc := staticLocation{location.Data{Latitude: 37.7, Longitude: -122.4, Address: "Market St"}}
	go client.Publish(ctx, staticHeading{testResult(45)}, loc)

	time.Sleep(300 * time.Millisecond)

	if rec.count(protocol.TypeHeading) < 3 {
		t.Errorf("expected several headings, got %d", rec.count(protocol.TypeHeading))
	}

	// Unchanged location is sent once per connection
	if rec.count(protocol.TypeLocation) != 1 {
		t.Errorf("expected 1 location, got %d", rec.count(protocol.TypeLocation))
	}

	client.Close()
}

func TestReconnect(t *testing.T) {
	var connectionCount atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connectionCount.Add(1)

		// Close after brief delay
		time.Sleep(50 * time.Millisecond)
		conn.Close()
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = wsURL(server)
	cfg.ReconnectBackoff = 50 * time.Millisecond
	cfg.MaxBackoff = 100 * time.Millisecond

	client := NewClient(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	client.Connect(ctx)

	// Wait for multiple reconnection attempts
	time.Sleep(400 * time.Millisecond)

	if connectionCount.Load() < 2 {
		t.Errorf("Should have reconnected at least once, got %d connections", connectionCount.Load())
	}

	client.Close()
}

func TestIgnoresUnknownMessages(t *testing.T) {
	unknown := &protocol.Message{Type: "dance", Timestamp: time.Now().UnixMilli()}

	rec := &recordingServer{}
	server := httptest.NewServer(rec.handler(t, unknown))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = wsURL(server)

	client := NewClient(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client.Connect(ctx)
	time.Sleep(200 * time.Millisecond)

	if stats := client.GetStats(); stats.MessagesReceived < 1 {
		t.Error("Should have received at least 1 message")
	}
	if !client.IsConnected() {
		t.Error("unknown messages should not drop the connection")
	}

	client.Close()
}
