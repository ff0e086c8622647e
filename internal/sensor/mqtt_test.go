package sensor

import (
	"context"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-compass/internal/orientation"
)

type doneToken struct {
	err error
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Error() error                   { return t.err }
func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// fakeClient records subscriptions and lets tests publish to them
type fakeClient struct {
	mu           sync.Mutex
	handlers     map[string]mqtt.MessageHandler
	subscribeErr error
	subscribed   chan struct{}
	unsubscribed int
	disconnected bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		handlers:   make(map[string]mqtt.MessageHandler),
		subscribed: make(chan struct{}, 1),
	}
}

func (c *fakeClient) IsConnected() bool      { return true }
func (c *fakeClient) IsConnectionOpen() bool { return true }
func (c *fakeClient) Connect() mqtt.Token    { return &doneToken{} }
func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}
func (c *fakeClient) Publish(string, byte, bool, interface{}) mqtt.Token { return &doneToken{} }
func (c *fakeClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return &doneToken{}
}
func (c *fakeClient) AddRoute(string, mqtt.MessageHandler)    {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func (c *fakeClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	if c.subscribeErr == nil {
		c.handlers[topic] = handler
	}
	err := c.subscribeErr
	c.mu.Unlock()

	if err == nil {
		c.subscribed <- struct{}{}
	}
	return &doneToken{err: err}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		delete(c.handlers, topic)
	}
	c.unsubscribed++
	return &doneToken{}
}

func (c *fakeClient) publish(topic, payload string) {
	c.mu.Lock()
	handler := c.handlers[topic]
	c.mu.Unlock()

	if handler != nil {
		handler(c, &fakeMessage{topic: topic, payload: []byte(payload)})
	}
}

func TestDecodeSample(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		kind     orientation.Kind
		rotation orientation.DisplayRotation
		wantErr  bool
	}{
		{"rotation vector", `{"type":"rotation_vector","values":[0.1,0.2,0.3],"display_rotation":90}`, orientation.KindRotationVector, orientation.Rotation90, false},
		{"rotation vector with scalar", `{"type":"rotation_vector","values":[0,0,0,1]}`, orientation.KindRotationVector, orientation.Rotation0, false},
		{"accelerometer", `{"type":"accelerometer","values":[0,0,9.81]}`, orientation.KindAccelerometer, 0, false},
		{"magnetometer", `{"type":"magnetometer","values":[0,20,-40]}`, orientation.KindMagnetometer, 0, false},
		{"unknown type", `{"type":"gyroscope","values":[0,0,0]}`, 0, 0, true},
		{"short values", `{"type":"magnetometer","values":[1,2]}`, 0, 0, true},
		{"not json", `hello`, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := DecodeSample([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.Kind != tt.kind {
				t.Errorf("expected kind %s, got %s", tt.kind, s.Kind)
			}
			if s.Rotation != tt.rotation {
				t.Errorf("expected rotation %d, got %d", tt.rotation, s.Rotation)
			}
		})
	}
}

func TestDecodeSample_VectorAndTimestamp(t *testing.T) {
	s, err := DecodeSample([]byte(`{"type":"magnetometer","values":[1,2,3],"timestamp_ms":1700000000000}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.Vector.X != 1 || s.Vector.Y != 2 || s.Vector.Z != 3 {
		t.Errorf("unexpected vector %v", s.Vector)
	}
	if !s.Timestamp.Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("unexpected timestamp %v", s.Timestamp)
	}
}

func TestMQTTSource_Samples(t *testing.T) {
	client := newFakeClient()
	cfg := DefaultMQTTConfig()
	source := newMQTTSourceWithClient(client, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		<-client.subscribed
		client.publish(cfg.Topic, `not json`)
		client.publish(cfg.Topic, `{"type":"accelerometer","values":[0,0,9.81]}`)
		client.publish(cfg.Topic, `{"type":"magnetometer","values":[0,20,-40]}`)
	}()

	var got []orientation.Sample
	for s := range source.Samples(ctx) {
		got = append(got, s)
		if len(got) == 2 {
			break
		}
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if got[0].Kind != orientation.KindAccelerometer || got[1].Kind != orientation.KindMagnetometer {
		t.Errorf("unexpected sample order: %s, %s", got[0].Kind, got[1].Kind)
	}

	stats := source.Stats()
	if stats.Received != 3 {
		t.Errorf("expected 3 received, got %d", stats.Received)
	}
	if stats.DecodeErrors != 1 {
		t.Errorf("expected 1 decode error, got %d", stats.DecodeErrors)
	}
	if stats.Subscribed {
		t.Error("expected unsubscribed after the sequence ended")
	}
	if client.unsubscribed != 1 {
		t.Errorf("expected 1 unsubscribe, got %d", client.unsubscribed)
	}
}

func TestMQTTSource_DropsWhenFull(t *testing.T) {
	client := newFakeClient()
	cfg := DefaultMQTTConfig()
	cfg.BufferSize = 1
	source := newMQTTSourceWithClient(client, cfg, nil)

	samples := make(chan orientation.Sample, 1)
	payload := []byte(`{"type":"accelerometer","values":[0,0,9.81]}`)

	source.deliver(samples, payload)
	source.deliver(samples, payload)

	if stats := source.Stats(); stats.Dropped != 1 {
		t.Errorf("expected 1 dropped, got %d", stats.Dropped)
	}
}

func TestMQTTSource_SubscribeFailure(t *testing.T) {
	client := newFakeClient()
	client.subscribeErr = mqtt.ErrNotConnected
	source := newMQTTSourceWithClient(client, DefaultMQTTConfig(), nil)

	for range source.Samples(context.Background()) {
		t.Fatal("expected no samples")
	}

	if source.Healthy() {
		t.Error("expected unhealthy after subscribe failure")
	}
}

func TestMQTTSource_Close(t *testing.T) {
	client := newFakeClient()
	source := newMQTTSourceWithClient(client, DefaultMQTTConfig(), nil)

	if source.Name() != "mqtt" {
		t.Errorf("expected name 'mqtt', got %s", source.Name())
	}

	if err := source.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !client.disconnected {
		t.Error("expected client disconnected")
	}
	if source.Healthy() {
		t.Error("expected unhealthy after close")
	}

	// Idempotent
	if err := source.Close(); err != nil {
		t.Errorf("unexpected error on second close: %v", err)
	}

	for range source.Samples(context.Background()) {
		t.Fatal("expected no samples from a closed source")
	}
}

func TestDefaultMQTTConfig(t *testing.T) {
	cfg := DefaultMQTTConfig()

	if cfg.Topic != "compass/sensor" {
		t.Errorf("expected topic compass/sensor, got %s", cfg.Topic)
	}
	if cfg.BufferSize != 64 {
		t.Errorf("expected buffer 64, got %d", cfg.BufferSize)
	}
}
