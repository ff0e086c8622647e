package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-compass/internal/orientation"
)

// MQTTConfig configures the MQTT sensor source
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Topic          string
	QoS            byte
	ConnectTimeout time.Duration
	BufferSize     int
}

// DefaultMQTTConfig returns sensible defaults
func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:         "tcp://localhost:1883",
		ClientID:       "go-compass",
		Topic:          "compass/sensor",
		QoS:            0,
		ConnectTimeout: 10 * time.Second,
		BufferSize:     64,
	}
}

// sensorPayload is the JSON shape of one sensor event on the topic:
//
//	{"type":"rotation_vector","values":[x,y,z,w],"display_rotation":90}
//	{"type":"magnetometer","values":[x,y,z]}
type sensorPayload struct {
	Type            string    `json:"type"`
	Values          []float64 `json:"values"`
	DisplayRotation int       `json:"display_rotation"`
	TimestampMs     int64     `json:"timestamp_ms,omitempty"`
}

// DecodeSample converts one MQTT payload into a sample
func DecodeSample(payload []byte) (orientation.Sample, error) {
	var p sensorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return orientation.Sample{}, fmt.Errorf("decode sensor payload: %w", err)
	}

	kind, err := orientation.ParseKind(p.Type)
	if err != nil {
		return orientation.Sample{}, err
	}

	if len(p.Values) < 3 {
		return orientation.Sample{}, fmt.Errorf("%s sample needs 3 values, got %d", kind, len(p.Values))
	}

	var s orientation.Sample
	switch kind {
	case orientation.KindRotationVector:
		s = orientation.RotationVectorSample(p.Values, orientation.DisplayRotation(p.DisplayRotation))
	case orientation.KindAccelerometer:
		s = orientation.AccelerometerSample(p.Values[0], p.Values[1], p.Values[2])
	case orientation.KindMagnetometer:
		s = orientation.MagnetometerSample(p.Values[0], p.Values[1], p.Values[2])
	}

	if p.TimestampMs > 0 {
		s.Timestamp = time.UnixMilli(p.TimestampMs)
	}
	return s, nil
}

// MQTTSource receives sensor events published by a device over MQTT.
// Each call to Samples subscribes to the topic and unsubscribes when the
// sequence ends.
type MQTTSource struct {
	client mqtt.Client
	cfg    MQTTConfig
	logger *slog.Logger

	mu      sync.Mutex
	healthy bool
	closed  bool
	handler mqtt.MessageHandler

	// Metrics
	received     int64
	dropped      int64
	decodeErrors int64
}

// NewMQTTSource connects to the broker
func NewMQTTSource(cfg MQTTConfig, logger *slog.Logger) (*MQTTSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultMQTTConfig().BufferSize
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultMQTTConfig().ConnectTimeout
	}

	m := &MQTTSource{
		cfg:    cfg,
		logger: logger,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = m.onConnect
	opts.OnConnectionLost = m.onConnectionLost

	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}

	m.client = client
	m.healthy = true

	logger.Info("MQTT sensor source connected",
		"broker", cfg.Broker,
		"topic", cfg.Topic,
	)

	return m, nil
}

// newMQTTSourceWithClient wraps an already connected client
func newMQTTSourceWithClient(client mqtt.Client, cfg MQTTConfig, logger *slog.Logger) *MQTTSource {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultMQTTConfig().BufferSize
	}
	return &MQTTSource{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		healthy: true,
	}
}

// Samples subscribes to the sensor topic and yields decoded samples until ctx
// is cancelled or the subscription fails
func (m *MQTTSource) Samples(ctx context.Context) iter.Seq[orientation.Sample] {
	return func(yield func(orientation.Sample) bool) {
		samples := make(chan orientation.Sample, m.cfg.BufferSize)
		handler := func(_ mqtt.Client, msg mqtt.Message) {
			m.deliver(samples, msg.Payload())
		}

		if err := m.subscribe(handler); err != nil {
			m.logger.Warn("MQTT subscribe failed", "topic", m.cfg.Topic, "error", err)
			m.setHealthy(false)
			return
		}
		defer m.unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case s := <-samples:
				if !yield(s) {
					return
				}
			}
		}
	}
}

func (m *MQTTSource) subscribe(handler mqtt.MessageHandler) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("source closed")
	}
	m.handler = handler
	m.mu.Unlock()

	token := m.client.Subscribe(m.cfg.Topic, m.cfg.QoS, handler)
	if !token.WaitTimeout(5 * time.Second) {
		return errors.New("subscribe timeout")
	}
	return token.Error()
}

func (m *MQTTSource) unsubscribe() {
	m.mu.Lock()
	m.handler = nil
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return
	}

	token := m.client.Unsubscribe(m.cfg.Topic)
	if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
		m.logger.Debug("MQTT unsubscribe incomplete", "topic", m.cfg.Topic, "error", token.Error())
	}
}

// deliver decodes one payload and queues it, dropping when the consumer lags
func (m *MQTTSource) deliver(samples chan<- orientation.Sample, payload []byte) {
	s, err := DecodeSample(payload)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.received++
	if err != nil {
		m.decodeErrors++
		if m.decodeErrors%100 == 1 {
			m.logger.Warn("bad sensor payload", "error", err, "count", m.decodeErrors)
		}
		return
	}

	select {
	case samples <- s:
	default:
		// Drop if consumer is slow
		m.dropped++
	}
}

func (m *MQTTSource) onConnect(client mqtt.Client) {
	m.mu.Lock()
	m.healthy = true
	handler := m.handler
	m.mu.Unlock()

	// Resubscribe after an automatic reconnect
	if handler != nil {
		client.Subscribe(m.cfg.Topic, m.cfg.QoS, handler)
	}
}

func (m *MQTTSource) onConnectionLost(_ mqtt.Client, err error) {
	m.logger.Warn("MQTT connection lost, will auto-reconnect", "error", err)
	m.setHealthy(false)
}

func (m *MQTTSource) setHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
}

// Close disconnects from the broker
func (m *MQTTSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.healthy = false
	m.mu.Unlock()

	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}

	m.logger.Info("MQTT sensor source closed")
	return nil
}

// Healthy returns true while connected to the broker
func (m *MQTTSource) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

// Name returns the source type name
func (m *MQTTSource) Name() string {
	return "mqtt"
}

// Stats returns MQTT source statistics
func (m *MQTTSource) Stats() MQTTStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return MQTTStats{
		Healthy:      m.healthy,
		Subscribed:   m.handler != nil,
		Received:     m.received,
		Dropped:      m.dropped,
		DecodeErrors: m.decodeErrors,
	}
}

// MQTTStats contains MQTT source statistics
type MQTTStats struct {
	Healthy      bool  `json:"healthy"`
	Subscribed   bool  `json:"subscribed"`
	Received     int64 `json:"received"`
	Dropped      int64 `json:"dropped"`
	DecodeErrors int64 `json:"decode_errors"`
}
