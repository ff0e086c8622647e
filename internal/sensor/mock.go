package sensor

import (
	"context"
	"iter"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/num/quat"

	"github.com/teslashibe/go-compass/internal/orientation"
)

// DefaultMockPeriod is the mock emission period (50 Hz)
const DefaultMockPeriod = 20 * time.Millisecond

// Simulated environment
const (
	mockGravity       = 9.81 // m/s²
	mockHorizontalUT  = 20.0 // µT, horizontal geomagnetic component
	mockVerticalUT    = 40.0 // µT, downward geomagnetic component
	mockWaveAmplitude = 60.0 // degrees either side of the set heading
	mockWavePeriod    = 20.0 // seconds per sweep
)

// MockSource is a simulated orientation sensor for testing and development.
//
// In rotation vector mode it emits the rotation vector of a phone held upright
// with its back facing the set heading. In accel/mag mode it emits the
// gravity and magnetic field a flat phone pointing at the heading would read.
type MockSource struct {
	mu           sync.Mutex
	heading      float64
	healthy      bool
	simulateWave bool
	startTime    time.Time

	mode     orientation.Mode
	rotation orientation.DisplayRotation
	interval time.Duration
}

// NewMockSource creates a mock source pointing north
func NewMockSource(mode orientation.Mode) *MockSource {
	return &MockSource{
		healthy:   true,
		startTime: time.Now(),
		mode:      mode,
		interval:  DefaultMockPeriod,
	}
}

// NewMockSourceWithWave creates a mock that sweeps slowly around the set heading
func NewMockSourceWithWave(mode orientation.Mode) *MockSource {
	m := NewMockSource(mode)
	m.simulateWave = true
	return m
}

// Samples emits simulated samples every interval until ctx is cancelled
func (m *MockSource) Samples(ctx context.Context) iter.Seq[orientation.Sample] {
	return func(yield func(orientation.Sample) bool) {
		ticker := time.NewTicker(m.Interval())
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			if !m.Healthy() {
				continue
			}

			for _, s := range m.Next() {
				if !yield(s) {
					return
				}
			}
		}
	}
}

// Next returns the samples for the current simulated pose without waiting.
// Accel/mag mode yields an accelerometer and a magnetometer sample.
func (m *MockSource) Next() []orientation.Sample {
	m.mu.Lock()
	h := m.heading
	if m.simulateWave {
		elapsed := time.Since(m.startTime).Seconds()
		h += math.Sin(elapsed/mockWavePeriod*2*math.Pi) * mockWaveAmplitude
	}
	mode, rotation := m.mode, m.rotation
	m.mu.Unlock()

	now := time.Now()

	if mode == orientation.ModeAccelMag {
		rad := h * math.Pi / 180
		accel := orientation.AccelerometerSample(0, 0, mockGravity)
		mag := orientation.MagnetometerSample(
			-mockHorizontalUT*math.Sin(rad),
			mockHorizontalUT*math.Cos(rad),
			-mockVerticalUT,
		)
		accel.Timestamp, mag.Timestamp = now, now
		return []orientation.Sample{accel, mag}
	}

	s := orientation.RotationVectorSample(UprightRotationVector(h), rotation)
	s.Timestamp = now
	return []orientation.Sample{s}
}

// UprightRotationVector returns the rotation vector [x, y, z, w] of a device
// held upright in portrait with its back facing headingDeg
func UprightRotationVector(headingDeg float64) []float64 {
	tilt := quat.Number{Real: math.Cos(math.Pi / 4), Imag: math.Sin(math.Pi / 4)}
	half := -headingDeg * math.Pi / 360
	yaw := quat.Number{Real: math.Cos(half), Kmag: math.Sin(half)}
	q := quat.Mul(yaw, tilt)
	return []float64{q.Imag, q.Jmag, q.Kmag, q.Real}
}

// Close releases resources
func (m *MockSource) Close() error {
	return nil
}

// Healthy returns true if the source is operational
func (m *MockSource) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

// Name returns the source type name
func (m *MockSource) Name() string {
	return "mock"
}

// Interval returns the emission period
func (m *MockSource) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// SetHeading sets the simulated heading in degrees
func (m *MockSource) SetHeading(deg float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heading = deg
}

// SetHealthy sets the mock health state. An unhealthy mock stops emitting.
func (m *MockSource) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
}

// SetDisplayRotation sets the rotation stamped on rotation vector samples
func (m *MockSource) SetDisplayRotation(r orientation.DisplayRotation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotation = r
}

// SetInterval sets the emission period for subsequent subscriptions
func (m *MockSource) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = d
}
