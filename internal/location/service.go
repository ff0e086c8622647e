package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	geo "github.com/kellydunn/golang-geo"
)

// ErrFixesEnded is returned by Run when the fix source stops before the
// context is cancelled
var ErrFixesEnded = errors.New("location source ended")

// ServiceConfig configures the location service
type ServiceConfig struct {
	// Fixes closer than this to the last geocoded fix reuse its address
	MinDistanceM float64
}

// DefaultServiceConfig returns sensible defaults
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{MinDistanceM: 25}
}

// Service consumes GPS fixes, resolves addresses and keeps the latest
// location for display
type Service struct {
	source   FixSource
	geocoder Geocoder
	cfg      ServiceConfig
	logger   *slog.Logger

	mu          sync.RWMutex
	latest      Data
	lastPoint   *geo.Point
	lastAddress string
	running     bool

	// Metrics
	fixCount        int64
	geocodeCount    int64
	geocodeFailures int64
	geocodeSkipped  int64
	restarts        int64

	subsMu sync.RWMutex
	subs   map[chan Data]struct{}
}

// NewService creates a location service. A nil geocoder reports every
// address as unavailable.
func NewService(source FixSource, geocoder Geocoder, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		source:   source,
		geocoder: geocoder,
		cfg:      cfg,
		logger:   logger,
		latest:   DefaultData(),
		subs:     make(map[chan Data]struct{}),
	}
}

// Run consumes fixes until ctx is cancelled or the source ends (blocking,
// use goroutine). When the source cannot be opened the default location is
// published once and the open error returned.
func (s *Service) Run(ctx context.Context) error {
	fixes, err := s.source.Fixes(ctx)
	if err != nil {
		s.logger.Warn("location source unavailable",
			"source", s.source.Name(),
			"error", err,
		)
		s.publish(DefaultData())
		return fmt.Errorf("open %s: %w", s.source.Name(), err)
	}

	s.setRunning(true)
	defer s.setRunning(false)

	s.logger.Info("location service started", "source", s.source.Name())

	for fix := range fixes {
		s.process(ctx, fix)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	s.logger.Warn("location source ended", "source", s.source.Name())
	return ErrFixesEnded
}

// RunWithRetry runs the service and reopens the source after delay whenever
// it ends, as an unplugged receiver does. An open failure is returned
// without retrying, leaving the single default location in place.
func (s *Service) RunWithRetry(ctx context.Context, delay time.Duration) error {
	for {
		err := s.Run(ctx)
		if !errors.Is(err, ErrFixesEnded) {
			return err
		}

		s.mu.Lock()
		s.restarts++
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		s.logger.Info("reopening location source", "source", s.source.Name())
	}
}

func (s *Service) process(ctx context.Context, fix Fix) {
	s.mu.Lock()
	s.fixCount++
	s.mu.Unlock()

	ts := fix.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	s.publish(Data{
		Latitude:    fix.Latitude,
		Longitude:   fix.Longitude,
		ElevationFt: MetersToFeet(fix.AltitudeM),
		Address:     s.resolve(ctx, fix.Point()),
		Timestamp:   ts,
	})
}

// resolve returns the address for p, reusing the previous one when the
// device has barely moved
func (s *Service) resolve(ctx context.Context, p *geo.Point) string {
	if s.geocoder == nil {
		return AddressUnavailable
	}

	s.mu.RLock()
	lastPoint, lastAddress := s.lastPoint, s.lastAddress
	s.mu.RUnlock()

	if lastPoint != nil && lastAddress != "" {
		// GreatCircleDistance is in kilometers
		if lastPoint.GreatCircleDistance(p)*1000 < s.cfg.MinDistanceM {
			s.mu.Lock()
			s.geocodeSkipped++
			s.mu.Unlock()
			return lastAddress
		}
	}

	addr, err := s.geocoder.ReverseGeocode(ctx, p)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.geocodeCount++
	if err != nil {
		s.geocodeFailures++
		s.logger.Debug("reverse geocode failed", "error", err)
		return AddressUnavailable
	}

	s.lastPoint = p
	s.lastAddress = addr
	return addr
}

func (s *Service) publish(d Data) {
	s.mu.Lock()
	s.latest = d
	s.mu.Unlock()

	s.subsMu.RLock()
	defer s.subsMu.RUnlock()

	for ch := range s.subs {
		select {
		case ch <- d:
		default:
			// Drop if subscriber is slow
		}
	}
}

func (s *Service) setRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = running
}

// Latest returns the most recent location, or the default before any fix
func (s *Service) Latest() Data {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Subscribe returns a channel that receives location updates
func (s *Service) Subscribe() chan Data {
	ch := make(chan Data, 10)

	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber
func (s *Service) Unsubscribe(ch chan Data) {
	s.subsMu.Lock()
	if _, exists := s.subs[ch]; exists {
		delete(s.subs, ch)
		close(ch)
	}
	s.subsMu.Unlock()
}

// Close closes all subscriber channels and the fix source
func (s *Service) Close() error {
	s.subsMu.Lock()
	for ch := range s.subs {
		close(ch)
		delete(s.subs, ch)
	}
	s.subsMu.Unlock()

	return s.source.Close()
}

// Stats returns location service statistics
func (s *Service) Stats() ServiceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ServiceStats{
		Running:         s.running,
		Source:          s.source.Name(),
		FixCount:        s.fixCount,
		GeocodeCount:    s.geocodeCount,
		GeocodeFailures: s.geocodeFailures,
		GeocodeSkipped:  s.geocodeSkipped,
		Restarts:        s.restarts,
		Address:         s.latest.Address,
	}
}

// ServiceStats contains location service statistics
type ServiceStats struct {
	Running         bool   `json:"running"`
	Source          string `json:"source"`
	FixCount        int64  `json:"fix_count"`
	GeocodeCount    int64  `json:"geocode_count"`
	GeocodeFailures int64  `json:"geocode_failures"`
	GeocodeSkipped  int64  `json:"geocode_skipped"`
	Restarts        int64  `json:"restarts"`
	Address         string `json:"address"`
}
