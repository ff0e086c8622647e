package compass

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-compass/internal/heading"
	"github.com/teslashibe/go-compass/internal/orientation"
)

// ErrSourceEnded is returned by Run when the source stops delivering samples
// before the context is cancelled
var ErrSourceEnded = errors.New("sensor source ended")

// TrackerConfig configures the heading tracker
type TrackerConfig struct {
	Mode        orientation.Mode
	Alpha       float64
	HistorySize int
	LogEvery    int // log every Nth reading at debug level, 0 disables
}

// DefaultTrackerConfig returns sensible defaults
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Mode:        orientation.ModeRotationVector,
		Alpha:       heading.DefaultAlpha,
		HistorySize: 100,
		LogEvery:    50,
	}
}

// Result is a smoothed reading plus the data a display needs to animate it
type Result struct {
	heading.Reading

	RawAzimuth      float64 `json:"raw_azimuth"`
	AnimationTarget float64 `json:"animation_target"`
}

// Tracker runs the heading pipeline over a source.
//
// Each call to Run is one subscription with fresh estimator and filter
// state. The animation target spans the tracker's whole lifetime so a display
// keeps rotating smoothly across resubscriptions.
type Tracker struct {
	source Source
	cfg    TrackerConfig
	logger *slog.Logger

	animator *heading.Animator

	mu      sync.RWMutex
	latest  Result
	history []Result
	running bool

	// Metrics
	sampleCount   int64
	readingCount  int64
	withheldCount int64
	subscriptions int64

	// Lifecycle
	cancel context.CancelFunc
	done   chan struct{}

	// Subscribers for real-time updates
	subsMu sync.RWMutex
	subs   map[chan Result]struct{}
}

// NewTracker creates a new heading tracker
func NewTracker(source Source, cfg TrackerConfig, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1
	}

	return &Tracker{
		source:   source,
		cfg:      cfg,
		logger:   logger,
		animator: heading.NewAnimator(),
		latest:   Result{Reading: heading.InitialReading()},
		history:  make([]Result, 0, cfg.HistorySize),
		subs:     make(map[chan Result]struct{}),
	}
}

// Run subscribes to the source and processes samples until ctx is cancelled
// or the source ends (blocking, use goroutine)
func (t *Tracker) Run(ctx context.Context) error {
	pipeline, err := NewPipeline(t.cfg.Mode, t.cfg.Alpha)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	defer close(done)

	t.mu.Lock()
	t.cancel = cancel
	t.done = done
	t.running = true
	t.subscriptions++
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
	}()

	t.logger.Info("tracker started",
		"mode", pipeline.Mode(),
		"alpha", t.cfg.Alpha,
		"source", t.source.Name(),
	)

	for sample := range t.source.Samples(ctx) {
		t.process(pipeline, sample)
	}

	t.mu.RLock()
	readings, withheld := t.readingCount, t.withheldCount
	t.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		t.logger.Info("tracker stopped",
			"readings", readings,
			"withheld", withheld,
		)
		return err
	}

	t.logger.Warn("sensor source ended",
		"source", t.source.Name(),
		"healthy", t.source.Healthy(),
	)
	return ErrSourceEnded
}

func (t *Tracker) process(p *Pipeline, sample orientation.Sample) {
	reading, ok := p.Process(sample)

	t.mu.Lock()
	t.sampleCount++
	if !ok {
		t.withheldCount++
		t.mu.Unlock()
		return
	}

	t.readingCount++
	result := Result{
		Reading:         reading,
		RawAzimuth:      p.LastRaw(),
		AnimationTarget: t.animator.Advance(reading.Degrees),
	}
	t.latest = result
	t.appendHistory(result)
	count := t.readingCount
	t.mu.Unlock()

	t.notifySubscribers(result)

	if t.cfg.LogEvery > 0 && count%int64(t.cfg.LogEvery) == 0 {
		t.logger.Debug("heading",
			"degrees", reading.Degrees,
			"direction", reading.Direction,
			"raw", result.RawAzimuth,
			"target", result.AnimationTarget,
		)
	}
}

func (t *Tracker) appendHistory(result Result) {
	t.history = append(t.history, result)

	if len(t.history) > t.cfg.HistorySize {
		// Shift instead of slice to avoid memory leak
		copy(t.history, t.history[1:])
		t.history = t.history[:t.cfg.HistorySize]
	}
}

func (t *Tracker) notifySubscribers(result Result) {
	t.subsMu.RLock()
	defer t.subsMu.RUnlock()

	for ch := range t.subs {
		select {
		case ch <- result:
		default:
			// Drop if subscriber is slow
		}
	}
}

// Subscribe returns a channel that receives heading updates
func (t *Tracker) Subscribe() chan Result {
	ch := make(chan Result, 10)

	t.subsMu.Lock()
	t.subs[ch] = struct{}{}
	t.subsMu.Unlock()

	return ch
}

// Unsubscribe removes a subscriber
func (t *Tracker) Unsubscribe(ch chan Result) {
	t.subsMu.Lock()
	if _, exists := t.subs[ch]; exists {
		delete(t.subs, ch)
		close(ch)
	}
	t.subsMu.Unlock()
}

// Latest returns the most recent result, or 0° N before the first reading
func (t *Tracker) Latest() Result {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest
}

// History returns a copy of the recent results, oldest first
func (t *Tracker) History() []Result {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Result, len(t.history))
	copy(out, t.history)
	return out
}

// Stats returns tracker statistics
func (t *Tracker) Stats() TrackerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	t.subsMu.RLock()
	subscribers := len(t.subs)
	t.subsMu.RUnlock()

	return TrackerStats{
		SampleCount:      t.sampleCount,
		ReadingCount:     t.readingCount,
		WithheldCount:    t.withheldCount,
		Subscriptions:    t.subscriptions,
		Running:          t.running,
		HistorySize:      len(t.history),
		SubscriberCount:  subscribers,
		Mode:             string(t.cfg.Mode),
		Alpha:            t.cfg.Alpha,
		SourceName:       t.source.Name(),
		SourceHealthy:    t.source.Healthy(),
		CurrentDegrees:   t.latest.Degrees,
		CurrentDirection: string(t.latest.Direction),
		AnimationTarget:  t.latest.AnimationTarget,
	}
}

// TrackerStats contains tracker statistics
type TrackerStats struct {
	SampleCount      int64   `json:"sample_count"`
	ReadingCount     int64   `json:"reading_count"`
	WithheldCount    int64   `json:"withheld_count"`
	Subscriptions    int64   `json:"subscriptions"`
	Running          bool    `json:"running"`
	HistorySize      int     `json:"history_size"`
	SubscriberCount  int     `json:"subscriber_count"`
	Mode             string  `json:"mode"`
	Alpha            float64 `json:"alpha"`
	SourceName       string  `json:"source_name"`
	SourceHealthy    bool    `json:"source_healthy"`
	CurrentDegrees   float64 `json:"current_degrees"`
	CurrentDirection string  `json:"current_direction"`
	AnimationTarget  float64 `json:"animation_target"`
}

// Stop ends the current subscription and closes all subscriber channels
func (t *Tracker) Stop() {
	t.mu.RLock()
	cancel, done := t.cancel, t.done
	t.mu.RUnlock()

	if cancel != nil {
		cancel()
		<-done
	}

	t.subsMu.Lock()
	for ch := range t.subs {
		close(ch)
		delete(t.subs, ch)
	}
	t.subsMu.Unlock()
}
