package compass

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-compass/internal/heading"
	"github.com/teslashibe/go-compass/internal/orientation"
)

// Pipeline turns samples into heading readings:
// estimator -> smoothing filter -> compass-point label.
// A Pipeline belongs to exactly one subscription.
type Pipeline struct {
	estimator orientation.Estimator
	filter    *heading.Filter

	lastRaw float64
}

// NewPipeline builds a pipeline with fresh estimator and filter state
func NewPipeline(mode orientation.Mode, alpha float64) (*Pipeline, error) {
	est, err := orientation.NewEstimator(mode)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	return &Pipeline{
		estimator: est,
		filter:    heading.NewFilter(alpha),
	}, nil
}

// Process feeds one sample through the pipeline. It returns false when the
// sample does not qualify for a reading.
func (p *Pipeline) Process(s orientation.Sample) (heading.Reading, bool) {
	est, ok := p.estimator.Estimate(s)
	if !ok {
		return heading.Reading{}, false
	}

	p.lastRaw = est.Azimuth
	smoothed := p.filter.Update(est.Azimuth)

	ts := s.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	reading := heading.NewReading(smoothed, ts)
	if est.HasField {
		reading = reading.WithMagneticField(est.MagneticField)
	}
	return reading, true
}

// LastRaw returns the most recent unsmoothed azimuth
func (p *Pipeline) LastRaw() float64 {
	return p.lastRaw
}

// Mode returns the fusion strategy in use
func (p *Pipeline) Mode() orientation.Mode {
	return p.estimator.Mode()
}
