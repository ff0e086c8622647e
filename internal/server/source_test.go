package server

import (
	"context"
	"iter"

	"github.com/teslashibe/go-compass/internal/orientation"
	"github.com/teslashibe/go-compass/internal/sensor"
)

// stepSource emits one upright rotation vector and ends
type stepSource struct {
	heading float64
}

func (s *stepSource) Samples(ctx context.Context) iter.Seq[orientation.Sample] {
	return func(yield func(orientation.Sample) bool) {
		yield(orientation.RotationVectorSample(sensor.UprightRotationVector(s.heading), orientation.Rotation0))
	}
}

func (s *stepSource) Close() error  { return nil }
func (s *stepSource) Healthy() bool { return true }
func (s *stepSource) Name() string  { return "step" }

// gateSource emits upright rotation vectors for each heading once release
// is closed, then ends
type gateSource struct {
	headings []float64
	release  chan struct{}
}

func (s *gateSource) Samples(ctx context.Context) iter.Seq[orientation.Sample] {
	return func(yield func(orientation.Sample) bool) {
		select {
		case <-ctx.Done():
			return
		case <-s.release:
		}
		for _, h := range s.headings {
			if !yield(orientation.RotationVectorSample(sensor.UprightRotationVector(h), orientation.Rotation0)) {
				return
			}
		}
	}
}

func (s *gateSource) Close() error  { return nil }
func (s *gateSource) Healthy() bool { return true }
func (s *gateSource) Name() string  { return "gate" }
