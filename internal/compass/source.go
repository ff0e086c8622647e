// Package compass runs the heading pipeline over a stream of sensor samples
package compass

import (
	"context"
	"iter"

	"github.com/teslashibe/go-compass/internal/orientation"
)

// Source provides raw orientation samples from hardware or a simulator
type Source interface {
	// Samples opens a new subscription. The sequence is infinite until ctx is
	// cancelled or the source fails, and cannot be restarted; call Samples
	// again for a fresh subscription.
	Samples(ctx context.Context) iter.Seq[orientation.Sample]

	// Close releases hardware resources
	Close() error

	// Healthy returns true if the source is operational
	Healthy() bool

	// Name returns the source type name
	Name() string
}
