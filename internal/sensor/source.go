// Package sensor provides orientation sensor sources for the compass tracker
package sensor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-compass/internal/compass"
	"github.com/teslashibe/go-compass/internal/orientation"
)

// Source kinds
const (
	SourceMock = "mock"
	SourceMQTT = "mqtt"
)

// Options selects and configures a sensor source
type Options struct {
	Source   string
	Mode     orientation.Mode
	Rotation orientation.DisplayRotation
	Interval time.Duration // mock emission period
	MQTT     MQTTConfig
}

// NewSource creates the configured sensor source
func NewSource(opts Options, logger *slog.Logger) (compass.Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch opts.Source {
	case SourceMock, "":
		return newMock(opts), nil
	case SourceMQTT:
		src, err := NewMQTTSource(opts.MQTT, logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	}

	return nil, fmt.Errorf("unknown sensor source %q", opts.Source)
}

// NewSourceWithFallback creates the configured source and falls back to the
// mock when it is unavailable. Use this for development when hardware or the
// broker is unreachable.
func NewSourceWithFallback(opts Options, logger *slog.Logger) compass.Source {
	if logger == nil {
		logger = slog.Default()
	}

	source, err := NewSource(opts, logger)
	if err == nil {
		return source
	}

	logger.Warn("sensor source unavailable, using mock",
		"source", opts.Source,
		"error", err,
	)

	return newMock(opts)
}

func newMock(opts Options) *MockSource {
	m := NewMockSourceWithWave(opts.Mode)
	m.SetDisplayRotation(opts.Rotation)
	m.SetInterval(opts.Interval)
	return m
}
