// Package location turns GPS fixes into the location shown next to the compass
package location

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	geo "github.com/kellydunn/golang-geo"
)

// Address placeholders
const (
	AddressUnknown     = "Location unavailable"
	AddressUnavailable = "Address unavailable"
)

const feetPerMeter = 3.28084

// MetersToFeet converts an altitude in meters to feet
func MetersToFeet(m float64) float64 {
	return m * feetPerMeter
}

// Fix is one position report from a GPS receiver
type Fix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	AltitudeM float64   `json:"altitude_m"`
	Timestamp time.Time `json:"timestamp"`
}

// Point returns the fix as a geodesic point
func (f Fix) Point() *geo.Point {
	return geo.NewPoint(f.Latitude, f.Longitude)
}

// Data is the location shown to the user
type Data struct {
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	ElevationFt float64   `json:"elevation_ft"`
	Address     string    `json:"address"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
}

// DefaultData is the location shown before any fix arrives
func DefaultData() Data {
	return Data{Address: AddressUnknown}
}

// FixSource delivers GPS fixes. Fixes returns an error when the receiver
// cannot be opened; a running sequence ends when the receiver stops.
type FixSource interface {
	Fixes(ctx context.Context) (iter.Seq[Fix], error)
	Close() error
	Name() string
}

// Fix source kinds
const (
	SourceNone   = "none"
	SourceMock   = "mock"
	SourceSerial = "serial"
)

// DemoFix is the position the mock source reports
var DemoFix = Fix{Latitude: 37.7749, Longitude: -122.4194, AltitudeM: 16}

// NewFixSource creates the configured GPS source; "none" returns nil
func NewFixSource(kind, port string, baud uint, logger *slog.Logger) (FixSource, error) {
	switch kind {
	case SourceNone, "":
		return nil, nil
	case SourceMock:
		return NewRepeatingMockFixSource(time.Second, DemoFix), nil
	case SourceSerial:
		return NewSerialNMEASource(port, baud, logger), nil
	}
	return nil, fmt.Errorf("unknown gps source %q", kind)
}
