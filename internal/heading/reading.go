package heading

import (
	"math"
	"time"
)

// Reading is one smoothed heading produced by the pipeline.
// Readings are values; each new one supersedes the last.
type Reading struct {
	Degrees        float64   `json:"degrees"`         // [0, 360)
	DegreesRounded int       `json:"degrees_rounded"` // input to Classify
	Direction      Direction `json:"direction"`
	MagneticField  *float64  `json:"magnetic_field_ut,omitempty"` // ambient field strength, µT
	Timestamp      time.Time `json:"timestamp"`
}

// NewReading builds a reading from a smoothed heading
func NewReading(degrees float64, ts time.Time) Reading {
	rounded := int(math.Round(degrees))
	return Reading{
		Degrees:        degrees,
		DegreesRounded: rounded,
		Direction:      Classify(rounded),
		Timestamp:      ts,
	}
}

// WithMagneticField returns a copy of r carrying a field strength
func (r Reading) WithMagneticField(microTesla float64) Reading {
	r.MagneticField = &microTesla
	return r
}

// InitialReading is what a display shows before the first sensor event
func InitialReading() Reading {
	return Reading{Direction: North}
}
