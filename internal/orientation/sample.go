// Package orientation turns raw orientation sensor events into a raw azimuth
package orientation

import (
	"fmt"
	"time"

	"github.com/golang/geo/r3"
)

// Kind identifies the sensor that produced a sample
type Kind int

const (
	KindUnknown Kind = iota
	KindRotationVector
	KindAccelerometer
	KindMagnetometer
)

func (k Kind) String() string {
	switch k {
	case KindRotationVector:
		return "rotation_vector"
	case KindAccelerometer:
		return "accelerometer"
	case KindMagnetometer:
		return "magnetometer"
	default:
		return "unknown"
	}
}

// ParseKind parses the wire name of a sensor kind
func ParseKind(s string) (Kind, error) {
	switch s {
	case "rotation_vector":
		return KindRotationVector, nil
	case "accelerometer":
		return KindAccelerometer, nil
	case "magnetometer":
		return KindMagnetometer, nil
	}
	return KindUnknown, fmt.Errorf("unknown sensor kind %q", s)
}

// DisplayRotation is the display's rotation relative to the device's natural
// orientation, in degrees
type DisplayRotation int

const (
	Rotation0   DisplayRotation = 0
	Rotation90  DisplayRotation = 90
	Rotation180 DisplayRotation = 180
	Rotation270 DisplayRotation = 270
)

// Valid reports whether r is one of the four display rotations
func (r DisplayRotation) Valid() bool {
	switch r {
	case Rotation0, Rotation90, Rotation180, Rotation270:
		return true
	}
	return false
}

// Sample is one raw sensor event.
//
// Rotation-vector samples carry the vector's x, y, z components (and
// optionally the scalar w) in Values plus the display rotation at the time of
// the event. Accelerometer and magnetometer samples carry a 3-axis Vector.
type Sample struct {
	Kind      Kind
	Values    []float64
	Vector    r3.Vector
	Rotation  DisplayRotation
	Timestamp time.Time
}

// RotationVectorSample builds a fused-sensor sample
func RotationVectorSample(values []float64, rotation DisplayRotation) Sample {
	return Sample{
		Kind:      KindRotationVector,
		Values:    values,
		Rotation:  rotation,
		Timestamp: time.Now(),
	}
}

// AccelerometerSample builds an accelerometer sample (m/s²)
func AccelerometerSample(x, y, z float64) Sample {
	return Sample{Kind: KindAccelerometer, Vector: r3.Vector{X: x, Y: y, Z: z}, Timestamp: time.Now()}
}

// MagnetometerSample builds a magnetometer sample (µT)
func MagnetometerSample(x, y, z float64) Sample {
	return Sample{Kind: KindMagnetometer, Vector: r3.Vector{X: x, Y: y, Z: z}, Timestamp: time.Now()}
}
