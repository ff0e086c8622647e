package orientation

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"

	"github.com/teslashibe/go-compass/internal/heading"
)

// Mode selects the sensor-fusion strategy. It is fixed when the pipeline is
// built and never re-detected per event.
type Mode string

const (
	// ModeRotationVector uses a fused rotation-vector sensor
	ModeRotationVector Mode = "rotation_vector"
	// ModeAccelMag fuses separate accelerometer and magnetometer streams
	ModeAccelMag Mode = "accel_mag"
)

// ParseMode parses a configured mode name
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeRotationVector, ModeAccelMag:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown orientation mode %q", s)
}

// Estimate is the raw azimuth derived from one qualifying sensor event
type Estimate struct {
	Azimuth       float64 // degrees, [0, 360)
	MagneticField float64 // µT, only set when HasField
	HasField      bool
}

// Estimator converts sensor samples into raw azimuth estimates. It returns
// false when the sample does not produce an estimate.
type Estimator interface {
	Estimate(s Sample) (Estimate, bool)
	Mode() Mode
}

// NewEstimator creates a fresh estimator for the mode
func NewEstimator(mode Mode) (Estimator, error) {
	switch mode {
	case ModeRotationVector:
		return NewFusedEstimator(), nil
	case ModeAccelMag:
		return NewPairEstimator(), nil
	}
	return nil, fmt.Errorf("unknown orientation mode %q", mode)
}

type remapAxes struct {
	x, y Axis
}

// remapTable keys the axis substitution by display rotation. Rotation0 is
// the fallback for anything not listed.
var remapTable = map[DisplayRotation]remapAxes{
	Rotation90:  {AxisZ, AxisMinusX},
	Rotation180: {AxisMinusX, AxisMinusZ},
	Rotation270: {AxisMinusZ, AxisX},
}

// RemapAxesFor returns the axis substitution for a display rotation
func RemapAxesFor(r DisplayRotation) (x, y Axis) {
	if axes, ok := remapTable[r]; ok {
		return axes.x, axes.y
	}
	return AxisX, AxisZ
}

// azimuthDegrees converts the first orientation angle into [0, 360)
func azimuthDegrees(r Matrix) float64 {
	az, _, _ := Angles(r)
	return heading.Normalize(az * 180 / math.Pi)
}

// FusedEstimator derives the azimuth from rotation-vector samples,
// compensating for the display rotation
type FusedEstimator struct{}

// NewFusedEstimator creates a rotation-vector estimator
func NewFusedEstimator() *FusedEstimator {
	return &FusedEstimator{}
}

// Mode returns ModeRotationVector
func (e *FusedEstimator) Mode() Mode { return ModeRotationVector }

// Estimate handles rotation-vector samples and ignores everything else
func (e *FusedEstimator) Estimate(s Sample) (Estimate, bool) {
	if s.Kind != KindRotationVector || len(s.Values) < 3 {
		return Estimate{}, false
	}

	r := RotationMatrixFromVector(s.Values)
	x, y := RemapAxesFor(s.Rotation)
	adjusted, ok := Remap(r, x, y)
	if !ok {
		return Estimate{}, false
	}

	return Estimate{Azimuth: azimuthDegrees(adjusted)}, true
}

// PairEstimator fuses the last-seen accelerometer and magnetometer vectors.
// Nothing is emitted until both sensors have reported at least once; after
// that every update of either sensor produces an estimate.
type PairEstimator struct {
	gravity     r3.Vector
	geomagnetic r3.Vector
	haveGravity bool
	haveField   bool
}

// NewPairEstimator creates an accelerometer+magnetometer estimator
func NewPairEstimator() *PairEstimator {
	return &PairEstimator{}
}

// Mode returns ModeAccelMag
func (e *PairEstimator) Mode() Mode { return ModeAccelMag }

// Ready reports whether both sensors have been seen
func (e *PairEstimator) Ready() bool {
	return e.haveGravity && e.haveField
}

// Estimate records the sample and, once ready, returns the azimuth and
// ambient field strength
func (e *PairEstimator) Estimate(s Sample) (Estimate, bool) {
	switch s.Kind {
	case KindAccelerometer:
		e.gravity = s.Vector
		e.haveGravity = true
	case KindMagnetometer:
		e.geomagnetic = s.Vector
		e.haveField = true
	default:
		return Estimate{}, false
	}

	if !e.Ready() {
		return Estimate{}, false
	}

	r, ok := RotationMatrixFromPair(e.gravity, e.geomagnetic)
	if !ok {
		return Estimate{}, false
	}

	return Estimate{
		Azimuth:       azimuthDegrees(r),
		MagneticField: e.geomagnetic.Norm(),
		HasField:      true,
	}, true
}
