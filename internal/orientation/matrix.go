package orientation

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Matrix is a row-major 3x3 rotation matrix mapping device coordinates to
// world coordinates (X east, Y north, Z up)
type Matrix [9]float64

// Identity is the rotation of a device lying flat with its top to the north
var Identity = Matrix{1, 0, 0, 0, 1, 0, 0, 0, 1}

// Axis is a signed device axis used for remapping
type Axis int

// Signed axes. The low two bits select X, Y or Z; the 0x80 bit negates.
const (
	AxisX      Axis = 1
	AxisY      Axis = 2
	AxisZ      Axis = 3
	AxisMinusX Axis = AxisX | 0x80
	AxisMinusY Axis = AxisY | 0x80
	AxisMinusZ Axis = AxisZ | 0x80
)

// gravity and the free-fall threshold used to reject accelerometer readings
const (
	standardGravity        = 9.80665
	freeFallGravitySquared = 0.01 * standardGravity * standardGravity
	minHorizontalField     = 0.1
)

// QuaternionFromVector recovers the unit quaternion encoded by a rotation
// vector reading. When the scalar component is absent it is derived from the
// other three.
func QuaternionFromVector(values []float64) quat.Number {
	var q quat.Number
	if len(values) < 3 {
		return quat.Number{Real: 1}
	}
	q.Imag, q.Jmag, q.Kmag = values[0], values[1], values[2]

	if len(values) >= 4 {
		q.Real = values[3]
		return q
	}

	w := 1 - q.Imag*q.Imag - q.Jmag*q.Jmag - q.Kmag*q.Kmag
	if w > 0 {
		q.Real = math.Sqrt(w)
	}
	return q
}

// RotationMatrixFromVector computes the rotation matrix of a rotation vector
// reading
func RotationMatrixFromVector(values []float64) Matrix {
	q := QuaternionFromVector(values)
	q0, q1, q2, q3 := q.Real, q.Imag, q.Jmag, q.Kmag

	sqQ1 := 2 * q1 * q1
	sqQ2 := 2 * q2 * q2
	sqQ3 := 2 * q3 * q3
	q1q2 := 2 * q1 * q2
	q3q0 := 2 * q3 * q0
	q1q3 := 2 * q1 * q3
	q2q0 := 2 * q2 * q0
	q2q3 := 2 * q2 * q3
	q1q0 := 2 * q1 * q0

	return Matrix{
		1 - sqQ2 - sqQ3, q1q2 - q3q0, q1q3 + q2q0,
		q1q2 + q3q0, 1 - sqQ1 - sqQ3, q2q3 - q1q0,
		q1q3 - q2q0, q2q3 + q1q0, 1 - sqQ1 - sqQ2,
	}
}

// RotationMatrixFromPair computes the rotation matrix from a gravity vector
// and a geomagnetic vector, both in device coordinates. It returns false when
// the device is in free fall or the field is nearly parallel to gravity.
func RotationMatrixFromPair(gravity, geomagnetic r3.Vector) (Matrix, bool) {
	if gravity.Norm2() < freeFallGravitySquared {
		return Matrix{}, false
	}

	// east = field × gravity
	h := geomagnetic.Cross(gravity)
	if h.Norm() < minHorizontalField {
		return Matrix{}, false
	}
	h = h.Normalize()
	a := gravity.Normalize()

	// north = gravity × east
	m := a.Cross(h)

	return Matrix{
		h.X, h.Y, h.Z,
		m.X, m.Y, m.Z,
		a.X, a.Y, a.Z,
	}, true
}

// Remap rotates the matrix into a different coordinate system, expressing
// device axis x as the new X axis and device axis y as the new Y axis. It
// returns false for invalid axis combinations.
func Remap(in Matrix, x, y Axis) (Matrix, bool) {
	if x&0x7C != 0 || y&0x7C != 0 {
		return Matrix{}, false
	}
	if x&0x3 == 0 || y&0x3 == 0 || x&0x3 == y&0x3 {
		return Matrix{}, false
	}

	// The third axis completes a right-handed system
	z := x ^ y
	xi := int(x&0x3) - 1
	yi := int(y&0x3) - 1
	zi := int(z&0x3) - 1
	if (xi^((zi+1)%3))|(yi^((zi+2)%3)) != 0 {
		z ^= 0x80
	}

	sx, sy, sz := x >= 0x80, y >= 0x80, z >= 0x80

	var out Matrix
	for row := 0; row < 3; row++ {
		off := row * 3
		for col := 0; col < 3; col++ {
			switch col {
			case xi:
				out[off+col] = signed(in[off], sx)
			case yi:
				out[off+col] = signed(in[off+1], sy)
			case zi:
				out[off+col] = signed(in[off+2], sz)
			}
		}
	}
	return out, true
}

func signed(v float64, negate bool) float64 {
	if negate {
		return -v
	}
	return v
}

// Angles returns azimuth, pitch and roll in radians
func Angles(r Matrix) (azimuth, pitch, roll float64) {
	azimuth = math.Atan2(r[1], r[4])
	pitch = math.Asin(-r[7])
	roll = math.Atan2(-r[6], r[8])
	return azimuth, pitch, roll
}
