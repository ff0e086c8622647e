package heading

import (
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	cases := map[Direction][]int{
		North:     {0, 22, 338, 360},
		NorthEast: {23, 45, 67},
		East:      {68, 90, 112},
		SouthEast: {113, 135, 157},
		South:     {158, 180, 202},
		SouthWest: {203, 225, 247},
		West:      {248, 270, 292},
		NorthWest: {293, 315, 337},
	}

	for want, degrees := range cases {
		for _, d := range degrees {
			if got := Classify(d); got != want {
				t.Errorf("Classify(%d) = %s, want %s", d, got, want)
			}
		}
	}
}

func TestClassify_OutOfRange(t *testing.T) {
	for _, d := range []int{-1, 361, 720, -360} {
		if got := Classify(d); got != North {
			t.Errorf("Classify(%d) = %s, want N", d, got)
		}
	}
}

func TestNewReading(t *testing.T) {
	r := NewReading(337.6, time.Time{})

	if r.DegreesRounded != 338 {
		t.Errorf("expected rounded 338, got %d", r.DegreesRounded)
	}
	if r.Direction != North {
		t.Errorf("expected N, got %s", r.Direction)
	}
	if r.MagneticField != nil {
		t.Error("expected no field strength")
	}

	r = r.WithMagneticField(48.5)
	if r.MagneticField == nil || *r.MagneticField != 48.5 {
		t.Errorf("expected field strength 48.5, got %v", r.MagneticField)
	}
}

func TestInitialReading(t *testing.T) {
	r := InitialReading()
	if r.Degrees != 0 || r.Direction != North {
		t.Errorf("expected 0° N, got %f %s", r.Degrees, r.Direction)
	}
}
