package heading

// DefaultAlpha is the reference smoothing factor
const DefaultAlpha = 0.3

// Filter smooths a raw azimuth stream with a first-order exponential blend.
//
// The blend is linear, not angle-aware: a raw transition from 359° to 1°
// smooths through intermediate values before Normalize folds the result back
// into [0, 360). A Filter belongs to one sensor subscription and is not safe
// for concurrent use.
type Filter struct {
	alpha float64
	last  float64
}

// NewFilter creates a filter with the given alpha, starting at 0°
func NewFilter(alpha float64) *Filter {
	return &Filter{alpha: alpha}
}

// Update blends raw degrees into the smoothed state and returns the new
// smoothed heading in [0, 360)
func (f *Filter) Update(raw float64) float64 {
	f.last += f.alpha * (raw - f.last)
	f.last = Normalize(f.last)
	return f.last
}

// Value returns the last smoothed heading
func (f *Filter) Value() float64 {
	return f.last
}

// Alpha returns the smoothing factor
func (f *Filter) Alpha() float64 {
	return f.alpha
}

// Reset returns the filter to 0°
func (f *Filter) Reset() {
	f.last = 0
}
