package heading

// Animator turns successive headings into a continuous rotation target.
//
// The target is unbounded: crossing the 0°/360° seam keeps accumulating
// instead of snapping back, so a display easing toward it never spins the
// long way around. Each update moves the target by at most 180°.
type Animator struct {
	target float64
}

// NewAnimator creates an animator with a target of 0°
func NewAnimator() *Animator {
	return &Animator{}
}

// Advance moves the target by the shortest path to the new heading and
// returns it
func (a *Animator) Advance(heading float64) float64 {
	a.target += ShortestDelta(heading, Normalize(a.target))
	return a.target
}

// Target returns the current animation target in degrees
func (a *Animator) Target() float64 {
	return a.target
}
