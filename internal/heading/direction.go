package heading

// Direction is one of the 8 compass-point labels
type Direction string

const (
	North     Direction = "N"
	NorthEast Direction = "NE"
	East      Direction = "E"
	SouthEast Direction = "SE"
	South     Direction = "S"
	SouthWest Direction = "SW"
	West      Direction = "W"
	NorthWest Direction = "NW"
)

// Classify maps an integer-rounded heading to its compass point.
// Buckets are inclusive; N covers both [0,22] and [338,360]. Anything
// outside [0,360] falls back to N.
func Classify(degrees int) Direction {
	switch {
	case degrees >= 0 && degrees <= 22, degrees >= 338 && degrees <= 360:
		return North
	case degrees >= 23 && degrees <= 67:
		return NorthEast
	case degrees >= 68 && degrees <= 112:
		return East
	case degrees >= 113 && degrees <= 157:
		return SouthEast
	case degrees >= 158 && degrees <= 202:
		return South
	case degrees >= 203 && degrees <= 247:
		return SouthWest
	case degrees >= 248 && degrees <= 292:
		return West
	case degrees >= 293 && degrees <= 337:
		return NorthWest
	default:
		return North
	}
}
