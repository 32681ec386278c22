package viewer

import "math"

const (
	MinZoom = 0.5
	MaxZoom = 3.0

	ZoomInFactor  = 1.1
	ZoomOutFactor = 0.9

	// wheelSensitivity converts wheel delta units into a zoom exponent
	wheelSensitivity = 0.001
)

// Zoom scales current by factor and clamps the result to [MinZoom, MaxZoom]
func Zoom(current, factor float64) float64 {
	return clampZoom(current * factor)
}

// WheelZoom applies a continuous wheel gesture. Negative deltaY zooms in.
func WheelZoom(current, deltaY float64) float64 {
	return clampZoom(current * math.Exp(-deltaY*wheelSensitivity))
}

func clampZoom(z float64) float64 {
	if math.IsNaN(z) {
		return MinZoom
	}
	return math.Max(MinZoom, math.Min(MaxZoom, z))
}

// Rotate turns the page a quarter clockwise. The result is in [0, 360).
func Rotate(current int) int {
	return NormalizeRotation(current + 90)
}

// NormalizeRotation snaps deg to a multiple of 90 in [0, 360)
func NormalizeRotation(deg int) int {
	deg -= deg % 90
	return ((deg % 360) + 360) % 360
}

// Navigate moves offset pages from current, clamped to [1, total]. Before
// the page count is known the page is left unchanged.
func Navigate(current, offset, total int) int {
	if total <= 0 {
		return current
	}
	return ClampPage(current+offset, total)
}

// ClampPage bounds a directly requested page number to [1, total]
func ClampPage(page, total int) int {
	if page < 1 {
		return 1
	}
	if total > 0 && page > total {
		return total
	}
	return page
}
