package surface

import (
	"errors"
	"math"

	"pdf-annotator/pkg/annotation"
)

var ErrInvalidSurfaceState = errors.New("invalid surface state")

// Rect is the bounding rectangle of the rendering surface in viewport
// coordinates, sampled when the event fired.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PointerEvent is a mouse or touch event in viewport coordinates.
// A nil Surface means the surface was not mounted.
type PointerEvent struct {
	ClientX float64 `json:"client_x"`
	ClientY float64 `json:"client_y"`
	Surface *Rect   `json:"surface,omitempty"`
}

// Map converts ev into page-local coordinates at the given zoom.
// It must be called with the rectangle of the event, not a cached one,
// since scrolling and resizing move the surface.
func Map(ev PointerEvent, zoom float64) (annotation.Point, error) {
	if zoom <= 0 || math.IsNaN(zoom) || math.IsInf(zoom, 0) {
		return annotation.Point{}, ErrInvalidSurfaceState
	}
	r := ev.Surface
	if r == nil || r.Width <= 0 || r.Height <= 0 {
		return annotation.Point{}, ErrInvalidSurfaceState
	}
	return annotation.Point{
		X: (ev.ClientX - r.Left) / zoom,
		Y: (ev.ClientY - r.Top) / zoom,
	}, nil
}
