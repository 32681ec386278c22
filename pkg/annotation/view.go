package annotation

import "math"

// Visible returns the annotations drawn on page, in insertion order.
// Later entries paint on top of earlier ones.
func Visible(annotations []Annotation, page int) []Annotation {
	visible := make([]Annotation, 0)
	for _, a := range annotations {
		if a.Page == page {
			visible = append(visible, a)
		}
	}
	return visible
}

// HitTest returns the first annotation on page with a stroke point closer
// than radius to p. Text annotations only have an anchor and are never hit.
func HitTest(annotations []Annotation, page int, p Point, radius float64) (Annotation, bool) {
	for _, a := range annotations {
		if a.Page != page || !a.IsStroke() {
			continue
		}
		for _, q := range a.Points {
			if math.Hypot(q.X-p.X, q.Y-p.Y) < radius {
				return a, true
			}
		}
	}
	return Annotation{}, false
}

// Remove returns a new slice without the annotation with the given id.
// The input slice is left untouched.
func Remove(annotations []Annotation, id string) ([]Annotation, bool) {
	out := make([]Annotation, 0, len(annotations))
	found := false
	for _, a := range annotations {
		if a.ID == id {
			found = true
			continue
		}
		out = append(out, a)
	}
	return out, found
}
