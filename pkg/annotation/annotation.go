package annotation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies which variant of Annotation a record holds
type Kind string

const (
	Pencil    Kind = "pencil"
	Highlight Kind = "highlight"
	Text      Kind = "text"
)

var (
	ErrInvalidAnnotation = errors.New("invalid annotation")
)

// Point is a position in unscaled page-local coordinates
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Annotation is a pencil or highlight stroke, or a text note, drawn on one page.
// Points and Position are stored unscaled so they stay valid across zoom and
// rotation changes.
type Annotation struct {
	ID        string  `json:"id"`
	Kind      Kind    `json:"type"`
	Page      int     `json:"page"`
	Color     string  `json:"color"`
	Thickness float64 `json:"thickness"`
	Points    []Point `json:"points,omitempty"`   // pencil, highlight
	Text      string  `json:"text,omitempty"`     // text
	Position  *Point  `json:"position,omitempty"` // text
}

// IsStroke reports whether the annotation carries a point sequence
func (a Annotation) IsStroke() bool {
	return a.Kind == Pencil || a.Kind == Highlight
}

// Validate checks the per-kind invariants of an annotation
func (a Annotation) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidAnnotation)
	}
	if a.Page < 1 {
		return fmt.Errorf("%w: page %d", ErrInvalidAnnotation, a.Page)
	}
	switch a.Kind {
	case Pencil, Highlight:
		if len(a.Points) < 2 {
			return fmt.Errorf("%w: stroke %s has %d points", ErrInvalidAnnotation, a.ID, len(a.Points))
		}
	case Text:
		if a.Text == "" || a.Position == nil {
			return fmt.Errorf("%w: text %s needs text and position", ErrInvalidAnnotation, a.ID)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAnnotation, a.Kind)
	}
	return nil
}

// Opacity is the paint opacity used for the annotation
func (a Annotation) Opacity() float64 {
	if a.Kind == Highlight {
		return 0.5
	}
	return 1
}

// PathData renders a point sequence as SVG path data ("M x,y L x,y ...")
func PathData(points []Point) string {
	if len(points) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("M ")
	for i, p := range points {
		if i > 0 {
			b.WriteString(" L ")
		}
		b.WriteString(strconv.FormatFloat(p.X, 'f', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(p.Y, 'f', -1, 64))
	}
	return b.String()
}

// Clone returns a deep copy so callers can hand out annotations without
// sharing the point slice.
func (a Annotation) Clone() Annotation {
	c := a
	if a.Points != nil {
		c.Points = append([]Point(nil), a.Points...)
	}
	if a.Position != nil {
		p := *a.Position
		c.Position = &p
	}
	return c
}
