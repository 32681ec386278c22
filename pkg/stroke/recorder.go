package stroke

import (
	"pdf-annotator/pkg/annotation"
	"pdf-annotator/pkg/surface"

	"github.com/google/uuid"
)

// ToolKind is the active tool selected in the toolbar
type ToolKind string

const (
	ToolPencil    ToolKind = "pencil"
	ToolHighlight ToolKind = "highlight"
	ToolEraser    ToolKind = "eraser"
	ToolText      ToolKind = "text"
	ToolNone      ToolKind = "none"
)

// Tool is the current tool configuration. It is read-only to the recorder.
type Tool struct {
	Active    ToolKind `json:"active"`
	Color     string   `json:"color"`
	Thickness float64  `json:"thickness"`
}

// Draws reports whether the tool records freehand strokes
func (t Tool) Draws() bool {
	return t.Active == ToolPencil || t.Active == ToolHighlight
}

type State int

const (
	Idle State = iota
	Recording
)

func (s State) String() string {
	if s == Recording {
		return "recording"
	}
	return "idle"
}

// Recorder accumulates one freehand stroke per surface.
// It is not safe for concurrent use; a session drives it from its event loop.
type Recorder struct {
	newID  func() string
	state  State
	id     string
	tool   Tool
	points []annotation.Point
}

// NewRecorder creates an idle recorder. A nil newID uses random UUIDs.
func NewRecorder(newID func() string) *Recorder {
	if newID == nil {
		newID = func() string { return uuid.New().String() }
	}
	return &Recorder{newID: newID}
}

func (r *Recorder) State() State {
	return r.state
}

// Down starts a stroke when the tool draws. A Down while already recording
// is ignored so a fast gesture never loses the stroke in progress.
func (r *Recorder) Down(ev surface.PointerEvent, zoom float64, tool Tool) (bool, error) {
	if r.state == Recording || !tool.Draws() {
		return false, nil
	}
	p, err := surface.Map(ev, zoom)
	if err != nil {
		return false, err
	}
	r.state = Recording
	r.id = r.newID()
	r.tool = tool
	r.points = []annotation.Point{p}
	return true, nil
}

// Move appends the mapped point to the stroke in progress
func (r *Recorder) Move(ev surface.PointerEvent, zoom float64) (bool, error) {
	if r.state != Recording {
		return false, nil
	}
	p, err := surface.Map(ev, zoom)
	if err != nil {
		return false, err
	}
	r.points = append(r.points, p)
	return true, nil
}

// Up finishes the stroke. Page, kind, color and thickness are taken at
// release: page is the document's current page and tool the toolbar state at
// that moment. A tool that no longer draws keeps the one the stroke started
// with. Strokes with fewer than two points are clicks and are discarded.
func (r *Recorder) Up(page int, tool Tool) (annotation.Annotation, bool) {
	if r.state != Recording {
		return annotation.Annotation{}, false
	}
	defer r.reset()

	if len(r.points) < 2 {
		return annotation.Annotation{}, false
	}
	if !tool.Draws() {
		tool = r.tool
	}
	kind := annotation.Pencil
	if tool.Active == ToolHighlight {
		kind = annotation.Highlight
	}
	return annotation.Annotation{
		ID:        r.id,
		Kind:      kind,
		Page:      page,
		Color:     tool.Color,
		Thickness: tool.Thickness,
		Points:    r.points,
	}, true
}

// Leave behaves like Up; the pointer left the surface
func (r *Recorder) Leave(page int, tool Tool) (annotation.Annotation, bool) {
	return r.Up(page, tool)
}

// Preview returns a copy of the stroke in progress
func (r *Recorder) Preview() (id string, tool Tool, points []annotation.Point) {
	if r.state != Recording {
		return "", Tool{}, nil
	}
	return r.id, r.tool, append([]annotation.Point(nil), r.points...)
}

func (r *Recorder) reset() {
	r.state = Idle
	r.id = ""
	r.tool = Tool{}
	r.points = nil
}
