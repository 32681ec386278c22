package session

import (
	"log"
	"math"

	"pdf-annotator/pkg/annotation"
	"pdf-annotator/pkg/db"
	"pdf-annotator/pkg/stroke"
	"pdf-annotator/pkg/surface"
	"pdf-annotator/pkg/viewer"

	"github.com/google/uuid"
)

// Message is the envelope of every client message. Only the fields used by
// Type are set.
type Message struct {
	Type    string                `json:"type"`
	Pointer *surface.PointerEvent `json:"pointer,omitempty"`
	Tool    *stroke.Tool          `json:"tool,omitempty"`
	Text    string                `json:"text,omitempty"`
	Factor  float64               `json:"factor,omitempty"`
	DeltaY  float64               `json:"delta_y,omitempty"`
	Offset  int                   `json:"offset,omitempty"`
	Page    int                   `json:"page,omitempty"`
	Start   int                   `json:"start,omitempty"`
	End     int                   `json:"end,omitempty"`
}

func (m Message) pointer() surface.PointerEvent {
	if m.Pointer == nil {
		return surface.PointerEvent{}
	}
	return *m.Pointer
}

// handle runs one client event and sends the resulting refreshes
func (s *Session) handle(c *Client, msg Message) {
	switch msg.Type {
	case "tool":
		if msg.Tool != nil {
			c.tool = *msg.Tool
		}
	case "pointer_down":
		s.pointerDown(c, msg.pointer())
	case "pointer_move":
		s.pointerMove(c, msg.pointer())
	case "pointer_up", "pointer_leave":
		s.pointerUp(c)
	case "erase":
		s.erase(c, msg.pointer())
	case "text":
		s.addText(c, msg.pointer(), msg.Text)
	case "zoom":
		if !(msg.Factor > 0) || math.IsInf(msg.Factor, 0) {
			log.Printf("Ignoring zoom from %s: factor %v", c.ID, msg.Factor)
			return
		}
		s.viewChange(c, func(doc *db.Document) (*db.Document, error) {
			return s.state.UpdateDocumentZoom(s.ID, viewer.Zoom(doc.Zoom, msg.Factor))
		})
	case "wheel":
		s.viewChange(c, func(doc *db.Document) (*db.Document, error) {
			return s.state.UpdateDocumentZoom(s.ID, viewer.WheelZoom(doc.Zoom, msg.DeltaY))
		})
	case "rotate":
		s.viewChange(c, func(doc *db.Document) (*db.Document, error) {
			return s.state.UpdateDocumentRotation(s.ID, viewer.Rotate(doc.Rotation))
		})
	case "page":
		s.changePage(c, msg)
	case "visible_range":
		s.visibleRange(c, msg.Start, msg.End)
	case "save":
		s.save(c)
	case "ping":
		s.send(c, map[string]string{"type": "pong"})
	default:
		log.Printf("Unknown message type from %s: %q", c.ID, msg.Type)
	}
}

func (s *Session) document(c *Client) (*db.Document, bool) {
	doc, err := s.state.Document(s.ID)
	if err != nil {
		log.Printf("Session %s has no document: %v", s.ID, err)
		s.sendError(c, err)
		return nil, false
	}
	return doc, true
}

func (s *Session) pointerDown(c *Client, ev surface.PointerEvent) {
	doc, ok := s.document(c)
	if !ok {
		return
	}
	if c.tool.Active == stroke.ToolEraser {
		s.erase(c, ev)
		return
	}
	started, err := c.recorder.Down(ev, doc.Zoom, c.tool)
	if err != nil {
		log.Printf("Ignoring pointer_down from %s: %v", c.ID, err)
		return
	}
	if started {
		s.broadcastPreview(c)
	}
}

func (s *Session) pointerMove(c *Client, ev surface.PointerEvent) {
	if c.recorder.State() != stroke.Recording {
		if c.tool.Active == stroke.ToolEraser {
			s.erase(c, ev)
		}
		return
	}
	doc, ok := s.document(c)
	if !ok {
		return
	}
	if _, err := c.recorder.Move(ev, doc.Zoom); err != nil {
		log.Printf("Ignoring pointer_move from %s: %v", c.ID, err)
		return
	}
	s.broadcastPreview(c)
}

func (s *Session) pointerUp(c *Client) {
	if c.recorder.State() != stroke.Recording {
		return
	}
	doc, err := s.state.Document(s.ID)
	if err != nil {
		// no document to finalize against; drop the stroke
		c.recorder.Up(0, c.tool)
		return
	}
	a, ok := c.recorder.Up(doc.CurrentPage, c.tool)
	s.broadcast(map[string]interface{}{"type": "stroke_end", "client_id": c.ID}, c.ID)
	if !ok {
		return
	}
	s.addAnnotation(c, a)
}

func (s *Session) broadcastPreview(c *Client) {
	id, tool, points := c.recorder.Preview()
	if len(points) < 2 {
		return
	}
	opacity := 1.0
	if tool.Active == stroke.ToolHighlight {
		opacity = 0.5
	}
	s.broadcast(map[string]interface{}{
		"type":      "stroke_preview",
		"client_id": c.ID,
		"id":        id,
		"color":     tool.Color,
		"thickness": tool.Thickness,
		"opacity":   opacity,
		"path":      annotation.PathData(points),
	}, "")
}

func (s *Session) erase(c *Client, ev surface.PointerEvent) {
	doc, ok := s.document(c)
	if !ok {
		return
	}
	p, err := surface.Map(ev, doc.Zoom)
	if err != nil {
		log.Printf("Ignoring erase from %s: %v", c.ID, err)
		return
	}
	hit, ok := annotation.HitTest(doc.Annotations, doc.CurrentPage, p, s.opts.EraserRadius)
	if !ok {
		return
	}
	next, err := s.state.RemoveAnnotation(s.ID, hit.ID)
	if err != nil {
		s.annotationError(c, err)
		return
	}
	s.refreshAnnotations(next)
}

func (s *Session) addText(c *Client, ev surface.PointerEvent, text string) {
	if c.tool.Active != stroke.ToolText || text == "" {
		return
	}
	doc, ok := s.document(c)
	if !ok {
		return
	}
	p, err := surface.Map(ev, doc.Zoom)
	if err != nil {
		log.Printf("Ignoring text from %s: %v", c.ID, err)
		return
	}
	id := uuid.New().String()
	if s.opts.NewAnnotationID != nil {
		id = s.opts.NewAnnotationID()
	}
	s.addAnnotation(c, annotation.Annotation{
		ID:        id,
		Kind:      annotation.Text,
		Page:      doc.CurrentPage,
		Color:     c.tool.Color,
		Thickness: c.tool.Thickness,
		Text:      text,
		Position:  &p,
	})
}

func (s *Session) addAnnotation(c *Client, a annotation.Annotation) {
	next, err := s.state.AddAnnotation(s.ID, a)
	if err != nil {
		s.annotationError(c, err)
		return
	}
	s.refreshAnnotations(next)
}

func (s *Session) annotationError(c *Client, err error) {
	if ignorable(err) {
		return
	}
	log.Printf("Annotation change in session %s failed: %v", s.ID, err)
	s.sendError(c, err)
}

// refreshAnnotations sends the visible annotations and document state to everyone
func (s *Session) refreshAnnotations(doc *db.Document) {
	s.broadcast(map[string]interface{}{
		"type":        "annotations",
		"page":        doc.CurrentPage,
		"annotations": annotation.Visible(doc.Annotations, doc.CurrentPage),
	}, "")
	s.broadcast(map[string]interface{}{"type": "document", "document": doc}, "")
}

func (s *Session) viewChange(c *Client, fn func(doc *db.Document) (*db.Document, error)) {
	doc, ok := s.document(c)
	if !ok {
		return
	}
	next, err := fn(doc)
	if err != nil {
		s.sendError(c, err)
		return
	}
	s.broadcast(map[string]interface{}{"type": "document", "document": next}, "")
}

func (s *Session) changePage(c *Client, msg Message) {
	doc, ok := s.document(c)
	if !ok {
		return
	}
	total := 0
	if doc.TotalPages != nil {
		total = *doc.TotalPages
	}
	page := viewer.Navigate(doc.CurrentPage, msg.Offset, total)
	if msg.Page > 0 {
		page = viewer.ClampPage(msg.Page, total)
	}
	if page == doc.CurrentPage {
		return
	}
	next, err := s.state.UpdateDocumentPage(s.ID, page)
	if err != nil {
		s.sendError(c, err)
		return
	}
	s.refreshAnnotations(next)
}

func (s *Session) visibleRange(c *Client, start, end int) {
	if end < start {
		start, end = end, start
	}
	issued := s.EnsureVisible(start, end)
	s.send(c, map[string]interface{}{
		"type":      "thumbnails",
		"cached":    s.thumbs.Cached(),
		"requested": issued,
	})
}

func (s *Session) save(c *Client) {
	doc, err := s.state.SaveDocument(s.ID)
	if err != nil {
		log.Printf("Save of document %s failed: %v", s.ID, err)
		s.sendError(c, err)
		return
	}
	s.broadcast(map[string]interface{}{"type": "document", "document": doc}, "")
}
