package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"pdf-annotator/pkg/annotation"
	"pdf-annotator/pkg/db"
	"pdf-annotator/pkg/viewer"
)

var (
	// ErrUnsupportedAnnotationTarget is returned for annotation operations
	// on a document that is not open
	ErrUnsupportedAnnotationTarget = errors.New("unsupported annotation target")
	ErrDuplicateAnnotation         = errors.New("duplicate annotation id")
	ErrAnnotationNotFound          = errors.New("annotation not found")
)

// Provider is the application state the viewer reads and mutates.
// Every mutator returns a new document value; values already handed out are
// never modified and must not be modified by callers.
type Provider interface {
	Document(id string) (*db.Document, error)
	File(id string) (*db.File, error)
	UpdateDocumentPage(id string, page int) (*db.Document, error)
	UpdateDocumentZoom(id string, zoom float64) (*db.Document, error)
	UpdateDocumentRotation(id string, deg int) (*db.Document, error)
	SetTotalPages(id string, total int) (*db.Document, error)
	AddAnnotation(docID string, a annotation.Annotation) (*db.Document, error)
	RemoveAnnotation(docID, annotationID string) (*db.Document, error)
	SaveDocument(id string) (*db.Document, error)
	DownloadDocument(id string) (*Download, error)
	Forget(id string)
}

// Download is an exported document: the original file and its annotations
type Download struct {
	FileName    string                  `json:"file_name"`
	ContentType string                  `json:"content_type"`
	Content     []byte                  `json:"-"`
	Annotations []annotation.Annotation `json:"annotations"`
}

// Store keeps a working copy of each loaded document on top of an
// IDocumentStore. Annotation edits mark the copy dirty until SaveDocument.
type Store struct {
	store db.IDocumentStore

	mu   sync.Mutex
	docs map[string]*db.Document
}

func NewStore(store db.IDocumentStore) *Store {
	return &Store{
		store: store,
		docs:  make(map[string]*db.Document),
	}
}

// Document returns the working copy, loading it from storage on first use
func (s *Store) Document(id string) (*db.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(id)
}

func (s *Store) load(id string) (*db.Document, error) {
	if doc, ok := s.docs[id]; ok {
		return doc, nil
	}
	doc, err := s.store.GetDocument(id)
	if err != nil {
		return nil, err
	}
	s.docs[id] = doc
	return doc, nil
}

func (s *Store) File(id string) (*db.File, error) {
	return s.store.GetFile(id)
}

// update replaces the working copy with a modified clone
func (s *Store) update(id string, fn func(doc *db.Document) error) (*db.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.load(id)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now()
	s.docs[id] = next
	return next, nil
}

func (s *Store) UpdateDocumentPage(id string, page int) (*db.Document, error) {
	return s.update(id, func(doc *db.Document) error {
		total := 0
		if doc.TotalPages != nil {
			total = *doc.TotalPages
		}
		doc.CurrentPage = viewer.ClampPage(page, total)
		return nil
	})
}

func (s *Store) UpdateDocumentZoom(id string, zoom float64) (*db.Document, error) {
	return s.update(id, func(doc *db.Document) error {
		doc.Zoom = viewer.Zoom(zoom, 1)
		return nil
	})
}

func (s *Store) UpdateDocumentRotation(id string, deg int) (*db.Document, error) {
	return s.update(id, func(doc *db.Document) error {
		doc.Rotation = viewer.NormalizeRotation(deg)
		return nil
	})
}

// SetTotalPages records the page count reported by the render host
func (s *Store) SetTotalPages(id string, total int) (*db.Document, error) {
	return s.update(id, func(doc *db.Document) error {
		doc.TotalPages = &total
		doc.CurrentPage = viewer.ClampPage(doc.CurrentPage, total)
		return nil
	})
}

func (s *Store) AddAnnotation(docID string, a annotation.Annotation) (*db.Document, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	doc, err := s.update(docID, func(doc *db.Document) error {
		for _, existing := range doc.Annotations {
			if existing.ID == a.ID {
				return fmt.Errorf("%w: %s", ErrDuplicateAnnotation, a.ID)
			}
		}
		doc.Annotations = append(doc.Annotations, a.Clone())
		doc.Dirty = true
		return nil
	})
	return doc, annotationTarget(err)
}

func (s *Store) RemoveAnnotation(docID, annotationID string) (*db.Document, error) {
	doc, err := s.update(docID, func(doc *db.Document) error {
		rest, ok := annotation.Remove(doc.Annotations, annotationID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrAnnotationNotFound, annotationID)
		}
		doc.Annotations = rest
		doc.Dirty = true
		return nil
	})
	return doc, annotationTarget(err)
}

func annotationTarget(err error) error {
	if errors.Is(err, db.ErrDocumentNotFound) {
		return fmt.Errorf("%w: %v", ErrUnsupportedAnnotationTarget, err)
	}
	return err
}

// SaveDocument persists the view state and annotations of the working copy
func (s *Store) SaveDocument(id string) (*db.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.load(id)
	if err != nil {
		return nil, err
	}

	page, zoom, rotation := cur.CurrentPage, cur.Zoom, cur.Rotation
	anns := cur.Clone().Annotations
	stored, err := s.store.UpdateDocument(id, &db.DocumentUpdate{
		CurrentPage: &page,
		Zoom:        &zoom,
		Rotation:    &rotation,
		TotalPages:  cur.TotalPages,
		Annotations: &anns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save document %s: %w", id, err)
	}

	next := cur.Clone()
	next.Dirty = false
	next.Version = stored.Version
	next.UpdatedAt = time.Now()
	s.docs[id] = next
	return next, nil
}

func (s *Store) DownloadDocument(id string) (*Download, error) {
	doc, err := s.Document(id)
	if err != nil {
		return nil, err
	}
	f, err := s.store.GetFile(doc.FileID)
	if err != nil {
		return nil, err
	}
	return &Download{
		FileName:    f.Name,
		ContentType: f.Type,
		Content:     f.Content,
		Annotations: doc.Clone().Annotations,
	}, nil
}

// Forget drops the working copy. Unsaved changes are lost.
func (s *Store) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, id)
}

var _ Provider = (*Store)(nil)
