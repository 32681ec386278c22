package db

import (
	"errors"
	"time"

	"pdf-annotator/pkg/annotation"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrFileNotFound     = errors.New("file not found")
)

// File is an uploaded PDF. Its content is treated as immutable.
type File struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Size      int       `json:"size"`
	Content   []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Document is an open view onto a File together with its annotations
type Document struct {
	ID          string                  `json:"id"`
	Title       string                  `json:"title"`
	FileID      string                  `json:"file_id"`
	CurrentPage int                     `json:"current_page"`
	Zoom        float64                 `json:"zoom"`
	Rotation    int                     `json:"rotation"`
	TotalPages  *int                    `json:"total_pages"`
	Dirty       bool                    `json:"dirty"`
	Annotations []annotation.Annotation `json:"annotations"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
	Version     int                     `json:"version"`
}

// Clone returns a copy that shares no mutable state with d
func (d *Document) Clone() *Document {
	c := *d
	if d.TotalPages != nil {
		n := *d.TotalPages
		c.TotalPages = &n
	}
	c.Annotations = make([]annotation.Annotation, len(d.Annotations))
	for i, a := range d.Annotations {
		c.Annotations[i] = a.Clone()
	}
	return &c
}

// DocumentStore interface for document persistence
type IDocumentStore interface {
	CreateFile(name, contentType string, content []byte) (*File, error)
	GetFile(id string) (*File, error)
	CreateDocument(title, fileID string) (*Document, error)
	GetDocument(id string) (*Document, error)
	// UpdateDocument applies partial updates. Use pointer fields in DocumentUpdate
	// to indicate which fields should be modified.
	UpdateDocument(id string, updates *DocumentUpdate) (*Document, error)
	DeleteDocument(id string) error
	ListDocuments() ([]*Document, error)
	// ReplaceAnnotations stores annotations as the complete, ordered set for a document
	ReplaceAnnotations(documentID string, annotations []annotation.Annotation) error
	ListAnnotations(documentID string) ([]annotation.Annotation, error)
}

// DocumentUpdate represents partial updates to a document. Pointer fields
// allow distinguishing between "not provided" (nil) and "set to zero".
type DocumentUpdate struct {
	Title       *string  `json:"title,omitempty"`
	CurrentPage *int     `json:"current_page,omitempty"`
	Zoom        *float64 `json:"zoom,omitempty"`
	Rotation    *int     `json:"rotation,omitempty"`
	TotalPages  *int     `json:"total_pages,omitempty"`

	// Annotations replaces the complete, ordered annotation set together with
	// the other fields, all or nothing
	Annotations *[]annotation.Annotation `json:"-"`
}
