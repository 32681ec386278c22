package db

import (
	"sort"
	"sync"
	"time"

	"pdf-annotator/pkg/annotation"

	"github.com/google/uuid"
)

// MemoryDocumentStore keeps files and documents in process memory.
// It is used when no database is configured and in tests.
type MemoryDocumentStore struct {
	mu    sync.RWMutex
	files map[string]*File
	docs  map[string]*Document
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{
		files: make(map[string]*File),
		docs:  make(map[string]*Document),
	}
}

func (s *MemoryDocumentStore) CreateFile(name, contentType string, content []byte) (*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := &File{
		ID:        uuid.New().String(),
		Name:      name,
		Type:      contentType,
		Size:      len(content),
		Content:   append([]byte(nil), content...),
		CreatedAt: time.Now(),
	}
	s.files[f.ID] = f
	return f, nil
}

func (s *MemoryDocumentStore) GetFile(id string) (*File, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.files[id]
	if !ok {
		return nil, ErrFileNotFound
	}
	c := *f
	return &c, nil
}

func (s *MemoryDocumentStore) CreateDocument(title, fileID string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[fileID]; !ok {
		return nil, ErrFileNotFound
	}
	now := time.Now()
	doc := &Document{
		ID:          uuid.New().String(),
		Title:       title,
		FileID:      fileID,
		CurrentPage: 1,
		Zoom:        1,
		Annotations: []annotation.Annotation{},
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	s.docs[doc.ID] = doc
	return doc.Clone(), nil
}

func (s *MemoryDocumentStore) GetDocument(id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return doc.Clone(), nil
}

func (s *MemoryDocumentStore) UpdateDocument(id string, updates *DocumentUpdate) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	changed := false
	if updates.Title != nil {
		doc.Title, changed = *updates.Title, true
	}
	if updates.CurrentPage != nil {
		doc.CurrentPage, changed = *updates.CurrentPage, true
	}
	if updates.Zoom != nil {
		doc.Zoom, changed = *updates.Zoom, true
	}
	if updates.Rotation != nil {
		doc.Rotation, changed = *updates.Rotation, true
	}
	if updates.TotalPages != nil {
		n := *updates.TotalPages
		doc.TotalPages, changed = &n, true
	}
	if updates.Annotations != nil {
		anns := *updates.Annotations
		doc.Annotations = make([]annotation.Annotation, len(anns))
		for i, a := range anns {
			doc.Annotations[i] = a.Clone()
		}
		changed = true
	}
	if changed {
		doc.UpdatedAt = time.Now()
		doc.Version++
	}
	return doc.Clone(), nil
}

func (s *MemoryDocumentStore) DeleteDocument(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[id]; !ok {
		return ErrDocumentNotFound
	}
	delete(s.docs, id)
	return nil
}

func (s *MemoryDocumentStore) ListDocuments() ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]*Document, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, d.Clone())
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
	})
	return docs, nil
}

func (s *MemoryDocumentStore) ReplaceAnnotations(documentID string, annotations []annotation.Annotation) error {
	_, err := s.UpdateDocument(documentID, &DocumentUpdate{Annotations: &annotations})
	return err
}

func (s *MemoryDocumentStore) ListAnnotations(documentID string) ([]annotation.Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[documentID]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return doc.Clone().Annotations, nil
}

var _ IDocumentStore = (*MemoryDocumentStore)(nil)
