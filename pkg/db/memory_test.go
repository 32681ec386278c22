package db

import (
	"errors"
	"testing"

	"pdf-annotator/pkg/annotation"

	"github.com/google/go-cmp/cmp"
)

func TestMemoryStoreDocumentLifecycle(t *testing.T) {
	s := NewMemoryDocumentStore()
	f, err := s.CreateFile("a.pdf", "application/pdf", []byte("%PDF"))
	if err != nil {
		t.Fatal(err)
	}
	doc, err := s.CreateDocument("A", f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if doc.CurrentPage != 1 || doc.Zoom != 1 || doc.Rotation != 0 || doc.TotalPages != nil {
		t.Fatalf("unexpected defaults: %+v", doc)
	}

	page, total := 3, 7
	updated, err := s.UpdateDocument(doc.ID, &DocumentUpdate{CurrentPage: &page, TotalPages: &total})
	if err != nil {
		t.Fatal(err)
	}
	if updated.CurrentPage != 3 || *updated.TotalPages != 7 || updated.Version != 2 {
		t.Fatalf("update not applied: %+v", updated)
	}

	if err := s.DeleteDocument(doc.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetDocument(doc.ID); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("GetDocument after delete err = %v", err)
	}
}

func TestMemoryStoreCreateDocumentNeedsFile(t *testing.T) {
	s := NewMemoryDocumentStore()
	if _, err := s.CreateDocument("x", "missing"); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("err = %v, want ErrFileNotFound", err)
	}
}

func TestMemoryStoreAnnotationsAreCopied(t *testing.T) {
	s := NewMemoryDocumentStore()
	f, _ := s.CreateFile("a.pdf", "application/pdf", nil)
	doc, _ := s.CreateDocument("A", f.ID)

	anns := []annotation.Annotation{
		{ID: "a", Kind: annotation.Pencil, Page: 1, Points: []annotation.Point{{1, 1}, {2, 2}}},
		{ID: "b", Kind: annotation.Text, Page: 2, Text: "hi", Position: &annotation.Point{X: 5, Y: 5}},
	}
	if err := s.ReplaceAnnotations(doc.ID, anns); err != nil {
		t.Fatal(err)
	}
	anns[0].Points[0].X = 99

	got, err := s.ListAnnotations(doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := []annotation.Annotation{
		{ID: "a", Kind: annotation.Pencil, Page: 1, Points: []annotation.Point{{1, 1}, {2, 2}}},
		{ID: "b", Kind: annotation.Text, Page: 2, Text: "hi", Position: &annotation.Point{X: 5, Y: 5}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("annotations mismatch (-want +got):\n%s", diff)
	}
}
