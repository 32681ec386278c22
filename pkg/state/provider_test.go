package state

import (
	"errors"
	"testing"

	"pdf-annotator/pkg/annotation"
	"pdf-annotator/pkg/db"

	"github.com/google/go-cmp/cmp"
)

func newDoc(t *testing.T) (*Store, *db.MemoryDocumentStore, string) {
	t.Helper()
	backing := db.NewMemoryDocumentStore()
	f, err := backing.CreateFile("doc.pdf", "application/pdf", []byte("%PDF-1.4"))
	if err != nil {
		t.Fatal(err)
	}
	doc, err := backing.CreateDocument("Doc", f.ID)
	if err != nil {
		t.Fatal(err)
	}
	return NewStore(backing), backing, doc.ID
}

func pencil(id string, page int) annotation.Annotation {
	return annotation.Annotation{
		ID: id, Kind: annotation.Pencil, Page: page, Color: "#000", Thickness: 2,
		Points: []annotation.Point{{X: 1, Y: 1}, {X: 2, Y: 2}},
	}
}

func TestMutatorsReturnNewValues(t *testing.T) {
	s, _, id := newDoc(t)
	before, err := s.Document(id)
	if err != nil {
		t.Fatal(err)
	}

	after, err := s.AddAnnotation(id, pencil("a", 1))
	if err != nil {
		t.Fatal(err)
	}
	if before == after {
		t.Fatal("AddAnnotation returned the same document value")
	}
	if len(before.Annotations) != 0 || before.Dirty {
		t.Fatal("earlier document value was mutated in place")
	}
	if len(after.Annotations) != 1 || !after.Dirty {
		t.Fatalf("annotation not added: %+v", after)
	}
}

func TestPageZoomRotationClamped(t *testing.T) {
	s, _, id := newDoc(t)
	if _, err := s.SetTotalPages(id, 4); err != nil {
		t.Fatal(err)
	}

	doc, _ := s.UpdateDocumentPage(id, 9)
	if doc.CurrentPage != 4 {
		t.Errorf("page = %d, want 4", doc.CurrentPage)
	}
	doc, _ = s.UpdateDocumentZoom(id, 7)
	if doc.Zoom != 3 {
		t.Errorf("zoom = %v, want 3", doc.Zoom)
	}
	doc, _ = s.UpdateDocumentRotation(id, 450)
	if doc.Rotation != 90 {
		t.Errorf("rotation = %d, want 90", doc.Rotation)
	}
	if doc.Dirty {
		t.Error("view changes should not mark the document dirty")
	}
}

func TestAddAnnotationRejectsDuplicatesAndInvalid(t *testing.T) {
	s, _, id := newDoc(t)
	if _, err := s.AddAnnotation(id, pencil("a", 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddAnnotation(id, pencil("a", 1)); !errors.Is(err, ErrDuplicateAnnotation) {
		t.Errorf("duplicate err = %v", err)
	}
	bad := pencil("b", 1)
	bad.Points = bad.Points[:1]
	if _, err := s.AddAnnotation(id, bad); !errors.Is(err, annotation.ErrInvalidAnnotation) {
		t.Errorf("invalid err = %v", err)
	}
}

func TestAnnotationOnMissingDocument(t *testing.T) {
	s, _, _ := newDoc(t)
	if _, err := s.AddAnnotation("nope", pencil("a", 1)); !errors.Is(err, ErrUnsupportedAnnotationTarget) {
		t.Errorf("AddAnnotation err = %v", err)
	}
	if _, err := s.RemoveAnnotation("nope", "a"); !errors.Is(err, ErrUnsupportedAnnotationTarget) {
		t.Errorf("RemoveAnnotation err = %v", err)
	}
}

func TestSavePersistsAndClearsDirty(t *testing.T) {
	s, backing, id := newDoc(t)
	s.SetTotalPages(id, 10)
	s.UpdateDocumentPage(id, 3)
	s.AddAnnotation(id, pencil("a", 3))
	s.AddAnnotation(id, pencil("b", 3))
	s.RemoveAnnotation(id, "a")

	doc, err := s.SaveDocument(id)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Dirty {
		t.Error("document still dirty after save")
	}

	stored, err := backing.GetDocument(id)
	if err != nil {
		t.Fatal(err)
	}
	if stored.CurrentPage != 3 || stored.TotalPages == nil || *stored.TotalPages != 10 {
		t.Errorf("view state not persisted: %+v", stored)
	}
	if diff := cmp.Diff([]annotation.Annotation{pencil("b", 3)}, stored.Annotations); diff != "" {
		t.Errorf("stored annotations mismatch (-want +got):\n%s", diff)
	}

	// a fresh provider sees the saved state
	reloaded, err := NewStore(backing).Document(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(reloaded.Annotations) != 1 || reloaded.Annotations[0].ID != "b" {
		t.Errorf("reloaded annotations = %+v", reloaded.Annotations)
	}
}

func TestDownloadDocument(t *testing.T) {
	s, _, id := newDoc(t)
	s.AddAnnotation(id, pencil("a", 1))

	dl, err := s.DownloadDocument(id)
	if err != nil {
		t.Fatal(err)
	}
	if dl.FileName != "doc.pdf" || string(dl.Content) != "%PDF-1.4" || len(dl.Annotations) != 1 {
		t.Errorf("unexpected download: %+v", dl)
	}
}

func TestForgetDropsUnsavedChanges(t *testing.T) {
	s, _, id := newDoc(t)
	s.AddAnnotation(id, pencil("a", 1))
	s.Forget(id)
	doc, err := s.Document(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Annotations) != 0 {
		t.Error("unsaved annotation survived Forget")
	}
}

// rejectingStore fails every update that carries an annotation set
type rejectingStore struct {
	*db.MemoryDocumentStore
}

func (s rejectingStore) UpdateDocument(id string, updates *db.DocumentUpdate) (*db.Document, error) {
	if updates.Annotations != nil {
		return nil, errors.New("disk full")
	}
	return s.MemoryDocumentStore.UpdateDocument(id, updates)
}

func TestFailedSaveWritesNothing(t *testing.T) {
	_, backing, id := newDoc(t)
	s := NewStore(rejectingStore{backing})
	s.SetTotalPages(id, 10)
	s.UpdateDocumentPage(id, 4)
	s.AddAnnotation(id, pencil("a", 4))

	if _, err := s.SaveDocument(id); err == nil {
		t.Fatal("SaveDocument succeeded against a failing store")
	}

	doc, _ := s.Document(id)
	if !doc.Dirty {
		t.Error("document marked clean after a failed save")
	}
	stored, err := backing.GetDocument(id)
	if err != nil {
		t.Fatal(err)
	}
	if stored.CurrentPage != 1 || len(stored.Annotations) != 0 {
		t.Errorf("failed save left a partial write: page %d, %d annotations", stored.CurrentPage, len(stored.Annotations))
	}
}

func TestSaveIsOneStoreUpdate(t *testing.T) {
	s, backing, id := newDoc(t)
	s.UpdateDocumentZoom(id, 2)
	s.AddAnnotation(id, pencil("a", 1))

	before, _ := backing.GetDocument(id)
	doc, err := s.SaveDocument(id)
	if err != nil {
		t.Fatal(err)
	}
	stored, _ := backing.GetDocument(id)
	if stored.Version != before.Version+1 {
		t.Errorf("store version went %d -> %d, want one update", before.Version, stored.Version)
	}
	if doc.Version != stored.Version {
		t.Errorf("working copy version %d, stored %d", doc.Version, stored.Version)
	}
}
