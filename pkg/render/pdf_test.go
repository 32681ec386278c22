package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
)

// buildPDF writes a minimal uncompressed PDF with one page per media box
func buildPDF(boxes [][4]int, rotate map[int]int) []byte {
	var objs []string
	kids := ""
	for i := range boxes {
		kids += fmt.Sprintf("%d 0 R ", i+3)
	}
	objs = append(objs, "<< /Type /Catalog /Pages 2 0 R >>")
	objs = append(objs, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, len(boxes)))
	for i, b := range boxes {
		extra := ""
		if r, ok := rotate[i+1]; ok {
			extra = fmt.Sprintf(" /Rotate %d", r)
		}
		objs = append(objs, fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [%d %d %d %d]%s >>",
			b[0], b[1], b[2], b[3], extra))
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func TestOpenReportsPageCount(t *testing.T) {
	doc, err := Open(buildPDF([][4]int{{0, 0, 612, 792}, {0, 0, 200, 100}, {0, 0, 300, 300}}, nil))
	if err != nil {
		t.Fatal(err)
	}
	defer doc.Close()

	if got := doc.NumPages(); got != 3 {
		t.Errorf("NumPages = %d, want 3", got)
	}
}

func TestRenderPageUsesMediaBox(t *testing.T) {
	doc, err := Open(buildPDF([][4]int{{0, 0, 200, 100}, {0, 0, 200, 100}}, map[int]int{2: 90}))
	if err != nil {
		t.Fatal(err)
	}
	defer doc.Close()

	img, err := doc.RenderPage(context.Background(), 1, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 50 {
		t.Errorf("page 1 rendered %dx%d, want 100x50", b.Dx(), b.Dy())
	}

	img, err = doc.RenderPage(context.Background(), 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 200 {
		t.Errorf("rotated page 2 rendered %dx%d, want 100x200", b.Dx(), b.Dy())
	}
}

func TestRenderPageOutOfRange(t *testing.T) {
	doc, err := Open(buildPDF([][4]int{{0, 0, 10, 10}}, nil))
	if err != nil {
		t.Fatal(err)
	}
	defer doc.Close()

	for _, p := range []int{0, 2} {
		if _, err := doc.RenderPage(context.Background(), p, 1); !errors.Is(err, ErrPageRange) {
			t.Errorf("RenderPage(%d) err = %v, want ErrPageRange", p, err)
		}
	}
}

func TestRenderAfterClose(t *testing.T) {
	doc, err := Open(buildPDF([][4]int{{0, 0, 10, 10}}, nil))
	if err != nil {
		t.Fatal(err)
	}
	if err := doc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := doc.Close(); err != nil {
		t.Fatalf("second Close = %v", err)
	}
	if _, err := doc.RenderPage(context.Background(), 1, 1); !errors.Is(err, ErrRenderFailure) {
		t.Errorf("RenderPage after Close err = %v", err)
	}
}

func TestRenderCancelled(t *testing.T) {
	doc, err := Open(buildPDF([][4]int{{0, 0, 10, 10}}, nil))
	if err != nil {
		t.Fatal(err)
	}
	defer doc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := doc.RenderPage(ctx, 1, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	if _, err := Open([]byte("not a pdf")); err == nil {
		t.Fatal("expected error")
	}
}
