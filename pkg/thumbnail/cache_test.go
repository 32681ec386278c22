package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// gatedHost renders a page only after the test releases it
type gatedHost struct {
	mu     sync.Mutex
	calls  map[int]int
	gates  map[int]chan error
	width  int
	height int
}

func newGatedHost() *gatedHost {
	return &gatedHost{
		calls:  make(map[int]int),
		gates:  make(map[int]chan error),
		width:  100,
		height: 140,
	}
}

func (h *gatedHost) gate(page int) chan error {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, ok := h.gates[page]
	if !ok {
		g = make(chan error, 1)
		h.gates[page] = g
	}
	return g
}

func (h *gatedHost) RenderPage(_ context.Context, page int, _ float64) (image.Image, error) {
	h.mu.Lock()
	h.calls[page]++
	h.mu.Unlock()

	if err := <-h.gate(page); err != nil {
		return nil, err
	}
	return image.NewRGBA(image.Rect(0, 0, h.width, h.height)), nil
}

func (h *gatedHost) release(page int, err error) {
	h.gate(page) <- err
}

func (h *gatedHost) callCount() map[int]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[int]int, len(h.calls))
	for k, v := range h.calls {
		out[k] = v
	}
	return out
}

func waitFor(t *testing.T, ch <-chan int, want int) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("ready page %d, want %d", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for page %d", want)
	}
}

func TestEnsureRangeRendersEachPageOnce(t *testing.T) {
	host := newGatedHost()
	m := NewManager(host, Options{})
	m.Open(10)

	if got := m.EnsureRange(5, 12); got != 6 {
		t.Fatalf("first EnsureRange issued %d renders, want 6", got)
	}
	if got := m.EnsureRange(8, 15); got != 0 {
		t.Fatalf("overlapping EnsureRange issued %d renders, want 0", got)
	}
	if got := m.EnsureRange(3, 6); got != 2 {
		t.Fatalf("EnsureRange(3, 6) issued %d renders, want 2", got)
	}

	for p := 3; p <= 10; p++ {
		host.release(p, nil)
	}
	m.Wait()

	if got := m.EnsureRange(1, 12); got != 2 {
		t.Fatalf("EnsureRange(1, 12) issued %d renders, want 2 (pages 1 and 2)", got)
	}
	host.release(1, nil)
	host.release(2, nil)
	m.Wait()

	want := map[int]int{1: 1, 2: 1, 3: 1, 4: 1, 5: 1, 6: 1, 7: 1, 8: 1, 9: 1, 10: 1}
	if diff := cmp.Diff(want, host.callCount()); diff != "" {
		t.Errorf("render calls mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, m.Cached()); diff != "" {
		t.Errorf("cached pages mismatch (-want +got):\n%s", diff)
	}
}

func TestOutOfOrderCompletion(t *testing.T) {
	host := newGatedHost()
	ready := make(chan int, 2)
	m := NewManager(host, Options{OnReady: func(p int) { ready <- p }})
	m.Open(5)

	m.EnsureRange(3, 3)
	m.EnsureRange(4, 4)

	host.release(4, nil)
	waitFor(t, ready, 4)
	if _, ok := m.Get(3); ok {
		t.Fatal("page 3 cached before its render completed")
	}
	if !m.Pending(3) {
		t.Fatal("page 3 should still be pending")
	}

	host.release(3, nil)
	waitFor(t, ready, 3)

	for _, p := range []int{3, 4} {
		th, ok := m.Get(p)
		if !ok || th.Page != p {
			t.Errorf("Get(%d) = %+v, %v", p, th, ok)
		}
	}
}

func TestCloseDiscardsInFlightRenders(t *testing.T) {
	host := newGatedHost()
	var (
		mu     sync.Mutex
		writes int
	)
	m := NewManager(host, Options{
		OnReady:  func(int) { mu.Lock(); writes++; mu.Unlock() },
		OnFailed: func(int, error) { mu.Lock(); writes++; mu.Unlock() },
	})
	m.Open(10)
	if got := m.EnsureRange(1, 3); got != 3 {
		t.Fatalf("issued %d renders, want 3", got)
	}
	m.Close()

	for p := 1; p <= 3; p++ {
		host.release(p, nil)
	}
	m.Wait()

	if writes != 0 {
		t.Errorf("%d completions reached a closed session", writes)
	}
	if got := m.Cached(); len(got) != 0 {
		t.Errorf("closed manager has cached pages %v", got)
	}
	if got := m.EnsureRange(1, 3); got != 0 {
		t.Errorf("closed manager issued %d renders", got)
	}
}

func TestReopenDropsStaleGeneration(t *testing.T) {
	host := newGatedHost()
	m := NewManager(host, Options{})
	m.Open(4)
	first := m.Epoch()
	m.EnsureRange(1, 1)

	m.Open(4)
	if m.Epoch() == first {
		t.Fatal("Open did not start a new generation")
	}
	host.release(1, nil)
	m.Wait()

	if _, ok := m.Get(1); ok {
		t.Fatal("stale completion was written into the new generation")
	}
	if got := m.EnsureRange(1, 1); got != 1 {
		t.Fatalf("new generation issued %d renders, want 1", got)
	}
	host.release(1, nil)
	m.Wait()
	if _, ok := m.Get(1); !ok {
		t.Fatal("page 1 not cached after render")
	}
}

func TestRenderFailureRetriedOnNextRequest(t *testing.T) {
	host := newGatedHost()
	failed := make(chan int, 1)
	m := NewManager(host, Options{OnFailed: func(p int, _ error) { failed <- p }})
	m.Open(3)

	boom := errors.New("boom")
	m.EnsureRange(2, 2)
	host.release(2, boom)
	waitFor(t, failed, 2)

	if _, ok := m.Get(2); ok {
		t.Fatal("failed page must stay absent")
	}
	if err := m.Failed(2); !errors.Is(err, boom) {
		t.Fatalf("Failed(2) = %v", err)
	}

	if got := m.EnsureRange(2, 2); got != 1 {
		t.Fatalf("re-entering the visible range issued %d renders, want 1", got)
	}
	if m.Failed(2) != nil {
		t.Fatal("failure should be cleared once the page is requested again")
	}
	host.release(2, nil)
	m.Wait()
	if _, ok := m.Get(2); !ok {
		t.Fatal("retry did not cache the page")
	}
}

func TestThumbnailFitsMaxWidth(t *testing.T) {
	host := newGatedHost()
	host.width, host.height = 480, 600
	m := NewManager(host, Options{MaxWidth: 240})
	m.Open(1)
	m.EnsureRange(1, 1)
	host.release(1, nil)
	m.Wait()

	th, ok := m.Get(1)
	if !ok {
		t.Fatal("page 1 not cached")
	}
	if th.Width != 240 || th.Height != 300 {
		t.Errorf("thumbnail is %dx%d, want 240x300", th.Width, th.Height)
	}
	img, err := png.Decode(bytes.NewReader(th.PNG))
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 240 || b.Dy() != 300 {
		t.Errorf("decoded PNG is %v", b)
	}
}
