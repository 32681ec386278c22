package thumbnail

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log"
	"runtime/debug"
	"sort"
	"sync"

	"golang.org/x/image/draw"
)

// RenderHost turns a page number and scale into pixels
type RenderHost interface {
	RenderPage(ctx context.Context, page int, scale float64) (image.Image, error)
}

// Thumbnail is a rendered page preview. Once cached it never changes.
type Thumbnail struct {
	Page   int    `json:"page"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	PNG    []byte `json:"-"`
}

type Options struct {
	// Scale is the fixed render scale, independent of the document zoom
	Scale float64
	// MaxWidth fits wider renders to this many pixels; 0 disables fitting
	MaxWidth int
	// OnReady is called after a page has been cached
	OnReady func(page int)
	// OnFailed is called when the render host rejected a page
	OnFailed func(page int, err error)
}

const (
	DefaultScale    = 0.5
	DefaultMaxWidth = 240
)

// Manager lazily renders and caches thumbnails for one open document.
// Pages are rendered on first request and kept until Close. Each Open starts
// a new generation; completions from an older generation are dropped.
type Manager struct {
	host RenderHost
	opts Options

	mu       sync.Mutex
	open     bool
	epoch    uint64
	total    int
	cancel   context.CancelFunc
	ctx      context.Context
	cached   map[int]*Thumbnail
	inflight map[int]bool
	failed   map[int]error

	wg sync.WaitGroup
}

func NewManager(host RenderHost, opts Options) *Manager {
	if opts.Scale <= 0 {
		opts.Scale = DefaultScale
	}
	return &Manager{host: host, opts: opts}
}

// Open starts a new generation for a document with total pages
func (m *Manager) Open(total int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	m.epoch++
	m.open = true
	m.total = total
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.cached = make(map[int]*Thumbnail)
	m.inflight = make(map[int]bool)
	m.failed = make(map[int]error)
}

// Close ends the current generation. Renders still in flight are cancelled
// and their results discarded.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return
	}
	m.epoch++
	m.open = false
	m.cancel()
	m.cancel = nil
	m.cached = nil
	m.inflight = nil
	m.failed = nil
}

// Epoch identifies the current generation
func (m *Manager) Epoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}

// Total is the page count the current generation was opened with
func (m *Manager) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// EnsureRange requests every page in [start, end] that is neither cached
// nor already rendering. Pages outside [1, total] are skipped. It returns
// the number of renders issued and never blocks on the render host.
func (m *Manager) EnsureRange(start, end int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return 0
	}
	start = max(start, 1)
	end = min(end, m.total)

	issued := 0
	for page := start; page <= end; page++ {
		if _, ok := m.cached[page]; ok || m.inflight[page] {
			continue
		}
		m.inflight[page] = true
		delete(m.failed, page)
		issued++

		m.wg.Add(1)
		go m.render(m.ctx, m.epoch, page)
	}
	return issued
}

func (m *Manager) render(ctx context.Context, epoch uint64, page int) {
	defer m.wg.Done()

	var (
		thumb *Thumbnail
		err   error
	)
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("panic rendering thumbnail for page %d: %v\n%s", page, rec, debug.Stack())
				err = fmt.Errorf("render page %d: %v", page, rec)
			}
		}()
		var img image.Image
		img, err = m.host.RenderPage(ctx, page, m.opts.Scale)
		if err == nil {
			thumb, err = encode(page, img, m.opts.MaxWidth)
		}
	}()

	m.mu.Lock()
	if !m.open || m.epoch != epoch {
		m.mu.Unlock()
		return
	}
	delete(m.inflight, page)
	if err != nil {
		m.failed[page] = err
	} else {
		m.cached[page] = thumb
	}
	m.mu.Unlock()

	if err != nil {
		log.Printf("Thumbnail render failed for page %d: %v", page, err)
		if m.opts.OnFailed != nil {
			m.opts.OnFailed(page, err)
		}
		return
	}
	if m.opts.OnReady != nil {
		m.opts.OnReady(page)
	}
}

func encode(page int, img image.Image, maxWidth int) (*Thumbnail, error) {
	if img == nil {
		return nil, fmt.Errorf("render page %d: no image", page)
	}
	b := img.Bounds()
	if maxWidth > 0 && b.Dx() > maxWidth {
		h := max(1, b.Dy()*maxWidth/b.Dx())
		dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
		img = dst
		b = dst.Bounds()
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode thumbnail for page %d: %w", page, err)
	}
	return &Thumbnail{Page: page, Width: b.Dx(), Height: b.Dy(), PNG: buf.Bytes()}, nil
}

// Get returns the cached thumbnail for page. Absence means the placeholder
// is still showing.
func (m *Manager) Get(page int) (*Thumbnail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.cached[page]
	return t, ok
}

// Pending reports whether page is currently rendering
func (m *Manager) Pending(page int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inflight[page]
}

// Failed returns the last render error for page, if any
func (m *Manager) Failed(page int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed[page]
}

// Cached lists the cached page numbers in ascending order
func (m *Manager) Cached() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	pages := make([]int, 0, len(m.cached))
	for p := range m.cached {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}

// Wait blocks until every issued render has returned
func (m *Manager) Wait() {
	m.wg.Wait()
}
