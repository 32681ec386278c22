package session

import (
	"encoding/json"
	"errors"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"pdf-annotator/pkg/annotation"
	"pdf-annotator/pkg/render"
	"pdf-annotator/pkg/state"
	"pdf-annotator/pkg/stroke"
	"pdf-annotator/pkg/thumbnail"

	"github.com/gorilla/websocket"
)

// Source is the page render host for one open file
type Source interface {
	thumbnail.RenderHost
	NumPages() int
	Close() error
}

// OpenFunc opens a render host over raw file content
type OpenFunc func(content []byte) (Source, error)

// OpenPDF opens content with the PDF page render host
func OpenPDF(content []byte) (Source, error) {
	doc, err := render.Open(content)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

type Options struct {
	ThumbnailScale float64
	ThumbnailWidth int
	// Lookahead is the number of pages rendered past the visible range
	Lookahead     int
	EraserRadius  float64
	CloseWhenIdle bool
	// IdleTimeout closes a session that no client has joined within this
	// time, such as one opened only to serve thumbnails. Requires CloseWhenIdle.
	IdleTimeout time.Duration
	// NewAnnotationID overrides uuid ids, for tests
	NewAnnotationID func() string
}

// Client represents a connected viewer of a session
type Client struct {
	ID       string          `json:"-"`
	Username string          `json:"username"`
	Conn     *websocket.Conn `json:"-"`
	Session  *Session        `json:"-"`
	Send     chan []byte     `json:"-"`

	tool     stroke.Tool
	recorder *stroke.Recorder
}

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Event is a message from a client, processed on the session loop
type Event struct {
	Client  *Client
	Message Message
}

// Session is one open document shared by its connected viewers. All events
// are processed in order on a single goroutine.
type Session struct {
	ID         string
	Clients    map[string]*Client
	Register   chan *Client
	Unregister chan *Client
	Events     chan Event
	Broadcast  chan []byte

	state  state.Provider
	source Source
	thumbs *thumbnail.Manager
	opts   Options
	onIdle func()

	done      chan struct{}
	closeOnce sync.Once
	mutex     sync.RWMutex
}

// Manager manages all open sessions
type Manager struct {
	sessions map[string]*Session
	mutex    sync.Mutex
	State    state.Provider
	open     OpenFunc
	opts     Options
}

// NewManager creates a session manager. A nil open uses OpenPDF.
func NewManager(provider state.Provider, open OpenFunc, opts Options) *Manager {
	if open == nil {
		open = OpenPDF
	}
	return &Manager{
		sessions: make(map[string]*Session),
		State:    provider,
		open:     open,
		opts:     opts,
	}
}

// GetOrCreate returns the open session for a document, opening its file
// and starting a new thumbnail generation if necessary
func (m *Manager) GetOrCreate(docID string) (*Session, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if s, ok := m.sessions[docID]; ok {
		return s, nil
	}

	doc, err := m.State.Document(docID)
	if err != nil {
		return nil, err
	}
	file, err := m.State.File(doc.FileID)
	if err != nil {
		return nil, err
	}
	src, err := m.open(file.Content)
	if err != nil {
		return nil, err
	}
	if _, err := m.State.SetTotalPages(docID, src.NumPages()); err != nil {
		src.Close()
		return nil, err
	}

	s := &Session{
		ID:         docID,
		Clients:    make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Events:     make(chan Event, 256),
		Broadcast:  make(chan []byte, 256),
		state:      m.State,
		source:     src,
		opts:       m.opts,
		done:       make(chan struct{}),
	}
	s.thumbs = thumbnail.NewManager(src, thumbnail.Options{
		Scale:    m.opts.ThumbnailScale,
		MaxWidth: m.opts.ThumbnailWidth,
		OnReady:  s.thumbnailReady,
		OnFailed: s.thumbnailFailed,
	})
	s.thumbs.Open(src.NumPages())
	if m.opts.CloseWhenIdle {
		s.onIdle = func() { m.closeSession(s) }
	}

	m.sessions[docID] = s
	go s.run()

	log.Printf("Opened session %s (%d pages)", docID, src.NumPages())
	return s, nil
}

// Get returns an already open session
func (m *Manager) Get(docID string) (*Session, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	s, ok := m.sessions[docID]
	return s, ok
}

// Close ends the session of a document if it is open
func (m *Manager) Close(docID string) {
	m.mutex.Lock()
	s, ok := m.sessions[docID]
	delete(m.sessions, docID)
	m.mutex.Unlock()

	if ok {
		s.close()
	}
}

// CloseAll ends every open session
func (m *Manager) CloseAll() {
	m.mutex.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mutex.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

func (m *Manager) closeSession(s *Session) {
	m.mutex.Lock()
	if m.sessions[s.ID] == s {
		delete(m.sessions, s.ID)
	}
	m.mutex.Unlock()
	s.close()
}

// NewClient creates a client attached to s with its own stroke recorder
func (s *Session) NewClient(id, username string, conn *websocket.Conn) *Client {
	return &Client{
		ID:       id,
		Username: username,
		Conn:     conn,
		Session:  s,
		Send:     make(chan []byte, 256),
		tool:     stroke.Tool{Active: stroke.ToolNone},
		recorder: stroke.NewRecorder(s.opts.NewAnnotationID),
	}
}

// Done is closed once the session has ended
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Thumbnails exposes the session's thumbnail cache
func (s *Session) Thumbnails() *thumbnail.Manager {
	return s.thumbs
}

// EnsureVisible renders the visible range plus the configured lookahead
func (s *Session) EnsureVisible(start, end int) int {
	return s.thumbs.EnsureRange(start, end+s.opts.Lookahead)
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.thumbs.Close()
		if err := s.source.Close(); err != nil {
			log.Printf("Error closing source of session %s: %v", s.ID, err)
		}

		s.mutex.Lock()
		for id, c := range s.Clients {
			close(c.Send)
			delete(s.Clients, id)
		}
		s.mutex.Unlock()
		log.Printf("Closed session %s", s.ID)
	})
}

// run handles session events
func (s *Session) run() {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("panic in session.run: %v\n%s", rec, debug.Stack())
		}
	}()

	var idle <-chan time.Time
	if s.onIdle != nil && s.opts.IdleTimeout > 0 {
		timer := time.NewTimer(s.opts.IdleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case <-s.done:
			return

		case <-idle:
			idle = nil
			s.mutex.RLock()
			n := len(s.Clients)
			s.mutex.RUnlock()
			if n == 0 {
				log.Printf("Session %s had no clients for %v", s.ID, s.opts.IdleTimeout)
				s.onIdle()
				return
			}

		case client := <-s.Register:
			idle = nil
			s.mutex.Lock()
			s.Clients[client.ID] = client
			s.mutex.Unlock()
			s.sendSnapshot(client)
			s.broadcast(map[string]interface{}{
				"type":     "user_joined",
				"id":       client.ID,
				"username": client.Username,
			}, client.ID)
			log.Printf("Client %s joined session %s", client.ID, s.ID)

		case client := <-s.Unregister:
			s.mutex.Lock()
			_, ok := s.Clients[client.ID]
			if ok {
				delete(s.Clients, client.ID)
				close(client.Send)
			}
			remaining := len(s.Clients)
			s.mutex.Unlock()
			if !ok {
				continue
			}

			s.broadcast(map[string]interface{}{
				"type":     "user_left",
				"id":       client.ID,
				"username": client.Username,
			}, "")
			log.Printf("Client %s left session %s", client.ID, s.ID)
			if remaining == 0 && s.onIdle != nil {
				s.onIdle()
				return
			}

		case ev := <-s.Events:
			s.handle(ev.Client, ev.Message)

		case message := <-s.Broadcast:
			s.broadcastRaw(message, "")
		}
	}
}

func (s *Session) thumbnailReady(page int) {
	s.post(map[string]interface{}{"type": "thumbnail_ready", "page": page})
}

func (s *Session) thumbnailFailed(page int, err error) {
	s.post(map[string]interface{}{"type": "thumbnail_failed", "page": page, "error": err.Error()})
}

// post queues a message for every client from outside the session loop
func (s *Session) post(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Error encoding message for session %s: %v", s.ID, err)
		return
	}
	select {
	case s.Broadcast <- data:
	case <-s.done:
	}
}

func (s *Session) sendSnapshot(c *Client) {
	doc, err := s.state.Document(s.ID)
	if err != nil {
		s.sendError(c, err)
		return
	}
	s.send(c, map[string]interface{}{
		"type":        "snapshot",
		"client_id":   c.ID,
		"document":    doc,
		"annotations": annotation.Visible(doc.Annotations, doc.CurrentPage),
		"thumbnails":  s.thumbs.Cached(),
		"users":       s.GetUsers(),
	})
}

func (s *Session) send(c *Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Error encoding message for %s: %v", c.ID, err)
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.Clients[c.ID]; !ok {
		return
	}
	select {
	case c.Send <- data:
	default:
		close(c.Send)
		delete(s.Clients, c.ID)
	}
}

func (s *Session) sendError(c *Client, err error) {
	s.send(c, map[string]interface{}{"type": "error", "error": err.Error()})
}

func (s *Session) broadcast(v interface{}, excludeClientID string) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Error encoding broadcast for session %s: %v", s.ID, err)
		return
	}
	s.broadcastRaw(data, excludeClientID)
}

func (s *Session) broadcastRaw(data []byte, excludeClientID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for id, client := range s.Clients {
		if id == excludeClientID {
			continue
		}
		select {
		case client.Send <- data:
		default:
			// drop slow clients
			close(client.Send)
			delete(s.Clients, id)
		}
	}
}

// GetUsers returns a list of users currently in the session
func (s *Session) GetUsers() []User {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	users := make([]User, 0, len(s.Clients))
	for _, client := range s.Clients {
		users = append(users, User{
			ID:       client.ID,
			Username: client.Username,
		})
	}

	return users
}

// ignorable reports whether err is a recoverable per-event condition
func ignorable(err error) bool {
	return errors.Is(err, state.ErrUnsupportedAnnotationTarget)
}
