package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"pdf-annotator/pkg/annotation"
	"pdf-annotator/pkg/db"
	"pdf-annotator/pkg/session"
	"pdf-annotator/pkg/state"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const maxUploadSize = 64 << 20

// Handlers contains all HTTP and WebSocket handlers
type Handlers struct {
	sessions *session.Manager
	state    state.Provider
	store    db.IDocumentStore
	open     session.OpenFunc
}

// NewHandlers creates a new handlers instance. open validates uploads.
func NewHandlers(sessions *session.Manager, provider state.Provider, store db.IDocumentStore, open session.OpenFunc) *Handlers {
	if open == nil {
		open = session.OpenPDF
	}
	return &Handlers{
		sessions: sessions,
		state:    provider,
		store:    store,
		open:     open,
	}
}

// Register adds every route to r
func (h *Handlers) Register(r *mux.Router) {
	// WebSocket endpoint for the viewer session
	r.HandleFunc("/ws/{documentId}", h.HandleWebSocket)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/documents", h.CreateDocument).Methods("POST")
	api.HandleFunc("/documents", h.ListDocuments).Methods("GET")
	api.HandleFunc("/documents/{id}", h.GetDocument).Methods("GET")
	api.HandleFunc("/documents/{id}", h.DeleteDocument).Methods("DELETE")
	api.HandleFunc("/documents/{id}/annotations", h.ListAnnotations).Methods("GET")
	api.HandleFunc("/documents/{id}/save", h.SaveDocument).Methods("POST")
	api.HandleFunc("/documents/{id}/download", h.DownloadDocument).Methods("GET")
	api.HandleFunc("/documents/{id}/thumbnails/{page:[0-9]+}", h.GetThumbnail).Methods("GET")
	api.HandleFunc("/sessions/{id}/users", h.GetSessionUsers).Methods("GET")
}

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// HandleWebSocket attaches a viewer to the session of a document
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["documentId"]

	s, err := h.sessions.GetOrCreate(docID)
	if err != nil {
		log.Printf("Error opening session %s: %v", docID, err)
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	username := r.URL.Query().Get("username")
	if username == "" {
		username = "Anonymous"
	}

	client := s.NewClient(uuid.New().String(), username, conn)

	go h.writePump(client)
	go h.readPump(client)

	select {
	case s.Register <- client:
	case <-s.Done():
		close(client.Send)
	}
}

// readPump handles reading messages from the WebSocket
func (h *Handlers) readPump(c *session.Client) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("panic in readPump for %s: %v\n%s", c.ID, r, debug.Stack())
		}
		select {
		case c.Session.Unregister <- c:
		case <-c.Session.Done():
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(16 << 10)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket unexpected close for %s: %v", c.ID, err)
			}
			return
		}

		var msg session.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Error parsing message from %s: %v", c.ID, err)
			continue
		}

		select {
		case c.Session.Events <- session.Event{Client: c, Message: msg}:
		case <-c.Session.Done():
			return
		}
	}
}

// writePump handles writing messages to the WebSocket
func (h *Handlers) writePump(c *session.Client) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		select {
		case c.Session.Unregister <- c:
		case <-c.Session.Done():
		}
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// channel closed: send close and return
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WebSocket write error for %s: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("Ping error for %s: %v", c.ID, err)
				return
			}
		}
	}
}

// CreateDocument uploads a PDF and creates a document for it. The file is
// read from the multipart field "file", or from the raw request body.
func (h *Handlers) CreateDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	var (
		name, contentType string
		content           []byte
		err               error
	)
	title := r.URL.Query().Get("title")

	if f, hdr, ferr := r.FormFile("file"); ferr == nil {
		defer f.Close()
		name, contentType = hdr.Filename, hdr.Header.Get("Content-Type")
		content, err = io.ReadAll(f)
		if t := r.FormValue("title"); t != "" {
			title = t
		}
	} else {
		name, contentType = r.URL.Query().Get("name"), r.Header.Get("Content-Type")
		content, err = io.ReadAll(r.Body)
	}
	if err != nil {
		http.Error(w, "Failed to read upload", http.StatusBadRequest)
		return
	}
	if len(content) == 0 {
		http.Error(w, "Empty upload", http.StatusBadRequest)
		return
	}
	if name == "" {
		name = "document.pdf"
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = "application/pdf"
	}
	if title == "" {
		title = name
	}

	src, err := h.open(content)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid PDF: %v", err), http.StatusBadRequest)
		return
	}
	src.Close()

	file, err := h.store.CreateFile(name, contentType, content)
	if err != nil {
		log.Printf("Failed to store upload %s: %v", name, err)
		http.Error(w, "Failed to store file", http.StatusInternalServerError)
		return
	}
	doc, err := h.store.CreateDocument(title, file.ID)
	if err != nil {
		log.Printf("Failed to create document for %s: %v", file.ID, err)
		http.Error(w, "Failed to create document", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

// ListDocuments returns a list of documents
func (h *Handlers) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.ListDocuments()
	if err != nil {
		http.Error(w, "Failed to list documents", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []*db.Document{}
	}

	writeJSON(w, http.StatusOK, docs)
}

// GetDocument returns the working copy of a document
func (h *Handlers) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.state.Document(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// DeleteDocument closes the document's session and deletes it
func (h *Handlers) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.store.DeleteDocument(id); err != nil {
		writeError(w, err)
		return
	}
	h.sessions.Close(id)
	h.state.Forget(id)

	w.WriteHeader(http.StatusNoContent)
}

// ListAnnotations returns the annotations of one page, or of the current page
func (h *Handlers) ListAnnotations(w http.ResponseWriter, r *http.Request) {
	doc, err := h.state.Document(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	page := doc.CurrentPage
	if p := r.URL.Query().Get("page"); p != "" {
		page, err = strconv.Atoi(p)
		if err != nil || page < 1 {
			http.Error(w, "Invalid page", http.StatusBadRequest)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"page":        page,
		"annotations": annotation.Visible(doc.Annotations, page),
	})
}

// SaveDocument persists annotations and view state
func (h *Handlers) SaveDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.state.SaveDocument(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// DownloadDocument sends the original PDF, or the annotation set with
// ?format=annotations
func (h *Handlers) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	dl, err := h.state.DownloadDocument(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "annotations" {
		writeJSON(w, http.StatusOK, dl)
		return
	}

	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dl.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(dl.Content)))
	w.WriteHeader(http.StatusOK)
	w.Write(dl.Content)
}

// GetThumbnail serves a cached thumbnail. Uncached pages are requested from
// the render host and answered with 202 until the render completes.
func (h *Handlers) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	page, err := strconv.Atoi(vars["page"])
	if err != nil {
		http.Error(w, "Invalid page", http.StatusBadRequest)
		return
	}

	s, err := h.sessions.GetOrCreate(vars["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	thumbs := s.Thumbnails()
	if page < 1 || page > thumbs.Total() {
		http.Error(w, "Page out of range", http.StatusNotFound)
		return
	}

	if t, ok := thumbs.Get(page); ok {
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "private, max-age=3600")
		w.Write(t.PNG)
		return
	}

	s.EnsureVisible(page, page)
	w.Header().Set("Retry-After", "1")
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"page":    page,
		"pending": true,
	})
}

// GetSessionUsers returns the list of users viewing a document
func (h *Handlers) GetSessionUsers(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	users := []session.User{}
	if s, ok := h.sessions.Get(id); ok {
		users = s.GetUsers()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"document_id": id,
		"users":       users,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrDocumentNotFound), errors.Is(err, db.ErrFileNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		log.Printf("Request failed: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
