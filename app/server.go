package app

import (
	"log"
	"net/http"

	"pdf-annotator/pkg/config"
	"pdf-annotator/pkg/db"
	"pdf-annotator/pkg/handlers"
	"pdf-annotator/pkg/session"
	"pdf-annotator/pkg/state"

	"github.com/gorilla/mux"
)

// Server represents the application server
type Server struct {
	router   *mux.Router
	sessions *session.Manager
	handlers *handlers.Handlers
	docStore db.IDocumentStore
	config   *config.Config
}

// NewServer creates a new server instance
func NewServer() *Server {
	// Load configuration
	cfg := config.Load()

	var docStore db.IDocumentStore
	switch cfg.Storage {
	case "memory":
		log.Printf("Using in-memory document storage")
		docStore = db.NewMemoryDocumentStore()
	default:
		pg, err := db.NewPostgresDocumentStore(cfg.GetDatabaseConnectionString())
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		docStore = pg
	}

	return newServer(cfg, docStore, session.OpenPDF)
}

func newServer(cfg *config.Config, docStore db.IDocumentStore, open session.OpenFunc) *Server {
	provider := state.NewStore(docStore)
	sessions := session.NewManager(provider, open, session.Options{
		ThumbnailScale: cfg.ThumbnailScale,
		ThumbnailWidth: cfg.ThumbnailWidth,
		Lookahead:      cfg.ThumbnailLookahead,
		EraserRadius:   cfg.EraserRadius,
		CloseWhenIdle:  true,
		IdleTimeout:    cfg.SessionIdleTimeout,
	})

	// Initialize handlers
	h := handlers.NewHandlers(sessions, provider, docStore, open)

	// Setup routes
	r := mux.NewRouter()
	h.Register(r)

	return &Server{
		router:   r,
		sessions: sessions,
		handlers: h,
		docStore: docStore,
		config:   cfg,
	}
}

// Handler returns the routed handler wrapped in CORS handling
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.router)
}

// Start starts the server
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = s.config.GetServerAddr()
	}
	log.Printf("Starting PDF annotator server on %s", addr)
	// Preflight requests are answered before mux does method-based
	// matching, which would otherwise return 405.
	return http.ListenAndServe(addr, s.Handler())
}

// corsMiddleware handles CORS headers and responds to preflight requests
// at the outer layer so they don't get rejected by method-restricted routes.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		// Echo requested headers; otherwise allow common headers
		if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
			w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
		} else {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition, Retry-After")
		w.Header().Set("Access-Control-Max-Age", "600")

		w.Header().Add("Vary", "Origin")
		w.Header().Add("Vary", "Access-Control-Request-Headers")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Close ends all sessions and closes database connections
func (s *Server) Close() error {
	s.sessions.CloseAll()
	if postgresStore, ok := s.docStore.(*db.PostgresDocumentStore); ok {
		return postgresStore.Close()
	}
	return nil
}
