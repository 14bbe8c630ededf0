// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/mattkenney/soc/archive"
	"github.com/mattkenney/soc/pkg/soc"
	"github.com/mattkenney/soc/twitter"
)

//go:embed tmpl/*.tmpl
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Templates.
var templates = template.Must(template.ParseFS(templateFS, "tmpl/*.tmpl"))

// Engine resolves navigation against the per-user timeline cache.
type Engine interface {
	Navigate(ctx context.Context, uid string, delta int, currentID string) (*soc.Status, int, error)
	LookupByID(ctx context.Context, uid, id, followURL string) (*soc.Status, error)
}

// EngineFactory binds an engine to a session's upstream credentials.
type EngineFactory func(token, secret string) Engine

// Auth runs the upstream login ceremony.
type Auth interface {
	RequestToken(ctx context.Context, callback string) (token, secret string, err error)
	AuthorizeURL(requestToken string) string
	AccessToken(ctx context.Context, requestToken, requestSecret, verifier string) (token, secret string, err error)
	Verify(ctx context.Context, token, secret string) (*twitter.Account, error)
}

// Store is the slice of the shared store the handlers need.
type Store interface {
	PocketToken(ctx context.Context, uid string) (string, error)
	SetPocketToken(ctx context.Context, uid string, token string) error
	DeletePocketToken(ctx context.Context, uid string) error
	SweepSessions(ctx context.Context, cutoff time.Time) (int, error)
}

// Sessions manages the browser's login state.
type Sessions interface {
	Get(ctx context.Context, r *http.Request) (*soc.Session, error)
	Create(ctx context.Context, w http.ResponseWriter) (*soc.Session, error)
	Save(ctx context.Context, sess *soc.Session) error
	Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

// IsNotFound checks if an error is a not found error.
type IsNotFound func(error) bool

// Server handles HTTP requests.
type Server struct {
	engine         EngineFactory
	auth           Auth
	archiver       archive.Provider
	store          Store
	sessions       Sessions
	logger         *slog.Logger
	isNotFound     IsNotFound
	baseURL        string
	basePath       string
	sessionTimeout time.Duration
}

// Config holds server configuration.
type Config struct {
	Engine         EngineFactory
	Auth           Auth
	Archiver       archive.Provider
	Store          Store
	Sessions       Sessions
	Logger         *slog.Logger
	IsNotFound     IsNotFound
	BaseURL        string
	BasePath       string
	SessionTimeout time.Duration
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		engine:         cfg.Engine,
		auth:           cfg.Auth,
		archiver:       cfg.Archiver,
		store:          cfg.Store,
		sessions:       cfg.Sessions,
		logger:         cfg.Logger,
		isNotFound:     cfg.IsNotFound,
		baseURL:        cfg.BaseURL,
		basePath:       cfg.BasePath,
		sessionTimeout: cfg.SessionTimeout,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/sweepz", s.handleSweep)
	mux.HandleFunc("/auth/twitter", s.handleTwitterAuth)
	mux.HandleFunc("/auth/twitter/callback", s.handleTwitterCallback)
	mux.HandleFunc("/auth/pocket", s.handlePocketAuth)
	mux.HandleFunc("/auth/pocket/callback", s.handlePocketCallback)
	mux.HandleFunc("/auth/info", s.handleInfo)
	mux.HandleFunc("/auth/failure", s.handleFailure)
	// Serve static assets from the embedded filesystem
	mux.Handle("/static/", http.FileServer(http.FS(staticFS)))
	return mux
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(port string) error {
	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "port", port)
	return server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Sweep endpoint triggered")

	removed, err := s.store.SweepSessions(r.Context(), time.Now().Add(-s.sessionTimeout))
	if err != nil {
		s.logger.Error("Session sweep failed", "error", err)
		http.Error(w, "Sweep failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintf(w, `{"status":"completed","removed":%d}`, removed); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

// requireSession returns the logged-in session, or redirects to the
// login ceremony and returns nil.
func (s *Server) requireSession(w http.ResponseWriter, r *http.Request) *soc.Session {
	sess, err := s.sessions.Get(r.Context(), r)
	if err != nil {
		s.logger.Error("Session load failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil
	}
	if !sess.LoggedIn() {
		http.Redirect(w, r, "/auth/twitter", http.StatusFound)
		return nil
	}
	return sess
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:")
}
