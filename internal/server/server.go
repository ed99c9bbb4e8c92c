// Package server exposes detection sessions over HTTP: it opens pages,
// relays messaging actions to their engines and serves the viewer.
package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"mangalens/internal/settings"
)

const defaultIndexHTML = `<!DOCTYPE html>
<html><body>
<h1>mangalens</h1>
<p>POST /sessions {"url": "...", "mode": "live"|"static"} to open a page,
then POST /sessions/{id}/message {"action": "launchViewer"}.</p>
</body></html>`

const (
	defaultSitesDir    = "config/sites"
	defaultSettingsDir = "data"
)

// Config describes server wiring and runtime behaviour.
type Config struct {
	IndexHTML   string
	SettingsDir string
	SitesDir    string
	// BrowserPath selects the Chrome binary. "off" disables live sessions.
	BrowserPath string
	MinAccept   int
	Debounce    time.Duration

	FetchTimeout time.Duration
	// SessionTTL closes sessions idle for longer. Zero keeps them.
	SessionTTL time.Duration

	Logger *log.Logger
	Clock  func() time.Time
	// Store and Opener override the defaults built from the fields above.
	Store  settings.Store
	Opener PageOpener
}

// DefaultConfig populates configuration from environment variables.
func DefaultConfig() Config {
	cfg := Config{
		IndexHTML:   defaultIndexHTML,
		Logger:      log.Default(),
		Clock:       time.Now,
		SettingsDir: strings.TrimSpace(os.Getenv("MANGALENS_SETTINGS")),
		SitesDir:    strings.TrimSpace(os.Getenv("MANGALENS_SITES_DIR")),
		BrowserPath: strings.TrimSpace(os.Getenv("MANGALENS_BROWSER")),
	}
	if cfg.SettingsDir == "" {
		cfg.SettingsDir = defaultSettingsDir
	}
	if cfg.SitesDir == "" {
		cfg.SitesDir = defaultSitesDir
	}
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv("MANGALENS_MIN_ACCEPT"))); err == nil && v > 0 {
		cfg.MinAccept = v
	}
	cfg.SessionTTL = 30 * time.Minute
	if v, err := time.ParseDuration(strings.TrimSpace(os.Getenv("MANGALENS_SESSION_TTL"))); err == nil && v > 0 {
		cfg.SessionTTL = v
	}
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv("MANGALENS_DEBOUNCE_MS"))); err == nil && v > 0 {
		cfg.Debounce = time.Duration(v) * time.Millisecond
	}
	return cfg
}

// Server exposes the HTTP handlers.
type Server struct {
	cfg        Config
	mux        *http.ServeMux
	handler    http.Handler
	logger     *log.Logger
	store      settings.Store
	opener     PageOpener
	sessions   *sessionStore
	cookieJars *cookieJarStore
	clock      func() time.Time
}

// New wires a server. A settings directory that cannot be opened falls back
// to memory-only settings.
func New(cfg Config) *Server {
	if cfg.IndexHTML == "" {
		cfg.IndexHTML = defaultIndexHTML
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	s := &Server{
		cfg:        cfg,
		mux:        http.NewServeMux(),
		logger:     cfg.Logger,
		store:      cfg.Store,
		opener:     cfg.Opener,
		sessions:   newSessionStore(cfg.Clock),
		cookieJars: newCookieJarStore(),
		clock:      cfg.Clock,
	}
	if s.store == nil {
		fs, err := settings.NewFileStore(settings.Options{Dir: cfg.SettingsDir, PresetsDir: cfg.SitesDir})
		if err != nil {
			s.logger.Printf("settings: %v; using memory store", err)
			fs, _ = settings.NewFileStore(settings.Options{PresetsDir: cfg.SitesDir})
		}
		s.store = fs
	}
	if s.opener == nil && !strings.EqualFold(cfg.BrowserPath, "off") {
		s.opener = newBrowserOpener(cfg.BrowserPath, s.logger)
	}
	s.registerRoutes()
	s.handler = withLogging(s.logger, s.mux)
	return s
}

// NewServer builds a server from the environment.
func NewServer() *Server {
	return New(DefaultConfig())
}

// Handler exposes the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler { return s }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close tears down every session and the browser.
func (s *Server) Close() {
	for _, sess := range s.sessions.DeleteAll() {
		sess.close()
	}
	if c, ok := s.opener.(interface{ Close() }); ok {
		c.Close()
	}
}

// Shutdown is Close bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /ping", s.handlePing)
	s.mux.HandleFunc("POST /sessions", s.handleOpen)
	s.mux.HandleFunc("GET /sessions/{id}", s.handleSession)
	s.mux.HandleFunc("DELETE /sessions/{id}", s.handleClose)
	s.mux.HandleFunc("POST /sessions/{id}/message", s.handleMessage)
	s.mux.HandleFunc("GET /sessions/{id}/viewer", s.handleViewer)
	s.mux.HandleFunc("POST /sessions/{id}/viewer/{dir}", s.handleTurn)
	s.mux.HandleFunc("POST /sessions/{id}/load-all", s.handleLoadAll)
}
