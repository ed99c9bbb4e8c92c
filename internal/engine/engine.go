// Package engine owns one detection session: its settings, the strategy
// orchestrator, the refresh controller and the viewer it feeds.
package engine

import (
	"context"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mangalens/detect"
	"mangalens/internal/page"
	"mangalens/internal/refresh"
	"mangalens/internal/settings"
	"mangalens/internal/viewer"
)

const (
	reasonLaunch   = "launch"
	persistTimeout = 10 * time.Second
)

// Config wires an engine.
type Config struct {
	Store     settings.Store
	MinAccept int
	Refresh   refresh.Config
	Logger    *log.Logger
}

// Session is the explicit per-page detection state.
type Session struct {
	ID      string
	Host    string
	Enabled bool
	// Mode is the active detection mode: Auto or a pinned strategy.
	Mode detect.Name
	// Detected is the strategy behind Results.
	Detected   detect.Name
	Results    []detect.Candidate
	MinAccept  int
	SinglePage bool
	// Background and Threshold mirror the global settings.
	Background string
	Threshold  float64
}

// Engine runs detection for one page source.
type Engine struct {
	src    page.Source
	store  settings.Store
	orch   *detect.Orchestrator
	ctrl   *refresh.Controller
	view   *viewer.Viewer
	logger *log.Logger

	mu       sync.Mutex
	session  Session
	stored   detect.Name
	flagged  map[string]struct{}
	handlers map[string]handlerFunc

	writes  sync.WaitGroup
	writeMu sync.Mutex
	seq     map[string]uint64
}

// New loads settings for the source's host and prepares a session. A
// settings failure is logged and leaves the session disabled.
func New(ctx context.Context, src page.Source, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Refresh.Logger == nil {
		cfg.Refresh.Logger = cfg.Logger
	}
	orch := detect.NewOrchestrator(cfg.MinAccept)
	e := &Engine{
		src:     src,
		store:   cfg.Store,
		orch:    orch,
		logger:  cfg.Logger,
		flagged: make(map[string]struct{}),
		seq:     make(map[string]uint64),
		session: Session{
			ID:        uuid.New().String(),
			Host:      hostOf(src.URL()),
			Mode:      detect.Auto,
			MinAccept: orch.MinAccept(),
		},
	}
	e.loadSettings(ctx)
	e.view = viewer.New(e.session.Background, e.session.SinglePage)
	e.view.SetToggleVisible(e.session.Enabled)
	e.ctrl = refresh.New(src, e.pass, cfg.Refresh)
	e.registerHandlers()
	return e
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func (e *Engine) loadSettings(ctx context.Context) {
	s := &e.session
	s.Background = settings.DefaultBackground
	s.Threshold = detect.DefaultCanvasThreshold
	if e.store == nil {
		e.logger.Printf("engine %s: no settings store, detection disabled", s.ID)
		return
	}
	site, err := e.store.Site(ctx, s.Host)
	if err != nil {
		e.logger.Printf("engine %s: load site settings for %q: %v", s.ID, s.Host, err)
		return
	}
	g, err := e.store.Global(ctx)
	if err != nil {
		e.logger.Printf("engine %s: load global settings: %v", s.ID, err)
		return
	}
	// nothing is applied until both records loaded
	s.Enabled = site.Enabled()
	s.Mode = site.DetectionMode()
	s.SinglePage = site.SinglePage
	if s.Mode != detect.Auto {
		e.stored = s.Mode
	}
	s.Background = g.Background
	s.Threshold = detect.ClampThreshold(g.CanvasThreshold)
}

// Start attaches the refresh subscriptions and schedules the first pass.
func (e *Engine) Start() { e.ctrl.Start() }

// Close tears the session down and waits for pending writes.
func (e *Engine) Close() {
	e.ctrl.Close()
	e.view.Close()
	e.writes.Wait()
}

// Flush waits for pending settings writes.
func (e *Engine) Flush() { e.writes.Wait() }

// ID returns the session id.
func (e *Engine) ID() string { return e.Session().ID }

// Session returns a copy of the current session state.
func (e *Engine) Session() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.session
	s.Results = append([]detect.Candidate(nil), s.Results...)
	return s
}

// Viewer returns the session's viewer.
func (e *Engine) Viewer() *viewer.Viewer { return e.view }

// Controller returns the session's refresh controller.
func (e *Engine) Controller() *refresh.Controller { return e.ctrl }

// Refresh runs one pass now, bypassing the debounce.
func (e *Engine) Refresh() { e.ctrl.RunNow("manual") }

// LoadAll scrolls the page to materialise lazy content.
func (e *Engine) LoadAll(ctx context.Context) error { return e.ctrl.LoadAll(ctx) }

func (e *Engine) isFlagged(u string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.flagged[u]
	return ok
}

// pass is the refresh controller's RunFunc.
func (e *Engine) pass(ctx context.Context, reason string) {
	e.mu.Lock()
	id, enabled, mode, threshold := e.session.ID, e.session.Enabled, e.session.Mode, e.session.Threshold
	e.mu.Unlock()
	if !enabled && reason != reasonLaunch {
		return
	}
	doc, err := e.src.Snapshot(ctx)
	if err != nil {
		e.logger.Printf("engine %s: snapshot (%s): %v", id, reason, err)
		return
	}
	env := detect.Env{Doc: doc, Flagged: e.isFlagged, CanvasThreshold: threshold}
	res := e.orch.Run(env, mode)

	e.mu.Lock()
	s := &e.session
	if mode == detect.Auto && res.Winner != "" && res.Winner != e.stored {
		e.stored = res.Winner
		e.persistSiteLocked()
	}
	s.Detected = res.Winner
	for _, c := range res.Candidates {
		e.flagged[c.SourceURL] = struct{}{}
	}
	changed := !detect.SameList(s.Results, res.Candidates)
	if changed {
		s.Results = res.Candidates
	}
	results := s.Results
	e.mu.Unlock()

	if changed && e.view.IsOpen() {
		e.view.Update(results)
	}
	if e.orch.WatchesGeometry(res.Winner) {
		var pending []string
		for _, c := range res.Candidates {
			if !c.Loaded {
				pending = append(pending, c.SourceURL)
			}
		}
		if len(pending) > 0 {
			if err := e.ctrl.Watch(ctx, pending); err != nil {
				e.logger.Printf("engine %s: watch: %v", id, err)
			}
		}
	}
}

// persistSiteLocked writes the site record in the background. e.mu held.
func (e *Engine) persistSiteLocked() {
	if e.store == nil {
		return
	}
	s := e.session
	site := settings.Site{Mode: settings.ModeHide, Detection: e.stored, SinglePage: s.SinglePage}
	if s.Enabled {
		site.Mode = settings.ModeShow
	}
	e.persist("site", func(ctx context.Context) error { return e.store.SaveSite(ctx, s.Host, site) })
}

func (e *Engine) persistGlobalLocked() {
	if e.store == nil {
		return
	}
	g := settings.Global{Background: e.session.Background, CanvasThreshold: e.session.Threshold}
	e.persist("global", func(ctx context.Context) error { return e.store.SaveGlobal(ctx, g) })
}

// persist runs write in the background. e.mu held. Writes of one kind land
// in call order; a write superseded before it starts is dropped.
func (e *Engine) persist(kind string, write func(ctx context.Context) error) {
	id := e.session.ID
	e.seq[kind]++
	n := e.seq[kind]
	e.writes.Add(1)
	go func() {
		defer e.writes.Done()
		e.writeMu.Lock()
		defer e.writeMu.Unlock()
		e.mu.Lock()
		stale := n < e.seq[kind]
		e.mu.Unlock()
		if stale {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := write(ctx); err != nil {
			e.logger.Printf("engine %s: persist %s settings: %v", id, kind, err)
		}
	}()
}
