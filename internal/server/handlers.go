package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"mangalens/detect"
	"mangalens/dom"
	"mangalens/internal/engine"
	"mangalens/internal/messaging"
	"mangalens/internal/page"
	"mangalens/internal/refresh"
)

const (
	modeLive   = "live"
	modeStatic = "static"

	maxRequestBytes = 32 << 20
)

type openRequest struct {
	URL  string `json:"url"`
	Mode string `json:"mode,omitempty"`
	// HTML or Snapshot supply the page directly instead of fetching URL.
	HTML     string        `json:"html,omitempty"`
	Snapshot *dom.Snapshot `json:"snapshot,omitempty"`
}

type sessionInfo struct {
	ID         string      `json:"id"`
	URL        string      `json:"url"`
	Host       string      `json:"host"`
	Mode       string      `json:"mode"`
	Enabled    bool        `json:"enabled"`
	Detection  detect.Name `json:"detectionMode"`
	Detected   detect.Name `json:"detected,omitempty"`
	Images     int         `json:"images"`
	ViewerOpen bool        `json:"viewerOpen"`
	Page       int         `json:"page"`
	Pages      int         `json:"pages"`
	MessageURL string      `json:"messageUrl"`
	ViewerURL  string      `json:"viewerUrl"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, s.cfg.IndexHTML)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.sessions.Len()})
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	for _, old := range s.sessions.Expire(s.cfg.SessionTTL) {
		s.logger.Printf("session %s: idle, closing", old.engine.ID())
		old.close()
	}
	var req openRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	target := strings.TrimSpace(req.URL)
	if target == "" && req.Snapshot != nil {
		target = req.Snapshot.URL
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid url %q", target))
		return
	}
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = modeStatic
		if s.opener != nil && req.HTML == "" && req.Snapshot == nil {
			mode = modeLive
		}
	}

	src, release, err := s.openSource(r, target, mode, req)
	if err != nil {
		status := http.StatusBadGateway
		if mode != modeLive && mode != modeStatic {
			status = http.StatusBadRequest
		} else if mode == modeLive && s.opener == nil {
			status = http.StatusServiceUnavailable
		}
		s.logger.Printf("open %s (%s): %v", target, mode, err)
		writeError(w, status, err)
		return
	}

	eng := engine.New(r.Context(), src, engine.Config{
		Store:     s.store,
		MinAccept: s.cfg.MinAccept,
		Refresh:   refresh.Config{Debounce: s.cfg.Debounce, Logger: s.logger},
		Logger:    s.logger,
	})
	sess := &session{engine: eng, release: release, url: src.URL(), mode: mode}
	s.sessions.Store(sess)
	eng.Start()
	s.logger.Printf("session %s: opened %s (%s)", eng.ID(), src.URL(), mode)
	writeJSON(w, http.StatusCreated, s.info(sess))
}

func (s *Server) openSource(r *http.Request, target, mode string, req openRequest) (page.Source, func(), error) {
	switch mode {
	case modeStatic:
		if req.Snapshot != nil {
			if req.Snapshot.URL == "" {
				req.Snapshot.URL = target
			}
			return page.NewStaticSnapshot(req.Snapshot), nil, nil
		}
		if req.HTML != "" {
			return page.NewStatic(target, req.HTML), nil, nil
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.FetchTimeout)
		defer cancel()
		final, body, err := fetchPage(ctx, target, forwardHeaders(r), s.cookieJars.Get(deriveClientKey(r), target), s.cfg.FetchTimeout)
		if err != nil {
			return nil, nil, err
		}
		return page.NewStatic(final, string(body)), nil, nil
	case modeLive:
		if s.opener == nil {
			return nil, nil, errors.New("live sessions are disabled")
		}
		return s.opener.OpenPage(r.Context(), target, forwardHeaders(r), s.cookieJars.Get(deriveClientKey(r), target))
	default:
		return nil, nil, fmt.Errorf("unknown session mode %q", mode)
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session, bool) {
	sess, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		// messaging clients read 404 as "no receiver" and re-inject
		writeError(w, http.StatusNotFound, errors.New("session not found"))
	}
	return sess, ok
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.info(sess))
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.Delete(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	sess.close()
	s.logger.Printf("session %s: closed", sess.engine.ID())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var m messaging.Message
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&m); err != nil {
		messaging.WriteError(w, http.StatusBadRequest, &messaging.Error{Code: messaging.ErrCodeBadPayload, Err: err})
		return
	}
	resp, err := sess.engine.Handle(r.Context(), m)
	if err != nil {
		status := http.StatusInternalServerError
		switch messaging.Code(err) {
		case messaging.ErrCodeUnknownAction, messaging.ErrCodeBadPayload:
			status = http.StatusBadRequest
		}
		s.logger.Printf("session %s: %s: %v", sess.engine.ID(), m.Action, err)
		messaging.WriteError(w, status, err)
		return
	}
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := sess.engine.Viewer().Render(w); err != nil {
		s.logger.Printf("session %s: render viewer: %v", sess.engine.ID(), err)
	}
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	v := sess.engine.Viewer()
	switch r.PathValue("dir") {
	case "next":
		v.Next()
	case "prev":
		v.Prev()
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown direction %q", r.PathValue("dir")))
		return
	}
	writeJSON(w, http.StatusOK, s.info(sess))
}

func (s *Server) handleLoadAll(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := sess.engine.LoadAll(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	sess.engine.Refresh()
	writeJSON(w, http.StatusOK, s.info(sess))
}

func (s *Server) info(sess *session) sessionInfo {
	st := sess.engine.Session()
	v := sess.engine.Viewer()
	cur, total := v.Page()
	base := "/sessions/" + st.ID
	return sessionInfo{
		ID:         st.ID,
		URL:        sess.url,
		Host:       st.Host,
		Mode:       sess.mode,
		Enabled:    st.Enabled,
		Detection:  st.Mode,
		Detected:   st.Detected,
		Images:     len(st.Results),
		ViewerOpen: v.IsOpen(),
		Page:       cur,
		Pages:      total,
		MessageURL: base + "/message",
		ViewerURL:  base + "/viewer",
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
