package server

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mangalens/internal/engine"
	"mangalens/internal/messaging"
	"mangalens/internal/page"
	"mangalens/internal/settings"
)

func pagesHTML(n int) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, `<img src="/img/%03d.jpg" width="800" height="1200">`, i)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func newTestServer(t *testing.T, opener PageOpener) *Server {
	t.Helper()
	store, err := settings.NewFileStore(settings.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SaveSite(context.Background(), "reader.example", settings.Site{Mode: settings.ModeShow}); err != nil {
		t.Fatal(err)
	}
	s := New(Config{
		Logger:      log.New(io.Discard, "", 0),
		Store:       store,
		Opener:      opener,
		BrowserPath: "off",
		Debounce:    time.Hour,
	})
	t.Cleanup(s.Close)
	return s
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func openStatic(t *testing.T, s *Server, html string) sessionInfo {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/sessions", openRequest{URL: "https://reader.example/ch/1", HTML: html})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open status = %d body=%s", rec.Code, rec.Body.String())
	}
	var info sessionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	return info
}

func message(t *testing.T, s *Server, info sessionInfo, action string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	m, err := messaging.NewMessage(action, payload)
	if err != nil {
		t.Fatal(err)
	}
	return do(t, s, http.MethodPost, info.MessageURL, m)
}

func TestOpenStaticSession(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)
	info := openStatic(t, s, pagesHTML(4))
	if info.ID == "" || info.Host != "reader.example" || !info.Enabled || info.Mode != modeStatic {
		t.Fatalf("unexpected session: %+v", info)
	}
	if info.MessageURL != "/sessions/"+info.ID+"/message" {
		t.Fatalf("message url = %q", info.MessageURL)
	}
}

func TestOpenRejectsBadInput(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)
	cases := []struct {
		name string
		body any
		want int
	}{
		{"not json", "nope", http.StatusBadRequest},
		{"no url", openRequest{HTML: "<p>"}, http.StatusBadRequest},
		{"ftp", openRequest{URL: "ftp://reader.example/"}, http.StatusBadRequest},
		{"bad mode", openRequest{URL: "https://reader.example/", Mode: "psychic"}, http.StatusBadRequest},
		{"live disabled", openRequest{URL: "https://reader.example/", Mode: modeLive}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/sessions", tc.body)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestMessageRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)
	info := openStatic(t, s, pagesHTML(5))

	rec := message(t, s, info, messaging.ActionPing, nil)
	var pong messaging.PongResponse
	if rec.Code != http.StatusOK || json.Unmarshal(rec.Body.Bytes(), &pong) != nil || pong.Status != "pong" {
		t.Fatalf("ping: %d %s", rec.Code, rec.Body.String())
	}

	rec = message(t, s, info, messaging.ActionLaunchViewer, nil)
	var launch messaging.LaunchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &launch); err != nil || !launch.Success {
		t.Fatalf("launch: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, s, http.MethodGet, info.ViewerURL, nil)
	if rec.Code != http.StatusOK || strings.Count(rec.Body.String(), "/img/") != 5 {
		t.Fatalf("viewer: %d %s", rec.Code, rec.Body.String())
	}

	rec = message(t, s, info, messaging.ActionUpdateDisplayMode, messaging.DisplayModePayload{IsSingle: true})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("display mode status = %d", rec.Code)
	}

	rec = do(t, s, http.MethodPost, "/sessions/"+info.ID+"/viewer/next", nil)
	var after sessionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &after); err != nil {
		t.Fatal(err)
	}
	if after.Page != 1 || after.Pages != 5 || !after.ViewerOpen || after.Images != 5 {
		t.Fatalf("after next: %+v", after)
	}
}

func TestLaunchBelowMinimum(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)
	info := openStatic(t, s, pagesHTML(1))
	rec := message(t, s, info, messaging.ActionLaunchViewer, nil)
	var launch messaging.LaunchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &launch); err != nil {
		t.Fatal(err)
	}
	if launch.Success || launch.Reason != messaging.ReasonInsufficientImages {
		t.Fatalf("launch = %+v", launch)
	}
}

func TestMessageErrors(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)
	info := openStatic(t, s, pagesHTML(3))

	rec := message(t, s, info, "selfDestruct", nil)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), messaging.ErrCodeUnknownAction) {
		t.Fatalf("unknown action: %d %s", rec.Code, rec.Body.String())
	}
	rec = message(t, s, info, messaging.ActionUpdateDetectionMode, messaging.DetectionModePayload{Mode: "telepathy"})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), messaging.ErrCodeBadPayload) {
		t.Fatalf("bad mode: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, s, http.MethodPost, "/sessions/missing/message", messaging.Message{Action: messaging.ActionPing})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing session status = %d", rec.Code)
	}
}

func TestClientReinjectsClosedSession(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)
	ts := httptest.NewServer(s)
	defer ts.Close()

	info := openStatic(t, s, pagesHTML(3))
	if rec := do(t, s, http.MethodDelete, "/sessions/"+info.ID, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	var injected sessionInfo
	client := &messaging.Client{Endpoint: ts.URL + info.MessageURL}
	client.Inject = func(ctx context.Context) error {
		injected = openStatic(t, s, pagesHTML(3))
		client.Endpoint = ts.URL + injected.MessageURL
		return nil
	}
	var pong messaging.PongResponse
	if err := client.Send(context.Background(), messaging.Message{Action: messaging.ActionPing}, &pong); err != nil {
		t.Fatal(err)
	}
	if injected.ID == "" || pong.Status != "pong" {
		t.Fatalf("reinject failed: %+v %+v", injected, pong)
	}
}

type stubOpener struct {
	src      page.Source
	released bool
}

func (o *stubOpener) OpenPage(_ context.Context, target string, _ http.Header, jar http.CookieJar) (page.Source, func(), error) {
	if jar == nil {
		return nil, nil, fmt.Errorf("no jar for %s", target)
	}
	return o.src, func() { o.released = true }, nil
}

func TestLiveSessionReleasesPage(t *testing.T) {
	t.Parallel()
	opener := &stubOpener{src: page.NewStatic("https://reader.example/ch/2", pagesHTML(3))}
	s := newTestServer(t, opener)
	rec := do(t, s, http.MethodPost, "/sessions", openRequest{URL: "https://reader.example/ch/2"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open status = %d %s", rec.Code, rec.Body.String())
	}
	var info sessionInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if info.Mode != modeLive {
		t.Fatalf("mode = %q", info.Mode)
	}
	rec = do(t, s, http.MethodPost, "/sessions/"+info.ID+"/load-all", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("load-all status = %d %s", rec.Code, rec.Body.String())
	}
	do(t, s, http.MethodDelete, "/sessions/"+info.ID, nil)
	if !opener.released {
		t.Fatal("page not released on close")
	}
}

func TestStaticFetchDecompresses(t *testing.T) {
	t.Parallel()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "reader-test" {
			http.Error(w, "ua", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = io.WriteString(gz, pagesHTML(2))
		_ = gz.Close()
	}))
	defer upstream.Close()

	req, err := http.NewRequest(http.MethodGet, "/", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("User-Agent", "reader-test")
	final, body, err := fetchPage(context.Background(), upstream.URL+"/ch/1", forwardHeaders(req), nil, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if final != upstream.URL+"/ch/1" || strings.Count(string(body), "<img") != 2 {
		t.Fatalf("fetch = %q %q", final, body)
	}
}

func TestStaticFetchDeflateVariants(t *testing.T) {
	t.Parallel()
	want := pagesHTML(3)
	var wrapped, raw bytes.Buffer
	zw := zlib.NewWriter(&wrapped)
	_, _ = io.WriteString(zw, want)
	_ = zw.Close()
	fw, err := flate.NewWriter(&raw, flate.DefaultCompression)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.WriteString(fw, want)
	_ = fw.Close()

	cases := []struct {
		name string
		body []byte
	}{
		{"zlib", wrapped.Bytes()},
		{"raw", raw.Bytes()},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.Header().Set("Content-Encoding", "deflate")
				_, _ = w.Write(tc.body)
			}))
			defer upstream.Close()
			_, body, err := fetchPage(context.Background(), upstream.URL, nil, nil, time.Second)
			if err != nil {
				t.Fatal(err)
			}
			if string(body) != want {
				t.Fatalf("body = %q", body)
			}
		})
	}
}

func TestCookieJarStoreKeysBySite(t *testing.T) {
	t.Parallel()
	jars := newCookieJarStore()
	a := jars.Get("10.0.0.1|ua", "https://reader.example/ch/1")
	b := jars.Get("10.0.0.1|ua", "https://cdn.reader.example/img/1.jpg")
	c := jars.Get("10.0.0.1|ua", "https://other.example/")
	d := jars.Get("10.0.0.2|ua", "https://reader.example/ch/1")
	if a != b {
		t.Fatal("subdomain of one site got its own jar")
	}
	if a == c || a == d {
		t.Fatal("jar shared across sites or clients")
	}
	if jars.Len() != 3 {
		t.Fatalf("len = %d, want 3", jars.Len())
	}
	if got := siteKey("http://127.0.0.1:8080/x"); got != "127.0.0.1" {
		t.Fatalf("siteKey(ip) = %q", got)
	}
}

func TestStaticFetchDecodesCharset(t *testing.T) {
	t.Parallel()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=windows-1252")
		_, _ = w.Write([]byte("<p>caf\xe9</p>"))
	}))
	defer upstream.Close()
	_, body, err := fetchPage(context.Background(), upstream.URL, nil, nil, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "<p>café</p>" {
		t.Fatalf("body = %q", body)
	}
}

func TestSessionStoreExpire(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newSessionStore(func() time.Time { return now })
	newSession := func() *session {
		src := page.NewStatic("https://reader.example/", pagesHTML(2))
		return &session{engine: engine.New(context.Background(), src, engine.Config{Logger: log.New(io.Discard, "", 0)})}
	}
	idle, busy := newSession(), newSession()
	store.Store(idle)
	store.Store(busy)

	now = now.Add(20 * time.Minute)
	if _, ok := store.Get(busy.engine.ID()); !ok {
		t.Fatal("busy session missing")
	}
	now = now.Add(15 * time.Minute)
	if got := store.Expire(0); got != nil {
		t.Fatalf("zero ttl expired %d sessions", len(got))
	}
	got := store.Expire(30 * time.Minute)
	if len(got) != 1 || got[0] != idle {
		t.Fatalf("expired %d sessions, want the idle one", len(got))
	}
	if store.Len() != 1 {
		t.Fatalf("len = %d, want 1", store.Len())
	}
}

func TestDefaultConfigFromEnv(t *testing.T) {
	t.Setenv("MANGALENS_SETTINGS", "/var/lib/mangalens")
	t.Setenv("MANGALENS_SITES_DIR", "")
	t.Setenv("MANGALENS_MIN_ACCEPT", "5")
	t.Setenv("MANGALENS_DEBOUNCE_MS", "100")
	t.Setenv("MANGALENS_SESSION_TTL", "5m")
	cfg := DefaultConfig()
	if cfg.SettingsDir != "/var/lib/mangalens" || cfg.SitesDir != defaultSitesDir {
		t.Fatalf("dirs = %q %q", cfg.SettingsDir, cfg.SitesDir)
	}
	if cfg.MinAccept != 5 || cfg.Debounce != 100*time.Millisecond || cfg.SessionTTL != 5*time.Minute {
		t.Fatalf("cfg = %+v", cfg)
	}
}
