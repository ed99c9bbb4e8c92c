package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"mangalens/dom"
	"mangalens/internal/page"
)

const signalBuffer = 64

// Tab is one live page. It implements page.Source.
type Tab struct {
	ctx     context.Context
	cancel  context.CancelFunc
	url     string
	logger  *log.Logger
	signals chan page.Signal
}

var _ page.Source = (*Tab)(nil)

func newTab(ctx context.Context, cancel context.CancelFunc, target string, logger *log.Logger) *Tab {
	return &Tab{
		ctx:     ctx,
		cancel:  cancel,
		url:     target,
		logger:  logger,
		signals: make(chan page.Signal, signalBuffer),
	}
}

// setupActions installs the binding and capture script, then applies
// request headers and cookies before navigation.
func (t *Tab) setupActions(hdr http.Header, jar http.CookieJar) []chromedp.Action {
	actions := []chromedp.Action{
		network.Enable(),
		runtime.AddBinding(bindingName),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := cdppage.AddScriptToEvaluateOnNewDocument(captureScript).Do(ctx)
			return err
		}),
	}
	requestHeaders := cloneHeader(hdr)
	if ua := requestHeaders.Get("User-Agent"); ua != "" {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetUserAgentOverride(ua).Do(ctx)
		}))
		requestHeaders.Del("User-Agent")
	}
	extra := network.Headers{}
	for k, vs := range requestHeaders {
		name := http.CanonicalHeaderKey(k)
		if strings.EqualFold(name, "Content-Length") || len(vs) == 0 {
			continue
		}
		extra[name] = strings.Join(vs, ", ")
	}
	if len(extra) > 0 {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetExtraHTTPHeaders(extra).Do(ctx)
		}))
	}
	if params := cookieParams(jar, t.url); len(params) > 0 {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetCookies(params).Do(ctx)
		}))
	}
	return actions
}

func (t *Tab) onEvent(ev any) {
	e, ok := ev.(*runtime.EventBindingCalled)
	if !ok || e.Name != bindingName {
		return
	}
	sig, err := decodeSignal(e.Payload)
	if err != nil {
		t.logger.Printf("browser: bad signal from %s: %v", t.url, err)
		return
	}
	select {
	case t.signals <- sig:
	default:
		// the poll subscription still notices changes when signals drop
	}
}

func decodeSignal(payload string) (page.Signal, error) {
	var sig page.Signal
	if err := json.Unmarshal([]byte(payload), &sig); err != nil {
		return sig, err
	}
	switch sig.Kind {
	case page.SignalMutation, page.SignalScroll, page.SignalLoaded:
		return sig, nil
	}
	return sig, fmt.Errorf("unknown signal kind %q", sig.Kind)
}

// run executes actions on the tab, cancelled by either ctx or the tab.
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	rctx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(rctx, actions...)
}

func (t *Tab) URL() string { return t.url }

func (t *Tab) Snapshot(ctx context.Context) (*dom.Document, error) {
	var s dom.Snapshot
	if err := t.run(ctx, chromedp.Evaluate(`window.__mlx.snapshot()`, &s)); err != nil {
		return nil, fmt.Errorf("browser: snapshot: %w", err)
	}
	if s.URL == "" {
		s.URL = t.url
	}
	return dom.FromSnapshot(&s)
}

func (t *Tab) MediaCount(ctx context.Context) (int, error) {
	var n int
	if err := t.run(ctx, chromedp.Evaluate(`window.__mlx.mediaCount()`, &n)); err != nil {
		return 0, fmt.Errorf("browser: media count: %w", err)
	}
	return n, nil
}

func (t *Tab) Signals() <-chan page.Signal { return t.signals }

func (t *Tab) Watch(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	data, err := json.Marshal(urls)
	if err != nil {
		return err
	}
	return t.run(ctx, chromedp.Evaluate(fmt.Sprintf(`window.__mlx.watch(%s)`, data), nil))
}

func (t *Tab) ScrollInfo(ctx context.Context) (page.ScrollInfo, error) {
	var info page.ScrollInfo
	if err := t.run(ctx, chromedp.Evaluate(`window.__mlx.scrollInfo()`, &info)); err != nil {
		return info, fmt.Errorf("browser: scroll info: %w", err)
	}
	return info, nil
}

func (t *Tab) ScrollTo(ctx context.Context, target page.ScrollTarget, y float64) error {
	tj, err := json.Marshal(string(target))
	if err != nil {
		return err
	}
	expr := fmt.Sprintf(`window.__mlx.scrollTo(%s, %s)`, tj, strconv.FormatFloat(y, 'f', -1, 64))
	return t.run(ctx, chromedp.Evaluate(expr, nil))
}

// Close closes the tab.
func (t *Tab) Close() { t.cancel() }
