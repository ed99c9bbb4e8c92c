// Package browser drives live pages in headless Chrome over the DevTools
// protocol and exposes each tab as a page.Source.
package browser

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// Options configures the Chrome process.
type Options struct {
	// ExecPath overrides Chrome discovery.
	ExecPath string
	// Headful shows the browser window.
	Headful bool
	Logger  *log.Logger
}

// Browser owns one Chrome allocator shared by every tab.
type Browser struct {
	allocator context.Context
	cancel    context.CancelFunc
	logger    *log.Logger
}

// New prepares an allocator. Chrome itself starts with the first tab.
func New(opt Options) *Browser {
	if opt.Logger == nil {
		opt.Logger = log.Default()
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !opt.Headful),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-background-networking", true),
		// pages must keep running timers and lazy loaders while unfocused
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-client-side-phishing-detection", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("safebrowsing-disable-auto-update", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.WindowSize(1280, 2000),
	)
	if p := strings.TrimSpace(opt.ExecPath); p != "" {
		opts = append(opts, chromedp.ExecPath(p))
	}
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Browser{
		allocator: allocCtx,
		cancel:    cancel,
		logger:    opt.Logger,
	}
}

// Close stops Chrome and every open tab.
func (b *Browser) Close() {
	if b.cancel != nil {
		b.cancel()
	}
}

// OpenOptions tunes page loading.
type OpenOptions struct {
	Header  http.Header
	Jar     http.CookieJar
	Timeout time.Duration
	// SettleDelay waits after the load event so early lazy loaders run.
	SettleDelay time.Duration
}

// Open navigates a new tab to target and installs the page observers.
func (b *Browser) Open(ctx context.Context, target string, opt OpenOptions) (*Tab, error) {
	if strings.TrimSpace(target) == "" {
		return nil, fmt.Errorf("browser: empty target url")
	}
	tabCtx, cancel := chromedp.NewContext(b.allocator)
	t := newTab(tabCtx, cancel, target, b.logger)
	chromedp.ListenTarget(tabCtx, t.onEvent)
	// the first Run binds the tab to tabCtx; later timeouts must not close it
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("browser: start tab: %w", err)
	}

	timeout := opt.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	loadCtx, cancelLoad := context.WithTimeout(tabCtx, timeout)
	defer cancelLoad()
	stop := context.AfterFunc(ctx, cancelLoad)
	defer stop()

	actions := append(t.setupActions(opt.Header, opt.Jar),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if opt.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(opt.SettleDelay))
	}
	actions = append(actions, chromedp.Location(&t.url))
	if err := chromedp.Run(loadCtx, actions...); err != nil {
		cancel()
		return nil, fmt.Errorf("browser: open %s: %w", target, err)
	}
	if opt.Jar != nil {
		if err := t.syncCookies(loadCtx, opt.Jar); err != nil {
			b.logger.Printf("browser: cookies for %s: %v", t.url, err)
		}
	}
	return t, nil
}
