package server

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"mangalens/internal/browser"
	"mangalens/internal/page"
)

// PageOpener opens live pages. The returned func releases the page.
type PageOpener interface {
	OpenPage(ctx context.Context, target string, hdr http.Header, jar http.CookieJar) (page.Source, func(), error)
}

// browserOpener starts Chrome lazily on the first live session.
type browserOpener struct {
	execPath string
	logger   *log.Logger

	once sync.Once
	b    *browser.Browser
}

func newBrowserOpener(execPath string, logger *log.Logger) *browserOpener {
	return &browserOpener{execPath: execPath, logger: logger}
}

func (o *browserOpener) get() *browser.Browser {
	o.once.Do(func() {
		o.b = browser.New(browser.Options{ExecPath: o.execPath, Logger: o.logger})
	})
	return o.b
}

func (o *browserOpener) OpenPage(ctx context.Context, target string, hdr http.Header, jar http.CookieJar) (page.Source, func(), error) {
	tab, err := o.get().Open(ctx, target, browser.OpenOptions{
		Header:      hdr,
		Jar:         jar,
		Timeout:     30 * time.Second,
		SettleDelay: 500 * time.Millisecond,
	})
	if err != nil {
		return nil, nil, err
	}
	return tab, tab.Close, nil
}

func (o *browserOpener) Close() {
	o.once.Do(func() {})
	if o.b != nil {
		o.b.Close()
	}
}
