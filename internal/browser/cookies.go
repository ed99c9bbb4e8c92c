package browser

import (
	"context"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// cookieParams converts the jar's cookies for target into CDP parameters.
func cookieParams(jar http.CookieJar, target string) []*network.CookieParam {
	if jar == nil {
		return nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil
	}
	cookies := jar.Cookies(u)
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   cookieDomainForParam(c, u),
			Path:     cookiePathForParam(c),
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		if !c.Expires.IsZero() {
			exp := cdp.TimeSinceEpoch(c.Expires.UTC())
			param.Expires = &exp
		}
		params = append(params, param)
	}
	return params
}

// syncCookies copies the browser's cookies for the current URL into jar.
func (t *Tab) syncCookies(ctx context.Context, jar http.CookieJar) error {
	u, err := url.Parse(t.url)
	if err != nil {
		return err
	}
	var browserCookies []*network.Cookie
	err = chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		browserCookies, err = network.GetCookies().WithURLs([]string{t.url}).Do(ctx)
		return err
	}))
	if err != nil {
		return err
	}
	httpCookies := make([]*http.Cookie, 0, len(browserCookies))
	for _, c := range browserCookies {
		if hc := cookieFromNetwork(c); hc != nil {
			httpCookies = append(httpCookies, hc)
		}
	}
	if len(httpCookies) > 0 {
		jar.SetCookies(u, httpCookies)
	}
	return nil
}

func cookieFromNetwork(c *network.Cookie) *http.Cookie {
	if c == nil {
		return nil
	}
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Domain:   c.Domain,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}
	if !c.Session && c.Expires > 0 {
		sec, frac := math.Modf(c.Expires)
		hc.Expires = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	switch c.SameSite {
	case network.CookieSameSiteLax:
		hc.SameSite = http.SameSiteLaxMode
	case network.CookieSameSiteStrict:
		hc.SameSite = http.SameSiteStrictMode
	case network.CookieSameSiteNone:
		hc.SameSite = http.SameSiteNoneMode
	}
	return hc
}

func cookieDomainForParam(c *http.Cookie, u *url.URL) string {
	if c.Domain != "" {
		return c.Domain
	}
	if u != nil {
		return u.Hostname()
	}
	return ""
}

func cookiePathForParam(c *http.Cookie) string {
	if c.Path != "" {
		return c.Path
	}
	return "/"
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}
