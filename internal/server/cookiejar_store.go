package server

import (
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// cookieJarStore keeps one jar per client and site, so sessions a client
// opens on the same site share its login while other sites stay isolated.
type cookieJarStore struct {
	mu   sync.Mutex
	jars map[string]http.CookieJar
}

func newCookieJarStore() *cookieJarStore {
	return &cookieJarStore{jars: make(map[string]http.CookieJar)}
}

// Get returns the jar of client for the site serving target.
func (s *cookieJarStore) Get(client, target string) http.CookieJar {
	key := client + "|" + siteKey(target)
	s.mu.Lock()
	defer s.mu.Unlock()
	if jar, ok := s.jars[key]; ok {
		return jar
	}
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	s.jars[key] = jar
	return jar
}

func (s *cookieJarStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jars)
}

// siteKey reduces target to its registrable domain; reader.example and
// cdn.reader.example share one jar.
func siteKey(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	if site, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return site
	}
	return host
}

func deriveClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		host = r.RemoteAddr
	}
	return host + "|" + r.UserAgent()
}
