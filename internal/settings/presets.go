package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// presetStore serves read-only site defaults shipped as <host>.json files.
// A preset for example.com also covers its subdomains.
type presetStore struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]*Site
}

func newPresetStore(dir string) *presetStore {
	return &presetStore{
		dir:   dir,
		cache: make(map[string]*Site),
	}
}

func (s *presetStore) Find(host string) *Site {
	if host == "" || s.dir == "" {
		return nil
	}
	s.mu.RLock()
	if site, ok := s.cache[host]; ok {
		s.mu.RUnlock()
		return site
	}
	s.mu.RUnlock()

	labels := strings.Split(host, ".")
	for i := 0; i < len(labels); i++ {
		candidate := strings.Join(labels[i:], ".")
		if site := s.load(candidate); site != nil {
			s.mu.Lock()
			s.cache[host] = site
			s.mu.Unlock()
			return site
		}
	}
	s.mu.Lock()
	s.cache[host] = nil
	s.mu.Unlock()
	return nil
}

func (s *presetStore) load(host string) *Site {
	if !validHost(host) {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(s.dir, host+".json"))
	if err != nil {
		return nil
	}
	var site Site
	if err := json.Unmarshal(data, &site); err != nil {
		return nil
	}
	site.Mode = strings.TrimSpace(strings.ToLower(site.Mode))
	if site.Mode == "" {
		site.Mode = ModeShow
	}
	if ValidateSite(site) != nil {
		return nil
	}
	return &site
}

func validHost(host string) bool {
	if host == "" || host == "." || host == ".." || len(host) > 253 {
		return false
	}
	for _, r := range host {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_', r == ':':
		default:
			return false
		}
	}
	return true
}
