package settings

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	siteCacheSize = 256
	globalFile    = "global.json"
	sitesDir      = "sites"
)

// FileStore keeps one JSON file per host under dir/sites and the global
// record in dir/global.json. An empty dir keeps everything in memory.
type FileStore struct {
	dir     string
	presets *presetStore

	mu     sync.Mutex
	cache  *lru.Cache[string, Site]
	mem    map[string]Site
	global *Global
}

// Options configures a FileStore.
type Options struct {
	// Dir is the data directory. Empty means memory only.
	Dir string
	// PresetsDir holds read-only <host>.json defaults.
	PresetsDir string
}

// NewFileStore opens (and creates) the settings directory.
func NewFileStore(opt Options) (*FileStore, error) {
	cache, err := lru.New[string, Site](siteCacheSize)
	if err != nil {
		return nil, err
	}
	s := &FileStore{
		dir:     strings.TrimSpace(opt.Dir),
		presets: newPresetStore(strings.TrimSpace(opt.PresetsDir)),
		cache:   cache,
		mem:     make(map[string]Site),
	}
	if s.dir != "" {
		if err := os.MkdirAll(filepath.Join(s.dir, sitesDir), 0o755); err != nil {
			return nil, &Error{Code: ErrCodeWrite, Path: s.dir, Err: err}
		}
	}
	return s, nil
}

func normalizeHost(host string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(host))
	if !validHost(h) {
		return "", &Error{Code: ErrCodeBadHost, Path: host}
	}
	return h, nil
}

func (s *FileStore) sitePath(host string) string {
	return filepath.Join(s.dir, sitesDir, host+".json")
}

// Site returns the stored record, else a preset, else the hidden default.
func (s *FileStore) Site(ctx context.Context, host string) (Site, error) {
	if err := ctx.Err(); err != nil {
		return Site{}, err
	}
	h, err := normalizeHost(host)
	if err != nil {
		return Site{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if site, ok := s.cache.Get(h); ok {
		return site, nil
	}
	if s.dir == "" {
		if site, ok := s.mem[h]; ok {
			return site, nil
		}
		return s.fallback(h), nil
	}
	var site Site
	found, err := readJSON(s.sitePath(h), &site)
	if err != nil {
		return Site{}, err
	}
	if !found {
		return s.fallback(h), nil
	}
	if site.Mode == "" {
		site.Mode = DefaultMode
	}
	s.cache.Add(h, site)
	return site, nil
}

func (s *FileStore) fallback(host string) Site {
	if p := s.presets.Find(host); p != nil {
		return *p
	}
	return Site{Mode: DefaultMode}
}

// SaveSite validates and writes the record for host.
func (s *FileStore) SaveSite(ctx context.Context, host string, site Site) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h, err := normalizeHost(host)
	if err != nil {
		return err
	}
	if err := ValidateSite(site); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir == "" {
		s.mem[h] = site
	} else if err := writeJSON(s.sitePath(h), site); err != nil {
		return err
	}
	s.cache.Add(h, site)
	return nil
}

// Global returns the shared settings with defaults applied.
func (s *FileStore) Global(ctx context.Context) (Global, error) {
	if err := ctx.Err(); err != nil {
		return Global{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.global != nil {
		return *s.global, nil
	}
	var g Global
	if s.dir != "" {
		if _, err := readJSON(filepath.Join(s.dir, globalFile), &g); err != nil {
			return Global{}, err
		}
	}
	if g.Background != "" {
		if hex, err := NormalizeBackground(g.Background); err == nil {
			g.Background = hex
		} else {
			g.Background = ""
		}
	}
	g = g.Normalize()
	s.global = &g
	return g, nil
}

// SaveGlobal validates and writes the shared settings.
func (s *FileStore) SaveGlobal(ctx context.Context, g Global) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g, err := ValidateGlobal(g)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir != "" {
		if err := writeJSON(filepath.Join(s.dir, globalFile), g); err != nil {
			return err
		}
	}
	s.global = &g
	return nil
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &Error{Code: ErrCodeRead, Path: path, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, &Error{Code: ErrCodeDecode, Path: path, Err: err}
	}
	return true, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &Error{Code: ErrCodeWrite, Path: path, Err: err}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &Error{Code: ErrCodeWrite, Path: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &Error{Code: ErrCodeWrite, Path: path, Err: err}
	}
	return nil
}
