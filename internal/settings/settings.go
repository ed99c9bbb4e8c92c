// Package settings persists per-site and global viewer preferences.
package settings

import (
	"context"
	"errors"
	"fmt"

	"mangalens/detect"
)

// Site display modes.
const (
	ModeShow = "show"
	ModeHide = "hide"
)

// DefaultMode applies to sites with no stored record and no preset.
const DefaultMode = ModeHide

// Error codes.
const (
	ErrCodeRead    = "settings_read"
	ErrCodeDecode  = "settings_invalid"
	ErrCodeWrite   = "settings_write"
	ErrCodeBadHost = "invalid_host"
	ErrCodeValue   = "invalid_value"
)

// Error is a settings failure with a stable code.
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Path != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Path, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Path)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// Code extracts the error code, or "" when err is not an *Error.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Site is the record kept per hostname.
type Site struct {
	Mode string `json:"mode"`
	// Detection pins a strategy. Empty or "auto" runs the fallback search.
	Detection  detect.Name `json:"detectionMode,omitempty"`
	SinglePage bool        `json:"singlePage,omitempty"`
}

// Enabled reports whether detection runs for the site.
func (s Site) Enabled() bool { return s.Mode == ModeShow }

// DetectionMode returns the effective mode, Auto when nothing is pinned or
// the stored name is no longer known.
func (s Site) DetectionMode() detect.Name {
	if s.Detection == "" || !s.Detection.Valid() {
		return detect.Auto
	}
	return s.Detection
}

// Global holds settings shared by every site.
type Global struct {
	Background      string  `json:"background,omitempty"`
	CanvasThreshold float64 `json:"canvasThreshold,omitempty"`
}

// DefaultBackground is the viewer background when none is configured.
const DefaultBackground = "#000000"

// Normalize fills defaults and clamps the threshold.
func (g Global) Normalize() Global {
	if g.Background == "" {
		g.Background = DefaultBackground
	}
	g.CanvasThreshold = detect.ClampThreshold(g.CanvasThreshold)
	return g
}

// Store is the persistent settings backend. Concurrent writers for the same
// host follow last-write-wins.
type Store interface {
	Site(ctx context.Context, host string) (Site, error)
	SaveSite(ctx context.Context, host string, s Site) error
	Global(ctx context.Context) (Global, error)
	SaveGlobal(ctx context.Context, g Global) error
}

// ValidateSite checks a record before it is stored.
func ValidateSite(s Site) error {
	switch s.Mode {
	case ModeShow, ModeHide:
	default:
		return &Error{Code: ErrCodeValue, Err: fmt.Errorf("site mode %q", s.Mode)}
	}
	if s.Detection != "" && s.Detection != detect.Auto && !s.Detection.Valid() {
		return &Error{Code: ErrCodeValue, Err: fmt.Errorf("detection mode %q", s.Detection)}
	}
	return nil
}

// ValidateGlobal normalises g, rejecting a background that is not a colour.
func ValidateGlobal(g Global) (Global, error) {
	if g.Background != "" {
		hex, err := NormalizeBackground(g.Background)
		if err != nil {
			return g, err
		}
		g.Background = hex
	}
	return g.Normalize(), nil
}
