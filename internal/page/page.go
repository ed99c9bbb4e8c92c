// Package page abstracts the browsing context a detection session runs
// against: a live browser tab or a static HTML document.
package page

import (
	"context"

	"mangalens/dom"
)

// SignalKind names the page events that can trigger a refresh.
type SignalKind string

const (
	// SignalMutation reports nodes added to the document.
	SignalMutation SignalKind = "mutation"
	// SignalScroll reports a scroll of the page or its first iframe.
	SignalScroll SignalKind = "scroll"
	// SignalLoaded reports that a watched image finished loading.
	SignalLoaded SignalKind = "loaded"
)

// AddedNode describes one node inserted by a mutation.
type AddedNode struct {
	Tag string `json:"tag"`
	// HasMedia is set when the node contains an <img> or <canvas>.
	HasMedia bool `json:"hasMedia"`
}

// IsMedia reports whether the node is, or contains, an image or canvas.
func (n AddedNode) IsMedia() bool {
	switch n.Tag {
	case "img", "IMG", "canvas", "CANVAS":
		return true
	}
	return n.HasMedia
}

// Signal is one event from the page.
type Signal struct {
	Kind  SignalKind  `json:"kind"`
	Added []AddedNode `json:"added,omitempty"`
	URL   string      `json:"url,omitempty"`
}

// ScrollTarget selects what LoadAll scrolls.
type ScrollTarget string

const (
	ScrollPage  ScrollTarget = "page"
	ScrollFrame ScrollTarget = "iframe"
)

// ScrollInfo describes the current scroll geometry.
type ScrollInfo struct {
	Target   ScrollTarget `json:"target"`
	Height   float64      `json:"height"`
	Viewport float64      `json:"viewport"`
	Y        float64      `json:"y"`
}

// Source is a browsing context the engine can observe.
type Source interface {
	URL() string
	// Snapshot captures the current document.
	Snapshot(ctx context.Context) (*dom.Document, error)
	// MediaCount is the current number of <img> and <canvas> elements.
	MediaCount(ctx context.Context) (int, error)
	// Signals delivers page events. A nil channel means the source is static.
	Signals() <-chan Signal
	// Watch asks for a SignalLoaded for each URL once its image loads.
	Watch(ctx context.Context, urls []string) error
	ScrollInfo(ctx context.Context) (ScrollInfo, error)
	ScrollTo(ctx context.Context, target ScrollTarget, y float64) error
}
