package page

import (
	"context"
	"strings"
	"sync"

	"mangalens/dom"
)

// Static is a Source over a fixed document. It never emits signals and
// scrolling only moves a recorded offset.
type Static struct {
	url  string
	html string
	snap *dom.Snapshot

	mu sync.Mutex
	y  float64
}

// NewStatic wraps raw HTML fetched from pageURL.
func NewStatic(pageURL, html string) *Static {
	return &Static{url: pageURL, html: html}
}

// NewStaticSnapshot wraps a previously captured snapshot.
func NewStaticSnapshot(s *dom.Snapshot) *Static {
	return &Static{url: s.URL, snap: s}
}

func (s *Static) URL() string { return s.url }

func (s *Static) Snapshot(ctx context.Context) (*dom.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.snap != nil {
		return dom.FromSnapshot(s.snap)
	}
	return dom.Parse(s.url, strings.NewReader(s.html))
}

func (s *Static) MediaCount(ctx context.Context) (int, error) {
	doc, err := s.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return doc.MediaCount(), nil
}

func (s *Static) Signals() <-chan Signal { return nil }

func (s *Static) Watch(context.Context, []string) error { return nil }

func (s *Static) ScrollInfo(ctx context.Context) (ScrollInfo, error) {
	if err := ctx.Err(); err != nil {
		return ScrollInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return ScrollInfo{Target: ScrollPage, Y: s.y}, nil
}

func (s *Static) ScrollTo(ctx context.Context, _ ScrollTarget, y float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.y = y
	s.mu.Unlock()
	return nil
}
