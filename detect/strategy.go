package detect

import (
	"regexp"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"mangalens/dom"
)

// Env is the input of one detection pass.
type Env struct {
	Doc *dom.Document
	// Flagged reports URLs already accepted by an earlier pass of the same
	// session. May be nil.
	Flagged func(url string) bool
	// CanvasThreshold is the opaque fraction a canvas needs (0 = default).
	CanvasThreshold float64
}

func (e Env) flagged(u string) bool { return e.Flagged != nil && e.Flagged(u) }

// Strategy is one self-contained detection algorithm. Implementations are
// pure with respect to the document: running one twice on an unchanged
// document yields the same list.
type Strategy interface {
	Detect(env Env) []Candidate
}

var registry = map[Name]Strategy{
	DOMScan:        domScan{},
	ReadingContent: selectorScan{sel: cascadia.MustCompile(".reading-content img"), promote: true},
	ChapterContent: selectorScan{sel: cascadia.MustCompile(".chapter-content img"), promote: true},
	MangaReader:    selectorScan{sel: cascadia.MustCompile(".manga-reader img")},
	EntryContent:   selectorScan{sel: cascadia.MustCompile(".entry-content img"), promote: true},
	ResourceTiming: resourceScan{},
	TextScan:       textScan{},
	FrameReader:    frameReader{},
	CanvasMode:     canvasScan{},
}

// Lookup returns the strategy registered under n.
func Lookup(n Name) (Strategy, bool) {
	s, ok := registry[n]
	return s, ok
}

// Run executes a single strategy by name. Unknown names yield nothing.
func Run(n Name, env Env) []Candidate {
	s, ok := Lookup(n)
	if !ok || env.Doc == nil {
		return nil
	}
	return s.Detect(env)
}

func fromImage(im *dom.Image, abs string, origin Origin) Candidate {
	c := Candidate{
		SourceURL: abs,
		Origin:    origin,
		Loaded:    im.Loaded(),
		top:       im.Top,
		placed:    true,
	}
	if c.Loaded {
		c.NaturalWidth, c.NaturalHeight = im.NaturalWidth, im.NaturalHeight
	}
	return c
}

// domScan looks at every <img> in the document.
type domScan struct{}

func (domScan) Detect(env Env) []Candidate {
	doc := env.Doc
	var out []Candidate
	for _, im := range doc.Images() {
		abs, ok := doc.Resolve(promoteLazy(im))
		if !ok {
			continue
		}
		switch {
		case env.flagged(abs):
			// kept regardless of geometry
		case im.Loaded():
			if !meetsMinimum(im.NaturalWidth, im.NaturalHeight) || isExcluded(abs) {
				continue
			}
		case im.Complete:
			// completed without dimensions: broken image
			continue
		default:
			if !looksLikeImage(abs) || isExcluded(abs) {
				continue
			}
		}
		out = append(out, fromImage(im, abs, OriginDOM))
	}
	return sortByPosition(doc, dedupe(out))
}

// selectorScan covers known reader templates by a scoped selector.
type selectorScan struct {
	sel     cascadia.Selector
	promote bool
}

func (s selectorScan) Detect(env Env) []Candidate {
	doc := env.Doc
	var out []Candidate
	for _, im := range doc.Select(s.sel) {
		src := plainSource(im)
		if s.promote {
			src = promoteLazy(im)
		}
		abs, ok := doc.Resolve(src)
		if !ok {
			continue
		}
		if im.Loaded() {
			if !meetsMinimum(im.NaturalWidth, im.NaturalHeight) {
				continue
			}
		} else if !looksLikeImage(abs) {
			continue
		}
		out = append(out, fromImage(im, abs, OriginSelector))
	}
	return sortByPosition(doc, dedupe(out))
}

// resourceScan reads the performance resource timing buffer.
type resourceScan struct{}

func (resourceScan) Detect(env Env) []Candidate {
	doc := env.Doc
	var out []Candidate
	for i, r := range doc.Resources() {
		abs, ok := doc.Resolve(r.Name)
		if !ok || !looksLikeImage(abs) || isExcluded(abs) {
			continue
		}
		out = append(out, Candidate{SourceURL: abs, Origin: OriginResource, Ordinal: ordinal(i)})
	}
	return dedupe(out)
}

var absImageURL = regexp.MustCompile(`(?i)https?://[^\s"'<>()\\,]+\.(?:jpe?g|png|webp|gif)(?:\?[^\s"'<>()\\,]*)?`)

// textScan finds absolute image URLs anywhere in the serialized markup,
// including inline scripts and JSON blobs.
type textScan struct{}

func (textScan) Detect(env Env) []Candidate {
	markup := strings.ReplaceAll(env.Doc.Markup(), `\/`, `/`)
	seen := make(map[string]struct{})
	var out []Candidate
	for _, loc := range absImageURL.FindAllStringIndex(markup, -1) {
		if loc[1] < len(markup) && continuesURL(markup[loc[1]]) {
			continue
		}
		u := html.UnescapeString(markup[loc[0]:loc[1]])
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		if isExcluded(u) {
			continue
		}
		out = append(out, Candidate{SourceURL: u, Origin: OriginText, Ordinal: ordinal(len(out))})
	}
	return out
}

// continuesURL reports whether b would extend a path segment, meaning the
// extension matched in the middle of a longer name such as "a.jpg.html".
func continuesURL(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == '.' || b == '_' || b == '-' || b == '/':
		return true
	}
	return false
}

// frameReader reads images from the first iframe when its document is
// reachable from this context.
type frameReader struct{}

func (frameReader) Detect(env Env) []Candidate {
	fd, ok := env.Doc.Frame()
	if !ok {
		return nil
	}
	var out []Candidate
	for _, im := range fd.Images() {
		if !im.Loaded() || im.NaturalWidth < minFrameWidth {
			continue
		}
		abs, ok := fd.Resolve(plainSource(im))
		if !ok {
			continue
		}
		out = append(out, fromImage(im, abs, OriginIframe))
	}
	return dedupe(out)
}

type canvasScan struct{}

func (canvasScan) Detect(env Env) []Candidate {
	return ExtractCanvases(env.Doc, env.CanvasThreshold)
}
