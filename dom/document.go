// Package dom models one browsing context at one instant: its <img> and
// <canvas> elements, resource timing entries, serialized markup and its
// first iframe.
package dom

import (
	"errors"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// IndexAttr is stamped on every <img> by the live capture script so that the
// runtime state reported by the browser can be joined with the parsed tree.
const IndexAttr = "data-mlx-index"

// ErrNoPixels is returned by Canvas.Pixels when the source cannot read bitmaps.
var ErrNoPixels = errors.New("dom: canvas pixels unavailable")

// Image is one <img> element together with its runtime geometry.
type Image struct {
	Index         int
	NaturalWidth  int
	NaturalHeight int
	Complete      bool
	// Top is the element's vertical offset from the top of the viewport.
	// Parsed documents without layout use the document order instead.
	Top        float64
	CurrentSrc string

	node *html.Node
}

// Attr returns the value of the named attribute, or "".
func (im *Image) Attr(name string) string { return getAttr(im.node, name) }

// SetAttr sets (or adds) an attribute on the snapshot copy of the element.
func (im *Image) SetAttr(name, val string) {
	for i := range im.node.Attr {
		if strings.EqualFold(im.node.Attr[i].Key, name) {
			im.node.Attr[i].Val = val
			return
		}
	}
	im.node.Attr = append(im.node.Attr, html.Attribute{Key: name, Val: val})
}

// Loaded reports whether the pixel dimensions are already known.
func (im *Image) Loaded() bool {
	return im.Complete && im.NaturalWidth > 0 && im.NaturalHeight > 0
}

// Canvas is one <canvas> element.
type Canvas struct {
	Index  int
	Width  int
	Height int
	// Load returns the bitmap serialized as a data URI. Nil when the source
	// has no way to read pixels.
	Load func() (string, error)
}

// Area is the pixel area of the canvas backing store.
func (c *Canvas) Area() int { return c.Width * c.Height }

// DataURL returns the serialized bitmap or ErrNoPixels.
func (c *Canvas) DataURL() (string, error) {
	if c.Load == nil {
		return "", ErrNoPixels
	}
	return c.Load()
}

// Resource is one performance resource timing entry.
type Resource struct {
	Name          string  `json:"name"`
	InitiatorType string  `json:"initiatorType,omitempty"`
	StartTime     float64 `json:"startTime,omitempty"`
}

// Document is a read-mostly view of a page used by a single detection pass.
type Document struct {
	url       string
	base      *url.URL
	doc       *goquery.Document
	markup    string
	images    []*Image
	byNode    map[*html.Node]*Image
	canvases  []*Canvas
	resources []Resource
	hasFrame  bool
	frame     *Document
}

// Parse builds a document from raw markup. Without a layout engine, images
// are positioned by document order and considered loaded only when their
// width/height attributes (or an inline data URI) reveal the dimensions.
// An <iframe srcdoc> is treated as an accessible frame; a frame that only
// has a src is present but not accessible.
func Parse(pageURL string, r io.Reader) (*Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return parseMarkup(pageURL, string(raw), 0)
}

const maxFrameDepth = 4

func parseMarkup(pageURL, markup string, depth int) (*Document, error) {
	gq, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}
	d := &Document{
		url:    pageURL,
		doc:    gq,
		markup: markup,
		byNode: make(map[*html.Node]*Image),
	}
	if u, err := url.Parse(strings.TrimSpace(pageURL)); err == nil && pageURL != "" {
		d.base = u
	}
	if href, ok := gq.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			if d.base != nil {
				d.base = d.base.ResolveReference(ref)
			} else if ref.IsAbs() {
				d.base = ref
			}
		}
	}
	gq.Find("img").Each(func(i int, s *goquery.Selection) {
		n := s.Get(0)
		im := &Image{Index: i, Top: float64(i), node: n}
		im.NaturalWidth = attrPixels(n, "width")
		im.NaturalHeight = attrPixels(n, "height")
		if src := getAttr(n, "src"); IsDataURI(src) && (im.NaturalWidth == 0 || im.NaturalHeight == 0) {
			if cfg, err := DataURIConfig(src); err == nil {
				im.NaturalWidth, im.NaturalHeight = cfg.Width, cfg.Height
			}
		}
		im.Complete = im.NaturalWidth > 0 && im.NaturalHeight > 0
		d.images = append(d.images, im)
		d.byNode[n] = im
	})
	gq.Find("canvas").Each(func(i int, s *goquery.Selection) {
		n := s.Get(0)
		c := &Canvas{Index: i, Width: attrPixels(n, "width"), Height: attrPixels(n, "height")}
		// HTML default backing store size
		if c.Width == 0 {
			c.Width = 300
		}
		if c.Height == 0 {
			c.Height = 150
		}
		d.canvases = append(d.canvases, c)
	})
	if iframe := gq.Find("iframe").First(); iframe.Length() > 0 {
		d.hasFrame = true
		if srcdoc, ok := iframe.Attr("srcdoc"); ok && strings.TrimSpace(srcdoc) != "" && depth < maxFrameDepth {
			frameURL := pageURL
			if src, ok := iframe.Attr("src"); ok {
				if abs, ok := d.Resolve(src); ok {
					frameURL = abs
				}
			}
			if fd, err := parseMarkup(frameURL, srcdoc, depth+1); err == nil {
				d.frame = fd
			}
		}
	}
	return d, nil
}

// URL returns the address of the browsing context.
func (d *Document) URL() string { return d.url }

// Host returns the lowercase hostname of the document, or "".
func (d *Document) Host() string {
	if d.base == nil {
		return ""
	}
	return strings.ToLower(d.base.Hostname())
}

// Images returns every <img> in document order.
func (d *Document) Images() []*Image { return d.images }

// Select returns the images matched by m in document order. Matched nodes
// that are not <img> elements are ignored.
func (d *Document) Select(m goquery.Matcher) []*Image {
	var out []*Image
	d.doc.FindMatcher(m).Each(func(_ int, s *goquery.Selection) {
		if im, ok := d.byNode[s.Get(0)]; ok {
			out = append(out, im)
		}
	})
	return out
}

// Canvases returns every <canvas> in document order.
func (d *Document) Canvases() []*Canvas { return d.canvases }

// Resources returns the resource timing entries in recording order.
func (d *Document) Resources() []Resource { return d.resources }

// Markup returns the serialized document.
func (d *Document) Markup() string { return d.markup }

// MediaCount is the number of image and canvas elements.
func (d *Document) MediaCount() int { return len(d.images) + len(d.canvases) }

// HasFrame reports whether the document contains at least one <iframe>.
func (d *Document) HasFrame() bool { return d.hasFrame }

// Frame probes the first iframe's content document. The second result is
// false when there is no iframe or its document is not accessible from this
// context (cross-origin); that is an expected outcome, not an error.
func (d *Document) Frame() (*Document, bool) {
	if d.frame == nil {
		return nil, false
	}
	return d.frame, true
}

// Resolve turns ref into an absolute URL against the document base. Data
// URIs are returned untouched. When no base is known the trimmed reference is
// returned as is.
func (d *Document) Resolve(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	if IsDataURI(ref) {
		return ref, true
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	if d.base == nil {
		return u.String(), true
	}
	return d.base.ResolveReference(u).String(), true
}

func getAttr(n *html.Node, name string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

func attrPixels(n *html.Node, name string) int {
	v := strings.TrimSpace(strings.ToLower(getAttr(n, name)))
	v = strings.TrimSuffix(v, "px")
	if v == "" {
		return 0
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
		return int(f)
	}
	return 0
}
