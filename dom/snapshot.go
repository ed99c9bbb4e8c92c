package dom

import (
	"strconv"
	"strings"
)

// Snapshot is the wire form of a live browsing context as reported by the
// in-page capture script.
type Snapshot struct {
	URL       string        `json:"url"`
	HTML      string        `json:"html"`
	Images    []ImageState  `json:"images"`
	Canvases  []CanvasState `json:"canvases"`
	Resources []Resource    `json:"resources"`
	Frame     *FrameState   `json:"frame,omitempty"`
}

// ImageState is the runtime state of the <img> stamped with Index.
type ImageState struct {
	Index         int     `json:"index"`
	NaturalWidth  int     `json:"naturalWidth"`
	NaturalHeight int     `json:"naturalHeight"`
	Complete      bool    `json:"complete"`
	Top           float64 `json:"top"`
	CurrentSrc    string  `json:"currentSrc,omitempty"`
}

// CanvasState describes a canvas backing store. DataURL is only filled when
// the capture was asked to serialize pixels eagerly.
type CanvasState struct {
	Index   int    `json:"index"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	DataURL string `json:"dataUrl,omitempty"`
}

// FrameState reports the first iframe. Snapshot is nil unless Accessible.
type FrameState struct {
	Present    bool      `json:"present"`
	Accessible bool      `json:"accessible"`
	Snapshot   *Snapshot `json:"snapshot,omitempty"`
}

// FromSnapshot parses the captured markup and overlays the runtime state.
func FromSnapshot(s *Snapshot) (*Document, error) {
	return fromSnapshot(s, 0)
}

func fromSnapshot(s *Snapshot, depth int) (*Document, error) {
	d, err := parseMarkup(s.URL, s.HTML, maxFrameDepth)
	if err != nil {
		return nil, err
	}
	states := make(map[int]ImageState, len(s.Images))
	for _, st := range s.Images {
		states[st.Index] = st
	}
	for pos, im := range d.images {
		key := pos
		if v := strings.TrimSpace(im.Attr(IndexAttr)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				key = n
			}
		}
		st, ok := states[key]
		if !ok {
			continue
		}
		im.NaturalWidth = st.NaturalWidth
		im.NaturalHeight = st.NaturalHeight
		im.Complete = st.Complete
		im.Top = st.Top
		im.CurrentSrc = st.CurrentSrc
	}
	for _, cs := range s.Canvases {
		if cs.Index < 0 || cs.Index >= len(d.canvases) {
			continue
		}
		c := d.canvases[cs.Index]
		c.Width, c.Height = cs.Width, cs.Height
		if cs.DataURL != "" {
			data := cs.DataURL
			c.Load = func() (string, error) { return data, nil }
		}
	}
	d.resources = append([]Resource(nil), s.Resources...)
	if f := s.Frame; f != nil {
		d.hasFrame = f.Present
		d.frame = nil
		if f.Present && f.Accessible && f.Snapshot != nil && depth < maxFrameDepth {
			if fd, err := fromSnapshot(f.Snapshot, depth+1); err == nil {
				d.frame = fd
			}
		}
	}
	return d, nil
}
