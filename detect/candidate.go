// Package detect finds the sequential page images of a manga-like reader on
// an arbitrary document. Nine independent strategies each scan one signal
// surface; the Orchestrator runs them in a fixed priority order.
package detect

// Origin records which strategy produced a candidate.
type Origin string

const (
	OriginDOM      Origin = "DomImage"
	OriginResource Origin = "ResourceTiming"
	OriginText     Origin = "TextScan"
	OriginCanvas   Origin = "CanvasExtraction"
	OriginSelector Origin = "SelectorMatch"
	OriginIframe   Origin = "IframeImage"
)

// Candidate is one discovered image.
type Candidate struct {
	SourceURL string `json:"sourceUrl"`
	Origin    Origin `json:"originKind"`
	// Ordinal is only set for origins without a reliable DOM position.
	Ordinal       *int `json:"ordinalHint,omitempty"`
	Loaded        bool `json:"isLoaded"`
	NaturalWidth  int  `json:"naturalWidth,omitempty"`
	NaturalHeight int  `json:"naturalHeight,omitempty"`

	top    float64
	placed bool
}

func ordinal(i int) *int { return &i }

// URLs lists the source URLs in order.
func URLs(list []Candidate) []string {
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.SourceURL
	}
	return out
}

// SameList reports whether b has the same length and the same source URL at
// every position as a.
func SameList(a, b []Candidate) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].SourceURL != b[i].SourceURL {
			return false
		}
	}
	return true
}

func dedupe(list []Candidate) []Candidate {
	if len(list) == 0 {
		return list
	}
	seen := make(map[string]struct{}, len(list))
	out := list[:0]
	for _, c := range list {
		if c.SourceURL == "" {
			continue
		}
		if _, dup := seen[c.SourceURL]; dup {
			continue
		}
		seen[c.SourceURL] = struct{}{}
		out = append(out, c)
	}
	return out
}
