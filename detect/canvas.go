package detect

import (
	"image"

	"golang.org/x/image/draw"

	"mangalens/dom"
)

const (
	// MinCanvasArea skips UI chrome canvases too small to hold a page.
	MinCanvasArea = 200000
	// DefaultCanvasThreshold is the default fraction of opaque pixels a
	// canvas needs to count as page content.
	DefaultCanvasThreshold = 0.65

	minCanvasThreshold = 0.1
	maxCanvasThreshold = 0.9
	transparentAlpha   = 10
)

// ClampThreshold bounds a user supplied threshold to [0.1, 0.9]. Zero selects
// the default.
func ClampThreshold(t float64) float64 {
	switch {
	case t == 0:
		return DefaultCanvasThreshold
	case t < minCanvasThreshold:
		return minCanvasThreshold
	case t > maxCanvasThreshold:
		return maxCanvasThreshold
	}
	return t
}

// TransparentFraction is the share of pixels whose alpha is below 10.
func TransparentFraction(img image.Image) float64 {
	b := img.Bounds()
	if b.Empty() {
		return 1
	}
	px, ok := img.(*image.NRGBA)
	if !ok {
		px = image.NewNRGBA(b)
		draw.Draw(px, b, img, b.Min, draw.Src)
	}
	transparent := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := px.PixOffset(b.Min.X, y)
		row := px.Pix[off : off+b.Dx()*4]
		for i := 3; i < len(row); i += 4 {
			if row[i] < transparentAlpha {
				transparent++
			}
		}
	}
	return float64(transparent) / float64(b.Dx()*b.Dy())
}

// AcceptsCanvas applies the density rule: a canvas is content when its
// transparent fraction is strictly below 1 - threshold.
func AcceptsCanvas(transparentFraction, threshold float64) bool {
	return transparentFraction < 1-threshold
}

// ExtractCanvases returns the canvases that look like rendered pages, in
// canvas order. A canvas that cannot be read or decoded is skipped.
func ExtractCanvases(doc *dom.Document, threshold float64) []Candidate {
	threshold = ClampThreshold(threshold)
	var out []Candidate
	for _, c := range doc.Canvases() {
		if c.Area() < MinCanvasArea {
			continue
		}
		cand, ok := extractCanvas(c, threshold)
		if ok {
			out = append(out, cand)
		}
	}
	return dedupe(out)
}

func extractCanvas(c *dom.Canvas, threshold float64) (cand Candidate, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	uri, err := c.DataURL()
	if err != nil {
		return Candidate{}, false
	}
	img, err := dom.DecodeDataURI(uri)
	if err != nil {
		return Candidate{}, false
	}
	if !AcceptsCanvas(TransparentFraction(img), threshold) {
		return Candidate{}, false
	}
	b := img.Bounds()
	return Candidate{
		SourceURL:     uri,
		Origin:        OriginCanvas,
		Ordinal:       ordinal(c.Index),
		Loaded:        true,
		NaturalWidth:  b.Dx(),
		NaturalHeight: b.Dy(),
	}, true
}
