package detect

import (
	"math"
	"sort"

	"github.com/maruel/natural"

	"mangalens/dom"
)

// sortByPosition orders candidates for reading. Two candidates of the same
// origin that both carry an ordinal compare by ordinal; anything else
// compares by vertical position, since that is the only signal comparable
// across strategies. Ties, including candidates with no known position, fall
// back to natural ordering of the URL (page2 before page10).
func sortByPosition(doc *dom.Document, list []Candidate) []Candidate {
	placeUnpositioned(doc, list)
	sort.SliceStable(list, func(i, j int) bool {
		return readsBefore(list[i], list[j])
	})
	return list
}

func readsBefore(a, b Candidate) bool {
	if a.Ordinal != nil && b.Ordinal != nil && a.Origin == b.Origin {
		if *a.Ordinal != *b.Ordinal {
			return *a.Ordinal < *b.Ordinal
		}
		return natural.Less(a.SourceURL, b.SourceURL)
	}
	pa, pb := a.position(), b.position()
	if pa != pb {
		return pa < pb
	}
	return natural.Less(a.SourceURL, b.SourceURL)
}

func (c Candidate) position() float64 {
	if !c.placed {
		return math.Inf(1)
	}
	return c.top
}

// placeUnpositioned borrows the position of a document image with the same
// resolved source for candidates that were not produced from an element.
func placeUnpositioned(doc *dom.Document, list []Candidate) {
	if doc == nil {
		return
	}
	var tops map[string]float64
	for i := range list {
		if list[i].placed {
			continue
		}
		if tops == nil {
			tops = make(map[string]float64)
			for _, im := range doc.Images() {
				abs, ok := doc.Resolve(plainSource(im))
				if !ok {
					continue
				}
				if _, dup := tops[abs]; !dup {
					tops[abs] = im.Top
				}
			}
		}
		if top, ok := tops[list[i].SourceURL]; ok {
			list[i].top, list[i].placed = top, true
		}
	}
}
