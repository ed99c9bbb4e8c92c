package detect

import "fmt"

// Name identifies one strategy. Auto is the mode that searches all of them.
type Name string

const (
	Auto           Name = "auto"
	DOMScan        Name = "dom"
	ReadingContent Name = "reading-content"
	ChapterContent Name = "chapter-content"
	MangaReader    Name = "manga-reader"
	EntryContent   Name = "entry-content"
	ResourceTiming Name = "resource-timing"
	TextScan       Name = "text-scan"
	FrameReader    Name = "iframe"
	CanvasMode     Name = "canvas"
)

// Names returns every strategy in auto-search priority order.
func Names() []Name {
	return []Name{
		DOMScan,
		ReadingContent,
		ChapterContent,
		MangaReader,
		EntryContent,
		ResourceTiming,
		TextScan,
		FrameReader,
		CanvasMode,
	}
}

// Valid reports whether n is a known strategy name.
func (n Name) Valid() bool {
	_, ok := registry[n]
	return ok
}

// ParseMode accepts "auto" or a strategy name. The empty string means auto.
func ParseMode(s string) (Name, error) {
	n := Name(s)
	if s == "" || n == Auto {
		return Auto, nil
	}
	if !n.Valid() {
		return "", fmt.Errorf("detect: unknown detection mode %q", s)
	}
	return n, nil
}
