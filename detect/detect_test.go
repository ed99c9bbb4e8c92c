package detect

import (
	"fmt"
	"strings"
	"testing"

	"mangalens/dom"
)

func mustSnapshot(t *testing.T, s *dom.Snapshot) *dom.Document {
	t.Helper()
	d, err := dom.FromSnapshot(s)
	if err != nil {
		t.Fatalf("FromSnapshot: %v", err)
	}
	return d
}

func mustParse(t *testing.T, pageURL, markup string) *dom.Document {
	t.Helper()
	d, err := dom.Parse(pageURL, strings.NewReader(markup))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return d
}

type pageImage struct {
	src   string
	attrs string
	w, h  int
	top   float64
	done  bool
}

// livePage builds a snapshot with runtime geometry for each image.
func livePage(t *testing.T, wrapper string, imgs []pageImage) *dom.Document {
	t.Helper()
	var b strings.Builder
	s := &dom.Snapshot{URL: "https://reader.example/series/1/chapter/3"}
	for i, im := range imgs {
		fmt.Fprintf(&b, `<img src="%s" %s data-mlx-index="%d">`, im.src, im.attrs, i)
		s.Images = append(s.Images, dom.ImageState{
			Index: i, NaturalWidth: im.w, NaturalHeight: im.h, Complete: im.done, Top: im.top,
		})
	}
	body := b.String()
	if wrapper != "" {
		body = `<div class="` + wrapper + `">` + body + `</div>`
	}
	s.HTML = "<html><body>" + body + "</body></html>"
	return mustSnapshot(t, s)
}

func assertUnique(t *testing.T, list []Candidate) {
	t.Helper()
	seen := map[string]bool{}
	for _, c := range list {
		if seen[c.SourceURL] {
			t.Fatalf("duplicate source %q", c.SourceURL)
		}
		seen[c.SourceURL] = true
	}
}

func TestDOMScanExcludesIcons(t *testing.T) {
	var imgs []pageImage
	for i := 1; i <= 5; i++ {
		imgs = append(imgs, pageImage{src: fmt.Sprintf("/pages/%03d.jpg", i), w: 800, h: 1200, top: float64(i * 1200), done: true})
	}
	for i := 1; i <= 3; i++ {
		imgs = append(imgs, pageImage{src: fmt.Sprintf("/assets/icon-%d.png", i), w: 16, h: 16, top: float64(i), done: true})
	}
	doc := livePage(t, "", imgs)
	got := Run(DOMScan, Env{Doc: doc})
	if len(got) != 5 {
		t.Fatalf("expected 5 pages, got %d: %v", len(got), URLs(got))
	}
	for i, c := range got {
		want := fmt.Sprintf("https://reader.example/pages/%03d.jpg", i+1)
		if c.SourceURL != want {
			t.Fatalf("position %d: got %q want %q", i, c.SourceURL, want)
		}
		if c.Origin != OriginDOM || !c.Loaded || c.NaturalWidth != 800 {
			t.Fatalf("unexpected candidate %+v", c)
		}
		if strings.Contains(c.SourceURL, "icon") {
			t.Fatal("icon leaked into result")
		}
	}
}

func TestDOMScanRules(t *testing.T) {
	doc := livePage(t, "", []pageImage{
		{src: "a.jpg", w: 800, h: 1200, done: true, top: 30},
		{src: "a.jpg", w: 800, h: 1200, done: true, top: 40},
		{src: "small.jpg", w: 300, h: 1200, done: true, top: 50},
		{src: "placeholder.gif", attrs: `data-src="/lazy/b.webp"`, top: 60},
		{src: "", attrs: `srcset="c-480.png 480w, c-1080.png 1080w"`, top: 70},
		{src: "/api/page?id=4", top: 80},
		{src: "broken.jpg", done: true, top: 90},
		{src: "/ads/d.jpg", top: 100},
	})
	got := URLs(Run(DOMScan, Env{Doc: doc}))
	want := []string{
		"https://reader.example/series/1/chapter/a.jpg",
		"https://reader.example/lazy/b.webp",
		"https://reader.example/series/1/chapter/c-1080.png",
	}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %v\nwant %v", got, want)
	}
}

func TestDOMScanAcceptsFlagged(t *testing.T) {
	doc := livePage(t, "", []pageImage{
		{src: "/render?page=1", top: 1},
		{src: "/render?page=2", top: 2},
	})
	flagged := map[string]bool{"https://reader.example/render?page=2": true}
	got := Run(DOMScan, Env{Doc: doc, Flagged: func(u string) bool { return flagged[u] }})
	if len(got) != 1 || got[0].SourceURL != "https://reader.example/render?page=2" {
		t.Fatalf("unexpected result %v", URLs(got))
	}
}

func TestDOMScanOrdersByPosition(t *testing.T) {
	doc := livePage(t, "", []pageImage{
		{src: "p3.jpg", w: 800, h: 1000, done: true, top: 3000},
		{src: "p1.jpg", w: 800, h: 1000, done: true, top: 100},
		{src: "p10.jpg", w: 800, h: 1000, done: true, top: 2000},
		{src: "p2.jpg", w: 800, h: 1000, done: true, top: 2000},
	})
	got := URLs(Run(DOMScan, Env{Doc: doc}))
	var names []string
	for _, u := range got {
		names = append(names, u[strings.LastIndex(u, "/")+1:])
	}
	if strings.Join(names, ",") != "p1.jpg,p2.jpg,p10.jpg,p3.jpg" {
		t.Fatalf("unexpected order %v", names)
	}
}

func TestStrategiesAreIdempotent(t *testing.T) {
	doc := livePage(t, "reading-content", []pageImage{
		{src: "x.gif", attrs: `data-original="/o/1.jpg"`, top: 10},
		{src: "x.gif", attrs: `data-original="/o/2.jpg"`, top: 20},
		{src: "/o/3.jpg", w: 900, h: 1300, done: true, top: 30},
	})
	for _, n := range Names() {
		first := Run(n, Env{Doc: doc})
		second := Run(n, Env{Doc: doc})
		if !SameList(first, second) {
			t.Fatalf("%s not idempotent: %v vs %v", n, URLs(first), URLs(second))
		}
		assertUnique(t, first)
	}
}

func TestSelectorVariants(t *testing.T) {
	doc := livePage(t, "reading-content", []pageImage{
		{src: "blank.gif", attrs: `data-src="/r/1.jpg"`, top: 1},
		{src: "/r/2.jpg", w: 900, h: 1400, done: true, top: 2},
		{src: "/r/tiny.jpg", w: 100, h: 100, done: true, top: 3},
	})
	got := URLs(Run(ReadingContent, Env{Doc: doc}))
	if len(got) != 2 || !strings.HasSuffix(got[0], "/r/1.jpg") || !strings.HasSuffix(got[1], "/r/2.jpg") {
		t.Fatalf("reading-content got %v", got)
	}
	for _, n := range []Name{ChapterContent, MangaReader, EntryContent} {
		if res := Run(n, Env{Doc: doc}); len(res) != 0 {
			t.Fatalf("%s matched outside its template: %v", n, URLs(res))
		}
	}

	reader := livePage(t, "manga-reader", []pageImage{
		{src: "/spacer.svg", attrs: `data-src="/m/1.jpg"`, top: 1},
		{src: "/m/2.jpg", top: 2},
	})
	got = URLs(Run(MangaReader, Env{Doc: reader}))
	if len(got) != 1 || !strings.HasSuffix(got[0], "/m/2.jpg") {
		t.Fatalf("manga-reader must not promote lazy sources, got %v", got)
	}
}

func TestResourceTimingScan(t *testing.T) {
	doc := mustSnapshot(t, &dom.Snapshot{
		URL:  "https://reader.example/",
		HTML: "<html></html>",
		Resources: []dom.Resource{
			{Name: "https://cdn.example/app.js"},
			{Name: "https://cdn.example/c/001.jpg"},
			{Name: "https://cdn.example/logo.png"},
			{Name: "https://cdn.example/c/002.webp?token=abc"},
			{Name: "https://cdn.example/c/001.jpg"},
		},
	})
	got := Run(ResourceTiming, Env{Doc: doc})
	if len(got) != 2 {
		t.Fatalf("expected 2, got %v", URLs(got))
	}
	if *got[0].Ordinal != 1 || *got[1].Ordinal != 3 || got[1].Origin != OriginResource {
		t.Fatalf("ordinals must be resource indexes: %+v %+v", got[0], got[1])
	}
}

func TestTextScan(t *testing.T) {
	markup := `<html><script>var pages = ["https:\/\/img.example\/ch\/01.jpg","https:\/\/img.example\/ch\/02.jpg"];
var again = "https://img.example/ch/01.jpg";
var skip = "https://img.example/ui/avatar.png";
var notimg = "https://img.example/ch/03.jpg.html";
</script><a href="https://img.example/ch/04.png?w=1&amp;h=2">x</a></html>`
	doc := mustParse(t, "https://reader.example/", markup)
	got := Run(TextScan, Env{Doc: doc})
	want := []string{
		"https://img.example/ch/01.jpg",
		"https://img.example/ch/02.jpg",
		"https://img.example/ch/04.png?w=1&h=2",
	}
	if strings.Join(URLs(got), "|") != strings.Join(want, "|") {
		t.Fatalf("got %v\nwant %v", URLs(got), want)
	}
	for i, c := range got {
		if c.Ordinal == nil || *c.Ordinal != i {
			t.Fatalf("ordinal %d = %v", i, c.Ordinal)
		}
	}
}

func TestFrameReader(t *testing.T) {
	frame := &dom.Snapshot{
		URL:  "https://frames.example/viewer/index.html",
		HTML: `<img src="p1.jpg" data-mlx-index="0"><img src="p2.jpg" data-mlx-index="1"><img src="narrow.jpg" data-mlx-index="2"><img src="pending.jpg" data-mlx-index="3">`,
		Images: []dom.ImageState{
			{Index: 0, NaturalWidth: 700, NaturalHeight: 1000, Complete: true},
			{Index: 1, NaturalWidth: 700, NaturalHeight: 1000, Complete: true},
			{Index: 2, NaturalWidth: 300, NaturalHeight: 1000, Complete: true},
			{Index: 3},
		},
	}
	doc := mustSnapshot(t, &dom.Snapshot{
		URL:   "https://host.example/read",
		HTML:  `<iframe src="https://frames.example/viewer/index.html"></iframe>`,
		Frame: &dom.FrameState{Present: true, Accessible: true, Snapshot: frame},
	})
	got := URLs(Run(FrameReader, Env{Doc: doc}))
	if len(got) != 2 || got[0] != "https://frames.example/viewer/p1.jpg" || got[1] != "https://frames.example/viewer/p2.jpg" {
		t.Fatalf("unexpected frame result %v", got)
	}

	blocked := mustSnapshot(t, &dom.Snapshot{
		URL:   "https://host.example/read",
		HTML:  `<iframe src="https://frames.example/"></iframe>`,
		Frame: &dom.FrameState{Present: true},
	})
	if res := Run(FrameReader, Env{Doc: blocked}); len(res) != 0 {
		t.Fatalf("cross-origin frame must yield nothing, got %v", URLs(res))
	}
}

func TestParseMode(t *testing.T) {
	for _, n := range Names() {
		if got, err := ParseMode(string(n)); err != nil || got != n {
			t.Fatalf("ParseMode(%q) = %q, %v", n, got, err)
		}
	}
	if got, err := ParseMode(""); err != nil || got != Auto {
		t.Fatalf("empty mode = %q, %v", got, err)
	}
	if _, err := ParseMode("bogus"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
