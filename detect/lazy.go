package detect

import (
	"strings"

	"mangalens/dom"
)

var lazyAttrs = []string{
	"data-src",
	"data-original",
	"data-lazy-src",
	"data-lazy",
	"lazy-src",
	"data-url",
	"data-echo",
}

// lazySource picks the address the page will eventually load for im.
func lazySource(im *dom.Image) string {
	for _, name := range lazyAttrs {
		if v := strings.TrimSpace(im.Attr(name)); v != "" && !dom.IsDataURI(v) {
			return v
		}
	}
	for _, name := range []string{"srcset", "data-srcset"} {
		if v := lastSrcsetCandidate(im.Attr(name)); v != "" {
			return v
		}
	}
	return plainSource(im)
}

// promoteLazy writes the lazily deferred source into src so later reads of
// the snapshot agree with it.
func promoteLazy(im *dom.Image) string {
	src := lazySource(im)
	if src != "" && src != im.Attr("src") {
		im.SetAttr("src", src)
	}
	return src
}

func plainSource(im *dom.Image) string {
	if im.CurrentSrc != "" {
		return im.CurrentSrc
	}
	return strings.TrimSpace(im.Attr("src"))
}

// lastSrcsetCandidate returns the URL of the last srcset entry, which by
// convention is the largest rendition.
func lastSrcsetCandidate(srcset string) string {
	parts := strings.Split(strings.TrimSpace(srcset), ",")
	for i := len(parts) - 1; i >= 0; i-- {
		fields := strings.Fields(parts[i])
		if len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}
