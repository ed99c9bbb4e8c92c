package detect

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	minPageWidth  = 400
	minPageHeight = 200
	minFrameWidth = 500
)

// Keywords of four letters or more match anywhere in the URL ("menuicon",
// "thumbnail"); shorter ones must match a whole token ("ad" but not "upload").
var excludeKeywords = []string{
	"icon", "logo", "avatar", "banner", "thumb", "nav", "navbar", "navigation",
	"ad", "ads", "advert", "favicon", "sprite", "button", "btn", "emoji",
	"emoticon", "badge", "loading", "loader", "spinner", "placeholder",
	"pixel", "tracking", "share", "social", "gravatar", "widget",
}

var imageExtPattern = regexp.MustCompile(`(?i)\.(?:jpe?g|png|webp|gif)(?:\?.*)?$`)

func meetsMinimum(w, h int) bool {
	return w >= minPageWidth && h >= minPageHeight
}

// looksLikeImage reports whether the URL path ends in a known image
// extension, optionally followed by a query string.
func looksLikeImage(u string) bool {
	if i := strings.IndexByte(u, '#'); i >= 0 {
		u = u[:i]
	}
	return imageExtPattern.MatchString(u)
}

func isExcluded(u string) bool {
	if u == "" || strings.HasPrefix(strings.ToLower(u), "data:") {
		return false
	}
	lower := strings.ToLower(u)
	for _, kw := range excludeKeywords {
		if len(kw) >= 4 && strings.Contains(lower, kw) {
			return true
		}
	}
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		for _, kw := range excludeKeywords {
			if len(kw) < 4 && tok == kw {
				return true
			}
		}
	}
	return false
}
