package settings

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/aymerick/douceur/parser"
)

// Color is an opaque sRGB colour.
type Color struct {
	R uint8
	G uint8
	B uint8
}

// Hex formats c as #rrggbb.
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func (c Color) relativeLuminance() float64 {
	toLinear := func(channel uint8) float64 {
		v := float64(channel) / 255.0
		if v <= 0.03928 {
			return v / 12.92
		}
		return math.Pow((v+0.055)/1.055, 2.4)
	}
	return 0.2126*toLinear(c.R) + 0.7152*toLinear(c.G) + 0.0722*toLinear(c.B)
}

// ContrastRatio is the WCAG contrast ratio between c and other.
func (c Color) ContrastRatio(other Color) float64 {
	la := c.relativeLuminance()
	lb := other.relativeLuminance()
	if la < lb {
		la, lb = lb, la
	}
	return (la + 0.05) / (lb + 0.05)
}

// Foreground picks black or white, whichever reads better on c.
func (c Color) Foreground() Color {
	white := Color{255, 255, 255}
	if c.ContrastRatio(white) >= c.ContrastRatio(Color{}) {
		return white
	}
	return Color{}
}

var namedColors = map[string]Color{
	"black":  {},
	"white":  {255, 255, 255},
	"gray":   {128, 128, 128},
	"grey":   {128, 128, 128},
	"silver": {192, 192, 192},
	"maroon": {128, 0, 0},
	"red":    {255, 0, 0},
	"navy":   {0, 0, 128},
	"blue":   {0, 0, 255},
	"green":  {0, 128, 0},
	"ivory":  {255, 255, 240},
	"beige":  {245, 245, 220},
}

// NormalizeBackground validates a user supplied background as a CSS
// background-color value and returns it as #rrggbb.
func NormalizeBackground(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" || strings.ContainsAny(v, ";{}") {
		return "", &Error{Code: ErrCodeValue, Err: fmt.Errorf("background %q", v)}
	}
	decls, err := parser.ParseDeclarations("background-color: " + v + ";")
	if err != nil || len(decls) != 1 || decls[0] == nil {
		return "", &Error{Code: ErrCodeValue, Err: fmt.Errorf("background %q: not a declaration", v)}
	}
	col, ok := ParseColor(decls[0].Value)
	if !ok {
		return "", &Error{Code: ErrCodeValue, Err: fmt.Errorf("background %q: not a colour", v)}
	}
	return col.Hex(), nil
}

// ParseColor understands hex, rgb()/rgba() and a small set of names.
// Transparent colours are rejected.
func ParseColor(input string) (Color, bool) {
	s := strings.TrimSpace(strings.ToLower(input))
	if s == "" || s == "transparent" {
		return Color{}, false
	}
	if c, ok := namedColors[s]; ok {
		return c, true
	}
	if strings.HasPrefix(s, "#") {
		return parseShorthandHex(s)
	}
	if strings.HasPrefix(s, "rgb(") || strings.HasPrefix(s, "rgba(") {
		return parseRGBFunctional(s)
	}
	return Color{}, false
}

func parseHexColor(hex string) (Color, bool) {
	if len(hex) != 6 {
		return Color{}, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return Color{}, false
	}
	return Color{uint8(v >> 16), uint8(v >> 8), uint8(v)}, true
}

func parseShorthandHex(value string) (Color, bool) {
	hex := strings.TrimPrefix(strings.TrimSpace(value), "#")
	switch len(hex) {
	case 3, 4:
		return parseHexColor(string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]}))
	case 6, 8:
		return parseHexColor(hex[:6])
	}
	return Color{}, false
}

func parseRGBFunctional(expr string) (Color, bool) {
	open := strings.IndexByte(expr, '(')
	close := strings.LastIndexByte(expr, ')')
	if open < 0 || close <= open+1 {
		return Color{}, false
	}
	parts := strings.Split(expr[open+1:close], ",")
	if len(parts) < 3 {
		return Color{}, false
	}
	var out [3]uint8
	for i := 0; i < 3; i++ {
		component := strings.TrimSpace(parts[i])
		pct := strings.HasSuffix(component, "%")
		value, err := strconv.Atoi(strings.TrimSuffix(component, "%"))
		if err != nil {
			return Color{}, false
		}
		limit := 255
		if pct {
			limit = 100
		}
		if value < 0 {
			value = 0
		} else if value > limit {
			value = limit
		}
		if pct {
			value = value * 255 / 100
		}
		out[i] = uint8(value)
	}
	return Color{out[0], out[1], out[2]}, true
}
