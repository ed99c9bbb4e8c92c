package dom

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"net/url"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrNotDataURI is returned when a data URI helper receives a regular URL.
var ErrNotDataURI = errors.New("dom: not a data uri")

// IsDataURI reports whether s is an inline data: URI.
func IsDataURI(s string) bool {
	return len(s) > 5 && strings.EqualFold(s[:5], "data:")
}

// splitDataURI returns the media type and decoded payload of a data URI.
func splitDataURI(s string) (string, []byte, error) {
	if !IsDataURI(s) {
		return "", nil, ErrNotDataURI
	}
	comma := strings.IndexByte(s, ',')
	if comma < 0 {
		return "", nil, fmt.Errorf("dom: malformed data uri")
	}
	meta := s[5:comma]
	payload := s[comma+1:]
	isBase64 := false
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		isBase64 = true
		meta = meta[:len(meta)-len(";base64")]
	}
	mediaType := strings.ToLower(strings.TrimSpace(meta))
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	if isBase64 {
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
		if err != nil {
			// some encoders omit padding
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(strings.TrimSpace(payload), "="))
			if err != nil {
				return mediaType, nil, fmt.Errorf("dom: decode data uri: %w", err)
			}
		}
		return mediaType, data, nil
	}
	raw, err := url.PathUnescape(payload)
	if err != nil {
		return mediaType, nil, fmt.Errorf("dom: unescape data uri: %w", err)
	}
	return mediaType, []byte(raw), nil
}

// DecodeDataURI decodes an image carried inline in a data URI.
func DecodeDataURI(s string) (image.Image, error) {
	_, data, err := splitDataURI(s)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("dom: decode image: %w", err)
	}
	return img, nil
}

// DataURIConfig reads only the header of an inline image.
func DataURIConfig(s string) (image.Config, error) {
	_, data, err := splitDataURI(s)
	if err != nil {
		return image.Config{}, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, fmt.Errorf("dom: decode image config: %w", err)
	}
	return cfg, nil
}

// EncodePNGDataURI serializes img as a base64 PNG data URI.
func EncodePNGDataURI(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("dom: encode png: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
