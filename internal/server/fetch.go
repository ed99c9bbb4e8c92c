package server

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
)

const maxPageBytes = 16 << 20

// fetchPage downloads target for a static session and reports the final URL
// after redirects.
func fetchPage(ctx context.Context, target string, hdr http.Header, jar http.CookieJar, timeout time.Duration) (string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", nil, err
	}
	for k, vals := range hdr {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	}
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	client := &http.Client{Timeout: timeout}
	if jar != nil {
		client.Jar = jar
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", nil, fmt.Errorf("fetch %s: %s", target, resp.Status)
	}
	rc := io.ReadCloser(resp.Body)
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		if gr, err := gzip.NewReader(resp.Body); err == nil {
			rc = gr
			defer gr.Close()
		}
	case "deflate":
		// servers disagree on whether deflate carries the zlib wrapper
		br := bufio.NewReader(resp.Body)
		if hdr, err := br.Peek(2); err == nil && isZlibHeader(hdr) {
			zr, err := zlib.NewReader(br)
			if err != nil {
				return "", nil, fmt.Errorf("fetch %s: %w", target, err)
			}
			rc = zr
			defer zr.Close()
		} else {
			fr := flate.NewReader(br)
			rc = fr
			defer fr.Close()
		}
	}
	// pages are handed on as UTF-8 whatever the upstream encoding
	dec, err := charset.NewReader(rc, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	body, err := io.ReadAll(io.LimitReader(dec, maxPageBytes))
	if err != nil {
		return "", nil, err
	}
	return resp.Request.URL.String(), body, nil
}

// isZlibHeader checks the RFC 1950 CMF/FLG pair: deflate method and a
// header checksum divisible by 31.
func isZlibHeader(b []byte) bool {
	return len(b) >= 2 && b[0]&0x0f == 8 && (uint16(b[0])<<8|uint16(b[1]))%31 == 0
}

// forwardHeaders copies the client headers worth replaying upstream.
func forwardHeaders(r *http.Request) http.Header {
	out := http.Header{}
	for _, k := range []string{"User-Agent", "Accept-Language", "Referer"} {
		if v := r.Header.Get(k); v != "" {
			out.Set(k, v)
		}
	}
	return out
}
