// Command mlscan runs detection once against a URL or a saved HTML file and
// prints the result as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"mangalens/detect"
	"mangalens/dom"
	"mangalens/internal/browser"
	"mangalens/internal/page"
	"mangalens/internal/refresh"
)

type report struct {
	URL        string             `json:"url"`
	Mode       detect.Name        `json:"mode"`
	Winner     detect.Name        `json:"winner,omitempty"`
	Candidates []detect.Candidate `json:"candidates,omitempty"`
	Counts     []detect.Count     `json:"counts,omitempty"`
}

func main() {
	live := flag.Bool("live", false, "load the page in headless Chrome")
	browserPath := flag.String("browser", "", "Chrome binary for -live")
	modeFlag := flag.String("mode", "auto", "detection mode: auto or a strategy name")
	all := flag.Bool("all", false, "report candidate counts for every strategy")
	threshold := flag.Float64("threshold", detect.DefaultCanvasThreshold, "opaque fraction a canvas needs")
	minAccept := flag.Int("min", detect.DefaultMinAccept, "smallest result auto search accepts")
	loadAll := flag.Bool("load-all", false, "scroll the live page to the end before detecting")
	baseURL := flag.String("base", "", "page URL for a local file")
	timeout := flag.Duration("timeout", time.Minute, "overall timeout")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: mlscan [flags] <url|file.html>")
		os.Exit(2)
	}
	log.SetFlags(0)
	log.SetPrefix("mlscan: ")

	mode, err := detect.ParseMode(*modeFlag)
	if err != nil {
		log.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	target := flag.Arg(0)
	src, closeSrc, err := openSource(ctx, target, *baseURL, *live, *browserPath)
	if err != nil {
		log.Fatal(err)
	}
	defer closeSrc()

	if *loadAll {
		ctrl := refresh.New(src, func(context.Context, string) {}, refresh.Config{PollInterval: -1})
		if err := ctrl.LoadAll(ctx); err != nil {
			log.Printf("load-all: %v", err)
		}
		ctrl.Close()
	}

	doc, err := src.Snapshot(ctx)
	if err != nil {
		log.Fatal(err)
	}
	orch := detect.NewOrchestrator(*minAccept)
	env := detect.Env{Doc: doc, CanvasThreshold: *threshold}
	res := orch.Run(env, mode)
	out := report{URL: src.URL(), Mode: mode, Winner: res.Winner, Candidates: res.Candidates}
	if *all {
		out.Counts = orch.Diagnose(env)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatal(err)
	}
}

func openSource(ctx context.Context, target, base string, live bool, browserPath string) (page.Source, func(), error) {
	isURL := strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://")
	if live {
		if !isURL {
			return nil, nil, fmt.Errorf("-live needs a URL, got %q", target)
		}
		b := browser.New(browser.Options{ExecPath: browserPath, Logger: log.Default()})
		tab, err := b.Open(ctx, target, browser.OpenOptions{SettleDelay: time.Second})
		if err != nil {
			b.Close()
			return nil, nil, err
		}
		return tab, func() { tab.Close(); b.Close() }, nil
	}
	if isURL {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, nil, err
		}
		req.Header.Set("User-Agent", "mlscan/1.0")
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, nil, err
		}
		return page.NewStatic(resp.Request.URL.String(), string(body)), func() {}, nil
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, nil, err
	}
	// a captured snapshot carries runtime state a plain HTML file lacks
	if strings.HasSuffix(target, ".json") {
		var snap dom.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, nil, fmt.Errorf("decode snapshot: %w", err)
		}
		if base != "" {
			snap.URL = base
		}
		return page.NewStaticSnapshot(&snap), func() {}, nil
	}
	if base == "" {
		base = "file:///" + strings.TrimPrefix(target, "/")
	}
	return page.NewStatic(base, string(data)), func() {}, nil
}
