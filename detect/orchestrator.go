package detect

import "mangalens/dom"

// DefaultMinAccept is the smallest result an auto search accepts.
const DefaultMinAccept = 2

type entry struct {
	name     Name
	when     func(*dom.Document) bool
	strategy Strategy
	// geometry marks strategies whose validity depends on loaded image
	// dimensions, so load completion should trigger a refresh.
	geometry bool
}

// Orchestrator runs strategies either pinned to one name or as an ordered
// auto search.
type Orchestrator struct {
	entries   []entry
	minAccept int
}

// Result is the outcome of one orchestrated pass.
type Result struct {
	Mode Name
	// Winner is the strategy that produced Candidates in auto mode, or the
	// pinned strategy. Empty when an auto search found nothing.
	Winner     Name
	Candidates []Candidate
}

// Accepted reports whether the result meets the minimum count.
func (r Result) Accepted(minAccept int) bool { return len(r.Candidates) >= minAccept }

// NewOrchestrator builds the default priority table: cheapest and most
// structurally reliable first, pixel level canvas reads last.
func NewOrchestrator(minAccept int) *Orchestrator {
	if minAccept <= 0 {
		minAccept = DefaultMinAccept
	}
	o := &Orchestrator{minAccept: minAccept}
	for _, n := range Names() {
		e := entry{name: n, strategy: registry[n]}
		switch n {
		case DOMScan, ReadingContent, ChapterContent, MangaReader, EntryContent, FrameReader:
			e.geometry = true
		}
		if n == FrameReader {
			e.when = (*dom.Document).HasFrame
		}
		o.entries = append(o.entries, e)
	}
	return o
}

// MinAccept returns the configured minimum result size.
func (o *Orchestrator) MinAccept() int { return o.minAccept }

// WatchesGeometry reports whether results of n should be re-checked once
// their images finish loading.
func (o *Orchestrator) WatchesGeometry(n Name) bool {
	for _, e := range o.entries {
		if e.name == n {
			return e.geometry
		}
	}
	return false
}

// Run executes one pass. A pinned mode runs exactly that strategy and
// returns whatever it finds, however short. Auto mode returns the first
// strategy result with at least MinAccept candidates.
func (o *Orchestrator) Run(env Env, mode Name) Result {
	if env.Doc == nil {
		return Result{Mode: mode}
	}
	if mode != Auto {
		for _, e := range o.entries {
			if e.name == mode {
				return Result{Mode: mode, Winner: mode, Candidates: e.strategy.Detect(env)}
			}
		}
		return Result{Mode: mode}
	}
	for _, e := range o.entries {
		if e.when != nil && !e.when(env.Doc) {
			continue
		}
		found := e.strategy.Detect(env)
		if len(found) >= o.minAccept {
			return Result{Mode: Auto, Winner: e.name, Candidates: found}
		}
	}
	return Result{Mode: Auto}
}

// Count is one line of a diagnostic report.
type Count struct {
	Name  Name `json:"name"`
	Count int  `json:"count"`
}

// Diagnose runs every strategy independently and reports how many
// candidates each produced.
func (o *Orchestrator) Diagnose(env Env) []Count {
	out := make([]Count, 0, len(o.entries))
	for _, e := range o.entries {
		n := 0
		if env.Doc != nil {
			n = len(e.strategy.Detect(env))
		}
		out = append(out, Count{Name: e.name, Count: n})
	}
	return out
}
