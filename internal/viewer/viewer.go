// Package viewer is the paginated display shell fed by a detection session.
package viewer

import (
	"sync"

	"mangalens/detect"
)

// Viewer holds display state for one session. The zero value is closed,
// toggle hidden, and in double-page mode.
type Viewer struct {
	mu         sync.RWMutex
	open       bool
	toggle     bool
	single     bool
	background string
	images     []detect.Candidate
	page       int
	updates    int
}

// New returns a closed viewer.
func New(background string, single bool) *Viewer {
	return &Viewer{background: background, single: single}
}

// Open shows images starting at the first page.
func (v *Viewer) Open(images []detect.Candidate) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.open = true
	v.images = append([]detect.Candidate(nil), images...)
	v.page = 0
	v.updates++
}

// Update replaces the list in place, keeping the current page when it still
// exists.
func (v *Viewer) Update(images []detect.Candidate) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.images = append([]detect.Candidate(nil), images...)
	if n := v.pageCountLocked(); v.page >= n {
		v.page = max(n-1, 0)
	}
	v.updates++
}

// Close hides the viewer.
func (v *Viewer) Close() {
	v.mu.Lock()
	v.open = false
	v.mu.Unlock()
}

// IsOpen reports whether the viewer is showing.
func (v *Viewer) IsOpen() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.open
}

// Updates counts Open and Update calls.
func (v *Viewer) Updates() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.updates
}

// SetToggleVisible shows or hides the launcher button.
func (v *Viewer) SetToggleVisible(on bool) {
	v.mu.Lock()
	v.toggle = on
	v.mu.Unlock()
}

// ToggleVisible reports whether the launcher button is shown.
func (v *Viewer) ToggleVisible() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.toggle
}

// SetSinglePage switches between single and double page display.
func (v *Viewer) SetSinglePage(single bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.single == single {
		return
	}
	// keep the first image of the current spread in view
	first := v.page
	if !v.single {
		first = v.page * 2
	}
	v.single = single
	if single {
		v.page = first
	} else {
		v.page = first / 2
	}
}

// SetBackground sets the display background colour.
func (v *Viewer) SetBackground(bg string) {
	v.mu.Lock()
	v.background = bg
	v.mu.Unlock()
}

// Images returns the current list in reading order.
func (v *Viewer) Images() []detect.Candidate {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]detect.Candidate(nil), v.images...)
}

// Pages groups the list for display. Double pages read right to left, so
// each spread lists the later image first.
func (v *Viewer) Pages() [][]detect.Candidate {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return pages(v.images, v.single)
}

func pages(images []detect.Candidate, single bool) [][]detect.Candidate {
	var out [][]detect.Candidate
	if single {
		for _, c := range images {
			out = append(out, []detect.Candidate{c})
		}
		return out
	}
	for i := 0; i < len(images); i += 2 {
		if i+1 < len(images) {
			out = append(out, []detect.Candidate{images[i+1], images[i]})
		} else {
			out = append(out, []detect.Candidate{images[i]})
		}
	}
	return out
}

func (v *Viewer) pageCountLocked() int {
	if v.single {
		return len(v.images)
	}
	return (len(v.images) + 1) / 2
}

// Page returns the zero based current page and the page count.
func (v *Viewer) Page() (int, int) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.page, v.pageCountLocked()
}

// Next advances one page and reports whether it moved.
func (v *Viewer) Next() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.page+1 >= v.pageCountLocked() {
		return false
	}
	v.page++
	return true
}

// Prev goes back one page and reports whether it moved.
func (v *Viewer) Prev() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.page == 0 {
		return false
	}
	v.page--
	return true
}
