// Package tracklist keeps the most recent master tracks.
package tracklist

import (
	"sync"
	"time"
)

// DefaultSize is the number of entries kept when none is given
const DefaultSize = 32

// Entry is one resolved master track
type Entry struct {
	ID    int32
	Deck  int // 1-based
	Path  string
	Title string
	At    time.Time
}

// History is a bounded ring of entries, oldest dropped first
type History struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// New creates a history holding up to size entries
func New(size int) *History {
	if size <= 0 {
		size = DefaultSize
	}
	return &History{entries: make([]Entry, size)}
}

// Add records an entry. Re-adding the track already at the head only
// refreshes its timestamp.
func (h *History) Add(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if last, ok := h.lastLocked(); ok && last.ID == e.ID && last.Path == e.Path {
		h.entries[h.prev(h.next)].At = e.At
		return
	}

	h.entries[h.next] = e
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
}

func (h *History) prev(i int) int {
	return (i - 1 + len(h.entries)) % len(h.entries)
}

func (h *History) lastLocked() (Entry, bool) {
	if !h.full && h.next == 0 {
		return Entry{}, false
	}
	return h.entries[h.prev(h.next)], true
}

// Last returns the most recent entry
func (h *History) Last() (Entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastLocked()
}

// Len returns the number of entries held
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return len(h.entries)
	}
	return h.next
}

// Entries returns a copy, newest first
func (h *History) Entries() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := h.next
	if h.full {
		n = len(h.entries)
	}
	out := make([]Entry, 0, n)
	for i, idx := 0, h.prev(h.next); i < n; i, idx = i+1, h.prev(idx) {
		out = append(out, h.entries[idx])
	}
	return out
}

// Clear removes all entries
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = make([]Entry, len(h.entries))
	h.next = 0
	h.full = false
}
