package tracklist

import (
	"testing"
	"time"
)

func TestHistoryNewestFirst(t *testing.T) {
	h := New(3)
	if _, ok := h.Last(); ok {
		t.Fatal("empty history should have no last entry")
	}

	now := time.Now()
	for i := int32(1); i <= 4; i++ {
		h.Add(Entry{ID: i, Path: "p", At: now.Add(time.Duration(i) * time.Second)})
	}

	got := h.Entries()
	if len(got) != 3 || h.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	for i, want := range []int32{4, 3, 2} {
		if got[i].ID != want {
			t.Fatalf("entry %d: expected id %d, got %d", i, want, got[i].ID)
		}
	}
	if last, _ := h.Last(); last.ID != 4 {
		t.Fatalf("expected last id 4, got %d", last.ID)
	}
}

func TestHistoryCollapsesRepeats(t *testing.T) {
	h := New(4)
	t0 := time.Unix(100, 0)
	h.Add(Entry{ID: 7, Path: "/a", At: t0})
	h.Add(Entry{ID: 7, Path: "/a", At: t0.Add(time.Minute)})

	if h.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", h.Len())
	}
	if last, _ := h.Last(); !last.At.Equal(t0.Add(time.Minute)) {
		t.Fatalf("expected refreshed timestamp, got %v", last.At)
	}

	h.Add(Entry{ID: 8, Path: "/b"})
	h.Add(Entry{ID: 7, Path: "/a"})
	if h.Len() != 3 {
		t.Fatalf("a track played again later is a new entry, got %d", h.Len())
	}
}

func TestHistoryClear(t *testing.T) {
	h := New(0)
	h.Add(Entry{ID: 1})
	h.Clear()
	if h.Len() != 0 || len(h.Entries()) != 0 {
		t.Fatal("expected empty history after clear")
	}
}
