package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/famish99/os2lbridge/internal/backends"
	"github.com/famish99/os2lbridge/internal/keeper"
	"github.com/famish99/os2lbridge/internal/metadata"
	"github.com/famish99/os2lbridge/internal/os2l"
	"github.com/famish99/os2lbridge/internal/sampler"
	"github.com/famish99/os2lbridge/internal/timeouts"
)

type recordingBackend struct {
	events []string
	phases int
	err    error
}

func (r *recordingBackend) Name() string { return "recording" }

func (r *recordingBackend) SendBeat(beat int32, tempo float64) error {
	r.events = append(r.events, fmt.Sprintf("beat %d %g", beat, tempo))
	return r.err
}

func (r *recordingBackend) SendTime(ms int32) error {
	r.events = append(r.events, fmt.Sprintf("time %d", ms))
	return r.err
}

func (r *recordingBackend) SendTrack(path string) error {
	r.events = append(r.events, "track "+path)
	return r.err
}

func (r *recordingBackend) SendTempo(bpm float64) error {
	r.events = append(r.events, fmt.Sprintf("tempo %g", bpm))
	return r.err
}

func (r *recordingBackend) FollowPhase(int32, float64, float64) error {
	r.phases++
	return nil
}

func (r *recordingBackend) Close() error { return nil }

type scriptedSampler struct {
	snaps []sampler.Snapshot
	i     int
	end   error
}

func (s *scriptedSampler) Sample() (sampler.Snapshot, error) {
	if s.i >= len(s.snaps) {
		if s.end != nil {
			return sampler.Snapshot{}, s.end
		}
		return s.snaps[len(s.snaps)-1], nil
	}
	snap := s.snaps[s.i]
	s.i++
	return snap, nil
}

type staticLookup map[int32]metadata.Track

func (l staticLookup) LookupTrack(_ context.Context, id int32, _ string) (metadata.Track, error) {
	t, ok := l[id]
	if !ok {
		return metadata.Track{}, metadata.ErrNotFound
	}
	return t, nil
}

func newTestBridge(t *testing.T, snaps []sampler.Snapshot, opts ...Option) (*Bridge, *recordingBackend) {
	t.Helper()
	lookup := staticLookup{10: {Path: "/music/a.mp3", Title: "A"}}
	k := keeper.New(keeper.Live{Sampler: &scriptedSampler{snaps: snaps}}, lookup)
	rec := &recordingBackend{}
	b := New(k, backends.Set{rec}, 1000, opts...)
	b.sleep = func(time.Duration) {}
	return b, rec
}

func tick(t *testing.T, b *Bridge, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := b.Tick(context.Background(), 16*time.Millisecond); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
}

func TestDispatchOrderAndFirstTimeSuppressed(t *testing.T) {
	var notified []string
	b, rec := newTestBridge(t, []sampler.Snapshot{
		{Tempo: 128, Deck1Beats: 1, Deck1TrackID: 10, Deck1Time: 100},
		{Tempo: 128, Deck1Beats: 1, Deck1TrackID: 10, Deck1Time: 200},
		{Tempo: 128, Deck1Beats: 2, Deck1TrackID: 10, Deck1Time: 200},
	}, WithNotify(func(s string) { notified = append(notified, s) }))

	tick(t, b, 3)

	want := []string{"beat 1 128", "track /music/a.mp3", "tempo 128", "time 200", "beat 2 128"}
	if !reflect.DeepEqual(rec.events, want) {
		t.Fatalf("events = %q, want %q", rec.events, want)
	}
	if rec.phases != 3 {
		t.Fatalf("expected phase followed every tick, got %d", rec.phases)
	}
	wantNotify := []string{SubsystemBeat, SubsystemTrack, SubsystemTempo, SubsystemBeat}
	if !reflect.DeepEqual(notified, wantNotify) {
		t.Fatalf("notified = %q, want %q", notified, wantNotify)
	}

	last, ok := b.History().Last()
	if !ok || last.ID != 10 || last.Deck != 1 || last.Title != "A" {
		t.Fatalf("unexpected history head %+v", last)
	}
}

func TestOutputErrorsDoNotStopTheLoop(t *testing.T) {
	b, rec := newTestBridge(t, []sampler.Snapshot{
		{Tempo: 120, Deck1Beats: 1},
		{Tempo: 120, Deck1Beats: 2},
	})
	rec.err = os2l.ErrNotConnected
	tick(t, b, 2)
	if len(rec.events) != 3 {
		t.Fatalf("expected delivery attempts to continue, got %q", rec.events)
	}
}

func TestResendAndReset(t *testing.T) {
	b, rec := newTestBridge(t, []sampler.Snapshot{{Tempo: 120, Deck1Beats: 1, Deck1TrackID: 10}})
	var slept []time.Duration
	b.sleep = func(d time.Duration) { slept = append(slept, d) }

	tick(t, b, 1)
	rec.events = nil

	if err := b.Submit(Command{Kind: CmdResend}); err != nil {
		t.Fatal(err)
	}
	if err := b.Submit(Command{Kind: CmdReset}); err != nil {
		t.Fatal(err)
	}
	tick(t, b, 1)

	want := []string{"track /music/a.mp3", "track ", "track /music/a.mp3"}
	if !reflect.DeepEqual(rec.events, want) {
		t.Fatalf("events = %q, want %q", rec.events, want)
	}
	if len(slept) != 1 || slept[0] != timeouts.TrackResetGap {
		t.Fatalf("expected one reset gap pause, got %v", slept)
	}
}

// cachingLookup serves from a map and counts purges
type cachingLookup struct {
	staticLookup
	purged int
}

func (c *cachingLookup) Purge() { c.purged++ }

func TestResetLooksTrackUpAgain(t *testing.T) {
	lookup := &cachingLookup{staticLookup: staticLookup{10: {Path: "/music/a.mp3", Title: "A"}}}
	snaps := []sampler.Snapshot{{Tempo: 120, Deck1Beats: 1, Deck1TrackID: 10}}
	k := keeper.New(keeper.Live{Sampler: &scriptedSampler{snaps: snaps}}, lookup)
	rec := &recordingBackend{}
	b := New(k, backends.Set{rec}, 1000)
	b.sleep = func(time.Duration) {}

	tick(t, b, 1)
	rec.events = nil

	lookup.staticLookup[10] = metadata.Track{Path: "/music/moved/a.mp3", Title: "A"}
	if err := b.Submit(Command{Kind: CmdReset}); err != nil {
		t.Fatal(err)
	}
	tick(t, b, 2)

	want := []string{"track ", "track /music/moved/a.mp3"}
	if !reflect.DeepEqual(rec.events, want) {
		t.Fatalf("events = %q, want %q", rec.events, want)
	}
	if lookup.purged != 1 {
		t.Fatalf("expected one purge, got %d", lookup.purged)
	}
}

func TestOffsetCommandsAndStatusReply(t *testing.T) {
	var notified []string
	b, _ := newTestBridge(t, []sampler.Snapshot{{Tempo: 120, Deck1Beats: 1}},
		WithNotify(func(s string) { notified = append(notified, s) }))
	tick(t, b, 1)
	notified = nil

	reply := make(chan Status, 1)
	for _, cmd := range []Command{
		{Kind: CmdOffset, Micros: 1000},
		{Kind: CmdOffset, Micros: 500},
		{Kind: CmdStatus, Reply: reply},
	} {
		if err := b.Submit(cmd); err != nil {
			t.Fatal(err)
		}
	}
	tick(t, b, 1)

	st := <-reply
	if st.OffsetMicros != 1500 {
		t.Fatalf("expected offset 1500, got %v", st.OffsetMicros)
	}
	if st.Beat != 1 || st.Tempo != 120 || st.MasterDeck != 1 || !st.Live {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.Rate < 62 || st.Rate > 63 {
		t.Fatalf("expected ~62.5Hz from a 16ms delta, got %v", st.Rate)
	}
	if !reflect.DeepEqual(notified, []string{SubsystemOffset, SubsystemOffset}) {
		t.Fatalf("unexpected notifications %q", notified)
	}

	if err := b.Submit(Command{Kind: CmdClearOffset}); err != nil {
		t.Fatal(err)
	}
	tick(t, b, 1)
	if b.keeper.OffsetMicros() != 0 {
		t.Fatalf("expected offset cleared, got %v", b.keeper.OffsetMicros())
	}
}

func TestQuitCommand(t *testing.T) {
	b, _ := newTestBridge(t, []sampler.Snapshot{{Tempo: 120}})
	if err := b.Submit(Command{Kind: CmdQuit}); err != nil {
		t.Fatal(err)
	}
	quit, err := b.Tick(context.Background(), time.Millisecond)
	if err != nil || !quit {
		t.Fatalf("expected quit, got quit=%v err=%v", quit, err)
	}
}

func TestSubmitWhenFull(t *testing.T) {
	b, _ := newTestBridge(t, []sampler.Snapshot{{}})
	for i := 0; i < commandBuffer; i++ {
		if err := b.Submit(Command{Kind: CmdStatus}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if err := b.Submit(Command{Kind: CmdStatus}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestStatusRenderedEveryTwentyTicks(t *testing.T) {
	renders := 0
	b, _ := newTestBridge(t, []sampler.Snapshot{{Tempo: 120}},
		WithStatusRenderer(func(Status) { renders++ }))
	tick(t, b, 41)
	if renders != 3 {
		t.Fatalf("expected 3 renders, got %d", renders)
	}
}

func TestRunEndsOnReplayEOF(t *testing.T) {
	k := keeper.New(keeper.Live{Sampler: &scriptedSampler{
		snaps: []sampler.Snapshot{{Tempo: 120, Deck1Beats: 1}},
		end:   io.EOF,
	}}, nil)
	b := New(k, nil, 1000)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Run(ctx); err != nil {
		t.Fatalf("expected clean end, got %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("run should end before the deadline")
	}
}

func TestRunReturnsSamplerError(t *testing.T) {
	boom := errors.New("read failed")
	k := keeper.New(keeper.Live{Sampler: &scriptedSampler{
		snaps: []sampler.Snapshot{{}},
		end:   boom,
	}}, nil)
	b := New(k, nil, 1000)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Run(ctx); !errors.Is(err, boom) {
		t.Fatalf("expected sampler error, got %v", err)
	}
}

func TestRunStopsOnQuit(t *testing.T) {
	b := New(keeper.New(keeper.Synthetic{}, nil), nil, 1000)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	st, err := b.Query(ctx, Command{Kind: CmdQuit})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if st.Live {
		t.Fatal("synthetic run should not report live")
	}
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}
