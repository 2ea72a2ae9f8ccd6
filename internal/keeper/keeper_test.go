package keeper

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/famish99/os2lbridge/internal/metadata"
	"github.com/famish99/os2lbridge/internal/sampler"
)

const eps = 1e-6

type lookupCall struct {
	id    int32
	token string
}

type fakeLookup struct {
	tracks map[int32]metadata.Track
	err    error
	calls  []lookupCall
}

func (f *fakeLookup) LookupTrack(_ context.Context, id int32, token string) (metadata.Track, error) {
	f.calls = append(f.calls, lookupCall{id, token})
	if f.err != nil {
		return metadata.Track{}, f.err
	}
	t, ok := f.tracks[id]
	if !ok {
		return metadata.Track{}, metadata.ErrNotFound
	}
	return t, nil
}

type purgingLookup struct {
	fakeLookup
	purged int
}

func (p *purgingLookup) Purge() { p.purged++ }

type scriptedSampler struct {
	snaps []sampler.Snapshot
	err   error
}

func (s *scriptedSampler) Sample() (sampler.Snapshot, error) {
	if s.err != nil {
		return sampler.Snapshot{}, s.err
	}
	if len(s.snaps) == 0 {
		return sampler.Snapshot{}, errors.New("script exhausted")
	}
	snap := s.snaps[0]
	s.snaps = s.snaps[1:]
	return snap, nil
}

func us(n float64) time.Duration {
	return time.Duration(n * float64(time.Microsecond))
}

// circular distance on the unit interval
func phaseDist(a, b float64) float64 {
	d := math.Abs(a - b)
	return math.Min(d, 1-d)
}

func drain(k *Keeper) {
	k.NewBeat()
	k.NewTime()
	k.NewTrack()
}

func TestUnchangedBeatNeverFires(t *testing.T) {
	k := New(nil, nil)
	snap := sampler.Snapshot{Tempo: 120, Deck1Beats: 16}
	k.Reconcile(context.Background(), snap, 0)
	drain(k)

	for i := 0; i < 50; i++ {
		snap.Deck1Time += 16
		snap.Deck2Beats += 1 // the other deck moving is irrelevant
		k.Reconcile(context.Background(), snap, us(16667))
		if k.NewBeat() {
			t.Fatalf("tick %d: unexpected beat edge", i)
		}
	}
}

func TestDeckSwitchYieldsOneBeatFromNewDeck(t *testing.T) {
	k := New(nil, nil)
	ctx := context.Background()

	k.Reconcile(ctx, sampler.Snapshot{Tempo: 124, MasterDeck: 0, Deck1Beats: 40, Deck2Beats: 41}, us(16667))
	k.Reconcile(ctx, sampler.Snapshot{Tempo: 124, MasterDeck: 0, Deck1Beats: 40, Deck2Beats: 41}, us(16667))
	drain(k)
	if k.Phase() == 0 {
		t.Fatal("phase should have advanced before the switch")
	}

	k.Reconcile(ctx, sampler.Snapshot{Tempo: 124, MasterDeck: 1, Deck1Beats: 40, Deck2Beats: 41}, us(16667))
	if !k.NewBeat() {
		t.Fatal("expected one beat edge on deck switch")
	}
	if k.NewBeat() {
		t.Fatal("beat edge must fire exactly once")
	}
	if k.Beat() != 41 {
		t.Fatalf("expected master beat 41 from deck 2, got %d", k.Beat())
	}
	if k.MasterDeck() != 1 {
		t.Fatalf("expected master deck indicator 1, got %d", k.MasterDeck())
	}
	if k.Phase() != 0 {
		t.Fatalf("expected phase reset to 0, got %v", k.Phase())
	}
}

func TestBackwardJumpIsOneEdge(t *testing.T) {
	k := New(nil, nil)
	ctx := context.Background()
	k.Reconcile(ctx, sampler.Snapshot{Tempo: 120, Deck1Beats: 100}, 0)
	drain(k)

	k.Reconcile(ctx, sampler.Snapshot{Tempo: 120, Deck1Beats: 3}, us(1000))
	if !k.NewBeat() || k.NewBeat() {
		t.Fatal("expected exactly one edge for a backward jump")
	}
	if k.Beat() != 3 {
		t.Fatalf("expected beat 3, got %d", k.Beat())
	}
}

func TestRepeatedArmsCollapse(t *testing.T) {
	k := New(nil, nil)
	ctx := context.Background()
	for b := int32(1); b <= 5; b++ {
		k.Reconcile(ctx, sampler.Snapshot{Tempo: 120, Deck1Beats: b, Deck1Time: b * 500}, us(500000))
	}
	if !k.NewBeat() || k.NewBeat() {
		t.Fatal("five unconsumed beat edges should read as one")
	}
	if !k.NewTime() || k.NewTime() {
		t.Fatal("five unconsumed time edges should read as one")
	}
}

func TestZeroDeltaKeepsPhase(t *testing.T) {
	k := New(nil, nil)
	ctx := context.Background()
	snap := sampler.Snapshot{Tempo: 128, Deck1Beats: 8}
	k.Reconcile(ctx, snap, 0)
	k.Reconcile(ctx, snap, us(100000))
	before := k.Phase()

	k.Reconcile(ctx, snap, 0)
	if k.Phase() != before {
		t.Fatalf("zero delta changed phase: %v -> %v", before, k.Phase())
	}

	k.Coast(0, 128)
	if k.Phase() != before {
		t.Fatalf("zero delta coast changed phase: %v -> %v", before, k.Phase())
	}
}

func TestPhaseIsPeriodicOverOneBeat(t *testing.T) {
	for _, tempo := range []float64{60, 87.5, 128, 174, 200.25} {
		for _, steps := range []int{1, 7, 60, 1000} {
			k := New(nil, nil)
			k.Coast(us(123456), tempo)
			start := k.Phase()

			// steps are whole nanoseconds, so the loop covers step*steps,
			// which can fall short of a full beat
			step := us(60e6 / tempo / float64(steps))
			covered := float64(step*time.Duration(steps)) / float64(time.Microsecond)
			want := wrap(start + covered*beatsPerMicro(tempo))
			for i := 0; i < steps; i++ {
				k.Coast(step, tempo)
			}
			if d := phaseDist(want, k.Phase()); d > eps {
				t.Errorf("tempo %v, %d steps: phase drifted by %v", tempo, steps, d)
			}
			if d := phaseDist(start, k.Phase()); d > float64(steps)*0.001*beatsPerMicro(tempo)+eps {
				t.Errorf("tempo %v, %d steps: not back at the start, off by %v", tempo, steps, d)
			}
		}
	}
}

func TestPhaseOffsetWraps(t *testing.T) {
	k := New(nil, nil)
	ctx := context.Background()
	// 60 BPM: one beat per second, 1e-6 beats per microsecond
	snap := sampler.Snapshot{Tempo: 60, Deck1Beats: 1}
	k.Reconcile(ctx, snap, 0)
	k.Reconcile(ctx, snap, us(300000))
	if math.Abs(k.Phase()-0.3) > eps {
		t.Fatalf("expected phase 0.3, got %v", k.Phase())
	}

	k.AdjustPhaseOffset(-500000)
	if math.Abs(k.Phase()-0.8) > eps {
		t.Fatalf("expected wrapped phase 0.8, got %v", k.Phase())
	}

	k.AdjustPhaseOffset(250000)
	if math.Abs(k.Phase()-0.05) > eps {
		t.Fatalf("expected phase 0.05, got %v", k.Phase())
	}
	if k.OffsetMicros() != -250000 {
		t.Fatalf("expected accumulated offset -250000, got %v", k.OffsetMicros())
	}

	// several beats worth of offset in either direction
	k.AdjustPhaseOffset(-3.1e6)
	if p := k.Phase(); p < 0 || p >= 1 || math.Abs(p-0.95) > eps {
		t.Fatalf("expected phase 0.95, got %v", p)
	}

	k.ResetPhaseOffset()
	if math.Abs(k.Phase()-0.3) > eps {
		t.Fatalf("expected phase 0.3 after reset, got %v", k.Phase())
	}
}

func TestConcreteScenario128BPM(t *testing.T) {
	k := New(nil, nil)
	ctx := context.Background()
	delta := us(16667)

	k.Reconcile(ctx, sampler.Snapshot{Tempo: 128, Deck1Beats: 10}, delta)
	drain(k)

	k.Reconcile(ctx, sampler.Snapshot{Tempo: 128, Deck1Beats: 11}, delta)
	if !k.NewBeat() {
		t.Fatal("expected beat edge at tick N")
	}
	if k.Phase() != 0 {
		t.Fatalf("expected phase 0 at tick N, got %v", k.Phase())
	}

	k.Reconcile(ctx, sampler.Snapshot{Tempo: 128, Deck1Beats: 11}, delta)
	want := 16667 * 128.0 / 60 / 1e6
	if math.Abs(k.Phase()-want) > eps {
		t.Fatalf("expected phase %v at tick N+1, got %v", want, k.Phase())
	}
	if math.Abs(k.Phase()-0.0356) > 1e-4 {
		t.Fatalf("expected phase ~0.0356, got %v", k.Phase())
	}
}

func TestTimeEdge(t *testing.T) {
	k := New(nil, nil)
	ctx := context.Background()
	k.Reconcile(ctx, sampler.Snapshot{Tempo: 120, Deck1Time: 1000, Deck2Time: 5}, 0)
	drain(k)

	k.Reconcile(ctx, sampler.Snapshot{Tempo: 120, Deck1Time: 1000, Deck2Time: 9}, 0)
	if k.NewTime() {
		t.Fatal("non-master time change must not fire")
	}
	k.Reconcile(ctx, sampler.Snapshot{Tempo: 120, Deck1Time: 1016, Deck2Time: 9}, 0)
	if !k.NewTime() || k.TimeMillis() != 1016 {
		t.Fatalf("expected time edge at 1016, got %d", k.TimeMillis())
	}
}

func TestTempoChangedIsDerived(t *testing.T) {
	k := New(nil, nil)
	ctx := context.Background()
	k.Reconcile(ctx, sampler.Snapshot{Tempo: 128}, 0)

	if v, ok := k.TempoChanged(); !ok || v != 128 {
		t.Fatalf("expected first tempo 128, got %v %v", v, ok)
	}
	if _, ok := k.TempoChanged(); ok {
		t.Fatal("second call within the tick must report nothing")
	}

	k.Reconcile(ctx, sampler.Snapshot{Tempo: 128}, 0)
	if _, ok := k.TempoChanged(); ok {
		t.Fatal("unchanged tempo must report nothing")
	}

	k.Reconcile(ctx, sampler.Snapshot{Tempo: 130.5}, 0)
	if v, ok := k.TempoChanged(); !ok || v != 130.5 {
		t.Fatalf("expected tempo 130.5, got %v %v", v, ok)
	}
}

func TestNonPositiveTrackNeverLooksUp(t *testing.T) {
	lookup := &fakeLookup{tracks: map[int32]metadata.Track{}}
	k := New(nil, lookup)
	ctx := context.Background()

	k.Reconcile(ctx, sampler.Snapshot{Tempo: 120, Deck1TrackID: 0}, 0)
	k.Reconcile(ctx, sampler.Snapshot{Tempo: 120, Deck1TrackID: -1}, 0)
	k.Reconcile(ctx, sampler.Snapshot{Tempo: 120, MasterDeck: 1, Deck1TrackID: -1, Deck2TrackID: 0}, 0)

	if len(lookup.calls) != 0 {
		t.Fatalf("expected no lookups, got %v", lookup.calls)
	}
	if k.NewTrack() {
		t.Fatal("unexpected track edge")
	}
	if k.MasterTrackID() != 0 {
		t.Fatalf("expected master id 0, got %d", k.MasterTrackID())
	}
}

func TestTrackResolution(t *testing.T) {
	lookup := &fakeLookup{tracks: map[int32]metadata.Track{
		5: {Path: "/music/five.mp3", Title: "five.mp3"},
		9: {Path: "/music/nine.mp3", Title: "nine.mp3"},
	}}
	k := New(nil, lookup, WithToken("tok"))
	ctx := context.Background()

	k.Reconcile(ctx, sampler.Snapshot{Tempo: 120, Deck1TrackID: 5}, 0)
	if !k.NewTrack() {
		t.Fatal("expected track edge for deck 1 load")
	}
	if got := k.MasterTrack(); got.ID != 5 || got.Path != "/music/five.mp3" || got.Title != "five.mp3" {
		t.Fatalf("unexpected master track %+v", got)
	}
	if lookup.calls[0] != (lookupCall{5, "tok"}) {
		t.Fatalf("unexpected lookup call %+v", lookup.calls[0])
	}

	// loading the non-master deck does not touch the master track
	k.Reconcile(ctx, sampler.Snapshot{Tempo: 120, Deck1TrackID: 5, Deck2TrackID: 9}, 0)
	if k.NewTrack() || len(lookup.calls) != 1 {
		t.Fatalf("non-master load must not resolve, calls %v", lookup.calls)
	}

	// switching decks resolves the newly active deck's track
	k.SetToken("tok2")
	k.Reconcile(ctx, sampler.Snapshot{Tempo: 120, MasterDeck: 1, Deck1TrackID: 5, Deck2TrackID: 9}, 0)
	if !k.NewTrack() {
		t.Fatal("expected track edge on deck switch")
	}
	if k.MasterTrack().Path != "/music/nine.mp3" {
		t.Fatalf("expected deck 2 track, got %+v", k.MasterTrack())
	}
	if last := lookup.calls[len(lookup.calls)-1]; last != (lookupCall{9, "tok2"}) {
		t.Fatalf("unexpected lookup call %+v", last)
	}
}

func TestNotFoundKeepsPreviousTrack(t *testing.T) {
	lookup := &fakeLookup{tracks: map[int32]metadata.Track{
		5: {Path: "/music/five.mp3", Title: "five.mp3"},
	}}
	k := New(nil, lookup)
	ctx := context.Background()

	k.Reconcile(ctx, sampler.Snapshot{Tempo: 120, Deck1TrackID: 5}, 0)
	drain(k)

	k.Reconcile(ctx, sampler.Snapshot{Tempo: 120, Deck1TrackID: 6}, 0)
	if k.NewTrack() {
		t.Fatal("not-found must not arm the track edge")
	}
	if got := k.MasterTrack(); got.Path != "/music/five.mp3" || got.Title != "five.mp3" {
		t.Fatalf("stored track changed: %+v", got)
	}
	if k.MasterTrackID() != 6 {
		t.Fatalf("expected candidate id 6, got %d", k.MasterTrackID())
	}

	// transport failures behave the same way
	lookup.err = errors.New("connection refused")
	k.Reconcile(ctx, sampler.Snapshot{Tempo: 120, Deck1TrackID: 7}, 0)
	if k.NewTrack() || k.MasterTrack().Path != "/music/five.mp3" {
		t.Fatal("failed lookup must leave state untouched")
	}
}

func TestSyntheticSource(t *testing.T) {
	k := New(Synthetic{}, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := k.Update(ctx, us(100000)); err != nil {
			t.Fatalf("update: %v", err)
		}
		if k.NewBeat() || k.NewTime() || k.NewTrack() {
			t.Fatal("synthetic mode must not raise edges")
		}
		if _, ok := k.TempoChanged(); ok {
			t.Fatal("synthetic mode must not report tempo changes")
		}
	}

	// 1s at 130 BPM is 2.1666.. beats
	want := wrap(1e6 * SyntheticTempo / 60 / 1e6)
	if math.Abs(k.Phase()-want) > eps {
		t.Fatalf("expected phase %v, got %v", want, k.Phase())
	}
	if k.Live() {
		t.Fatal("synthetic keeper reports live")
	}
}

func TestLiveSource(t *testing.T) {
	s := &scriptedSampler{snaps: []sampler.Snapshot{
		{Tempo: 120, Deck1Beats: 1},
		{Tempo: 120, Deck1Beats: 2},
	}}
	k := New(Live{Sampler: s}, nil)
	ctx := context.Background()

	if err := k.Update(ctx, 0); err != nil {
		t.Fatalf("update: %v", err)
	}
	k.NewBeat()
	if err := k.Update(ctx, us(500000)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !k.NewBeat() || k.Beat() != 2 {
		t.Fatalf("expected beat 2, got %d", k.Beat())
	}

	s.err = errors.New("read failed")
	if err := k.Update(ctx, 0); err == nil {
		t.Fatal("expected sampler error")
	}
}

func TestWrap(t *testing.T) {
	cases := map[float64]float64{
		0:    0,
		0.25: 0.25,
		1:    0,
		1.5:  0.5,
		-0.2: 0.8,
		-1:   0,
		-3.5: 0.5,
		7.75: 0.75,
	}
	for in, want := range cases {
		if got := wrap(in); math.Abs(got-want) > eps {
			t.Errorf("wrap(%v) = %v, want %v", in, got, want)
		}
	}
	if got := wrap(-1e-20); got < 0 || got >= 1 {
		t.Errorf("wrap(-1e-20) = %v out of range", got)
	}
}

func TestRefreshPurgesAndResolvesAgain(t *testing.T) {
	lookup := &purgingLookup{fakeLookup: fakeLookup{tracks: map[int32]metadata.Track{
		4: {Path: "/old/a.mp3", Title: "A"},
	}}}
	k := New(nil, lookup)
	k.Reconcile(context.Background(), sampler.Snapshot{Tempo: 120, Deck1TrackID: 4}, 0)
	drain(k)

	lookup.tracks[4] = metadata.Track{Path: "/new/a.mp3", Title: "A"}
	k.Refresh(context.Background())

	if lookup.purged != 1 {
		t.Fatalf("expected one purge, got %d", lookup.purged)
	}
	if len(lookup.calls) != 2 {
		t.Fatalf("expected a second lookup, got %v", lookup.calls)
	}
	if got := k.MasterTrack().Path; got != "/new/a.mp3" {
		t.Fatalf("expected refreshed path, got %q", got)
	}
	if k.NewTrack() {
		t.Fatal("refresh should not raise a track edge")
	}
}

func TestRefreshWithoutMasterTrack(t *testing.T) {
	lookup := &purgingLookup{}
	k := New(nil, lookup)
	k.Refresh(context.Background())
	if lookup.purged != 1 || len(lookup.calls) != 0 {
		t.Fatalf("purged=%d calls=%v", lookup.purged, lookup.calls)
	}

	// a nil lookup is a no-op
	New(nil, nil).Refresh(context.Background())
}
