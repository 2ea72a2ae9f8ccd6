// Package keeper reconciles raw deck snapshots into beat, time, track and
// tempo events plus an interpolated sub-beat phase.
//
// A Keeper is owned by a single polling loop and is not safe for concurrent
// use.
package keeper

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/famish99/os2lbridge/internal/metadata"
	"github.com/famish99/os2lbridge/internal/sampler"
)

// TrackLookup resolves a track id to its path and title
type TrackLookup interface {
	LookupTrack(ctx context.Context, id int32, token string) (metadata.Track, error)
}

// Track is the last successfully resolved master track
type Track struct {
	ID    int32
	Path  string
	Title string
}

// edge is a single-slot flag: arming twice before a take is one event
type edge struct {
	armed bool
}

func (e *edge) arm() { e.armed = true }

func (e *edge) take() bool {
	v := e.armed
	e.armed = false
	return v
}

// Keeper holds reconciliation state between ticks
type Keeper struct {
	src    Source
	lookup TrackLookup
	logger *slog.Logger
	token  string

	beat       int32
	timeMillis int32
	masterDeck uint8
	deckTracks [sampler.Decks]int32
	masterID   int32
	master     Track

	phase         float64
	offsetMicros  float64
	tempo         float64
	reportedTempo float64
	sampled       bool

	newBeat  edge
	newTime  edge
	newTrack edge
}

// Option configures a Keeper
type Option func(*Keeper)

// WithLogger sets the logger used for lookup failures
func WithLogger(l *slog.Logger) Option {
	return func(k *Keeper) { k.logger = l }
}

// WithToken sets the bearer token passed to lookups
func WithToken(token string) Option {
	return func(k *Keeper) { k.token = token }
}

// New creates a Keeper driven by src. lookup may be nil, in which case
// master track changes never resolve.
func New(src Source, lookup TrackLookup, opts ...Option) *Keeper {
	k := &Keeper{
		src:    src,
		lookup: lookup,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Update runs one tick through the configured source
func (k *Keeper) Update(ctx context.Context, delta time.Duration) error {
	return k.src.Step(ctx, k, delta)
}

// Reconcile folds one snapshot into the state. delta is the wall-clock time
// since the previous tick.
func (k *Keeper) Reconcile(ctx context.Context, snap sampler.Snapshot, delta time.Duration) {
	k.sampled = true
	tempo := float64(snap.Tempo)
	perMicro := beatsPerMicro(tempo)

	masterChanged := false
	if snap.MasterDeck != k.masterDeck {
		k.masterDeck = snap.MasterDeck
		k.masterID = snap.MasterTrackID()
		masterChanged = true
	}

	active := snap.MasterIndex()
	for deck := 0; deck < sampler.Decks; deck++ {
		id := snap.TrackID(deck)
		if id == k.deckTracks[deck] {
			continue
		}
		k.deckTracks[deck] = id
		if deck == active {
			k.masterID = id
			masterChanged = true
		}
	}

	beatEdge := false
	if b := snap.Beats(active); b != k.beat {
		k.beat = b
		k.phase = 0
		k.newBeat.arm()
		beatEdge = true
	}

	if ms := snap.Time(active); ms != k.timeMillis {
		k.timeMillis = ms
		k.newTime.arm()
	}

	if masterChanged && k.masterID > 0 {
		k.resolveMaster(ctx, k.masterID)
	}

	if !beatEdge {
		k.phase = wrap(k.phase + micros(delta)*perMicro)
	}
	k.tempo = tempo
}

// Coast advances phase at a fixed tempo without a snapshot
func (k *Keeper) Coast(delta time.Duration, tempo float64) {
	k.tempo = tempo
	k.phase = wrap(k.phase + micros(delta)*beatsPerMicro(tempo))
}

func (k *Keeper) resolveMaster(ctx context.Context, id int32) {
	if k.lookup == nil {
		return
	}
	track, err := k.lookup.LookupTrack(ctx, id, k.token)
	switch {
	case errors.Is(err, metadata.ErrNotFound):
		k.logger.Debug("master track not indexed", "track_id", id)
		return
	case err != nil:
		k.logger.Warn("master track lookup failed", "track_id", id, "error", err)
		return
	}
	k.master = Track{ID: id, Path: track.Path, Title: track.Title}
	k.newTrack.arm()
}

// Refresh drops cached lookups when the lookup supports it and resolves
// the master track again. The track is not re-announced as an edge; the
// caller sends it.
func (k *Keeper) Refresh(ctx context.Context) {
	if p, ok := k.lookup.(interface{ Purge() }); ok {
		p.Purge()
	}
	if k.masterID > 0 {
		pending := k.newTrack.armed
		k.resolveMaster(ctx, k.masterID)
		k.newTrack.armed = pending
	}
}

// Phase returns the sub-beat position in [0,1), shifted by the manual offset
func (k *Keeper) Phase() float64 {
	return wrap(k.phase + k.offsetMicros*beatsPerMicro(k.tempo))
}

// TempoChanged reports the tempo when it differs from the last reported
// value and records it as reported. Synthetic runs never report.
func (k *Keeper) TempoChanged() (float64, bool) {
	if !k.sampled || k.tempo == k.reportedTempo {
		return 0, false
	}
	k.reportedTempo = k.tempo
	return k.tempo, true
}

// NewBeat reports and clears a pending beat edge
func (k *Keeper) NewBeat() bool { return k.newBeat.take() }

// NewTime reports and clears a pending time edge
func (k *Keeper) NewTime() bool { return k.newTime.take() }

// NewTrack reports and clears a pending master track edge
func (k *Keeper) NewTrack() bool { return k.newTrack.take() }

// AdjustPhaseOffset adds deltaMicros to the manual latency offset
func (k *Keeper) AdjustPhaseOffset(deltaMicros float64) {
	k.offsetMicros += deltaMicros
}

// ResetPhaseOffset clears the manual latency offset
func (k *Keeper) ResetPhaseOffset() {
	k.offsetMicros = 0
}

func (k *Keeper) SetToken(token string) { k.token = token }

func (k *Keeper) Beat() int32          { return k.beat }
func (k *Keeper) TimeMillis() int32    { return k.timeMillis }
func (k *Keeper) MasterDeck() uint8    { return k.masterDeck }
func (k *Keeper) MasterTrackID() int32 { return k.masterID }
func (k *Keeper) MasterTrack() Track   { return k.master }
func (k *Keeper) Tempo() float64       { return k.tempo }
func (k *Keeper) OffsetMicros() float64 {
	return k.offsetMicros
}

// Live reports whether the keeper has seen any real snapshot
func (k *Keeper) Live() bool { return k.sampled }

func beatsPerMicro(tempo float64) float64 {
	return tempo / 60 / 1e6
}

func micros(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}

// wrap maps any finite x into [0,1)
func wrap(x float64) float64 {
	f := math.Mod(x, 1)
	if f < 0 {
		f++
	}
	if f >= 1 {
		f = 0
	}
	return f
}
