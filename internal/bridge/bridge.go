// Package bridge runs the polling loop: sample, reconcile, and fan the
// resulting edges out to every output backend.
package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/famish99/os2lbridge/internal/backends"
	"github.com/famish99/os2lbridge/internal/keeper"
	"github.com/famish99/os2lbridge/internal/os2l"
	"github.com/famish99/os2lbridge/internal/timeouts"
	"github.com/famish99/os2lbridge/internal/tracklist"
)

// DefaultPollRate is the tick rate in Hz when none is configured
const DefaultPollRate = 60

// statusEvery is the number of ticks between status renders
const statusEvery = 20

// Subsystems reported to idle listeners
const (
	SubsystemBeat   = "beat"
	SubsystemTrack  = "track"
	SubsystemTempo  = "tempo"
	SubsystemOffset = "offset"
)

// Status is a point-in-time view of the loop
type Status struct {
	Beat         int32
	Phase        float64
	Tempo        float64
	TimeMillis   int32
	MasterDeck   int // 1-based
	Track        keeper.Track
	OffsetMicros float64
	Live         bool
	Rate         float64 // measured tick rate in Hz
	Ticks        uint64
	Outputs      []string
	History      []tracklist.Entry
}

// Bridge owns the keeper and everything it drives. All state is touched
// from the Run goroutine only; other goroutines talk to it via commands.
type Bridge struct {
	keeper   *keeper.Keeper
	outputs  backends.Set
	history  *tracklist.History
	commands chan Command
	period   time.Duration
	logger   *slog.Logger

	notify func(subsystem string)
	render func(Status)
	sleep  func(time.Duration)
	now    func() time.Time

	timeSeen  bool
	ticks     uint64
	lastDelta time.Duration
}

// Option configures a Bridge
type Option func(*Bridge)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithNotify registers the idle notification callback. It is called from the
// loop goroutine and must not block.
func WithNotify(fn func(subsystem string)) Option {
	return func(b *Bridge) { b.notify = fn }
}

// WithStatusRenderer registers a callback that receives the status
// periodically
func WithStatusRenderer(fn func(Status)) Option {
	return func(b *Bridge) { b.render = fn }
}

// WithHistory replaces the default track history
func WithHistory(h *tracklist.History) Option {
	return func(b *Bridge) { b.history = h }
}

// New creates a bridge ticking at pollRate Hz
func New(k *keeper.Keeper, outputs backends.Set, pollRate int, opts ...Option) *Bridge {
	if pollRate <= 0 {
		pollRate = DefaultPollRate
	}
	b := &Bridge{
		keeper:   k,
		outputs:  outputs,
		history:  tracklist.New(tracklist.DefaultSize),
		commands: make(chan Command, commandBuffer),
		period:   time.Second / time.Duration(pollRate),
		logger:   slog.Default(),
		notify:   func(string) {},
		sleep:    time.Sleep,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetNotify replaces the idle notification callback. Call it before Run.
func (b *Bridge) SetNotify(fn func(subsystem string)) {
	b.notify = fn
}

// History returns the track history
func (b *Bridge) History() *tracklist.History {
	return b.history
}

// Run ticks until ctx is done, a quit command arrives, a replay runs out,
// or the keeper fails.
func (b *Bridge) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.period)
	defer ticker.Stop()

	b.logger.Info("entering loop", "period", b.period, "outputs", b.outputs.Names())

	last := b.now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		now := b.now()
		delta := now.Sub(last)
		last = now

		quit, err := b.Tick(ctx, delta)
		if errors.Is(err, io.EOF) {
			b.logger.Info("replay finished", "ticks", b.ticks)
			return nil
		}
		if err != nil {
			return err
		}
		if quit {
			b.logger.Info("quit requested")
			return nil
		}
	}
}

// Tick runs one iteration and reports whether a quit command was seen
func (b *Bridge) Tick(ctx context.Context, delta time.Duration) (bool, error) {
	if err := b.keeper.Update(ctx, delta); err != nil {
		return false, err
	}
	b.lastDelta = delta

	b.dispatch()
	quit := b.drain(ctx)

	if b.render != nil && b.ticks%statusEvery == 0 {
		b.render(b.status())
	}
	b.ticks++
	return quit, nil
}

func (b *Bridge) dispatch() {
	k := b.keeper

	if k.NewBeat() {
		b.report("beat", b.outputs.SendBeat(k.Beat(), k.Tempo()))
		b.notify(SubsystemBeat)
	}

	if k.NewTrack() {
		t := k.MasterTrack()
		b.logger.Info("master track", "path", t.Path, "title", t.Title)
		b.history.Add(tracklist.Entry{
			ID:    t.ID,
			Deck:  int(k.MasterDeck()) + 1,
			Path:  t.Path,
			Title: t.Title,
			At:    b.now(),
		})
		b.report("track", b.outputs.SendTrack(t.Path))
		b.notify(SubsystemTrack)
	}

	// The first time edge only reflects where the deck was when we attached.
	if k.NewTime() {
		if b.timeSeen {
			b.report("time", b.outputs.SendTime(k.TimeMillis()))
		}
		b.timeSeen = true
	}

	if bpm, ok := k.TempoChanged(); ok {
		b.report("tempo", b.outputs.SendTempo(bpm))
		b.notify(SubsystemTempo)
	}

	b.report("phase", b.outputs.FollowPhase(k.Beat(), k.Phase(), k.Tempo()))
}

// report logs output failures. A receiver that is away is expected and only
// logged at debug.
func (b *Bridge) report(event string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, os2l.ErrNotConnected):
		b.logger.Debug("output unavailable", "event", event, "error", err)
	default:
		b.logger.Warn("output failed", "event", event, "error", err)
	}
}

func (b *Bridge) resendTrack() {
	t := b.keeper.MasterTrack()
	b.logger.Info("resending master track", "path", t.Path, "title", t.Title)
	b.report("track", b.outputs.SendTrack(t.Path))
}

// resetTrack clears the receiver's track, looks the master track up again
// and resends it
func (b *Bridge) resetTrack(ctx context.Context) {
	b.logger.Info("resetting master track")
	b.report("track", b.outputs.SendTrack(""))
	b.keeper.Refresh(ctx)
	b.sleep(timeouts.TrackResetGap)
	b.resendTrack()
}

func (b *Bridge) status() Status {
	k := b.keeper
	var rate float64
	if b.lastDelta > 0 {
		rate = float64(time.Second) / float64(b.lastDelta)
	}
	return Status{
		Beat:         k.Beat(),
		Phase:        k.Phase(),
		Tempo:        k.Tempo(),
		TimeMillis:   k.TimeMillis(),
		MasterDeck:   int(k.MasterDeck()) + 1,
		Track:        k.MasterTrack(),
		OffsetMicros: k.OffsetMicros(),
		Live:         k.Live(),
		Rate:         rate,
		Ticks:        b.ticks,
		Outputs:      b.outputs.Names(),
		History:      b.history.Entries(),
	}
}
