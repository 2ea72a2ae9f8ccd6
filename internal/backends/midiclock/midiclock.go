// Package midiclock drives a MIDI beat clock (24 pulses per quarter note)
// from the master deck's beat and phase.
package midiclock

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"gitlab.com/gomidi/midi/v2"
)

// PPQN is the MIDI clock resolution
const PPQN = 24

// Backend implements backends.Backend and backends.PhaseFollower
type Backend struct {
	mu      sync.Mutex
	name    string
	send    func(midi.Message) error
	close   func() error
	started bool
	pulse   int64 // last pulse sent, in absolute pulses
	logger  *slog.Logger
}

// Open connects to the named output port of the registered MIDI driver
func Open(portName string) (*Backend, error) {
	out, err := midi.FindOutPort(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to find midi output %q: %w", portName, err)
	}
	send, err := midi.SendTo(out)
	if err != nil {
		return nil, fmt.Errorf("failed to open midi output %q: %w", portName, err)
	}
	slog.Info("midi clock output opened", "port", out.String())
	return New(out.String(), send, out.Close), nil
}

// New builds a clock on top of an arbitrary send function
func New(name string, send func(midi.Message) error, closeFn func() error) *Backend {
	return &Backend{
		name:   name,
		send:   send,
		close:  closeFn,
		logger: slog.Default(),
	}
}

func (b *Backend) Name() string {
	return "midi clock " + b.name
}

// SendBeat starts the clock on the first beat seen
func (b *Backend) SendBeat(beat int32, tempo float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return nil
	}
	if err := b.send(midi.Start()); err != nil {
		return fmt.Errorf("failed to send start: %w", err)
	}
	b.started = true
	b.pulse = int64(beat)*PPQN - 1
	b.logger.Debug("midi clock started", "beat", beat, "tempo", tempo)
	return nil
}

// FollowPhase emits the clock pulses between the last pulse sent and the
// current position. At most one beat of pulses is caught up; a backward
// jump resynchronises without sending.
func (b *Backend) FollowPhase(beat int32, phase, tempo float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return nil
	}

	target := int64(beat)*PPQN + int64(math.Floor(phase*PPQN))
	n := target - b.pulse
	switch {
	case n <= 0:
		if n < -PPQN {
			b.pulse = target
		}
		return nil
	case n > PPQN:
		b.pulse = target - PPQN
		n = PPQN
	}

	for i := int64(0); i < n; i++ {
		if err := b.send(midi.TimingClock()); err != nil {
			return fmt.Errorf("failed to send clock: %w", err)
		}
		b.pulse++
	}
	return nil
}

func (b *Backend) SendTime(int32) error    { return nil }
func (b *Backend) SendTrack(string) error  { return nil }
func (b *Backend) SendTempo(float64) error { return nil }

// Close stops the clock and releases the port
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		b.started = false
		if err := b.send(midi.Stop()); err != nil {
			b.logger.Warn("failed to send midi stop", "error", err)
		}
	}
	if b.close != nil {
		return b.close()
	}
	return nil
}
