package backends

import (
	"errors"
	"fmt"
)

// Backend receives the bridge's event stream and maps it onto one output
type Backend interface {
	Name() string

	SendBeat(beat int32, tempo float64) error // new master beat
	SendTime(ms int32) error                  // elapsed time changed
	SendTrack(path string) error              // master track changed; "" clears
	SendTempo(bpm float64) error              // tempo changed

	Close() error
}

// PhaseFollower is implemented by backends that need the sub-beat position
// on every tick, not just on events.
type PhaseFollower interface {
	FollowPhase(beat int32, phase, tempo float64) error
}

// Set fans every event out to each backend. One failing backend does not
// stop delivery to the others.
type Set []Backend

func (s Set) each(fn func(Backend) error) error {
	var errs []error
	for _, b := range s {
		if err := fn(b); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s Set) SendBeat(beat int32, tempo float64) error {
	return s.each(func(b Backend) error { return b.SendBeat(beat, tempo) })
}

func (s Set) SendTime(ms int32) error {
	return s.each(func(b Backend) error { return b.SendTime(ms) })
}

func (s Set) SendTrack(path string) error {
	return s.each(func(b Backend) error { return b.SendTrack(path) })
}

func (s Set) SendTempo(bpm float64) error {
	return s.each(func(b Backend) error { return b.SendTempo(bpm) })
}

// FollowPhase forwards to the backends that implement PhaseFollower
func (s Set) FollowPhase(beat int32, phase, tempo float64) error {
	return s.each(func(b Backend) error {
		if f, ok := b.(PhaseFollower); ok {
			return f.FollowPhase(beat, phase, tempo)
		}
		return nil
	})
}

// Names lists the backend names in order
func (s Set) Names() []string {
	names := make([]string, len(s))
	for i, b := range s {
		names[i] = b.Name()
	}
	return names
}

func (s Set) Close() error {
	return s.each(func(b Backend) error { return b.Close() })
}
