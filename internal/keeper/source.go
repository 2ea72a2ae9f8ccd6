package keeper

import (
	"context"
	"time"

	"github.com/famish99/os2lbridge/internal/sampler"
)

// SyntheticTempo is the tempo used when no live target is attached
const SyntheticTempo = 130.0

// Sampler produces one snapshot per tick
type Sampler interface {
	Sample() (sampler.Snapshot, error)
}

// Source drives one tick of a Keeper
type Source interface {
	Step(ctx context.Context, k *Keeper, delta time.Duration) error
}

// Live reconciles against snapshots from a sampler. A sampler error ends
// the tick with that error.
type Live struct {
	Sampler Sampler
}

func (l Live) Step(ctx context.Context, k *Keeper, delta time.Duration) error {
	snap, err := l.Sampler.Sample()
	if err != nil {
		return err
	}
	k.Reconcile(ctx, snap, delta)
	return nil
}

// Synthetic advances phase from wall-clock time at a fixed tempo and never
// raises events.
type Synthetic struct {
	Tempo float64
}

func (s Synthetic) Step(_ context.Context, k *Keeper, delta time.Duration) error {
	tempo := s.Tempo
	if tempo <= 0 {
		tempo = SyntheticTempo
	}
	k.Coast(delta, tempo)
	return nil
}
