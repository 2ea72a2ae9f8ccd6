// Package capture records the snapshot stream of a live session to a file
// and replays it later without the target process.
package capture

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/famish99/os2lbridge/internal/keeper"
	"github.com/famish99/os2lbridge/internal/sampler"
)

// Record is one captured tick
type Record struct {
	DeltaMicros int64            `json:"delta_us"`
	Snapshot    sampler.Snapshot `json:"snapshot"`
}

// Recorder wraps a sampler and appends every successful sample to a file
type Recorder struct {
	mu     sync.Mutex
	src    keeper.Sampler
	header Header
	file   *os.File
	zw     *zstd.Encoder
	enc    *json.Encoder
	last   time.Time
	now    func() time.Time
	count  int
}

// Create starts a capture at path for snapshots read with offsetsVersion
func Create(path string, src keeper.Sampler, offsetsVersion string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}

	h := Header{Session: uuid.New(), OffsetsVersion: offsetsVersion}
	if err := WriteHeader(f, &h); err != nil {
		f.Close()
		return nil, err
	}

	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}

	slog.Info("recording snapshots", "path", path, "session", h.Session)
	return &Recorder{
		src:    src,
		header: h,
		file:   f,
		zw:     zw,
		enc:    json.NewEncoder(zw),
		now:    time.Now,
	}, nil
}

// Session returns the capture's session id
func (r *Recorder) Session() uuid.UUID {
	return r.header.Session
}

// Sample implements keeper.Sampler
func (r *Recorder) Sample() (sampler.Snapshot, error) {
	snap, err := r.src.Sample()
	if err != nil {
		return snap, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var delta time.Duration
	if !r.last.IsZero() {
		delta = now.Sub(r.last)
	}
	r.last = now

	if err := r.enc.Encode(Record{DeltaMicros: delta.Microseconds(), Snapshot: snap}); err != nil {
		return snap, fmt.Errorf("failed to write capture record: %w", err)
	}
	r.count++
	return snap, nil
}

// Close flushes the compressed stream and closes the file
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.zw.Close(); err != nil {
		r.file.Close()
		return fmt.Errorf("failed to flush capture: %w", err)
	}
	slog.Info("capture closed", "records", r.count)
	return r.file.Close()
}

// Replayer reads a capture back. It is both a keeper.Sampler, paced by the
// caller, and a keeper.Source that feeds the recorded deltas.
type Replayer struct {
	Header *Header

	file    *os.File
	zr      *zstd.Decoder
	scanner *bufio.Scanner
	delta   time.Duration
}

// Open opens a capture for replay
func Open(path string) (*Replayer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	r, err := NewReplayer(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.file = f
	return r, nil
}

// NewReplayer reads a capture from any reader
func NewReplayer(rd io.Reader) (*Replayer, error) {
	h, err := ReadHeader(rd)
	if err != nil {
		return nil, err
	}
	zr, err := zstd.NewReader(rd)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	return &Replayer{
		Header:  h,
		zr:      zr,
		scanner: bufio.NewScanner(zr),
	}, nil
}

// Next returns the next record, or io.EOF at the end of the capture
func (r *Replayer) Next() (Record, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return Record{}, fmt.Errorf("failed to read capture: %w", err)
		}
		return Record{}, io.EOF
	}
	var rec Record
	if err := json.Unmarshal(r.scanner.Bytes(), &rec); err != nil {
		return Record{}, fmt.Errorf("failed to decode capture record: %w", err)
	}
	return rec, nil
}

// Sample implements keeper.Sampler
func (r *Replayer) Sample() (sampler.Snapshot, error) {
	rec, err := r.Next()
	if err != nil {
		return sampler.Snapshot{}, err
	}
	r.delta = time.Duration(rec.DeltaMicros) * time.Microsecond
	return rec.Snapshot, nil
}

// Step implements keeper.Source using the recorded delta instead of the
// caller's wall-clock delta.
func (r *Replayer) Step(ctx context.Context, k *keeper.Keeper, _ time.Duration) error {
	snap, err := r.Sample()
	if err != nil {
		return err
	}
	k.Reconcile(ctx, snap, r.delta)
	return nil
}

// Close releases the decoder and the file
func (r *Replayer) Close() error {
	r.zr.Close()
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
