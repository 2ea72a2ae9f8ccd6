// Package sampler turns a resolved offset table into one Snapshot per tick.
package sampler

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/famish99/os2lbridge/internal/memory"
	"github.com/famish99/os2lbridge/internal/offsets"
)

// TokenLength is the size of the bearer token stored in the target
const TokenLength = 32

// ErrMalformedToken means the token bytes are not text, which only happens
// when the offsets do not match the running version.
var ErrMalformedToken = errors.New("api bearer token is not valid UTF-8")

// FieldError names the field whose chain or value could not be read
type FieldError struct {
	Field offsets.Field
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v (check the configured version)", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Options tunes how the reader resolves chains
type Options struct {
	// ResolveEachTick re-resolves every chain before each sample instead of
	// once at construction.
	ResolveEachTick bool
}

// Reader samples the tracked fields from a memory source
type Reader struct {
	src   memory.Source
	base  uintptr
	table *offsets.Table
	opts  Options
	addrs map[offsets.Field]uintptr
}

// NewReader resolves every chain of table against base
func NewReader(src memory.Source, base uintptr, table *offsets.Table, opts Options) (*Reader, error) {
	r := &Reader{
		src:   src,
		base:  base,
		table: table,
		opts:  opts,
		addrs: make(map[offsets.Field]uintptr, len(offsets.FieldOrder)),
	}
	if err := r.resolveAll(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) resolveAll() error {
	for _, f := range offsets.FieldOrder {
		chain, err := r.table.Chain(f)
		if err != nil {
			return &FieldError{Field: f, Err: err}
		}
		addr, err := memory.Resolve(r.src, r.base, chain)
		if err != nil {
			return &FieldError{Field: f, Err: err}
		}
		r.addrs[f] = addr
	}
	return nil
}

// Address returns the resolved address of a field
func (r *Reader) Address(f offsets.Field) (uintptr, bool) {
	addr, ok := r.addrs[f]
	return addr, ok
}

// Version returns the version tag of the table in use
func (r *Reader) Version() string {
	return r.table.Version
}

// fieldReader reads fields until the first failure
type fieldReader struct {
	r   *Reader
	err error
}

func read[T memory.Scalar](fr *fieldReader, f offsets.Field) T {
	var zero T
	if fr.err != nil {
		return zero
	}
	v, err := memory.Read[T](fr.r.src, fr.r.addrs[f])
	if err != nil {
		fr.err = &FieldError{Field: f, Err: err}
		return zero
	}
	return v
}

// Sample reads every tracked field once. Fields are read independently; the
// target may change between reads.
func (r *Reader) Sample() (Snapshot, error) {
	if r.opts.ResolveEachTick {
		if err := r.resolveAll(); err != nil {
			return Snapshot{}, err
		}
	}

	fr := &fieldReader{r: r}
	s := Snapshot{
		Tempo:        read[float32](fr, offsets.FieldMasterBPM),
		Deck1Beats:   read[int32](fr, offsets.FieldDeck1Bar)*4 + read[int32](fr, offsets.FieldDeck1Beat),
		Deck2Beats:   read[int32](fr, offsets.FieldDeck2Bar)*4 + read[int32](fr, offsets.FieldDeck2Beat),
		MasterDeck:   read[uint8](fr, offsets.FieldMasterDeck),
		Deck1TrackID: read[int32](fr, offsets.FieldDeck1TrackID),
		Deck2TrackID: read[int32](fr, offsets.FieldDeck2TrackID),
		Deck1Time:    read[int32](fr, offsets.FieldDeck1Time),
		Deck2Time:    read[int32](fr, offsets.FieldDeck2Time),
	}
	if fr.err != nil {
		return Snapshot{}, fr.err
	}
	return s, nil
}

// Token reads the bearer token the target uses for its local API
func (r *Reader) Token() (string, error) {
	if r.opts.ResolveEachTick {
		if err := r.resolveAll(); err != nil {
			return "", err
		}
	}

	buf, err := memory.ReadBytes(r.src, r.addrs[offsets.FieldAPIBearer], TokenLength)
	if err != nil {
		return "", &FieldError{Field: offsets.FieldAPIBearer, Err: err}
	}
	if !utf8.Valid(buf) {
		return "", &FieldError{Field: offsets.FieldAPIBearer, Err: ErrMalformedToken}
	}
	return strings.TrimRight(string(buf), "\x00"), nil
}
