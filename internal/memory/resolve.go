package memory

import (
	"fmt"

	"github.com/famish99/os2lbridge/internal/offsets"
)

// ResolveError reports which dereference of a chain failed
type ResolveError struct {
	Hop  int     // index into the chain's offsets
	Addr uintptr // address that could not be read
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("pointer hop %d at %#x: %v", e.Hop, e.Addr, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// Resolve follows chain from base. Each offset is added to the current
// address and the word stored there becomes the next address; Final is added
// to the last one.
func Resolve(src Source, base uintptr, chain offsets.PointerChain) (uintptr, error) {
	addr := base
	for i, off := range chain.Offsets {
		next, err := src.ReadWord(addr + off)
		if err != nil {
			return 0, &ResolveError{Hop: i, Addr: addr + off, Err: err}
		}
		addr = next
	}
	return addr + chain.Final, nil
}
