// Package memory reads typed values out of another process's address space.
//
// All reads go through a Source so the same resolution code runs against a
// live process or an in-memory Fake. The target layout is assumed to be
// little-endian with 8-byte pointers.
package memory

import (
	"encoding/binary"
	"fmt"
)

// WordSize is the pointer width of the target process
const WordSize = 8

// Source is a readable address space
type Source interface {
	// ReadWord reads one pointer-sized value at addr.
	ReadWord(addr uintptr) (uintptr, error)
	// ReadBytes reads n contiguous bytes starting at addr.
	ReadBytes(addr uintptr, n int) ([]byte, error)
}

// Scalar lists the fixed-size types Read can decode
type Scalar interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Read performs a single typed read at addr
func Read[T Scalar](src Source, addr uintptr) (T, error) {
	var v T
	size := binary.Size(v)

	buf, err := src.ReadBytes(addr, size)
	if err != nil {
		return v, err
	}
	if len(buf) < size {
		return v, fmt.Errorf("short read at %#x: got %d of %d bytes", addr, len(buf), size)
	}
	if _, err := binary.Decode(buf, binary.LittleEndian, &v); err != nil {
		return v, fmt.Errorf("decode at %#x: %w", addr, err)
	}
	return v, nil
}

// ReadBytes reads count bytes at addr
func ReadBytes(src Source, addr uintptr, count int) ([]byte, error) {
	buf, err := src.ReadBytes(addr, count)
	if err != nil {
		return nil, err
	}
	if len(buf) < count {
		return nil, fmt.Errorf("short read at %#x: got %d of %d bytes", addr, len(buf), count)
	}
	return buf, nil
}

// wordAt decodes a pointer from the first WordSize bytes of buf
func wordAt(buf []byte) uintptr {
	return uintptr(binary.LittleEndian.Uint64(buf[:WordSize]))
}
