package memory

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Fake is a sparse in-memory address space. Reads of unwritten bytes fail
// the way reads of unmapped pages do in a real process.
type Fake struct {
	mu  sync.RWMutex
	mem map[uintptr]byte
}

// NewFake creates an empty address space
func NewFake() *Fake {
	return &Fake{mem: make(map[uintptr]byte)}
}

// PutBytes writes data starting at addr
func (f *Fake) PutBytes(addr uintptr, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, b := range data {
		f.mem[addr+uintptr(i)] = b
	}
}

// PutWord stores a pointer at addr
func (f *Fake) PutWord(addr, value uintptr) {
	buf := make([]byte, WordSize)
	binary.LittleEndian.PutUint64(buf, uint64(value))
	f.PutBytes(addr, buf)
}

// Put stores a typed value at addr
func Put[T Scalar](f *Fake, addr uintptr, v T) {
	buf, err := binary.Append(nil, binary.LittleEndian, v)
	if err != nil {
		panic(err)
	}
	f.PutBytes(addr, buf)
}

// ReadBytes implements Source
func (f *Fake) ReadBytes(addr uintptr, n int) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	buf := make([]byte, n)
	for i := range buf {
		b, ok := f.mem[addr+uintptr(i)]
		if !ok {
			return nil, fmt.Errorf("address %#x not mapped", addr+uintptr(i))
		}
		buf[i] = b
	}
	return buf, nil
}

// ReadWord implements Source
func (f *Fake) ReadWord(addr uintptr) (uintptr, error) {
	buf, err := f.ReadBytes(addr, WordSize)
	if err != nil {
		return 0, err
	}
	return wordAt(buf), nil
}
