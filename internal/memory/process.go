package memory

import (
	"fmt"
	"log/slog"
)

// Process is a live target attached for reading
type Process struct {
	Name string
	PID  int
	// Base is the load address of the module the offsets are relative to
	Base uintptr

	handle osHandle
}

// Attach finds the running process by executable name and the base address
// of module inside it.
func Attach(processName, moduleName string) (*Process, error) {
	p, err := attach(processName, moduleName)
	if err != nil {
		return nil, fmt.Errorf("failed to attach to %s: %w", processName, err)
	}
	slog.Info("attached to process", "name", processName, "pid", p.PID, "module", moduleName, "base", fmt.Sprintf("%#x", p.Base))
	return p, nil
}

// ReadBytes implements Source
func (p *Process) ReadBytes(addr uintptr, n int) ([]byte, error) {
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if err := p.readInto(addr, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadWord implements Source
func (p *Process) ReadWord(addr uintptr) (uintptr, error) {
	buf := make([]byte, WordSize)
	if err := p.readInto(addr, buf); err != nil {
		return 0, err
	}
	return wordAt(buf), nil
}

// Close releases the process handle
func (p *Process) Close() error {
	return p.close()
}
