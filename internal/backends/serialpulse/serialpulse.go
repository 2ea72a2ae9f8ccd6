// Package serialpulse sends beat pulses to a microcontroller over a serial
// port, e.g. to drive a strobe or a tap-tempo input.
package serialpulse

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.bug.st/serial"
)

// Backend implements backends.Backend over a serial port
type Backend struct {
	mu     sync.Mutex
	name   string
	port   io.WriteCloser
	seq    byte
	logger *slog.Logger
}

// Open opens the named serial device at the given baud rate
func Open(name string, baud int) (*Backend, error) {
	mode := &serial.Mode{BaudRate: baud}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	slog.Info("serial pulse output opened", "device", name, "baud", baud)
	return New(name, p), nil
}

// New wraps an already open port
func New(name string, port io.WriteCloser) *Backend {
	return &Backend{name: name, port: port, logger: slog.Default()}
}

// Ports lists the serial devices present on the system
func Ports() ([]string, error) {
	return serial.GetPortsList()
}

func (b *Backend) Name() string {
	return "serial " + b.name
}

func (b *Backend) write(f Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := f.Encode()
	if _, err := b.port.Write(data); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	b.logger.Debug("serial frame sent", "cmd", f.Cmd, "bytes", len(data))
	return nil
}

func (b *Backend) SendBeat(beat int32, tempo float64) error {
	b.mu.Lock()
	b.seq++
	seq := b.seq
	b.mu.Unlock()
	return b.write(BeatFrame(beat, tempo, seq))
}

func (b *Backend) SendTempo(bpm float64) error {
	return b.write(TempoFrame(bpm))
}

func (b *Backend) SendTrack(path string) error {
	return b.write(TrackFrame(path != ""))
}

func (b *Backend) SendTime(int32) error { return nil }

func (b *Backend) Close() error {
	b.logger.Info("closing serial port", "device", b.name)
	return b.port.Close()
}
