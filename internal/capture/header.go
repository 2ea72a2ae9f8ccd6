package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Capture file format:
// - Magic bytes (4): "OS2C"
// - Version (1): 0x01
// - Session id (16): random UUID
// - Offsets version length (2): uint16 little-endian
// - Offsets version tag (n): the table the snapshots were read with
// - Followed by a zstd stream of JSON lines, one Record per tick

const (
	captureMagic   = "OS2C"
	captureVersion = 0x01
)

// ErrBadHeader means the file is not a capture or uses another version
var ErrBadHeader = errors.New("invalid capture header")

// Header identifies a capture
type Header struct {
	Session        uuid.UUID
	OffsetsVersion string
}

// WriteHeader writes the capture file header
func WriteHeader(w io.Writer, h *Header) error {
	if len(h.OffsetsVersion) > 0xFFFF {
		return fmt.Errorf("offsets version tag too long: %d bytes", len(h.OffsetsVersion))
	}

	buf := make([]byte, 0, 4+1+16+2+len(h.OffsetsVersion))
	buf = append(buf, captureMagic...)
	buf = append(buf, captureVersion)
	buf = append(buf, h.Session[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(h.OffsetsVersion)))
	buf = append(buf, h.OffsetsVersion...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write capture header: %w", err)
	}
	return nil
}

// ReadHeader reads the capture file header
func ReadHeader(r io.Reader) (*Header, error) {
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("failed to read magic: %w", err)
	}
	if string(magic) != captureMagic {
		return nil, fmt.Errorf("%w: bad magic bytes", ErrBadHeader)
	}

	var version uint8
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("failed to read version: %w", err)
	}
	if version != captureVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadHeader, version)
	}

	h := &Header{}
	if _, err := io.ReadFull(r, h.Session[:]); err != nil {
		return nil, fmt.Errorf("failed to read session id: %w", err)
	}

	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("failed to read version tag length: %w", err)
	}
	tag := make([]byte, n)
	if _, err := io.ReadFull(r, tag); err != nil {
		return nil, fmt.Errorf("failed to read version tag: %w", err)
	}
	h.OffsetsVersion = string(tag)

	return h, nil
}
