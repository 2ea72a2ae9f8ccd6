package serialpulse

import (
	"encoding/binary"
	"math"
)

// Frame markers and commands
const (
	SOF0 = 0xAA
	SOF1 = 0x55

	CmdBeat  = 0x20
	CmdTempo = 0x21
	CmdTrack = 0x22
)

// Frame is one command to the pulse device
type Frame struct {
	Cmd     byte
	Payload []byte
}

// Encode builds the on-wire representation:
//
//	[SOF0][SOF1][LEN][CMD][payload...][CKS]
//
// LEN counts CMD plus payload; CKS is the XOR of LEN, CMD and the payload.
func (f Frame) Encode() []byte {
	length := byte(len(f.Payload) + 1)
	cks := length ^ f.Cmd
	for _, b := range f.Payload {
		cks ^= b
	}

	out := make([]byte, 0, len(f.Payload)+5)
	out = append(out, SOF0, SOF1, length, f.Cmd)
	out = append(out, f.Payload...)
	return append(out, cks)
}

// centiBPM packs a tempo as hundredths of a BPM, saturating at the uint16 range
func centiBPM(tempo float64) []byte {
	v := math.Round(tempo * 100)
	switch {
	case v < 0 || math.IsNaN(v):
		v = 0
	case v > math.MaxUint16:
		v = math.MaxUint16
	}
	return binary.BigEndian.AppendUint16(nil, uint16(v))
}

// BeatInBar maps an absolute beat count to 1..4
func BeatInBar(beat int32) byte {
	m := (beat - 1) % 4
	if m < 0 {
		m += 4
	}
	return byte(m + 1)
}

// BeatFrame is [beat-in-bar][tempo x100 hi][lo][seq]
func BeatFrame(beat int32, tempo float64, seq byte) Frame {
	payload := append([]byte{BeatInBar(beat)}, centiBPM(tempo)...)
	return Frame{Cmd: CmdBeat, Payload: append(payload, seq)}
}

// TempoFrame is [tempo x100 hi][lo]
func TempoFrame(tempo float64) Frame {
	return Frame{Cmd: CmdTempo, Payload: centiBPM(tempo)}
}

// TrackFrame flags a track change; loaded is 0 when the path was cleared
func TrackFrame(loaded bool) Frame {
	var v byte
	if loaded {
		v = 1
	}
	return Frame{Cmd: CmdTrack, Payload: []byte{v}}
}
