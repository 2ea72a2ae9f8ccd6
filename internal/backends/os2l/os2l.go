// Package os2l maps bridge events onto OS2L messages.
package os2l

import (
	proto "github.com/famish99/os2lbridge/internal/os2l"
)

// Sender is satisfied by the OS2L client
type Sender interface {
	Send(msg proto.Message) error
	Addr() string
	Close() error
}

// Backend implements backends.Backend over an OS2L connection
type Backend struct {
	client Sender
}

// New wraps a connected client
func New(client Sender) *Backend {
	return &Backend{client: client}
}

func (b *Backend) Name() string {
	return "os2l " + b.client.Addr()
}

// SendBeat reports the beat position every beat and a beat message on the
// first beat of each bar.
func (b *Backend) SendBeat(beat int32, tempo float64) error {
	if err := b.client.Send(proto.BeatPos(beat)); err != nil {
		return err
	}
	if beat%4 == 1 {
		return b.client.Send(proto.NewBeat(beat, tempo))
	}
	return nil
}

func (b *Backend) SendTime(ms int32) error {
	return b.client.Send(proto.ElapsedTime(ms))
}

func (b *Backend) SendTrack(path string) error {
	return b.client.Send(proto.FilePath(path))
}

func (b *Backend) SendTempo(bpm float64) error {
	return b.client.Send(proto.Tempo(bpm))
}

func (b *Backend) Close() error {
	return b.client.Close()
}
