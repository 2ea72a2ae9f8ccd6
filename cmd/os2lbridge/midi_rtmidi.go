//go:build rtmidi

package main

// The rtmidi driver needs cgo and the system MIDI libraries, so it is only
// linked into builds tagged rtmidi.
import _ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
