// Package os2l speaks the OS2L line protocol: one JSON object per line over
// a TCP connection to a lighting controller.
package os2l

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Event names
const (
	EventSubscribed = "subscribed"
	EventBeat       = "beat"
)

// Triggers the bridge reports on. Everything is reported as deck 1; the
// receiver only follows the master deck.
const (
	TriggerBeatPos  = "deck 1 get_beatpos"
	TriggerTime     = "deck 1 get_time elapsed absolute"
	TriggerFilePath = "deck 1 get_filepath"
	TriggerBPM      = "deck 1 get_bpm"
)

// Message is anything that can be written to an OS2L stream
type Message interface {
	Event() string
}

// Subscribed reports the current value of a trigger
type Subscribed struct {
	Evt     string `json:"evt"`
	Trigger string `json:"trigger"`
	Value   any    `json:"value"`
}

func (m Subscribed) Event() string { return EventSubscribed }

// BPM is a tempo. Rekordbox holds tempo as a float32 and receivers get it
// at that precision, so 127.99 goes out as 127.99 rather than the widened
// float64 digits.
type BPM float64

func (b BPM) MarshalJSON() ([]byte, error) {
	return strconv.AppendFloat(nil, float64(b), 'g', -1, 32), nil
}

// Beat is a beat tick with the tempo it was played at
type Beat struct {
	Evt      string  `json:"evt"`
	Change   bool    `json:"change"`
	Pos      int32   `json:"pos"`
	BPM      BPM     `json:"bpm"`
	Strength float64 `json:"strength"`
}

func (m Beat) Event() string { return EventBeat }

// NewSubscribed builds a subscribed message for trigger
func NewSubscribed(trigger string, value any) Subscribed {
	return Subscribed{Evt: EventSubscribed, Trigger: trigger, Value: value}
}

// BeatPos reports the absolute beat count
func BeatPos(beat int32) Subscribed {
	return NewSubscribed(TriggerBeatPos, beat)
}

// ElapsedTime reports elapsed playback time in milliseconds
func ElapsedTime(ms int32) Subscribed {
	return NewSubscribed(TriggerTime, ms)
}

// FilePath reports the loaded track. Receivers expect Windows separators.
func FilePath(path string) Subscribed {
	return NewSubscribed(TriggerFilePath, strings.ReplaceAll(path, "/", `\`))
}

// Tempo reports a tempo change
func Tempo(bpm float64) Subscribed {
	return NewSubscribed(TriggerBPM, BPM(bpm))
}

// NewBeat builds a beat message
func NewBeat(pos int32, bpm float64) Beat {
	return Beat{Evt: EventBeat, Pos: pos, BPM: BPM(bpm)}
}

// Encode serializes msg to one newline-terminated line
func Encode(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(msg); err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", msg.Event(), err)
	}
	return buf.Bytes(), nil
}

// Decode parses one line into a Subscribed or Beat
func Decode(line []byte) (Message, error) {
	line = bytes.TrimSpace(line)
	if !gjson.ValidBytes(line) {
		return nil, fmt.Errorf("invalid message: %q", line)
	}

	switch evt := gjson.GetBytes(line, "evt").String(); evt {
	case EventSubscribed:
		var m Subscribed
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("failed to decode subscribed: %w", err)
		}
		return m, nil
	case EventBeat:
		var m Beat
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("failed to decode beat: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown event %q", evt)
	}
}
