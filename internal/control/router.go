package control

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/famish99/os2lbridge/internal/bridge"
	"github.com/famish99/os2lbridge/internal/timeouts"
)

// ACK error codes, numbered as MPD does
const (
	ackErrorArg     = 2
	ackErrorUnknown = 5
	ackErrorSystem  = 52
)

func ack(code, index int, cmd, msg string) string {
	return fmt.Sprintf("ACK [%d@%d] {%s} %s\n", code, index, cmd, msg)
}

// handleCommand processes a single command. index is the position inside a
// command list, 0 otherwise.
func (s *Server) handleCommand(index int, line string) string {
	command, args := splitCommand(line)

	switch command {
	case "ping":
		return "OK\n"
	case "status":
		return s.query(index, command, bridge.Command{Kind: bridge.CmdStatus}, formatStatus)
	case "history":
		return s.query(index, command, bridge.Command{Kind: bridge.CmdStatus}, formatHistory)
	case "offset":
		return s.cmdOffset(index, args)
	case "resend":
		return s.query(index, command, bridge.Command{Kind: bridge.CmdResend}, nil)
	case "reset":
		return s.query(index, command, bridge.Command{Kind: bridge.CmdReset}, nil)
	case "quit":
		return s.query(index, command, bridge.Command{Kind: bridge.CmdQuit}, nil)
	case "commands":
		return "command: ping\ncommand: status\ncommand: history\ncommand: offset\n" +
			"command: resend\ncommand: reset\ncommand: quit\ncommand: idle\n" +
			"command: noidle\ncommand: close\nOK\n"
	default:
		return ack(ackErrorUnknown, index, command, "unknown command")
	}
}

// query runs cmd on the polling loop and formats the resulting status
func (s *Server) query(index int, name string, cmd bridge.Command, format func(bridge.Status) string) string {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.ControlReply)
	defer cancel()

	st, err := s.bridge.Query(ctx, cmd)
	if err != nil {
		return ack(ackErrorSystem, index, name, err.Error())
	}
	if format == nil {
		return "OK\n"
	}
	return format(st) + "OK\n"
}

// cmdOffset adjusts the phase offset by a signed number of microseconds;
// "offset clear" zeroes it
func (s *Server) cmdOffset(index int, args []string) string {
	if len(args) != 1 {
		return ack(ackErrorArg, index, "offset", "wrong number of arguments")
	}
	if args[0] == "clear" {
		return s.query(index, "offset", bridge.Command{Kind: bridge.CmdClearOffset}, formatOffset)
	}
	micros, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return ack(ackErrorArg, index, "offset", "need a number of microseconds: "+args[0])
	}
	return s.query(index, "offset", bridge.Command{Kind: bridge.CmdOffset, Micros: micros}, formatOffset)
}

func formatOffset(st bridge.Status) string {
	return fmt.Sprintf("offset_us: %g\n", st.OffsetMicros)
}

func formatStatus(st bridge.Status) string {
	var b strings.Builder
	live := 0
	if st.Live {
		live = 1
	}
	fmt.Fprintf(&b, "live: %d\n", live)
	fmt.Fprintf(&b, "beat: %d\n", st.Beat)
	fmt.Fprintf(&b, "phase: %.3f\n", st.Phase)
	fmt.Fprintf(&b, "bpm: %.2f\n", st.Tempo)
	fmt.Fprintf(&b, "elapsed_ms: %d\n", st.TimeMillis)
	fmt.Fprintf(&b, "deck: %d\n", st.MasterDeck)
	fmt.Fprintf(&b, "offset_us: %g\n", st.OffsetMicros)
	fmt.Fprintf(&b, "rate_hz: %.0f\n", st.Rate)
	fmt.Fprintf(&b, "ticks: %d\n", st.Ticks)
	if st.Track.ID > 0 {
		fmt.Fprintf(&b, "track_id: %d\n", st.Track.ID)
		fmt.Fprintf(&b, "file: %s\n", st.Track.Path)
		fmt.Fprintf(&b, "title: %s\n", st.Track.Title)
	}
	for _, name := range st.Outputs {
		fmt.Fprintf(&b, "output: %s\n", name)
	}
	return b.String()
}

func formatHistory(st bridge.Status) string {
	var b strings.Builder
	for _, e := range st.History {
		fmt.Fprintf(&b, "track_id: %d\n", e.ID)
		fmt.Fprintf(&b, "deck: %d\n", e.Deck)
		fmt.Fprintf(&b, "file: %s\n", e.Path)
		fmt.Fprintf(&b, "title: %s\n", e.Title)
		fmt.Fprintf(&b, "at: %s\n", e.At.Format(time.RFC3339))
	}
	return b.String()
}
