// Package console handles the interactive terminal: single key commands
// and the in-place status line.
package console

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/famish99/os2lbridge/internal/bridge"
)

// OffsetStep is the phase offset change per +/- key press, in microseconds
const OffsetStep = 1000

// Help is printed before the loop starts
const Help = "Press r to resend master path. y to reset master path. c to quit. " +
	"+/- to shift phase by 1ms, 0 to clear the shift."

// Submitter queues commands for the polling loop
type Submitter interface {
	Submit(cmd bridge.Command) error
}

// CommandForKey maps a key press to a command
func CommandForKey(key byte) (bridge.Command, bool) {
	switch key {
	case 'c', 'C':
		return bridge.Command{Kind: bridge.CmdQuit}, true
	case 'r', 'R':
		return bridge.Command{Kind: bridge.CmdResend}, true
	case 'y', 'Y':
		return bridge.Command{Kind: bridge.CmdReset}, true
	case '+', '=':
		return bridge.Command{Kind: bridge.CmdOffset, Micros: OffsetStep}, true
	case '-', '_':
		return bridge.Command{Kind: bridge.CmdOffset, Micros: -OffsetStep}, true
	case '0':
		return bridge.Command{Kind: bridge.CmdClearOffset}, true
	default:
		return bridge.Command{}, false
	}
}

// Listen reads key presses from r and submits the matching commands until
// r ends or ctx is done. A quit key ends the listener.
func Listen(ctx context.Context, r io.Reader, sub Submitter) error {
	br := bufio.NewReader(r)
	for {
		if ctx.Err() != nil {
			return nil
		}
		key, err := br.ReadByte()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		cmd, ok := CommandForKey(key)
		if !ok {
			continue
		}
		if err := sub.Submit(cmd); err != nil {
			slog.Warn("dropped key command", "key", string(key), "error", err)
			continue
		}
		if cmd.Kind == bridge.CmdQuit {
			return nil
		}
	}
}
