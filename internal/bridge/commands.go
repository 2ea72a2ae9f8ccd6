package bridge

import (
	"context"
	"errors"
	"fmt"
)

const commandBuffer = 16

// ErrBusy is returned when the command queue is full
var ErrBusy = errors.New("command queue full")

// CommandKind selects what a Command does
type CommandKind int

const (
	CmdResend CommandKind = iota
	CmdReset
	CmdOffset
	CmdClearOffset
	CmdStatus
	CmdQuit
)

func (k CommandKind) String() string {
	switch k {
	case CmdResend:
		return "resend"
	case CmdReset:
		return "reset"
	case CmdOffset:
		return "offset"
	case CmdClearOffset:
		return "clear-offset"
	case CmdStatus:
		return "status"
	case CmdQuit:
		return "quit"
	default:
		return fmt.Sprintf("CommandKind(%d)", int(k))
	}
}

// Command is a request for the loop. Micros is used by CmdOffset; Reply, if
// set, receives the status after the command ran and must have room for one
// value.
type Command struct {
	Kind   CommandKind
	Micros float64
	Reply  chan Status
}

// Submit queues cmd without blocking
func (b *Bridge) Submit(cmd Command) error {
	select {
	case b.commands <- cmd:
		return nil
	default:
		return ErrBusy
	}
}

// Query queues cmd and waits for the loop to run it
func (b *Bridge) Query(ctx context.Context, cmd Command) (Status, error) {
	cmd.Reply = make(chan Status, 1)
	if err := b.Submit(cmd); err != nil {
		return Status{}, err
	}
	select {
	case st := <-cmd.Reply:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// drain runs every queued command and reports whether one was a quit
func (b *Bridge) drain(ctx context.Context) bool {
	for {
		select {
		case cmd := <-b.commands:
			if b.execute(ctx, cmd) {
				return true
			}
		default:
			return false
		}
	}
}

func (b *Bridge) execute(ctx context.Context, cmd Command) bool {
	b.logger.Debug("command", "kind", cmd.Kind, "micros", cmd.Micros)

	quit := false
	switch cmd.Kind {
	case CmdResend:
		b.resendTrack()
	case CmdReset:
		b.resetTrack(ctx)
	case CmdOffset:
		b.keeper.AdjustPhaseOffset(cmd.Micros)
		b.logger.Info("phase offset", "micros", b.keeper.OffsetMicros())
		b.notify(SubsystemOffset)
	case CmdClearOffset:
		b.keeper.ResetPhaseOffset()
		b.logger.Info("phase offset cleared")
		b.notify(SubsystemOffset)
	case CmdStatus:
	case CmdQuit:
		quit = true
	}

	if cmd.Reply != nil {
		select {
		case cmd.Reply <- b.status():
		default:
		}
	}
	return quit
}
