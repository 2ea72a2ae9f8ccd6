package control

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
)

// handleConnection handles a single control client connection
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	s.logger.Info("control client connected", "remote", conn.RemoteAddr())
	defer s.logger.Info("control client disconnected", "remote", conn.RemoteAddr())

	fmt.Fprintf(conn, "OK OS2LBRIDGE %s\n", s.version)

	// Lines are read on their own goroutine so that noidle can interrupt
	// an idle wait.
	lines := make(chan string)
	left := make(chan struct{})
	defer close(left)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-left:
				return
			}
		}
		if err := scanner.Err(); err != nil {
			s.logger.Debug("connection error", "error", err)
		}
	}()

	var list []string
	inCommandList, commandListOk := false, false

	for line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		s.logger.Debug("control command", "line", line)

		switch line {
		case "command_list_begin", "command_list_ok_begin":
			inCommandList = true
			commandListOk = line == "command_list_ok_begin"
			list = list[:0]
			continue
		case "command_list_end":
			if inCommandList {
				io.WriteString(conn, s.runCommandList(list, commandListOk))
				inCommandList = false
			}
			continue
		}

		if inCommandList {
			list = append(list, line)
			continue
		}

		cmd, args := splitCommand(line)
		switch cmd {
		case "close":
			return
		case "idle":
			response, closed := s.idle(args, lines)
			io.WriteString(conn, response)
			if closed {
				return
			}
		case "noidle":
			io.WriteString(conn, "OK\n")
		default:
			io.WriteString(conn, s.handleCommand(0, line))
		}
	}
}

// idle blocks until a watched subsystem changes, noidle arrives, or the
// connection or server goes away. closed means the connection must end.
func (s *Server) idle(args []string, lines <-chan string) (response string, closed bool) {
	watch := make(map[string]bool)
	for _, arg := range args {
		name := strings.ToLower(arg)
		if !subsystems[name] {
			return ack(ackErrorArg, 0, "idle", "Unrecognized idle event: "+arg), false
		}
		watch[name] = true
	}

	idle := &idleConnection{subsystems: watch, notify: make(chan string, 10)}
	s.registerIdle(idle)
	defer s.unregisterIdle(idle)

	select {
	case subsystem := <-idle.notify:
		return fmt.Sprintf("changed: %s\nOK\n", subsystem), false
	case line, ok := <-lines:
		if !ok {
			return "", true
		}
		if strings.TrimSpace(line) == "noidle" {
			return "OK\n", false
		}
		// only noidle is allowed while idling
		return ack(ackErrorArg, 0, "idle", "only noidle is allowed while idle"), true
	case <-s.done:
		return "", true
	}
}

// runCommandList executes a buffered list. Execution stops at the first
// failing command, whose ACK carries its position.
func (s *Server) runCommandList(list []string, listOk bool) string {
	var out strings.Builder
	for i, line := range list {
		response := s.handleCommand(i, line)
		if strings.HasPrefix(response, "ACK ") {
			out.WriteString(response)
			return out.String()
		}
		out.WriteString(strings.TrimSuffix(response, "OK\n"))
		if listOk {
			out.WriteString("list_OK\n")
		}
	}
	out.WriteString("OK\n")
	return out.String()
}

func splitCommand(line string) (string, []string) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return "", nil
	}
	return strings.ToLower(parts[0]), parts[1:]
}
