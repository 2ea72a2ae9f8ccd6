package control

import "github.com/famish99/os2lbridge/internal/bridge"

var subsystems = map[string]bool{
	bridge.SubsystemBeat:   true,
	bridge.SubsystemTrack:  true,
	bridge.SubsystemTempo:  true,
	bridge.SubsystemOffset: true,
}

// idleConnection represents a connection waiting in idle mode
type idleConnection struct {
	subsystems map[string]bool // empty watches everything
	notify     chan string
}

func (s *Server) registerIdle(idle *idleConnection) {
	s.idleMu.Lock()
	defer s.idleMu.Unlock()
	s.idleConns[idle] = true
	s.logger.Debug("registered idle connection", "total", len(s.idleConns))
}

func (s *Server) unregisterIdle(idle *idleConnection) {
	s.idleMu.Lock()
	defer s.idleMu.Unlock()
	delete(s.idleConns, idle)
	s.logger.Debug("unregistered idle connection", "total", len(s.idleConns))
}

func (s *Server) idleCount() int {
	s.idleMu.RLock()
	defer s.idleMu.RUnlock()
	return len(s.idleConns)
}

// NotifySubsystemChange wakes the idle connections watching subsystem. It
// never blocks, so it is safe to call from the polling loop.
func (s *Server) NotifySubsystemChange(subsystem string) {
	s.idleMu.RLock()
	defer s.idleMu.RUnlock()

	for idle := range s.idleConns {
		if len(idle.subsystems) == 0 || idle.subsystems[subsystem] {
			select {
			case idle.notify <- subsystem:
			default:
			}
		}
	}
}
