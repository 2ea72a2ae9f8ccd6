package os2l

import (
	"net"
	"strconv"
	"strings"
)

// ServiceType is the DNS-SD service OS2L receivers announce
const ServiceType = "_os2l._tcp"

// Peer is an OS2L receiver found on the network or configured by hand
type Peer struct {
	Name string
	Host string
	Port int
}

// Address returns host:port
func (p Peer) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// IsSoundSwitch reports whether the announced instance is SoundSwitch
func (p Peer) IsSoundSwitch() bool {
	return strings.HasPrefix(p.Name, "SoundSwitch")
}

// SelectPeer picks the preferred peer by name, else the first SoundSwitch
// instance, else the first peer. ok is false when peers is empty.
func SelectPeer(peers []Peer, preferred string) (Peer, bool) {
	if len(peers) == 0 {
		return Peer{}, false
	}
	if preferred != "" {
		for _, p := range peers {
			if p.Name == preferred {
				return p, true
			}
		}
	}
	for _, p := range peers {
		if p.IsSoundSwitch() {
			return p, true
		}
	}
	return peers[0], true
}
