package os2l

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/grandcat/zeroconf"
)

// DiscoverPeers browses the local network for OS2L receivers for up to
// timeout. Instances without an address are skipped.
func DiscoverPeers(ctx context.Context, timeout time.Duration) ([]Peer, error) {
	slog.Info("discovering os2l receivers", "service", ServiceType, "timeout", timeout)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("failed to browse %s: %w", ServiceType, err)
	}

	var peers []Peer
	seen := make(map[string]bool)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return peers, nil
			}
			p, ok := peerFromEntry(entry)
			if !ok || seen[p.Name] {
				continue
			}
			seen[p.Name] = true
			slog.Info("found os2l receiver", "name", p.Name, "addr", p.Address())
			peers = append(peers, p)
		case <-ctx.Done():
			return peers, nil
		}
	}
}

func peerFromEntry(e *zeroconf.ServiceEntry) (Peer, bool) {
	if e == nil {
		return Peer{}, false
	}
	var host string
	switch {
	case len(e.AddrIPv4) > 0:
		host = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		host = e.AddrIPv6[0].String()
	default:
		return Peer{}, false
	}
	return Peer{Name: e.Instance, Host: host, Port: e.Port}, true
}
