package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/famish99/os2lbridge/internal/config"
	"github.com/famish99/os2lbridge/internal/os2l"
	"github.com/famish99/os2lbridge/internal/timeouts"
)

// discoverPeers is swapped out in tests
var discoverPeers = os2l.DiscoverPeers

// DiscoverPeers browses for OS2L receivers
func DiscoverPeers(ctx context.Context) ([]os2l.Peer, error) {
	peers, err := discoverPeers(ctx, timeouts.DiscoveryBrowse)
	if err != nil {
		return nil, fmt.Errorf("failed to discover receivers: %w", err)
	}
	if len(peers) == 0 {
		return nil, fmt.Errorf("no OS2L receivers found")
	}
	return peers, nil
}

// DiscoverAndSelectPeer picks the receiver to connect to. An explicit
// address in the config wins; otherwise the network is browsed and the
// preferred peer, a SoundSwitch instance, or the first answer is used. When
// nothing answers, the saved preferred peer is tried.
func DiscoverAndSelectPeer(ctx context.Context, cfg *config.Config) (os2l.Peer, error) {
	if cfg.Peer != "" {
		host, portStr, err := net.SplitHostPort(cfg.Peer)
		if err != nil {
			return os2l.Peer{}, fmt.Errorf("invalid peer address %q: %w", cfg.Peer, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return os2l.Peer{}, fmt.Errorf("invalid peer port %q: %w", portStr, err)
		}
		slog.Info("using configured receiver", "addr", cfg.Peer)
		return os2l.Peer{Name: cfg.Peer, Host: host, Port: port}, nil
	}

	peers, err := DiscoverPeers(ctx)
	if err != nil {
		if saved := cfg.GetPreferredPeer(); saved != nil {
			slog.Warn("discovery failed, using saved receiver", "name", saved.Name, "error", err)
			return os2l.Peer{Name: saved.Name, Host: saved.Host, Port: saved.Port}, nil
		}
		return os2l.Peer{}, err
	}

	p, _ := os2l.SelectPeer(peers, cfg.PreferredPeer)
	slog.Info("discovered receiver", "name", p.Name, "addr", p.Address())
	return p, nil
}
