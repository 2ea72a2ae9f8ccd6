package main

import (
	"path/filepath"
	"testing"

	"github.com/famish99/os2lbridge/internal/config"
)

func TestEditPeersKeepsOverridesOutOfTheFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	oldPath, oldSynthetic, oldDebug, oldMidi := *configPath, *synthetic, *debug, *midiPort
	t.Cleanup(func() {
		*configPath, *synthetic, *debug, *midiPort = oldPath, oldSynthetic, oldDebug, oldMidi
	})
	*configPath = path
	*synthetic = true
	*debug = true
	*midiPort = "Launchpad"
	t.Setenv("OS2LBRIDGE_SAMPLING_POLL_RATE", "30")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Sampling.Synthetic || cfg.Log.Level != "debug" {
		t.Fatalf("overrides should apply to the running config: %+v", cfg)
	}

	err = editPeers(path, func(c *config.Config) error {
		c.AddPeer(config.Peer{Name: "SoundSwitch (booth)", Host: "10.0.0.7", Port: 41234})
		return nil
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}

	saved, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if saved.Sampling.Synthetic {
		t.Fatal("synthetic flag was written to the config file")
	}
	if saved.Log.Level != "info" {
		t.Fatalf("log level %q was written to the config file", saved.Log.Level)
	}
	if saved.Sampling.PollRate != 60 {
		t.Fatalf("env poll rate was written to the config file: %d", saved.Sampling.PollRate)
	}
	if saved.Outputs.MIDI.Enabled {
		t.Fatal("midi flag was written to the config file")
	}
	if saved.PreferredPeer != "SoundSwitch (booth)" || len(saved.Peers) != 1 {
		t.Fatalf("peer not saved: %+v", saved.Peers)
	}
}

func TestEditPeersPreferAndForget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := config.DefaultConfig()
	cfg.AddPeer(config.Peer{Name: "a", Host: "h1", Port: 1})
	cfg.AddPeer(config.Peer{Name: "b", Host: "h2", Port: 2})
	if err := config.SaveConfig(path, cfg); err != nil {
		t.Fatal(err)
	}

	if err := editPeers(path, func(c *config.Config) error { return c.SetPreferredPeer("b") }); err != nil {
		t.Fatalf("prefer: %v", err)
	}
	if err := editPeers(path, func(c *config.Config) error { return c.RemovePeer("a") }); err != nil {
		t.Fatalf("forget: %v", err)
	}

	saved, err := config.LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if saved.PreferredPeer != "b" || len(saved.Peers) != 1 || saved.Peers[0].Name != "b" {
		t.Fatalf("unexpected peers %+v (preferred %q)", saved.Peers, saved.PreferredPeer)
	}

	if err := editPeers(path, func(c *config.Config) error { return c.SetPreferredPeer("zzz") }); err == nil {
		t.Fatal("expected error for unknown peer")
	}
}
