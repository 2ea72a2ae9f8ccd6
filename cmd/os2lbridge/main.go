package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/famish99/os2lbridge/internal/backends"
	"github.com/famish99/os2lbridge/internal/backends/midiclock"
	os2lout "github.com/famish99/os2lbridge/internal/backends/os2l"
	"github.com/famish99/os2lbridge/internal/backends/serialpulse"
	"github.com/famish99/os2lbridge/internal/bridge"
	"github.com/famish99/os2lbridge/internal/capture"
	"github.com/famish99/os2lbridge/internal/config"
	"github.com/famish99/os2lbridge/internal/console"
	"github.com/famish99/os2lbridge/internal/control"
	"github.com/famish99/os2lbridge/internal/keeper"
	"github.com/famish99/os2lbridge/internal/logging"
	"github.com/famish99/os2lbridge/internal/memory"
	"github.com/famish99/os2lbridge/internal/metadata"
	"github.com/famish99/os2lbridge/internal/offsets"
	"github.com/famish99/os2lbridge/internal/os2l"
	"github.com/famish99/os2lbridge/internal/sampler"
	"github.com/famish99/os2lbridge/internal/telemetry"
	"github.com/famish99/os2lbridge/internal/timeouts"
)

const appVersion = "0.4.0"

var (
	configPath    = flag.String("config", config.DefaultPath(), "Path to configuration file")
	targetVersion = flag.String("version", "", "Rekordbox version to target, eg. 6.7.3 (default: newest in the offsets file)")
	pollRate      = flag.Int("poll", 0, "Poll rate in Hz (default 60)")
	update        = flag.Bool("update", false, "Fetch latest offset list and exit")
	listVersions  = flag.Bool("list-versions", false, "List the versions in the offsets file and exit")
	listPeers     = flag.Bool("list-peers", false, "Discover OS2L receivers, save them to the config file and exit")
	preferPeer    = flag.String("prefer-peer", "", "Make a saved receiver the preferred one and exit")
	forgetPeer    = flag.String("forget-peer", "", "Remove a saved receiver from the config file and exit")
	listSerial    = flag.Bool("list-serial", false, "List serial ports and exit")
	peerAddr      = flag.String("peer", "", "OS2L receiver host:port (skips discovery)")
	synthetic     = flag.Bool("synthetic", false, "Run without Rekordbox at a fixed tempo")
	recordFile    = flag.String("record", "", "Record the snapshot stream to a file")
	replayFile    = flag.String("replay", "", "Replay a recorded snapshot stream instead of reading Rekordbox")
	controlAddr   = flag.String("control", "", "Listen address for the control server, eg. localhost:6601")
	midiPort      = flag.String("midi", "", "Send MIDI beat clock to this output port")
	serialPort    = flag.String("serial", "", "Send beat pulses to this serial port")
	debug         = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	cfg, err := loadConfig()
	logging.Init(cfg.Log.Level)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	shutdown, err := telemetry.Setup(context.Background(), "os2lbridge", cfg.Telemetry.Endpoint)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		shutdown(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *update:
		err = updateOffsets(ctx, cfg)
	case *listPeers:
		err = listAvailablePeers(ctx)
	case *preferPeer != "":
		err = editPeers(*configPath, func(c *config.Config) error { return c.SetPreferredPeer(*preferPeer) })
	case *forgetPeer != "":
		err = editPeers(*configPath, func(c *config.Config) error { return c.RemovePeer(*forgetPeer) })
	case *listSerial:
		err = printSerialPorts()
	case *listVersions:
		err = printVersions(ctx, cfg)
	default:
		err = run(ctx, cfg)
	}

	if err != nil {
		var fe *sampler.FieldError
		if errors.As(err, &fe) {
			slog.Error("failed to read from rekordbox", "field", fe.Field, "error", err)
		} else {
			slog.Error("exiting", "error", err)
		}
		stop()
		os.Exit(1)
	}
}

// loadConfig layers the config file, the environment and the flags. The
// returned config is usable for logging even when err is set.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return config.DefaultConfig(), err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}

	if *targetVersion != "" {
		cfg.Offsets.Version = *targetVersion
	}
	if *pollRate != 0 {
		cfg.Sampling.PollRate = *pollRate
	}
	if *peerAddr != "" {
		cfg.Peer = *peerAddr
	}
	if *synthetic {
		cfg.Sampling.Synthetic = true
	}
	if *recordFile != "" {
		cfg.Capture.Record = *recordFile
	}
	if *replayFile != "" {
		cfg.Capture.Replay = *replayFile
	}
	if *controlAddr != "" {
		cfg.Control.Listen = *controlAddr
	}
	if *midiPort != "" {
		cfg.Outputs.MIDI.Enabled = true
		cfg.Outputs.MIDI.Port = *midiPort
	}
	if *serialPort != "" {
		cfg.Outputs.Serial.Enabled = true
		cfg.Outputs.Serial.Port = *serialPort
	}
	if *debug {
		cfg.Log.Level = "debug"
	}

	return cfg, cfg.Validate()
}

func updateOffsets(ctx context.Context, cfg *config.Config) error {
	fmt.Println("Updating offsets...")
	ctx, cancel := context.WithTimeout(ctx, timeouts.OffsetsDownload)
	defer cancel()
	if err := offsets.Download(ctx, cfg.Offsets.URL, cfg.Offsets.File); err != nil {
		return err
	}
	fmt.Println("Done!")
	return nil
}

// loadOffsets reads the offsets file, fetching it first when it is missing
func loadOffsets(ctx context.Context, cfg *config.Config) (offsets.Tables, error) {
	if _, err := os.Stat(cfg.Offsets.File); errors.Is(err, os.ErrNotExist) {
		fmt.Println("Offsets not found, downloading from repo...")
		if err := updateOffsets(ctx, cfg); err != nil {
			return nil, err
		}
	}
	return offsets.LoadFile(cfg.Offsets.File)
}

func printVersions(ctx context.Context, cfg *config.Config) error {
	tables, err := loadOffsets(ctx, cfg)
	if err != nil {
		return err
	}
	versions := tables.Versions()
	if len(versions) > 0 {
		fmt.Printf("Current default version: %s\n", versions[0])
	}
	fmt.Printf("Available versions:\n%s\n", strings.Join(versions, ", "))
	return nil
}

func listAvailablePeers(ctx context.Context) error {
	peers, err := bridge.DiscoverPeers(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("\nFound %d OS2L receiver(s):\n\n", len(peers))
	for i, p := range peers {
		fmt.Printf("%d. %s\n", i+1, p.Name)
		fmt.Printf("   Address:     %s\n", p.Address())
		fmt.Printf("   SoundSwitch: %v\n", p.IsSoundSwitch())
		fmt.Println()
	}

	return editPeers(*configPath, func(c *config.Config) error {
		for _, p := range peers {
			c.AddPeer(config.Peer{Name: p.Name, Host: p.Host, Port: p.Port})
		}
		return nil
	})
}

// editPeers applies edit to the config file as stored on disk. Environment
// and flag overrides are not applied so they never end up in the file.
func editPeers(path string, edit func(*config.Config) error) error {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := edit(cfg); err != nil {
		return err
	}
	if err := config.SaveConfig(path, cfg); err != nil {
		return err
	}
	fmt.Printf("Saved to %s (preferred: %s)\n", path, cfg.PreferredPeer)
	return nil
}

func printSerialPorts() error {
	ports, err := serialpulse.Ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}
	fmt.Println("Available serial ports:")
	for i, p := range ports {
		fmt.Printf("%d. %s\n", i+1, p)
	}
	return nil
}

// source picks where snapshots come from and returns the bearer token for
// the metadata API along with a cleanup function
func source(ctx context.Context, cfg *config.Config) (keeper.Source, string, func(), error) {
	noop := func() {}

	if cfg.Sampling.Synthetic {
		slog.Info("running synthetic clock", "bpm", cfg.Sampling.SyntheticTempo)
		return keeper.Synthetic{Tempo: cfg.Sampling.SyntheticTempo}, "", noop, nil
	}

	tables, err := loadOffsets(ctx, cfg)
	if err != nil {
		return nil, "", noop, err
	}
	table, err := tables.Select(cfg.Offsets.Version)
	if err != nil {
		return nil, "", noop, err
	}

	if cfg.Capture.Replay != "" {
		rp, err := capture.Open(cfg.Capture.Replay)
		if err != nil {
			return nil, "", noop, err
		}
		if rp.Header.OffsetsVersion != table.Version {
			slog.Warn("capture was recorded with other offsets", "capture", rp.Header.OffsetsVersion, "selected", table.Version)
		}
		slog.Info("replaying capture", "path", cfg.Capture.Replay, "session", rp.Header.Session)
		return rp, "", func() { rp.Close() }, nil
	}

	fmt.Printf("Targeting Rekordbox version %s\n", table.Version)

	proc, err := memory.Attach(cfg.Process.Name, cfg.Process.Module)
	if err != nil {
		return nil, "", noop, err
	}
	reader, err := sampler.NewReader(proc, proc.Base, table, sampler.Options{
		ResolveEachTick: cfg.Sampling.ResolveEachTick,
	})
	if err != nil {
		proc.Close()
		return nil, "", noop, err
	}
	token, err := reader.Token()
	if err != nil {
		proc.Close()
		return nil, "", noop, err
	}
	slog.Debug("api bearer token", "token", token)

	if cfg.Capture.Record == "" {
		return keeper.Live{Sampler: reader}, token, func() { proc.Close() }, nil
	}

	rec, err := capture.Create(cfg.Capture.Record, reader, table.Version)
	if err != nil {
		proc.Close()
		return nil, "", noop, err
	}
	return keeper.Live{Sampler: rec}, token, func() {
		if err := rec.Close(); err != nil {
			slog.Warn("failed to close capture", "error", err)
		}
		proc.Close()
	}, nil
}

// outputs opens every configured output. OS2L is required unless another
// output is enabled.
func outputs(ctx context.Context, cfg *config.Config, onConnect func()) (backends.Set, error) {
	var set backends.Set
	others := cfg.Outputs.MIDI.Enabled || cfg.Outputs.Serial.Enabled

	if cfg.Outputs.MIDI.Enabled {
		b, err := midiclock.Open(cfg.Outputs.MIDI.Port)
		if err != nil {
			set.Close()
			return nil, err
		}
		set = append(set, b)
	}

	if cfg.Outputs.Serial.Enabled {
		b, err := serialpulse.Open(cfg.Outputs.Serial.Port, cfg.Outputs.Serial.Baud)
		if err != nil {
			set.Close()
			return nil, err
		}
		set = append(set, b)
	}

	peer, err := bridge.DiscoverAndSelectPeer(ctx, cfg)
	if err != nil {
		if others {
			slog.Warn("continuing without OS2L", "error", err)
			return set, nil
		}
		return nil, err
	}

	client := os2l.NewClient(peer.Address(),
		os2l.WithOnConnect(onConnect),
		os2l.WithClientLogger(slog.Default().With("peer", peer.Name)))
	if err := client.Connect(ctx); err != nil {
		client.Close()
		if others {
			slog.Warn("continuing without OS2L", "error", err)
			return set, nil
		}
		set.Close()
		return nil, err
	}
	return append(set, os2lout.New(client)), nil
}

func run(ctx context.Context, cfg *config.Config) error {
	src, token, cleanup, err := source(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	lookup, err := metadata.NewClient(cfg.Metadata.BaseURL, cfg.Metadata.CacheSize,
		metadata.WithTimeout(cfg.Metadata.Timeout))
	if err != nil {
		return err
	}
	k := keeper.New(src, lookup, keeper.WithToken(token))

	// The receiver forgets the loaded track across reconnects.
	var current atomic.Pointer[bridge.Bridge]
	onConnect := func() {
		if b := current.Load(); b != nil {
			b.Submit(bridge.Command{Kind: bridge.CmdResend})
		}
	}

	set, err := outputs(ctx, cfg, onConnect)
	if err != nil {
		return err
	}
	defer set.Close()

	status := console.NewStatusLine(os.Stdout)
	opts := []bridge.Option{}
	if status.Enabled() {
		opts = append(opts, bridge.WithStatusRenderer(status.Render))
	}
	br := bridge.New(k, set, cfg.Sampling.PollRate, opts...)
	current.Store(br)

	if cfg.Control.Listen != "" {
		srv := control.NewServer(cfg.Control.Listen, br, appVersion)
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Stop()
	}

	if restore := listenKeys(ctx, br); restore != nil {
		defer restore()
	}

	fmt.Println()
	fmt.Println(console.Help)
	fmt.Println()

	err = br.Run(ctx)
	status.Finish()
	return err
}

// listenKeys starts the key listener when stdin is a terminal and returns
// the function that restores the terminal mode
func listenKeys(ctx context.Context, br *bridge.Bridge) func() {
	fd := os.Stdin.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return nil
	}

	restore, err := console.MakeRaw(int(fd))
	if err != nil {
		slog.Warn("failed to switch terminal to raw mode", "error", err)
		restore = func() error { return nil }
	}

	go func() {
		if err := console.Listen(ctx, os.Stdin, br); err != nil && !errors.Is(err, io.EOF) {
			slog.Warn("key listener stopped", "error", err)
		}
	}()

	return func() { restore() }
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, " - Rekordbox OS2L v%s -\n", appVersion)
	fmt.Fprintf(out, "A tool for sending Rekordbox track name, time and bpm to SoundSwitch over OS2L\n\n")
	fmt.Fprintf(out, "Usage: %s [options]\n\nOptions:\n", os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(out, "\nUse r to resend master path/track to SoundSwitch.\n")
	fmt.Fprintf(out, "Use y to reset and resend master path/track to SoundSwitch (useful for changing to Autoloop override during a song).\n")
	fmt.Fprintf(out, "Use c to quit, +/- to shift the beat phase by 1ms and 0 to clear the shift.\n")
	fmt.Fprintf(out, "\nEnvironment variables prefixed with %s override the config file.\n", config.EnvPrefix)
}
