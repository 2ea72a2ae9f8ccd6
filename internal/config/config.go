package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/famish99/os2lbridge/internal/metadata"
	"github.com/famish99/os2lbridge/internal/offsets"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "OS2LBRIDGE_"

// Config represents the application configuration
type Config struct {
	Offsets  OffsetsConfig  `yaml:"offsets" envPrefix:"OFFSETS_"`
	Process  ProcessConfig  `yaml:"process" envPrefix:"PROCESS_"`
	Sampling SamplingConfig `yaml:"sampling" envPrefix:"SAMPLING_"`
	Metadata MetadataConfig `yaml:"metadata" envPrefix:"METADATA_"`

	// Known OS2L receivers
	Peers []Peer `yaml:"peers"`

	// Preferred receiver name
	PreferredPeer string `yaml:"preferred_peer,omitempty" env:"PREFERRED_PEER"`

	// Peer is an explicit host:port that skips discovery
	Peer string `yaml:"peer,omitempty" env:"PEER"`

	Outputs   OutputsConfig   `yaml:"outputs" envPrefix:"OUTPUTS_"`
	Control   ControlConfig   `yaml:"control" envPrefix:"CONTROL_"`
	Capture   CaptureConfig   `yaml:"capture" envPrefix:"CAPTURE_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"OTEL_"`
}

// OffsetsConfig locates the offsets file and picks a version from it
type OffsetsConfig struct {
	File    string `yaml:"file" env:"FILE"`
	URL     string `yaml:"url" env:"URL"`
	Version string `yaml:"version,omitempty" env:"VERSION"`
}

// ProcessConfig names the target process and the module chains start from
type ProcessConfig struct {
	Name   string `yaml:"name" env:"NAME"`
	Module string `yaml:"module" env:"MODULE"`
}

// SamplingConfig controls the polling loop
type SamplingConfig struct {
	PollRate        int     `yaml:"poll_rate" env:"POLL_RATE"`
	ResolveEachTick bool    `yaml:"resolve_each_tick" env:"RESOLVE_EACH_TICK"`
	Synthetic       bool    `yaml:"synthetic" env:"SYNTHETIC"`
	SyntheticTempo  float64 `yaml:"synthetic_tempo" env:"SYNTHETIC_TEMPO"`
}

// MetadataConfig points at the local track API
type MetadataConfig struct {
	BaseURL   string        `yaml:"base_url" env:"BASE_URL"`
	CacheSize int           `yaml:"cache_size" env:"CACHE_SIZE"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// Peer represents an OS2L receiver
type Peer struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Address returns host:port
func (p Peer) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// OutputsConfig enables the optional outputs next to OS2L
type OutputsConfig struct {
	MIDI   MIDIConfig   `yaml:"midi" envPrefix:"MIDI_"`
	Serial SerialConfig `yaml:"serial" envPrefix:"SERIAL_"`
}

// MIDIConfig configures the MIDI beat clock output
type MIDIConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Port    string `yaml:"port" env:"PORT"`
}

// SerialConfig configures the serial beat-pulse output
type SerialConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Port    string `yaml:"port" env:"PORT"`
	Baud    int    `yaml:"baud" env:"BAUD"`
}

// ControlConfig configures the line-protocol control server
type ControlConfig struct {
	Listen string `yaml:"listen,omitempty" env:"LISTEN"`
}

// CaptureConfig records or replays snapshot streams
type CaptureConfig struct {
	Record string `yaml:"record,omitempty" env:"RECORD"`
	Replay string `yaml:"replay,omitempty" env:"REPLAY"`
}

// LogConfig sets the log level
type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
}

// TelemetryConfig sets the OTLP endpoint; empty disables tracing
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint,omitempty" env:"ENDPOINT"`
}

// DefaultPath returns the config location under the user config directory
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "os2lbridge.yaml"
	}
	return filepath.Join(dir, "os2lbridge", "config.yaml")
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Offsets: OffsetsConfig{
			File: "offsets",
			URL:  offsets.DefaultURL,
		},
		Process: ProcessConfig{
			Name:   "rekordbox.exe",
			Module: "rekordbox.exe",
		},
		Sampling: SamplingConfig{
			PollRate:       60,
			SyntheticTempo: 130,
		},
		Metadata: MetadataConfig{
			BaseURL:   metadata.DefaultBaseURL,
			CacheSize: metadata.DefaultCacheSize,
			Timeout:   2 * time.Second,
		},
		Peers: []Peer{},
		Outputs: OutputsConfig{
			Serial: SerialConfig{Baud: 115200},
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadConfig loads configuration from file. Values missing from the file keep
// their defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		// If file doesn't exist, return default config
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides file values with OS2LBRIDGE_* environment variables
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks values the loop cannot run with
func (c *Config) Validate() error {
	if c.Sampling.PollRate <= 0 {
		return fmt.Errorf("sampling.poll_rate must be positive, got %d", c.Sampling.PollRate)
	}
	if c.Metadata.Timeout <= 0 {
		return fmt.Errorf("metadata.timeout must be positive, got %v", c.Metadata.Timeout)
	}
	if c.Capture.Record != "" && c.Capture.Replay != "" {
		return fmt.Errorf("capture.record and capture.replay are mutually exclusive")
	}
	if c.Outputs.Serial.Enabled && c.Outputs.Serial.Port == "" {
		return fmt.Errorf("outputs.serial.port is required when serial output is enabled")
	}
	return nil
}

// SaveConfig saves configuration to file
func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// AddPeer adds a peer, replacing any existing peer with the same name
func (c *Config) AddPeer(peer Peer) {
	if existing := c.GetPeer(peer.Name); existing != nil {
		*existing = peer
		return
	}
	c.Peers = append(c.Peers, peer)

	// If this is the first peer, make it preferred
	if len(c.Peers) == 1 {
		c.PreferredPeer = peer.Name
	}
}

// GetPreferredPeer returns the preferred peer, or nil if none set
func (c *Config) GetPreferredPeer() *Peer {
	if c.PreferredPeer != "" {
		return c.GetPeer(c.PreferredPeer)
	}

	// If no preferred set, return first peer if available
	if len(c.Peers) > 0 {
		return &c.Peers[0]
	}
	return nil
}

// GetPeer returns a peer by name
func (c *Config) GetPeer(name string) *Peer {
	for i := range c.Peers {
		if c.Peers[i].Name == name {
			return &c.Peers[i]
		}
	}
	return nil
}

// SetPreferredPeer sets the preferred peer by name
func (c *Config) SetPreferredPeer(name string) error {
	if c.GetPeer(name) == nil {
		return fmt.Errorf("peer not found: %s", name)
	}
	c.PreferredPeer = name
	return nil
}

// RemovePeer removes a peer by name
func (c *Config) RemovePeer(name string) error {
	for i := range c.Peers {
		if c.Peers[i].Name == name {
			c.Peers = append(c.Peers[:i], c.Peers[i+1:]...)

			// If we removed the preferred peer, clear it
			if c.PreferredPeer == name {
				c.PreferredPeer = ""
			}
			return nil
		}
	}
	return fmt.Errorf("peer not found: %s", name)
}
