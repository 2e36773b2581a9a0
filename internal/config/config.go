// Package config loads the wifiprov YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "5s" or "500ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all application configuration.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Scan     ScanConfig     `yaml:"scan"`
	Connect  ConnectConfig  `yaml:"connect"`
	Protocol ProtocolConfig `yaml:"protocol"`
	UUIDs    UUIDConfig     `yaml:"uuids"`
}

// ScanConfig holds BLE discovery settings.
type ScanConfig struct {
	Window  Duration `yaml:"window"`
	ShowAll bool     `yaml:"show_all"` // report devices without the provisioning service too
}

// ConnectConfig holds connection establishment settings.
type ConnectConfig struct {
	Timeout          Duration `yaml:"timeout"`
	Hybrid           bool     `yaml:"hybrid"` // permit the bluetoothctl fallback by default
	SettleDelay      Duration `yaml:"settle_delay"`
	BluetoothctlPath string   `yaml:"bluetoothctl_path"`
}

// ProtocolConfig holds protocol engine settings.
type ProtocolConfig struct {
	ExchangeTimeout Duration `yaml:"exchange_timeout"`
	FragmentWindow  Duration `yaml:"fragment_window"`
	Retries         int      `yaml:"retries"`
	WriteChunkSize  int      `yaml:"write_chunk_size"`
	InterChunkDelay Duration `yaml:"inter_chunk_delay"`
	ScanWindow      Duration `yaml:"scan_window"` // WiFi scan result collection deadline
	LinkWait        Duration `yaml:"link_wait"`   // post-configure join report wait
}

// UUIDConfig overrides the provisioning service UUIDs for firmware
// builds that relocate the service. Empty fields keep the
// vendor-documented defaults.
type UUIDConfig struct {
	Service      string `yaml:"service"`
	ControlPoint string `yaml:"control_point"`
	DataOut      string `yaml:"data_out"`
	Info         string `yaml:"info"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "wifiprov")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Scan: ScanConfig{
			Window: Duration(10 * time.Second),
		},
		Connect: ConnectConfig{
			Timeout:     Duration(30 * time.Second),
			SettleDelay: Duration(2 * time.Second),
		},
		Protocol: ProtocolConfig{
			ExchangeTimeout: Duration(5 * time.Second),
			FragmentWindow:  Duration(500 * time.Millisecond),
			Retries:         2,
			WriteChunkSize:  244,
			InterChunkDelay: Duration(20 * time.Millisecond),
			ScanWindow:      Duration(15 * time.Second),
			LinkWait:        Duration(10 * time.Second),
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if c.Scan.Window <= 0 {
		return fmt.Errorf("scan.window must be > 0")
	}
	if c.Connect.Timeout <= 0 {
		return fmt.Errorf("connect.timeout must be > 0")
	}
	if c.Protocol.ExchangeTimeout <= 0 {
		return fmt.Errorf("protocol.exchange_timeout must be > 0")
	}
	if c.Protocol.FragmentWindow <= 0 {
		return fmt.Errorf("protocol.fragment_window must be > 0")
	}
	if c.Protocol.Retries < 0 {
		return fmt.Errorf("protocol.retries must be >= 0")
	}
	if c.Protocol.WriteChunkSize <= 0 {
		return fmt.Errorf("protocol.write_chunk_size must be > 0")
	}
	if c.Protocol.ScanWindow <= c.Protocol.ExchangeTimeout {
		return fmt.Errorf("protocol.scan_window must exceed protocol.exchange_timeout")
	}

	for name, u := range map[string]string{
		"uuids.service":       c.UUIDs.Service,
		"uuids.control_point": c.UUIDs.ControlPoint,
		"uuids.data_out":      c.UUIDs.DataOut,
		"uuids.info":          c.UUIDs.Info,
	} {
		if u != "" && !looksLikeUUID(u) {
			return fmt.Errorf("%s: %q is not a UUID", name, u)
		}
	}
	return nil
}

func looksLikeUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i, r := range s {
		switch i {
		case 8, 13, 18, 23:
			if r != '-' {
				return false
			}
		default:
			ok := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
			if !ok {
				return false
			}
		}
	}
	return true
}

// Normalized returns the UUID override lowercased, or def when unset.
func Normalized(override, def string) string {
	if override == "" {
		return def
	}
	return strings.ToLower(override)
}
