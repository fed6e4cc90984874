// Package config handles hciproto configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// searchPathsFunc is overridden in tests to avoid matching real config
// files on developer/deploy machines.
var searchPathsFunc = DefaultSearchPaths

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/hciproto/config.yaml, /config/config.yaml,
// /etc/hciproto/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "hciproto", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/hciproto/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches searchPathsFunc() and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range searchPathsFunc() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPathsFunc())
}

// Config holds all hciproto configuration.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Transport TransportConfig `yaml:"transport"`
	MQTTTap   MQTTTapConfig   `yaml:"mqtt_tap"`
	DebugWS   DebugWSConfig   `yaml:"debug_ws"`
	AttDB     AttDBConfig     `yaml:"attdb"`
	AddrBook  AddrBookConfig  `yaml:"addrbook"`
	GattWalk  GattWalkConfig  `yaml:"gattwalk"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
}

// EngineConfig bounds the Production Engine's rule-set capacity and
// the Dispatcher's protocol/action debug-name length.
type EngineConfig struct {
	// RuleCapacity is the fixed capacity of each of the normal,
	// exclusive, and global rule sets. 0 means engine.DefaultRuleCapacity.
	RuleCapacity int `yaml:"rule_capacity"`
	// MaxNameLength bounds protocol and action debug names. 0 means
	// engine.MaxNameLength.
	MaxNameLength int `yaml:"max_name_length"`
}

// TransportConfig selects and configures the opaque event source the
// Dispatcher's host loop reads packets from.
type TransportConfig struct {
	// Kind is "hci" (a local controller device) or "mqtt" (an
	// mqtt_tap bridge). Defaults to "hci".
	Kind string `yaml:"kind"`
	// Device is the HCI controller device path, used when Kind == "hci".
	Device string `yaml:"device"`
}

// MQTTTapConfig defines the optional MQTT-bridged opaque event
// transport (internal/transport/mqtttap), for hosts that receive HCI
// event frames relayed from a remote controller over MQTT instead of
// a local device.
type MQTTTapConfig struct {
	Enabled            bool   `yaml:"enabled"`
	BrokerURL          string `yaml:"broker_url"` // e.g. mqtts://broker:8883
	ClientID           string `yaml:"client_id"`
	Topic              string `yaml:"topic"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

// DebugWSConfig defines the optional websocket server that streams
// protocol trace events for live inspection (internal/debugws).
type DebugWSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// AttDBConfig defines the sqlite-backed attribute/service table
// (internal/attdb) that example protocols populate as they walk a
// peer's GATT-like attribute layout.
type AttDBConfig struct {
	Path string `yaml:"path"`
}

// AddrBookConfig bounds the fixed-capacity peer address book
// (internal/addrbook).
type AddrBookConfig struct {
	Capacity int    `yaml:"capacity"`
	Path     string `yaml:"path"`
}

// GattWalkConfig optionally enables the ready-made gattwalk example
// protocol (examples/gattwalk) as a recurring scheduled task: on each
// firing it connects to PeerAddr, reads Handles one at a time into
// internal/attdb, then disconnects.
type GattWalkConfig struct {
	Enabled  bool     `yaml:"enabled"`
	PeerAddr string   `yaml:"peer_addr"`
	Handles  []uint16 `yaml:"handles"`
}

// Configured reports whether the MQTT tap has both a broker URL and a
// topic. A partial configuration is treated as unconfigured.
func (c MQTTTapConfig) Configured() bool {
	return c.BrokerURL != "" && c.Topic != ""
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${HOME}, ${MQTT_BROKER_URL}).
	// This is a convenience for container deployments; the recommended
	// approach is to put values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Engine.RuleCapacity == 0 {
		c.Engine.RuleCapacity = 20
	}
	if c.Engine.MaxNameLength == 0 {
		c.Engine.MaxNameLength = 40
	}
	if c.Transport.Kind == "" {
		c.Transport.Kind = "hci"
	}
	if c.Transport.Device == "" {
		c.Transport.Device = "/dev/hci0"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.AttDB.Path == "" {
		c.AttDB.Path = filepath.Join(c.DataDir, "attdb.sqlite3")
	}
	if c.AddrBook.Capacity == 0 {
		c.AddrBook.Capacity = 64
	}
	if c.AddrBook.Path == "" {
		c.AddrBook.Path = filepath.Join(c.DataDir, "addrbook.yaml")
	}
	if c.DebugWS.Port == 0 {
		c.DebugWS.Port = 8787
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Engine.RuleCapacity < 1 {
		return fmt.Errorf("engine.rule_capacity %d must be at least 1", c.Engine.RuleCapacity)
	}
	if c.Transport.Kind != "hci" && c.Transport.Kind != "mqtt" {
		return fmt.Errorf("transport.kind %q must be \"hci\" or \"mqtt\"", c.Transport.Kind)
	}
	if c.MQTTTap.Enabled {
		if c.MQTTTap.BrokerURL == "" {
			return fmt.Errorf("mqtt_tap.broker_url must be set when mqtt_tap.enabled is true")
		}
		if c.MQTTTap.Topic == "" {
			return fmt.Errorf("mqtt_tap.topic must be set when mqtt_tap.enabled is true")
		}
		if c.MQTTTap.RateLimitPerMinute < 0 {
			return fmt.Errorf("mqtt_tap.rate_limit_per_minute must not be negative")
		}
	}
	if c.DebugWS.Enabled && (c.DebugWS.Port < 1 || c.DebugWS.Port > 65535) {
		return fmt.Errorf("debug_ws.port %d out of range (1-65535)", c.DebugWS.Port)
	}
	if c.GattWalk.Enabled {
		if c.GattWalk.PeerAddr == "" {
			return fmt.Errorf("gattwalk.peer_addr must be set when gattwalk.enabled is true")
		}
		if len(c.GattWalk.Handles) == 0 {
			return fmt.Errorf("gattwalk.handles must list at least one attribute handle when gattwalk.enabled is true")
		}
	}
	if c.AddrBook.Capacity < 1 {
		return fmt.Errorf("addrbook.capacity %d must be at least 1", c.AddrBook.Capacity)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for local
// development against a local HCI controller. All defaults are
// already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
