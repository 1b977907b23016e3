// Package config loads the padmux JSON configuration. Every field is optional:
// a nil pointer means "use the default", which the Get* accessors supply.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/padmux/internal/driver/serialmidi"
	"github.com/banshee-data/padmux/internal/launchpad"
	"github.com/banshee-data/padmux/internal/session"
)

// Driver backends selectable with the driver field.
const (
	DriverSim      = "sim"
	DriverSerial   = "serial"
	DriverPortMidi = "portmidi"
)

// Defaults used when a field is absent.
const (
	DefaultListen       = ":3012"
	DefaultDriver       = DriverSim
	DefaultPingInterval = 30 * time.Second
	DefaultWriteWait    = 10 * time.Second
	DefaultOutboxSize   = 16
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root configuration.
type Config struct {
	// Device selection
	DevicePattern *string `json:"device_pattern,omitempty"`
	Driver        *string `json:"driver,omitempty"` // sim, serial or portmidi

	// Serial backend
	SerialPath    *string                 `json:"serial_path,omitempty"`
	SerialName    *string                 `json:"serial_name,omitempty"`
	SerialOptions *serialmidi.PortOptions `json:"serial_options,omitempty"`

	// Session server
	Listen       *string `json:"listen,omitempty"`
	PingInterval *string `json:"ping_interval,omitempty"` // duration string like "30s"
	WriteWait    *string `json:"write_wait,omitempty"`
	OutboxSize   *int    `json:"outbox_size,omitempty"`
}

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The file must have a .json extension
// and be under 1MB. Omitted fields keep their defaults, so partial files are
// fine.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.Driver != nil {
		switch *c.Driver {
		case DriverSim, DriverSerial, DriverPortMidi:
		default:
			return fmt.Errorf("driver must be one of %s, %s or %s, got %q",
				DriverSim, DriverSerial, DriverPortMidi, *c.Driver)
		}
	}
	if c.GetDriver() == DriverSerial && c.GetSerialPath() == "" {
		return fmt.Errorf("serial_path is required for the %s driver", DriverSerial)
	}
	if c.DevicePattern != nil && strings.TrimSpace(*c.DevicePattern) == "" {
		return fmt.Errorf("device_pattern must not be empty")
	}

	if c.SerialOptions != nil {
		if _, err := c.SerialOptions.Normalize(); err != nil {
			return fmt.Errorf("serial_options: %w", err)
		}
	}

	durations := []struct {
		name  string
		value *string
	}{
		{"ping_interval", c.PingInterval},
		{"write_wait", c.WriteWait},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		v, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", d.name, *d.value)
		}
		// A zero write deadline expires immediately and no frame could be sent.
		if v == 0 && d.name == "write_wait" {
			return fmt.Errorf("write_wait must be positive, got %s", *d.value)
		}
	}

	if c.OutboxSize != nil && *c.OutboxSize < 1 {
		return fmt.Errorf("outbox_size must be at least 1, got %d", *c.OutboxSize)
	}
	return nil
}

// GetDevicePattern returns the device_pattern value or the default.
func (c *Config) GetDevicePattern() string {
	if c.DevicePattern == nil {
		return launchpad.DefaultPattern
	}
	return *c.DevicePattern
}

// GetDriver returns the driver value or the default.
func (c *Config) GetDriver() string {
	if c.Driver == nil || *c.Driver == "" {
		return DefaultDriver
	}
	return *c.Driver
}

// GetSerialPath returns the serial_path value, empty when unset.
func (c *Config) GetSerialPath() string {
	if c.SerialPath == nil {
		return ""
	}
	return *c.SerialPath
}

// GetSerialName returns the serial_name value or the device pattern, so the
// serial port is found under the name the pairing looks for.
func (c *Config) GetSerialName() string {
	if c.SerialName == nil || *c.SerialName == "" {
		return c.GetDevicePattern()
	}
	return *c.SerialName
}

// GetSerialOptions returns the UART settings with defaults applied.
func (c *Config) GetSerialOptions() serialmidi.PortOptions {
	var opts serialmidi.PortOptions
	if c.SerialOptions != nil {
		opts = *c.SerialOptions
	}
	if n, err := opts.Normalize(); err == nil {
		return n
	}
	return opts
}

// GetListen returns the listen value or the default.
func (c *Config) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return DefaultListen
	}
	return *c.Listen
}

func parseDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetPingInterval parses and returns the PingInterval as a time.Duration.
func (c *Config) GetPingInterval() time.Duration {
	return parseDuration(c.PingInterval, DefaultPingInterval)
}

// GetWriteWait parses and returns the WriteWait as a time.Duration.
func (c *Config) GetWriteWait() time.Duration {
	return parseDuration(c.WriteWait, DefaultWriteWait)
}

// GetOutboxSize returns the outbox_size value or the default.
func (c *Config) GetOutboxSize() int {
	if c.OutboxSize == nil {
		return DefaultOutboxSize
	}
	return *c.OutboxSize
}

// SessionOptions gathers the session settings.
func (c *Config) SessionOptions() session.Options {
	return session.Options{
		PingInterval: c.GetPingInterval(),
		WriteWait:    c.GetWriteWait(),
		OutboxSize:   c.GetOutboxSize(),
	}
}

// SerialConfig gathers the serial backend settings.
func (c *Config) SerialConfig() serialmidi.Config {
	return serialmidi.Config{
		Path:    c.GetSerialPath(),
		Name:    c.GetSerialName(),
		Options: c.GetSerialOptions(),
	}
}
