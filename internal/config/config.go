// Package config loads the optional startup configuration file. All fields
// are pointers so a partial file only overrides what it names; everything
// else keeps its default.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/geosentinel-data/geosentinel/internal/geofence"
)

// Config is the startup configuration. The schema matches the /api/settings
// endpoint for the tracking fields, so the same JSON fragments work for both
// startup configuration and runtime updates.
type Config struct {
	// Daemon params
	ListenAddr *string `json:"listen_addr,omitempty"`
	DBPath     *string `json:"db_path,omitempty"`

	// Gateway params
	SerialPort *string `json:"serial_port,omitempty"`
	BaudRate   *int    `json:"baud_rate,omitempty"`

	// Tracking params
	DwellSeconds        *int    `json:"dwell_seconds,omitempty"`
	ExitDebounceSeconds *int    `json:"exit_debounce_seconds,omitempty"`
	QuietStart          *int    `json:"quiet_start,omitempty"`
	QuietEnd            *int    `json:"quiet_end,omitempty"`
	BatteryMode         *string `json:"battery_mode,omitempty"`
}

// Empty returns a Config with all fields nil.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The file must carry a .json extension
// and stay under the size cap. Omitted fields stay nil, so partial configs
// are safe.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
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

// Validate rejects values no component could act on. Range clamping for the
// tracking fields happens downstream; this only catches structural nonsense.
func (c *Config) Validate() error {
	if c.BaudRate != nil && *c.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *c.BaudRate)
	}
	if c.BatteryMode != nil {
		switch *c.BatteryMode {
		case "saver", "high-fidelity":
		default:
			return fmt.Errorf("battery_mode must be %q or %q, got %q", "saver", "high-fidelity", *c.BatteryMode)
		}
	}
	return nil
}

// GetListenAddr returns the configured listen address or the fallback.
func (c *Config) GetListenAddr(fallback string) string {
	if c.ListenAddr != nil {
		return *c.ListenAddr
	}
	return fallback
}

// GetDBPath returns the configured database path or the fallback.
func (c *Config) GetDBPath(fallback string) string {
	if c.DBPath != nil {
		return *c.DBPath
	}
	return fallback
}

// GetSerialPort returns the configured serial port or the fallback.
func (c *Config) GetSerialPort(fallback string) string {
	if c.SerialPort != nil {
		return *c.SerialPort
	}
	return fallback
}

// GetBaudRate returns the configured baud rate or the fallback.
func (c *Config) GetBaudRate(fallback int) int {
	if c.BaudRate != nil {
		return *c.BaudRate
	}
	return fallback
}

// ApplySettings overlays the tracking fields onto base and returns the
// result.
func (c *Config) ApplySettings(base geofence.Settings) geofence.Settings {
	if c.DwellSeconds != nil {
		base.DwellSeconds = *c.DwellSeconds
	}
	if c.ExitDebounceSeconds != nil {
		base.ExitDebounceSeconds = *c.ExitDebounceSeconds
	}
	if c.QuietStart != nil {
		base.QuietStart = *c.QuietStart
	}
	if c.QuietEnd != nil {
		base.QuietEnd = *c.QuietEnd
	}
	if c.BatteryMode != nil {
		base.BatteryMode = geofence.ParseBatteryMode(*c.BatteryMode)
	}
	return base
}
