package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/geosentinel-data/geosentinel/internal/geofence"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPartialConfig(t *testing.T) {
	path := writeConfig(t, "partial.json", `{"dwell_seconds": 45, "battery_mode": "saver"}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	settings := cfg.ApplySettings(geofence.DefaultSettings())
	if settings.DwellSeconds != 45 {
		t.Errorf("dwell = %d, want 45", settings.DwellSeconds)
	}
	if settings.BatteryMode != geofence.Saver {
		t.Errorf("battery mode = %v, want saver", settings.BatteryMode)
	}
	// Untouched fields keep defaults.
	if settings.ExitDebounceSeconds != 30 {
		t.Errorf("exit debounce = %d, want default 30", settings.ExitDebounceSeconds)
	}
	if settings.QuietStart != 22 || settings.QuietEnd != 7 {
		t.Errorf("quiet window = %d->%d, want default 22->7", settings.QuietStart, settings.QuietEnd)
	}
}

func TestLoadDaemonParams(t *testing.T) {
	path := writeConfig(t, "daemon.json", `{"listen_addr": ":9090", "db_path": "/tmp/x.db", "serial_port": "/dev/ttyUSB1", "baud_rate": 4800}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.GetListenAddr(":8080"); got != ":9090" {
		t.Errorf("listen addr = %q", got)
	}
	if got := cfg.GetDBPath("default.db"); got != "/tmp/x.db" {
		t.Errorf("db path = %q", got)
	}
	if got := cfg.GetSerialPort(""); got != "/dev/ttyUSB1" {
		t.Errorf("serial port = %q", got)
	}
	if got := cfg.GetBaudRate(9600); got != 4800 {
		t.Errorf("baud rate = %d", got)
	}
}

func TestFallbacksWhenEmpty(t *testing.T) {
	cfg := Empty()
	if got := cfg.GetListenAddr(":8080"); got != ":8080" {
		t.Errorf("listen addr fallback = %q", got)
	}
	if got := cfg.GetBaudRate(9600); got != 9600 {
		t.Errorf("baud rate fallback = %d", got)
	}
	settings := cfg.ApplySettings(geofence.DefaultSettings())
	if settings != geofence.DefaultSettings() {
		t.Errorf("empty config changed settings: %+v", settings)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	if _, err := Load(writeConfig(t, "bad.txt", `{}`)); err == nil {
		t.Error("non-json extension accepted")
	}
	if _, err := Load(writeConfig(t, "bad.json", `{not json`)); err == nil {
		t.Error("malformed JSON accepted")
	}
	if _, err := Load(writeConfig(t, "baud.json", `{"baud_rate": -1}`)); err == nil {
		t.Error("negative baud rate accepted")
	}
	if _, err := Load(writeConfig(t, "mode.json", `{"battery_mode": "turbo"}`)); err == nil {
		t.Error("unknown battery mode accepted")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file accepted")
	}
}
