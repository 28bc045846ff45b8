package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/rendis/flowcanvas/internal/layout"
	"github.com/rendis/flowcanvas/internal/session"
)

// Config holds all flowcanvas server configuration.
// Priority: env vars > settings.toml > defaults.
type Config struct {
	ListenAddr    string        `toml:"listen_addr"`
	DBPath        string        `toml:"db_path"`
	LogLevel      string        `toml:"log_level"`
	AuditSchedule string        `toml:"audit_schedule"`
	Panel         bool          `toml:"panel"`
	Layout        LayoutConfig  `toml:"layout"`
	Session       SessionConfig `toml:"session"`
}

// LayoutConfig tunes the layered layout.
type LayoutConfig struct {
	ColumnPitch float64 `toml:"column_pitch"`
	RowPitch    float64 `toml:"row_pitch"`
}

// SessionConfig tunes drag gestures.
type SessionConfig struct {
	SnapDebounce string  `toml:"snap_debounce"` // Go duration, e.g. "100ms"
	SnapRadius   float64 `toml:"snap_radius"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:    ":4200",
		DBPath:        filepath.Join(flowcanvasDir(), "flowcanvas.db"),
		LogLevel:      "info",
		AuditSchedule: "@every 5m",
		Panel:         true,
		Layout: LayoutConfig{
			ColumnPitch: layout.DefaultConfig.ColumnPitch,
			RowPitch:    layout.DefaultConfig.RowPitch,
		},
		Session: SessionConfig{
			SnapDebounce: session.DefaultConfig.SnapDebounce.String(),
			SnapRadius:   session.DefaultConfig.SnapRadius,
		},
	}
}

func flowcanvasDir() string {
	if dir := os.Getenv("FLOWCANVAS_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowcanvas"
	}
	return filepath.Join(home, ".flowcanvas")
}

func settingsPath() string {
	return filepath.Join(flowcanvasDir(), "settings.toml")
}

func pidPath() string {
	return filepath.Join(flowcanvasDir(), "flowcanvas.pid")
}

func binDir() string {
	return filepath.Join(flowcanvasDir(), "bin")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// settings.toml is optional; a malformed file keeps the defaults.
	if _, err := toml.DecodeFile(settingsPath(), &cfg); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "%s ignoring %s: %v\n", Warn.Sprint("warning:"), settingsPath(), err)
		cfg = defaultConfig()
	}

	applyEnv(&cfg, os.Getenv)
	return cfg
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("FLOWCANVAS_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := getenv("FLOWCANVAS_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("FLOWCANVAS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("FLOWCANVAS_AUDIT_SCHEDULE"); v != "" {
		cfg.AuditSchedule = v
	}
	if v := getenv("FLOWCANVAS_PANEL"); v != "" {
		cfg.Panel = v == "true" || v == "1"
	}
	if v := getenv("FLOWCANVAS_LAYOUT_COLUMN_PITCH"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Layout.ColumnPitch = f
		}
	}
	if v := getenv("FLOWCANVAS_LAYOUT_ROW_PITCH"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Layout.RowPitch = f
		}
	}
	if v := getenv("FLOWCANVAS_SESSION_SNAP_DEBOUNCE"); v != "" {
		cfg.Session.SnapDebounce = v
	}
	if v := getenv("FLOWCANVAS_SESSION_SNAP_RADIUS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Session.SnapRadius = f
		}
	}
}

func (c Config) layoutConfig() layout.Config {
	return layout.Config{ColumnPitch: c.Layout.ColumnPitch, RowPitch: c.Layout.RowPitch}
}

// sessionConfig converts the settings; an unparsable debounce falls back to
// the default.
func (c Config) sessionConfig() session.Config {
	out := session.Config{SnapRadius: c.Session.SnapRadius}
	if d, err := time.ParseDuration(c.Session.SnapDebounce); err == nil {
		out.SnapDebounce = d
	}
	return out
}

func writeConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	PanelChanged    bool
	LogLevelChanged bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.Panel != new.Panel {
		d.PanelChanged = true
	}
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.ListenAddr != new.ListenAddr {
		d.RestartNeeded = append(d.RestartNeeded, "listen_addr")
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	if old.AuditSchedule != new.AuditSchedule {
		d.RestartNeeded = append(d.RestartNeeded, "audit_schedule")
	}
	if old.Layout != new.Layout {
		d.RestartNeeded = append(d.RestartNeeded, "layout")
	}
	if old.Session != new.Session {
		d.RestartNeeded = append(d.RestartNeeded, "session")
	}
	return d
}
