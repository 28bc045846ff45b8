package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("FLOWCANVAS_HOME", "/tmp/fc")
	cfg := defaultConfig()
	assert.Equal(t, ":4200", cfg.ListenAddr)
	assert.Equal(t, filepath.Join("/tmp/fc", "flowcanvas.db"), cfg.DBPath)
	assert.Equal(t, "@every 5m", cfg.AuditSchedule)
	assert.Equal(t, 150.0, cfg.Layout.ColumnPitch)
	assert.Equal(t, 200.0, cfg.Layout.RowPitch)
	assert.Equal(t, 100*time.Millisecond, cfg.sessionConfig().SnapDebounce)
}

func TestLoadConfigLayers(t *testing.T) {
	home := t.TempDir()
	t.Setenv("FLOWCANVAS_HOME", home)
	require.NoError(t, os.WriteFile(filepath.Join(home, "settings.toml"), []byte(`
listen_addr = ":9000"
log_level = "debug"
panel = false

[layout]
column_pitch = 180.0

[session]
snap_debounce = "250ms"
`), 0o644))
	t.Setenv("FLOWCANVAS_LOG_LEVEL", "warn")
	t.Setenv("FLOWCANVAS_SESSION_SNAP_RADIUS", "45")

	cfg := loadConfig()
	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, "warn", cfg.LogLevel, "env beats settings")
	assert.False(t, cfg.Panel)
	assert.Equal(t, 180.0, cfg.layoutConfig().ColumnPitch)
	assert.Equal(t, 200.0, cfg.layoutConfig().RowPitch, "unset keys keep defaults")
	assert.Equal(t, 250*time.Millisecond, cfg.sessionConfig().SnapDebounce)
	assert.Equal(t, 45.0, cfg.sessionConfig().SnapRadius)
}

func TestLoadConfigMalformedFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("FLOWCANVAS_HOME", home)
	require.NoError(t, os.WriteFile(settingsPath(), []byte("listen_addr = "), 0o644))

	assert.Equal(t, defaultConfig(), loadConfig())
}

func TestApplyEnvIgnoresBadNumbers(t *testing.T) {
	cfg := defaultConfig()
	env := map[string]string{
		"FLOWCANVAS_LAYOUT_ROW_PITCH": "tall",
		"FLOWCANVAS_PANEL":            "0",
		"FLOWCANVAS_AUDIT_SCHEDULE":   "*/10 * * * *",
	}
	applyEnv(&cfg, func(k string) string { return env[k] })
	assert.Equal(t, 200.0, cfg.Layout.RowPitch)
	assert.False(t, cfg.Panel)
	assert.Equal(t, "*/10 * * * *", cfg.AuditSchedule)
}

func TestSessionConfigBadDebounce(t *testing.T) {
	cfg := defaultConfig()
	cfg.Session.SnapDebounce = "soon"
	assert.Zero(t, cfg.sessionConfig().SnapDebounce, "zero takes the session default")
}

func TestWriteConfigRoundTrip(t *testing.T) {
	home := t.TempDir()
	t.Setenv("FLOWCANVAS_HOME", home)
	cfg := defaultConfig()
	cfg.ListenAddr = ":7000"
	cfg.Session.SnapRadius = 12

	require.NoError(t, writeConfig(settingsPath(), cfg))
	assert.Equal(t, cfg, loadConfig())
}

func TestDiffConfigs(t *testing.T) {
	old := defaultConfig()
	next := old
	assert.Equal(t, configDiff{}, diffConfigs(old, next))

	next.Panel = !old.Panel
	next.LogLevel = "debug"
	next.ListenAddr = ":1"
	next.Layout.RowPitch = 10
	d := diffConfigs(old, next)
	assert.True(t, d.PanelChanged)
	assert.True(t, d.LogLevelChanged)
	assert.Equal(t, []string{"listen_addr", "layout"}, d.RestartNeeded)
}
