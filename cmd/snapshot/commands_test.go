package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/e7canasta/orion-care-sensor/modules/snapshot"
	"github.com/e7canasta/orion-care-sensor/modules/snapshot/internal/config"
)

func parsedCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "snapshot-test"}
	addConfigFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestWritePolicy(t *testing.T) {
	assert.Equal(t, snapshot.WriteFailureContinue, writePolicy("continue"))
	assert.Equal(t, snapshot.WriteFailureFatal, writePolicy("fatal"))
	assert.Equal(t, snapshot.WriteFailureFatal, writePolicy(""))
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(parsedCommand(t))
	require.NoError(t, err)

	def := config.Default()
	require.NoError(t, def.Validate())
	assert.Equal(t, def, cfg)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: warn
source:
  uri: udp://0.0.0.0:5000
capture:
  on_write_error: continue
`), 0o644))

	cfg, err := loadConfig(parsedCommand(t,
		"--config", path,
		"--log-level", "debug",
		"--http-addr", ":9090",
	))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level, "flag wins over file")
	assert.Equal(t, "udp://0.0.0.0:5000", cfg.Source.URI, "file wins over default")
	assert.Equal(t, "continue", cfg.Capture.OnWriteError)
	assert.True(t, cfg.HTTP.Enabled)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
}

func TestLoadConfig_InvalidFlag(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "non-udp uri", args: []string{"--uri", "rtsp://camera/stream"}},
		{name: "uri without port", args: []string{"--uri", "udp://localhost"}},
		{name: "unknown log level", args: []string{"--log-level", "verbose"}},
		{name: "unknown log format", args: []string{"--log-format", "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(parsedCommand(t, tt.args...))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(parsedCommand(t, "--config", filepath.Join(t.TempDir(), "absent.yaml")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestPrintConfig(t *testing.T) {
	cmd := parsedCommand(t, "--uri", "udp://localhost:40000")
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, printConfig(cmd, nil))

	var got config.Config
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "udp://localhost:40000", got.Source.URI)
	assert.Equal(t, config.Default().Display.Sink, got.Display.Sink)
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()
	assert.True(t, newLogger(config.LogConfig{Level: "debug"}).Enabled(ctx, slog.LevelDebug))
	assert.False(t, newLogger(config.LogConfig{Level: "error", Format: "json"}).Enabled(ctx, slog.LevelInfo))
	assert.True(t, newLogger(config.LogConfig{}).Enabled(ctx, slog.LevelInfo))
}
