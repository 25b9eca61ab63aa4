package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0needt0/goodies/udp-bridge/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("IOTEDGE_DEVICEID", "edge-01")
	t.Setenv("IOTEDGE_MODULEID", "udpbridge")

	path := writeConfig(t, "app:\n  name: test-bridge\n")

	var cfg Config
	require.NoError(t, LoadConfig(nil, path, "BRIDGETEST_", &cfg))

	assert.Equal(t, "test-bridge", cfg.App.Name)
	assert.Equal(t, "edge-01", cfg.Device.DeviceID)
	assert.Equal(t, "udpbridge", cfg.Device.ModuleID)
	assert.Equal(t, "0.0.0.0", cfg.UDP.Host)
	assert.Equal(t, DefaultListeningPort, cfg.UDP.Port)
	assert.Equal(t, 2*time.Second, cfg.GetPollInterval())
	assert.Equal(t, 1000, cfg.UDP.QueueSize)
	assert.Equal(t, "nats", cfg.Bus.Driver)
	assert.Equal(t, "udp.bridge.events", cfg.Bus.PrimarySubject)
	assert.Equal(t, "udp.bridge.diagnostics", cfg.Bus.DiagnosticSubject)
	assert.Equal(t, "desired", cfg.Bus.Twin.DesiredKey)

	sev, err := cfg.MinimumSeverity()
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityWarning, sev)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	t.Setenv("BRIDGETEST_UDP_PORT", "12000")
	t.Setenv("BRIDGETEST_LOGGING_LEVEL", "debug")

	path := writeConfig(t, "udp:\n  port: 11500\nlogging:\n  level: info\n")

	var cfg Config
	require.NoError(t, LoadConfig(nil, path, "BRIDGETEST_", &cfg))

	assert.Equal(t, 12000, cfg.UDP.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfigEnvOverridesSnakeCaseKeys(t *testing.T) {
	t.Setenv("BRIDGETEST_UDP_POLL_INTERVAL_MS", "500")
	t.Setenv("BRIDGETEST_DIAGNOSTICS_MINIMUM_SEVERITY", "error")
	t.Setenv("BRIDGETEST_BUS_TWIN_DESIRED_KEY", "desired-edge")
	t.Setenv("BRIDGETEST_BUS_TWIN_ENABLED", "false")

	path := writeConfig(t, "udp:\n  poll_interval_ms: 2000\nbus:\n  twin:\n    enabled: true\n")

	var cfg Config
	require.NoError(t, LoadConfig(nil, path, "BRIDGETEST_", &cfg))

	assert.Equal(t, 500, cfg.UDP.PollIntervalMs)
	assert.Equal(t, "error", cfg.Diagnostics.MinimumSeverity)
	assert.Equal(t, "desired-edge", cfg.Bus.Twin.DesiredKey)
	assert.False(t, cfg.Bus.Twin.Enabled)
}

func TestEnvKeys(t *testing.T) {
	keys := envKeys()
	assert.Equal(t, "udp.poll_interval_ms", keys["udp_poll_interval_ms"])
	assert.Equal(t, "bus.twin.reported_key", keys["bus_twin_reported_key"])
	assert.Equal(t, "dev", keys["dev"])
	assert.NotContains(t, keys, "udp")
}

func TestLoadConfigFlagsOverrideEverything(t *testing.T) {
	t.Setenv("BRIDGETEST_UDP_PORT", "12000")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().Int("udp.port", 0, "")
	require.NoError(t, cmd.Flags().Set("udp.port", "13000"))

	path := writeConfig(t, "udp:\n  port: 11500\n")

	var cfg Config
	require.NoError(t, LoadConfig(cmd, path, "BRIDGETEST_", &cfg))
	assert.Equal(t, 13000, cfg.UDP.Port)
}

func TestLoadConfigMissingFile(t *testing.T) {
	var cfg Config
	err := LoadConfig(nil, filepath.Join(t.TempDir(), "nope.yaml"), "BRIDGETEST_", &cfg)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port too large", func(c *Config) { c.UDP.Port = 70000 }},
		{"negative port", func(c *Config) { c.UDP.Port = -5 }},
		{"bad severity", func(c *Config) { c.Diagnostics.MinimumSeverity = "loud" }},
		{"bad driver", func(c *Config) { c.Bus.Driver = "carrier-pigeon" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.SetDefaults()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	var cfg Config
	cfg.SetDefaults()
	assert.NoError(t, cfg.Validate())
}
