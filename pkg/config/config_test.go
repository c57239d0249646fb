package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8443", cfg.Server.Address)
	assert.True(t, cfg.Server.TLS)
	assert.Empty(t, cfg.Server.CORSOrigins)
	assert.Equal(t, "./onboard-data", cfg.DataDir)
	assert.Equal(t, "localhost", cfg.Device.Host)
	assert.Equal(t, 443, cfg.Device.Port)
	assert.True(t, cfg.Device.InsecureSkipVerify)
	assert.Equal(t, 60*time.Second, cfg.Device.Timeout)
	assert.Equal(t, 90, cfg.Timing.RebootPollAttempts)

	timing := cfg.HandlerTiming()
	assert.Equal(t, 10, timing.ProvisionPoll.MaxAttempts)
	assert.Equal(t, time.Second, timing.ProvisionPoll.Interval)
	assert.Equal(t, 2*time.Second, timing.DHCPPoll.Interval)
	assert.Equal(t, 10*time.Second, cfg.RebootPoll().Interval)

	hc := cfg.HealthConfig()
	assert.Equal(t, 30*time.Second, hc.Interval)
	assert.Equal(t, 10*time.Second, hc.Timeout)
	assert.Equal(t, 3, hc.Retries)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "onboard.yaml", `
server:
  address: ":9443"
  tls: false
  cors_origins: ["https://ui.example.com"]
data_dir: /var/lib/onboard
device:
  host: 10.0.0.1
  username: admin
  timeout: 30s
  health_interval: 0s
dns:
  servers: ["192.0.2.53:53"]
timing:
  reboot_poll_attempts: 5
`)
	t.Setenv("ONBOARD_DEVICE_USERNAME", "operator")
	t.Setenv("ONBOARD_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9443", cfg.Server.Address)
	assert.False(t, cfg.Server.TLS)
	assert.Equal(t, []string{"https://ui.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "10.0.0.1", cfg.Device.Host)
	assert.Equal(t, "operator", cfg.Device.Username)
	assert.Equal(t, 30*time.Second, cfg.Device.Timeout)
	assert.Zero(t, cfg.HealthConfig().Interval)
	assert.Equal(t, []string{"192.0.2.53:53"}, cfg.DNSConfig().Servers)
	assert.Equal(t, 5, cfg.RebootPoll().MaxAttempts)
	assert.Equal(t, "debug", string(cfg.LogConfig().Level))
	assert.Equal(t, filepath.Join("/var/lib/onboard", "secrets.key"), cfg.KeyPath())

	opts := cfg.DeviceOptions()
	assert.Equal(t, "10.0.0.1", opts.Host)
	assert.Equal(t, "operator", opts.Username)
}

func TestLoadDotEnvNextToConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "onboard.yaml", "device:\n  host: 10.0.0.1\n")
	writeFile(t, dir, ".env", "ONBOARD_DEVICE_PASSWORD=fromdotenv\n")
	t.Cleanup(func() { os.Unsetenv("ONBOARD_DEVICE_PASSWORD") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fromdotenv", cfg.Device.Password)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"missing explicit file", filepath.Join(dir, "nope.yaml"), "failed to read config"},
		{"bad port", writeFile(t, dir, "port.yaml", "device:\n  port: 70000\n"), "device.port 70000 is out of range"},
		{"zero attempts", writeFile(t, dir, "attempts.yaml", "timing:\n  dhcp_poll_attempts: 0\n"), "timing.dhcp_poll_attempts must be at least 1"},
		{"empty address", writeFile(t, dir, "addr.yaml", "server:\n  address: \"\"\n"), "server.address is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
