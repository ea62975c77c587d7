package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("NATS_URL", "")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, 5*time.Minute, cfg.ExpiryDuration)
	require.Equal(t, 32, cfg.MaxCodeLength)
	require.Equal(t, "DEVICE_STATUS", cfg.NATS.Stream)
	require.Equal(t, "home.devices.*.state", cfg.NATS.Subject)
	require.Equal(t, 300*time.Second, cfg.IngestMaxSkew)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("EXPIRY_DURATION", "90s")
	t.Setenv("RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("LOG_DEVELOPMENT", "true")
	t.Setenv("MAX_CODE_LENGTH", "not-a-number")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, cfg.ExpiryDuration)
	require.Equal(t, 7, cfg.Retry.MaxAttempts)
	require.True(t, cfg.Log.Development)
	require.Equal(t, 32, cfg.MaxCodeLength)
}

func TestLoad_YAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":9090"
expiry_duration: 2m
nats:
  url: nats://localhost:4222
  consumer: custom
retry:
  max_attempts: 4
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("EXPIRY_DURATION", "10m")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddr)
	require.Equal(t, 2*time.Minute, cfg.ExpiryDuration)
	require.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	require.Equal(t, "custom", cfg.NATS.Consumer)
	require.Equal(t, "DEVICE_STATUS", cfg.NATS.Stream)
	require.Equal(t, 4, cfg.Retry.MaxAttempts)
}

func TestValidate_JoinsErrors(t *testing.T) {
	cfg := Config{NATS: NATS{URL: "nats://x"}, Retry: Retry{InitialInterval: time.Second}}
	err := cfg.Validate()
	require.Error(t, err)
	for _, fragment := range []string{"http_addr", "expiry_duration", "step_timeout", "max_attempts", "intervals", "max_code_length", "nats stream", "nats consumer", "nats subject", "max_deliver"} {
		require.ErrorContains(t, err, fragment)
	}
}
