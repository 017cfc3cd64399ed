package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesOnlyGivenKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scheduler:
  max_frequency_hz: 60
  adaptive_throttling: false
transport:
  kind: quic
  url: quic.example.com:4433
log:
  level: debug
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 60.0, c.Scheduler.MaxFrequencyHz)
	assert.False(t, c.Scheduler.AdaptiveThrottling)
	assert.Equal(t, 50, c.Scheduler.BatchSize)
	assert.Equal(t, 1000, c.Scheduler.QueueCapacity)
	assert.Equal(t, "quic", c.Transport.Kind)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "/metrics", c.Metrics.Path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("scheduler: [1, 2"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	c := Default()
	c.Scheduler.BatchSize = 0
	c.Scheduler.RecoveryFactor = 1.2
	c.Transport.Kind = "carrier-pigeon"
	c.Log.Level = "verbose"

	err := c.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	for _, want := range []string{"batch_size", "recovery_factor", "transport.kind", "log.level"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateRejectsNegativeTransportTimings(t *testing.T) {
	c := Default()
	c.Transport.ReconnectMinMs = -1
	c.Transport.HandshakeTimeout = -500

	err := c.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "transport.reconnect_min_ms")
	assert.Contains(t, err.Error(), "transport.handshake_timeout_ms")

	c.Transport.ReconnectMinMs = 0
	c.Transport.HandshakeTimeout = 0
	assert.NoError(t, c.Validate())
}

func TestDashboardMapping(t *testing.T) {
	c := Default()
	c.Scheduler.RenderBudgetMs = 33
	d := Dashboard[float64](c)

	assert.Equal(t, 30.0, d.Scheduler.MaxFrequencyHz)
	assert.True(t, d.Scheduler.AdaptiveThrottling)
	assert.Equal(t, 33*time.Millisecond, d.Scheduler.RenderBudget)
	assert.Equal(t, 33*time.Millisecond, d.Performance.RenderBudget)
	assert.Equal(t, time.Second, d.Scheduler.MaxDelay)
	assert.Equal(t, 250*time.Millisecond, d.Notifications.Window)
	assert.Equal(t, 10*time.Second, d.StaleAfter)
	assert.Equal(t, 50, d.History)

	c.Scheduler.QueueCapacity = 0
	assert.Equal(t, -1, Dashboard[float64](c).Scheduler.QueueCapacity)
}
