package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TARGETS_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Health.ProbeTimeout)
	assert.Equal(t, 52560*time.Hour, cfg.Audit.Retention)
	assert.Equal(t, []string{"admin", "compliance_officer"}, cfg.Audit.PrivilegedRoles)
	assert.Equal(t, []string{"claude", "openai", "gemini"}, cfg.Providers.Ranking)

	require.Len(t, cfg.Targets, 4)
	transcription := cfg.Targets[0]
	assert.Equal(t, "transcription", transcription.Name)
	assert.Equal(t, "/transcription", transcription.RoutePrefix)
	assert.Equal(t, "/health", transcription.HealthPath)
	assert.Equal(t, 50, transcription.Breaker.ErrorThresholdPercentage)
	assert.Equal(t, 10, transcription.Breaker.VolumeThreshold)
	assert.Equal(t, 30*time.Second, transcription.Breaker.ResetTimeout)
	assert.Empty(t, cfg.Targets[3].RoutePrefix, "local-ai is probe only")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HEALTH_PROBE_TIMEOUT", "2s")
	t.Setenv("PROVIDER_RANKING", "openai, gemini")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CB_VOLUME_THRESHOLD", "20")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Health.ProbeTimeout)
	assert.Equal(t, []string{"openai", "gemini"}, cfg.Providers.Ranking)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 20, cfg.Targets[0].Breaker.VolumeThreshold)
}

func TestLoad_InvalidValuesAreReported(t *testing.T) {
	t.Setenv("HEALTH_PROBE_TIMEOUT", "soon")
	t.Setenv("AUDIT_BUFFER_SIZE", "many")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HEALTH_PROBE_TIMEOUT")
	assert.Contains(t, err.Error(), "AUDIT_BUFFER_SIZE")
}

func TestLoad_TargetsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
targets:
  - name: transcription
    baseURL: http://transcriber:9000
    routePrefix: /transcription
    timeout: 12s
    requiredPermissions: [transcription:write]
    breaker:
      errorThresholdPercentage: 25
      resetTimeout: 5s
  - name: local-ai
    baseURL: http://ollama:11434
providers:
  ranking: [gemini]
  claude:
    model: claude-test
`), 0o600))
	t.Setenv("TARGETS_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Targets, 2)

	tr := cfg.Targets[0]
	assert.Equal(t, 12*time.Second, tr.Timeout)
	assert.Equal(t, 25, tr.Breaker.ErrorThresholdPercentage)
	assert.Equal(t, 5*time.Second, tr.Breaker.ResetTimeout)
	assert.Equal(t, 10*time.Second, tr.Breaker.RollingCountTimeout, "unset breaker fields inherit defaults")
	assert.Equal(t, []string{"gemini"}, cfg.Providers.Ranking)
	assert.Equal(t, "claude-test", cfg.Providers.Claude.Model)
	assert.Equal(t, 60*time.Second, cfg.Providers.Claude.Timeout)
}

func TestLoad_RejectsBadTargets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
targets:
  - name: reports
    baseURL: not-a-url
  - name: reports
    baseURL: http://reports:8000
    routePrefix: reports
`), 0o600))
	t.Setenv("TARGETS_FILE", path)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid base URL")
	assert.Contains(t, err.Error(), "duplicate name")
	assert.Contains(t, err.Error(), "route prefix")
}
