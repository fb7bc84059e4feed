package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/pointledger/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, 3, cfg.MaxRenewalAttempts)
	assert.Equal(t, 24*time.Hour, cfg.RetryInterval)
	assert.Equal(t, "@hourly", cfg.RenewalSchedule)
	assert.Equal(t, "@daily", cfg.ExpirySchedule)
	assert.Equal(t, "pointledger.events", cfg.RabbitMQExchange)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("POINTS_HTTP_ADDR", ":9090")
	t.Setenv("POINTS_RETRY_INTERVAL", "6h")
	t.Setenv("POINTS_MAX_RENEWAL_ATTEMPTS", "5")
	t.Setenv("POINTS_CORS_ORIGINS", "https://novels.example,https://admin.example")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 6*time.Hour, cfg.RetryInterval)
	assert.Equal(t, 5, cfg.MaxRenewalAttempts)
	assert.Equal(t, []string{"https://novels.example", "https://admin.example"}, cfg.CORSOrigins)
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("POINTS_DATABASE_URL=postgres://file/db\nPOINTS_SWEEP_BATCH=50\n"), 0o600))
	t.Setenv("POINTS_SWEEP_BATCH", "75")
	// godotenv sets variables process-wide; undo what the file adds.
	t.Cleanup(func() { os.Unsetenv("POINTS_DATABASE_URL") })

	cfg, err := config.Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "postgres://file/db", cfg.DatabaseURL)
	assert.Equal(t, 75, cfg.SweepBatch)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"POINTS_MAX_RENEWAL_ATTEMPTS", "0"},
		{"POINTS_SWEEP_BATCH", "0"},
		{"POINTS_DB_MAX_CONNS", "-1"},
		{"POINTS_RETRY_INTERVAL", "-1h"},
		{"POINTS_RETRY_INTERVAL", "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := config.Load("")
			assert.Error(t, err)
		})
	}
}
