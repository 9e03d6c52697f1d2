package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv("HTTP_ADDR", "")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTP.Addr)
	require.Equal(t, 2*time.Minute, cfg.Claims.TTL)
	require.Equal(t, "00:01", cfg.Billing.ResetDailyAt)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
http:
  addr: ":9000"
claims:
  ttl: 45s
billing:
  timezone: Europe/Berlin
notify:
  reorder_wait: 250ms
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("CLAIM_TTL", "90s")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.HTTP.Addr)
	require.Equal(t, 90*time.Second, cfg.Claims.TTL)
	require.Equal(t, 250*time.Millisecond, cfg.Notify.ReorderWait)
	require.Equal(t, "localhost:6379", cfg.Notify.Redis.Addr)
	require.Equal(t, "Europe/Berlin", cfg.Location().String())
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Billing.ResetDailyAt = "25:99"
	cfg.Claims.TTL = 0
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "reset_daily_at")
	require.Contains(t, err.Error(), "claims.ttl")
}
