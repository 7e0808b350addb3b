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
	t.Setenv("HALO_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Empty(t, cfg.Database.URL)
	assert.True(t, cfg.Security.RateLimit.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HALO_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("HALO_SERVER_PORT", "9090")
	t.Setenv("HALO_DATABASE_URL", "postgres://localhost/halo")
	t.Setenv("HALO_BILLING_WEBHOOK_SECRET", "whsec")
	t.Setenv("HALO_ADMIN_API_KEY", "admin-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/halo", cfg.Database.URL)
	assert.Equal(t, "whsec", cfg.Billing.WebhookSecret)
	assert.Equal(t, "admin-key", cfg.Admin.APIKey)
}

func TestLoad_FileMergedUnderEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  port: 7000
billing:
  webhook_secret: from-file
admin:
  api_key: file-key
`), 0o600))

	t.Setenv("HALO_CONFIG_FILE", file)
	t.Setenv("HALO_ADMIN_API_KEY", "env-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port, "file fills unset values")
	assert.Equal(t, "from-file", cfg.Billing.WebhookSecret)
	assert.Equal(t, "env-key", cfg.Admin.APIKey, "env wins over file")
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("HALO_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("HALO_SERVER_PORT", "-1")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_NormalizesLogFormat(t *testing.T) {
	cfg := Default()
	cfg.Logging.Format = "xml"
	require.NoError(t, cfg.validate())
	assert.Equal(t, "json", cfg.Logging.Format)
}
