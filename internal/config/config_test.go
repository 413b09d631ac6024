package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: 9090
  shutdown_timeout: 3s
database:
  driver: MariaDB
  url: "crm:crm@tcp(localhost:3306)/crm"
auth:
  secrets: ["0123456789abcdef-current", "0123456789abcdef-previous"]
  token_sources: ["header:Authorization", "cookie:access_token"]
  access_ttl: 1h
notifications:
  telegram:
    bot_token: "tg-token"
    chat_id: -100500
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, time.Hour, cfg.Auth.AccessTTL)
	assert.Equal(t, 2*time.Minute, cfg.Auth.Leeway)
	assert.Equal(t, []string{"header:Authorization", "cookie:access_token"}, cfg.Auth.TokenSources)
	assert.Equal(t, int64(-100500), cfg.Notifications.Telegram.ChatID)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BROKERCRM_PORT", "7070")
	t.Setenv("BROKERCRM_DB_DRIVER", "postgres")
	t.Setenv("BROKERCRM_DB_URL", "postgres://crm@localhost/crm?sslmode=disable")
	t.Setenv("BROKERCRM_JWT_SECRETS", " rotated-secret-0001 , 0123456789abcdef-current ")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://crm@localhost/crm?sslmode=disable", cfg.Database.DSN)
	assert.Equal(t, []string{"rotated-secret-0001", "0123456789abcdef-current"}, cfg.Auth.Secrets)
}

func TestLoad_InvalidPortEnv(t *testing.T) {
	t.Setenv("BROKERCRM_PORT", "eighty")
	_, err := Load(writeConfig(t, sampleYAML))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BROKERCRM_PORT")
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		c := Config{}
		c.Database.Driver = "memory"
		c.Auth.Secrets = []string{"0123456789abcdef"}
		c.applyDefaults()
		return c
	}

	t.Run("ok", func(t *testing.T) {
		c := base()
		assert.NoError(t, c.Validate())
	})
	t.Run("no secrets", func(t *testing.T) {
		c := base()
		c.Auth.Secrets = nil
		assert.ErrorContains(t, c.Validate(), "secret")
	})
	t.Run("short secret", func(t *testing.T) {
		c := base()
		c.Auth.Secrets = []string{"short"}
		assert.ErrorContains(t, c.Validate(), "16 bytes")
	})
	t.Run("mysql without dsn", func(t *testing.T) {
		c := base()
		c.Database.Driver = "mysql"
		assert.ErrorContains(t, c.Validate(), "database.url")
	})
	t.Run("unknown driver", func(t *testing.T) {
		c := base()
		c.Database.Driver = "oracle"
		assert.Error(t, c.Validate())
	})
	t.Run("bad log format", func(t *testing.T) {
		c := base()
		c.Log.Format = "xml"
		assert.Error(t, c.Validate())
	})
}
